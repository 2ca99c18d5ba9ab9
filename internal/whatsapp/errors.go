package whatsapp

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable classification carried by every
// error this package raises to the API boundary.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindNotConnected    ErrorKind = "not_connected"
	KindAdapterStartup  ErrorKind = "adapter_startup"
	KindAdapterSend     ErrorKind = "adapter_send"
	KindMediaFetch      ErrorKind = "media_fetch"
	KindPayloadTooLarge ErrorKind = "payload_too_large"
)

// ValidationError indicates malformed caller input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotConnectedError indicates the user has no ready session.
type NotConnectedError struct {
	UserID string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("whatsapp not connected for user %s", e.UserID)
}

// AdapterStartupError indicates the protocol client could not be constructed.
type AdapterStartupError struct {
	UserID string
	Err    error
}

func (e *AdapterStartupError) Error() string {
	return fmt.Sprintf("failed to start whatsapp client for user %s: %v", e.UserID, e.Err)
}

func (e *AdapterStartupError) Unwrap() error { return e.Err }

// AdapterSendError indicates the protocol client rejected or failed a send.
type AdapterSendError struct {
	UserID string
	Err    error
}

func (e *AdapterSendError) Error() string {
	return fmt.Sprintf("whatsapp send failed for user %s: %v", e.UserID, e.Err)
}

func (e *AdapterSendError) Unwrap() error { return e.Err }

// MediaFetchError indicates a remote media resource could not be retrieved.
type MediaFetchError struct {
	URL    string
	Status string
	Err    error
}

func (e *MediaFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to download media from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("failed to download media from %s: %s", e.URL, e.Status)
}

func (e *MediaFetchError) Unwrap() error { return e.Err }

// PayloadTooLargeError indicates a media payload exceeds the configured cap.
type PayloadTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("media payload of %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
}

// KindOf classifies err into the taxonomy above, or "" when the error does
// not originate from this package.
func KindOf(err error) ErrorKind {
	var (
		validation *ValidationError
		notConn    *NotConnectedError
		startup    *AdapterStartupError
		send       *AdapterSendError
		fetch      *MediaFetchError
		tooLarge   *PayloadTooLargeError
	)
	switch {
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &notConn):
		return KindNotConnected
	case errors.As(err, &startup):
		return KindAdapterStartup
	case errors.As(err, &send):
		return KindAdapterSend
	case errors.As(err, &fetch):
		return KindMediaFetch
	case errors.As(err, &tooLarge):
		return KindPayloadTooLarge
	}
	return ""
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotConnected reports whether err is (or wraps) a NotConnectedError.
func IsNotConnected(err error) bool {
	var target *NotConnectedError
	return errors.As(err, &target)
}

// IsPayloadTooLarge reports whether err is (or wraps) a PayloadTooLargeError.
func IsPayloadTooLarge(err error) bool {
	var target *PayloadTooLargeError
	return errors.As(err, &target)
}
