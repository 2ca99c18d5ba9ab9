package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// SendResult is returned by every successful outbound send.
type SendResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// networkSuffix is the addressing-scheme suffix for individual chats.
const networkSuffix = "@c.us"

// SendText delivers a text message to the destination phone number.
func (m *Manager) SendText(ctx context.Context, userID, destination, body string) (SendResult, error) {
	address, err := normalizeDestination(destination)
	if err != nil {
		return SendResult{}, err
	}
	if strings.TrimSpace(body) == "" {
		return SendResult{}, &ValidationError{Field: "message", Reason: "must not be empty"}
	}

	return m.deliver(ctx, userID, address, Content{Text: body})
}

// SendMedia delivers a media payload with an optional caption. Payloads
// larger than the configured cap are rejected before any adapter call.
func (m *Manager) SendMedia(ctx context.Context, userID, destination string, data []byte, filename, caption string) (SendResult, error) {
	address, err := normalizeDestination(destination)
	if err != nil {
		return SendResult{}, err
	}
	if len(data) == 0 {
		return SendResult{}, &ValidationError{Field: "file", Reason: "must not be empty"}
	}
	if int64(len(data)) > m.maxMediaBytes {
		return SendResult{}, &PayloadTooLargeError{Size: int64(len(data)), Limit: m.maxMediaBytes}
	}
	if filename == "" {
		filename = "file"
	}

	media := &Media{
		MimeType: mimeTypeForFilename(filename),
		Filename: filename,
		Data:     data,
		Caption:  strings.TrimSpace(caption),
	}
	return m.deliver(ctx, userID, address, Content{Media: media})
}

// SendMediaFromURL downloads the resource at sourceURL and delivers it as
// media. The MIME type is taken from the response's Content-Type header and
// the filename from the URL path's last segment.
func (m *Manager) SendMediaFromURL(ctx context.Context, userID, destination, sourceURL, caption string) (SendResult, error) {
	address, err := normalizeDestination(destination)
	if err != nil {
		return SendResult{}, err
	}
	parsed, err := url.Parse(sourceURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return SendResult{}, &ValidationError{Field: "mediaUrl", Reason: "must be an absolute URL"}
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return SendResult{}, &ValidationError{Field: "mediaUrl", Reason: fmt.Sprintf("scheme %q not allowed", parsed.Scheme)}
	}

	// Guard on connection state before downloading anything.
	if !m.IsConnected(userID) {
		return SendResult{}, &NotConnectedError{UserID: userID}
	}

	log.Printf("[WhatsApp] downloading media for user %s from %s", userID, sourceURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return SendResult{}, &MediaFetchError{URL: sourceURL, Err: err}
	}
	resp, err := m.fetchClient.Do(req)
	if err != nil {
		return SendResult{}, &MediaFetchError{URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, &MediaFetchError{URL: sourceURL, Status: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxMediaBytes+1))
	if err != nil {
		return SendResult{}, &MediaFetchError{URL: sourceURL, Err: err}
	}
	if int64(len(data)) > m.maxMediaBytes {
		return SendResult{}, &PayloadTooLargeError{Size: int64(len(data)), Limit: m.maxMediaBytes}
	}
	if len(data) == 0 {
		return SendResult{}, &MediaFetchError{URL: sourceURL, Status: "empty response body"}
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = genericMimeType
	} else if semi := strings.IndexByte(mimeType, ';'); semi >= 0 {
		mimeType = strings.TrimSpace(mimeType[:semi])
	}

	filename := path.Base(parsed.Path)
	if filename == "." || filename == "/" || filename == "" {
		filename = "media"
	}

	media := &Media{
		MimeType: mimeType,
		Filename: filename,
		Data:     data,
		Caption:  strings.TrimSpace(caption),
	}
	return m.deliver(ctx, userID, address, Content{Media: media})
}

// deliver guards on connection state and delegates to the adapter with a
// bounded timeout. No per-user lock is held across the send.
func (m *Manager) deliver(ctx context.Context, userID, address string, content Content) (SendResult, error) {
	handle, err := m.readyHandle(userID)
	if err != nil {
		return SendResult{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	messageID, err := handle.Send(sctx, address, content)
	if err != nil {
		return SendResult{}, &AdapterSendError{UserID: userID, Err: err}
	}

	return SendResult{MessageID: messageID, Timestamp: time.Now().UTC()}, nil
}

// normalizeDestination validates the destination as a phone number with 10
// to 15 digits and maps it onto the network addressing scheme.
func normalizeDestination(destination string) (string, error) {
	digits := digitsOnly(destination)
	if len(digits) < 10 || len(digits) > 15 {
		return "", &ValidationError{Field: "to", Reason: "must be a phone number with 10-15 digits"}
	}
	return digits + networkSuffix, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
