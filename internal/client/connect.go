package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultConnectTimeout = 2 * time.Minute
)

// ErrConnectTimeout indicates the session never reached the connected
// state within the allotted window.
var ErrConnectTimeout = errors.New("timed out waiting for WhatsApp connection")

// ConnectOptions tunes the pairing poll loop.
type ConnectOptions struct {
	// PollInterval is the delay between pairing polls (default 2s).
	PollInterval time.Duration

	// Timeout bounds the whole connect flow (default 2m).
	Timeout time.Duration

	// RenderCode is invoked for each fresh pairing payload. The newest
	// payload always supersedes earlier ones; stale codes can no longer
	// be scanned.
	RenderCode func(code string)

	// Notify receives human-readable progress lines.
	Notify func(format string, args ...any)
}

// Connect drives the pairing flow: initialize the session, surface each
// fresh pairing code, and poll until the daemon reports a live connection.
func (c *HTTPClient) Connect(ctx context.Context, opts ConnectOptions) (SessionStatus, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	notify := opts.Notify
	if notify == nil {
		notify = func(string, ...any) {}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	init, err := c.InitSession(ctx)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("initialize session: %w", err)
	}
	if init.Connected {
		notify("Already connected.")
		return c.Status(ctx)
	}
	notify("Session initializing, waiting for pairing code...")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastCode := ""
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return SessionStatus{}, ErrConnectTimeout
			}
			return SessionStatus{}, ctx.Err()
		case <-ticker.C:
		}

		pairing, err := c.PairingCode(ctx)
		if err != nil {
			return SessionStatus{}, fmt.Errorf("poll pairing code: %w", err)
		}

		if pairing.Connected {
			status, err := c.Status(ctx)
			if err != nil {
				return SessionStatus{}, fmt.Errorf("fetch status: %w", err)
			}
			return status, nil
		}

		if pairing.QRCode != "" && pairing.QRCode != lastCode {
			lastCode = pairing.QRCode
			if opts.RenderCode != nil {
				opts.RenderCode(pairing.QRCode)
			}
			notify("Scan the code with WhatsApp on your phone.")
		}
	}
}
