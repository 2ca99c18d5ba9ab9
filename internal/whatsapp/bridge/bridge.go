// Package bridge runs the wire-level WhatsApp client as a child process
// and adapts its line-delimited JSON protocol onto the whatsapp.Handle
// contract. One bridge process is launched per user session; it owns the
// browser automation and the durable credential directory, while the
// daemon side stays a thin protocol shim.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sadirul/whatsgate/internal/whatsapp"
)

const (
	defaultCommand     = "whatsgate-bridge"
	defaultGracePeriod = 5 * time.Second

	// maxLineBytes bounds a single protocol line from the bridge. Media
	// never travels bridge-to-daemon, so lines stay small.
	maxLineBytes = 1 << 20
)

// Config describes how bridge processes are launched.
type Config struct {
	// Command is the bridge executable. Empty resolves via the
	// WHATSGATE_BRIDGE environment variable, falling back to
	// "whatsgate-bridge" in PATH.
	Command string
	Args    []string

	// Stderr receives the bridge's diagnostic output. Defaults to the
	// daemon's stderr.
	Stderr io.Writer

	// GracePeriod is how long Terminate waits after the quit request
	// before force-killing the process.
	GracePeriod time.Duration
}

// ResolveCommand returns the bridge executable for an empty Config.Command.
func ResolveCommand() string {
	if cmd := os.Getenv("WHATSGATE_BRIDGE"); cmd != "" {
		return cmd
	}
	return defaultCommand
}

// Open returns an adapter factory that launches one bridge process per
// session.
func Open(cfg Config) whatsapp.OpenFunc {
	return func(ctx context.Context, userID, credentialDir string, opts whatsapp.OpenOptions) (whatsapp.Handle, error) {
		return open(ctx, cfg, userID, credentialDir, opts)
	}
}

// request is a daemon-to-bridge command line.
type request struct {
	ID         uint64        `json:"id,omitempty"`
	Op         string        `json:"op"`
	To         string        `json:"to,omitempty"`
	Text       string        `json:"text,omitempty"`
	Media      *requestMedia `json:"media,omitempty"`
	Invalidate bool          `json:"invalidate,omitempty"`
}

type requestMedia struct {
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
	Caption  string `json:"caption,omitempty"`
	Data     []byte `json:"data"` // base64 on the wire
}

// message is a bridge-to-daemon line: either a lifecycle event or a
// response to a pending request.
type message struct {
	Type string `json:"type"` // "event" or "result"

	Event   string       `json:"event,omitempty"`
	Payload string       `json:"payload,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	Self    *messageSelf `json:"self,omitempty"`

	ID        uint64 `json:"id,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type messageSelf struct {
	Pushname string `json:"pushname"`
	Address  string `json:"address"`
}

type sendOutcome struct {
	messageID string
	err       error
}

type handle struct {
	userID string
	cmd    *exec.Cmd
	grace  time.Duration

	writeMu sync.Mutex
	stdin   io.WriteCloser
	enc     *json.Encoder

	events chan whatsapp.Event

	mu       sync.Mutex
	identity *whatsapp.Identity
	pending  map[uint64]chan sendOutcome
	nextID   uint64
	quitting bool

	waitCh chan error
}

func open(ctx context.Context, cfg Config, userID, credentialDir string, opts whatsapp.OpenOptions) (whatsapp.Handle, error) {
	command := cfg.Command
	if command == "" {
		command = ResolveCommand()
	}

	args := append([]string(nil), cfg.Args...)
	args = append(args, "--session-dir", credentialDir)
	if opts.Headless {
		args = append(args, "--headless")
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = filepath.Dir(credentialDir)
	cmd.Env = append(os.Environ(), "WHATSGATE_USER="+userID)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stdout pipe: %w", err)
	}

	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: start %s: %w", command, err)
	}

	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	h := &handle{
		userID:  userID,
		cmd:     cmd,
		grace:   grace,
		stdin:   stdin,
		enc:     json.NewEncoder(stdin),
		events:  make(chan whatsapp.Event, 16),
		pending: make(map[uint64]chan sendOutcome),
		waitCh:  make(chan error, 1),
	}

	go func() {
		h.waitCh <- cmd.Wait()
		close(h.waitCh)
	}()
	go h.readLoop(stdout)

	return h, nil
}

func (h *handle) Events() <-chan whatsapp.Event { return h.events }

func (h *handle) SelfIdentity() *whatsapp.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

func (h *handle) Send(ctx context.Context, destination string, content whatsapp.Content) (string, error) {
	req := request{Op: "send", To: destination, Text: content.Text}
	if content.Media != nil {
		req.Media = &requestMedia{
			MimeType: content.Media.MimeType,
			Filename: content.Media.Filename,
			Caption:  content.Media.Caption,
			Data:     content.Media.Data,
		}
	}

	outcome := make(chan sendOutcome, 1)
	h.mu.Lock()
	h.nextID++
	req.ID = h.nextID
	h.pending[req.ID] = outcome
	h.mu.Unlock()

	if err := h.write(req); err != nil {
		h.dropPending(req.ID)
		return "", fmt.Errorf("bridge: write send request: %w", err)
	}

	select {
	case res := <-outcome:
		return res.messageID, res.err
	case <-ctx.Done():
		h.dropPending(req.ID)
		return "", ctx.Err()
	}
}

func (h *handle) Terminate(ctx context.Context, invalidateCredentials bool) error {
	h.mu.Lock()
	h.quitting = true
	h.mu.Unlock()

	// Best effort: a dead bridge fails the write and we fall through to
	// the kill path.
	_ = h.write(request{Op: "terminate", Invalidate: invalidateCredentials})

	grace := h.grace
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < grace {
			grace = remaining
		}
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-h.waitCh:
		return ignoreExit(err)
	case <-timer.C:
	}

	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("bridge: kill: %w", err)
	}
	<-h.waitCh
	return nil
}

func (h *handle) write(req request) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.enc.Encode(req)
}

func (h *handle) dropPending(id uint64) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// readLoop consumes protocol lines until the bridge's stdout closes, then
// fails any pending sends and closes the event stream. An unexpected exit
// surfaces as a disconnect so the session tears down.
func (h *handle) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Printf("[Bridge] user %s: malformed line from bridge: %v", h.userID, err)
			continue
		}
		switch msg.Type {
		case "event":
			h.handleEvent(msg)
		case "result":
			h.handleResult(msg)
		}
	}

	h.mu.Lock()
	quitting := h.quitting
	pending := h.pending
	h.pending = make(map[uint64]chan sendOutcome)
	h.mu.Unlock()

	for _, ch := range pending {
		ch <- sendOutcome{err: errors.New("bridge: connection closed")}
	}

	if !quitting {
		h.events <- whatsapp.Event{Kind: whatsapp.EventDisconnected, Reason: "bridge process exited"}
	}
	close(h.events)
}

func (h *handle) handleEvent(msg message) {
	switch msg.Event {
	case "qr":
		h.events <- whatsapp.Event{Kind: whatsapp.EventPairingMaterial, Payload: msg.Payload}
	case "authenticated":
		h.events <- whatsapp.Event{Kind: whatsapp.EventAuthenticated}
	case "ready":
		if msg.Self != nil {
			h.mu.Lock()
			h.identity = &whatsapp.Identity{DisplayName: msg.Self.Pushname, RawAddress: msg.Self.Address}
			h.mu.Unlock()
		}
		h.events <- whatsapp.Event{Kind: whatsapp.EventReady}
	case "auth_failure":
		h.events <- whatsapp.Event{Kind: whatsapp.EventAuthFailure, Reason: msg.Reason}
	case "disconnected":
		h.events <- whatsapp.Event{Kind: whatsapp.EventDisconnected, Reason: msg.Reason}
	default:
		log.Printf("[Bridge] user %s: unknown event %q", h.userID, msg.Event)
	}
}

func (h *handle) handleResult(msg message) {
	h.mu.Lock()
	ch, ok := h.pending[msg.ID]
	delete(h.pending, msg.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != "" {
		ch <- sendOutcome{err: errors.New(msg.Error)}
		return
	}
	ch <- sendOutcome{messageID: msg.MessageID}
}

func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
