package whatsapp

import "context"

// EventKind enumerates lifecycle notifications emitted by an adapter handle.
type EventKind string

const (
	EventPairingMaterial EventKind = "pairing_material"
	EventAuthenticated   EventKind = "authenticated"
	EventReady           EventKind = "ready"
	EventAuthFailure     EventKind = "auth_failure"
	EventDisconnected    EventKind = "disconnected"
)

// Event is a single lifecycle notification from the protocol client.
type Event struct {
	Kind    EventKind
	Payload string // pairing material for EventPairingMaterial
	Reason  string // detail for EventAuthFailure and EventDisconnected
}

// Identity describes the account an adapter handle is logged in as.
type Identity struct {
	DisplayName string
	RawAddress  string // may carry a network suffix such as "@c.us"
}

// Media is an attachment sent alongside or instead of text.
type Media struct {
	MimeType string
	Filename string
	Data     []byte
	Caption  string
}

// Content is the payload of an outbound send: plain text or media.
type Content struct {
	Text  string
	Media *Media
}

// Handle is one live wire-level connection to the messaging network.
// Handles are exclusively owned by the session that created them.
type Handle interface {
	// Events returns the handle's lifecycle event stream. The channel is
	// closed when the connection has fully shut down.
	Events() <-chan Event

	// SelfIdentity reports the logged-in account, or nil before the
	// connection is ready. Must not block on network I/O.
	SelfIdentity() *Identity

	// Send delivers content to the destination address and returns the
	// network's message identifier.
	Send(ctx context.Context, destination string, content Content) (string, error)

	// Terminate shuts the connection down. When invalidateCredentials is
	// true the durable pairing artifacts are removed so the next handshake
	// starts from scratch.
	Terminate(ctx context.Context, invalidateCredentials bool) error
}

// OpenOptions carries runtime settings for new adapter connections.
type OpenOptions struct {
	// Headless suppresses any UI the underlying client would render.
	Headless bool
}

// OpenFunc constructs a new adapter handle scoped to the given user's
// durable credential directory.
type OpenFunc func(ctx context.Context, userID, credentialDir string, opts OpenOptions) (Handle, error)
