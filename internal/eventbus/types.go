package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicSessionsLifecycle Topic = "sessions.lifecycle"
	TopicSessionsPairing   Topic = "sessions.pairing"
)

// Source describes which component produced an event.
type Source string

const (
	SourceSessionManager Source = "session_manager"
	SourceDispatch       Source = "dispatch"
	SourceUnknown        Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Payload   any
}

// SessionLifecycleEvent notifies consumers about session state transitions.
type SessionLifecycleEvent struct {
	UserID string
	State  string
	Reason string
}

// SessionPairingEvent signals that fresh pairing material is available for
// a user. The payload itself stays in the pairing cache; subscribers poll
// or fetch it through the manager.
type SessionPairingEvent struct {
	UserID   string
	IssuedAt time.Time
}
