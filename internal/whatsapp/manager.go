package whatsapp

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sadirul/whatsgate/internal/eventbus"
)

// State is a session's position in the pairing/authentication lifecycle.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateInitializing    State = "initializing"
	StateAwaitingPairing State = "awaiting_pairing"
	StateAuthenticated   State = "authenticated"
	StateReady           State = "ready"
	StateDisconnected    State = "disconnected"
	StateAuthFailed      State = "auth_failed"
)

// ConnectedIdentity is the normalized account identity exposed to callers
// once a session is ready.
type ConnectedIdentity struct {
	DisplayName string `json:"pushname"`
	Address     string `json:"phone"`
}

// ConnectionRecorder persists the per-user connected flag so it survives
// process restarts. Live session state is never reconstructed from it.
type ConnectionRecorder interface {
	SetWhatsAppConnected(ctx context.Context, userID string, connected bool) error
}

// InitializeResult reports the outcome of an Initialize call.
type InitializeResult struct {
	AlreadyConnected bool
}

// session is one user's live protocol connection and lifecycle state.
// Each session carries its own mutex so one user's handshake never blocks
// another user's operations. The mutex is only held for O(1) state reads
// and writes, never across adapter or network calls.
type session struct {
	userID    string
	id        string // short id for logs
	createdAt time.Time

	mu               sync.Mutex
	state            State
	handle           Handle
	identity         *ConnectedIdentity
	lastTransitionAt time.Time
}

func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) transition(state State) {
	s.mu.Lock()
	s.state = state
	s.lastTransitionAt = time.Now().UTC()
	s.mu.Unlock()
}

const (
	// DefaultMaxMediaBytes caps media payloads at 16 MiB, matching the
	// network's own attachment limit.
	DefaultMaxMediaBytes = 16 << 20

	defaultSendTimeout  = 45 * time.Second
	defaultFetchTimeout = 30 * time.Second
)

// ManagerOptions groups dependencies required to construct a Manager.
type ManagerOptions struct {
	Open        OpenFunc // required
	SessionsDir string   // root for per-user credential directories

	Recorder    ConnectionRecorder // optional connected-flag persistence
	Bus         *eventbus.Bus      // optional lifecycle event publishing
	OpenOptions OpenOptions

	SendTimeout   time.Duration // bound on outbound sends (default 45s)
	MaxMediaBytes int64         // media payload cap (default 16 MiB)
	FetchClient   *http.Client  // client for URL media downloads
}

// Manager owns the mapping from user id to live protocol session and
// drives each session through the pairing/authentication state machine.
type Manager struct {
	open          OpenFunc
	sessionsDir   string
	recorder      ConnectionRecorder
	bus           *eventbus.Bus
	openOptions   OpenOptions
	sendTimeout   time.Duration
	maxMediaBytes int64
	fetchClient   *http.Client

	mu       sync.RWMutex
	sessions map[string]*session

	pairing *pairingCache
}

// NewManager creates a session lifecycle manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Open == nil {
		return nil, fmt.Errorf("whatsapp: ManagerOptions.Open is required")
	}

	m := &Manager{
		open:          opts.Open,
		sessionsDir:   opts.SessionsDir,
		recorder:      opts.Recorder,
		bus:           opts.Bus,
		openOptions:   opts.OpenOptions,
		sendTimeout:   opts.SendTimeout,
		maxMediaBytes: opts.MaxMediaBytes,
		fetchClient:   opts.FetchClient,
		sessions:      make(map[string]*session),
		pairing:       newPairingCache(),
	}
	if m.sendTimeout <= 0 {
		m.sendTimeout = defaultSendTimeout
	}
	if m.maxMediaBytes <= 0 {
		m.maxMediaBytes = DefaultMaxMediaBytes
	}
	if m.fetchClient == nil {
		m.fetchClient = &http.Client{Timeout: defaultFetchTimeout}
	}

	return m, nil
}

// Initialize creates a session for the user and asynchronously drives the
// adapter handshake. Idempotent: a second call while a session exists (mid
// handshake or ready) returns immediately and never opens a second adapter
// connection for the same user.
func (m *Manager) Initialize(ctx context.Context, userID string) (InitializeResult, error) {
	if strings.TrimSpace(userID) == "" {
		return InitializeResult{}, &ValidationError{Field: "user", Reason: "must not be empty"}
	}

	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok {
		state := existing.currentState()
		m.mu.Unlock()
		return InitializeResult{AlreadyConnected: state == StateReady}, nil
	}

	now := time.Now().UTC()
	sess := &session{
		userID:           userID,
		id:               uuid.New().String()[:8],
		createdAt:        now,
		state:            StateInitializing,
		lastTransitionAt: now,
	}
	m.sessions[userID] = sess
	m.mu.Unlock()

	// A fresh handshake must never surface pairing material from a
	// previous handle.
	m.pairing.Clear(userID)

	credentialDir := filepath.Join(m.sessionsDir, "user_"+userID)
	if err := os.MkdirAll(credentialDir, 0o700); err != nil {
		m.removeIfCurrent(sess)
		return InitializeResult{}, &AdapterStartupError{UserID: userID, Err: err}
	}

	handle, err := m.open(ctx, userID, credentialDir, m.openOptions)
	if err != nil {
		m.removeIfCurrent(sess)
		return InitializeResult{}, &AdapterStartupError{UserID: userID, Err: err}
	}

	m.mu.Lock()
	if m.sessions[userID] != sess {
		// A concurrent logout tore the session down while the adapter was
		// starting. Release the fresh handle and report a clean absence.
		m.mu.Unlock()
		m.terminateQuietly(handle, userID)
		return InitializeResult{}, nil
	}
	sess.mu.Lock()
	sess.handle = handle
	sess.mu.Unlock()
	m.mu.Unlock()

	go m.monitorSession(sess, handle)

	log.Printf("[WhatsApp] session %s initializing for user %s", sess.id, userID)
	m.publishLifecycle(userID, StateInitializing, "initialize")

	return InitializeResult{}, nil
}

// IsConnected reports whether the user has a ready session with an active
// identity. Pure read, never blocks on network I/O.
func (m *Manager) IsConnected(userID string) bool {
	_, err := m.readyHandle(userID)
	return err == nil
}

// SessionState returns the user's current lifecycle state.
// StateUninitialized is returned when no session exists.
func (m *Manager) SessionState(userID string) State {
	m.mu.RLock()
	sess := m.sessions[userID]
	m.mu.RUnlock()
	if sess == nil {
		return StateUninitialized
	}
	return sess.currentState()
}

// ConnectedIdentity returns the account identity for a ready session, or
// nil when the user is not connected.
func (m *Manager) ConnectedIdentity(userID string) *ConnectedIdentity {
	m.mu.RLock()
	sess := m.sessions[userID]
	m.mu.RUnlock()
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state != StateReady || sess.identity == nil {
		return nil
	}
	identity := *sess.identity
	return &identity
}

// PairingArtifact returns the live pairing material for a user mid
// handshake. Nil once the session is authenticated or when no material has
// been issued yet. Non-destructive: repeated polls during the same pairing
// attempt see the same artifact until the network issues a new one.
func (m *Manager) PairingArtifact(userID string) *PairingArtifact {
	m.mu.RLock()
	sess := m.sessions[userID]
	m.mu.RUnlock()
	if sess == nil {
		return nil
	}

	switch sess.currentState() {
	case StateInitializing, StateAwaitingPairing:
	default:
		return nil
	}

	artifact, ok := m.pairing.Peek(userID)
	if !ok {
		return nil
	}
	return &artifact
}

// Logout terminates the user's session, invalidates durable credentials and
// persists the disconnected flag. No-op success when no session exists.
// Safe to call concurrently with an in-flight Initialize for the same user.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, userID)
	m.mu.Unlock()

	m.pairing.Clear(userID)

	sess.mu.Lock()
	handle := sess.handle
	sess.handle = nil
	sess.state = StateDisconnected
	sess.lastTransitionAt = time.Now().UTC()
	sess.mu.Unlock()

	var terminateErr error
	if handle != nil {
		tctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
		terminateErr = handle.Terminate(tctx, true)
		cancel()
	}

	m.recordConnected(ctx, userID, false)

	log.Printf("[WhatsApp] session %s logged out for user %s", sess.id, userID)
	m.publishLifecycle(userID, StateDisconnected, "logout")

	if terminateErr != nil {
		return fmt.Errorf("terminate whatsapp client for user %s: %w", userID, terminateErr)
	}
	return nil
}

// Shutdown tears down all live sessions without invalidating credentials,
// so users reconnect without re-pairing after a daemon restart.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, sess := range sessions {
		m.pairing.Clear(sess.userID)

		sess.mu.Lock()
		handle := sess.handle
		sess.handle = nil
		sess.state = StateDisconnected
		sess.mu.Unlock()

		if handle != nil {
			if err := handle.Terminate(ctx, false); err != nil {
				log.Printf("[WhatsApp] failed to terminate session %s during shutdown: %v", sess.id, err)
			}
		}
	}
}

// monitorSession consumes the adapter's event stream until it closes,
// mapping each event onto the state machine. Handlers are idempotent
// against redelivery and become no-ops once the session has been torn down.
func (m *Manager) monitorSession(sess *session, handle Handle) {
	for ev := range handle.Events() {
		switch ev.Kind {
		case EventPairingMaterial:
			m.handlePairingMaterial(sess, ev.Payload)
		case EventAuthenticated:
			m.handleAuthenticated(sess)
		case EventReady:
			m.handleReady(sess, handle)
		case EventAuthFailure:
			m.handleAuthFailure(sess, ev.Reason)
		case EventDisconnected:
			m.handleDisconnected(sess, ev.Reason)
		}
	}
}

// registered reports whether sess is still the live session for its user.
// Events from a superseded or torn-down handle fail this check and are
// dropped.
func (m *Manager) registered(sess *session) bool {
	m.mu.RLock()
	current := m.sessions[sess.userID]
	m.mu.RUnlock()
	return current == sess
}

func (m *Manager) handlePairingMaterial(sess *session, payload string) {
	if !m.registered(sess) {
		return
	}

	sess.mu.Lock()
	switch sess.state {
	case StateInitializing, StateAwaitingPairing:
		sess.state = StateAwaitingPairing
		sess.lastTransitionAt = time.Now().UTC()
	default:
		// Stale redelivery after authentication.
		sess.mu.Unlock()
		return
	}
	sess.mu.Unlock()

	artifact := m.pairing.Set(sess.userID, payload)

	log.Printf("[WhatsApp] pairing code received for user %s", sess.userID)
	eventbus.Publish(context.Background(), m.bus, eventbus.TopicSessionsPairing, eventbus.SourceSessionManager, eventbus.SessionPairingEvent{
		UserID:   sess.userID,
		IssuedAt: artifact.IssuedAt,
	})
	m.publishLifecycle(sess.userID, StateAwaitingPairing, "pairing_material")
}

func (m *Manager) handleAuthenticated(sess *session) {
	if !m.registered(sess) {
		return
	}

	sess.mu.Lock()
	switch sess.state {
	case StateInitializing, StateAwaitingPairing:
		sess.state = StateAuthenticated
		sess.lastTransitionAt = time.Now().UTC()
	default:
		sess.mu.Unlock()
		return
	}
	sess.mu.Unlock()

	m.pairing.Clear(sess.userID)

	log.Printf("[WhatsApp] user %s authenticated", sess.userID)
	m.publishLifecycle(sess.userID, StateAuthenticated, "authenticated")
}

func (m *Manager) handleReady(sess *session, handle Handle) {
	if !m.registered(sess) {
		return
	}

	identity := normalizeIdentity(handle.SelfIdentity())

	sess.mu.Lock()
	if sess.state == StateReady {
		sess.mu.Unlock()
		return
	}
	sess.state = StateReady
	sess.identity = identity
	sess.lastTransitionAt = time.Now().UTC()
	sess.mu.Unlock()

	m.pairing.Clear(sess.userID)
	m.recordConnected(context.Background(), sess.userID, true)

	log.Printf("[WhatsApp] client ready for user %s (%s)", sess.userID, identity.Address)
	m.publishLifecycle(sess.userID, StateReady, "ready")
}

func (m *Manager) handleAuthFailure(sess *session, reason string) {
	switch sess.currentState() {
	case StateInitializing, StateAwaitingPairing:
	default:
		// Auth failure is only reachable mid-handshake.
		return
	}

	if !m.teardown(sess, StateAuthFailed) {
		return
	}

	log.Printf("[WhatsApp] authentication failed for user %s: %s", sess.userID, reason)
	m.publishLifecycle(sess.userID, StateAuthFailed, reason)
}

func (m *Manager) handleDisconnected(sess *session, reason string) {
	if !m.teardown(sess, StateDisconnected) {
		return
	}

	m.recordConnected(context.Background(), sess.userID, false)

	log.Printf("[WhatsApp] user %s disconnected: %s", sess.userID, reason)
	m.publishLifecycle(sess.userID, StateDisconnected, reason)
}

// teardown removes the session from the registry and releases its pairing
// artifact. Returns false when the session was already torn down, making
// duplicate adapter events harmless.
func (m *Manager) teardown(sess *session, final State) bool {
	m.mu.Lock()
	if m.sessions[sess.userID] != sess {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, sess.userID)
	m.mu.Unlock()

	m.pairing.Clear(sess.userID)

	sess.mu.Lock()
	sess.state = final
	sess.handle = nil
	sess.lastTransitionAt = time.Now().UTC()
	sess.mu.Unlock()

	return true
}

// readyHandle returns the adapter handle for a ready session. The handle is
// copied out under the session lock so callers never hold any lock across
// network I/O.
func (m *Manager) readyHandle(userID string) (Handle, error) {
	m.mu.RLock()
	sess := m.sessions[userID]
	m.mu.RUnlock()
	if sess == nil {
		return nil, &NotConnectedError{UserID: userID}
	}

	sess.mu.Lock()
	state := sess.state
	handle := sess.handle
	sess.mu.Unlock()

	if state != StateReady || handle == nil || handle.SelfIdentity() == nil {
		return nil, &NotConnectedError{UserID: userID}
	}
	return handle, nil
}

func (m *Manager) removeIfCurrent(sess *session) {
	m.mu.Lock()
	if m.sessions[sess.userID] == sess {
		delete(m.sessions, sess.userID)
	}
	m.mu.Unlock()
	m.pairing.Clear(sess.userID)
}

func (m *Manager) terminateQuietly(handle Handle, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
	defer cancel()
	if err := handle.Terminate(ctx, false); err != nil {
		log.Printf("[WhatsApp] failed to terminate superseded client for user %s: %v", userID, err)
	}
}

func (m *Manager) recordConnected(ctx context.Context, userID string, connected bool) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.SetWhatsAppConnected(ctx, userID, connected); err != nil {
		log.Printf("[WhatsApp] failed to persist connected=%v for user %s: %v", connected, userID, err)
	}
}

func (m *Manager) publishLifecycle(userID string, state State, reason string) {
	eventbus.Publish(context.Background(), m.bus, eventbus.TopicSessionsLifecycle, eventbus.SourceSessionManager, eventbus.SessionLifecycleEvent{
		UserID: userID,
		State:  string(state),
		Reason: reason,
	})
}

// normalizeIdentity maps the adapter's raw self-identity onto the public
// shape: display name falls back to "unknown", and any network suffix
// ("@c.us", "@s.whatsapp.net") is stripped from the address.
func normalizeIdentity(raw *Identity) *ConnectedIdentity {
	identity := &ConnectedIdentity{DisplayName: "unknown", Address: "unknown"}
	if raw == nil {
		return identity
	}
	if name := strings.TrimSpace(raw.DisplayName); name != "" {
		identity.DisplayName = name
	}
	if addr := strings.TrimSpace(raw.RawAddress); addr != "" {
		if at := strings.IndexByte(addr, '@'); at >= 0 {
			addr = addr[:at]
		}
		if addr != "" {
			identity.Address = addr
		}
	}
	return identity
}
