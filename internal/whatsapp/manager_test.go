package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sadirul/whatsgate/internal/eventbus"
)

// fakeHandle is an in-memory Handle implementation driven by tests.
type fakeHandle struct {
	events chan Event

	mu          sync.Mutex
	identity    *Identity
	sendID      string
	sendErr     error
	sent        []sentMessage
	terminated  bool
	invalidated bool
}

type sentMessage struct {
	destination string
	content     Content
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan Event, 16), sendID: "true_14155552671@c.us_3EB0"}
}

func (h *fakeHandle) Events() <-chan Event { return h.events }

func (h *fakeHandle) SelfIdentity() *Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

func (h *fakeHandle) setIdentity(identity *Identity) {
	h.mu.Lock()
	h.identity = identity
	h.mu.Unlock()
}

func (h *fakeHandle) Send(ctx context.Context, destination string, content Content) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return "", h.sendErr
	}
	h.sent = append(h.sent, sentMessage{destination: destination, content: content})
	return h.sendID, nil
}

func (h *fakeHandle) sentMessages() []sentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]sentMessage(nil), h.sent...)
}

func (h *fakeHandle) Terminate(ctx context.Context, invalidateCredentials bool) error {
	h.mu.Lock()
	already := h.terminated
	h.terminated = true
	h.invalidated = h.invalidated || invalidateCredentials
	h.mu.Unlock()
	if !already {
		close(h.events)
	}
	return nil
}

func (h *fakeHandle) terminatedWith() (terminated, invalidated bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated, h.invalidated
}

func (h *fakeHandle) emit(ev Event) { h.events <- ev }

// becomeReady drives the handle through the full happy-path handshake.
func (h *fakeHandle) becomeReady(identity *Identity) {
	h.emit(Event{Kind: EventPairingMaterial, Payload: "2@pairing-code"})
	h.emit(Event{Kind: EventAuthenticated})
	h.setIdentity(identity)
	h.emit(Event{Kind: EventReady})
}

// fakeRecorder records connected-flag writes.
type fakeRecorder struct {
	mu      sync.Mutex
	history []bool
}

func (r *fakeRecorder) SetWhatsAppConnected(ctx context.Context, userID string, connected bool) error {
	r.mu.Lock()
	r.history = append(r.history, connected)
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) last() (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return false, false
	}
	return r.history[len(r.history)-1], true
}

// testEnv bundles a manager with a controllable adapter factory.
type testEnv struct {
	manager   *Manager
	recorder  *fakeRecorder
	openCount atomic.Int64

	mu      sync.Mutex
	handles []*fakeHandle
	openErr error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{recorder: &fakeRecorder{}}
	open := func(ctx context.Context, userID, credentialDir string, opts OpenOptions) (Handle, error) {
		env.openCount.Add(1)
		env.mu.Lock()
		defer env.mu.Unlock()
		if env.openErr != nil {
			return nil, env.openErr
		}
		handle := newFakeHandle()
		env.handles = append(env.handles, handle)
		return handle, nil
	}

	manager, err := NewManager(ManagerOptions{
		Open:        open,
		SessionsDir: t.TempDir(),
		Recorder:    env.recorder,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	env.manager = manager
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	return env
}

func (env *testEnv) handle(i int) *fakeHandle {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.handles[i]
}

func (env *testEnv) setOpenErr(err error) {
	env.mu.Lock()
	env.openErr = err
	env.mu.Unlock()
}

// connectUser initializes a session and drives it to ready.
func (env *testEnv) connectUser(t *testing.T, userID string) *fakeHandle {
	t.Helper()

	if _, err := env.manager.Initialize(context.Background(), userID); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	handle := env.handle(int(env.openCount.Load()) - 1)
	handle.becomeReady(&Identity{DisplayName: "Test User", RawAddress: "14155552671@c.us"})
	waitFor(t, func() bool { return env.manager.IsConnected(userID) })
	return handle
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestInitializeConcurrentCreatesSingleAdapter(t *testing.T) {
	env := newTestEnv(t)

	const callers = 16
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if _, err := env.manager.Initialize(context.Background(), "u1"); err != nil {
				t.Errorf("Initialize failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := env.openCount.Load(); got != 1 {
		t.Fatalf("expected exactly one adapter to be opened, got %d", got)
	}
}

func TestInitializeIdempotentWhenReady(t *testing.T) {
	env := newTestEnv(t)
	env.connectUser(t, "u1")

	result, err := env.manager.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !result.AlreadyConnected {
		t.Fatal("expected AlreadyConnected for a ready session")
	}
	if got := env.openCount.Load(); got != 1 {
		t.Fatalf("expected no second adapter, got %d opens", got)
	}
}

func TestInitializeMidHandshakeDoesNotOpenSecondAdapter(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.manager.Initialize(context.Background(), "u1"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	result, err := env.manager.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if result.AlreadyConnected {
		t.Fatal("session mid-handshake must not report AlreadyConnected")
	}
	if got := env.openCount.Load(); got != 1 {
		t.Fatalf("expected one adapter, got %d", got)
	}
}

func TestInitializeRollsBackOnStartupError(t *testing.T) {
	env := newTestEnv(t)
	env.setOpenErr(errors.New("browser pool exhausted"))

	_, err := env.manager.Initialize(context.Background(), "u1")
	var startupErr *AdapterStartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("expected AdapterStartupError, got %v", err)
	}
	if state := env.manager.SessionState("u1"); state != StateUninitialized {
		t.Fatalf("expected rollback to absent session, got state %s", state)
	}

	// A later call retries from scratch.
	env.setOpenErr(nil)
	if _, err := env.manager.Initialize(context.Background(), "u1"); err != nil {
		t.Fatalf("retry Initialize failed: %v", err)
	}
	if got := env.openCount.Load(); got != 2 {
		t.Fatalf("expected retry to open a fresh adapter, got %d opens", got)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.manager.Initialize(context.Background(), "u1"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if state := env.manager.SessionState("u1"); state != StateInitializing {
		t.Fatalf("expected initializing, got %s", state)
	}

	handle := env.handle(0)
	handle.emit(Event{Kind: EventPairingMaterial, Payload: "2@code-one"})
	waitFor(t, func() bool { return env.manager.SessionState("u1") == StateAwaitingPairing })

	artifact := env.manager.PairingArtifact("u1")
	if artifact == nil || artifact.Payload != "2@code-one" {
		t.Fatalf("expected first pairing payload, got %+v", artifact)
	}

	// Repeated polls between pairing events see the identical payload.
	for i := 0; i < 3; i++ {
		again := env.manager.PairingArtifact("u1")
		if again == nil || again.Payload != artifact.Payload || !again.IssuedAt.Equal(artifact.IssuedAt) {
			t.Fatalf("pairing poll %d not stable: %+v", i, again)
		}
	}

	// A second pairing event supersedes the first unconditionally.
	handle.emit(Event{Kind: EventPairingMaterial, Payload: "2@code-two"})
	waitFor(t, func() bool {
		a := env.manager.PairingArtifact("u1")
		return a != nil && a.Payload == "2@code-two"
	})

	handle.emit(Event{Kind: EventAuthenticated})
	waitFor(t, func() bool { return env.manager.SessionState("u1") == StateAuthenticated })
	if artifact := env.manager.PairingArtifact("u1"); artifact != nil {
		t.Fatalf("pairing artifact must be cleared on authentication, got %+v", artifact)
	}

	handle.setIdentity(&Identity{DisplayName: "Test User", RawAddress: "14155552671@c.us"})
	handle.emit(Event{Kind: EventReady})
	waitFor(t, func() bool { return env.manager.IsConnected("u1") })

	identity := env.manager.ConnectedIdentity("u1")
	if identity == nil {
		t.Fatal("expected identity for ready session")
	}
	if identity.DisplayName != "Test User" || identity.Address != "14155552671" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if artifact := env.manager.PairingArtifact("u1"); artifact != nil {
		t.Fatal("ready session must expose no pairing artifact")
	}
	if connected, ok := env.recorder.last(); !ok || !connected {
		t.Fatal("expected connected=true to be persisted")
	}
}

func TestReadyIdentityFallsBackToUnknown(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.manager.Initialize(context.Background(), "u1"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	handle := env.handle(0)
	handle.setIdentity(&Identity{})
	handle.emit(Event{Kind: EventReady})
	waitFor(t, func() bool { return env.manager.SessionState("u1") == StateReady })

	identity := env.manager.ConnectedIdentity("u1")
	if identity == nil || identity.DisplayName != "unknown" || identity.Address != "unknown" {
		t.Fatalf("expected unknown fallbacks, got %+v", identity)
	}
}

func TestAuthFailureTearsDownSession(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.manager.Initialize(context.Background(), "u1"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	handle := env.handle(0)
	handle.emit(Event{Kind: EventPairingMaterial, Payload: "2@code"})
	waitFor(t, func() bool { return env.manager.SessionState("u1") == StateAwaitingPairing })

	handle.emit(Event{Kind: EventAuthFailure, Reason: "invalid credentials"})
	waitFor(t, func() bool { return env.manager.SessionState("u1") == StateUninitialized })

	if artifact := env.manager.PairingArtifact("u1"); artifact != nil {
		t.Fatal("pairing artifact must be cleared on auth failure")
	}
	if env.manager.IsConnected("u1") {
		t.Fatal("session must not be connected after auth failure")
	}
}

func TestDisconnectTearsDownAndPersistsFlag(t *testing.T) {
	env := newTestEnv(t)
	handle := env.connectUser(t, "u1")

	handle.emit(Event{Kind: EventDisconnected, Reason: "phone offline"})
	waitFor(t, func() bool { return !env.manager.IsConnected("u1") })
	waitFor(t, func() bool {
		connected, ok := env.recorder.last()
		return ok && !connected
	})

	if state := env.manager.SessionState("u1"); state != StateUninitialized {
		t.Fatalf("expected registry entry removal, got state %s", state)
	}
}

func TestDuplicateEventsAreIdempotent(t *testing.T) {
	env := newTestEnv(t)
	handle := env.connectUser(t, "u1")

	// Redelivered events after ready must not disturb the session.
	handle.emit(Event{Kind: EventReady})
	handle.emit(Event{Kind: EventAuthenticated})
	handle.emit(Event{Kind: EventPairingMaterial, Payload: "2@stale"})

	time.Sleep(50 * time.Millisecond)
	if !env.manager.IsConnected("u1") {
		t.Fatal("session must stay connected through duplicate events")
	}
	if artifact := env.manager.PairingArtifact("u1"); artifact != nil {
		t.Fatalf("stale pairing material must be ignored, got %+v", artifact)
	}
}

func TestLogoutFullCleanupAndFreshHandshake(t *testing.T) {
	env := newTestEnv(t)
	handle := env.connectUser(t, "u1")

	if err := env.manager.Logout(context.Background(), "u1"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if env.manager.IsConnected("u1") {
		t.Fatal("IsConnected must be false immediately after logout")
	}
	terminated, invalidated := handle.terminatedWith()
	if !terminated || !invalidated {
		t.Fatalf("logout must terminate and invalidate credentials, got terminated=%v invalidated=%v", terminated, invalidated)
	}
	if connected, ok := env.recorder.last(); !ok || connected {
		t.Fatal("expected connected=false to be persisted on logout")
	}

	// A subsequent initialize starts a fresh handshake on a new handle.
	result, err := env.manager.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("re-Initialize failed: %v", err)
	}
	if result.AlreadyConnected {
		t.Fatal("fresh handshake must not report AlreadyConnected")
	}
	if got := env.openCount.Load(); got != 2 {
		t.Fatalf("expected a second adapter handle, got %d opens", got)
	}
	if state := env.manager.SessionState("u1"); state != StateInitializing {
		t.Fatalf("expected fresh handshake in initializing, got %s", state)
	}
}

func TestLogoutWithoutSessionIsNoop(t *testing.T) {
	env := newTestEnv(t)
	if err := env.manager.Logout(context.Background(), "nobody"); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestLogoutRacingInitializeLeavesCleanRegistry(t *testing.T) {
	env := &testEnv{recorder: &fakeRecorder{}}

	openStarted := make(chan struct{})
	releaseOpen := make(chan struct{})
	open := func(ctx context.Context, userID, credentialDir string, opts OpenOptions) (Handle, error) {
		close(openStarted)
		<-releaseOpen
		handle := newFakeHandle()
		env.mu.Lock()
		env.handles = append(env.handles, handle)
		env.mu.Unlock()
		return handle, nil
	}

	manager, err := NewManager(ManagerOptions{Open: open, SessionsDir: t.TempDir(), Recorder: env.recorder})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	env.manager = manager

	done := make(chan error, 1)
	go func() {
		_, initErr := manager.Initialize(context.Background(), "u1")
		done <- initErr
	}()

	<-openStarted
	// The session entry exists but the adapter has not finished starting.
	if err := manager.Logout(context.Background(), "u1"); err != nil {
		t.Fatalf("Logout during initialize failed: %v", err)
	}
	close(releaseOpen)

	if initErr := <-done; initErr != nil {
		t.Fatalf("Initialize after racing logout failed: %v", initErr)
	}

	// The freshly opened handle must be released, not leaked into the registry.
	waitFor(t, func() bool {
		env.mu.Lock()
		n := len(env.handles)
		env.mu.Unlock()
		if n == 0 {
			return false
		}
		terminated, _ := env.handle(0).terminatedWith()
		return terminated
	})
	if state := manager.SessionState("u1"); state != StateUninitialized {
		t.Fatalf("expected clean absence after racing logout, got %s", state)
	}
}

func TestOperationsOnDifferentUsersAreIndependent(t *testing.T) {
	env := newTestEnv(t)

	const users = 8
	var wg sync.WaitGroup
	wg.Add(users)
	for i := 0; i < users; i++ {
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", i)
			if _, err := env.manager.Initialize(context.Background(), userID); err != nil {
				t.Errorf("Initialize(%s) failed: %v", userID, err)
			}
		}(i)
	}
	wg.Wait()

	if got := env.openCount.Load(); got != users {
		t.Fatalf("expected %d adapters, got %d", users, got)
	}

	for i := 0; i < users; i++ {
		env.handle(i).becomeReady(&Identity{DisplayName: "U", RawAddress: fmt.Sprintf("1415555%04d@c.us", i)})
	}
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%d", i)
		waitFor(t, func() bool { return env.manager.IsConnected(userID) })
	}
}

func TestLifecycleEventsPublishedOnBus(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	var handles []*fakeHandle
	var mu sync.Mutex
	open := func(ctx context.Context, userID, credentialDir string, opts OpenOptions) (Handle, error) {
		handle := newFakeHandle()
		mu.Lock()
		handles = append(handles, handle)
		mu.Unlock()
		return handle, nil
	}

	manager, err := NewManager(ManagerOptions{Open: open, SessionsDir: t.TempDir(), Bus: bus})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer manager.Shutdown(context.Background())

	sub := bus.Subscribe(eventbus.TopicSessionsLifecycle)
	defer sub.Close()

	if _, err := manager.Initialize(context.Background(), "u1"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	mu.Lock()
	handle := handles[0]
	mu.Unlock()
	handle.becomeReady(&Identity{DisplayName: "Test", RawAddress: "14155552671@c.us"})

	seen := make(map[string]bool)
	deadline := time.After(2 * time.Second)
	for !seen[string(StateReady)] {
		select {
		case env := <-sub.C():
			ev, ok := env.Payload.(eventbus.SessionLifecycleEvent)
			if !ok {
				t.Fatalf("unexpected payload %T", env.Payload)
			}
			if ev.UserID != "u1" {
				t.Fatalf("unexpected user %q", ev.UserID)
			}
			seen[ev.State] = true
		case <-deadline:
			t.Fatalf("timed out, saw states %v", seen)
		}
	}
	for _, state := range []State{StateInitializing, StateAwaitingPairing, StateAuthenticated, StateReady} {
		if !seen[string(state)] {
			t.Fatalf("missing lifecycle state %s on bus, saw %v", state, seen)
		}
	}
}
