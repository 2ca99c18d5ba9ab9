package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sadirul/whatsgate/internal/eventbus"
)

const statusStreamWriteTimeout = 10 * time.Second

var statusStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return origin == "http://localhost" || origin == "http://127.0.0.1" ||
			strings.HasPrefix(origin, "http://localhost:") ||
			strings.HasPrefix(origin, "http://127.0.0.1:")
	},
}

// statusStreamMessage is the wire shape pushed to websocket subscribers.
type statusStreamMessage struct {
	Type      string `json:"type"`
	State     string `json:"state,omitempty"`
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// handleStatusStream upgrades to a websocket and pushes session lifecycle
// and pairing notifications for the authenticated user. Auth accepts either
// the usual bearer header or a token query parameter, since browser
// WebSocket clients cannot set headers.
func (s *APIServer) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized. Please login first.")
		return
	}
	userID, ok := s.resolveToken(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized. Please login first.")
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "Status stream unavailable")
		return
	}

	conn, err := statusStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[APIServer] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	lifecycle := s.bus.Subscribe(eventbus.TopicSessionsLifecycle,
		eventbus.WithSubscriptionName("ws-status-"+userID),
		eventbus.WithContext(r.Context()),
	)
	defer lifecycle.Close()
	pairing := s.bus.Subscribe(eventbus.TopicSessionsPairing,
		eventbus.WithSubscriptionName("ws-pairing-"+userID),
		eventbus.WithContext(r.Context()),
	)
	defer pairing.Close()

	// Reader goroutine: we never expect client messages, but reading is
	// required to observe close frames and connection drops.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := statusStreamMessage{
		Type:      "status",
		State:     string(s.manager.SessionState(userID)),
		Connected: s.manager.IsConnected(userID),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeStreamMessage(conn, snapshot); err != nil {
		return
	}

	for {
		select {
		case env, ok := <-lifecycle.C():
			if !ok {
				return
			}
			event, ok := env.Payload.(eventbus.SessionLifecycleEvent)
			if !ok || event.UserID != userID {
				continue
			}
			msg := statusStreamMessage{
				Type:      "lifecycle",
				State:     event.State,
				Connected: s.manager.IsConnected(userID),
				Reason:    event.Reason,
				Timestamp: env.Timestamp.Format(time.RFC3339),
			}
			if err := writeStreamMessage(conn, msg); err != nil {
				return
			}
		case env, ok := <-pairing.C():
			if !ok {
				return
			}
			event, ok := env.Payload.(eventbus.SessionPairingEvent)
			if !ok || event.UserID != userID {
				continue
			}
			msg := statusStreamMessage{
				Type:      "pairing",
				Connected: false,
				Timestamp: event.IssuedAt.Format(time.RFC3339),
			}
			if err := writeStreamMessage(conn, msg); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeStreamMessage(conn *websocket.Conn, msg statusStreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(statusStreamWriteTimeout))
	return conn.WriteJSON(msg)
}
