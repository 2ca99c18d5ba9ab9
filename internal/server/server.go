package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sadirul/whatsgate/internal/eventbus"
	"github.com/sadirul/whatsgate/internal/users"
	"github.com/sadirul/whatsgate/internal/whatsapp"
)

const sessionTokenTTL = 24 * time.Hour

// Options groups dependencies required to construct an APIServer.
type Options struct {
	Addr     string
	Manager  *whatsapp.Manager
	Users    *users.Service
	Bus      *eventbus.Bus
	MaxBody  int64 // multipart upload cap; defaults to the manager's media cap
	TokenTTL time.Duration
}

// APIServer exposes the HTTP API: account auth, WhatsApp session
// management, outbound sends, and the websocket status stream.
type APIServer struct {
	addr     string
	manager  *whatsapp.Manager
	users    *users.Service
	bus      *eventbus.Bus
	maxBody  int64
	tokenTTL time.Duration

	authMu sync.RWMutex
	tokens map[string]sessionToken

	httpServer *http.Server
}

type sessionToken struct {
	UserID    string
	ExpiresAt time.Time
}

// New creates an API server.
func New(opts Options) *APIServer {
	maxBody := opts.MaxBody
	if maxBody <= 0 {
		maxBody = whatsapp.DefaultMaxMediaBytes
	}
	tokenTTL := opts.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = sessionTokenTTL
	}

	return &APIServer{
		addr:     opts.Addr,
		manager:  opts.Manager,
		users:    opts.Users,
		bus:      opts.Bus,
		maxBody:  maxBody,
		tokenTTL: tokenTTL,
		tokens:   make(map[string]sessionToken),
	}
}

// Handler builds the route table.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/register", s.handleRegister)
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/logout", s.requireSession(s.handleAuthLogout))
	mux.HandleFunc("/auth/me", s.requireSession(s.handleCurrentUser))

	mux.HandleFunc("/whatsapp/init", s.requireSession(s.handleWhatsAppInit))
	mux.HandleFunc("/whatsapp/qr", s.requireSession(s.handleWhatsAppQR))
	mux.HandleFunc("/whatsapp/status", s.requireSession(s.handleWhatsAppStatus))
	mux.HandleFunc("/whatsapp/logout", s.requireSession(s.handleWhatsAppLogout))

	mux.HandleFunc("/api/send-message", s.requireAPIKey(s.handleSendMessage))
	mux.HandleFunc("/api/send-media", s.requireAPIKey(s.handleSendMedia))
	mux.HandleFunc("/api/send-media-url", s.requireAPIKey(s.handleSendMediaURL))
	mux.HandleFunc("/api/status", s.requireAPIKey(s.handleAPIStatus))

	mux.HandleFunc("/ws/status", s.handleStatusStream)

	return mux
}

// Start begins serving on the configured address. Blocks until the listener
// fails or Shutdown is called.
func (s *APIServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("[APIServer] listening on %s", listener.Addr())
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
