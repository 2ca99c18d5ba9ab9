package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sadirul/whatsgate/internal/store"
	"github.com/sadirul/whatsgate/internal/users"
)

type authContextKey struct{}

// accountFrom returns the authenticated account attached by the middleware.
func accountFrom(r *http.Request) users.Account {
	account, _ := r.Context().Value(authContextKey{}).(users.Account)
	return account
}

// issueToken creates a bearer session token for the user.
func (s *APIServer) issueToken(userID string) string {
	token := uuid.New().String()
	s.authMu.Lock()
	s.tokens[token] = sessionToken{UserID: userID, ExpiresAt: time.Now().Add(s.tokenTTL)}
	s.authMu.Unlock()
	return token
}

// revokeToken drops a session token. Unknown tokens are ignored.
func (s *APIServer) revokeToken(token string) {
	s.authMu.Lock()
	delete(s.tokens, token)
	s.authMu.Unlock()
}

// resolveToken returns the user id behind a live session token.
func (s *APIServer) resolveToken(token string) (string, bool) {
	s.authMu.RLock()
	entry, ok := s.tokens[token]
	s.authMu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Now().After(entry.ExpiresAt) {
		s.revokeToken(token)
		return "", false
	}
	return entry.UserID, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// requireSession guards management endpoints with bearer-token auth.
func (s *APIServer) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized. Please login first.")
			return
		}
		userID, ok := s.resolveToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized. Please login first.")
			return
		}

		account, err := s.users.ByID(r.Context(), userID)
		if err != nil {
			if store.IsNotFound(err) {
				s.revokeToken(token)
				writeError(w, http.StatusUnauthorized, "Unauthorized. Please login first.")
				return
			}
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey{}, account)
		next(w, r.WithContext(ctx))
	}
}

// requireAPIKey guards the send endpoints with X-API-Key auth.
func (s *APIServer) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key is required. Use X-API-Key header.")
			return
		}

		account, err := s.users.ByAPIKey(r.Context(), apiKey)
		if err != nil {
			if store.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey{}, account)
		next(w, r.WithContext(ctx))
	}
}
