package server

import (
	"net/http"

	"github.com/sadirul/whatsgate/internal/whatsapp"
)

func (s *APIServer) handleWhatsAppInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := accountFrom(r)

	result, err := s.manager.Initialize(r.Context(), account.ID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	if result.AlreadyConnected {
		writeJSON(w, http.StatusOK, struct {
			Success   bool   `json:"success"`
			Message   string `json:"message"`
			Connected bool   `json:"connected"`
		}{true, "WhatsApp is already connected", true})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success     bool   `json:"success"`
		Message     string `json:"message"`
		Initialized bool   `json:"initialized"`
	}{true, "WhatsApp client initialized. Waiting for pairing code...", true})
}

func (s *APIServer) handleWhatsAppQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := accountFrom(r)

	if s.manager.IsConnected(account.ID) {
		writeJSON(w, http.StatusOK, struct {
			Success   bool   `json:"success"`
			Connected bool   `json:"connected"`
			Message   string `json:"message"`
		}{true, true, "WhatsApp is already connected"})
		return
	}

	artifact := s.manager.PairingArtifact(account.ID)
	if artifact == nil {
		writeJSON(w, http.StatusOK, struct {
			Success   bool    `json:"success"`
			Connected bool    `json:"connected"`
			QRCode    *string `json:"qrCode"`
			Message   string  `json:"message"`
		}{true, false, nil, "Waiting for pairing code generation..."})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success   bool   `json:"success"`
		Connected bool   `json:"connected"`
		QRCode    string `json:"qrCode"`
		IssuedAt  string `json:"issuedAt"`
		Message   string `json:"message"`
	}{true, false, artifact.Payload, artifact.IssuedAt.Format("2006-01-02T15:04:05.000Z07:00"), "Pairing code generated"})
}

func (s *APIServer) handleWhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := accountFrom(r)
	s.writeStatus(w, account.ID)
}

func (s *APIServer) handleWhatsAppLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := accountFrom(r)

	if err := s.manager.Logout(r.Context(), account.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to logout WhatsApp")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{true, "WhatsApp disconnected"})
}

// writeStatus renders the connection snapshot shared by the session and
// API-key status endpoints.
func (s *APIServer) writeStatus(w http.ResponseWriter, userID string) {
	connected := s.manager.IsConnected(userID)
	identity := s.manager.ConnectedIdentity(userID)
	state := s.manager.SessionState(userID)

	writeJSON(w, http.StatusOK, struct {
		Success    bool                        `json:"success"`
		Connected  bool                        `json:"connected"`
		State      whatsapp.State              `json:"state"`
		ClientInfo *whatsapp.ConnectedIdentity `json:"clientInfo"`
	}{true, connected, state, identity})
}
