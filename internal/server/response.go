package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/sadirul/whatsgate/internal/whatsapp"
)

// errorResponse is the standard JSON error envelope.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[APIServer] failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Message: message})
}

// writeTaxonomyError maps the whatsapp error taxonomy onto HTTP statuses.
// Every error carries its stable kind in the payload alongside the message.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	kind := whatsapp.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case whatsapp.KindValidation, whatsapp.KindNotConnected:
		status = http.StatusBadRequest
	case whatsapp.KindPayloadTooLarge:
		status = http.StatusRequestEntityTooLarge
	case whatsapp.KindMediaFetch:
		status = http.StatusBadGateway
	}

	payload := struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Kind    string `json:"error,omitempty"`
	}{Message: err.Error(), Kind: string(kind)}

	writeJSON(w, status, payload)
}
