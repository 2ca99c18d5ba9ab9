package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sadirul/whatsgate/internal/whatsapp"
)

type sendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type sendMediaURLRequest struct {
	To       string `json:"to"`
	MediaURL string `json:"mediaUrl"`
	Caption  string `json:"caption"`
}

func (s *APIServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := accountFrom(r)

	var req sendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.To == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "Phone number and message are required")
		return
	}

	result, err := s.manager.SendText(r.Context(), account.ID, req.To, req.Message)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeSendResult(w, "Message sent successfully", result)
}

func (s *APIServer) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := accountFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := r.ParseMultipartForm(s.maxBody); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Media file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	to := r.FormValue("to")
	if to == "" {
		writeError(w, http.StatusBadRequest, "Phone number is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Media file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read media file")
		return
	}

	result, err := s.manager.SendMedia(r.Context(), account.ID, to, data, header.Filename, r.FormValue("caption"))
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeSendResult(w, "Media sent successfully", result)
}

func (s *APIServer) handleSendMediaURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := accountFrom(r)

	var req sendMediaURLRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.To == "" || req.MediaURL == "" {
		writeError(w, http.StatusBadRequest, "Phone number and media URL are required")
		return
	}

	result, err := s.manager.SendMediaFromURL(r.Context(), account.ID, req.To, req.MediaURL, req.Caption)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeSendResult(w, "Media sent successfully", result)
}

func (s *APIServer) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := accountFrom(r)
	s.writeStatus(w, account.ID)
}

func writeSendResult(w http.ResponseWriter, message string, result whatsapp.SendResult) {
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		whatsapp.SendResult
	}{Success: true, Message: message, SendResult: result})
}
