package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

type linearSettingsRequest struct {
	APIKey *string `json:"apiKey"`
}

// GET /api/settings/linear
// Returns { connected: bool }
func (s *Server) handleGetLinearSettings(w http.ResponseWriter, r *http.Request) {
	key, err := s.accounts.LinearAPIKey(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"connected": key != ""})
}

// PUT /api/settings/linear
// Body { apiKey: string|null }; null or blank disconnects Linear.
func (s *Server) handlePutLinearSettings(w http.ResponseWriter, r *http.Request) {
	var req linearSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var key string
	if req.APIKey != nil {
		key = strings.TrimSpace(*req.APIKey)
	}
	if err := s.accounts.SaveLinearAPIKey(r.Context(), userFrom(r), key); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"connected": key != ""})
}
