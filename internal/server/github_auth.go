package server

import (
	"net/http"
	"strings"
)

// GET /api/github/status
// Returns { authenticated: bool, username?: string }
func (s *Server) handleGitHubStatus(w http.ResponseWriter, r *http.Request) {
	acct, err := s.accounts.GetGitHubAccount(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	authed := strings.TrimSpace(s.cfg.GitHubToken) != ""
	var username string
	if acct != nil && acct.GitHubToken != "" {
		authed = true
		username = acct.GitHubLogin
	}

	resp := map[string]any{"authenticated": authed}
	if username != "" {
		resp["username"] = username
	}
	s.writeJSON(w, http.StatusOK, resp)
}
