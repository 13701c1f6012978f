package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"prlens-backend/internal/linear"
)

// GET /api/repositories/{id}/pulls?state=open|closed|all
func (s *Server) handleListPulls(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	switch state {
	case "":
		state = "open"
	case "open", "closed", "all":
	default:
		s.writeError(w, http.StatusBadRequest, "state must be open, closed or all")
		return
	}

	uid := userFrom(r)
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	prs, err := s.svc.ListPullRequests(ctx, uid, chi.URLParam(r, "id"), state)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if apiKey := s.linearKey(ctx, uid); apiKey != "" && len(prs) > 0 {
		refs := make([]linear.PRRef, len(prs))
		for i, pr := range prs {
			refs[i] = linear.PRRef{Number: pr.Number, Title: pr.Title, HeadRef: pr.HeadRef}
		}
		issues := s.linear.FetchIssuesForPRs(ctx, apiKey, refs)
		for i := range prs {
			prs[i].LinearIssue = issues[prs[i].Number]
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"prs": prs})
}

// GET /api/repositories/{id}/pulls/{number}/review
// Returns the newest review of the pull request, or null.
func (s *Server) handleLatestReview(w http.ResponseWriter, r *http.Request) {
	number, ok := s.prNumber(w, r)
	if !ok {
		return
	}
	review, err := s.svc.LatestReview(r.Context(), userFrom(r), chi.URLParam(r, "id"), number)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, review)
}

// GET /api/repositories/{id}/pulls/{number}/linear
// Returns the Linear issue referenced by the PR title or branch, or null.
func (s *Server) handlePullLinearIssue(w http.ResponseWriter, r *http.Request) {
	number, ok := s.prNumber(w, r)
	if !ok {
		return
	}

	uid := userFrom(r)
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	pr, err := s.svc.PullRequest(ctx, uid, chi.URLParam(r, "id"), number)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	apiKey := s.linearKey(ctx, uid)
	identifier := linear.ExtractIssueID(pr.HeadRef, pr.Title)
	if apiKey == "" || identifier == "" {
		s.writeJSON(w, http.StatusOK, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.linear.FetchIssue(ctx, apiKey, identifier))
}

func (s *Server) prNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid PR number")
		return 0, false
	}
	return number, true
}

// linearKey returns the caller's Linear API key, or "" when none is stored
// or Linear is not wired.
func (s *Server) linearKey(ctx context.Context, userID string) string {
	if s.linear == nil {
		return ""
	}
	key, err := s.accounts.LinearAPIKey(ctx, userID)
	if err != nil {
		s.log.Warn("failed to read Linear API key", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return key
}
