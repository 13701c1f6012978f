package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"prlens-backend/internal/types"
	"prlens-backend/internal/worker"
)

type triggerReviewRequest struct {
	RepositoryID string `json:"repositoryId"`
	PRNumber     int    `json:"prNumber"`
	ProviderID   string `json:"providerId,omitempty"`
}

// POST /api/reviews
// Body { repositoryId, prNumber, providerId? }; returns 201 { reviewId }.
func (s *Server) handleTriggerReview(w http.ResponseWriter, r *http.Request) {
	var req triggerReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.RepositoryID) == "" {
		s.writeError(w, http.StatusBadRequest, "repositoryId is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	id, err := s.svc.Trigger(ctx, worker.TriggerRequest{
		RepositoryID: req.RepositoryID,
		PRNumber:     req.PRNumber,
		ProviderID:   strings.TrimSpace(req.ProviderID),
		UserID:       userFrom(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"reviewId": id})
}

// GET /api/reviews/{id}
func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	review, err := s.svc.GetReview(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, review)
}

// GET /api/reviews?repositoryId=&limit=
func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	reviews, err := s.svc.ListReviews(r.Context(), userFrom(r), q.Get("repositoryId"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if reviews == nil {
		reviews = []types.Review{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}
