package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v71/github"
	"go.uber.org/zap"

	"prlens-backend/internal/worker"
)

const (
	maxWebhookBody  = 25 << 20
	signaturePrefix = "sha256="
)

type webhookResponse struct {
	Message string `json:"message"`
}

// POST /webhooks/github
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if secret := s.cfg.GitHubWebhookSecret; secret != "" {
		// ValidateSignature also accepts sha1= and sha512=, so pin the hash.
		sig := r.Header.Get(gh.SHA256SignatureHeader)
		if !strings.HasPrefix(sig, signaturePrefix) {
			s.log.Warn("webhook signature rejected", zap.String("reason", "missing sha256 signature"))
			s.writeError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
		if err := gh.ValidateSignature(sig, body, []byte(secret)); err != nil {
			s.log.Warn("webhook signature rejected", zap.Error(err))
			s.writeError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
	} else {
		s.log.Warn("GITHUB_WEBHOOK_SECRET not configured, skipping signature verification")
	}

	if gh.WebHookType(r) != "pull_request" {
		s.writeJSON(w, http.StatusOK, webhookResponse{Message: "Event ignored"})
		return
	}

	// Only signature failures answer non-2xx; GitHub retries anything else.
	payload, err := gh.ParseWebHook("pull_request", body)
	if err != nil {
		s.log.Warn("webhook payload ignored", zap.Error(err))
		s.writeJSON(w, http.StatusOK, webhookResponse{Message: "Invalid payload ignored"})
		return
	}
	event, ok := payload.(*gh.PullRequestEvent)
	if !ok || event.GetPullRequest() == nil || event.GetRepo() == nil {
		s.log.Warn("webhook payload ignored", zap.String("reason", "missing pull_request or repository"))
		s.writeJSON(w, http.StatusOK, webhookResponse{Message: "Invalid payload ignored"})
		return
	}

	switch action := event.GetAction(); action {
	case "opened", "synchronize", "reopened":
	default:
		s.writeJSON(w, http.StatusOK, webhookResponse{Message: fmt.Sprintf("Action '%s' ignored", action)})
		return
	}

	pr := event.GetPullRequest()
	if pr.GetDraft() {
		s.writeJSON(w, http.StatusOK, webhookResponse{Message: "Draft PR ignored"})
		return
	}

	result, err := s.svc.TriggerAutomatic(r.Context(), worker.AutoTrigger{
		GitHubRepoID: event.GetRepo().GetID(),
		PRNumber:     pr.GetNumber(),
		PRTitle:      pr.GetTitle(),
		PRURL:        pr.GetHTMLURL(),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
