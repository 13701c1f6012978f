package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"prlens-backend/internal/github"
	"prlens-backend/internal/provider"
	"prlens-backend/internal/store"
	"prlens-backend/internal/types"
)

// Store is the persistence the review pipeline needs.
type Store interface {
	GetRepository(ctx context.Context, id string) (*types.Repository, error)
	GetRepositoryForUser(ctx context.Context, id, userID string) (*types.Repository, error)
	GetRepositoryByGitHubID(ctx context.Context, githubID int64) (*types.Repository, error)
	GitHubToken(ctx context.Context, userID string) (string, error)

	CreateReview(ctx context.Context, r *types.Review) error
	ClaimReview(ctx context.Context, id string) (bool, error)
	CompleteReview(ctx context.Context, id string, result *types.ReviewResult) error
	FailReview(ctx context.Context, id, msg string) error
	GetReview(ctx context.Context, id string) (*types.Review, error)
	LatestReviewForPR(ctx context.Context, repositoryID string, prNumber int) (*types.Review, error)
	LatestReviewsForPRs(ctx context.Context, repositoryID string, numbers []int) (map[int]*types.Review, error)
	ListReviews(ctx context.Context, f store.ReviewFilter) ([]types.Review, error)
	ListReviewsByStatus(ctx context.Context, status types.ReviewStatus) ([]types.Review, error)
	FailStaleReviews(ctx context.Context, cutoff time.Time, msg string) (int64, error)
}

// Providers resolves AI providers for trigger-time validation and listings.
type Providers interface {
	Available() []types.ProviderInfo
	Resolve(providerID string) (provider.Provider, error)
}

// Queue accepts processing jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Job asks the worker to process one review.
type Job struct {
	ReviewID string
}

// Service is the single entry point for starting and reading reviews. The
// HTTP API, the webhook and the MCP tools are thin adapters over it.
type Service struct {
	store         Store
	github        github.Client
	providers     Providers
	queue         Queue
	fallbackToken string
	log           *zap.Logger
}

func NewService(st Store, gh github.Client, providers Providers, queue Queue, fallbackToken string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:         st,
		github:        gh,
		providers:     providers,
		queue:         queue,
		fallbackToken: fallbackToken,
		log:           logger,
	}
}

// TriggerRequest is a user-initiated review of one pull request.
type TriggerRequest struct {
	RepositoryID string
	PRNumber     int
	ProviderID   string
	UserID       string
}

// AutoTrigger is a review request raised by a GitHub webhook.
type AutoTrigger struct {
	GitHubRepoID int64
	PRNumber     int
	PRTitle      string
	PRURL        string
}

// AutoResult reports what an automatic trigger did.
type AutoResult struct {
	Triggered bool   `json:"triggered"`
	ReviewID  string `json:"reviewId,omitempty"`
	Message   string `json:"message"`
}

// accessToken returns the user's stored GitHub token, falling back to the
// process-wide token when one is configured.
func accessToken(ctx context.Context, st Store, fallback, userID string) (string, error) {
	token, err := st.GitHubToken(ctx, userID)
	if err != nil {
		return "", err
	}
	if token == "" {
		token = fallback
	}
	return token, nil
}

// Trigger creates a PENDING review for a pull request the user owns and
// schedules it. Manual triggers always create a new review.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (string, error) {
	if req.PRNumber <= 0 {
		return "", NewErr(ErrorCodeBadRequest, "Invalid pull request number")
	}

	repo, err := s.store.GetRepositoryForUser(ctx, req.RepositoryID, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return "", errRepositoryNotFound
	}
	if err != nil {
		return "", err
	}

	token, err := accessToken(ctx, s.store, s.fallbackToken, req.UserID)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errNotConnected
	}

	owner, name, ok := repo.SplitFullName()
	if !ok {
		return "", errInvalidRepoName
	}

	if req.ProviderID != "" {
		if _, err := s.providers.Resolve(req.ProviderID); err != nil {
			return "", err
		}
	}

	pr, err := s.github.FetchPullRequest(ctx, token, owner, name, req.PRNumber)
	if err != nil {
		return "", err
	}

	review := &types.Review{
		RepositoryID: repo.ID,
		UserID:       req.UserID,
		PRNumber:     pr.Number,
		PRTitle:      pr.Title,
		PRURL:        pr.HTMLURL,
		ProviderID:   req.ProviderID,
	}
	if err := s.createAndEnqueue(ctx, review); err != nil {
		return "", err
	}

	s.log.Info("review triggered",
		zap.String("review_id", review.ID),
		zap.String("repository_id", repo.ID),
		zap.Int("pr_number", review.PRNumber),
		zap.String("provider", req.ProviderID),
	)
	return review.ID, nil
}

// TriggerAutomatic starts a review for a webhook event unless the latest
// review of the same pull request is still PENDING or PROCESSING. The check
// and the insert are not atomic; two simultaneous events can both pass.
func (s *Service) TriggerAutomatic(ctx context.Context, req AutoTrigger) (AutoResult, error) {
	repo, err := s.store.GetRepositoryByGitHubID(ctx, req.GitHubRepoID)
	if errors.Is(err, store.ErrNotFound) {
		return AutoResult{Message: msgNotConnected}, nil
	}
	if err != nil {
		return AutoResult{}, err
	}

	latest, err := s.store.LatestReviewForPR(ctx, repo.ID, req.PRNumber)
	if err != nil {
		return AutoResult{}, err
	}
	if latest != nil && latest.Status.IsActive() {
		s.log.Info("review already in progress",
			zap.String("review_id", latest.ID),
			zap.String("repository_id", repo.ID),
			zap.Int("pr_number", req.PRNumber),
		)
		return AutoResult{Message: msgAlreadyRunning, ReviewID: latest.ID}, nil
	}

	review := &types.Review{
		RepositoryID: repo.ID,
		UserID:       repo.UserID,
		PRNumber:     req.PRNumber,
		PRTitle:      req.PRTitle,
		PRURL:        req.PRURL,
	}
	if err := s.createAndEnqueue(ctx, review); err != nil {
		return AutoResult{}, err
	}

	s.log.Info("automatic review triggered",
		zap.String("review_id", review.ID),
		zap.String("repository_id", repo.ID),
		zap.Int("pr_number", review.PRNumber),
	)
	return AutoResult{Triggered: true, ReviewID: review.ID, Message: msgTriggered}, nil
}

func (s *Service) createAndEnqueue(ctx context.Context, review *types.Review) error {
	if err := s.store.CreateReview(ctx, review); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, Job{ReviewID: review.ID}); err != nil {
		// the row stays PENDING and is picked up again by Recover
		s.log.Error("failed to enqueue review", zap.String("review_id", review.ID), zap.Error(err))
		return fmt.Errorf("enqueue review %s: %w", review.ID, err)
	}
	return nil
}

// Providers lists the AI providers that have credentials.
func (s *Service) Providers() []types.ProviderInfo {
	return s.providers.Available()
}

// GetReview returns a review owned by userID.
func (s *Service) GetReview(ctx context.Context, userID, reviewID string) (*types.Review, error) {
	r, err := s.store.GetReview(ctx, reviewID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && r.UserID != userID) {
		return nil, errReviewNotFound
	}
	return r, err
}

// ListReviews returns the user's reviews newest first, optionally for one
// repository.
func (s *Service) ListReviews(ctx context.Context, userID, repositoryID string, limit int) ([]types.Review, error) {
	return s.store.ListReviews(ctx, store.ReviewFilter{UserID: userID, RepositoryID: repositoryID, Limit: limit})
}

// LatestReview returns the newest review of a pull request in a repository
// the user owns, or nil if it has none.
func (s *Service) LatestReview(ctx context.Context, userID, repositoryID string, prNumber int) (*types.Review, error) {
	if _, err := s.repository(ctx, repositoryID, userID); err != nil {
		return nil, err
	}
	return s.store.LatestReviewForPR(ctx, repositoryID, prNumber)
}

// ListPullRequests lists live pull requests of a repository the user owns,
// each with the status of its latest review.
func (s *Service) ListPullRequests(ctx context.Context, userID, repositoryID, state string) ([]types.PRSummary, error) {
	repo, owner, name, token, err := s.repoAccess(ctx, userID, repositoryID)
	if err != nil {
		return nil, err
	}

	prs, err := s.github.ListPullRequests(ctx, token, owner, name, state)
	if err != nil {
		return nil, err
	}

	numbers := make([]int, len(prs))
	for i, pr := range prs {
		numbers[i] = pr.Number
	}
	latest, err := s.store.LatestReviewsForPRs(ctx, repo.ID, numbers)
	if err != nil {
		return nil, err
	}

	items := make([]types.PRSummary, len(prs))
	for i, pr := range prs {
		items[i] = summarize(pr)
		if r, ok := latest[pr.Number]; ok {
			items[i].Review = &types.ReviewRef{ID: r.ID, Status: r.Status, CreatedAt: r.CreatedAt}
		}
	}
	return items, nil
}

// PullRequest fetches one live pull request of a repository the user owns.
func (s *Service) PullRequest(ctx context.Context, userID, repositoryID string, number int) (*github.PullRequest, error) {
	_, owner, name, token, err := s.repoAccess(ctx, userID, repositoryID)
	if err != nil {
		return nil, err
	}
	return s.github.FetchPullRequest(ctx, token, owner, name, number)
}

func (s *Service) repository(ctx context.Context, repositoryID, userID string) (*types.Repository, error) {
	repo, err := s.store.GetRepositoryForUser(ctx, repositoryID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errRepositoryNotFound
	}
	return repo, err
}

func (s *Service) repoAccess(ctx context.Context, userID, repositoryID string) (repo *types.Repository, owner, name, token string, err error) {
	repo, err = s.repository(ctx, repositoryID, userID)
	if err != nil {
		return nil, "", "", "", err
	}
	token, err = accessToken(ctx, s.store, s.fallbackToken, userID)
	if err != nil {
		return nil, "", "", "", err
	}
	if token == "" {
		return nil, "", "", "", errNotConnected
	}
	owner, name, ok := repo.SplitFullName()
	if !ok {
		return nil, "", "", "", errInvalidRepoName
	}
	return repo, owner, name, token, nil
}

func summarize(pr github.PullRequest) types.PRSummary {
	return types.PRSummary{
		ID:           pr.ID,
		Number:       pr.Number,
		Title:        pr.Title,
		State:        pr.State,
		Draft:        pr.Draft,
		HTMLURL:      pr.HTMLURL,
		AuthorLogin:  pr.AuthorLogin,
		AuthorAvatar: pr.AuthorAvatar,
		HeadRef:      pr.HeadRef,
		BaseRef:      pr.BaseRef,
		Additions:    pr.Additions,
		Deletions:    pr.Deletions,
		ChangedFiles: pr.ChangedFiles,
		CreatedAt:    pr.CreatedAt,
		UpdatedAt:    pr.UpdatedAt,
		MergedAt:     pr.MergedAt,
	}
}
