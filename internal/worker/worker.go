package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prlens-backend/internal/github"
	"prlens-backend/internal/store"
	"prlens-backend/internal/types"
)

// Generator produces a review result for a pull request diff.
type Generator interface {
	Generate(ctx context.Context, prTitle string, files []github.PullRequestFile, providerID string) (*types.ReviewResult, error)
}

// Config sizes the worker pool.
type Config struct {
	Concurrency   int
	QueueSize     int
	StaleAfter    time.Duration
	FallbackToken string
}

// Worker runs review jobs from an in-process queue with bounded concurrency.
type Worker struct {
	store     Store
	github    github.Client
	generator Generator
	cfg       Config
	jobs      chan Job
	log       *zap.Logger
}

func NewWorker(cfg Config, st Store, gh github.Client, gen Generator, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:     st,
		github:    gh,
		generator: gen,
		cfg:       cfg,
		jobs:      make(chan Job, cfg.QueueSize),
		log:       logger,
	}
}

// Enqueue schedules a job. It blocks while the queue is full.
func (w *Worker) Enqueue(ctx context.Context, job Job) error {
	select {
	case w.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes jobs until ctx is cancelled, then waits for running jobs.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("review worker started", zap.Int("concurrency", w.cfg.Concurrency))

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-w.jobs:
					w.runJob(ctx, job)
				}
			}
		}()
	}
	wg.Wait()

	w.log.Info("review worker stopped")
	return nil
}

// runJob isolates one job so a panic fails only that review.
func (w *Worker) runJob(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("review job panicked", zap.String("review_id", job.ReviewID), zap.Any("panic", r))
			w.fail(ctx, job.ReviewID, failureMessage(fmt.Errorf("%v", r)))
		}
	}()
	w.Process(ctx, job.ReviewID)
}

// Process drives one review from PENDING to COMPLETED or FAILED. The claim
// is conditional: a review that is no longer PENDING was already taken by
// another delivery and is left alone.
func (w *Worker) Process(ctx context.Context, reviewID string) {
	log := w.log.With(zap.String("review_id", reviewID))

	won, err := w.store.ClaimReview(ctx, reviewID)
	if err != nil {
		log.Error("failed to claim review", zap.Error(err))
		return
	}
	if !won {
		log.Info("review is no longer pending, skipping")
		return
	}

	start := time.Now()
	result, err := w.review(ctx, reviewID)
	if err != nil {
		log.Warn("review failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		w.fail(ctx, reviewID, failureMessage(err))
		return
	}

	if err := w.store.CompleteReview(context.WithoutCancel(ctx), reviewID, result); err != nil {
		log.Error("failed to store review result", zap.Error(err))
		w.fail(ctx, reviewID, failureMessage(err))
		return
	}

	log.Info("review completed",
		zap.String("ai_model", result.AIModel),
		zap.Int("risk_score", result.RiskScore),
		zap.Int("comments", len(result.Comments)),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (w *Worker) review(ctx context.Context, reviewID string) (*types.ReviewResult, error) {
	review, err := w.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	repo, err := w.store.GetRepository(ctx, review.RepositoryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.New(msgNoRepository)
	}
	if err != nil {
		return nil, err
	}

	token, err := accessToken(ctx, w.store, w.cfg.FallbackToken, review.UserID)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New(msgNoAccessToken)
	}

	owner, name, ok := repo.SplitFullName()
	if !ok {
		return nil, errors.New(msgInvalidName)
	}

	var (
		files []github.PullRequestFile
		pr    *github.PullRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		files, err = w.github.FetchPullRequestFiles(gctx, token, owner, name, review.PRNumber)
		return err
	})
	g.Go(func() error {
		var err error
		pr, err = w.github.FetchPullRequest(gctx, token, owner, name, review.PRNumber)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	w.log.Debug("pull request fetched",
		zap.String("review_id", reviewID),
		zap.String("repository_id", repo.ID),
		zap.Int("pr_number", review.PRNumber),
		zap.Int("files", len(files)),
	)

	return w.generator.Generate(ctx, pr.Title, files, review.ProviderID)
}

// fail records msg on the review. The write is detached from ctx so a
// shutdown does not leave the review PROCESSING.
func (w *Worker) fail(ctx context.Context, reviewID, msg string) {
	if err := w.store.FailReview(context.WithoutCancel(ctx), reviewID, msg); err != nil {
		w.log.Error("failed to mark review failed", zap.String("review_id", reviewID), zap.Error(err))
	}
}

func failureMessage(err error) string {
	if err == nil || strings.TrimSpace(err.Error()) == "" {
		return msgUnknownError
	}
	return err.Error()
}

// Recover re-enqueues reviews left PENDING by a previous process. When
// StaleAfter is set it also fails PROCESSING reviews older than that.
func (w *Worker) Recover(ctx context.Context) error {
	if w.cfg.StaleAfter > 0 {
		n, err := w.store.FailStaleReviews(ctx, time.Now().Add(-w.cfg.StaleAfter), msgStaleTimedOut)
		if err != nil {
			return fmt.Errorf("fail stale reviews: %w", err)
		}
		if n > 0 {
			w.log.Warn("failed stale reviews", zap.Int64("count", n), zap.Duration("stale_after", w.cfg.StaleAfter))
		}
	}

	pending, err := w.store.ListReviewsByStatus(ctx, types.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending reviews: %w", err)
	}
	for _, r := range pending {
		if err := w.Enqueue(ctx, Job{ReviewID: r.ID}); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		w.log.Info("re-enqueued pending reviews", zap.Int("count", len(pending)))
	}
	return nil
}
