package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"prlens-backend/internal/types"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 50
)

const reviewColumns = `id, repository_id, user_id, pr_number, pr_title, pr_url, status, provider_id,
	summary, risk_score, comments, ai_model, error, created_at, updated_at`

// ReviewFilter narrows ListReviews. Limit is clamped to [1, MaxListLimit].
type ReviewFilter struct {
	UserID       string
	RepositoryID string
	Limit        int
}

type scanner interface {
	Scan(dest ...any) error
}

// CreateReview inserts a new PENDING review and fills in its id and timestamps.
func (ds *DatabaseStore) CreateReview(ctx context.Context, r *types.Review) error {
	if r.RepositoryID == "" || r.UserID == "" || r.PRNumber <= 0 {
		return fmt.Errorf("repository_id, user_id and pr_number are required")
	}

	r.ID = ulid.Make().String()
	r.Status = types.StatusPending
	r.CreatedAt = ds.now()
	r.UpdatedAt = r.CreatedAt
	r.Summary, r.RiskScore, r.Comments, r.AIModel, r.Error = "", nil, nil, "", ""

	query := `
		INSERT INTO reviews (id, repository_id, user_id, pr_number, pr_title, pr_url, status, provider_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ds.db.ExecContext(ctx, ds.db.Rebind(query),
		r.ID, r.RepositoryID, r.UserID, r.PRNumber, r.PRTitle, r.PRURL,
		string(r.Status), r.ProviderID, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}

// ClaimReview moves a review from PENDING to PROCESSING. It reports false when
// the review exists but is no longer PENDING, which means another delivery
// already claimed it.
func (ds *DatabaseStore) ClaimReview(ctx context.Context, id string) (bool, error) {
	res, err := ds.db.ExecContext(ctx,
		ds.db.Rebind(`UPDATE reviews SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
		string(types.StatusProcessing), ds.now(), id, string(types.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim review: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := ds.GetReview(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// CompleteReview stores the result and marks the review COMPLETED in one
// update. Only a PROCESSING review can complete.
func (ds *DatabaseStore) CompleteReview(ctx context.Context, id string, result *types.ReviewResult) error {
	comments := result.Comments
	if comments == nil {
		comments = []types.ReviewComment{}
	}
	encoded, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("failed to encode review comments: %w", err)
	}

	query := `
		UPDATE reviews
		SET status = ?, summary = ?, risk_score = ?, comments = ?, ai_model = ?, error = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := ds.db.ExecContext(ctx, ds.db.Rebind(query),
		string(types.StatusCompleted), result.Summary, result.RiskScore, string(encoded), result.AIModel,
		ds.now(), id, string(types.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to complete review: %w", err)
	}
	return ds.checkTransition(ctx, res, id)
}

// FailReview records msg and marks the review FAILED. Only a PROCESSING
// review can fail.
func (ds *DatabaseStore) FailReview(ctx context.Context, id, msg string) error {
	query := `
		UPDATE reviews
		SET status = ?, error = ?, summary = NULL, risk_score = NULL, comments = NULL, ai_model = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := ds.db.ExecContext(ctx, ds.db.Rebind(query),
		string(types.StatusFailed), msg, ds.now(), id, string(types.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to fail review: %w", err)
	}
	return ds.checkTransition(ctx, res, id)
}

// FailStaleReviews fails every PROCESSING review last touched before cutoff
// and returns how many were updated.
func (ds *DatabaseStore) FailStaleReviews(ctx context.Context, cutoff time.Time, msg string) (int64, error) {
	query := `
		UPDATE reviews
		SET status = ?, error = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?
	`
	res, err := ds.db.ExecContext(ctx, ds.db.Rebind(query),
		string(types.StatusFailed), msg, ds.now(), string(types.StatusProcessing), cutoff.UTC().Truncate(time.Microsecond),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale reviews: %w", err)
	}
	return res.RowsAffected()
}

func (ds *DatabaseStore) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	if n == 1 {
		return nil
	}
	current, err := ds.GetReview(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: review %s is %s", ErrInvalidTransition, id, current.Status)
}

// GetReview returns a review by id.
func (ds *DatabaseStore) GetReview(ctx context.Context, id string) (*types.Review, error) {
	row := ds.db.QueryRowContext(ctx,
		ds.db.Rebind(`SELECT `+reviewColumns+` FROM reviews WHERE id = ?`),
		id,
	)
	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// LatestReviewForPR returns the most recently created review for a pull
// request, or nil when it has never been reviewed.
func (ds *DatabaseStore) LatestReviewForPR(ctx context.Context, repositoryID string, prNumber int) (*types.Review, error) {
	row := ds.db.QueryRowContext(ctx,
		ds.db.Rebind(`SELECT `+reviewColumns+` FROM reviews
			WHERE repository_id = ? AND pr_number = ?
			ORDER BY created_at DESC, id DESC
			LIMIT 1`),
		repositoryID, prNumber,
	)
	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// LatestReviewsForPRs returns the latest review per pull request number for
// the given numbers. Numbers with no review are absent from the map.
func (ds *DatabaseStore) LatestReviewsForPRs(ctx context.Context, repositoryID string, numbers []int) (map[int]*types.Review, error) {
	latest := make(map[int]*types.Review, len(numbers))
	if len(numbers) == 0 {
		return latest, nil
	}

	args := make([]any, 0, len(numbers)+1)
	args = append(args, repositoryID)
	for _, n := range numbers {
		args = append(args, n)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(numbers)), ", ")

	rows, err := ds.db.QueryContext(ctx,
		ds.db.Rebind(`SELECT `+reviewColumns+` FROM reviews
			WHERE repository_id = ? AND pr_number IN (`+placeholders+`)
			ORDER BY created_at DESC, id DESC`),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		if _, seen := latest[r.PRNumber]; !seen {
			latest[r.PRNumber] = r
		}
	}
	return latest, rows.Err()
}

// ListReviews returns reviews newest first.
func (ds *DatabaseStore) ListReviews(ctx context.Context, f ReviewFilter) ([]types.Review, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.RepositoryID != "" {
		where = append(where, "repository_id = ?")
		args = append(args, f.RepositoryID)
	}

	query := `SELECT ` + reviewColumns + ` FROM reviews`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	return ds.queryReviews(ctx, query, args...)
}

// ListReviewsByStatus returns every review in status, oldest first.
func (ds *DatabaseStore) ListReviewsByStatus(ctx context.Context, status types.ReviewStatus) ([]types.Review, error) {
	return ds.queryReviews(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE status = ? ORDER BY created_at, id`,
		string(status),
	)
}

func (ds *DatabaseStore) queryReviews(ctx context.Context, query string, args ...any) ([]types.Review, error) {
	rows, err := ds.db.QueryContext(ctx, ds.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []types.Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *r)
	}
	return reviews, rows.Err()
}

func scanReview(s scanner) (*types.Review, error) {
	var (
		r         types.Review
		status    string
		summary   sql.NullString
		riskScore sql.NullInt64
		comments  sql.NullString
		aiModel   sql.NullString
		errMsg    sql.NullString
	)
	err := s.Scan(
		&r.ID, &r.RepositoryID, &r.UserID, &r.PRNumber, &r.PRTitle, &r.PRURL, &status, &r.ProviderID,
		&summary, &riskScore, &comments, &aiModel, &errMsg, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan review: %w", err)
	}

	r.Status = types.ReviewStatus(status)
	switch r.Status {
	case types.StatusCompleted:
		r.Summary = summary.String
		score := int(riskScore.Int64)
		r.RiskScore = &score
		r.AIModel = aiModel.String
		r.Comments = []types.ReviewComment{}
		if comments.Valid && comments.String != "" {
			if err := json.Unmarshal([]byte(comments.String), &r.Comments); err != nil {
				return nil, fmt.Errorf("failed to decode comments for review %s: %w", r.ID, err)
			}
		}
	case types.StatusFailed:
		r.Error = errMsg.String
	}
	return &r, nil
}
