package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GitHubAccount is the GitHub credential stored for a user.
type GitHubAccount struct {
	UserID      string
	GitHubToken string
	GitHubLogin string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SaveGitHubToken saves or updates the GitHub access token for a user.
func (ds *DatabaseStore) SaveGitHubToken(ctx context.Context, userID, token, login string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("user_id and github_token are required")
	}

	now := ds.now()
	query := `
		INSERT INTO github_auth (user_id, github_token, github_login, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id)
		DO UPDATE SET
			github_token = excluded.github_token,
			github_login = excluded.github_login,
			updated_at = excluded.updated_at
	`

	if _, err := ds.db.ExecContext(ctx, ds.db.Rebind(query), userID, token, login, now, now); err != nil {
		return fmt.Errorf("failed to save GitHub token: %w", err)
	}

	return nil
}

// GetGitHubAccount returns the stored account, or nil when the user never
// connected GitHub.
func (ds *DatabaseStore) GetGitHubAccount(ctx context.Context, userID string) (*GitHubAccount, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	var acct GitHubAccount
	query := `
		SELECT user_id, github_token, github_login, created_at, updated_at
		FROM github_auth
		WHERE user_id = ?
	`

	err := ds.db.QueryRowContext(ctx, ds.db.Rebind(query), userID).Scan(
		&acct.UserID,
		&acct.GitHubToken,
		&acct.GitHubLogin,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get GitHub account: %w", err)
	}

	return &acct, nil
}

// GitHubToken returns the user's access token, or "" if none is stored.
func (ds *DatabaseStore) GitHubToken(ctx context.Context, userID string) (string, error) {
	acct, err := ds.GetGitHubAccount(ctx, userID)
	if err != nil || acct == nil {
		return "", err
	}
	return acct.GitHubToken, nil
}

// DeleteGitHubToken removes the stored GitHub credential for a user.
func (ds *DatabaseStore) DeleteGitHubToken(ctx context.Context, userID string) error {
	if _, err := ds.db.ExecContext(ctx, ds.db.Rebind(`DELETE FROM github_auth WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("failed to delete GitHub token: %w", err)
	}
	return nil
}

// SaveLinearAPIKey stores the user's Linear API key. An empty key clears it.
func (ds *DatabaseStore) SaveLinearAPIKey(ctx context.Context, userID, apiKey string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	var key sql.NullString
	if apiKey != "" {
		key = sql.NullString{String: apiKey, Valid: true}
	}

	query := `
		INSERT INTO user_settings (user_id, linear_api_key, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id)
		DO UPDATE SET
			linear_api_key = excluded.linear_api_key,
			updated_at = excluded.updated_at
	`
	if _, err := ds.db.ExecContext(ctx, ds.db.Rebind(query), userID, key, ds.now()); err != nil {
		return fmt.Errorf("failed to save Linear API key: %w", err)
	}
	return nil
}

// LinearAPIKey returns the user's Linear API key, or "" if none is stored.
func (ds *DatabaseStore) LinearAPIKey(ctx context.Context, userID string) (string, error) {
	var key sql.NullString
	err := ds.db.QueryRowContext(ctx,
		ds.db.Rebind(`SELECT linear_api_key FROM user_settings WHERE user_id = ?`),
		userID,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get Linear API key: %w", err)
	}
	return key.String, nil
}
