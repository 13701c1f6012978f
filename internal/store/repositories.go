package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"prlens-backend/internal/types"
)

const repositoryColumns = `id, user_id, github_id, name, full_name, html_url, is_private, updated_at`

// UpsertRepository inserts a repository or updates the row with the same
// GitHub id. repo.ID is set to the stored id.
func (ds *DatabaseStore) UpsertRepository(ctx context.Context, repo *types.Repository) error {
	if repo.UserID == "" || repo.FullName == "" {
		return fmt.Errorf("user_id and full_name are required")
	}
	if repo.ID == "" {
		repo.ID = ulid.Make().String()
	}
	repo.UpdatedAt = ds.now()

	query := `
		INSERT INTO repositories (` + repositoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (github_id)
		DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			full_name = excluded.full_name,
			html_url = excluded.html_url,
			is_private = excluded.is_private,
			updated_at = excluded.updated_at
		RETURNING id
	`
	err := ds.db.QueryRowContext(ctx, ds.db.Rebind(query),
		repo.ID, repo.UserID, repo.GitHubID, repo.Name, repo.FullName,
		repo.HTMLURL, repo.IsPrivate, repo.UpdatedAt,
	).Scan(&repo.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert repository: %w", err)
	}
	return nil
}

// GetRepository returns a repository by id.
func (ds *DatabaseStore) GetRepository(ctx context.Context, id string) (*types.Repository, error) {
	return ds.getRepository(ctx, `WHERE id = ?`, id)
}

// GetRepositoryForUser returns a repository only if userID owns it.
func (ds *DatabaseStore) GetRepositoryForUser(ctx context.Context, id, userID string) (*types.Repository, error) {
	return ds.getRepository(ctx, `WHERE id = ? AND user_id = ?`, id, userID)
}

// GetRepositoryByGitHubID looks a repository up by its numeric GitHub id.
func (ds *DatabaseStore) GetRepositoryByGitHubID(ctx context.Context, githubID int64) (*types.Repository, error) {
	return ds.getRepository(ctx, `WHERE github_id = ?`, githubID)
}

// ListRepositories returns the repositories connected by a user, by name.
func (ds *DatabaseStore) ListRepositories(ctx context.Context, userID string) ([]types.Repository, error) {
	rows, err := ds.db.QueryContext(ctx,
		ds.db.Rebind(`SELECT `+repositoryColumns+` FROM repositories WHERE user_id = ? ORDER BY full_name`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []types.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *repo)
	}
	return repos, rows.Err()
}

func (ds *DatabaseStore) getRepository(ctx context.Context, where string, args ...any) (*types.Repository, error) {
	row := ds.db.QueryRowContext(ctx,
		ds.db.Rebind(`SELECT `+repositoryColumns+` FROM repositories `+where),
		args...,
	)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return repo, err
}

func scanRepository(s scanner) (*types.Repository, error) {
	var repo types.Repository
	err := s.Scan(
		&repo.ID, &repo.UserID, &repo.GitHubID, &repo.Name, &repo.FullName,
		&repo.HTMLURL, &repo.IsPrivate, &repo.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}
	return &repo, nil
}
