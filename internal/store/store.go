package store

import (
	"errors"
	"time"

	"prlens-backend/internal/db"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid review status transition")
)

// DatabaseStore persists reviews, repositories and per-user credentials.
type DatabaseStore struct {
	db  *db.DB
	now func() time.Time
}

// NewDatabaseStore creates a new database store
func NewDatabaseStore(database *db.DB) *DatabaseStore {
	return &DatabaseStore{
		db: database,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}
