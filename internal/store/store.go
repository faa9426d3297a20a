// Package store persists known activities in a local SQLite database and
// matches freshly parsed activities against them by IATI identifier.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	apperrors "iati-import-service/pkg/errors"
	"iati-import-service/pkg/logger"

	"iati-import-service/internal/models"
)

// StoredActivity is an existing activity record against which parsed
// activities are matched.
type StoredActivity struct {
	ID             string
	IATIIdentifier string
	Title          string
	UpdatedAt      time.Time
}

// Store wraps the activity database.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	iati_identifier TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activities_identifier ON activities(iati_identifier);
`

// Open opens (or creates) the activity database at the given path. Use
// ":memory:" for an ephemeral store.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.StoreError(apperrors.CodeStoreOpenFailed, "open", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.StoreError(apperrors.CodeStoreOpenFailed, "migrate", err)
	}
	return &Store{db: db, logger: log.WithComponent("store")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or refreshes an activity record. A new record gets a
// generated id; an existing one keeps its id and updates title and
// timestamp.
func (s *Store) Upsert(ctx context.Context, identifier, title string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM activities WHERE iati_identifier = ?`, identifier).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		id = uuid.New().String()
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO activities (id, iati_identifier, title, updated_at) VALUES (?, ?, ?, ?)`,
			id, identifier, title, time.Now().UTC())
		if err != nil {
			return "", apperrors.StoreError(apperrors.CodeQueryFailed, "insert", err)
		}
	case err != nil:
		return "", apperrors.StoreError(apperrors.CodeQueryFailed, "lookup", err)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE activities SET title = ?, updated_at = ? WHERE id = ?`,
			title, time.Now().UTC(), id)
		if err != nil {
			return "", apperrors.StoreError(apperrors.CodeQueryFailed, "update", err)
		}
	}
	return id, nil
}

// GetByIdentifier looks up one activity by IATI identifier. A missing
// record returns (nil, nil).
func (s *Store) GetByIdentifier(ctx context.Context, identifier string) (*StoredActivity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, iati_identifier, title, updated_at FROM activities WHERE iati_identifier = ?`,
		identifier)

	var a StoredActivity
	err := row.Scan(&a.ID, &a.IATIIdentifier, &a.Title, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "lookup", err)
	}
	return &a, nil
}

// Count returns the number of stored activities.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&n); err != nil {
		return 0, apperrors.StoreError(apperrors.CodeQueryFailed, "count", err)
	}
	return n, nil
}

// MarkMatches sets Matched and MatchedActivityID on every parsed activity
// whose identifier exists in the store. Activities are modified in place;
// the number of matches is returned.
func (s *Store) MarkMatches(ctx context.Context, activities []*models.ParsedActivity) (int, error) {
	matched := 0
	for _, a := range activities {
		existing, err := s.GetByIdentifier(ctx, a.IATIIdentifier)
		if err != nil {
			return matched, err
		}
		if existing == nil {
			a.Matched = false
			a.MatchedActivityID = ""
			continue
		}
		a.Matched = true
		a.MatchedActivityID = existing.ID
		matched++
	}

	s.logger.WithFields(logger.Fields{
		"total":   len(activities),
		"matched": matched,
	}).Debug("Matched activities against store")
	return matched, nil
}
