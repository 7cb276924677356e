package sqlite

import (
	"context"
	"database/sql"
	"errors"
)

const versionKey = "current_version"

// CurrentVersion returns the activated version label, or "" if no version
// has ever been activated.
func (s *Store) CurrentVersion(ctx context.Context) (string, error) {
	var v string
	err := s.read.QueryRowContext(ctx,
		`SELECT value FROM engine_state WHERE key = ?`, versionKey,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// SetCurrentVersion persists the activated version label.
func (s *Store) SetCurrentVersion(ctx context.Context, version string) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO engine_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		versionKey, version,
	)
	return err
}
