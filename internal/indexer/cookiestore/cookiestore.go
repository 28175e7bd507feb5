// Package cookiestore persists indexer session cookies in SQLite so logins
// survive process restarts.
package cookiestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS indexer_cookies (
	indexer_id INTEGER PRIMARY KEY,
	cookies    TEXT    NOT NULL,
	expires_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store is a SQLite-backed cookie store keyed by indexer ID. Expired rows
// are treated as absent and cleaned up lazily.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open creates or opens the cookie database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cookie store directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cookie store schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "cookiestore").Logger(),
	}, nil
}

// GetCookies returns the cookie string for an indexer, or "" when no
// unexpired entry exists.
func (s *Store) GetCookies(ctx context.Context, indexerID int64) (string, error) {
	var cookies string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cookies, expires_at FROM indexer_cookies WHERE indexer_id = ?`,
		indexerID,
	).Scan(&cookies, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load cookies: %w", err)
	}

	if time.Now().Unix() >= expiresAt {
		if err := s.ClearCookies(ctx, indexerID); err != nil {
			s.logger.Debug().Err(err).Int64("indexerId", indexerID).Msg("Failed to remove expired cookies")
		}
		return "", nil
	}
	return cookies, nil
}

// SaveCookies upserts the cookie string for an indexer.
func (s *Store) SaveCookies(ctx context.Context, indexerID int64, cookies string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO indexer_cookies (indexer_id, cookies, expires_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(indexer_id) DO UPDATE SET
		   cookies = excluded.cookies,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		indexerID, cookies, expiresAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	return nil
}

// ClearCookies removes the entry for an indexer.
func (s *Store) ClearCookies(ctx context.Context, indexerID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM indexer_cookies WHERE indexer_id = ?`, indexerID)
	if err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}

// Prune removes every expired entry. Intended for periodic maintenance.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM indexer_cookies WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cookies: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
