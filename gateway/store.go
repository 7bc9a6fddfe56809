package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists idempotency results and the request audit log for the
// gateway in a local SQLite database.
type Store struct {
	db *sql.DB
}

// StoredResponse is a previously computed response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

// OpenStore opens (or creates) the gateway database at the given path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("gateway: open store: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS idempotency (
        api_key    TEXT NOT NULL,
        idem_key   TEXT NOT NULL,
        status     INTEGER NOT NULL,
        body       BLOB NOT NULL,
        created_at INTEGER NOT NULL,
        PRIMARY KEY (api_key, idem_key)
);
CREATE TABLE IF NOT EXISTS audit_log (
        id         TEXT PRIMARY KEY,
        api_key    TEXT,
        method     TEXT NOT NULL,
        path       TEXT NOT NULL,
        status     INTEGER NOT NULL,
        created_at INTEGER NOT NULL
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("gateway: migrate store: %w", err)
	}
	return nil
}

// Lookup returns the stored response for an idempotency key, if any.
func (s *Store) Lookup(ctx context.Context, apiKey, idemKey string) (*StoredResponse, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, body FROM idempotency WHERE api_key = ? AND idem_key = ?`, apiKey, idemKey)
	stored := &StoredResponse{}
	if err := row.Scan(&stored.Status, &stored.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("gateway: lookup idempotency: %w", err)
	}
	return stored, nil
}

// Remember stores the response for an idempotency key. First writer wins;
// concurrent duplicates fall back to the stored row.
func (s *Store) Remember(ctx context.Context, apiKey, idemKey string, status int, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency (api_key, idem_key, status, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		apiKey, idemKey, status, body, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("gateway: remember idempotency: %w", err)
	}
	return nil
}

// Audit appends one request record to the audit log.
func (s *Store) Audit(ctx context.Context, id, apiKey, method, path string, status int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, api_key, method, path, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, apiKey, method, path, status, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("gateway: audit: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
