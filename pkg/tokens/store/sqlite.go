package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/icanbwell/credcache/pkg/tokens"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore implements Store on a local SQLite database. It is the durable
// backend for single-node deployments; multi-node deployments should use the
// Redis backend instead.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) the database at path and
// applies pending migrations. An empty path opens an in-memory database,
// which is what the tests use.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations applies all pending database migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// Find returns the record for the key, or ErrNotFound.
func (s *SQLiteStore) Find(ctx context.Context, provider, referringSubject string) (*tokens.TokenRecord, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT json(record) FROM token_records WHERE provider = ? AND referring_subject = ?`,
		provider, referringSubject,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token record: %w", err)
	}

	var record tokens.TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding token record: %w", err)
	}
	return &record, nil
}

// Upsert inserts or fully replaces the record, atomically per key.
func (s *SQLiteStore) Upsert(ctx context.Context, record *tokens.TokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO token_records (
			provider, referring_subject, record, access_expires_at, refresh_expires_at
		) VALUES (?, ?, jsonb(?), ?, ?)
		ON CONFLICT (provider, referring_subject) DO UPDATE SET
			record = excluded.record,
			access_expires_at = excluded.access_expires_at,
			refresh_expires_at = excluded.refresh_expires_at,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		record.Provider,
		record.ReferringSubject,
		string(data),
		tokenExpiryColumn(record.AccessToken),
		tokenExpiryColumn(record.RefreshToken),
	)
	if err != nil {
		return fmt.Errorf("upserting token record: %w", err)
	}
	return nil
}

// Delete removes the record for the key.
func (s *SQLiteStore) Delete(ctx context.Context, provider, referringSubject string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM token_records WHERE provider = ? AND referring_subject = ?`,
		provider, referringSubject,
	)
	if err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all records matching the filter, ordered by key.
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*tokens.TokenRecord, error) {
	query := `SELECT json(record) FROM token_records`
	var args []any
	if filter.Provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, filter.Provider)
	}
	query += ` ORDER BY provider, referring_subject`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying token records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*tokens.TokenRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning token record: %w", err)
		}
		var record tokens.TokenRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("decoding token record: %w", err)
		}
		result = append(result, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token record rows: %w", err)
	}
	return result, nil
}

// PurgeUnusable deletes records whose access and refresh tokens have both
// expired as of now. It returns the number of records removed. Used by the
// operator CLI; normal flows only invalidate records, never hard-delete.
func (s *SQLiteStore) PurgeUnusable(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM token_records
		WHERE (access_expires_at IS NULL OR access_expires_at <= ?)
		  AND (refresh_expires_at IS NULL OR refresh_expires_at <= ?)`,
		now.UTC().Format(time.RFC3339Nano),
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("purging token records: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// tokenExpiryColumn renders a token expiry for the queryable side columns.
// NULL means the token is absent or has no known expiry, both of which count
// as unusable for purge purposes.
func tokenExpiryColumn(t *tokens.Token) any {
	if t == nil || t.ExpiresAt.IsZero() {
		return nil
	}
	return t.ExpiresAt.UTC().Format(time.RFC3339Nano)
}
