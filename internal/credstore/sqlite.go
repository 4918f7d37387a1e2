package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	// Pure-Go SQLite driver (no CGO), registers as "sqlite".
	_ "modernc.org/sqlite"
)

const (
	sqlGetCredential = `SELECT access_token, token_type, refresh_token, expiry,
		client_id, token_url, updated_at
		FROM credentials WHERE subject = ? AND scopes = ?` //nolint:gosec // G101: column names, not credentials

	sqlUpsertCredential = `INSERT INTO credentials
		(subject, scopes, access_token, token_type, refresh_token, expiry,
		 client_id, token_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject, scopes) DO UPDATE SET
		 access_token = excluded.access_token,
		 token_type = excluded.token_type,
		 refresh_token = excluded.refresh_token,
		 expiry = excluded.expiry,
		 client_id = excluded.client_id,
		 token_url = excluded.token_url,
		 updated_at = excluded.updated_at`

	sqlDeleteCredential = `DELETE FROM credentials WHERE subject = ? AND scopes = ?`
)

// SQLiteStore keeps credentials in a single SQLite table keyed by
// (subject, canonical scope string).
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLiteStore opens (creating if needed) the database at dbPath and runs
// migrations. The database uses WAL mode with synchronous=FULL so a written
// credential survives a crash.
func OpenSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), DirPerms); err != nil {
		return nil, fmt.Errorf("%w: creating directory for %s: %w", ErrStorageUnavailable, dbPath, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database %s: %w", ErrStorageUnavailable, dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	logger.Info("credential database ready", slog.String("db_path", dbPath))

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns (nil, nil) when no row exists for key.
func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Credential, error) {
	var (
		tok       oauth2.Token
		expiry    int64
		updatedAt int64
		cred      Credential
	)

	err := s.db.QueryRowContext(ctx, sqlGetCredential, key.Subject, key.ScopeString()).Scan(
		&tok.AccessToken, &tok.TokenType, &tok.RefreshToken, &expiry,
		&cred.ClientID, &cred.TokenURL, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %w", ErrStorageUnavailable, key, err)
	}

	if expiry != 0 {
		tok.Expiry = time.Unix(0, expiry)
	}

	cred.Subject = key.Subject
	cred.Scopes = splitScopes(key.ScopeString())
	cred.Token = &tok
	cred.UpdatedAt = time.Unix(0, updatedAt)

	return &cred, nil
}

// Put upserts the row for key.
func (s *SQLiteStore) Put(ctx context.Context, key Key, cred *Credential) error {
	if cred == nil || cred.Token == nil {
		return fmt.Errorf("credstore: refusing to store credential without token for %s", key)
	}

	var expiry int64
	if !cred.Token.Expiry.IsZero() {
		expiry = cred.Token.Expiry.UnixNano()
	}

	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, sqlUpsertCredential,
		key.Subject, key.ScopeString(),
		cred.Token.AccessToken, cred.Token.TokenType, cred.Token.RefreshToken, expiry,
		cred.ClientID, cred.TokenURL, updatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrStorageUnavailable, key, err)
	}

	s.logger.Debug("saved credential row", slog.String("key", key.String()))

	return nil
}

// Delete removes the row for key; a missing row is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteCredential, key.Subject, key.ScopeString())
	if err != nil {
		return fmt.Errorf("%w: deleting %s: %w", ErrStorageUnavailable, key, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("removed credential row", slog.String("key", key.String()))
	}

	return nil
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(s, " ")
}
