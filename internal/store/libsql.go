package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"vanishing.keys/internal/models"
)

var (
	_ Store   = (*LibSQLStore)(nil)
	_ Expirer = (*LibSQLStore)(nil)
)

// LibSQLStore keeps secrets in an embedded libSQL database. Timestamps are
// stored as unix nanoseconds so expiry compares exactly.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens the database at dbPath (a file URI such as
// "file:/var/lib/vanish/secrets.db") and applies pending migrations.
func NewLibSQLStore(ctx context.Context, dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRowContext(ctx, p).Scan(&result)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LibSQLStore{db: db}, nil
}

func (s *LibSQLStore) Insert(ctx context.Context, secret *models.Secret) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (id, payload, created_at, last_updated, expires_at, consumed_at)
		 VALUES (?, ?, ?, ?, ?, NULL)
		 ON CONFLICT(id) DO NOTHING`,
		secret.ID, secret.Payload, unixNano(secret.CreatedAt), unixNano(secret.LastUpdated), unixNano(secret.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert secret: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *LibSQLStore) Consume(ctx context.Context, id string, now time.Time, grace time.Duration) (*models.Secret, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consume: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		prior                             models.Secret
		createdAt, lastUpdated, expiresAt int64
		consumedAt                        sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, payload, created_at, last_updated, expires_at, consumed_at FROM secrets WHERE id = ?`, id,
	).Scan(&prior.ID, &prior.Payload, &createdAt, &lastUpdated, &expiresAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select secret: %w", err)
	}
	if consumedAt.Valid {
		return nil, ErrNotFound
	}
	prior.CreatedAt = fromUnixNano(createdAt)
	prior.LastUpdated = fromUnixNano(lastUpdated)
	prior.ExpiresAt = fromUnixNano(expiresAt)

	res, err := tx.ExecContext(ctx,
		`UPDATE secrets SET consumed_at = ?, last_updated = ?, expires_at = ?
		 WHERE id = ? AND consumed_at IS NULL`,
		unixNano(now), unixNano(now), unixNano(now.Add(grace)), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update secret: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume: %w", err)
	}

	return consumed(&prior, now)
}

func (s *LibSQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *LibSQLStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE expires_at <= ?`, unixNano(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return res.RowsAffected()
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

func (s *LibSQLStore) Close() error { return s.db.Close() }

func unixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(ns int64) time.Time { return time.Unix(0, ns).UTC() }
