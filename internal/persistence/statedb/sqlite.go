// Package statedb is the durable key-value State collaborator, backed by
// sqlite. Every overwrite keeps the previous value as a rotated backup.
package statedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const DefaultKeepBackups = 3

type Store struct {
	db   *sql.DB
	keep int
	now  func() time.Time
}

type Backup struct {
	Seq     int64
	Value   []byte
	SavedAt time.Time
}

// Open creates the database file if needed. keep <= 0 uses DefaultKeepBackups.
func Open(path string, keep int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if keep <= 0 {
		keep = DefaultKeepBackups
	}
	return &Store{db: db, keep: keep, now: time.Now}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		// State is small and must survive a crash mid-move.
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS kv_backups (
			key TEXT NOT NULL,
			seq INTEGER NOT NULL,
			value BLOB NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (key, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes value under key, moving the old value into the backups and
// dropping backups beyond the retention count.
func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var old []byte
	var oldAt string
	err = tx.QueryRowContext(ctx, `SELECT value, updated_at FROM kv WHERE key=?`, key).Scan(&old, &oldAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		var next int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM kv_backups WHERE key=?`, key).Scan(&next); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv_backups(key, seq, value, saved_at) VALUES(?,?,?,?)`, key, next, old, oldAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_backups WHERE key=? AND seq <= ?`, key, next-int64(s.keep)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Backups lists the retained previous values of key, newest first.
func (s *Store) Backups(ctx context.Context, key string) ([]Backup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, value, saved_at FROM kv_backups WHERE key=? ORDER BY seq DESC`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Backup
	for rows.Next() {
		var b Backup
		var at string
		if err := rows.Scan(&b.Seq, &b.Value, &at); err != nil {
			return nil, err
		}
		b.SavedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Rollback replaces key with its newest backup and consumes that backup.
func (s *Store) Rollback(ctx context.Context, key string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	var v []byte
	var at string
	err = tx.QueryRowContext(ctx, `SELECT seq, value, saved_at FROM kv_backups WHERE key=? ORDER BY seq DESC LIMIT 1`, key).Scan(&seq, &v, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, v, at); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_backups WHERE key=? AND seq=?`, key, seq); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
