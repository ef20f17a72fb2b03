// Package backup takes point-in-time snapshots of the SQLite knowledge
// database, verifies them and prunes old ones.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timestampLayout names snapshots so that lexical order is creation order.
const timestampLayout = "20060102-150405.000000000"

// Config holds the settings of one backup run.
type Config struct {
	// DBPath is the SQLite database file to back up.
	DBPath string

	// Dir is the directory snapshots are written to. It is created if needed.
	Dir string

	// Keep is how many snapshots of DBPath survive pruning, newest first.
	Keep int

	// Verify runs an integrity check on every new snapshot.
	Verify bool
}

// Info describes a snapshot file.
type Info struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// Result contains the outcome of a backup run.
type Result struct {
	Path     string
	Duration time.Duration
	Size     int64
	Verified bool
	Pruned   []string
}

// Run snapshots cfg.DBPath into cfg.Dir, optionally verifies the snapshot and
// prunes the snapshots of that database down to cfg.Keep. Other files in
// cfg.Dir, the database itself included, are never removed.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.DBPath == "" {
		return Result{}, errors.New("backup: database path is required")
	}
	if cfg.Dir == "" {
		return Result{}, errors.New("backup: backup directory is required")
	}
	if cfg.Keep < 1 {
		return Result{}, fmt.Errorf("backup: keep must be positive, got %d", cfg.Keep)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("backup: create directory: %w", err)
	}

	start := time.Now()
	path, err := Snapshot(ctx, cfg.DBPath, cfg.Dir, start)
	if err != nil {
		return Result{}, err
	}
	res := Result{Path: path}

	if cfg.Verify {
		if err := Verify(ctx, path); err != nil {
			_ = os.Remove(path)
			return Result{}, err
		}
		res.Verified = true
	}

	st, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("backup: stat snapshot: %w", err)
	}
	res.Size = st.Size()
	res.Duration = time.Since(start)

	if res.Pruned, err = Prune(cfg.Dir, stemOf(cfg.DBPath), cfg.Keep); err != nil {
		return res, err
	}
	return res, nil
}

// Snapshot writes a consistent copy of the database at src into dir and
// returns its path. VACUUM INTO reads through the WAL, so the copy is safe to
// take while a server holds the database open.
func Snapshot(ctx context.Context, src, dir string, at time.Time) (string, error) {
	db, err := openReadOnly(ctx, src)
	if err != nil {
		return "", fmt.Errorf("backup: open source: %w", err)
	}
	defer func() { _ = db.Close() }()

	dest := filepath.Join(dir, snapshotName(stemOf(src), at))

	if _, err := db.ExecContext(ctx, "VACUUM INTO "+quoteLiteral(dest)); err != nil {
		return "", fmt.Errorf("backup: vacuum into %s: %w", dest, err)
	}
	return dest, nil
}

// Verify runs PRAGMA integrity_check against the snapshot at path.
func Verify(ctx context.Context, path string) error {
	db, err := openReadOnly(ctx, path)
	if err != nil {
		return fmt.Errorf("backup: open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed for %s: %s", path, result)
	}
	return nil
}

func openReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
