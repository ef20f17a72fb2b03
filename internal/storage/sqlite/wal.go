package sqlite

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// storeOpener opens a knowledge store at dsn.
type storeOpener func(dsn string, logger *zap.Logger) (*KnowledgeStore, error)

// holdsFiles reports whether any process has one of paths open.
type holdsFiles func(paths ...string) bool

// openRecovering opens dsn with open. When that fails with an I/O or busy
// error and the database has -wal/-shm sidecars that no process holds, the
// sidecars are removed and the open is retried once.
func openRecovering(dsn string, logger *zap.Logger, open storeOpener, held holdsFiles) (*KnowledgeStore, error) {
	store, err := open(dsn, logger)
	if err == nil || !isRecoverableWALError(err) {
		return store, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" {
		return nil, err
	}
	sidecars := existingSidecars(dbPath)
	if len(sidecars) == 0 || held(append([]string{dbPath}, sidecars...)...) {
		return nil, err
	}

	for _, path := range sidecars {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove stale WAL file", zap.String("path", path), zap.Error(rmErr))
		}
	}

	store, retryErr := open(dsn, logger)
	if retryErr != nil {
		return nil, fmt.Errorf("open after removing stale WAL files: %w (first attempt: %v)", retryErr, err)
	}
	logger.Warn("removed stale WAL files", zap.String("path", dbPath), zap.Strings("files", sidecars))
	return store, nil
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN. It handles
// bare paths and file: URIs and returns "" for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if !strings.HasPrefix(dsn, "file:") {
		return dsn
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == ":memory:" || path == "" || u.Query().Get("mode") == "memory" {
		return ""
	}
	return path
}

// isRecoverableWALError reports whether err is the I/O or lock failure
// SQLite returns when a crashed process left its shared-memory file behind.
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_IOERR, sqlite3.SQLITE_BUSY:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

func existingSidecars(dbPath string) []string {
	var found []string
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(dbPath + suffix); err == nil {
			found = append(found, dbPath+suffix)
		}
	}
	return found
}

// lsofHolds asks lsof whether any process has paths open. It answers true
// when lsof is unavailable or fails for any reason other than finding no
// holder, so that files are only ever removed on a definite answer.
func lsofHolds(paths ...string) bool {
	lsof, err := exec.LookPath("lsof")
	if err != nil {
		return true
	}
	out, err := exec.Command(lsof, append([]string{"-t"}, paths...)...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false
	}
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(out)) != ""
}
