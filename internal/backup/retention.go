package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// snapshotName returns the file name Snapshot gives a copy of the database
// with the given stem taken at t.
func snapshotName(stem string, t time.Time) string {
	return fmt.Sprintf("%s-%s.db", stem, t.UTC().Format(timestampLayout))
}

// parseSnapshotName reports whether name is a snapshot of a database with
// the given stem and returns the time encoded in it.
func parseSnapshotName(name, stem string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, stem+"-")
	if !ok {
		return time.Time{}, false
	}
	rest, ok = strings.CutSuffix(rest, ".db")
	if !ok || len(rest) != len(timestampLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(timestampLayout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func stemOf(dbPath string) string {
	return strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
}

// List returns the snapshots of the database named stem found in dir, newest
// first. Any file whose name does not match the snapshot pattern is ignored,
// including the database itself when it lives in dir.
func List(dir, stem string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: read directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		taken, ok := parseSnapshotName(entry.Name(), stem)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed concurrently
		}
		backups = append(backups, Info{
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: taken,
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].Timestamp.Equal(backups[j].Timestamp) {
			return backups[i].Timestamp.After(backups[j].Timestamp)
		}
		return backups[i].Path > backups[j].Path
	})
	return backups, nil
}

// Prune deletes all but the keep newest snapshots of stem in dir and returns
// the removed paths. Deletion continues past individual failures.
func Prune(dir, stem string, keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("backup: keep must be positive, got %d", keep)
	}
	backups, err := List(dir, stem)
	if err != nil {
		return nil, err
	}
	if len(backups) <= keep {
		return nil, nil
	}

	var removed []string
	var errs []error
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, b.Path)
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("backup: prune: %w", errors.Join(errs...))
	}
	return removed, nil
}

// DiskUsage returns the total size of the snapshots of stem in dir.
func DiskUsage(dir, stem string) (int64, error) {
	backups, err := List(dir, stem)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, b := range backups {
		total += b.Size
	}
	return total, nil
}
