package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"atelier/internal/errors"
	"atelier/internal/logging"
)

// CleanupReport summarizes one cleanup pass. Failures carry on to the next
// file; the report says what happened to each.
type CleanupReport struct {
	Examined int
	Deleted  []string // session ids
	Failed   map[string]error
}

// Cleanup deletes persisted session files whose close time is older than
// maxAge. Files that cannot be read are judged by modification time, so a
// corrupt file still ages out eventually.
func (st *Store) Cleanup(maxAge time.Duration) (CleanupReport, error) {
	report := CleanupReport{Failed: make(map[string]error)}
	cutoff := time.Now().UTC().Add(-maxAge)

	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return report, errors.Internal("list sessions directory", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		report.Examined++
		id := strings.TrimSuffix(name, ".json")
		path := filepath.Join(st.dir, name)

		age, err := closedOrModTime(path, entry)
		if err != nil {
			report.Failed[id] = err
			continue
		}
		if !age.Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			logging.PersistWarn("cleanup could not delete %s: %v", path, err)
			report.Failed[id] = err
			continue
		}
		report.Deleted = append(report.Deleted, id)
	}

	logging.Persist("cleanup examined %d files, deleted %d, failed %d",
		report.Examined, len(report.Deleted), len(report.Failed))
	return report, nil
}

// closedOrModTime prefers the recorded close time and falls back to the
// file's mtime when the content is unreadable.
func closedOrModTime(path string, entry os.DirEntry) (time.Time, error) {
	if raw, err := os.ReadFile(path); err == nil {
		var peek struct {
			ClosedAt string `json:"closed_at"`
		}
		if jsonErr := json.Unmarshal(raw, &peek); jsonErr == nil && peek.ClosedAt != "" {
			if t, parseErr := time.Parse(time.RFC3339Nano, peek.ClosedAt); parseErr == nil {
				return t, nil
			}
		}
	}
	info, err := entry.Info()
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
