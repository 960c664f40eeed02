package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const summaryTimeLayout = "20060102T150405Z"

// SummaryFileName is the name Persist writes s under.
func SummaryFileName(s Summary) string {
	ts := s.GeneratedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return "bid-summary-" + ts.UTC().Format(summaryTimeLayout) + ".json"
}

// Persist writes s as indented JSON into dir and returns the file path. The
// file appears atomically; a crash never leaves a half-written summary.
func Persist(dir string, s Summary) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	b = append(b, '\n')

	path := filepath.Join(dir, SummaryFileName(s))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}
