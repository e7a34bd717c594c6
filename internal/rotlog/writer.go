// Package rotlog appends enriched messages to one JSONL file per local day.
//
// Files are named <prefix>-YYYY-MM-DD.jsonl inside the log directory and a
// <prefix>-latest.jsonl symlink always points at the current day. Rotation
// and pruning never return errors: failures are logged and retried on the
// next call so a filesystem hiccup cannot stall ingestion.
package rotlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	dateLayout = "2006-01-02"
	extension  = ".jsonl"
)

// Writer is safe for concurrent use; the rotation timer and the ingestion
// path both call RotateIfNeeded.
type Writer struct {
	dir       string
	prefix    string
	retention int
	now       func() time.Time

	mu   sync.Mutex
	day  string
	path string
	file *os.File
}

type Option func(*Writer)

// WithClock replaces time.Now, used to simulate day changes
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// New creates the log directory and opens the current day's file.
// retentionDays is the number of days before today whose files are kept.
func New(dir, prefix string, retentionDays int, opts ...Option) (*Writer, error) {
	if prefix == "" {
		return nil, fmt.Errorf("log prefix is required")
	}
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention must be at least one day, got %d", retentionDays)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	w := &Writer{
		dir:       dir,
		prefix:    prefix,
		retention: retentionDays,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.RotateIfNeeded()
	return w, nil
}

// PathFor returns the file name used for the local day containing t
func (w *Writer) PathFor(t time.Time) string {
	return filepath.Join(w.dir, w.prefix+"-"+t.Local().Format(dateLayout)+extension)
}

// AliasPath returns the path of the latest symlink
func (w *Writer) AliasPath() string {
	return filepath.Join(w.dir, w.prefix+"-latest"+extension)
}

// CurrentPath returns the file currently appended to
func (w *Writer) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Write appends line followed by a newline to the current day's file
func (w *Writer) Write(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if w.path == "" {
			return fmt.Errorf("no current log file")
		}
		f, err := openAppend(w.path)
		if err != nil {
			return err
		}
		w.file = f
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("failed to append to %s: %w", w.path, err)
	}
	return nil
}

// RotateIfNeeded switches to a new file when the local date has changed since the last rotation
func (w *Writer) RotateIfNeeded() {
	now := w.now()
	day := now.Local().Format(dateLayout)

	w.mu.Lock()
	defer w.mu.Unlock()

	if day == w.day {
		return
	}
	w.rotateLocked(now, day)
}

// Prune removes files whose date is older than the retention window
func (w *Writer) Prune() {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
}

// Close closes the current file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *Writer) rotateLocked(now time.Time, day string) {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			slog.Warn("Failed to close log file", "path", w.path, "error", err)
		}
		w.file = nil
	}

	w.path = w.PathFor(now)
	f, err := openAppend(w.path)
	if err != nil {
		// day stays stale so the next call retries
		slog.Error("Failed to open log file", "path", w.path, "error", err)
		return
	}
	w.file = f
	w.day = day

	if err := w.pointAlias(); err != nil {
		slog.Error("Failed to update latest log alias", "alias", w.AliasPath(), "error", err)
	}

	slog.Info("Rotated log file", "path", w.path)
	w.pruneLocked(now)
}

// pointAlias replaces the symlink atomically via rename
func (w *Writer) pointAlias() error {
	alias := w.AliasPath()
	tmp := alias + ".tmp"

	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Symlink(filepath.Base(w.path), tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, alias); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (w *Writer) pruneLocked(now time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Error("Failed to list log dir", "dir", w.dir, "error", err)
		return
	}

	local := now.Local()
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
	cutoff := midnight.AddDate(0, 0, -w.retention)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, ok := w.fileDate(entry.Name())
		if !ok || !date.Before(cutoff) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if path == w.path {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to prune log file", "path", path, "error", err)
			continue
		}
		slog.Info("Pruned log file", "path", path)
	}
}

// fileDate extracts the date embedded in a daily file name; the alias and
// foreign files do not parse.
func (w *Writer) fileDate(name string) (time.Time, bool) {
	head := w.prefix + "-"
	if !strings.HasPrefix(name, head) || !strings.HasSuffix(name, extension) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, head), extension)
	date, err := time.ParseInLocation(dateLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}
