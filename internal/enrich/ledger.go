package enrich

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vdl2_feed/internal/models"
)

const (
	ledgerDateLayout = "2006-01-02"
	ledgerPrefix     = "unknown-"
	ledgerExt        = ".log"
)

// Ledger appends one line per unknown address per local day to unknown-YYYY-MM-DD.log
type Ledger struct {
	dir    string
	logged map[string]string // key -> day stamp of the last line written
}

func NewLedger(dir string) *Ledger {
	return &Ledger{
		dir:    dir,
		logged: make(map[string]string),
	}
}

// Path returns the ledger file for the local day containing t
func (l *Ledger) Path(t time.Time) string {
	return filepath.Join(l.dir, ledgerPrefix+t.Local().Format(ledgerDateLayout)+ledgerExt)
}

// Record writes the miss line for key unless one was already written today.
// Returns true when a line was appended. A failed write is not remembered,
// so the next miss for the same key tries again.
func (l *Ledger) Record(key string, at time.Time) (bool, error) {
	day := at.Local().Format(ledgerDateLayout)
	if l.logged[key] == day {
		return false, nil
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create ledger dir: %w", err)
	}

	f, err := os.OpenFile(l.Path(at), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s — not found in DB\n", at.UTC().Format(models.TimestampLayout), key)
	if _, err := f.WriteString(line); err != nil {
		return false, fmt.Errorf("failed to append to ledger: %w", err)
	}

	l.logged[key] = day
	return true, nil
}

// Prune removes ledger files dated before local midnight of now minus retentionDays.
// It only touches files, so it may run alongside Record.
func (l *Ledger) Prune(now time.Time, retentionDays int) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list ledger dir: %w", err)
	}

	local := now.Local()
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local).
		AddDate(0, 0, -retentionDays)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, ledgerPrefix) || !strings.HasSuffix(name, ledgerExt) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, ledgerPrefix), ledgerExt)
		date, err := time.ParseInLocation(ledgerDateLayout, stamp, time.Local)
		if err != nil || !date.Before(cutoff) {
			continue
		}
		path := filepath.Join(l.dir, name)
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to prune ledger file", "path", path, "error", err)
			continue
		}
		slog.Info("Pruned ledger file", "path", path)
		removed++
	}
	return removed, nil
}
