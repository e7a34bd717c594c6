// Package enrich attaches aircraft reference data to decoded messages.
//
// Misses are cached for the life of the process so an unknown address costs
// one query, and each one is written to a daily ledger file for operators.
// An Enricher is owned by the ingestion goroutine and is not safe for
// concurrent use.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"vdl2_feed/internal/database"
	"vdl2_feed/internal/models"
)

// DefaultLookupTimeout bounds a single reference query
const DefaultLookupTimeout = 2 * time.Second

// Finder is the read side of the aircraft repository
type Finder interface {
	FindByICAO(ctx context.Context, icao string) (*models.Aircraft, error)
}

type Enricher struct {
	finder  Finder
	ledger  *Ledger
	timeout time.Duration
	unknown map[string]struct{}
	seen    map[string]struct{}
	misses  atomic.Int64
}

func New(finder Finder, ledger *Ledger) *Enricher {
	return &Enricher{
		finder:  finder,
		ledger:  ledger,
		timeout: DefaultLookupTimeout,
		unknown: make(map[string]struct{}),
		seen:    make(map[string]struct{}),
	}
}

// Lookup returns the enrichment for key. Absent keys, unknown keys and
// lookup failures all produce the empty enrichment; failures are logged.
func (e *Enricher) Lookup(ctx context.Context, key string, at time.Time) models.Enrichment {
	if models.IsAbsent(key) {
		return models.Enrichment{}
	}

	if _, ok := e.unknown[key]; ok {
		e.recordMiss(key, at)
		return models.Enrichment{}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ac, err := e.finder.FindByICAO(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		e.unknown[key] = struct{}{}
		e.misses.Add(1)
		e.recordMiss(key, at)
		return models.Enrichment{}
	}
	if err != nil {
		// not cached: the next message for this key retries the query
		slog.Warn("Aircraft lookup failed", "icao", key, "error", err)
		return models.Enrichment{}
	}

	if _, ok := e.seen[key]; !ok {
		e.seen[key] = struct{}{}
		slog.Debug("Aircraft matched reference table",
			"icao", key,
			"reg", ac.Registration,
			"icaotype", ac.ICAOType,
			"ownop", ac.OwnerOp,
		)
	}

	return ac.Enrichment()
}

// UnknownCount returns the number of addresses confirmed absent so far.
// Safe to call from any goroutine.
func (e *Enricher) UnknownCount() int64 {
	return e.misses.Load()
}

func (e *Enricher) recordMiss(key string, at time.Time) {
	if e.ledger == nil {
		return
	}
	written, err := e.ledger.Record(key, at)
	if err != nil {
		slog.Warn("Failed to record unknown aircraft", "icao", key, "error", err)
		return
	}
	if written {
		slog.Debug("Aircraft not found in reference table", "icao", key)
	}
}
