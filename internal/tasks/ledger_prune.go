package tasks

import (
	"context"
	"time"
)

type LedgerPruner interface {
	Prune(now time.Time, retentionDays int) (int, error)
}

// LedgerPrune applies the log retention window to the unknown-aircraft ledger files
type LedgerPrune struct {
	ledger    LedgerPruner
	retention int
	interval  time.Duration
	now       func() time.Time
}

func NewLedgerPrune(ledger LedgerPruner, retentionDays int, interval time.Duration) *LedgerPrune {
	return &LedgerPrune{ledger: ledger, retention: retentionDays, interval: interval, now: time.Now}
}

func (t *LedgerPrune) Run(ctx context.Context) error {
	_, err := t.ledger.Prune(t.now(), t.retention)
	return err
}

func (t *LedgerPrune) Interval() time.Duration { return t.interval }

func (t *LedgerPrune) Name() string { return "ledger_prune" }
