package tasks

import (
	"context"
	"log/slog"
	"time"

	"vdl2_feed/internal/stats"
)

type SummarySource interface {
	Summary(n int) stats.Summary
}

// Counters exposes the ingest and fan-out counters reported alongside the summary.
// Any of the funcs may be nil.
type Counters struct {
	Received    func() int64
	Dropped     func() int64
	Unknown     func() int64
	Subscribers func() int
	Skipped     func() int64
}

// StatsReport logs a heartbeat line with the running totals
type StatsReport struct {
	source   SummarySource
	counters Counters
	interval time.Duration
}

func NewStatsReport(source SummarySource, counters Counters, interval time.Duration) *StatsReport {
	return &StatsReport{source: source, counters: counters, interval: interval}
}

func (t *StatsReport) Run(ctx context.Context) error {
	summary := t.source.Summary(1)

	attrs := []any{
		"total_packets", summary.TotalPackets,
		"unique_aircraft", summary.UniqueAircraft,
		"unique_flights", summary.UniqueFlights,
	}
	if len(summary.TopOwners) > 0 {
		attrs = append(attrs, "top_owner", summary.TopOwners[0].Owner)
	}
	if t.counters.Received != nil {
		attrs = append(attrs, "received", t.counters.Received())
	}
	if t.counters.Dropped != nil {
		attrs = append(attrs, "dropped", t.counters.Dropped())
	}
	if t.counters.Unknown != nil {
		attrs = append(attrs, "unknown_aircraft", t.counters.Unknown())
	}
	if t.counters.Subscribers != nil {
		attrs = append(attrs, "subscribers", t.counters.Subscribers())
	}
	if t.counters.Skipped != nil {
		attrs = append(attrs, "fanout_skipped", t.counters.Skipped())
	}

	slog.Info("Feed statistics", attrs...)
	return nil
}

func (t *StatsReport) Interval() time.Duration { return t.interval }

func (t *StatsReport) Name() string { return "stats_report" }
