// Package stats keeps rolling in-memory statistics over the enriched stream.
package stats

import (
	"sort"
	"sync"
	"time"

	"vdl2_feed/internal/models"
)

const (
	// MaxBuckets bounds the minute series to 24 hours
	MaxBuckets = 1440
	// TimelineBuckets is the window returned to timeline queries (2 hours)
	TimelineBuckets = 120
	// TopN is the size of the owner and model tables returned by Summary
	TopN = 10
	// UnknownLabel buckets messages without an owner or model
	UnknownLabel = "Unknown"
	// MinuteLayout is the bucket key format
	MinuteLayout = "2006-01-02T15:04"
)

// Bucket counts messages processed during one minute
type Bucket struct {
	Time  string `json:"time"`
	Count int64  `json:"count"`
}

type OwnerCount struct {
	Owner string `json:"owner"`
	Count int64  `json:"count"`
}

type ModelCount struct {
	Model string `json:"model"`
	Count int64  `json:"count"`
}

// Summary is the point-in-time view served by the query surface
type Summary struct {
	TotalPackets   int64        `json:"totalPackets"`
	UniqueAircraft int          `json:"uniqueAircraft"`
	UniqueFlights  int          `json:"uniqueFlights"`
	TopOwners      []OwnerCount `json:"topOwners"`
	TopModels      []ModelCount `json:"topModels"`
}

// Aggregator has a single writer (the ingestion loop) and any number of readers
type Aggregator struct {
	mu       sync.RWMutex
	total    int64
	aircraft map[string]struct{}
	flights  map[string]struct{}
	owners   map[string]int64
	models   map[string]int64
	buckets  []Bucket
}

func New() *Aggregator {
	return &Aggregator{
		aircraft: make(map[string]struct{}),
		flights:  make(map[string]struct{}),
		owners:   make(map[string]int64),
		models:   make(map[string]int64),
		buckets:  make([]Bucket, 0, MaxBuckets),
	}
}

// Record adds one message. The minute bucket is taken from processedAt,
// not from the message's own timestamp.
func (a *Aggregator) Record(msg *models.EnrichedMessage, processedAt time.Time) {
	minute := processedAt.UTC().Truncate(time.Minute).Format(MinuteLayout)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if !models.IsAbsent(msg.Key) {
		a.aircraft[msg.Key] = struct{}{}
	}
	if msg.Flight != "" {
		a.flights[msg.Flight] = struct{}{}
	}
	a.owners[labelOrUnknown(msg.DB.OwnerOp)]++
	a.models[labelOrUnknown(msg.DB.Model)]++

	if n := len(a.buckets); n > 0 && a.buckets[n-1].Time == minute {
		a.buckets[n-1].Count++
		return
	}
	a.buckets = append(a.buckets, Bucket{Time: minute, Count: 1})
	if len(a.buckets) > MaxBuckets {
		// shift in place so the backing array does not grow without bound
		copy(a.buckets, a.buckets[1:])
		a.buckets = a.buckets[:MaxBuckets]
	}
}

// Summary returns totals and the top n owners and models
func (a *Aggregator) Summary(n int) Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Summary{
		TotalPackets:   a.total,
		UniqueAircraft: len(a.aircraft),
		UniqueFlights:  len(a.flights),
		TopOwners:      make([]OwnerCount, 0, n),
		TopModels:      make([]ModelCount, 0, n),
	}
	for _, e := range topN(a.owners, n) {
		s.TopOwners = append(s.TopOwners, OwnerCount{Owner: e.label, Count: e.count})
	}
	for _, e := range topN(a.models, n) {
		s.TopModels = append(s.TopModels, ModelCount{Model: e.label, Count: e.count})
	}
	return s
}

// Timeline returns a copy of the most recent n minute buckets, oldest first
func (a *Aggregator) Timeline(n int) []Bucket {
	a.mu.RLock()
	defer a.mu.RUnlock()

	start := 0
	if n >= 0 && len(a.buckets) > n {
		start = len(a.buckets) - n
	}
	out := make([]Bucket, len(a.buckets)-start)
	copy(out, a.buckets[start:])
	return out
}

// BucketCount returns the length of the minute series
func (a *Aggregator) BucketCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.buckets)
}

type entry struct {
	label string
	count int64
}

// topN sorts by count descending, ties by label so equal counts keep a stable order
func topN(counts map[string]int64, n int) []entry {
	entries := make([]entry, 0, len(counts))
	for label, count := range counts {
		entries = append(entries, entry{label: label, count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].label < entries[j].label
	})
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func labelOrUnknown(s string) string {
	if s == "" {
		return UnknownLabel
	}
	return s
}
