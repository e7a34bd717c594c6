// Package ingest runs the per-datagram pipeline: receive, normalize, enrich,
// persist, aggregate and publish. Datagrams are processed one at a time in
// arrival order, and no step can stop the loop: each one logs its own
// failures and the message carries on (or, if unparseable, is dropped).
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"vdl2_feed/internal/models"
)

// maxDatagramSize is the largest UDP payload
const maxDatagramSize = 65535

// Delay after a failed read, doubling while the socket keeps failing
const (
	readRetryInitial = 50 * time.Millisecond
	readRetryMax     = 2 * time.Second
)

type LogWriter interface {
	RotateIfNeeded()
	Write(line []byte) error
}

type Lookup interface {
	Lookup(ctx context.Context, key string, at time.Time) models.Enrichment
}

type Recorder interface {
	Record(msg *models.EnrichedMessage, processedAt time.Time)
}

type Publisher interface {
	Publish(key string, frame []byte)
}

type Ingestor struct {
	log       LogWriter
	lookup    Lookup
	stats     Recorder
	publisher Publisher
	now       func() time.Time

	received atomic.Int64
	dropped  atomic.Int64
}

func New(log LogWriter, lookup Lookup, stats Recorder, publisher Publisher) *Ingestor {
	return &Ingestor{
		log:       log,
		lookup:    lookup,
		stats:     stats,
		publisher: publisher,
		now:       time.Now,
	}
}

// ListenAndServe opens the UDP socket and serves until ctx is cancelled
func (i *Ingestor) ListenAndServe(ctx context.Context, addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer pc.Close()

	slog.Info("Listening for decoder datagrams", "addr", pc.LocalAddr().String())
	return i.Serve(ctx, pc)
}

// Serve reads datagrams from conn until ctx is cancelled or conn is closed
func (i *Ingestor) Serve(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, maxDatagramSize)
	retry := readRetryInitial

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Set read deadline so cancellation is noticed on an idle socket
		if err := conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // Timeout is OK, just retry
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("UDP read error", "retry_in", retry, "error", err)
			if !wait(ctx, retry) {
				return nil
			}
			retry = min(retry*2, readRetryMax)
			continue
		}
		retry = readRetryInitial

		payload := bytes.TrimSpace(buf[:n])
		if len(payload) == 0 {
			continue
		}
		i.Process(ctx, payload)
	}
}

// wait sleeps for d and reports false if ctx ended first
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Process runs one datagram through the pipeline. It returns the enriched
// message, or nil when the payload could not be parsed.
func (i *Ingestor) Process(ctx context.Context, payload []byte) *models.EnrichedMessage {
	now := i.now()
	i.received.Add(1)

	i.log.RotateIfNeeded()

	raw, err := models.ParseRawMessage(payload)
	if err != nil {
		i.dropped.Add(1)
		slog.Warn("Dropping malformed datagram", "bytes", len(payload), "error", err)
		return nil
	}

	key := models.NormalizeAddress(raw.Address())

	var db models.Enrichment
	if models.IsAbsent(key) {
		slog.Debug("Message has no source address, skipping lookup")
	} else {
		db = i.lookup.Lookup(ctx, key, now)
	}

	msg := models.NewEnrichedMessage(raw, key, db, now)

	line, err := json.Marshal(msg)
	if err != nil {
		i.dropped.Add(1)
		slog.Error("Failed to encode enriched message", "icao", key, "error", err)
		return nil
	}

	if err := i.log.Write(line); err != nil {
		slog.Error("Failed to append message to log", "icao", key, "error", err)
	}

	i.stats.Record(msg, now)
	i.publisher.Publish(key, line)

	return msg
}

// Received returns the number of datagrams seen, including dropped ones
func (i *Ingestor) Received() int64 {
	return i.received.Load()
}

// Dropped returns the number of datagrams discarded as malformed
func (i *Ingestor) Dropped() int64 {
	return i.dropped.Load()
}
