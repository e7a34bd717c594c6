package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vdl2_feed/internal/database"
	"vdl2_feed/internal/enrich"
	"vdl2_feed/internal/models"
	"vdl2_feed/internal/rotlog"
	"vdl2_feed/internal/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key   string
	frame []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	frames []published
}

func (p *recordingPublisher) Publish(key string, frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, published{key: key, frame: frame})
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.frames...)
}

type pipeline struct {
	ingestor  *Ingestor
	log       *rotlog.Writer
	stats     *stats.Aggregator
	enricher  *enrich.Enricher
	publisher *recordingPublisher
	logDir    string
}

func setupPipeline(t *testing.T) *pipeline {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "aircraft.db")

	w, err := database.OpenWritable(dbPath)
	require.NoError(t, err)
	require.NoError(t, w.Aircraft().InsertBatch([]*models.Aircraft{{
		ICAO:         "a12345",
		Registration: "N123",
		ICAOType:     "B738",
		OwnerOp:      "Acme Air",
	}}))
	require.NoError(t, w.Close())

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logDir := filepath.Join(dir, "logs")
	lw, err := rotlog.New(logDir, "vdl2", 7)
	require.NoError(t, err)
	t.Cleanup(func() { lw.Close() })

	p := &pipeline{
		log:       lw,
		stats:     stats.New(),
		enricher:  enrich.New(db.Aircraft(), enrich.NewLedger(logDir)),
		publisher: &recordingPublisher{},
		logDir:    logDir,
	}
	p.ingestor = New(p.log, p.enricher, p.stats, p.publisher)
	return p
}

func logLines(t *testing.T, w *rotlog.Writer) []string {
	t.Helper()
	data, err := os.ReadFile(w.CurrentPath())
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

const knownDatagram = `{"vdl2":{"avlc":{"src":{"addr":"A12345"}},"t":{"sec":1700000000}},"flight":"ACM1"}`

func TestProcess_EnrichesKnownAircraft(t *testing.T) {
	p := setupPipeline(t)

	msg := p.ingestor.Process(context.Background(), []byte(knownDatagram))
	require.NotNil(t, msg)
	assert.Equal(t, "a12345", msg.Key)
	assert.Equal(t, "N123", msg.DB.Registration)

	lines := logLines(t, p.log)
	require.Len(t, lines, 1)

	var logged map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &logged))
	db, ok := logged["db"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "N123", db["reg"])
	assert.Equal(t, "B738", db["icaotype"])
	assert.Equal(t, "2023-11-14T22:13:20.000Z", logged["timestamp_iso"])
	assert.Equal(t, "ACM1", logged["flight"])

	summary := p.stats.Summary(stats.TopN)
	assert.GreaterOrEqual(t, summary.TotalPackets, int64(1))
	assert.GreaterOrEqual(t, summary.UniqueAircraft, 1)
	assert.Contains(t, summary.TopOwners, stats.OwnerCount{Owner: "Acme Air", Count: 1})

	frames := p.publisher.all()
	require.Len(t, frames, 1)
	assert.Equal(t, "a12345", frames[0].key)
	assert.JSONEq(t, lines[0], string(frames[0].frame))
}

func TestProcess_MalformedDatagramIsDropped(t *testing.T) {
	p := setupPipeline(t)

	for _, payload := range []string{`{"vdl2":`, `not json`, `[1,2,3]`} {
		assert.Nil(t, p.ingestor.Process(context.Background(), []byte(payload)), payload)
	}

	assert.Empty(t, logLines(t, p.log))
	assert.Equal(t, int64(0), p.stats.Summary(stats.TopN).TotalPackets)
	assert.Empty(t, p.publisher.all())
	assert.Equal(t, int64(3), p.ingestor.Received())
	assert.Equal(t, int64(3), p.ingestor.Dropped())

	// The loop keeps going after bad input
	require.NotNil(t, p.ingestor.Process(context.Background(), []byte(knownDatagram)))
	assert.Len(t, logLines(t, p.log), 1)
}

func TestProcess_UnknownAircraft(t *testing.T) {
	p := setupPipeline(t)

	msg := p.ingestor.Process(context.Background(), []byte(`{"icao":" BEEF01 "}`))
	require.NotNil(t, msg)
	assert.Equal(t, "beef01", msg.Key)
	assert.True(t, msg.DB.IsEmpty())
	assert.Equal(t, int64(1), p.enricher.UnknownCount())

	summary := p.stats.Summary(stats.TopN)
	assert.Contains(t, summary.TopOwners, stats.OwnerCount{Owner: stats.UnknownLabel, Count: 1})

	ledger, err := os.ReadFile(enrich.NewLedger(p.logDir).Path(time.Now()))
	require.NoError(t, err)
	assert.Contains(t, string(ledger), "beef01")
}

func TestProcess_NoAddressSkipsLookup(t *testing.T) {
	p := setupPipeline(t)

	msg := p.ingestor.Process(context.Background(), []byte(`{"text":"hello"}`))
	require.NotNil(t, msg)
	assert.Equal(t, models.NoAddress, msg.Key)
	assert.True(t, msg.DB.IsEmpty())
	assert.Equal(t, int64(0), p.enricher.UnknownCount())

	summary := p.stats.Summary(stats.TopN)
	assert.Equal(t, int64(1), summary.TotalPackets)
	assert.Equal(t, 0, summary.UniqueAircraft)
	assert.Len(t, logLines(t, p.log), 1)
}

func TestProcess_PreservesOrder(t *testing.T) {
	p := setupPipeline(t)

	for _, flight := range []string{"AAA1", "BBB2", "CCC3"} {
		payload := `{"icao":"a12345","flight":"` + flight + `"}`
		require.NotNil(t, p.ingestor.Process(context.Background(), []byte(payload)))
	}

	lines := logLines(t, p.log)
	require.Len(t, lines, 3)
	for i, flight := range []string{"AAA1", "BBB2", "CCC3"} {
		assert.Contains(t, lines[i], flight)
	}
	assert.Equal(t, 3, p.stats.Summary(stats.TopN).UniqueFlights)
}

func TestServe_UDP(t *testing.T) {
	p := setupPipeline(t)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.ingestor.Serve(ctx, conn) }()

	client, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("garbage\n"))
	require.NoError(t, err)
	_, err = client.Write([]byte(knownDatagram + "\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(p.publisher.all()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(1), p.ingestor.Dropped())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestListenAndServe_BadAddress(t *testing.T) {
	p := setupPipeline(t)
	err := p.ingestor.ListenAndServe(context.Background(), "127.0.0.1:notaport")
	assert.Error(t, err)
}

// failingConn is a PacketConn whose reads always fail with a non-timeout error
type failingConn struct {
	net.PacketConn
	mu    sync.Mutex
	reads int
}

func (f *failingConn) ReadFrom(p []byte) (int, net.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return 0, nil, errors.New("connection refused")
}

func (f *failingConn) SetReadDeadline(t time.Time) error { return nil }

func (f *failingConn) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func TestServe_BacksOffOnPersistentReadErrors(t *testing.T) {
	p := setupPipeline(t)
	conn := &failingConn{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.ingestor.Serve(ctx, conn) }()

	// 50ms, 100ms, 200ms, 400ms: at most five reads fit in 500ms
	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.GreaterOrEqual(t, conn.readCount(), 2)
	assert.LessOrEqual(t, conn.readCount(), 6)
}
