package subscriber

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"vdl2_feed/internal/fanout"
	"vdl2_feed/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) count(s Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.statuses {
		if st == s {
			n++
		}
	}
	return n
}

func TestNextBackoff(t *testing.T) {
	max := 10 * time.Second
	backoff := 1 * time.Second
	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, backoff)
		backoff = nextBackoff(backoff, max)
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, got)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestClient_ReceivesAndReconnects(t *testing.T) {
	hub := fanout.NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	received := make(chan *models.EnrichedMessage, 10)
	recorder := &statusRecorder{}
	client := NewClient(url, func(msg *models.EnrichedMessage) { received <- msg },
		WithStatusHandler(recorder.record),
		WithBackoff(10*time.Millisecond, 50*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool { return recorder.count(StatusConnected) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	frame := []byte(`{"vdl2":{"avlc":{"src":{"addr":"A12345"}}},"db":{"reg":"N123","ownop":"Acme Air"},"timestamp_iso":"2023-11-14T22:13:20.000Z"}`)
	require.Equal(t, 1, hub.Publish(frame))

	select {
	case msg := <-received:
		assert.Equal(t, "a12345", msg.Key)
		assert.Equal(t, "N123", msg.DB.Registration)
		assert.Equal(t, "2023-11-14T22:13:20.000Z", msg.TimestampISO())
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	// a server-side disconnect triggers a reconnect
	hub.Close()
	require.Eventually(t, func() bool { return recorder.count(StatusConnected) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, recorder.count(StatusReconnecting), 1)

	// undecodable frames are skipped, later ones still arrive
	require.Equal(t, 1, hub.Publish([]byte(`not json`)))
	require.Equal(t, 1, hub.Publish(frame))
	select {
	case msg := <-received:
		assert.Equal(t, "Acme Air", msg.DB.OwnerOp)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received after reconnect")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClient_RetriesWhileServerDown(t *testing.T) {
	// reserve an address, then close it so dials are refused
	srv := httptest.NewServer(fanout.NewHub())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	recorder := &statusRecorder{}
	client := NewClient(url, func(*models.EnrichedMessage) {},
		WithStatusHandler(recorder.record),
		WithBackoff(5*time.Millisecond, 20*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := client.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, recorder.count(StatusReconnecting), 3)
	assert.Equal(t, 0, recorder.count(StatusConnected))
}
