package fanout

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// sinkErrorLogInterval bounds how often one sink's failures are logged
const sinkErrorLogInterval = 10 * time.Second

// Sink is an additional best-effort destination such as a broker bridge.
// Send must not block the caller.
type Sink interface {
	Name() string
	Send(key string, frame []byte) error
	Close() error
}

type sinkState struct {
	sink    Sink
	logger  *rate.Sometimes
	dropped atomic.Int64 // failures since the last logged one
}

// Multi publishes each frame to the WebSocket hub and every configured sink
type Multi struct {
	hub   *Hub
	sinks []*sinkState
}

func NewMulti(hub *Hub, sinks ...Sink) *Multi {
	m := &Multi{hub: hub}
	for _, sink := range sinks {
		m.sinks = append(m.sinks, &sinkState{
			sink:   sink,
			logger: &rate.Sometimes{First: 1, Interval: sinkErrorLogInterval},
		})
	}
	return m
}

// Publish never fails. Sink errors are dropped and logged at most once per
// interval per sink, with the number of frames lost since the previous line.
func (m *Multi) Publish(key string, frame []byte) {
	if m.hub != nil {
		m.hub.Publish(frame)
	}
	for _, s := range m.sinks {
		err := s.sink.Send(key, frame)
		if err == nil {
			continue
		}
		s.dropped.Add(1)
		s.logger.Do(func() {
			slog.Warn("Failed to publish to sink",
				"sink", s.sink.Name(),
				"dropped", s.dropped.Swap(0),
				"error", err,
			)
		})
	}
}

// Close disconnects subscribers and closes every sink
func (m *Multi) Close() {
	if m.hub != nil {
		m.hub.Close()
	}
	for _, s := range m.sinks {
		if err := s.sink.Close(); err != nil {
			slog.Warn("Failed to close sink", "sink", s.sink.Name(), "error", err)
		}
	}
}
