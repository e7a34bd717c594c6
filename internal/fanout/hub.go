// Package fanout pushes every enriched message to all live subscribers.
//
// Delivery is best-effort: each subscriber has a writer goroutine fed
// through a bounded queue that stands in for the socket send buffer. A
// subscriber is ready while its queue has room. Publish never waits on a
// slow or broken subscriber; it skips it for that message. Nothing is
// retried or replayed.
package fanout

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// subscribers only send control frames
	maxReadSize = 512
	// SendQueueSize is the per-subscriber frame queue; a subscriber whose
	// queue is full misses frames until its writer catches up
	SendQueueSize = 256
)

type subscriber struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	remote string
}

// Hub is the WebSocket publish point. It implements http.Handler.
type Hub struct {
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	skipped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// dashboards are served from other origins; subscribers are not authenticated
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the subscriber until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		slog.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := &subscriber{
		conn:   conn,
		send:   make(chan []byte, SendQueueSize),
		done:   make(chan struct{}),
		remote: r.RemoteAddr,
	}
	h.add(s)

	go h.writeLoop(s)
	h.readLoop(s)
}

// Publish queues frame for every subscriber with room and returns how many accepted it
func (h *Hub) Publish(frame []byte) int {
	h.mu.RLock()
	snapshot := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range snapshot {
		select {
		case s.send <- frame:
			delivered++
		default:
			h.skipped.Add(1)
		}
	}
	return delivered
}

// Skipped returns how many frames were not queued because a subscriber's queue was full
func (h *Hub) Skipped() int64 {
	return h.skipped.Load()
}

// Count returns the number of connected subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		s.close()
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	slog.Info("Subscriber connected", "remote", s.remote, "subscribers", n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	s.close()
	if ok {
		slog.Info("Subscriber disconnected", "remote", s.remote, "subscribers", n)
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (h *Hub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("Subscriber write failed", "remote", s.remote, "error", err)
				h.remove(s)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s)
				return
			}
		}
	}
}

// readLoop drains control frames so pongs and close handshakes are processed
func (h *Hub) readLoop(s *subscriber) {
	defer h.remove(s)

	s.conn.SetReadLimit(maxReadSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Subscriber read failed", "remote", s.remote, "error", err)
			}
			return
		}
	}
}
