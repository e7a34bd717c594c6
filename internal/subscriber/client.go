package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"vdl2_feed/internal/models"
)

// Status describes the connection state reported to the status handler
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Handler consumes one decoded message
type Handler func(msg *models.EnrichedMessage)

// Client subscribes to the fan-out endpoint and reconnects with exponential
// backoff. Only messages published while connected are seen; nothing is replayed.
type Client struct {
	url            string
	dialer         *websocket.Dialer
	handler        Handler
	onStatus       func(Status)
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type Option func(*Client)

// WithStatusHandler registers a callback for connection state changes
func WithStatusHandler(fn func(Status)) Option {
	return func(c *Client) {
		c.onStatus = fn
	}
}

// WithBackoff overrides the 1s initial and 10s maximum reconnect delay
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = initial
		c.maxBackoff = max
	}
}

func NewClient(url string, handler Handler, opts ...Option) *Client {
	c := &Client{
		url:            url,
		dialer:         &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		handler:        handler,
		onStatus:       func(Status) {},
		initialBackoff: 1 * time.Second,
		maxBackoff:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects and delivers messages until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	backoff := c.initialBackoff
	c.onStatus(StatusConnecting)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("Failed to connect to feed", "url", c.url, "retry_in", backoff, "error", err)
			c.onStatus(StatusReconnecting)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, c.maxBackoff)
			continue
		}

		// Connection successful, reset retry state
		backoff = c.initialBackoff
		c.onStatus(StatusConnected)
		slog.Info("Connected to feed", "url", c.url)

		err = c.readMessages(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("Feed connection lost, reconnecting", "retry_in", backoff, "error", err)
		c.onStatus(StatusReconnecting)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, c.maxBackoff)
	}
}

func (c *Client) readMessages(ctx context.Context, conn *websocket.Conn) error {
	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		var msg models.EnrichedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Skipping undecodable frame", "error", err)
			continue
		}
		c.handler(&msg)
	}
}

// nextBackoff doubles the delay up to max
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
