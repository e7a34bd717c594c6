package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrQueueFull is returned by Send when the dispatcher is backed up and the frame was dropped
var ErrQueueFull = errors.New("kafka queue full, frame dropped")

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Capacity int           // frames buffered ahead of the writer
	MaxBatch int           // frames per produce request
	Tick     time.Duration // flush interval for partial batches
}

// KafkaSink batches frames in a background goroutine keyed by address so one
// aircraft stays on one partition. kafka.Writer resolves partition metadata
// inside WriteMessages, so writes never happen on the caller's goroutine.
type KafkaSink struct {
	writer   *kafka.Writer
	input    chan kafka.Message
	stop     chan struct{}
	done     chan struct{}
	maxBatch int
	tick     time.Duration
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 500 * time.Millisecond
	}

	s := &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.MaxBatch,
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		input:    make(chan kafka.Message, cfg.Capacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		maxBatch: cfg.MaxBatch,
		tick:     cfg.Tick,
	}
	go s.loop()
	return s, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

// Send enqueues without blocking
func (s *KafkaSink) Send(key string, frame []byte) error {
	select {
	case s.input <- kafka.Message{Key: []byte(key), Value: frame}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close flushes what is queued and stops the dispatcher
func (s *KafkaSink) Close() error {
	close(s.stop)
	<-s.done
	return s.writer.Close()
}

func (s *KafkaSink) loop() {
	defer close(s.done)

	batch := make([]kafka.Message, 0, s.maxBatch)
	t := time.NewTicker(s.tick)
	defer t.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.writer.WriteMessages(ctx, batch...); err != nil {
			slog.Warn("Kafka batch write failed", "topic", s.writer.Topic, "messages", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case m := <-s.input:
			batch = append(batch, m)
			if len(batch) >= s.maxBatch {
				flush()
			}
		case <-t.C:
			flush()
		case <-s.stop:
			for {
				select {
				case m := <-s.input:
					batch = append(batch, m)
				default:
					flush()
					return
				}
			}
		}
	}
}
