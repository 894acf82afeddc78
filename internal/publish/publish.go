// Package publish announces saved history snapshots on a message bus.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"oeetrack/internal/config"
	"oeetrack/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, snap model.Snapshot) error
	Close() error
}

// New returns a Kafka publisher when publishing is enabled, Noop otherwise.
func New(cfg config.PublishConfig, logger *slog.Logger) Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		if logger != nil {
			logger.Info("snapshot publishing disabled")
		}
		return Noop{}
	}
	if logger != nil {
		logger.Info("snapshot publishing enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return NewKafka(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, logger)
}

type Noop struct{}

func (Noop) Publish(context.Context, model.Snapshot) error { return nil }
func (Noop) Close() error                                  { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per snapshot, keyed by the snapshot key
// so every revision of a month lands on the same partition.
type KafkaPublisher struct {
	writer   messageWriter
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

func NewKafka(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger, attempts: 3, backoff: 200 * time.Millisecond}
}

func (p *KafkaPublisher) Publish(ctx context.Context, snap model.Snapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(snap.Key),
		Value: value,
		Time:  snap.SavedAt,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	delay := p.backoff
	for attempt := 1; ; attempt++ {
		err = p.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt >= p.attempts {
			return err
		}
		if p.logger != nil {
			p.logger.Warn("kafka publish retry", "key", snap.Key, "attempt", attempt, "err", err)
		}
		if !BackoffSleep(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
