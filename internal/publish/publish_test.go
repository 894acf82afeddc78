package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"oeetrack/internal/config"
	"oeetrack/internal/model"
)

type fakeWriter struct {
	failures int
	calls    int
	got      []kafka.Message
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.got = append(f.got, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherRetriesThenWrites(t *testing.T) {
	w := &fakeWriter{failures: 2}
	p := NewKafka(w, nil)
	p.backoff = time.Millisecond
	snap := model.Snapshot{Key: "2_2024", Month: 2, Year: 2024, KPI: model.KPI{OEE: 42.5}}
	if err := p.Publish(context.Background(), snap); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if w.calls != 3 || len(w.got) != 1 {
		t.Fatalf("calls=%d messages=%d", w.calls, len(w.got))
	}
	if string(w.got[0].Key) != "2_2024" {
		t.Fatalf("key: %s", w.got[0].Key)
	}
	var decoded model.Snapshot
	if err := json.Unmarshal(w.got[0].Value, &decoded); err != nil || decoded.KPI.OEE != 42.5 {
		t.Fatalf("value: %+v %v", decoded, err)
	}
	_ = p.Close()
	if !w.closed {
		t.Fatalf("writer not closed")
	}
}

func TestKafkaPublisherGivesUp(t *testing.T) {
	w := &fakeWriter{failures: 10}
	p := NewKafka(w, nil)
	p.backoff = time.Millisecond
	if err := p.Publish(context.Background(), model.Snapshot{Key: "1_2024"}); err == nil {
		t.Fatalf("expected error after retries")
	}
	if w.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", w.calls)
	}
}

func TestNewDisabledIsNoop(t *testing.T) {
	if _, ok := New(config.PublishConfig{Enabled: false}, nil).(Noop); !ok {
		t.Fatalf("expected Noop publisher")
	}
}

func TestBackoffSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if BackoffSleep(ctx, time.Hour) {
		t.Fatalf("expected cancellation")
	}
}
