package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/kafka"
	"github.com/rohitwanchoo/lsc-marketing-sub000/pkg/retry"
	"github.com/rohitwanchoo/lsc-marketing-sub000/pkg/telemetry"
)

// Notification kinds published to the events topic.
const (
	KindGuardrailTripped = "guardrail_tripped"
	KindRunFailed        = "run_failed"
	KindWinnerDeclared   = "winner_declared"
	KindExperimentKilled = "experiment_killed"
)

// Notification is a fire-and-forget event emitted by the engine.
type Notification struct {
	Kind       string          `json:"kind"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Outbox buffers notifications and drains them to Kafka in the background.
// Publish never blocks the caller; when the buffer is full the notification
// is dropped and counted.
type Outbox struct {
	topic    string
	producer kafka.Producer
	ch       chan Notification
	logger   *slog.Logger
	done     chan struct{}
}

func New(producer kafka.Producer, topic string, size int, logger *slog.Logger) *Outbox {
	if size <= 0 {
		size = 256
	}
	return &Outbox{
		topic:    topic,
		producer: producer,
		ch:       make(chan Notification, size),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Publish enqueues a notification without blocking. Returns false if the
// buffer was full and the notification was dropped.
func (o *Outbox) Publish(kind, key string, payload any) bool {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			o.logger.Error("outbox payload marshal failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
			return false
		}
		raw = b
	}

	n := Notification{Kind: kind, Key: key, Payload: raw, OccurredAt: time.Now().UTC()}
	select {
	case o.ch <- n:
		return true
	default:
		telemetry.OutboxDropped.Inc()
		o.logger.Warn("outbox full, notification dropped", slog.String("kind", kind))
		return false
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left.
func (o *Outbox) Run(ctx context.Context) {
	defer close(o.done)

	for {
		select {
		case <-ctx.Done():
			o.flush()
			return
		case n := <-o.ch:
			o.publish(ctx, n)
		}
	}
}

// Wait blocks until Run has returned. Call after cancelling Run's context.
func (o *Outbox) Wait() { <-o.done }

// flush sends whatever is still buffered using a short deadline. Called
// once during shutdown.
func (o *Outbox) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case n := <-o.ch:
			o.publish(ctx, n)
		default:
			return
		}
	}
}

func (o *Outbox) publish(ctx context.Context, n Notification) {
	value, err := json.Marshal(n)
	if err != nil {
		o.logger.Error("outbox notification marshal failed", slog.String("error", err.Error()))
		return
	}

	err = retry.Do(ctx, retry.Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
	}, func() error {
		return o.producer.Publish(ctx, o.topic, n.Key, value)
	})
	if err != nil {
		telemetry.OutboxPublishFailures.Inc()
		o.logger.Error("outbox publish failed",
			slog.String("kind", n.Kind),
			slog.String("key", n.Key),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.OutboxPublished.WithLabelValues(n.Kind).Inc()
}
