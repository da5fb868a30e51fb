package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/liamcoop/torquesign/internal/logger"
	"github.com/liamcoop/torquesign/internal/metrics"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string

	// MaxAttempts defaults to 3
	MaxAttempts int

	// WriteTimeout bounds each attempt. Defaults to 5s.
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON envelopes keyed by entity id, so all
// events of one workflow or session land on the same partition.
type KafkaPublisher struct {
	writer       messageWriter
	maxAttempts  int
	writeTimeout time.Duration
	backoff      time.Duration
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(w, cfg), nil
}

func newKafkaPublisher(w messageWriter, cfg KafkaConfig) *KafkaPublisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &KafkaPublisher{
		writer:       w,
		maxAttempts:  cfg.MaxAttempts,
		writeTimeout: cfg.WriteTimeout,
		backoff:      100 * time.Millisecond,
	}
}

// Publish writes e, retrying with exponential backoff
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Name, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.EntityID),
		Value: value,
		Time:  e.Time,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(e.Name)},
		},
	}

	var lastErr error
	backoff := p.backoff
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		lastErr = p.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish %s aborted: %w", e.Name, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("publish %s failed after %d attempts: %w", e.Name, p.maxAttempts, lastErr)
}

// Handle publishes in the background context; failures are logged and counted.
// Wrap it in Async so a slow broker never stalls emitters.
func (p *KafkaPublisher) Handle(e Event) {
	if err := p.Publish(context.Background(), e); err != nil {
		metrics.SinkFailure("kafka")
		logger.Error("kafka publish failed", "event", e.Name, "entity_id", e.EntityID, "error", err)
	}
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
