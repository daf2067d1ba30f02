// Package events streams committed consent history entries to Kafka so
// downstream systems can follow consent changes without polling.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"cookieconsent/internal/consent/metrics"
	"cookieconsent/internal/consent/models"
	"cookieconsent/pkg/requestcontext"
)

// HistoryEvent is the record value produced for every history entry.
type HistoryEvent struct {
	ID                 string            `json:"id"`
	ConsentID          string            `json:"consent_id"`
	TenantID           string            `json:"tenant_id"`
	SessionID          string            `json:"session_id"`
	Action             string            `json:"action"`
	PreviousCategories models.Categories `json:"previous_categories"`
	NewCategories      models.Categories `json:"new_categories"`
	Timestamp          time.Time         `json:"timestamp"`
}

// NewHistoryEvent converts a history entry into its stream form. IP address,
// user agent and request metadata stay in the audit store.
func NewHistoryEvent(e *models.HistoryEntry) HistoryEvent {
	return HistoryEvent{
		ID:                 e.ID.String(),
		ConsentID:          e.ConsentID.String(),
		TenantID:           e.TenantID.String(),
		SessionID:          e.SessionID,
		Action:             e.Action,
		PreviousCategories: e.PreviousCategories,
		NewCategories:      e.NewCategories,
		Timestamp:          e.Timestamp,
	}
}

// Producer is the subset of *kgo.Client the publisher needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
}

// KafkaPublisher produces history events asynchronously, keyed by consent id
// so all events of one consent stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*KafkaPublisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *KafkaPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *KafkaPublisher) {
		p.metrics = m
	}
}

// NewKafkaPublisher creates a publisher writing to topic.
func NewKafkaPublisher(producer Producer, topic string, opts ...Option) *KafkaPublisher {
	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish hands the entry to the producer and returns immediately. Failures
// are logged and counted; they never reach the caller.
func (p *KafkaPublisher) Publish(ctx context.Context, entry *models.HistoryEntry) {
	if entry == nil {
		return
	}
	value, err := json.Marshal(NewHistoryEvent(entry))
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode consent event",
			"request_id", requestcontext.RequestID(ctx),
			"consent_id", entry.ConsentID.String(),
			"error", err,
		)
		p.metrics.IncrementEventPublished("encode_error")
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(entry.ConsentID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "request_id", Value: []byte(requestcontext.RequestID(ctx))},
		},
	}
	// The request context ends with the response; the produce must not.
	produceCtx := context.WithoutCancel(ctx)
	p.producer.Produce(produceCtx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.WarnContext(produceCtx, "failed to publish consent event",
				"request_id", requestcontext.RequestID(produceCtx),
				"consent_id", string(r.Key),
				"topic", r.Topic,
				"error", err,
			)
			p.metrics.IncrementEventPublished("failed")
			return
		}
		p.metrics.IncrementEventPublished("success")
	})
}

// Flush waits for buffered records to be delivered or ctx to end.
func (p *KafkaPublisher) Flush(ctx context.Context) error {
	return p.producer.Flush(ctx)
}

// NewClient builds a franz-go client for the consent topic.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RecordDeliveryTimeout(30*time.Second),
		kgo.ClientID("cookieconsent"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic unless it already exists.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, *models.HistoryEntry) {}
