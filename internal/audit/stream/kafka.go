package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"kosherdir/internal/audit"
	"kosherdir/internal/platform/metrics"
)

// KafkaPublisher mirrors audit records to a Kafka topic for downstream SIEM
// consumers. Publishing is fire-and-forget: the audit store is the source of
// truth and a broker outage must never fail an admin mutation. Failures are
// counted and logged, not propagated.
type KafkaPublisher struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewKafkaPublisher(brokers, topic string, logger *slog.Logger, m *metrics.Metrics) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokers, ",")...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{
		client:  client,
		topic:   topic,
		logger:  logger,
		metrics: m,
	}, nil
}

// Publish enqueues the record asynchronously. The entity type keys the record
// so per-entity ordering survives partitioning.
func (p *KafkaPublisher) Publish(ctx context.Context, rec audit.Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		p.fail(ctx, rec.ID, err)
		return
	}

	p.client.Produce(ctx, &kgo.Record{
		Topic: p.topic,
		Key:   []byte(rec.EntityType),
		Value: payload,
	}, func(_ *kgo.Record, err error) {
		if err != nil {
			p.fail(context.Background(), rec.ID, err)
		}
	})
}

// Close flushes buffered records and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return err
	}
	p.client.Close()
	return nil
}

func (p *KafkaPublisher) fail(ctx context.Context, recordID string, err error) {
	if p.metrics != nil {
		p.metrics.AuditPublishFailures.Inc()
	}
	p.logger.ErrorContext(ctx, "audit publish failed", "record_id", recordID, "error", err)
}
