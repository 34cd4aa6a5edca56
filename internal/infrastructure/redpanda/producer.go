// Package redpanda carries the estimation pipeline over Kafka-compatible
// streaming: queued requests flow to the workers, results and dead letters
// flow back out.
package redpanda

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig tunes the producer. Estimation payloads are dosage
// histories and result vectors, a few kilobytes each at moderate rates,
// so the defaults favor durability over batching throughput.
type ProducerConfig struct {
	Brokers []string
	// Linger is how long a batch waits for more records before sending.
	Linger time.Duration
	// MaxBuffered bounds records held in memory awaiting acknowledgment.
	MaxBuffered int
	// FlushTimeout bounds the drain on Close.
	FlushTimeout time.Duration
}

// DefaultProducerConfig returns the production defaults.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Linger:       20 * time.Millisecond,
		MaxBuffered:  10_000,
		FlushTimeout: 30 * time.Second,
	}
}

// Producer publishes estimation records, waiting for full ISR
// acknowledgment so a queued request is never silently lost.
type Producer struct {
	client *kgo.Client
	cfg    ProducerConfig
	logger *zap.Logger
	tracer trace.Tracer
}

// NewProducer connects a producer to the configured brokers.
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID("tucuxi-estimation"),
		kgo.ProducerLinger(cfg.Linger),
		kgo.MaxBufferedRecords(cfg.MaxBuffered),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.Lz4Compression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Producer{
		client: client,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("redpanda-producer"),
	}, nil
}

// Publish sends one record and waits for the acknowledgment. The active
// trace context is injected into the record headers so the worker can
// continue the span.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "produce "+topic,
		trace.WithAttributes(
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.key", key),
			attribute.Int("messaging.payload_bytes", len(value)),
		))
	defer span.End()

	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	otel.GetTextMapPropagator().Inject(ctx, recordCarrier{rec})

	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		span.RecordError(err)
		p.logger.Error("produce failed",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	p.logger.Debug("record produced",
		zap.String("topic", topic),
		zap.Int32("partition", rec.Partition),
		zap.Int64("offset", rec.Offset))
	return nil
}

// Close drains buffered records and releases the client.
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FlushTimeout)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("flush on close failed", zap.Error(err))
	}
	p.client.Close()
	return nil
}

// recordCarrier adapts record headers to the OpenTelemetry propagation
// interface.
type recordCarrier struct {
	rec *kgo.Record
}

func (c recordCarrier) Get(key string) string {
	for _, h := range c.rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c recordCarrier) Set(key, value string) {
	for i, h := range c.rec.Headers {
		if h.Key == key {
			c.rec.Headers[i].Value = []byte(value)
			return
		}
	}
	c.rec.Headers = append(c.rec.Headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
}

func (c recordCarrier) Keys() []string {
	keys := make([]string, len(c.rec.Headers))
	for i, h := range c.rec.Headers {
		keys[i] = h.Key
	}
	return keys
}
