package redpanda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topics of the estimation pipeline.
const (
	TopicEstimationRequests = "estimation.requests"
	TopicEstimationResults  = "estimation.results"
	TopicDeadLetter         = "dead.letter"
)

type topicSpec struct {
	name       string
	partitions int32
	// retention is how long records survive; requests only need to outlive
	// the queue, results and dead letters are kept for a week of review.
	retention time.Duration
}

// Requests are keyed by treatment ID so one treatment's estimations stay
// ordered within a partition.
var topicSpecs = []topicSpec{
	{name: TopicEstimationRequests, partitions: 12, retention: 24 * time.Hour},
	{name: TopicEstimationResults, partitions: 12, retention: 7 * 24 * time.Hour},
	{name: TopicDeadLetter, partitions: 3, retention: 7 * 24 * time.Hour},
}

// Admin creates and verifies the pipeline topics.
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin connects an admin client to the brokers.
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Admin{
		client: kadm.NewClient(kgoClient),
		logger: logger,
	}, nil
}

// EnsureTopics creates every pipeline topic that does not already exist.
func (a *Admin) EnsureTopics(ctx context.Context) error {
	for _, spec := range topicSpecs {
		retention := fmt.Sprint(spec.retention.Milliseconds())
		compression := "lz4"
		configs := map[string]*string{
			"retention.ms":     &retention,
			"compression.type": &compression,
		}

		// Replication factor 1 suits a single-node dev broker; production
		// clusters override it at the broker default level.
		resp, err := a.client.CreateTopics(ctx, spec.partitions, 1, configs, spec.name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", spec.name, err)
		}

		for _, r := range resp {
			if r.Err != nil {
				if errors.Is(r.Err, kerr.TopicAlreadyExists) {
					a.logger.Debug("topic exists", zap.String("topic", r.Topic))
					continue
				}
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", spec.partitions))
		}
	}
	return nil
}

// Close releases the admin client.
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies broker connectivity for readiness probes.
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("broker ping: %w", err)
	}
	return nil
}
