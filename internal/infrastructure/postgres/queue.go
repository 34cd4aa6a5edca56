package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sotalya/tucuxi-core-sub004/internal/domain/treatment"
)

// QueueConfig holds configuration for the estimation queue processor.
type QueueConfig struct {
	// BatchSize is the number of entries to dispatch per poll.
	BatchSize int
	// PollInterval is how often to poll for new entries.
	PollInterval time.Duration
	// MaxRetries is the maximum dispatch attempts before dead-lettering.
	MaxRetries int
}

// DefaultQueueConfig returns sensible defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		BatchSize:    50,
		PollInterval: 250 * time.Millisecond,
		MaxRetries:   5,
	}
}

// Publisher dispatches a queued estimation request to the message broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Queue dispatches queued estimation requests to workers. Requests are
// enqueued in the same transaction as the treatment write, then polled and
// published, so no accepted request is lost between the API and the broker.
type Queue struct {
	store     *Store
	config    QueueConfig
	publisher Publisher
	topic     string
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue creates a queue processor publishing to the given topic.
func NewQueue(store *Store, publisher Publisher, topic string, cfg QueueConfig, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:     store,
		config:    cfg,
		publisher: publisher,
		topic:     topic,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Enqueue writes an estimation request into the queue within tx. Callers run
// it in the same transaction as the treatment or sample write.
func Enqueue(ctx context.Context, tx pgx.Tx, req *treatment.EstimationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	query := `
		INSERT INTO estimation_queue (id, treatment_id, payload)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.Exec(ctx, query, req.ID, req.TreatmentID, payload); err != nil {
		return fmt.Errorf("enqueue estimation: %w", err)
	}
	return nil
}

// EnqueueDirect writes an estimation request outside any caller transaction.
func (q *Queue) EnqueueDirect(ctx context.Context, req *treatment.EstimationRequest) error {
	tx, err := q.store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := Enqueue(ctx, tx, req); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Start begins polling and dispatching queued requests.
func (q *Queue) Start() {
	go q.dispatchLoop()
	q.logger.Info("estimation queue started",
		zap.Int("batch_size", q.config.BatchSize),
		zap.Duration("poll_interval", q.config.PollInterval))
}

// Stop gracefully stops the processor.
func (q *Queue) Stop() {
	q.cancel()
	<-q.done
	q.logger.Info("estimation queue stopped")
}

func (q *Queue) dispatchLoop() {
	defer close(q.done)

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.dispatchBatch()
		}
	}
}

type queueEntry struct {
	ID          string
	TreatmentID string
	Payload     json.RawMessage
	RetryCount  int
}

func (q *Queue) dispatchBatch() {
	ctx, span := q.store.tracer.Start(q.ctx, "dispatch_estimations")
	defer span.End()

	// Single dispatcher at a time across all API replicas.
	const lockID = int64(740029101)
	var acquired bool
	err := q.store.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired)
	if err != nil || !acquired {
		return
	}
	defer q.store.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockID)

	entries, err := q.fetchPending(ctx)
	if err != nil {
		q.logger.Error("failed to fetch queued estimations", zap.Error(err))
		span.RecordError(err)
		return
	}
	if len(entries) == 0 {
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := q.dispatch(ctx, entry); err != nil {
			q.logger.Error("failed to dispatch estimation",
				zap.String("id", entry.ID),
				zap.Error(err))
		}
	}
}

func (q *Queue) fetchPending(ctx context.Context) ([]*queueEntry, error) {
	query := `
		SELECT id, treatment_id, payload, retry_count
		FROM estimation_queue
		WHERE dispatched_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := q.store.pool.Query(ctx, query, q.config.MaxRetries, q.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []*queueEntry
	for rows.Next() {
		entry := &queueEntry{}
		if err := rows.Scan(&entry.ID, &entry.TreatmentID, &entry.Payload, &entry.RetryCount); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (q *Queue) dispatch(ctx context.Context, entry *queueEntry) error {
	if err := q.publisher.Publish(ctx, q.topic, entry.TreatmentID, entry.Payload); err != nil {
		update := `
			UPDATE estimation_queue
			SET retry_count = retry_count + 1, last_error = $1
			WHERE id = $2
		`
		if _, updateErr := q.store.pool.Exec(ctx, update, err.Error(), entry.ID); updateErr != nil {
			q.logger.Error("failed to update retry count", zap.Error(updateErr))
		}
		return fmt.Errorf("publish failed: %w", err)
	}

	if _, err := q.store.pool.Exec(ctx,
		"UPDATE estimation_queue SET dispatched_at = NOW() WHERE id = $1", entry.ID); err != nil {
		return fmt.Errorf("failed to mark dispatched: %w", err)
	}

	q.logger.Debug("estimation dispatched",
		zap.String("id", entry.ID),
		zap.String("treatment_id", entry.TreatmentID))
	return nil
}

// MoveToDeadLetter publishes entries that exceeded the retry budget to the
// dead letter topic and retires them from the queue.
func (q *Queue) MoveToDeadLetter(ctx context.Context, deadLetterTopic string) (int64, error) {
	query := `
		SELECT id, treatment_id, payload, retry_count
		FROM estimation_queue
		WHERE dispatched_at IS NULL
		  AND retry_count >= $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := q.store.pool.Query(ctx, query, q.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		entry := &queueEntry{}
		if err := rows.Scan(&entry.ID, &entry.TreatmentID, &entry.Payload, &entry.RetryCount); err != nil {
			continue
		}

		dlPayload, _ := json.Marshal(map[string]interface{}{
			"estimation_id": entry.ID,
			"treatment_id":  entry.TreatmentID,
			"payload":       entry.Payload,
			"retry_count":   entry.RetryCount,
		})
		if err := q.publisher.Publish(ctx, deadLetterTopic, entry.TreatmentID, dlPayload); err != nil {
			q.logger.Error("failed to publish to dead letter", zap.Error(err))
			continue
		}
		if _, err := q.store.pool.Exec(ctx,
			"UPDATE estimation_queue SET dispatched_at = NOW() WHERE id = $1", entry.ID); err != nil {
			q.logger.Error("failed to retire dead letter entry", zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// CleanupDispatched removes old dispatched entries.
func (q *Queue) CleanupDispatched(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM estimation_queue
		WHERE dispatched_at IS NOT NULL
		  AND dispatched_at < NOW() - $1::interval
	`
	result, err := q.store.pool.Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return result.RowsAffected(), nil
}

// QueueStats describes the queue backlog.
type QueueStats struct {
	Pending       int64
	Dispatched    int64
	Failed        int64
	OldestPending *time.Time
}

// Stats returns current queue statistics.
func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{}

	err := q.store.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM estimation_queue WHERE dispatched_at IS NULL AND retry_count < $1",
		q.config.MaxRetries).Scan(&stats.Pending)
	if err != nil {
		return nil, err
	}

	err = q.store.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM estimation_queue WHERE dispatched_at IS NOT NULL AND dispatched_at > NOW() - INTERVAL '24 hours'").Scan(&stats.Dispatched)
	if err != nil {
		return nil, err
	}

	err = q.store.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM estimation_queue WHERE dispatched_at IS NULL AND retry_count >= $1",
		q.config.MaxRetries).Scan(&stats.Failed)
	if err != nil {
		return nil, err
	}

	q.store.pool.QueryRow(ctx,
		"SELECT MIN(created_at) FROM estimation_queue WHERE dispatched_at IS NULL").Scan(&stats.OldestPending)

	return stats, nil
}
