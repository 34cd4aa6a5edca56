// Package postgres persists treatments, concentration samples and
// estimation jobs.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sotalya/tucuxi-core-sub004/internal/domain/treatment"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("postgres: not found")

// Store provides access to treatments, samples and estimation results.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewStore creates a store over the connection pool.
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("postgres-store"),
	}
}

// Treatment is one stored treatment: a patient reference and the dosage
// history as authored.
type Treatment struct {
	ID         string
	PatientRef string
	History    treatment.HistorySpec
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaveTreatment inserts or replaces a treatment.
func (s *Store) SaveTreatment(ctx context.Context, t *Treatment) error {
	ctx, span := s.tracer.Start(ctx, "save_treatment",
		trace.WithAttributes(attribute.String("treatment_id", t.ID)))
	defer span.End()

	payload, err := json.Marshal(t.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	query := `
		INSERT INTO treatments (id, patient_ref, history, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			patient_ref = EXCLUDED.patient_ref,
			history = EXCLUDED.history,
			updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, t.ID, t.PatientRef, payload); err != nil {
		span.RecordError(err)
		return fmt.Errorf("save treatment: %w", err)
	}
	return nil
}

// GetTreatment loads one treatment by ID.
func (s *Store) GetTreatment(ctx context.Context, id string) (*Treatment, error) {
	query := `
		SELECT id, patient_ref, history, created_at, updated_at
		FROM treatments WHERE id = $1
	`
	var t Treatment
	var payload []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&t.ID, &t.PatientRef, &payload, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: treatment %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get treatment: %w", err)
	}
	if err := json.Unmarshal(payload, &t.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return &t, nil
}

// AddSamples appends observed concentration samples to a treatment.
func (s *Store) AddSamples(ctx context.Context, treatmentID string, samples []treatment.SampleSpec) error {
	ctx, span := s.tracer.Start(ctx, "add_samples",
		trace.WithAttributes(
			attribute.String("treatment_id", treatmentID),
			attribute.Int("count", len(samples)),
		))
	defer span.End()

	batch := &pgx.Batch{}
	query := `
		INSERT INTO samples (treatment_id, taken_at, value, unit, weight)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, sample := range samples {
		batch.Queue(query, treatmentID, sample.Time, sample.Value, sample.Unit, sample.Weight)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range samples {
		if _, err := results.Exec(); err != nil {
			span.RecordError(err)
			return fmt.Errorf("insert sample: %w", err)
		}
	}
	return nil
}

// ListSamples returns the samples of a treatment in chronological order.
func (s *Store) ListSamples(ctx context.Context, treatmentID string) ([]treatment.SampleSpec, error) {
	query := `
		SELECT taken_at, value, unit, weight
		FROM samples
		WHERE treatment_id = $1
		ORDER BY taken_at ASC
	`
	rows, err := s.pool.Query(ctx, query, treatmentID)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var samples []treatment.SampleSpec
	for rows.Next() {
		var sample treatment.SampleSpec
		if err := rows.Scan(&sample.Time, &sample.Value, &sample.Unit, &sample.Weight); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// SaveResult persists an estimation result. Replays of the same estimation
// overwrite, so re-delivered broker messages stay idempotent.
func (s *Store) SaveResult(ctx context.Context, res *treatment.EstimationResult) error {
	ctx, span := s.tracer.Start(ctx, "save_result",
		trace.WithAttributes(
			attribute.String("estimation_id", res.ID),
			attribute.String("treatment_id", res.TreatmentID),
		))
	defer span.End()

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `
		INSERT INTO estimation_results (id, treatment_id, result, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET result = EXCLUDED.result, completed_at = EXCLUDED.completed_at
	`
	if _, err := s.pool.Exec(ctx, query, res.ID, res.TreatmentID, payload, res.CompletedAt); err != nil {
		span.RecordError(err)
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetResult loads one estimation result by estimation ID.
func (s *Store) GetResult(ctx context.Context, id string) (*treatment.EstimationResult, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, "SELECT result FROM estimation_results WHERE id = $1", id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: estimation %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	var res treatment.EstimationResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}
