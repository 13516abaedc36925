package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// CalibrationStore implements domain.CalibrationStore using PostgreSQL. One
// row per (agent, market); the outcome columns are written exactly once at
// resolution and never touched again.
type CalibrationStore struct {
	pool *pgxpool.Pool
}

// NewCalibrationStore creates a new CalibrationStore backed by the given pool.
func NewCalibrationStore(pool *pgxpool.Pool) *CalibrationStore {
	return &CalibrationStore{pool: pool}
}

// UpsertPrediction records the agent's current prediction for a market. A
// superseding analysis run overwrites the probability only while the market
// is unresolved.
func (s *CalibrationStore) UpsertPrediction(ctx context.Context, agentID, marketID string, probability float64) error {
	const query = `
		INSERT INTO calibration_records (id, agent_id, market_id, predicted_probability, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (agent_id, market_id) DO UPDATE SET
			predicted_probability = EXCLUDED.predicted_probability
		WHERE calibration_records.actual_outcome IS NULL`

	_, err := s.pool.Exec(ctx, query, uuid.NewString(), agentID, marketID, probability)
	if err != nil {
		return fmt.Errorf("postgres: upsert calibration %s/%s: %w", agentID, marketID, err)
	}
	return nil
}

// ResolveMarket sets the outcome and Brier score on every unresolved record
// for the market. Already-resolved rows are untouched, so retries are no-ops.
func (s *CalibrationStore) ResolveMarket(ctx context.Context, marketID string, outcome bool, at time.Time) error {
	actual := 0.0
	if outcome {
		actual = 1.0
	}

	const query = `
		UPDATE calibration_records SET
			actual_outcome = $2,
			brier_score    = (predicted_probability - $3) ^ 2,
			resolved_at    = $4
		WHERE market_id = $1 AND actual_outcome IS NULL`

	_, err := s.pool.Exec(ctx, query, marketID, outcome, actual, at)
	if err != nil {
		return fmt.Errorf("postgres: resolve calibration %s: %w", marketID, err)
	}
	return nil
}

// ListByAgent returns the agent's records created after since (zero time =
// all), pending and resolved alike.
func (s *CalibrationStore) ListByAgent(ctx context.Context, agentID string, since time.Time) ([]domain.CalibrationRecord, error) {
	query := `
		SELECT id, agent_id, market_id, predicted_probability,
		       actual_outcome, brier_score, created_at, resolved_at
		FROM calibration_records
		WHERE agent_id = $1`
	args := []any{agentID}

	if !since.IsZero() {
		query += " AND created_at >= $2"
		args = append(args, since)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list calibration %s: %w", agentID, err)
	}
	defer rows.Close()

	var records []domain.CalibrationRecord
	for rows.Next() {
		var r domain.CalibrationRecord
		if err := rows.Scan(
			&r.ID, &r.AgentID, &r.MarketID, &r.PredictedProbability,
			&r.ActualOutcome, &r.BrierScore, &r.CreatedAt, &r.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan calibration record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: calibration rows: %w", err)
	}
	return records, nil
}

var _ domain.CalibrationStore = (*CalibrationStore)(nil)
