package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL. Factor
// lists and provenance are stored as JSONB; the row itself is immutable once
// written, with the latest row per market serving reads.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a new PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// Insert appends a new prediction for a market.
func (s *PredictionStore) Insert(ctx context.Context, r domain.PredictionResult) error {
	keyFactors, err := json.Marshal(r.KeyFactors)
	if err != nil {
		return fmt.Errorf("postgres: marshal key factors: %w", err)
	}
	riskFactors, err := json.Marshal(r.RiskFactors)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk factors: %w", err)
	}
	dataSources, err := json.Marshal(r.DataSources)
	if err != nil {
		return fmt.Errorf("postgres: marshal data sources: %w", err)
	}

	const query = `
		INSERT INTO predictions (
			id, market_id, raw_probability, calibrated_probability, confidence,
			probability_low, probability_high, key_factors, risk_factors,
			data_sources, reasoning_chain, analysis_tier, data_quality_score,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.MarketID, r.RawProbability, r.CalibratedProbability, r.Confidence,
		r.ProbabilityLow, r.ProbabilityHigh, keyFactors, riskFactors,
		dataSources, r.ReasoningChain, string(r.AnalysisTier), r.DataQualityScore,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert prediction %s: %w", r.ID, err)
	}
	return nil
}

const predictionCols = `id, market_id, raw_probability, calibrated_probability,
	confidence, probability_low, probability_high, key_factors, risk_factors,
	data_sources, reasoning_chain, analysis_tier, data_quality_score, created_at`

// GetLatest returns the most recent prediction for a market.
func (s *PredictionStore) GetLatest(ctx context.Context, marketID string) (domain.PredictionResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE market_id = $1 ORDER BY created_at DESC LIMIT 1`, marketID)

	r, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PredictionResult{}, domain.ErrNotFound
		}
		return domain.PredictionResult{}, fmt.Errorf("postgres: get latest prediction %s: %w", marketID, err)
	}
	return r, nil
}

// ListByMarket returns a market's prediction history, newest first.
func (s *PredictionStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PredictionResult, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions
		WHERE market_id = $1 ORDER BY created_at DESC`
	args := []any{marketID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions %s: %w", marketID, err)
	}
	defer rows.Close()

	var results []domain.PredictionResult
	for rows.Next() {
		r, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: prediction rows: %w", err)
	}
	return results, nil
}

func scanPrediction(row pgx.Row) (domain.PredictionResult, error) {
	var r domain.PredictionResult
	var tier string
	var keyFactors, riskFactors, dataSources []byte

	err := row.Scan(
		&r.ID, &r.MarketID, &r.RawProbability, &r.CalibratedProbability,
		&r.Confidence, &r.ProbabilityLow, &r.ProbabilityHigh,
		&keyFactors, &riskFactors, &dataSources,
		&r.ReasoningChain, &tier, &r.DataQualityScore, &r.CreatedAt,
	)
	if err != nil {
		return domain.PredictionResult{}, err
	}
	r.AnalysisTier = domain.AnalysisTier(tier)

	if len(keyFactors) > 0 {
		if err := json.Unmarshal(keyFactors, &r.KeyFactors); err != nil {
			return domain.PredictionResult{}, fmt.Errorf("unmarshal key factors: %w", err)
		}
	}
	if len(riskFactors) > 0 {
		if err := json.Unmarshal(riskFactors, &r.RiskFactors); err != nil {
			return domain.PredictionResult{}, fmt.Errorf("unmarshal risk factors: %w", err)
		}
	}
	if len(dataSources) > 0 {
		if err := json.Unmarshal(dataSources, &r.DataSources); err != nil {
			return domain.PredictionResult{}, fmt.Errorf("unmarshal data sources: %w", err)
		}
	}
	return r, nil
}

var _ domain.PredictionStore = (*PredictionStore)(nil)
