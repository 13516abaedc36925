package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// EmbeddingStore implements domain.EmbeddingStore using pgvector. Question
// embeddings live in their own table keyed by market; similarity search joins
// against resolved markets so only settled outcomes feed the prior transfer.
type EmbeddingStore struct {
	pool *pgxpool.Pool
}

// NewEmbeddingStore creates a new EmbeddingStore backed by the given pool.
func NewEmbeddingStore(pool *pgxpool.Pool) *EmbeddingStore {
	return &EmbeddingStore{pool: pool}
}

// Upsert stores or replaces the question embedding for a market.
func (s *EmbeddingStore) Upsert(ctx context.Context, marketID string, embedding []float32) error {
	const query = `
		INSERT INTO market_embeddings (market_id, embedding, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			embedding  = EXCLUDED.embedding,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, marketID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("postgres: upsert embedding %s: %w", marketID, err)
	}
	return nil
}

// SearchResolved returns resolved markets whose question embedding is within
// cosine similarity >= minSimilarity of the query vector, most similar first.
func (s *EmbeddingStore) SearchResolved(ctx context.Context, embedding []float32, minSimilarity float64, limit int) ([]domain.SimilarMarket, error) {
	const query = `
		SELECT m.id, m.question, m.winning_outcome,
		       m.yes_liquidity / (m.yes_liquidity + m.no_liquidity) AS final_probability,
		       1 - (e.embedding <=> $1) AS similarity
		FROM market_embeddings e
		JOIN markets m ON m.id = e.market_id
		WHERE m.status = 'resolved'
		  AND 1 - (e.embedding <=> $1) >= $2
		ORDER BY e.embedding <=> $1
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer rows.Close()

	return collectSimilar(rows)
}

// SearchResolvedByText is the fallback when no embedding is available: plain
// full-text rank over resolved market questions. Similarity scores from text
// rank are conservative so the prior transfer shrinks harder.
func (s *EmbeddingStore) SearchResolvedByText(ctx context.Context, queryText string, limit int) ([]domain.SimilarMarket, error) {
	const query = `
		SELECT m.id, m.question, m.winning_outcome,
		       m.yes_liquidity / (m.yes_liquidity + m.no_liquidity) AS final_probability,
		       LEAST(ts_rank(to_tsvector('english', m.question),
		                     plainto_tsquery('english', $1)), 1.0) AS similarity
		FROM markets m
		WHERE m.status = 'resolved'
		  AND to_tsvector('english', m.question) @@ plainto_tsquery('english', $1)
		ORDER BY similarity DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, queryText, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: text search: %w", err)
	}
	defer rows.Close()

	return collectSimilar(rows)
}

func collectSimilar(rows pgx.Rows) ([]domain.SimilarMarket, error) {
	var markets []domain.SimilarMarket
	for rows.Next() {
		var m domain.SimilarMarket
		var winning *string
		if err := rows.Scan(&m.MarketID, &m.Question, &winning, &m.FinalProbability, &m.SimilarityScore); err != nil {
			return nil, fmt.Errorf("postgres: scan similar market: %w", err)
		}
		if winning == nil {
			// Resolved markets always carry an outcome; skip anything odd.
			continue
		}
		m.Outcome = domain.Outcome(*winning)
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: similar market rows: %w", err)
	}
	return markets, nil
}

var _ domain.EmbeddingStore = (*EmbeddingStore)(nil)
