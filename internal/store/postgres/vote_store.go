package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// VoteStore implements domain.VoteStore using PostgreSQL. One vote per
// (market, user); re-voting replaces the previous vote.
type VoteStore struct {
	pool *pgxpool.Pool
}

// NewVoteStore creates a new VoteStore backed by the given connection pool.
func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

// Upsert records a vote, replacing the user's previous vote on the market.
func (s *VoteStore) Upsert(ctx context.Context, v domain.Vote) error {
	const query = `
		INSERT INTO votes (id, market_id, user_id, outcome, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id, user_id) DO UPDATE SET
			outcome    = EXCLUDED.outcome,
			confidence = EXCLUDED.confidence,
			created_at = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, query,
		v.ID, v.MarketID, v.UserID, string(v.Outcome), v.Confidence, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert vote %s/%s: %w", v.MarketID, v.UserID, err)
	}
	return nil
}

// ListByMarket returns all votes on a market.
func (s *VoteStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Vote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, outcome, confidence, created_at
		 FROM votes WHERE market_id = $1 ORDER BY created_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list votes %s: %w", marketID, err)
	}
	defer rows.Close()

	var votes []domain.Vote
	for rows.Next() {
		var v domain.Vote
		var outcome string
		if err := rows.Scan(&v.ID, &v.MarketID, &v.UserID, &outcome, &v.Confidence, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan vote: %w", err)
		}
		v.Outcome = domain.Outcome(outcome)
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: vote rows: %w", err)
	}
	return votes, nil
}

var _ domain.VoteStore = (*VoteStore)(nil)
