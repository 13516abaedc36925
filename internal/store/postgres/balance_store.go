package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL. Unknown users
// are seeded with the starting credit grant on first access, so the trading
// surface never sees a missing-balance error.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Get returns the user's balance, seeding a new row when none exists.
func (s *BalanceStore) Get(ctx context.Context, userID string) (domain.UserBalance, error) {
	const query = `
		INSERT INTO balances (user_id, available_credits, locked_credits)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, available_credits, locked_credits, updated_at`

	var b domain.UserBalance
	err := s.pool.QueryRow(ctx, query, userID, domain.StartingCredits).Scan(
		&b.UserID, &b.AvailableCredits, &b.LockedCredits, &b.UpdatedAt,
	)
	if err != nil {
		return domain.UserBalance{}, fmt.Errorf("postgres: get balance %s: %w", userID, err)
	}
	return b, nil
}

// Credit adds amount to the user's available credits. Resolution payouts go
// through here for users whose winning shares pay out.
func (s *BalanceStore) Credit(ctx context.Context, userID string, amount float64) error {
	const query = `
		INSERT INTO balances (user_id, available_credits, locked_credits)
		VALUES ($1, $2 + $3, 0)
		ON CONFLICT (user_id) DO UPDATE SET
			available_credits = balances.available_credits + $3,
			updated_at        = NOW()`

	_, err := s.pool.Exec(ctx, query, userID, domain.StartingCredits, amount)
	if err != nil {
		return fmt.Errorf("postgres: credit balance %s: %w", userID, err)
	}
	return nil
}

var _ domain.BalanceStore = (*BalanceStore)(nil)
