package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// TxStore implements domain.MarketTxStore. Every operation locks the market
// row with SELECT ... FOR UPDATE so concurrent trades and resolution on the
// same market serialize their read-modify-write of the liquidity pools.
type TxStore struct {
	pool *pgxpool.Pool
}

// NewTxStore creates a new TxStore backed by the given connection pool.
func NewTxStore(pool *pgxpool.Pool) *TxStore {
	return &TxStore{pool: pool}
}

// ExecuteTrade runs a buy in a single transaction: lock market, quote, check
// and debit balance, write pools, append the trade. Any error rolls the whole
// transaction back with state unchanged.
func (s *TxStore) ExecuteTrade(ctx context.Context, marketID, userID string, quote domain.QuoteFunc) (domain.TradeReceipt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("postgres: begin trade tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	market, err := lockMarket(ctx, tx, marketID)
	if err != nil {
		return domain.TradeReceipt{}, err
	}
	if !market.Open() {
		return domain.TradeReceipt{}, domain.ErrMarketNotOpen
	}

	q, err := quote(market)
	if err != nil {
		return domain.TradeReceipt{}, err
	}

	balance, err := lockBalance(ctx, tx, userID)
	if err != nil {
		return domain.TradeReceipt{}, err
	}
	if balance.AvailableCredits < q.Cost {
		return domain.TradeReceipt{}, domain.ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx,
		`UPDATE markets SET yes_liquidity = $2, no_liquidity = $3, updated_at = NOW() WHERE id = $1`,
		marketID, q.NewYesLiquidity, q.NewNoLiquidity,
	); err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("postgres: update pools %s: %w", marketID, err)
	}

	trade := domain.Trade{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		UserID:    userID,
		Outcome:   q.Outcome,
		Shares:    q.Shares,
		Price:     q.AvgPrice,
		Cost:      q.Cost,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, user_id, outcome, shares, price, cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		trade.ID, trade.MarketID, trade.UserID, string(trade.Outcome),
		trade.Shares, trade.Price, trade.Cost, trade.CreatedAt,
	); err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("postgres: insert trade: %w", err)
	}

	if err := tx.QueryRow(ctx,
		`UPDATE balances SET available_credits = available_credits - $2, updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING user_id, available_credits, locked_credits, updated_at`,
		userID, q.Cost,
	).Scan(&balance.UserID, &balance.AvailableCredits, &balance.LockedCredits, &balance.UpdatedAt); err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("postgres: debit balance %s: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.TradeReceipt{}, fmt.Errorf("postgres: commit trade tx: %w", err)
	}

	total := q.NewYesLiquidity + q.NewNoLiquidity
	return domain.TradeReceipt{
		Trade:             trade,
		NewYesProbability: q.NewYesLiquidity / total,
		NewNoProbability:  q.NewNoLiquidity / total,
		UserBalance:       balance,
	}, nil
}

// Resolve settles a market exactly once: mark it resolved and pay winning
// trades their shares in credits. A second call fails with ErrAlreadyResolved
// before touching any balance.
func (s *TxStore) Resolve(ctx context.Context, marketID string, winning domain.Outcome, source string, at time.Time) (domain.Market, []domain.Trade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Market{}, nil, fmt.Errorf("postgres: begin resolve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	market, err := lockMarket(ctx, tx, marketID)
	if err != nil {
		return domain.Market{}, nil, err
	}
	if market.Status == domain.MarketStatusResolved {
		return domain.Market{}, nil, domain.ErrAlreadyResolved
	}
	if market.Status != domain.MarketStatusOpen {
		return domain.Market{}, nil, domain.ErrMarketNotOpen
	}

	if _, err := tx.Exec(ctx,
		`UPDATE markets SET status = 'resolved', winning_outcome = $2,
		        resolution_source = $3, resolved_at = $4, updated_at = NOW()
		 WHERE id = $1`,
		marketID, string(winning), source, at,
	); err != nil {
		return domain.Market{}, nil, fmt.Errorf("postgres: mark resolved %s: %w", marketID, err)
	}

	rows, err := tx.Query(ctx,
		`SELECT `+tradeCols+` FROM trades WHERE market_id = $1 AND outcome = $2`,
		marketID, string(winning))
	if err != nil {
		return domain.Market{}, nil, fmt.Errorf("postgres: winning trades %s: %w", marketID, err)
	}
	winners, err := collectTrades(rows)
	rows.Close()
	if err != nil {
		return domain.Market{}, nil, err
	}

	// One payout per user, summed over their winning shares.
	payouts := make(map[string]float64)
	for _, t := range winners {
		payouts[t.UserID] += t.Shares
	}
	for userID, shares := range payouts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO balances (user_id, available_credits, locked_credits)
			 VALUES ($1, $2 + $3, 0)
			 ON CONFLICT (user_id) DO UPDATE SET
				available_credits = balances.available_credits + $3,
				updated_at        = NOW()`,
			userID, domain.StartingCredits, shares,
		); err != nil {
			return domain.Market{}, nil, fmt.Errorf("postgres: payout %s: %w", userID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Market{}, nil, fmt.Errorf("postgres: commit resolve tx: %w", err)
	}

	market.Status = domain.MarketStatusResolved
	market.WinningOutcome = &winning
	market.ResolutionSource = source
	market.ResolvedAt = &at
	return market, winners, nil
}

func lockMarket(ctx context.Context, tx pgx.Tx, marketID string) (domain.Market, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, marketID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: lock market %s: %w", marketID, err)
	}
	return m, nil
}

func lockBalance(ctx context.Context, tx pgx.Tx, userID string) (domain.UserBalance, error) {
	// Seed first-time users, then take the row lock.
	if _, err := tx.Exec(ctx,
		`INSERT INTO balances (user_id, available_credits, locked_credits)
		 VALUES ($1, $2, 0)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, domain.StartingCredits,
	); err != nil {
		return domain.UserBalance{}, fmt.Errorf("postgres: seed balance %s: %w", userID, err)
	}

	var b domain.UserBalance
	if err := tx.QueryRow(ctx,
		`SELECT user_id, available_credits, locked_credits, updated_at
		 FROM balances WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&b.UserID, &b.AvailableCredits, &b.LockedCredits, &b.UpdatedAt); err != nil {
		return domain.UserBalance{}, fmt.Errorf("postgres: lock balance %s: %w", userID, err)
	}
	return b, nil
}

var _ domain.MarketTxStore = (*TxStore)(nil)
