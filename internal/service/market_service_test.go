package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresightmarkets/foresight/internal/calibration"
	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/similarity"
)

type marketHarness struct {
	svc      *MarketService
	markets  *fakeMarkets
	tx       *fakeTx
	votes    *fakeVotes
	locks    *fakeLocks
	bus      *fakeBus
	audit    *fakeAudit
	cache    *fakeCache
	cal      *memCalibration
	emb      *fakeEmbeddings
	archiver *fakeArchiver
}

func newMarketHarness(ms ...domain.Market) *marketHarness {
	h := &marketHarness{
		markets:  newFakeMarkets(ms...),
		votes:    newFakeVotes(),
		locks:    &fakeLocks{},
		bus:      newFakeBus(),
		audit:    &fakeAudit{},
		cache:    newFakeCache(),
		cal:      newMemCalibration(),
		emb:      newFakeEmbeddings(),
		archiver: &fakeArchiver{},
	}
	h.tx = newFakeTx(h.markets)
	h.svc = NewMarketService(MarketServiceDeps{
		Markets:    h.markets,
		Tx:         h.tx,
		Votes:      h.votes,
		Locks:      h.locks,
		Bus:        h.bus,
		Audit:      h.audit,
		Cache:      h.cache,
		Tracker:    calibration.NewTracker(h.cal, discard()),
		Similarity: similarity.NewEngine(&fakeEmbedder{vec: []float32{0.1, 0.2}}, h.emb, similarity.Config{}, discard()),
		Archiver:   h.archiver,
		Logger:     discard(),
	})
	return h
}

func openMarket(id string) domain.Market {
	return domain.Market{
		ID:           id,
		Question:     "Will it rain tomorrow?",
		YesLiquidity: 1000,
		NoLiquidity:  1000,
		Status:       domain.MarketStatusOpen,
		ClosesAt:     time.Now().Add(24 * time.Hour),
		CreatedAt:    time.Now(),
	}
}

func TestCreateMarket(t *testing.T) {
	h := newMarketHarness()

	m, err := h.svc.Create(context.Background(), CreateMarketParams{
		Question: "  Will the launch happen this quarter?  ",
		Category: "tech",
		ClosesAt: time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "Will the launch happen this quarter?", m.Question)
	assert.Equal(t, domain.BaseLiquidity, m.YesLiquidity)
	assert.Equal(t, domain.BaseLiquidity, m.NoLiquidity)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)

	assert.Contains(t, h.emb.upserted, m.ID, "question should be indexed for similarity search")
	assert.Contains(t, h.audit.events, "market.created")
}

func TestCreateMarketValidation(t *testing.T) {
	h := newMarketHarness()
	ctx := context.Background()

	_, err := h.svc.Create(ctx, CreateMarketParams{Question: "   ", ClosesAt: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrInvalidQuestion)

	_, err = h.svc.Create(ctx, CreateMarketParams{Question: "Will X?", ClosesAt: time.Now().Add(-time.Hour)})
	assert.ErrorIs(t, err, domain.ErrInvalidCloseTime)
}

func TestVote(t *testing.T) {
	h := newMarketHarness(openMarket("m1"))
	ctx := context.Background()

	require.NoError(t, h.svc.Vote(ctx, "m1", "alice", domain.OutcomeYes, 0.8))
	require.NoError(t, h.svc.Vote(ctx, "m1", "alice", domain.OutcomeNo, 0.6),
		"a second vote replaces the first")

	votes, err := h.votes.ListByMarket(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, domain.OutcomeNo, votes[0].Outcome)
}

func TestVoteValidation(t *testing.T) {
	h := newMarketHarness(openMarket("m1"))
	ctx := context.Background()

	assert.ErrorIs(t, h.svc.Vote(ctx, "m1", "alice", "maybe", 0.5), domain.ErrInvalidOutcome)
	assert.ErrorIs(t, h.svc.Vote(ctx, "m1", "alice", domain.OutcomeYes, 1.5), domain.ErrInvalidAmount)
	assert.ErrorIs(t, h.svc.Vote(ctx, "missing", "alice", domain.OutcomeYes, 0.5), domain.ErrNotFound)
}

func TestVoteClosedMarket(t *testing.T) {
	m := openMarket("m1")
	m.Status = domain.MarketStatusResolved
	h := newMarketHarness(m)

	err := h.svc.Vote(context.Background(), "m1", "alice", domain.OutcomeYes, 0.5)
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
}

func TestCrowdProbability(t *testing.T) {
	h := newMarketHarness(openMarket("m1"))
	ctx := context.Background()

	p, err := h.svc.CrowdProbability(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, p, "too few votes")

	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, h.svc.Vote(ctx, "m1", u, domain.OutcomeYes, 0.5))
	}
	p, err = h.svc.CrowdProbability(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 1.0, *p, 1e-9)
}

func TestResolve(t *testing.T) {
	h := newMarketHarness(openMarket("m1"))
	ctx := context.Background()

	// Two trades on opposite sides, so only one pays out.
	h.tx.trades = []domain.Trade{
		{ID: "t1", MarketID: "m1", UserID: "alice", Outcome: domain.OutcomeYes, Shares: 120},
		{ID: "t2", MarketID: "m1", UserID: "bob", Outcome: domain.OutcomeNo, Shares: 80},
	}

	m, err := h.svc.Resolve(ctx, "m1", domain.OutcomeYes, "manual")
	require.NoError(t, err)

	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	require.NotNil(t, m.WinningOutcome)
	assert.Equal(t, domain.OutcomeYes, *m.WinningOutcome)

	assert.InDelta(t, domain.StartingCredits+120, h.tx.balances["alice"], 1e-9)
	assert.Contains(t, h.locks.acquired, "resolve:m1")
	assert.Equal(t, []string{"m1"}, h.archiver.archived)
	assert.Contains(t, h.audit.events, "market.resolved")

	events := h.bus.on(ChannelResolutions)
	require.Len(t, events, 1)
	var ev ResolutionEvent
	require.NoError(t, json.Unmarshal(events[0], &ev))
	assert.Equal(t, "market_resolved", ev.Event)
	assert.Equal(t, "m1", ev.MarketID)
	assert.Equal(t, "yes", ev.WinningOutcome)
	assert.Equal(t, 1, ev.WinningTrades)
	assert.InDelta(t, 120, ev.PaidOut, 1e-9)
}

func TestResolveWithoutArchiver(t *testing.T) {
	h := newMarketHarness(openMarket("m1"))
	// Blob storage is optional; resolution must work without it.
	h.svc = NewMarketService(MarketServiceDeps{
		Markets:    h.markets,
		Tx:         h.tx,
		Votes:      h.votes,
		Locks:      h.locks,
		Bus:        h.bus,
		Audit:      h.audit,
		Cache:      h.cache,
		Tracker:    calibration.NewTracker(h.cal, discard()),
		Similarity: similarity.NewEngine(&fakeEmbedder{vec: []float32{0.1, 0.2}}, h.emb, similarity.Config{}, discard()),
		Logger:     discard(),
	})

	m, err := h.svc.Resolve(context.Background(), "m1", domain.OutcomeYes, "manual")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Contains(t, h.audit.events, "market.resolved")
	assert.Len(t, h.bus.on(ChannelResolutions), 1)
}

func TestResolveFillsCalibrationRecords(t *testing.T) {
	h := newMarketHarness(openMarket("m1"))
	ctx := context.Background()

	require.NoError(t, h.cal.UpsertPrediction(ctx, "synthesizer:daily", "m1", 0.7))
	_, err := h.svc.Resolve(ctx, "m1", domain.OutcomeYes, "manual")
	require.NoError(t, err)

	recs, err := h.cal.ListByAgent(ctx, "synthesizer:daily", time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].ActualOutcome)
	assert.True(t, *recs[0].ActualOutcome)
	require.NotNil(t, recs[0].BrierScore)
	assert.InDelta(t, 0.09, *recs[0].BrierScore, 1e-9)
}

func TestResolveTwice(t *testing.T) {
	h := newMarketHarness(openMarket("m1"))
	ctx := context.Background()

	_, err := h.svc.Resolve(ctx, "m1", domain.OutcomeYes, "manual")
	require.NoError(t, err)

	_, err = h.svc.Resolve(ctx, "m1", domain.OutcomeNo, "manual")
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.Len(t, h.bus.on(ChannelResolutions), 1, "no second resolution event")
}

func TestResolveInvalidOutcome(t *testing.T) {
	h := newMarketHarness(openMarket("m1"))
	_, err := h.svc.Resolve(context.Background(), "m1", "maybe", "manual")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	assert.Empty(t, h.locks.acquired, "validation happens before locking")
}

func TestResolveLockHeld(t *testing.T) {
	h := newMarketHarness(openMarket("m1"))
	h.locks.held = true

	_, err := h.svc.Resolve(context.Background(), "m1", domain.OutcomeYes, "manual")
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}
