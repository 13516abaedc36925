package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresightmarkets/foresight/internal/domain"
)

type fakeAnalyzer struct {
	mu    sync.Mutex
	runs  []string // "marketID/tier"
	block chan struct{}
}

func (f *fakeAnalyzer) Analyze(_ context.Context, marketID string, tier domain.AnalysisTier) (domain.PredictionResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, marketID+"/"+string(tier))
	return domain.PredictionResult{MarketID: marketID, AnalysisTier: tier}, nil
}

func (f *fakeAnalyzer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type stubMarkets struct {
	open    []domain.Market
	closing []domain.Market
}

func (s *stubMarkets) Create(context.Context, domain.Market) error { return nil }

func (s *stubMarkets) GetByID(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (s *stubMarkets) List(context.Context, domain.MarketStatus, domain.ListOpts) ([]domain.Market, error) {
	return s.open, nil
}

func (s *stubMarkets) ListOpen(context.Context, domain.ListOpts) ([]domain.Market, error) {
	return s.open, nil
}

func (s *stubMarkets) ListClosingBefore(context.Context, time.Time) ([]domain.Market, error) {
	return s.closing, nil
}

func (s *stubMarkets) Count(context.Context) (int64, error) {
	return int64(len(s.open)), nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func market(id string) domain.Market {
	return domain.Market{ID: id, Status: domain.MarketStatusOpen, ClosesAt: time.Now().Add(time.Hour)}
}

func TestSweepLightweightCoversOpenMarkets(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	markets := &stubMarkets{open: []domain.Market{market("m1"), market("m2"), market("m3")}}
	sched := NewScheduler(analyzer, markets, Defaults(), discard())

	require.NoError(t, sched.SweepLightweight(context.Background()))

	assert.ElementsMatch(t,
		[]string{"m1/lightweight", "m2/lightweight", "m3/lightweight"},
		analyzer.runs,
	)
}

func TestSweepDailyOnlyClosingMarkets(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	markets := &stubMarkets{
		open:    []domain.Market{market("m1"), market("m2")},
		closing: []domain.Market{market("m1")},
	}
	sched := NewScheduler(analyzer, markets, Defaults(), discard())

	require.NoError(t, sched.SweepDaily(context.Background()))

	assert.Equal(t, []string{"m1/daily"}, analyzer.runs)
}

func TestSweepDailyThrottlesPerMarket(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	markets := &stubMarkets{closing: []domain.Market{market("m1")}}
	sched := NewScheduler(analyzer, markets, Defaults(), discard())
	ctx := context.Background()

	require.NoError(t, sched.SweepDaily(ctx))
	require.NoError(t, sched.SweepDaily(ctx))

	assert.Equal(t, 1, analyzer.count(), "a market gets one daily run per period")
}

func TestSweepDailyPrunesDepartedMarkets(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	markets := &stubMarkets{closing: []domain.Market{market("m1")}}
	sched := NewScheduler(analyzer, markets, Defaults(), discard())
	ctx := context.Background()

	require.NoError(t, sched.SweepDaily(ctx))

	// Resolve m1 out of the closing window; its throttle entry must not linger.
	markets.closing = nil
	require.NoError(t, sched.SweepDaily(ctx))

	sched.mu.Lock()
	_, tracked := sched.lastDaily["m1"]
	sched.mu.Unlock()
	assert.False(t, tracked, "departed markets must drop out of the daily throttle")
}

func TestSweepSkipsInflightMarkets(t *testing.T) {
	analyzer := &fakeAnalyzer{block: make(chan struct{})}
	markets := &stubMarkets{open: []domain.Market{market("m1")}}
	sched := NewScheduler(analyzer, markets, Defaults(), discard())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.SweepLightweight(ctx)
	}()

	// Wait until the first sweep holds the claim, then sweep again.
	require.Eventually(t, func() bool {
		sched.mu.Lock()
		defer sched.mu.Unlock()
		return sched.inflight["m1"]
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sched.SweepLightweight(ctx))
	assert.Equal(t, 0, analyzer.count(), "second sweep must not double-run m1")

	close(analyzer.block)
	<-done
	assert.Equal(t, 1, analyzer.count())
}

func TestRunStopsOnCancel(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	markets := &stubMarkets{open: []domain.Market{market("m1")}}
	cfg := Defaults()
	cfg.LightweightInterval = 10 * time.Millisecond
	cfg.DailyCheckInterval = 10 * time.Millisecond
	sched := NewScheduler(analyzer, markets, cfg, discard())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(ctx) }()

	require.Eventually(t, func() bool { return analyzer.count() > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
