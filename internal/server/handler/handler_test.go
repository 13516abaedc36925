package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/service"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubMarketService struct {
	market     domain.Market
	err        error
	resolveErr error
	voteErr    error
	crowd      *float64
}

func (s *stubMarketService) Create(_ context.Context, p service.CreateMarketParams) (domain.Market, error) {
	if s.err != nil {
		return domain.Market{}, s.err
	}
	m := s.market
	m.Question = p.Question
	return m, nil
}

func (s *stubMarketService) Get(context.Context, string) (domain.Market, error) {
	return s.market, s.err
}

func (s *stubMarketService) List(context.Context, domain.MarketStatus, domain.ListOpts) ([]domain.Market, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []domain.Market{s.market}, nil
}

func (s *stubMarketService) Vote(context.Context, string, string, domain.Outcome, float64) error {
	return s.voteErr
}

func (s *stubMarketService) CrowdProbability(context.Context, string) (*float64, error) {
	return s.crowd, nil
}

func (s *stubMarketService) Resolve(context.Context, string, domain.Outcome, string) (domain.Market, error) {
	if s.resolveErr != nil {
		return domain.Market{}, s.resolveErr
	}
	return s.market, nil
}

type stubTradeService struct {
	receipt domain.TradeReceipt
	err     error
}

func (s *stubTradeService) Buy(context.Context, string, string, domain.Outcome, float64) (domain.TradeReceipt, error) {
	return s.receipt, s.err
}

func (s *stubTradeService) Balance(_ context.Context, userID string) (domain.UserBalance, error) {
	return domain.UserBalance{UserID: userID, AvailableCredits: domain.StartingCredits}, nil
}

func (s *stubTradeService) History(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return nil, s.err
}

func (s *stubTradeService) MarketTrades(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return []domain.Trade{s.receipt.Trade}, s.err
}

type stubIntelService struct {
	intel  service.Intelligence
	result domain.PredictionResult
	report domain.CalibrationReport
	err    error
}

func (s *stubIntelService) Analyze(_ context.Context, marketID string, tier domain.AnalysisTier) (domain.PredictionResult, error) {
	if s.err != nil {
		return domain.PredictionResult{}, s.err
	}
	r := s.result
	r.MarketID = marketID
	r.AnalysisTier = tier
	return r, nil
}

func (s *stubIntelService) GetIntelligence(context.Context, string) (service.Intelligence, error) {
	return s.intel, s.err
}

func (s *stubIntelService) CalibrationReport(_ context.Context, agentID string, _ time.Duration) (domain.CalibrationReport, error) {
	if s.err != nil {
		return domain.CalibrationReport{}, s.err
	}
	r := s.report
	r.AgentID = agentID
	return r, nil
}

type stubSignals struct {
	signals []domain.ArbitrageSignal
	err     error
}

func (s *stubSignals) Snapshot(context.Context, string) ([]domain.ArbitrageSignal, error) {
	return s.signals, s.err
}

func testMarket() domain.Market {
	return domain.Market{
		ID:           "m1",
		Question:     "Will it rain tomorrow?",
		YesLiquidity: 1200,
		NoLiquidity:  800,
		Status:       domain.MarketStatusOpen,
		ClosesAt:     time.Now().Add(24 * time.Hour),
	}
}

func newMux(ms MarketService, ts TradeService, is IntelService, sf SignalFinder) *http.ServeMux {
	mux := http.NewServeMux()
	mh := NewMarketHandler(ms, discard())
	th := NewTradeHandler(ts, discard())
	ih := NewIntelHandler(is, sf, discard())

	mux.HandleFunc("POST /api/markets", mh.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", mh.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", mh.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/votes", mh.CastVote)
	mux.HandleFunc("POST /api/markets/{id}/trades", th.PlaceTrade)
	mux.HandleFunc("GET /api/users/{id}/balance", th.GetBalance)
	mux.HandleFunc("POST /api/markets/{id}/analyze", ih.Analyze)
	mux.HandleFunc("GET /api/markets/{id}/arbitrage", ih.GetArbitrage)
	mux.HandleFunc("GET /api/calibration/{agent}", ih.GetCalibration)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetMarket(t *testing.T) {
	crowd := 0.7
	ms := &stubMarketService{market: testMarket(), crowd: &crowd}
	mux := newMux(ms, &stubTradeService{}, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodGet, "/api/markets/m1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "m1", body["id"])
	assert.InDelta(t, 0.6, body["implied_probability"].(float64), 1e-9)
	assert.InDelta(t, 0.7, body["crowd_probability"].(float64), 1e-9)
}

func TestGetMarketNotFound(t *testing.T) {
	ms := &stubMarketService{err: domain.ErrNotFound}
	mux := newMux(ms, &stubTradeService{}, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodGet, "/api/markets/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestCreateMarketRejectsBadBody(t *testing.T) {
	mux := newMux(&stubMarketService{}, &stubTradeService{}, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodPost, "/api/markets", `{"question": 42}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveConflict(t *testing.T) {
	ms := &stubMarketService{resolveErr: domain.ErrAlreadyResolved}
	mux := newMux(ms, &stubTradeService{}, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodPost, "/api/markets/m1/resolve",
		`{"winning_outcome":"yes","resolution_source":"manual"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPlaceTrade(t *testing.T) {
	ts := &stubTradeService{receipt: domain.TradeReceipt{
		Trade:             domain.Trade{ID: "t1", MarketID: "m1", Outcome: domain.OutcomeYes, Shares: 190.9, Price: 0.52, Cost: 100},
		NewYesProbability: 0.55,
		NewNoProbability:  0.45,
		UserBalance:       domain.UserBalance{UserID: "alice", AvailableCredits: 9900},
	}}
	mux := newMux(&stubMarketService{}, ts, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodPost, "/api/markets/m1/trades",
		`{"user_id":"alice","outcome":"yes","amount":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body receiptDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "t1", body.Trade.ID)
	assert.InDelta(t, 0.55, body.YesProbability, 1e-9)
	assert.InDelta(t, 9900, body.RemainingCredits, 1e-9)
}

func TestPlaceTradeInsufficientBalance(t *testing.T) {
	ts := &stubTradeService{err: domain.ErrInsufficientBalance}
	mux := newMux(&stubMarketService{}, ts, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodPost, "/api/markets/m1/trades",
		`{"user_id":"alice","outcome":"yes","amount":1e9}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestPlaceTradeRequiresUser(t *testing.T) {
	mux := newMux(&stubMarketService{}, &stubTradeService{}, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodPost, "/api/markets/m1/trades",
		`{"outcome":"yes","amount":100}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceTradeUserFromHeader(t *testing.T) {
	mux := newMux(&stubMarketService{}, &stubTradeService{}, &stubIntelService{}, &stubSignals{})

	req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/trades",
		strings.NewReader(`{"outcome":"yes","amount":100}`))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAnalyzeDefaultsToDailyTier(t *testing.T) {
	mux := newMux(&stubMarketService{}, &stubTradeService{}, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodPost, "/api/markets/m1/analyze", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body predictionDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(domain.TierDaily), body.AnalysisTier)
}

func TestAnalyzeRejectsUnknownTier(t *testing.T) {
	mux := newMux(&stubMarketService{}, &stubTradeService{}, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodPost, "/api/markets/m1/analyze", `{"tier":"maximal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetArbitrage(t *testing.T) {
	sf := &stubSignals{signals: []domain.ArbitrageSignal{
		{ID: "s1", MarketID: "m1", Kind: domain.DivergenceAIMarket, Divergence: 0.2, Strength: 1.33},
	}}
	mux := newMux(&stubMarketService{}, &stubTradeService{}, &stubIntelService{}, sf)

	rec := do(t, mux, http.MethodGet, "/api/markets/m1/arbitrage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"ai_market"`)
}

func TestGetCalibration(t *testing.T) {
	is := &stubIntelService{report: domain.CalibrationReport{BrierScore: 0.18, SampleSize: 40}}
	mux := newMux(&stubMarketService{}, &stubTradeService{}, is, &stubSignals{})

	rec := do(t, mux, http.MethodGet, "/api/calibration/synthesizer:daily?window_days=30", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body calibrationReportDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "synthesizer:daily", body.AgentID)
	assert.InDelta(t, 0.18, body.BrierScore, 1e-9)
}

func TestGetCalibrationBadWindow(t *testing.T) {
	mux := newMux(&stubMarketService{}, &stubTradeService{}, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodGet, "/api/calibration/agent?window_days=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBalance(t *testing.T) {
	mux := newMux(&stubMarketService{}, &stubTradeService{}, &stubIntelService{}, &stubSignals{})

	rec := do(t, mux, http.MethodGet, "/api/users/alice/balance", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body balanceDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.UserID)
	assert.InDelta(t, domain.StartingCredits, body.AvailableCredits, 1e-9)
}
