package synthesis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foresightmarkets/foresight/internal/analyst"
	"github.com/foresightmarkets/foresight/internal/domain"
)

type fakeLLM struct {
	resp string
	err  error

	lastSystem string
	lastUser   string
	calls      int
}

func (f *fakeLLM) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	f.calls++
	f.lastSystem = req.SystemPrompt
	f.lastUser = req.UserPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.resp, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openMarket() domain.Market {
	return domain.Market{
		ID:           "m1",
		Question:     "Will the central bank cut rates in September?",
		YesLiquidity: 1200,
		NoLiquidity:  800,
		Status:       domain.MarketStatusOpen,
	}
}

func fullBundle() domain.DataBundle {
	return domain.DataBundle{
		MarketID: "m1",
		News: &domain.NewsSignal{
			ArticleCount:              4,
			Items:                     []domain.NewsItem{{Source: "reuters.com", Credibility: 0.95, Stance: 0.5, Title: "Cut signalled"}},
			OverallSignal:             0.4,
			CredibilityWeightedSignal: 0.5,
		},
		Sentiment: &domain.SentimentSignal{
			PostCount:         15,
			WeightedSentiment: 0.3,
			Confidence:        0.6,
		},
		Similarity: &domain.SimilaritySignal{
			Markets:           []domain.SimilarMarket{{Outcome: domain.OutcomeYes, SimilarityScore: 0.8, Question: "Prior cut?"}},
			TransferredPrior:  0.7,
			AverageSimilarity: 0.8,
		},
		DataQualityScore: 0.75,
	}
}

const goodResponse = `{
  "probability": 0.72,
  "confidence": 0.8,
  "key_factors": [{"factor": "dovish signals", "impact": 0.6, "confidence": 0.8, "source": "news", "evidence": "Multiple officials signalled a cut."}],
  "risk_factors": [{"risk": "inflation surprise", "severity": 0.5, "probability": 0.2, "impact_description": "A hot CPI print would derail the cut."}],
  "reasoning": "News and analogs point the same way.",
  "summary": "A cut is likely."
}`

func TestSynthesizeDailyTier(t *testing.T) {
	llm := &fakeLLM{resp: goodResponse}
	s := NewSynthesizer(llm, analyst.NewOrchestrator(discard()), Defaults(), discard())

	result := s.Synthesize(context.Background(), openMarket(), fullBundle(), domain.TierDaily)

	assert.Equal(t, domain.TierDaily, result.AnalysisTier)
	assert.InDelta(t, 0.72, result.RawProbability, 1e-9)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
	// CI half-width is 0.3*(1-confidence) for LLM tiers.
	assert.InDelta(t, 0.72-0.3*0.2, result.ProbabilityLow, 1e-9)
	assert.InDelta(t, 0.72+0.3*0.2, result.ProbabilityHigh, 1e-9)
	assert.Len(t, result.KeyFactors, 1)
	assert.Len(t, result.RiskFactors, 1)
	assert.NotEmpty(t, result.ReasoningChain)
	assert.Equal(t, 1, llm.calls)
}

func TestSynthesizeDeepIncludesAnalystInsights(t *testing.T) {
	llm := &fakeLLM{resp: goodResponse}
	s := NewSynthesizer(llm, analyst.NewOrchestrator(discard()), Defaults(), discard())

	result := s.Synthesize(context.Background(), openMarket(), fullBundle(), domain.TierDeep)

	assert.Equal(t, domain.TierDeep, result.AnalysisTier)
	assert.Contains(t, llm.lastUser, "ANALYST INSIGHTS")
	assert.Contains(t, llm.lastUser, "historical_context")
}

func TestSynthesizeFallbackOnCompletionError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("service unavailable")}
	s := NewSynthesizer(llm, analyst.NewOrchestrator(discard()), Defaults(), discard())

	result := s.Synthesize(context.Background(), openMarket(), fullBundle(), domain.TierDaily)

	assert.Equal(t, domain.TierFallback, result.AnalysisTier,
		"completion failure must downgrade, never raise")
	assert.Greater(t, result.RawProbability, 0.0)
	assert.Less(t, result.RawProbability, 1.0)
}

func TestSynthesizeFallbackOnGarbageOutput(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{"prose", "I believe the probability is around seventy percent."},
		{"out of range", `{"probability": 7.2, "confidence": 0.5}`},
		{"negative confidence", `{"probability": 0.5, "confidence": -1}`},
		{"truncated", `{"probability": 0.5, "conf`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSynthesizer(&fakeLLM{resp: tt.resp}, nil, Defaults(), discard())
			result := s.Synthesize(context.Background(), openMarket(), fullBundle(), domain.TierDaily)
			assert.Equal(t, domain.TierFallback, result.AnalysisTier)
		})
	}
}

func TestSynthesizeLightweightSkipsLLM(t *testing.T) {
	llm := &fakeLLM{resp: goodResponse}
	s := NewSynthesizer(llm, nil, Defaults(), discard())

	result := s.Synthesize(context.Background(), openMarket(), fullBundle(), domain.TierLightweight)

	assert.Equal(t, domain.TierLightweight, result.AnalysisTier)
	assert.Zero(t, llm.calls, "lightweight tier must not call the completion service")
	// All positive signals on a market priced at 0.6: estimate stays in (0.5, 1).
	assert.Greater(t, result.RawProbability, 0.5)
	assert.Less(t, result.RawProbability, 0.98)
	// Deterministic tiers carry a wide interval.
	assert.Greater(t, result.ProbabilityHigh-result.ProbabilityLow, 0.2)
	assert.NotEmpty(t, result.KeyFactors)
	assert.NotEqual(t, "unavailable", result.DataSources["news"])
}

func TestSynthesizeLightweightEmptyBundle(t *testing.T) {
	s := NewSynthesizer(&fakeLLM{}, nil, Defaults(), discard())

	// No external data at all: the blend collapses to the market price.
	market := openMarket()
	result := s.Synthesize(context.Background(), market, domain.DataBundle{MarketID: "m1"}, domain.TierLightweight)

	assert.InDelta(t, market.ImpliedProbability(), result.RawProbability, 1e-9)
	assert.Equal(t, "unavailable", result.DataSources["news"])
	assert.NotEmpty(t, result.RiskFactors, "thin evidence must be flagged as a risk")
}

func TestSynthesizeBoundedProbability(t *testing.T) {
	s := NewSynthesizer(&fakeLLM{resp: `{"probability": 1.0, "confidence": 1.0}`}, nil, Defaults(), discard())
	result := s.Synthesize(context.Background(), openMarket(), fullBundle(), domain.TierDaily)
	assert.LessOrEqual(t, result.RawProbability, 0.99)
	assert.LessOrEqual(t, result.ProbabilityHigh, 1.0)
}
