// Package synthesis produces the forecasting pipeline's final prediction.
// Callers request one of three analysis tiers: lightweight runs a
// deterministic blend of the available signals, while daily and deep call the
// text-completion service with a structured prompt. Any completion failure or
// unparseable output silently transitions the run to the fallback tier; a
// synthesis run never fails.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foresightmarkets/foresight/internal/analyst"
	"github.com/foresightmarkets/foresight/internal/domain"
)

// Config holds completion parameters for the LLM tiers.
type Config struct {
	MaxTokens         int
	Temperature       float32
	CompletionTimeout time.Duration
}

// Defaults returns the production configuration.
func Defaults() Config {
	return Config{
		MaxTokens:         1500,
		Temperature:       0.2,
		CompletionTimeout: 60 * time.Second,
	}
}

// Synthesizer turns aggregated evidence into a PredictionResult.
type Synthesizer struct {
	llm      domain.CompletionClient
	analysts *analyst.Orchestrator
	cfg      Config
	logger   *slog.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(llm domain.CompletionClient, analysts *analyst.Orchestrator, cfg Config, logger *slog.Logger) *Synthesizer {
	if cfg.MaxTokens <= 0 {
		cfg = Defaults()
	}
	return &Synthesizer{
		llm:      llm,
		analysts: analysts,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "synthesizer")),
	}
}

// Synthesize produces a raw (uncalibrated) prediction at the requested tier.
// The result's tier records what actually ran: a daily or deep request that
// hits a completion or parse failure comes back as the fallback tier.
func (s *Synthesizer) Synthesize(ctx context.Context, market domain.Market, bundle domain.DataBundle, tier domain.AnalysisTier) domain.PredictionResult {
	switch tier {
	case domain.TierDaily, domain.TierDeep:
		result, err := s.synthesizeLLM(ctx, market, bundle, tier)
		if err != nil {
			s.logger.WarnContext(ctx, "llm synthesis failed, falling back",
				slog.String("market_id", market.ID),
				slog.String("tier", string(tier)),
				slog.String("error", err.Error()),
			)
			return s.blend(market, bundle, domain.TierFallback)
		}
		return result
	default:
		return s.blend(market, bundle, domain.TierLightweight)
	}
}

// llmResponse is the strict JSON contract required from the completion
// service. Anything outside it is treated as unparseable.
type llmResponse struct {
	Probability float64             `json:"probability"`
	Confidence  float64             `json:"confidence"`
	KeyFactors  []domain.KeyFactor  `json:"key_factors"`
	RiskFactors []domain.RiskFactor `json:"risk_factors"`
	Reasoning   string              `json:"reasoning"`
	Summary     string              `json:"summary"`
}

func (s *Synthesizer) synthesizeLLM(ctx context.Context, market domain.Market, bundle domain.DataBundle, tier domain.AnalysisTier) (domain.PredictionResult, error) {
	var insights []analyst.Insight
	if tier == domain.TierDeep && s.analysts != nil {
		insights = s.analysts.Run(ctx, market, bundle)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CompletionTimeout)
	defer cancel()

	raw, err := s.llm.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: synthesisSystemPrompt,
		UserPrompt:   buildUserPrompt(market, bundle, insights),
		MaxTokens:    s.cfg.MaxTokens,
		Temperature:  s.cfg.Temperature,
	})
	if err != nil {
		return domain.PredictionResult{}, fmt.Errorf("synthesis: complete: %w", err)
	}

	resp, err := parseResponse(raw)
	if err != nil {
		return domain.PredictionResult{}, err
	}

	confidence := clamp(resp.Confidence, 0, 1)
	probability := clamp(resp.Probability, 0.01, 0.99)
	halfWidth := 0.3 * (1 - confidence)

	return domain.PredictionResult{
		ID:                    uuid.New().String(),
		MarketID:              market.ID,
		RawProbability:        probability,
		CalibratedProbability: probability, // adjusted downstream
		Confidence:            confidence,
		ProbabilityLow:        clamp(probability-halfWidth, 0, 1),
		ProbabilityHigh:       clamp(probability+halfWidth, 0, 1),
		KeyFactors:            sanitizeKeyFactors(resp.KeyFactors),
		RiskFactors:           resp.RiskFactors,
		DataSources:           provenance(bundle),
		ReasoningChain:        strings.TrimSpace(resp.Reasoning + "\n\n" + resp.Summary),
		AnalysisTier:          tier,
		DataQualityScore:      bundle.DataQualityScore,
		CreatedAt:             time.Now(),
	}, nil
}

// parseResponse validates the completion output against the strict schema.
func parseResponse(raw string) (llmResponse, error) {
	var resp llmResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return llmResponse{}, fmt.Errorf("synthesis: parse response: %w", err)
	}
	if resp.Probability < 0 || resp.Probability > 1 {
		return llmResponse{}, fmt.Errorf("synthesis: probability %v out of range", resp.Probability)
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return llmResponse{}, fmt.Errorf("synthesis: confidence %v out of range", resp.Confidence)
	}
	return resp, nil
}

// Fixed blend weights for the deterministic tiers. Missing signals forfeit
// their weight and the rest renormalizes.
const (
	weightMarket     = 0.35
	weightSimilarity = 0.25
	weightNews       = 0.20
	weightSentiment  = 0.20
)

// blend computes the deterministic rule-based estimate used by the
// lightweight and fallback tiers.
func (s *Synthesizer) blend(market domain.Market, bundle domain.DataBundle, tier domain.AnalysisTier) domain.PredictionResult {
	type component struct {
		name   string
		prob   float64
		weight float64
	}

	components := []component{
		{"market_price", market.ImpliedProbability(), weightMarket},
	}
	var factors []domain.KeyFactor

	if bundle.Similarity != nil && len(bundle.Similarity.Markets) > 0 {
		components = append(components, component{"similar_markets", bundle.Similarity.TransferredPrior, weightSimilarity})
		factors = append(factors, domain.KeyFactor{
			Factor:     "historical analogs",
			Impact:     (bundle.Similarity.TransferredPrior - 0.5) * 2,
			Confidence: bundle.Similarity.AverageSimilarity,
			Source:     "historical",
			Evidence:   fmt.Sprintf("%d resolved analog markets", len(bundle.Similarity.Markets)),
		})
	}
	if bundle.News != nil && bundle.News.ArticleCount > 0 {
		p := 0.5 + 0.4*bundle.News.CredibilityWeightedSignal
		components = append(components, component{"news", p, weightNews})
		factors = append(factors, domain.KeyFactor{
			Factor:     "news coverage",
			Impact:     bundle.News.CredibilityWeightedSignal,
			Confidence: 0.6,
			Source:     "news",
			Evidence:   fmt.Sprintf("%d scored articles", bundle.News.ArticleCount),
		})
	}
	if bundle.Sentiment != nil && bundle.Sentiment.PostCount > 0 {
		p := 0.5 + 0.35*bundle.Sentiment.WeightedSentiment
		components = append(components, component{"sentiment", p, weightSentiment})
		factors = append(factors, domain.KeyFactor{
			Factor:     "social sentiment",
			Impact:     bundle.Sentiment.WeightedSentiment,
			Confidence: bundle.Sentiment.Confidence,
			Source:     "sentiment",
			Evidence:   fmt.Sprintf("%d weighted posts", bundle.Sentiment.PostCount),
		})
	}

	var sum, weightSum float64
	var reasons []string
	for _, c := range components {
		sum += c.prob * c.weight
		weightSum += c.weight
		reasons = append(reasons, fmt.Sprintf("%s=%.3f (w=%.2f)", c.name, c.prob, c.weight))
	}
	probability := clamp(sum/weightSum, 0.02, 0.98)

	var risks []domain.RiskFactor
	if bundle.DataQualityScore < 0.3 {
		risks = append(risks, domain.RiskFactor{
			Risk:              "thin evidence",
			Severity:          0.6,
			Probability:       0.5,
			ImpactDescription: "estimate leans on market price due to sparse external data",
		})
	}
	if bundle.Sentiment != nil && bundle.Sentiment.CoordinationScore > 0.6 {
		risks = append(risks, domain.RiskFactor{
			Risk:              "coordinated posting",
			Severity:          0.7,
			Probability:       bundle.Sentiment.CoordinationScore,
			ImpactDescription: "social signal may be manipulated; sentiment weight reduced by the noise filter",
		})
	}

	confidence := clamp(0.25+0.4*bundle.DataQualityScore, 0, 1)
	halfWidth := 0.35 * (1 - confidence)

	return domain.PredictionResult{
		ID:                    uuid.New().String(),
		MarketID:              market.ID,
		RawProbability:        probability,
		CalibratedProbability: probability,
		Confidence:            confidence,
		ProbabilityLow:        clamp(probability-halfWidth, 0, 1),
		ProbabilityHigh:       clamp(probability+halfWidth, 0, 1),
		KeyFactors:            factors,
		RiskFactors:           risks,
		DataSources:           provenance(bundle),
		ReasoningChain:        "rule-based blend: " + strings.Join(reasons, ", "),
		AnalysisTier:          tier,
		DataQualityScore:      bundle.DataQualityScore,
		CreatedAt:             time.Now(),
	}
}

// provenance records which sources actually contributed to the run.
func provenance(bundle domain.DataBundle) map[string]string {
	sources := map[string]string{}
	if bundle.News != nil && bundle.News.ArticleCount > 0 {
		sources["news"] = fmt.Sprintf("%d articles, freshest %s", bundle.News.ArticleCount, bundle.News.FreshestAt.Format(time.RFC3339))
	} else {
		sources["news"] = "unavailable"
	}
	if bundle.Sentiment != nil && bundle.Sentiment.PostCount > 0 {
		sources["sentiment"] = fmt.Sprintf("%d posts after filtering", bundle.Sentiment.PostCount)
	} else {
		sources["sentiment"] = "unavailable"
	}
	if bundle.Similarity != nil && len(bundle.Similarity.Markets) > 0 {
		sources["similar_markets"] = fmt.Sprintf("%d resolved analogs", len(bundle.Similarity.Markets))
	} else {
		sources["similar_markets"] = "unavailable"
	}
	return sources
}

// sanitizeKeyFactors clamps model-supplied numeric fields into range.
func sanitizeKeyFactors(factors []domain.KeyFactor) []domain.KeyFactor {
	for i := range factors {
		factors[i].Impact = clamp(factors[i].Impact, -1, 1)
		factors[i].Confidence = clamp(factors[i].Confidence, 0, 1)
	}
	return factors
}

// extractJSON returns the first top-level JSON object embedded in s.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
