package domain

import "time"

// AnalysisTier selects how much work (and cost) a synthesis run spends.
type AnalysisTier string

const (
	// TierLightweight blends existing signals deterministically, no LLM call.
	TierLightweight AnalysisTier = "lightweight"
	// TierDaily is a single structured completion over the aggregated data.
	TierDaily AnalysisTier = "daily"
	// TierDeep additionally runs the per-signal analyzers before synthesis.
	TierDeep AnalysisTier = "deep"
	// TierFallback is the deterministic blend used when the completion
	// service fails or returns unparseable output. Never requested directly.
	TierFallback AnalysisTier = "fallback"
)

// KeyFactor is a single driver behind a prediction.
type KeyFactor struct {
	Factor     string  `json:"factor"`
	Impact     float64 `json:"impact"` // in [-1,1], sign = direction on P(yes)
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Evidence   string  `json:"evidence"`
}

// RiskFactor is a scenario that could invalidate the prediction.
type RiskFactor struct {
	Risk              string  `json:"risk"`
	Severity          float64 `json:"severity"`
	Probability       float64 `json:"probability"`
	ImpactDescription string  `json:"impact_description"`
}

// PredictionResult is the immutable output of one synthesis run. Raw and
// calibrated probabilities are kept separately; calibration is applied after
// synthesis, never inside it.
type PredictionResult struct {
	ID                    string
	MarketID              string
	RawProbability        float64
	CalibratedProbability float64
	Confidence            float64
	ProbabilityLow        float64
	ProbabilityHigh       float64
	KeyFactors            []KeyFactor
	RiskFactors           []RiskFactor
	DataSources           map[string]string // source name -> provenance note
	ReasoningChain        string
	AnalysisTier          AnalysisTier
	DataQualityScore      float64
	CreatedAt             time.Time
}

// CalibrationRecord pairs a prediction with its eventual outcome. One record
// exists per (agent, market); resolution fills in the outcome fields exactly
// once.
type CalibrationRecord struct {
	ID                   string
	AgentID              string
	MarketID             string
	PredictedProbability float64
	ActualOutcome        *bool    // nil until the market resolves
	BrierScore           *float64 // (predicted - actual)^2, set at resolution
	CreatedAt            time.Time
	ResolvedAt           *time.Time
}

// CalibrationBucket is one probability decile of a calibration curve.
type CalibrationBucket struct {
	Low              float64
	High             float64
	Count            int
	Resolved         int
	PredictedAvg     float64
	ActualFrequency  float64
	CalibrationError float64 // |predicted_avg - actual_freq| over resolved rows
}

// CalibrationReport summarizes an agent's historical accuracy.
type CalibrationReport struct {
	AgentID            string
	BrierScore         float64
	CalibrationError   float64 // mean bucket error, resolved buckets only
	Buckets            []CalibrationBucket
	OverconfidenceBias float64 // mean(predicted - actual), signed
	SampleSize         int
}
