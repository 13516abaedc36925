package handler

import (
	"time"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// The domain types carry no JSON tags; the wire shapes live here.

type marketDTO struct {
	ID                 string     `json:"id"`
	Question           string     `json:"question"`
	Category           string     `json:"category,omitempty"`
	ResolutionCriteria string     `json:"resolution_criteria,omitempty"`
	YesLiquidity       float64    `json:"yes_liquidity"`
	NoLiquidity        float64    `json:"no_liquidity"`
	ImpliedProbability float64    `json:"implied_probability"`
	Status             string     `json:"status"`
	WinningOutcome     *string    `json:"winning_outcome,omitempty"`
	ResolutionSource   string     `json:"resolution_source,omitempty"`
	ClosesAt           time.Time  `json:"closes_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toMarketDTO(m domain.Market) marketDTO {
	dto := marketDTO{
		ID:                 m.ID,
		Question:           m.Question,
		Category:           m.Category,
		ResolutionCriteria: m.ResolutionCriteria,
		YesLiquidity:       m.YesLiquidity,
		NoLiquidity:        m.NoLiquidity,
		ImpliedProbability: m.ImpliedProbability(),
		Status:             string(m.Status),
		ResolutionSource:   m.ResolutionSource,
		ClosesAt:           m.ClosesAt,
		ResolvedAt:         m.ResolvedAt,
		CreatedAt:          m.CreatedAt,
	}
	if m.WinningOutcome != nil {
		s := string(*m.WinningOutcome)
		dto.WinningOutcome = &s
	}
	return dto
}

type tradeDTO struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	UserID    string    `json:"user_id"`
	Outcome   string    `json:"outcome"`
	Shares    float64   `json:"shares"`
	Price     float64   `json:"price"`
	Cost      float64   `json:"cost"`
	CreatedAt time.Time `json:"created_at"`
}

func toTradeDTO(t domain.Trade) tradeDTO {
	return tradeDTO{
		ID:        t.ID,
		MarketID:  t.MarketID,
		UserID:    t.UserID,
		Outcome:   string(t.Outcome),
		Shares:    t.Shares,
		Price:     t.Price,
		Cost:      t.Cost,
		CreatedAt: t.CreatedAt,
	}
}

func toTradeDTOs(trades []domain.Trade) []tradeDTO {
	out := make([]tradeDTO, len(trades))
	for i, t := range trades {
		out[i] = toTradeDTO(t)
	}
	return out
}

type receiptDTO struct {
	Trade            tradeDTO `json:"trade"`
	YesProbability   float64  `json:"yes_probability"`
	NoProbability    float64  `json:"no_probability"`
	RemainingCredits float64  `json:"remaining_credits"`
}

func toReceiptDTO(r domain.TradeReceipt) receiptDTO {
	return receiptDTO{
		Trade:            toTradeDTO(r.Trade),
		YesProbability:   r.NewYesProbability,
		NoProbability:    r.NewNoProbability,
		RemainingCredits: r.UserBalance.AvailableCredits,
	}
}

type balanceDTO struct {
	UserID           string  `json:"user_id"`
	AvailableCredits float64 `json:"available_credits"`
	LockedCredits    float64 `json:"locked_credits"`
}

type predictionDTO struct {
	ID                    string              `json:"id"`
	MarketID              string              `json:"market_id"`
	RawProbability        float64             `json:"raw_probability"`
	CalibratedProbability float64             `json:"calibrated_probability"`
	Confidence            float64             `json:"confidence"`
	ProbabilityLow        float64             `json:"probability_low"`
	ProbabilityHigh       float64             `json:"probability_high"`
	KeyFactors            []domain.KeyFactor  `json:"key_factors,omitempty"`
	RiskFactors           []domain.RiskFactor `json:"risk_factors,omitempty"`
	DataSources           map[string]string   `json:"data_sources,omitempty"`
	ReasoningChain        string              `json:"reasoning_chain,omitempty"`
	AnalysisTier          string              `json:"analysis_tier"`
	DataQualityScore      float64             `json:"data_quality_score"`
	CreatedAt             time.Time           `json:"created_at"`
}

func toPredictionDTO(p domain.PredictionResult) predictionDTO {
	return predictionDTO{
		ID:                    p.ID,
		MarketID:              p.MarketID,
		RawProbability:        p.RawProbability,
		CalibratedProbability: p.CalibratedProbability,
		Confidence:            p.Confidence,
		ProbabilityLow:        p.ProbabilityLow,
		ProbabilityHigh:       p.ProbabilityHigh,
		KeyFactors:            p.KeyFactors,
		RiskFactors:           p.RiskFactors,
		DataSources:           p.DataSources,
		ReasoningChain:        p.ReasoningChain,
		AnalysisTier:          string(p.AnalysisTier),
		DataQualityScore:      p.DataQualityScore,
		CreatedAt:             p.CreatedAt,
	}
}

type similarMarketDTO struct {
	MarketID         string  `json:"market_id"`
	Question         string  `json:"question,omitempty"`
	Outcome          string  `json:"outcome"`
	FinalProbability float64 `json:"final_probability"`
	SimilarityScore  float64 `json:"similarity_score"`
}

func toSimilarMarketDTOs(markets []domain.SimilarMarket) []similarMarketDTO {
	out := make([]similarMarketDTO, len(markets))
	for i, m := range markets {
		out[i] = similarMarketDTO{
			MarketID:         m.MarketID,
			Question:         m.Question,
			Outcome:          string(m.Outcome),
			FinalProbability: m.FinalProbability,
			SimilarityScore:  m.SimilarityScore,
		}
	}
	return out
}

type signalDTO struct {
	ID               string    `json:"id"`
	MarketID         string    `json:"market_id"`
	Kind             string    `json:"kind"`
	AIProbability    float64   `json:"ai_probability"`
	MarketPrice      float64   `json:"market_price"`
	CrowdProbability *float64  `json:"crowd_probability,omitempty"`
	Divergence       float64   `json:"divergence"`
	Strength         float64   `json:"strength"`
	Description      string    `json:"description"`
	Recommendation   string    `json:"recommendation"`
	DetectedAt       time.Time `json:"detected_at"`
}

func toSignalDTOs(signals []domain.ArbitrageSignal) []signalDTO {
	out := make([]signalDTO, len(signals))
	for i, s := range signals {
		out[i] = signalDTO{
			ID:               s.ID,
			MarketID:         s.MarketID,
			Kind:             string(s.Kind),
			AIProbability:    s.AIProbability,
			MarketPrice:      s.MarketPrice,
			CrowdProbability: s.CrowdProbability,
			Divergence:       s.Divergence,
			Strength:         s.Strength,
			Description:      s.Description,
			Recommendation:   s.Recommendation,
			DetectedAt:       s.DetectedAt,
		}
	}
	return out
}

type bucketDTO struct {
	Low              float64 `json:"low"`
	High             float64 `json:"high"`
	Count            int     `json:"count"`
	Resolved         int     `json:"resolved"`
	PredictedAvg     float64 `json:"predicted_avg"`
	ActualFrequency  float64 `json:"actual_frequency"`
	CalibrationError float64 `json:"calibration_error"`
}

type calibrationReportDTO struct {
	AgentID            string      `json:"agent_id"`
	BrierScore         float64     `json:"brier_score"`
	CalibrationError   float64     `json:"calibration_error"`
	Buckets            []bucketDTO `json:"buckets"`
	OverconfidenceBias float64     `json:"overconfidence_bias"`
	SampleSize         int         `json:"sample_size"`
}

func toCalibrationReportDTO(r domain.CalibrationReport) calibrationReportDTO {
	buckets := make([]bucketDTO, len(r.Buckets))
	for i, b := range r.Buckets {
		buckets[i] = bucketDTO{
			Low:              b.Low,
			High:             b.High,
			Count:            b.Count,
			Resolved:         b.Resolved,
			PredictedAvg:     b.PredictedAvg,
			ActualFrequency:  b.ActualFrequency,
			CalibrationError: b.CalibrationError,
		}
	}
	return calibrationReportDTO{
		AgentID:            r.AgentID,
		BrierScore:         r.BrierScore,
		CalibrationError:   r.CalibrationError,
		Buckets:            buckets,
		OverconfidenceBias: r.OverconfidenceBias,
		SampleSize:         r.SampleSize,
	}
}
