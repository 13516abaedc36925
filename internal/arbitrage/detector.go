// Package arbitrage compares the AI, market-price, and crowd-vote probability
// estimates for a market and flags significant divergence between them.
package arbitrage

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// Thresholds holds the minimum absolute divergence per signal kind. A signal
// fires only when the observed divergence exceeds its threshold.
type Thresholds struct {
	AIMarket    float64
	CrowdAI     float64
	CrowdMarket float64
	ThreeWay    float64
}

// DefaultThresholds returns the standard divergence thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AIMarket:    0.15,
		CrowdAI:     0.20,
		CrowdMarket: 0.15,
		ThreeWay:    0.25,
	}
}

// Detector evaluates probability estimates pairwise against Thresholds.
// It is stateless and safe for concurrent use.
type Detector struct {
	thresholds Thresholds
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(t Thresholds) *Detector {
	return &Detector{thresholds: t}
}

// Detect compares the calibrated AI probability, the AMM implied probability,
// and the confidence-weighted crowd probability (nil when too few votes), and
// returns one signal per divergence exceeding its threshold. Strength is the
// divergence normalized to the kind's threshold, so every fired signal has
// strength > 1.
func (d *Detector) Detect(market domain.Market, aiProb float64, crowdProb *float64) []domain.ArbitrageSignal {
	marketProb := market.ImpliedProbability()
	now := time.Now().UTC()

	var signals []domain.ArbitrageSignal
	emit := func(kind domain.DivergenceKind, divergence, threshold float64, desc, rec string) {
		signals = append(signals, domain.ArbitrageSignal{
			ID:               uuid.NewString(),
			MarketID:         market.ID,
			Kind:             kind,
			AIProbability:    aiProb,
			MarketPrice:      marketProb,
			CrowdProbability: crowdProb,
			Divergence:       divergence,
			Strength:         divergence / threshold,
			Description:      desc,
			Recommendation:   rec,
			DetectedAt:       now,
		})
	}

	aiMarket := math.Abs(aiProb - marketProb)
	if aiMarket > d.thresholds.AIMarket {
		emit(domain.DivergenceAIMarket, aiMarket, d.thresholds.AIMarket,
			fmt.Sprintf("AI estimate %.0f%% vs market price %.0f%%", aiProb*100, marketProb*100),
			sideRecommendation(aiProb, marketProb, "the AI model"),
		)
	}

	if crowdProb != nil {
		crowd := *crowdProb

		crowdAI := math.Abs(crowd - aiProb)
		if crowdAI > d.thresholds.CrowdAI {
			emit(domain.DivergenceCrowdAI, crowdAI, d.thresholds.CrowdAI,
				fmt.Sprintf("crowd vote %.0f%% vs AI estimate %.0f%%", crowd*100, aiProb*100),
				"crowd and model disagree; review the evidence before trading",
			)
		}

		crowdMarket := math.Abs(crowd - marketProb)
		if crowdMarket > d.thresholds.CrowdMarket {
			emit(domain.DivergenceCrowdMarket, crowdMarket, d.thresholds.CrowdMarket,
				fmt.Sprintf("crowd vote %.0f%% vs market price %.0f%%", crowd*100, marketProb*100),
				sideRecommendation(crowd, marketProb, "the crowd"),
			)
		}

		if maxPairwise := math.Max(aiMarket, math.Max(crowdAI, crowdMarket)); maxPairwise > d.thresholds.ThreeWay {
			emit(domain.DivergenceThreeWay, maxPairwise, d.thresholds.ThreeWay,
				fmt.Sprintf("AI %.0f%% / market %.0f%% / crowd %.0f%% disagree sharply",
					aiProb*100, marketProb*100, crowd*100),
				"estimates are in strong conflict; treat this market as unsettled",
			)
		}
	}

	return signals
}

func sideRecommendation(estimate, price float64, who string) string {
	if estimate > price {
		return fmt.Sprintf("%s sees YES as underpriced; consider buying YES", who)
	}
	return fmt.Sprintf("%s sees YES as overpriced; consider buying NO", who)
}

// minCrowdVotes is how many votes a market needs before the crowd probability
// is considered meaningful.
const minCrowdVotes = 3

// CrowdProbability aggregates votes into a confidence-weighted probability of
// YES. It returns nil with fewer than minCrowdVotes votes or zero total
// confidence.
func CrowdProbability(votes []domain.Vote) *float64 {
	if len(votes) < minCrowdVotes {
		return nil
	}
	var weightSum, yesSum float64
	for _, v := range votes {
		if v.Confidence <= 0 {
			continue
		}
		weightSum += v.Confidence
		if v.Outcome == domain.OutcomeYes {
			yesSum += v.Confidence
		}
	}
	if weightSum == 0 {
		return nil
	}
	p := yesSum / weightSum
	return &p
}
