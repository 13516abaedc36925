package synthesis

import (
	"fmt"
	"strings"

	"github.com/foresightmarkets/foresight/internal/analyst"
	"github.com/foresightmarkets/foresight/internal/domain"
)

const synthesisSystemPrompt = `You are a forecasting engine for a binary prediction market.
Given the market question and the evidence bundle, estimate the probability that the market resolves YES.

Respond with ONLY a JSON object in exactly this shape:
{
  "probability": <float 0..1>,
  "confidence": <float 0..1>,
  "key_factors": [{"factor": "<short name>", "impact": <float -1..1>, "confidence": <float 0..1>, "source": "<news|sentiment|historical|reasoning>", "evidence": "<one sentence>"}],
  "risk_factors": [{"risk": "<short name>", "severity": <float 0..1>, "probability": <float 0..1>, "impact_description": "<one sentence>"}],
  "reasoning": "<your step-by-step reasoning>",
  "summary": "<two sentences>"
}

Ground every factor in the supplied evidence. Do not invent events. Be calibrated: extreme probabilities require overwhelming evidence.`

// buildUserPrompt renders the market and its evidence bundle into the
// completion request. Deep runs additionally include the analyzer insights.
func buildUserPrompt(market domain.Market, bundle domain.DataBundle, insights []analyst.Insight) string {
	var b strings.Builder

	fmt.Fprintf(&b, "MARKET QUESTION: %s\n", market.Question)
	if market.Category != "" {
		fmt.Fprintf(&b, "CATEGORY: %s\n", market.Category)
	}
	if market.ResolutionCriteria != "" {
		fmt.Fprintf(&b, "RESOLUTION CRITERIA: %s\n", market.ResolutionCriteria)
	}
	fmt.Fprintf(&b, "CURRENT MARKET PRICE (implied P(yes)): %.3f\n", market.ImpliedProbability())
	fmt.Fprintf(&b, "DATA QUALITY SCORE: %.2f\n\n", bundle.DataQualityScore)

	b.WriteString("== NEWS ==\n")
	if bundle.News == nil || bundle.News.ArticleCount == 0 {
		b.WriteString("(no news coverage found)\n")
	} else {
		fmt.Fprintf(&b, "overall stance %+.2f, credibility-weighted stance %+.2f across %d articles\n",
			bundle.News.OverallSignal, bundle.News.CredibilityWeightedSignal, bundle.News.ArticleCount)
		for _, item := range bundle.News.Items {
			summary := item.Summary
			if summary == "" {
				summary = item.Snippet
			}
			fmt.Fprintf(&b, "- [%s, credibility %.2f, stance %+.2f] %s: %s\n",
				item.Source, item.Credibility, item.Stance, item.Title, summary)
		}
	}

	b.WriteString("\n== SOCIAL SENTIMENT ==\n")
	if bundle.Sentiment == nil || bundle.Sentiment.PostCount == 0 {
		b.WriteString("(no usable social signal)\n")
	} else {
		s := bundle.Sentiment
		fmt.Fprintf(&b, "weighted sentiment %+.2f over %d posts (%d filtered as noise), momentum %+.2f, confidence %.2f, coordination score %.2f\n",
			s.WeightedSentiment, s.PostCount, s.FilteredCount, s.Momentum, s.Confidence, s.CoordinationScore)
	}

	b.WriteString("\n== RESOLVED ANALOG MARKETS ==\n")
	if bundle.Similarity == nil || len(bundle.Similarity.Markets) == 0 {
		b.WriteString("(no similar resolved markets)\n")
	} else {
		fmt.Fprintf(&b, "transferred prior %.2f from %d analogs\n",
			bundle.Similarity.TransferredPrior, len(bundle.Similarity.Markets))
		for _, m := range bundle.Similarity.Markets {
			fmt.Fprintf(&b, "- [similarity %.2f, resolved %s at %.2f] %s\n",
				m.SimilarityScore, m.Outcome, m.FinalProbability, m.Question)
		}
	}

	if len(insights) > 0 {
		b.WriteString("\n== ANALYST INSIGHTS ==\n")
		for _, in := range insights {
			fmt.Fprintf(&b, "- %s (confidence %.2f, suggested shift %+.2f): %s\n",
				in.Analyst, in.Confidence, in.Adjustment, in.Summary)
		}
	}

	return b.String()
}
