package analyst

import (
	"context"
	"fmt"
	"math"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// SourceCredibilityAnalyzer judges how trustworthy the news evidence is. It
// boosts the news stance when coverage comes from credible outlets and
// discounts it when the mix skews low-credibility.
type SourceCredibilityAnalyzer struct{}

func (SourceCredibilityAnalyzer) Name() string { return "source_credibility" }

func (SourceCredibilityAnalyzer) Analyze(_ context.Context, _ domain.Market, b domain.DataBundle) (Insight, error) {
	out := Insight{Analyst: "source_credibility"}
	if b.News == nil || b.News.ArticleCount == 0 {
		out.Summary = "no news coverage to assess"
		return out, nil
	}

	avgCred := 0.0
	for _, item := range b.News.Items {
		avgCred += item.Credibility
	}
	avgCred /= float64(len(b.News.Items))

	out.Adjustment = clampAdj(b.News.CredibilityWeightedSignal * 0.15 * avgCred)
	out.Confidence = avgCred
	out.Summary = fmt.Sprintf("%d articles, mean source credibility %.2f, credibility-weighted stance %+.2f",
		b.News.ArticleCount, avgCred, b.News.CredibilityWeightedSignal)
	return out, nil
}

// HistoricalContextAnalyzer reads the resolved-market neighbours and reports
// how strongly the base rate from analogous markets departs from even odds.
type HistoricalContextAnalyzer struct{}

func (HistoricalContextAnalyzer) Name() string { return "historical_context" }

func (HistoricalContextAnalyzer) Analyze(_ context.Context, _ domain.Market, b domain.DataBundle) (Insight, error) {
	out := Insight{Analyst: "historical_context"}
	if b.Similarity == nil || len(b.Similarity.Markets) == 0 {
		out.Summary = "no resolved analogs found"
		return out, nil
	}

	prior := b.Similarity.TransferredPrior
	out.Adjustment = clampAdj((prior - 0.5) * 0.4)
	out.Confidence = b.Similarity.AverageSimilarity * math.Min(1, float64(len(b.Similarity.Markets))/3)
	out.Summary = fmt.Sprintf("%d resolved analogs (avg similarity %.2f) imply a prior of %.2f",
		len(b.Similarity.Markets), b.Similarity.AverageSimilarity, prior)
	return out, nil
}

// LogicalConsistencyAnalyzer checks whether the independent signals agree.
// Contradictory news and sentiment lower confidence without moving the
// estimate; agreement reinforces it slightly.
type LogicalConsistencyAnalyzer struct{}

func (LogicalConsistencyAnalyzer) Name() string { return "logical_consistency" }

func (LogicalConsistencyAnalyzer) Analyze(_ context.Context, _ domain.Market, b domain.DataBundle) (Insight, error) {
	out := Insight{Analyst: "logical_consistency"}
	if b.News == nil || b.Sentiment == nil || b.News.ArticleCount == 0 || b.Sentiment.PostCount == 0 {
		out.Summary = "insufficient signals for a consistency check"
		return out, nil
	}

	newsDir := b.News.CredibilityWeightedSignal
	sentDir := b.Sentiment.WeightedSentiment

	if newsDir*sentDir < 0 && math.Abs(newsDir) > 0.1 && math.Abs(sentDir) > 0.1 {
		out.Summary = fmt.Sprintf("news (%+.2f) and sentiment (%+.2f) point in opposite directions", newsDir, sentDir)
		out.Confidence = 0.2
		return out, nil
	}

	agreement := math.Min(math.Abs(newsDir), math.Abs(sentDir))
	out.Adjustment = clampAdj(sign(newsDir) * agreement * 0.1)
	out.Confidence = 0.5 + agreement/2
	out.Summary = fmt.Sprintf("news (%+.2f) and sentiment (%+.2f) are directionally consistent", newsDir, sentDir)
	return out, nil
}

// EvidenceAnalyzer weighs the sheer volume and freshness of the evidence:
// thin bundles pull the confidence down regardless of direction.
type EvidenceAnalyzer struct{}

func (EvidenceAnalyzer) Name() string { return "evidence_analysis" }

func (EvidenceAnalyzer) Analyze(_ context.Context, _ domain.Market, b domain.DataBundle) (Insight, error) {
	out := Insight{Analyst: "evidence_analysis"}

	articles, posts := 0, 0
	if b.News != nil {
		articles = b.News.ArticleCount
	}
	if b.Sentiment != nil {
		posts = b.Sentiment.PostCount
	}

	out.Confidence = b.DataQualityScore
	out.Summary = fmt.Sprintf("evidence base: %d articles, %d posts, data quality %.2f",
		articles, posts, b.DataQualityScore)
	return out, nil
}

func clampAdj(v float64) float64 {
	return math.Max(-0.2, math.Min(0.2, v))
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
