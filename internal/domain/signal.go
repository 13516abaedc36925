package domain

import "time"

// AccountMetadata describes the social account behind a post, used for
// credibility scoring.
type AccountMetadata struct {
	Username       string
	CreatedAt      time.Time
	Verified       bool
	FollowerCount  int
	FollowingCount int
}

// SocialPost is a raw social media post before noise filtering.
type SocialPost struct {
	ID              string
	Content         string
	Author          AccountMetadata
	Platform        string
	PostedAt        time.Time
	EngagementScore float64
}

// WeightedPost is a post after sentiment scoring and weighting. Ephemeral,
// never persisted.
type WeightedPost struct {
	Post              SocialPost
	Sentiment         float64 // in [-1,1]
	CredibilityWeight float64
	RecencyWeight     float64
	EngagementWeight  float64
}

// CombinedWeight is the product of the three component weights.
func (p WeightedPost) CombinedWeight() float64 {
	return p.CredibilityWeight * p.RecencyWeight * p.EngagementWeight
}

// NewsItem is a scored news article.
type NewsItem struct {
	Title       string
	Snippet     string
	URL         string
	Source      string
	PublishedAt time.Time
	Credibility float64
	Stance      float64 // in [-1,1], direction on the market question
	Relevance   float64 // in [0,1]
	Summary     string
}

// NewsSignal is the aggregated output of the news pipeline.
type NewsSignal struct {
	Items                     []NewsItem
	OverallSignal             float64 // mean stance
	CredibilityWeightedSignal float64 // stance weighted by credibility x relevance
	ArticleCount              int
	FreshestAt                time.Time
}

// SentimentSignal is the aggregated output of the social sentiment pipeline.
type SentimentSignal struct {
	WeightedSentiment float64 // in [-1,1]
	Momentum          float64 // late-half minus early-half sentiment
	Confidence        float64 // from volume and inter-post agreement
	PostCount         int
	FilteredCount     int // posts dropped by the noise filter
	CoordinationScore float64
	FreshestAt        time.Time
}

// SimilarMarket references a resolved market semantically close to the one
// under analysis. Ephemeral.
type SimilarMarket struct {
	MarketID         string
	Question         string
	Outcome          Outcome
	FinalProbability float64
	SimilarityScore  float64 // in [0,1]
}

// SimilaritySignal bundles the nearest resolved markets with the prior
// probability transferred from them.
type SimilaritySignal struct {
	Markets           []SimilarMarket
	TransferredPrior  float64
	AverageSimilarity float64
}

// DataBundle is the result of the concurrent signal fan-out. Any pointer may
// be nil when that source failed or produced nothing; missing data lowers
// DataQualityScore instead of failing the bundle.
type DataBundle struct {
	MarketID         string
	News             *NewsSignal
	Sentiment        *SentimentSignal
	Similarity       *SimilaritySignal
	DataQualityScore float64
	CollectedAt      time.Time
}

// DivergenceKind identifies which pair (or triple) of probability estimates
// disagrees.
type DivergenceKind string

const (
	DivergenceAIMarket    DivergenceKind = "ai_market"
	DivergenceCrowdAI     DivergenceKind = "crowd_ai"
	DivergenceCrowdMarket DivergenceKind = "crowd_market"
	DivergenceThreeWay    DivergenceKind = "three_way"
)

// ArbitrageSignal flags a significant disagreement between independent
// probability estimates for the same market.
type ArbitrageSignal struct {
	ID               string
	MarketID         string
	Kind             DivergenceKind
	AIProbability    float64
	MarketPrice      float64
	CrowdProbability *float64 // nil when too few votes
	Divergence       float64
	Strength         float64 // divergence normalized to the kind's threshold
	Description      string
	Recommendation   string
	DetectedAt       time.Time
}
