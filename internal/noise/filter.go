// Package noise scores social-account credibility and filters bot and
// coordinated activity out of the sentiment pipeline.
package noise

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// Config holds the filter's tunable thresholds.
type Config struct {
	MinAccountAge     time.Duration // accounts younger than this are penalized
	ImbalanceRatio    float64       // following/(followers+1) above this is suspect
	MinDuplicateGroup int           // distinct authors repeating content to flag
	MaxRegularGap     time.Duration // mean inter-post gap below this is suspect
	GapVarianceCutoff float64       // coefficient of variation below this is suspect
	RecencyFloor      float64       // minimum recency weight
}

// Defaults returns the thresholds used in production.
func Defaults() Config {
	return Config{
		MinAccountAge:     30 * 24 * time.Hour,
		ImbalanceRatio:    10,
		MinDuplicateGroup: 3,
		MaxRegularGap:     5 * time.Minute,
		GapVarianceCutoff: 0.25,
		RecencyFloor:      0.1,
	}
}

// Filter scores account credibility and detects coordinated posting.
type Filter struct {
	cfg Config
}

// NewFilter creates a Filter. Zero-valued config fields fall back to Defaults.
func NewFilter(cfg Config) *Filter {
	def := Defaults()
	if cfg.MinAccountAge <= 0 {
		cfg.MinAccountAge = def.MinAccountAge
	}
	if cfg.ImbalanceRatio <= 0 {
		cfg.ImbalanceRatio = def.ImbalanceRatio
	}
	if cfg.MinDuplicateGroup <= 0 {
		cfg.MinDuplicateGroup = def.MinDuplicateGroup
	}
	if cfg.MaxRegularGap <= 0 {
		cfg.MaxRegularGap = def.MaxRegularGap
	}
	if cfg.GapVarianceCutoff <= 0 {
		cfg.GapVarianceCutoff = def.GapVarianceCutoff
	}
	if cfg.RecencyFloor <= 0 {
		cfg.RecencyFloor = def.RecencyFloor
	}
	return &Filter{cfg: cfg}
}

// botUsername matches handles ending in long digit runs, e.g. "user84712953".
var botUsername = regexp.MustCompile(`\d{4,}$`)

// Credibility scores an account in [0,1]. The score starts at 0.5 and is
// adjusted for account age, verification, follower count, follow-ratio
// imbalance, and bot-like usernames.
func (f *Filter) Credibility(acct domain.AccountMetadata, now time.Time) float64 {
	score := 0.5

	// Young accounts are penalized, more strongly the younger they are.
	age := now.Sub(acct.CreatedAt)
	if age < f.cfg.MinAccountAge {
		frac := float64(age) / float64(f.cfg.MinAccountAge)
		if frac < 0 {
			frac = 0
		}
		score -= 0.25 * (1 - frac)
	}

	if acct.Verified {
		score += 0.2
	}

	// Follower reward is log-scaled so whales don't dominate.
	score += math.Min(0.15, 0.03*math.Log10(1+float64(acct.FollowerCount)))

	// Extreme following/follower imbalance is a strong bot tell.
	ratio := float64(acct.FollowingCount) / float64(acct.FollowerCount+1)
	if ratio > f.cfg.ImbalanceRatio {
		score -= math.Min(0.25, 0.08*math.Log10(ratio))
	}

	if botUsername.MatchString(acct.Username) {
		score -= 0.1
	}

	return clamp01(score)
}

// CoordinationResult reports detected coordinated posting.
type CoordinationResult struct {
	Score    float64  // in [0,1]
	Examples []string // representative duplicated content
}

// DetectCoordination flags near-duplicate content repeated by at least
// MinDuplicateGroup distinct authors inside the window, and unnaturally
// regular inter-post timing (low-variance gaps under a short average).
func (f *Filter) DetectCoordination(posts []domain.SocialPost, window time.Duration) CoordinationResult {
	if len(posts) < f.cfg.MinDuplicateGroup {
		return CoordinationResult{}
	}

	cutoff := latestTime(posts).Add(-window)

	// Group normalized content -> distinct authors.
	type group struct {
		authors map[string]bool
		sample  string
	}
	groups := make(map[string]*group)
	var inWindow []domain.SocialPost
	for _, p := range posts {
		if p.PostedAt.Before(cutoff) {
			continue
		}
		inWindow = append(inWindow, p)
		key := NormalizeContent(p.Content)
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &group{authors: make(map[string]bool), sample: p.Content}
			groups[key] = g
		}
		g.authors[p.Author.Username] = true
	}

	var examples []string
	duplicated := 0
	for _, g := range groups {
		if len(g.authors) >= f.cfg.MinDuplicateGroup {
			duplicated += len(g.authors)
			examples = append(examples, g.sample)
		}
	}
	sort.Strings(examples)

	dupScore := 0.0
	if len(inWindow) > 0 {
		dupScore = math.Min(1, float64(duplicated)/float64(len(inWindow))*2)
	}

	timingScore := f.timingRegularity(inWindow)

	return CoordinationResult{
		Score:    clamp01(math.Max(dupScore, timingScore)),
		Examples: examples,
	}
}

// timingRegularity returns a score in [0,1] that rises when inter-post gaps
// are short and nearly constant, a signature of scheduled bot activity.
func (f *Filter) timingRegularity(posts []domain.SocialPost) float64 {
	if len(posts) < 5 {
		return 0
	}
	times := make([]time.Time, len(posts))
	for i, p := range posts {
		times[i] = p.PostedAt
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	gaps := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]).Seconds())
	}

	mean := 0.0
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	if mean <= 0 || mean > f.cfg.MaxRegularGap.Seconds() {
		return 0
	}

	variance := 0.0
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))
	cv := math.Sqrt(variance) / mean

	if cv >= f.cfg.GapVarianceCutoff {
		return 0
	}
	return 1 - cv/f.cfg.GapVarianceCutoff
}

// RecencyWeight computes the exponential decay weight for a post,
// 0.5^(hours_since / half_life), floored at the configured minimum.
func (f *Filter) RecencyWeight(postedAt, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	hours := now.Sub(postedAt).Hours()
	if hours <= 0 {
		return 1
	}
	w := math.Pow(0.5, hours/halfLife.Hours())
	if w < f.cfg.RecencyFloor {
		return f.cfg.RecencyFloor
	}
	return w
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)

// NormalizeContent collapses a post body so near-duplicates hash together.
// Consumers filtering on CoordinationResult.Examples must compare normalized
// forms, since grouping happens on the normalized key.
func NormalizeContent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnum.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func latestTime(posts []domain.SocialPost) time.Time {
	var latest time.Time
	for _, p := range posts {
		if p.PostedAt.After(latest) {
			latest = p.PostedAt
		}
	}
	return latest
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
