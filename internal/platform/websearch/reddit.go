package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/foresightmarkets/foresight/internal/domain"
)

const redditSearchURL = "https://www.reddit.com/search.json"

// redditListing mirrors the Reddit search API envelope.
type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
}

// RedditClient implements domain.PostSource over Reddit's public search
// endpoint. Account age and follower data are not available from search
// results, so the noise filter judges those posts on content and timing
// signals alone.
type RedditClient struct {
	client *resty.Client
	logger *slog.Logger
}

// NewRedditClient creates a client with sane HTTP defaults.
func NewRedditClient(timeout time.Duration, logger *slog.Logger) *RedditClient {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "foresight/1.0 (market research)").
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &RedditClient{
		client: client,
		logger: logger.With(slog.String("component", "reddit")),
	}
}

// FetchPosts searches recent posts matching query within the window.
func (r *RedditClient) FetchPosts(ctx context.Context, query string, window time.Duration) ([]domain.SocialPost, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("sort", "new")
	params.Set("t", redditTimeFilter(window))
	params.Set("limit", "100")

	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&redditListing{}).
		Get(redditSearchURL + "?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("websearch: fetch reddit: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("websearch: reddit status %d", resp.StatusCode())
	}

	listing, ok := resp.Result().(*redditListing)
	if !ok {
		return nil, fmt.Errorf("websearch: reddit: unexpected response shape")
	}

	cutoff := time.Now().Add(-window)
	var posts []domain.SocialPost
	for _, child := range listing.Data.Children {
		p := child.Data
		if p.Stickied || p.Author == "" || p.Author == "[deleted]" {
			continue
		}
		postedAt := time.Unix(int64(p.CreatedUTC), 0).UTC()
		if postedAt.Before(cutoff) {
			continue
		}

		content := p.Title
		if p.Selftext != "" {
			content += "\n" + p.Selftext
		}
		posts = append(posts, domain.SocialPost{
			ID:       p.ID,
			Content:  content,
			Platform: "reddit/" + p.Subreddit,
			PostedAt: postedAt,
			Author: domain.AccountMetadata{
				Username: p.Author,
			},
			EngagementScore: engagement(p.Score, p.NumComments),
		})
	}

	r.logger.Debug("post search",
		slog.String("query", query),
		slog.Int("posts", len(posts)),
	)
	return posts, nil
}

// engagement folds score and comment count into a single log-scaled value.
func engagement(score, comments int) float64 {
	if score < 0 {
		score = 0
	}
	return math.Log10(1 + float64(score) + 2*float64(comments))
}

func redditTimeFilter(window time.Duration) string {
	switch {
	case window <= time.Hour:
		return "hour"
	case window <= 24*time.Hour:
		return "day"
	case window <= 7*24*time.Hour:
		return "week"
	case window <= 31*24*time.Hour:
		return "month"
	default:
		return "year"
	}
}

var _ domain.PostSource = (*RedditClient)(nil)
