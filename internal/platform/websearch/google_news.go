// Package websearch implements the search and social-post collaborators on
// public endpoints: Google News RSS for articles, Reddit search for posts.
package websearch

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/foresightmarkets/foresight/internal/domain"
)

const (
	googleNewsBase = "https://news.google.com/rss/search"
	userAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// rss mirrors the Google News RSS envelope.
type rss struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Source      struct {
		URL  string `xml:"url,attr"`
		Text string `xml:",chardata"`
	} `xml:"source"`
}

// GoogleNewsClient implements domain.SearchClient over the Google News RSS
// feed. No API key required.
type GoogleNewsClient struct {
	client *resty.Client
	logger *slog.Logger
}

// NewGoogleNewsClient creates a client with sane HTTP defaults.
func NewGoogleNewsClient(timeout time.Duration, logger *slog.Logger) *GoogleNewsClient {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &GoogleNewsClient{
		client: client,
		logger: logger.With(slog.String("component", "google_news")),
	}
}

// Search queries the RSS feed for articles matching query within the window.
func (g *GoogleNewsClient) Search(ctx context.Context, query string, window time.Duration) ([]domain.SearchResult, error) {
	days := int(window.Hours() / 24)
	if days < 1 {
		days = 1
	}

	params := url.Values{}
	params.Set("q", fmt.Sprintf("%s when:%dd", query, days))
	params.Set("hl", "en-US")
	params.Set("gl", "US")
	params.Set("ceid", "US:en")

	resp, err := g.client.R().
		SetContext(ctx).
		Get(googleNewsBase + "?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("websearch: fetch google news: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("websearch: google news status %d", resp.StatusCode())
	}

	var feed rss
	if err := xml.Unmarshal(resp.Body(), &feed); err != nil {
		return nil, fmt.Errorf("websearch: parse rss: %w", err)
	}

	cutoff := time.Now().Add(-window)
	results := make([]domain.SearchResult, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		published := parsePubDate(item.PubDate)
		if !published.IsZero() && published.Before(cutoff) {
			continue
		}
		results = append(results, domain.SearchResult{
			Title:       item.Title,
			Snippet:     item.Description,
			URL:         item.Link,
			Source:      sourceOf(item),
			PublishedAt: published,
		})
	}

	g.logger.Debug("news search",
		slog.String("query", query),
		slog.Int("results", len(results)),
	)
	return results, nil
}

// sourceOf prefers the feed's source hostname over its display name, since
// credibility scoring keys on domains.
func sourceOf(item rssItem) string {
	if item.Source.URL != "" {
		if u, err := url.Parse(item.Source.URL); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return item.Source.Text
}

func parsePubDate(s string) time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

var _ domain.SearchClient = (*GoogleNewsClient)(nil)
