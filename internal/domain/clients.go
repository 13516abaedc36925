package domain

import (
	"context"
	"time"
)

// CompletionRequest is a single call to the text-completion collaborator.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float32
}

// CompletionClient is the text-completion collaborator. Callers must tolerate
// malformed or non-JSON responses; the synthesizer degrades to its fallback
// tier on any error or parse failure.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// EmbeddingClient is the embedding collaborator. Embed returns a nil vector
// when the service declines the input; callers treat nil as a zero signal,
// never as a failure of the pipeline.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchResult is one hit from the web/news search collaborator.
type SearchResult struct {
	Title       string
	Snippet     string
	URL         string
	Source      string
	PublishedAt time.Time
}

// SearchClient is the web/news search collaborator.
type SearchClient interface {
	Search(ctx context.Context, query string, window time.Duration) ([]SearchResult, error)
}

// PostSource fetches recent social posts mentioning a market question.
type PostSource interface {
	FetchPosts(ctx context.Context, query string, window time.Duration) ([]SocialPost, error)
}
