// Package openai implements the completion and embedding collaborators on
// the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// Config holds API credentials and model selection.
type Config struct {
	APIKey          string
	BaseURL         string // optional, for compatible gateways
	CompletionModel string
	EmbeddingModel  string
}

// Client implements domain.CompletionClient and domain.EmbeddingClient. The
// underlying SDK client is safe for concurrent use, so one Client is shared
// across the whole pipeline.
type Client struct {
	api             *openai.Client
	completionModel string
	embeddingModel  string
	logger          *slog.Logger
}

// New creates a Client. Model names default to gpt-4o-mini for completion and
// text-embedding-3-small for embeddings.
func New(cfg Config, logger *slog.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	completionModel := cfg.CompletionModel
	if completionModel == "" {
		completionModel = openai.GPT4oMini
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}

	return &Client{
		api:             openai.NewClientWithConfig(apiCfg),
		completionModel: completionModel,
		embeddingModel:  embeddingModel,
		logger:          logger.With(slog.String("component", "openai")),
	}
}

// Complete sends a chat completion request and returns the raw text of the
// first choice. Callers own parsing; malformed output is their concern.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.completionModel,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for text, or nil for blank input.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		c.logger.Warn("embedding response empty")
		return nil, nil
	}
	return resp.Data[0].Embedding, nil
}

var (
	_ domain.CompletionClient = (*Client)(nil)
	_ domain.EmbeddingClient  = (*Client)(nil)
)
