package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/agenthands/caire/internal/config"
)

type ClaudeClient struct {
	client      *anthropic.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewClaudeClient(cfg config.LLMConfig) *ClaudeClient {
	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	return &ClaudeClient{
		client:      anthropic.NewClient(cfg.APIKey, opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens(cfg.MaxTokens),
	}
}

func (c *ClaudeClient) Generate(ctx context.Context, prompt string) (string, error) {
	temperature := c.temperature
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      systemPrompt,
		Temperature: &temperature,
		MaxTokens:   c.maxTokens,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude messages failed (%s): %w", c.model, err)
	}
	if resp.StopReason == anthropic.MessagesStopReasonMaxTokens {
		return "", fmt.Errorf("claude %s: %w", c.model, ErrTruncated)
	}

	var out strings.Builder
	for _, part := range resp.Content {
		if part.Text != nil {
			out.WriteString(*part.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("claude %s: %w", c.model, ErrEmptyResponse)
	}
	return out.String(), nil
}
