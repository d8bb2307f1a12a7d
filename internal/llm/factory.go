package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agenthands/caire/internal/config"
)

func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		return NewOpenAIClient(cfg), nil

	case "gemini":
		return NewGeminiClient(ctx, cfg)

	case "claude":
		return NewClaudeClient(cfg), nil

	case "ollama":
		// Ollama speaks the OpenAI protocol under /v1.
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(cfg.BaseURL, "/v1") {
			cfg.BaseURL = fmt.Sprintf("%s/v1", strings.TrimRight(cfg.BaseURL, "/"))
		}
		if cfg.APIKey == "" {
			cfg.APIKey = "ollama" // ignored by Ollama, required by the client
		}
		return NewOpenAIClient(cfg), nil

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}

// NewRouter builds the teacher and student clients. An unconfigured role
// falls back to the other one; configuring neither is an error.
func NewRouter(ctx context.Context, settings config.LLMSettings, logger *slog.Logger) (*Router, error) {
	var teacher, student LLMClient
	var err error

	if settings.Teacher.Provider != "" {
		if teacher, err = NewClient(ctx, settings.Teacher); err != nil {
			return nil, fmt.Errorf("failed to initialize teacher model: %w", err)
		}
	}
	if settings.Student.Provider != "" {
		if student, err = NewClient(ctx, settings.Student); err != nil {
			return nil, fmt.Errorf("failed to initialize student model: %w", err)
		}
	}
	if teacher == nil && student == nil {
		return nil, fmt.Errorf("no llm provider configured")
	}

	r := NewRouterFromClients(teacher, student, logger)
	r.Retries = settings.Retries
	r.RetryDelay = time.Duration(settings.RetryDelayMS) * time.Millisecond
	return r, nil
}
