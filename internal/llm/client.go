package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// Client is the interface every reasoning backend implements. Each
// client is bound to one model at construction. Implementations must
// tolerate an empty tools slice.
type Client interface {
	// Chat sends a completion request and returns the full response.
	Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatStream sends a completion request, delivering text fragments
	// to callback as they arrive. Tool calling is not streamed; the
	// caller resolves tools with Chat first.
	ChatStream(ctx context.Context, messages []Message, callback StreamCallback) (*ChatResponse, error)

	// Ping checks whether the backend is reachable and authorized.
	Ping(ctx context.Context) error
}

// Config selects and parameterizes a backend for New.
type Config struct {
	Backend string // "ollama", "openai", "gemini"

	OllamaHost  string
	OllamaModel string

	OpenAIKey   string
	OpenAIModel string

	GeminiKey   string
	GeminiModel string
}

// New constructs the configured backend client.
func New(cfg Config, logger *slog.Logger) (Client, error) {
	switch cfg.Backend {
	case "ollama":
		return NewOllamaClient(cfg.OllamaHost, cfg.OllamaModel, logger), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("openai backend selected but no api key configured")
		}
		return NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel, logger), nil
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("gemini backend selected but no api key configured")
		}
		return NewGeminiClient(cfg.GeminiKey, cfg.GeminiModel, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm backend: %q", cfg.Backend)
	}
}
