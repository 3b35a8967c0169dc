package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Config selects and configures the model backend.
type Config struct {
	Provider       string // gemini, openai or ollama
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

// New builds the chat and embedding clients for cfg.Provider. The returned
// closer releases the underlying client and is never nil.
func New(ctx context.Context, cfg Config) (ChatLLM, EmbeddingsProvider, io.Closer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		g, err := NewGemini(ctx, cfg.APIKey, cfg.ChatModel, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, nil, err
		}
		return g, g, g, nil
	case "openai":
		o := NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.ChatModel, cfg.EmbeddingModel)
		return o, o, nopCloser{}, nil
	case "ollama":
		o := NewOllama(cfg.BaseURL, cfg.ChatModel, cfg.EmbeddingModel)
		return o, o, nopCloser{}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
