package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Ollama talks to a local Ollama server.
type Ollama struct {
	baseURL    string
	chatModel  string
	embedModel string
	httpClient *http.Client
}

func NewOllama(baseURL, chatModel, embedModel string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if chatModel == "" {
		chatModel = "llama3"
	}
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	return &Ollama{
		baseURL:    trimBaseURL(baseURL),
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: defaultHTTPClient(),
	}
}

func (o *Ollama) WithHTTPClient(c *http.Client) *Ollama {
	o.httpClient = c
	return o
}

func (o *Ollama) Chat(ctx context.Context, messages []Message) (string, error) {
	body := map[string]any{
		"model":    o.chatModel,
		"messages": messages,
		"stream":   false,
	}
	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/api/chat", nil, body, &resp); err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return resp.Message.Content, nil
}

func (o *Ollama) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"model":  o.embedModel,
		"prompt": text,
	}
	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/api/embeddings", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("ollama embeddings: empty embedding")
	}
	return resp.Embedding, nil
}
