package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// OpenAI talks to an OpenAI compatible chat completions and embeddings API.
type OpenAI struct {
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	httpClient *http.Client
}

func NewOpenAI(baseURL, apiKey, chatModel, embedModel string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	return &OpenAI{
		baseURL:    trimBaseURL(baseURL),
		apiKey:     apiKey,
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: defaultHTTPClient(),
	}
}

// WithHTTPClient replaces the client; tests point it at an httptest server.
func (o *OpenAI) WithHTTPClient(c *http.Client) *OpenAI {
	o.httpClient = c
	return o
}

func (o *OpenAI) headers() map[string]string {
	if o.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + o.apiKey}
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Chat(ctx context.Context, messages []Message) (string, error) {
	body := map[string]any{
		"model":    o.chatModel,
		"messages": messages,
	}
	var resp openAIChatResponse
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/v1/chat/completions", o.headers(), body, &resp); err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *OpenAI) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"model": o.embedModel,
		"input": text,
	}
	var resp openAIEmbeddingResponse
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/v1/embeddings", o.headers(), body, &resp); err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty data")
	}
	return resp.Data[0].Embedding, nil
}
