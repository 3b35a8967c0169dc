// Package llm provides the chat and embedding model clients used by the RAG
// pipeline and the ingestion service.
package llm

import (
	"context"

	"github.com/jun/docrag/backend/internal/model"
)

// Message is one turn sent to a chat model.
type Message struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

// ChatLLM returns the model's reply to a message list.
type ChatLLM interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// EmbeddingsProvider turns text into a vector.
type EmbeddingsProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}
