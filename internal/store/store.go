// Package store declares the persistence contracts used by the sync and RAG
// services. Implementations live in store/memory and store/postgres.
package store

import (
	"context"
	"errors"

	"github.com/jun/docrag/backend/internal/model"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// SourceRepository persists DocumentSources. Delete cascades to tracked files.
type SourceRepository interface {
	Create(ctx context.Context, s *model.DocumentSource) error
	Get(ctx context.Context, id string) (*model.DocumentSource, error)
	ListByUser(ctx context.Context, userID string) ([]model.DocumentSource, error)
	Update(ctx context.Context, s *model.DocumentSource) error
	Delete(ctx context.Context, id string) error
}

// TrackedFileRepository persists TrackedFiles. Create returns
// ErrUniqueViolation when (SourceID, FileID) already exists.
type TrackedFileRepository interface {
	Create(ctx context.Context, f *model.TrackedFile) error
	Get(ctx context.Context, id string) (*model.TrackedFile, error)
	FindBySourceAndFile(ctx context.Context, sourceID, fileID string) (*model.TrackedFile, error)
	ListBySource(ctx context.Context, sourceID string) ([]model.TrackedFile, error)
	// ListPending returns at most limit pending records, oldest first.
	ListPending(ctx context.Context, limit int) ([]model.TrackedFile, error)
	Update(ctx context.Context, f *model.TrackedFile) error
	Delete(ctx context.Context, id string) error
}

// ProcessedFileRepository is the ingestion ledger. Create returns
// ErrUniqueViolation when the filename is already claimed.
type ProcessedFileRepository interface {
	FindByName(ctx context.Context, filename string) (*model.ProcessedFile, error)
	FindByNameAndHash(ctx context.Context, filename, hash string) (*model.ProcessedFile, error)
	Create(ctx context.Context, f *model.ProcessedFile) error
	DeleteByName(ctx context.Context, filename string) error
	List(ctx context.Context) ([]model.ProcessedFile, error)
	Clear(ctx context.Context) error
}

// VectorRepository stores embedded chunks. Distances are cosine distances.
type VectorRepository interface {
	InsertChunk(ctx context.Context, c model.DocumentChunk) error
	FindSimilar(ctx context.Context, embedding []float32, k int) ([]model.SimilarDocument, error)
	// GetAllChunksBySource returns every chunk of source ordered by ChunkIndex.
	GetAllChunksBySource(ctx context.Context, source string) ([]model.DocumentChunk, error)
	DeleteBySource(ctx context.Context, source string) (int, error)
	CountAll(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) error
}

// ConversationRepository persists conversations and their append-only messages.
type ConversationRepository interface {
	Create(ctx context.Context, c *model.Conversation) error
	Get(ctx context.Context, id string) (*model.Conversation, error)
	// ListActiveByUser returns active conversations, most recently updated first.
	ListActiveByUser(ctx context.Context, userID string) ([]model.Conversation, error)
	Update(ctx context.Context, c *model.Conversation) error
	AddMessage(ctx context.Context, m *model.ConversationMessage) error
	// Messages returns the history of a conversation in creation order.
	Messages(ctx context.Context, conversationID string) ([]model.ConversationMessage, error)
}
