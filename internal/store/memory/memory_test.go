package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/store"
)

func TestSources_DeleteCascades(t *testing.T) {
	db := New()
	ctx := context.Background()

	src := &model.DocumentSource{UserID: "u1", Provider: model.ProviderDropbox, IsActive: true}
	if err := db.Sources.Create(ctx, src); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	db.TrackedFiles.Create(ctx, &model.TrackedFile{SourceID: src.ID, FileID: "a"})
	db.TrackedFiles.Create(ctx, &model.TrackedFile{SourceID: "other", FileID: "b"})

	if err := db.Sources.Delete(ctx, src.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := db.Sources.Get(ctx, src.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	left, _ := db.TrackedFiles.ListBySource(ctx, src.ID)
	if len(left) != 0 {
		t.Errorf("Expected tracked files to be deleted, got %d", len(left))
	}
	other, _ := db.TrackedFiles.ListBySource(ctx, "other")
	if len(other) != 1 {
		t.Errorf("Expected unrelated tracked file to survive, got %d", len(other))
	}
}

func TestTrackedFiles_UniqueAndPendingOrder(t *testing.T) {
	db := New()
	ctx := context.Background()

	for _, id := range []string{"f1", "f2", "f3"} {
		if err := db.TrackedFiles.Create(ctx, &model.TrackedFile{SourceID: "s", FileID: id}); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}
	if err := db.TrackedFiles.Create(ctx, &model.TrackedFile{SourceID: "s", FileID: "f1"}); !errors.Is(err, store.ErrUniqueViolation) {
		t.Errorf("Expected ErrUniqueViolation, got %v", err)
	}

	pending, _ := db.TrackedFiles.ListPending(ctx, 2)
	if len(pending) != 2 || pending[0].FileID != "f1" || pending[1].FileID != "f2" {
		t.Fatalf("Expected oldest two pending records, got %+v", pending)
	}

	pending[0].Status = model.StatusCompleted
	db.TrackedFiles.Update(ctx, &pending[0])
	pending, _ = db.TrackedFiles.ListPending(ctx, 10)
	if len(pending) != 2 || pending[0].FileID != "f2" {
		t.Errorf("Expected f2 and f3 pending, got %+v", pending)
	}
}

func TestProcessedFiles(t *testing.T) {
	db := New()
	ctx := context.Background()
	r := db.ProcessedFiles

	if err := r.Create(ctx, &model.ProcessedFile{Filename: "a.pdf", FileHash: "h1"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Create(ctx, &model.ProcessedFile{Filename: "a.pdf", FileHash: "h2"}); !errors.Is(err, store.ErrUniqueViolation) {
		t.Errorf("Expected ErrUniqueViolation, got %v", err)
	}
	if _, err := r.FindByNameAndHash(ctx, "a.pdf", "h2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for different hash, got %v", err)
	}
	if f, err := r.FindByNameAndHash(ctx, "a.pdf", "h1"); err != nil || f.FileHash != "h1" {
		t.Errorf("Expected match for same hash, got %v, %v", f, err)
	}
	r.DeleteByName(ctx, "a.pdf")
	if _, err := r.FindByName(ctx, "a.pdf"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestVectors_FindSimilar(t *testing.T) {
	db := New()
	ctx := context.Background()
	v := db.Vectors

	v.InsertChunk(ctx, model.DocumentChunk{Text: "x", Source: "a", ChunkIndex: 2, Embedding: []float32{1, 0}})
	v.InsertChunk(ctx, model.DocumentChunk{Text: "y", Source: "b", ChunkIndex: 1, Embedding: []float32{0, 1}})
	v.InsertChunk(ctx, model.DocumentChunk{Text: "z", Source: "a", ChunkIndex: 1, Embedding: []float32{0.9, 0.1}})

	hits, _ := v.FindSimilar(ctx, []float32{1, 0}, 2)
	if len(hits) != 2 || hits[0].Text != "x" || hits[1].Text != "z" {
		t.Fatalf("Unexpected hits %+v", hits)
	}
	if hits[0].Distance > 1e-9 {
		t.Errorf("Expected zero distance for identical vector, got %f", hits[0].Distance)
	}

	chunks, _ := v.GetAllChunksBySource(ctx, "a")
	if len(chunks) != 2 || chunks[0].ChunkIndex != 1 {
		t.Errorf("Expected chunks ordered by index, got %+v", chunks)
	}

	n, _ := v.DeleteBySource(ctx, "a")
	if n != 2 {
		t.Errorf("Expected 2 deleted, got %d", n)
	}
	if total, _ := v.CountAll(ctx); total != 1 {
		t.Errorf("Expected 1 remaining chunk, got %d", total)
	}
}

func TestConversations(t *testing.T) {
	db := New()
	ctx := context.Background()
	r := db.Conversations

	c := &model.Conversation{UserID: "u1", Title: "t", IsActive: true}
	r.Create(ctx, c)
	r.AddMessage(ctx, &model.ConversationMessage{ConversationID: c.ID, Role: model.RoleUser, Content: "q"})
	r.AddMessage(ctx, &model.ConversationMessage{ConversationID: c.ID, Role: model.RoleAssistant, Content: "a"})

	msgs, _ := r.Messages(ctx, c.ID)
	if len(msgs) != 2 || msgs[0].Role != model.RoleUser || msgs[1].Role != model.RoleAssistant {
		t.Fatalf("Unexpected history %+v", msgs)
	}
	if err := r.AddMessage(ctx, &model.ConversationMessage{ConversationID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	c.IsActive = false
	r.Update(ctx, c)
	active, _ := r.ListActiveByUser(ctx, "u1")
	if len(active) != 0 {
		t.Errorf("Expected deactivated conversation to be hidden, got %d", len(active))
	}
}
