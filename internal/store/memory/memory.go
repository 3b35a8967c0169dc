// Package memory implements the store repositories in process memory.
// It backs DEV_MODE and the service tests.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/store"
)

// DB groups the in-memory repositories that share state.
type DB struct {
	Sources        *Sources
	TrackedFiles   *TrackedFiles
	ProcessedFiles *ProcessedFiles
	Vectors        *Vectors
	Conversations  *Conversations
}

func New() *DB {
	tracked := &TrackedFiles{files: make(map[string]model.TrackedFile)}
	return &DB{
		Sources:        &Sources{sources: make(map[string]model.DocumentSource), tracked: tracked},
		TrackedFiles:   tracked,
		ProcessedFiles: &ProcessedFiles{files: make(map[string]model.ProcessedFile)},
		Vectors:        &Vectors{},
		Conversations:  &Conversations{conversations: make(map[string]model.Conversation)},
	}
}

// Sources implements store.SourceRepository.
type Sources struct {
	mu      sync.RWMutex
	sources map[string]model.DocumentSource
	tracked *TrackedFiles
}

func (r *Sources) Create(ctx context.Context, s *model.DocumentSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	r.sources[s.ID] = *s
	return nil
}

func (r *Sources) Get(ctx context.Context, id string) (*model.DocumentSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (r *Sources) ListByUser(ctx context.Context, userID string) ([]model.DocumentSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.DocumentSource
	for _, s := range r.sources {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Sources) Update(ctx context.Context, s *model.DocumentSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[s.ID]; !ok {
		return store.ErrNotFound
	}
	s.UpdatedAt = time.Now()
	r.sources[s.ID] = *s
	return nil
}

func (r *Sources) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.sources[id]; !ok {
		r.mu.Unlock()
		return store.ErrNotFound
	}
	delete(r.sources, id)
	r.mu.Unlock()

	r.tracked.deleteBySource(id)
	return nil
}

// TrackedFiles implements store.TrackedFileRepository.
type TrackedFiles struct {
	mu    sync.RWMutex
	files map[string]model.TrackedFile
	seq   int
}

func (r *TrackedFiles) Create(ctx context.Context, f *model.TrackedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.files {
		if existing.SourceID == f.SourceID && existing.FileID == f.FileID {
			return store.ErrUniqueViolation
		}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = model.StatusPending
	}
	// Strictly increasing timestamps keep oldest-first ordering stable.
	r.seq++
	now := time.Now().Add(time.Duration(r.seq) * time.Microsecond)
	f.CreatedAt, f.UpdatedAt = now, now
	r.files[f.ID] = *f
	return nil
}

func (r *TrackedFiles) Get(ctx context.Context, id string) (*model.TrackedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (r *TrackedFiles) FindBySourceAndFile(ctx context.Context, sourceID, fileID string) (*model.TrackedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.files {
		if f.SourceID == sourceID && f.FileID == fileID {
			return &f, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *TrackedFiles) ListBySource(ctx context.Context, sourceID string) ([]model.TrackedFile, error) {
	return r.list(func(f model.TrackedFile) bool { return f.SourceID == sourceID }, 0), nil
}

func (r *TrackedFiles) ListPending(ctx context.Context, limit int) ([]model.TrackedFile, error) {
	return r.list(func(f model.TrackedFile) bool { return f.Status == model.StatusPending }, limit), nil
}

func (r *TrackedFiles) list(match func(model.TrackedFile) bool, limit int) []model.TrackedFile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.TrackedFile
	for _, f := range r.files {
		if match(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *TrackedFiles) Update(ctx context.Context, f *model.TrackedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[f.ID]; !ok {
		return store.ErrNotFound
	}
	f.UpdatedAt = time.Now()
	r.files[f.ID] = *f
	return nil
}

func (r *TrackedFiles) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.files, id)
	return nil
}

func (r *TrackedFiles) deleteBySource(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, f := range r.files {
		if f.SourceID == sourceID {
			delete(r.files, id)
		}
	}
}

// ProcessedFiles implements store.ProcessedFileRepository, keyed by filename.
type ProcessedFiles struct {
	mu    sync.RWMutex
	files map[string]model.ProcessedFile
}

func (r *ProcessedFiles) FindByName(ctx context.Context, filename string) (*model.ProcessedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[filename]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (r *ProcessedFiles) FindByNameAndHash(ctx context.Context, filename, hash string) (*model.ProcessedFile, error) {
	f, err := r.FindByName(ctx, filename)
	if err != nil {
		return nil, err
	}
	if f.FileHash != hash {
		return nil, store.ErrNotFound
	}
	return f, nil
}

func (r *ProcessedFiles) Create(ctx context.Context, f *model.ProcessedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[f.Filename]; ok {
		return store.ErrUniqueViolation
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.ProcessedAt.IsZero() {
		f.ProcessedAt = time.Now()
	}
	r.files[f.Filename] = *f
	return nil
}

func (r *ProcessedFiles) DeleteByName(ctx context.Context, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, filename)
	return nil
}

func (r *ProcessedFiles) List(ctx context.Context) ([]model.ProcessedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ProcessedFile, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.After(out[j].ProcessedAt) })
	return out, nil
}

func (r *ProcessedFiles) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = make(map[string]model.ProcessedFile)
	return nil
}

// Vectors implements store.VectorRepository with a linear cosine scan.
type Vectors struct {
	mu     sync.RWMutex
	chunks []model.DocumentChunk
}

func (r *Vectors) InsertChunk(ctx context.Context, c model.DocumentChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Embedding = append([]float32(nil), c.Embedding...)
	r.chunks = append(r.chunks, c)
	return nil
}

func (r *Vectors) FindSimilar(ctx context.Context, embedding []float32, k int) ([]model.SimilarDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.SimilarDocument, 0, len(r.chunks))
	for _, c := range r.chunks {
		out = append(out, model.SimilarDocument{DocumentChunk: c, Distance: cosineDistance(embedding, c.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (r *Vectors) GetAllChunksBySource(ctx context.Context, source string) ([]model.DocumentChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.DocumentChunk
	for _, c := range r.chunks {
		if c.Source == source {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *Vectors) DeleteBySource(ctx context.Context, source string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.chunks[:0]
	deleted := 0
	for _, c := range r.chunks {
		if c.Source == source {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	r.chunks = kept
	return deleted, nil
}

func (r *Vectors) CountAll(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks), nil
}

func (r *Vectors) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = nil
	return nil
}

func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Conversations implements store.ConversationRepository.
type Conversations struct {
	mu            sync.RWMutex
	conversations map[string]model.Conversation
	messages      []model.ConversationMessage
}

func (r *Conversations) Create(ctx context.Context, c *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	r.conversations[c.ID] = *c
	return nil
}

func (r *Conversations) Get(ctx context.Context, id string) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (r *Conversations) ListActiveByUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Conversation
	for _, c := range r.conversations {
		if c.UserID == userID && c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *Conversations) Update(ctx context.Context, c *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[c.ID]; !ok {
		return store.ErrNotFound
	}
	c.UpdatedAt = time.Now()
	r.conversations[c.ID] = *c
	return nil
}

func (r *Conversations) AddMessage(ctx context.Context, m *model.ConversationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[m.ConversationID]
	if !ok {
		return store.ErrNotFound
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now()
	r.messages = append(r.messages, *m)
	c.UpdatedAt = m.CreatedAt
	r.conversations[c.ID] = c
	return nil
}

func (r *Conversations) Messages(ctx context.Context, conversationID string) ([]model.ConversationMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.ConversationMessage
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

var (
	_ store.SourceRepository        = (*Sources)(nil)
	_ store.TrackedFileRepository   = (*TrackedFiles)(nil)
	_ store.ProcessedFileRepository = (*ProcessedFiles)(nil)
	_ store.VectorRepository        = (*Vectors)(nil)
	_ store.ConversationRepository  = (*Conversations)(nil)
)
