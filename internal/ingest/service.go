// Package ingest turns files into embedded chunks: download or read, hash,
// dedup against the processed-file ledger, extract, chunk, embed and store.
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/chunker"
	"github.com/jun/docrag/backend/internal/llm"
	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/store"
)

// Reason explains why a file was skipped rather than ingested.
type Reason string

const (
	ReasonAlreadyProcessed Reason = "already_processed"
	ReasonDuplicateName    Reason = "duplicate_name"
	ReasonNoText           Reason = "no_text"
	ReasonUnsupported      Reason = "unsupported_format"
)

// Result is the outcome of ingesting one file. Reason is set when Success is false.
type Result struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ChunksCount int    `json:"chunksCount,omitempty"`
	Reason      Reason `json:"reason,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Hash        string `json:"hash,omitempty"`
}

func skipped(reason Reason, filename, format string, args ...any) *Result {
	return &Result{Reason: reason, Filename: filename, Message: fmt.Sprintf(format, args...)}
}

// FileSource resolves files of a user's document source.
type FileSource interface {
	GetSource(ctx context.Context, userID, sourceID string) (*model.DocumentSource, error)
	GetFileMetadata(ctx context.Context, userID, sourceID, fileID string) (*adapter.CloudFile, error)
	DownloadFile(ctx context.Context, userID, sourceID, fileID string) ([]byte, error)
}

// TextExtractor is the extraction capability, usually *extract.Registry.
type TextExtractor interface {
	IsSupportedExtension(filename string) bool
	Extract(ctx context.Context, path string) (string, error)
}

type Service struct {
	sources    FileSource
	extractor  TextExtractor
	chunker    *chunker.Chunker
	embeddings llm.EmbeddingsProvider
	vectors    store.VectorRepository
	ledger     store.ProcessedFileRepository
	tmpDir     string
	log        *logger.Logger
}

func NewService(
	sources FileSource,
	extractor TextExtractor,
	ch *chunker.Chunker,
	embeddings llm.EmbeddingsProvider,
	vectors store.VectorRepository,
	ledger store.ProcessedFileRepository,
	tmpDir string,
	log *logger.Logger,
) *Service {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Service{
		sources:    sources,
		extractor:  extractor,
		chunker:    ch,
		embeddings: embeddings,
		vectors:    vectors,
		ledger:     ledger,
		tmpDir:     tmpDir,
		log:        log.With("service", "IngestService"),
	}
}

// document is a file ready for the shared pipeline.
type document struct {
	display    string // name shown to users
	source     string // vector-store key
	hash       string
	fileID     string // empty for local files
	sourceURL  string
	sourceType string
	content    []byte // written to a temp file when path is empty
	path       string
}

// ProcessFileFromSource ingests one cloud file. fileName overrides the
// provider's name. Skips are reported in the Result; errors are failures.
func (s *Service) ProcessFileFromSource(ctx context.Context, userID, sourceID, fileID, fileName string) (*Result, error) {
	src, err := s.sources.GetSource(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	meta, err := s.sources.GetFileMetadata(ctx, userID, sourceID, fileID)
	if err != nil {
		return nil, fmt.Errorf("get file metadata: %w", err)
	}

	name := fileName
	if name == "" {
		name = meta.Name
	}
	if name == "" {
		name = fileID
	}
	display := DisplayName(name, meta.MimeType)
	if !s.extractor.IsSupportedExtension(display) {
		return skipped(ReasonUnsupported, display, "unsupported file format: %s", display), nil
	}

	content, err := s.sources.DownloadFile(ctx, userID, sourceID, fileID)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}

	linked := *meta
	linked.Name = display
	return s.ingest(ctx, document{
		display:    display,
		source:     SanitizeFilename(display),
		hash:       hashOf(content),
		fileID:     fileID,
		sourceURL:  SourceURL(src.Provider, linked),
		sourceType: string(src.Provider),
		content:    content,
	})
}

// ProcessLocalFile ingests a file from the local filesystem.
func (s *Service) ProcessLocalFile(ctx context.Context, path string) (*Result, error) {
	name := filepath.Base(path)
	if !s.extractor.IsSupportedExtension(name) {
		return skipped(ReasonUnsupported, name, "unsupported file format: %s", name), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return s.ingest(ctx, document{
		display:    name,
		source:     name,
		hash:       hashOf(content),
		sourceURL:  LocalFileURL(name),
		sourceType: model.SourceTypeLocal,
		path:       path,
	})
}

func (s *Service) ingest(ctx context.Context, doc document) (*Result, error) {
	if _, err := s.ledger.FindByNameAndHash(ctx, doc.source, doc.hash); err == nil {
		res := skipped(ReasonAlreadyProcessed, doc.display, "file %s was already processed", doc.display)
		res.Hash = doc.hash
		return res, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check ledger: %w", err)
	}

	// A different hash under the same name is either a new version of the
	// same file, which replaces the old chunks, or a name collision.
	replace := false
	existing, err := s.ledger.FindByName(ctx, doc.source)
	switch {
	case err == nil && existing.FileID == doc.fileID:
		replace = true
	case err == nil:
		return skipped(ReasonDuplicateName, doc.display,
			"another file is already indexed as %s; rename one of them", doc.source), nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("check ledger: %w", err)
	}

	path := doc.path
	if path == "" {
		tmp, err := s.writeTemp(doc.source, doc.content)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
				s.log.Warn("Failed to remove temp file", "path", tmp, "error", err)
			}
		}()
		path = tmp
	}

	text, err := s.extractor.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", doc.display, err)
	}
	if strings.TrimSpace(text) == "" {
		return skipped(ReasonNoText, doc.display, "file %s has no extractable text", doc.display), nil
	}
	chunks := s.chunker.Chunk(text)
	if len(chunks) == 0 {
		return skipped(ReasonNoText, doc.display, "file %s has no extractable text", doc.display), nil
	}

	// Embed everything before touching stored rows so a failure leaves the
	// previous version searchable.
	rows := make([]model.DocumentChunk, len(chunks))
	for i, chunk := range chunks {
		emb, err := s.embeddings.GenerateEmbedding(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d of %s: %w", i+1, doc.display, err)
		}
		rows[i] = model.DocumentChunk{
			Text:        chunk,
			Embedding:   emb,
			Source:      doc.source,
			SourceURL:   doc.sourceURL,
			SourceType:  doc.sourceType,
			ChunkIndex:  i + 1,
			TotalChunks: len(chunks),
		}
	}

	var previous *snapshot
	if replace {
		previous, err = s.takeSnapshot(ctx, existing)
		if err != nil {
			return nil, fmt.Errorf("remove previous version: %w", err)
		}
		s.log.Info("Replacing previous version", "source", doc.source, "deletedChunks", len(previous.chunks))
	}

	for i, row := range rows {
		if err := s.vectors.InsertChunk(ctx, row); err != nil {
			s.rollback(ctx, doc.source, previous)
			return nil, fmt.Errorf("store chunk %d of %s: %w", i+1, doc.display, err)
		}
	}

	err = s.ledger.Create(ctx, &model.ProcessedFile{
		Filename:    doc.source,
		FileHash:    doc.hash,
		FileID:      doc.fileID,
		ChunksCount: len(chunks),
	})
	if errors.Is(err, store.ErrUniqueViolation) {
		s.rollback(ctx, doc.source, previous)
		return skipped(ReasonDuplicateName, doc.display,
			"another file is already indexed as %s; rename one of them", doc.source), nil
	}
	if err != nil {
		s.rollback(ctx, doc.source, previous)
		return nil, fmt.Errorf("record processed file: %w", err)
	}

	s.log.Info("File ingested", "source", doc.source, "chunks", len(chunks))
	return &Result{
		Success:     true,
		Message:     fmt.Sprintf("file %s processed successfully", doc.display),
		ChunksCount: len(chunks),
		Filename:    doc.display,
		Hash:        doc.hash,
	}, nil
}

// snapshot is a replaced version kept in memory until the new one is stored.
type snapshot struct {
	entry  model.ProcessedFile
	chunks []model.DocumentChunk
}

// takeSnapshot reads the stored version of entry and then deletes it.
func (s *Service) takeSnapshot(ctx context.Context, entry *model.ProcessedFile) (*snapshot, error) {
	chunks, err := s.vectors.GetAllChunksBySource(ctx, entry.Filename)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{entry: *entry, chunks: chunks}
	if _, err := s.vectors.DeleteBySource(ctx, entry.Filename); err != nil {
		return nil, err
	}
	if err := s.ledger.DeleteByName(ctx, entry.Filename); err != nil {
		s.restore(ctx, snap)
		return nil, err
	}
	return snap, nil
}

// rollback drops a partial chunk set so no orphaned rows stay searchable,
// then puts back the replaced version if there was one.
func (s *Service) rollback(ctx context.Context, source string, previous *snapshot) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.vectors.DeleteBySource(ctx, source); err != nil {
		s.log.Error("Failed to roll back chunks", "source", source, "error", err)
	}
	if previous != nil {
		s.restore(ctx, previous)
		if err := s.ledger.Create(ctx, &previous.entry); err != nil {
			s.log.Error("Failed to restore ledger entry", "source", source, "error", err)
		}
	}
}

func (s *Service) restore(ctx context.Context, snap *snapshot) {
	ctx = context.WithoutCancel(ctx)
	for _, c := range snap.chunks {
		if err := s.vectors.InsertChunk(ctx, c); err != nil {
			s.log.Error("Failed to restore chunk", "source", c.Source, "index", c.ChunkIndex, "error", err)
			return
		}
	}
}

func (s *Service) writeTemp(name string, content []byte) (string, error) {
	if err := os.MkdirAll(s.tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(s.tmpDir, "*-"+name)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return f.Name(), nil
}

func hashOf(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
