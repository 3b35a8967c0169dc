package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jun/docrag/backend/internal/model"
)

// DirectoryResult summarizes ProcessDirectory.
type DirectoryResult struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Errors    int      `json:"errors"`
	Details   []string `json:"details"`
}

// ProcessDirectory ingests every supported file directly inside dir.
func (s *Service) ProcessDirectory(ctx context.Context, dir string) (*DirectoryResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	res := &DirectoryResult{}
	for _, e := range entries {
		if e.IsDir() || !s.extractor.IsSupportedExtension(e.Name()) {
			continue
		}
		r, err := s.ProcessLocalFile(ctx, filepath.Join(dir, e.Name()))
		switch {
		case err != nil:
			res.Errors++
			res.Details = append(res.Details, fmt.Sprintf("error %s: %v", e.Name(), err))
		case r.Success:
			res.Processed++
			res.Details = append(res.Details, fmt.Sprintf("ok %s: %d chunks", e.Name(), r.ChunksCount))
		case r.Reason == ReasonAlreadyProcessed:
			res.Skipped++
			res.Details = append(res.Details, fmt.Sprintf("skipped %s: already processed", e.Name()))
		default:
			res.Errors++
			res.Details = append(res.Details, fmt.Sprintf("error %s: %s", e.Name(), r.Message))
		}
	}
	if res.Processed+res.Skipped+res.Errors == 0 {
		res.Details = append(res.Details, "no supported files found")
	}
	return res, nil
}

// Stats describes the current index.
type Stats struct {
	TotalFiles  int                   `json:"totalFiles"`
	TotalChunks int                   `json:"totalChunks"`
	Files       []model.ProcessedFile `json:"files"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	files, err := s.ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processed files: %w", err)
	}
	total, err := s.vectors.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{TotalFiles: len(files), TotalChunks: total, Files: files}, nil
}

// ClearIndex deletes every chunk and ledger entry.
func (s *Service) ClearIndex(ctx context.Context) error {
	if err := s.vectors.ClearAll(ctx); err != nil {
		return err
	}
	if err := s.ledger.Clear(ctx); err != nil {
		return fmt.Errorf("clear processed files: %w", err)
	}
	s.log.Warn("Index cleared")
	return nil
}

// RemoveDocument deletes the chunks and ledger entry of one indexed document.
func (s *Service) RemoveDocument(ctx context.Context, source string) (int, error) {
	n, err := s.vectors.DeleteBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	if err := s.ledger.DeleteByName(ctx, source); err != nil {
		return n, fmt.Errorf("delete processed file: %w", err)
	}
	return n, nil
}
