// Package tracking manages the files and folders a user registered for sync.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/ingest"
	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/sources"
	"github.com/jun/docrag/backend/internal/store"
)

var (
	ErrNotFound     = errors.New("tracked file not found")
	ErrFolder       = errors.New("folders have no indexed content of their own")
	ErrNotRetryable = errors.New("only files in error can be retried")
	ErrInvalidInput = errors.New("invalid tracked file")
)

// SourceService resolves a user's sources and file metadata.
type SourceService interface {
	GetSource(ctx context.Context, userID, sourceID string) (*model.DocumentSource, error)
	GetFileMetadata(ctx context.Context, userID, sourceID, fileID string) (*adapter.CloudFile, error)
}

// Index removes a document's chunks and ledger entry.
type Index interface {
	RemoveDocument(ctx context.Context, source string) (int, error)
}

type Service struct {
	tracked store.TrackedFileRepository
	sources SourceService
	index   Index
	log     *logger.Logger
}

func NewService(tracked store.TrackedFileRepository, srcs SourceService, index Index, log *logger.Logger) *Service {
	return &Service{tracked: tracked, sources: srcs, index: index, log: log.With("service", "TrackingService")}
}

// TrackInput describes a file or folder to track. When FileName is empty
// the metadata is fetched from the provider. IncludeChildren defaults to
// true for folders.
type TrackInput struct {
	FileID          string
	FileName        string
	FilePath        string
	MimeType        string
	IsFolder        bool
	IncludeChildren *bool
}

// TrackFile registers a file for sync. Tracking an already tracked file
// returns the existing record with created set to false.
func (s *Service) TrackFile(ctx context.Context, userID, sourceID string, in TrackInput) (rec *model.TrackedFile, created bool, err error) {
	if strings.TrimSpace(in.FileID) == "" {
		return nil, false, fmt.Errorf("%w: fileId is required", ErrInvalidInput)
	}
	if _, err := s.source(ctx, userID, sourceID); err != nil {
		return nil, false, err
	}

	existing, err := s.tracked.FindBySourceAndFile(ctx, sourceID, in.FileID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	if in.FileName == "" {
		meta, err := s.sources.GetFileMetadata(ctx, userID, sourceID, in.FileID)
		if err != nil {
			return nil, false, fmt.Errorf("get file metadata: %w", err)
		}
		in.FileName, in.MimeType, in.IsFolder = meta.Name, meta.MimeType, meta.IsFolder
		if in.FilePath == "" && meta.Path != "" {
			in.FilePath = meta.Path
		}
	}
	if in.FilePath == "" {
		in.FilePath = "/" + in.FileName
	}

	rec = &model.TrackedFile{
		SourceID: sourceID,
		FileID:   in.FileID,
		FileName: in.FileName,
		FilePath: in.FilePath,
		MimeType: in.MimeType,
		IsFolder: in.IsFolder,
		Status:   model.StatusPending,
	}
	if in.IsFolder {
		rec.IncludeChildren = in.IncludeChildren == nil || *in.IncludeChildren
	}

	err = s.tracked.Create(ctx, rec)
	if errors.Is(err, store.ErrUniqueViolation) {
		existing, ferr := s.tracked.FindBySourceAndFile(ctx, sourceID, in.FileID)
		return existing, false, ferr
	}
	if err != nil {
		return nil, false, fmt.Errorf("track file: %w", err)
	}
	s.log.Info("File tracked", "sourceId", sourceID, "fileId", rec.FileID, "isFolder", rec.IsFolder)
	return rec, true, nil
}

// ListTracked returns the tracked files of a source, oldest first.
func (s *Service) ListTracked(ctx context.Context, userID, sourceID string) ([]model.TrackedFile, error) {
	if _, err := s.source(ctx, userID, sourceID); err != nil {
		return nil, err
	}
	return s.tracked.ListBySource(ctx, sourceID)
}

// UntrackFile stops tracking a file. Its indexed chunks are kept.
func (s *Service) UntrackFile(ctx context.Context, userID, trackedID string) error {
	rec, err := s.owned(ctx, userID, trackedID)
	if err != nil {
		return err
	}
	return s.tracked.Delete(ctx, rec.ID)
}

// UnragFile removes a tracked file's chunks and ledger entry, then stops
// tracking it. It returns the number of chunks deleted.
func (s *Service) UnragFile(ctx context.Context, userID, trackedID string) (int, error) {
	rec, err := s.owned(ctx, userID, trackedID)
	if err != nil {
		return 0, err
	}
	if rec.IsFolder {
		return 0, ErrFolder
	}

	name := ingest.DocumentName(rec.FileName, rec.MimeType)
	n, err := s.index.RemoveDocument(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("remove %s from index: %w", name, err)
	}
	if err := s.tracked.Delete(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return n, err
	}
	s.log.Info("File removed from index", "source", name, "chunks", n)
	return n, nil
}

// RetryFile moves a file in error back to pending.
func (s *Service) RetryFile(ctx context.Context, userID, trackedID string) (*model.TrackedFile, error) {
	rec, err := s.owned(ctx, userID, trackedID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusError {
		return nil, ErrNotRetryable
	}
	rec.Status = model.StatusPending
	rec.ErrorMessage = ""
	if err := s.tracked.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) owned(ctx context.Context, userID, trackedID string) (*model.TrackedFile, error) {
	rec, err := s.tracked.Get(ctx, trackedID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.source(ctx, userID, rec.SourceID); err != nil {
		if errors.Is(err, sources.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *Service) source(ctx context.Context, userID, sourceID string) (*model.DocumentSource, error) {
	return s.sources.GetSource(ctx, userID, sourceID)
}
