// Package ragsync walks tracked cloud files and folders and feeds pending
// files through ingestion, moving each TrackedFile through
// pending, processing and then completed or error.
package ragsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/extract"
	"github.com/jun/docrag/backend/internal/ingest"
	"github.com/jun/docrag/backend/internal/lease"
	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/sources"
	"github.com/jun/docrag/backend/internal/store"
)

const (
	DefaultPendingBatch   = 50
	DefaultMaxFilesPerRun = 25
	DefaultMaxLogs        = 500

	// LeaseKey names the cross-process sync lease.
	LeaseKey = "rag-sync"
)

var ErrAlreadyRunning = errors.New("a sync is already running")

// Result summarizes one run. Error is set when the run aborted.
type Result struct {
	Success        bool       `json:"success"`
	ProcessedCount int        `json:"processedCount"`
	ErrorCount     int        `json:"errorCount"`
	Logs           []LogEntry `json:"logs"`
	Error          string     `json:"error,omitempty"`
}

// SourceService is the slice of the source lifecycle the orchestrator needs.
type SourceService interface {
	GetUserSources(ctx context.Context, userID string) ([]model.DocumentSource, error)
	GetSource(ctx context.Context, userID, sourceID string) (*model.DocumentSource, error)
	ListFiles(ctx context.Context, userID, sourceID, folderID string) ([]adapter.CloudFile, error)
	UpdateLastSync(ctx context.Context, sourceID string) error
}

// Ingester ingests one cloud file.
type Ingester interface {
	ProcessFileFromSource(ctx context.Context, userID, sourceID, fileID, fileName string) (*ingest.Result, error)
}

type Config struct {
	PendingBatch   int
	MaxFilesPerRun int
	MaxLogs        int
	// Owner identifies this process on the lease. Defaults to a random id.
	Owner string
}

type Orchestrator struct {
	tracked  store.TrackedFileRepository
	sources  SourceService
	ingester Ingester
	locker   lease.Locker
	cfg      Config
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	logs    *runLog
}

// NewOrchestrator builds an orchestrator. locker may be nil, in which case
// only the in-process guard prevents concurrent runs.
func NewOrchestrator(tracked store.TrackedFileRepository, srcs SourceService, ingester Ingester, locker lease.Locker, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.PendingBatch <= 0 {
		cfg.PendingBatch = DefaultPendingBatch
	}
	if cfg.MaxFilesPerRun <= 0 {
		cfg.MaxFilesPerRun = DefaultMaxFilesPerRun
	}
	if cfg.MaxLogs <= 0 {
		cfg.MaxLogs = DefaultMaxLogs
	}
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	return &Orchestrator{
		tracked:  tracked,
		sources:  srcs,
		ingester: ingester,
		locker:   locker,
		cfg:      cfg,
		log:      log.With("service", "SyncOrchestrator"),
		now:      time.Now,
		logs:     newRunLog(cfg.MaxLogs),
	}
}

// IsCurrentlyRunning reports whether a run is in flight in this process.
func (o *Orchestrator) IsCurrentlyRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// GetLogs returns the log of the current or most recent run.
func (o *Orchestrator) GetLogs() []LogEntry {
	o.mu.Lock()
	logs := o.logs
	o.mu.Unlock()
	return logs.snapshot()
}

// LeaseStatus returns the cross-process lease holder, or nil when free or
// when no lease is configured.
func (o *Orchestrator) LeaseStatus(ctx context.Context) (*model.SyncLease, error) {
	if o.locker == nil {
		return nil, nil
	}
	return o.locker.Status(ctx, LeaseKey)
}

// SyncPendingFiles processes up to MaxFilesPerRun pending files for userID,
// then rescans the user's completed folders for new or changed files while
// the cap allows. It returns ErrAlreadyRunning when another run holds this process or the
// lease. Failures of the run itself are reported in the Result.
func (o *Orchestrator) SyncPendingFiles(ctx context.Context, userID string) (*Result, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	o.running = true
	r := &run{o: o, userID: userID, logs: newRunLog(o.cfg.MaxLogs)}
	o.logs = r.logs
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	if o.locker != nil {
		if _, err := o.locker.Acquire(ctx, LeaseKey, o.cfg.Owner); err != nil {
			if errors.Is(err, lease.ErrLocked) {
				return nil, fmt.Errorf("%w: held by another process", ErrAlreadyRunning)
			}
			r.add(LevelError, "", "", "could not acquire sync lease: %v", err)
			return r.result(err), nil
		}
		defer func() {
			// The run's context may already be cancelled.
			if err := o.locker.Release(context.WithoutCancel(ctx), LeaseKey, o.cfg.Owner); err != nil {
				o.log.Warn("Failed to release sync lease", "error", err)
			}
		}()
	}

	if err := r.execute(ctx); err != nil {
		r.add(LevelError, "", "", "sync aborted: %v", err)
		return r.result(err), nil
	}
	return r.result(nil), nil
}

// run is the state of one SyncPendingFiles invocation.
type run struct {
	o      *Orchestrator
	userID string
	logs   *runLog

	processed int
	failed    int
	attempted int
	capHit    bool

	sources map[string]*model.DocumentSource
	visited map[string]bool
}

func (r *run) add(level LogLevel, fileID, fileName, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logs.add(LogEntry{Timestamp: r.o.now(), Level: level, Message: msg, FileID: fileID, FileName: fileName})
	switch level {
	case LevelWarning:
		r.o.log.Warn(msg, "userId", r.userID, "fileId", fileID)
	case LevelError:
		r.o.log.Error(msg, "userId", r.userID, "fileId", fileID)
	}
}

func (r *run) result(err error) *Result {
	res := &Result{
		Success:        err == nil,
		ProcessedCount: r.processed,
		ErrorCount:     r.failed,
		Logs:           r.logs.snapshot(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (r *run) execute(ctx context.Context) error {
	r.sources = make(map[string]*model.DocumentSource)
	r.visited = make(map[string]bool)
	r.add(LevelInfo, "", "", "Starting file sync")

	owned, err := r.userRecords(ctx)
	if err != nil {
		return err
	}
	// The lease makes this the only run, so processing rows are leftovers
	// of an interrupted one.
	if r.o.locker != nil {
		if err := r.requeueStale(ctx, owned); err != nil {
			return err
		}
	}

	pending, err := r.o.tracked.ListPending(ctx, r.o.cfg.PendingBatch)
	if err != nil {
		return fmt.Errorf("list pending files: %w", err)
	}
	if len(pending) == 0 {
		r.add(LevelInfo, "", "", "No pending files to process")
	} else {
		r.add(LevelInfo, "", "", "Found %d pending items", len(pending))
	}

	for i := range pending {
		if r.capHit {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		// Earlier folder walks may have handled this record already.
		rec, err := r.o.tracked.Get(ctx, pending[i].ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reload tracked file: %w", err)
		}
		if rec.Status != model.StatusPending {
			continue
		}

		src, err := r.source(ctx, rec.SourceID)
		if err != nil {
			return err
		}
		if src == nil {
			r.add(LevelWarning, rec.FileID, rec.FileName, "%s belongs to another user's source, skipping", rec.FileName)
			continue
		}

		if rec.IsFolder {
			err = r.processFolder(ctx, src, rec)
		} else {
			if r.attempted >= r.o.cfg.MaxFilesPerRun {
				r.stopAtCap()
				break
			}
			err = r.processFile(ctx, src, rec)
		}
		if err != nil {
			return err
		}
	}

	if err := r.rescanFolders(ctx, owned); err != nil {
		return err
	}

	for id := range r.sources {
		if r.sources[id] == nil {
			continue
		}
		if err := r.o.sources.UpdateLastSync(ctx, id); err != nil {
			r.o.log.Warn("Failed to stamp last sync", "sourceId", id, "error", err)
		}
	}

	r.add(LevelInfo, "", "", "Sync finished: %d processed, %d errors", r.processed, r.failed)
	return nil
}

// userRecords loads the run user's active sources into the cache and
// returns their tracked records.
func (r *run) userRecords(ctx context.Context) ([]model.TrackedFile, error) {
	srcs, err := r.o.sources.GetUserSources(ctx, r.userID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	var out []model.TrackedFile
	for i := range srcs {
		if !srcs[i].IsActive {
			continue
		}
		r.sources[srcs[i].ID] = &srcs[i]
		recs, err := r.o.tracked.ListBySource(ctx, srcs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list tracked files: %w", err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (r *run) requeueStale(ctx context.Context, recs []model.TrackedFile) error {
	for i := range recs {
		if recs[i].Status != model.StatusProcessing {
			continue
		}
		rec := recs[i]
		rec.Status = model.StatusPending
		if err := r.o.tracked.Update(ctx, &rec); err != nil {
			return fmt.Errorf("requeue %s: %w", rec.FileName, err)
		}
		r.add(LevelWarning, rec.FileID, rec.FileName, "%s was left processing by an interrupted run, requeued", rec.FileName)
	}
	return nil
}

// rescanFolders walks completed folders again so files added or changed
// upstream since their last walk are picked up.
func (r *run) rescanFolders(ctx context.Context, recs []model.TrackedFile) error {
	for i := range recs {
		if r.capHit {
			return nil
		}
		if !recs[i].IsFolder || !recs[i].IncludeChildren || r.visited[recs[i].ID] {
			continue
		}
		folder, err := r.o.tracked.Get(ctx, recs[i].ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reload folder: %w", err)
		}
		if folder.Status != model.StatusCompleted {
			continue
		}
		src := r.sources[folder.SourceID]
		if src == nil {
			continue
		}
		if err := r.processFolder(ctx, src, folder); err != nil {
			return err
		}
	}
	return nil
}

// source resolves and caches a source, returning nil when it does not
// belong to the run's user.
func (r *run) source(ctx context.Context, id string) (*model.DocumentSource, error) {
	if src, ok := r.sources[id]; ok {
		return src, nil
	}
	src, err := r.o.sources.GetSource(ctx, r.userID, id)
	if errors.Is(err, sources.ErrNotFound) {
		r.sources[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", id, err)
	}
	r.sources[id] = src
	return src, nil
}

func (r *run) stopAtCap() {
	if r.capHit {
		return
	}
	r.capHit = true
	r.add(LevelWarning, "", "", "Reached the limit of %d files per run; run sync again to continue", r.o.cfg.MaxFilesPerRun)
}

// processFile ingests one file. Only run aborts such as cancellation or a
// lost lease are returned; the file's own failure is recorded on its
// TrackedFile. An aborted file goes back to pending.
func (r *run) processFile(ctx context.Context, src *model.DocumentSource, rec *model.TrackedFile) error {
	r.attempted++
	before := *rec
	if err := r.ingestFile(ctx, src, rec); err != nil {
		before.Status = model.StatusPending
		if uerr := r.o.tracked.Update(context.WithoutCancel(ctx), &before); uerr != nil && !errors.Is(uerr, store.ErrNotFound) {
			r.o.log.Error("Failed to requeue aborted file", "fileId", rec.FileID, "error", uerr)
		}
		return err
	}
	return r.heartbeat(ctx)
}

// heartbeat extends the sync lease after each file.
func (r *run) heartbeat(ctx context.Context) error {
	if r.o.locker == nil {
		return nil
	}
	_, err := r.o.locker.Heartbeat(ctx, LeaseKey, r.o.cfg.Owner)
	if errors.Is(err, lease.ErrNotOwner) {
		return fmt.Errorf("sync lease lost: %w", err)
	}
	if err != nil {
		r.o.log.Warn("Failed to extend sync lease", "error", err)
	}
	return nil
}

func (r *run) ingestFile(ctx context.Context, src *model.DocumentSource, rec *model.TrackedFile) error {
	rec.Status = model.StatusProcessing
	if err := r.o.tracked.Update(ctx, rec); err != nil {
		return fmt.Errorf("mark %s processing: %w", rec.FileName, err)
	}
	r.add(LevelInfo, rec.FileID, rec.FileName, "Processing %s", rec.FileName)

	res, err := r.o.ingester.ProcessFileFromSource(ctx, r.userID, src.ID, rec.FileID, rec.FileName)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	switch {
	case err == nil && res.Success:
		return r.complete(ctx, rec, res.ChunksCount, res.Hash, "%s indexed (%d chunks)", rec.FileName, res.ChunksCount)
	case err == nil && res.Reason == ingest.ReasonAlreadyProcessed && res.Hash != "" && res.Hash == rec.ContentHash:
		return r.complete(ctx, rec, rec.ChunksCount, res.Hash, "%s is unchanged", rec.FileName)
	case err == nil:
		return r.fail(ctx, rec, res.Message, true)
	default:
		return r.fail(ctx, rec, err.Error(), isSkip(err))
	}
}

func (r *run) complete(ctx context.Context, rec *model.TrackedFile, chunks int, hash, format string, args ...any) error {
	now := r.o.now()
	rec.Status = model.StatusCompleted
	rec.ChunksCount = chunks
	rec.ContentHash = hash
	rec.ErrorMessage = ""
	rec.LastProcessedAt = &now
	if err := r.o.tracked.Update(ctx, rec); err != nil {
		return fmt.Errorf("mark %s completed: %w", rec.FileName, err)
	}
	r.processed++
	r.add(LevelSuccess, rec.FileID, rec.FileName, format, args...)
	return nil
}

// fail records a failed file. Skips and previously indexed files stay as
// error; anything else that never indexed is dropped so discovery retries it.
func (r *run) fail(ctx context.Context, rec *model.TrackedFile, msg string, skip bool) error {
	r.failed++
	if !skip && rec.LastProcessedAt == nil {
		if err := r.o.tracked.Delete(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("remove %s: %w", rec.FileName, err)
		}
		r.add(LevelError, rec.FileID, rec.FileName, "%s failed and was removed from tracking: %s", rec.FileName, msg)
		return nil
	}
	rec.Status = model.StatusError
	rec.ErrorMessage = msg
	if err := r.o.tracked.Update(ctx, rec); err != nil {
		return fmt.Errorf("mark %s error: %w", rec.FileName, err)
	}
	r.add(LevelError, rec.FileID, rec.FileName, "%s: %s", rec.FileName, msg)
	return nil
}

func isSkip(err error) bool {
	return errors.Is(err, extract.ErrUnsupportedFormat) || errors.Is(err, store.ErrUniqueViolation)
}

// processFolder walks a tracked folder, registering and ingesting its
// children. A folder interrupted by the file cap is left pending.
func (r *run) processFolder(ctx context.Context, src *model.DocumentSource, folder *model.TrackedFile) error {
	if r.visited[folder.ID] {
		return nil
	}
	r.visited[folder.ID] = true

	if !folder.IncludeChildren {
		r.add(LevelInfo, folder.FileID, folder.FileName, "Folder %s does not include children, skipping", folder.FileName)
		return r.finishFolder(ctx, folder)
	}

	r.add(LevelInfo, folder.FileID, folder.FileName, "Scanning folder %s", folder.FileName)
	children, err := r.o.sources.ListFiles(ctx, r.userID, src.ID, folder.FileID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.failed++
		folder.Status = model.StatusError
		folder.ErrorMessage = adapter.Describe(err)
		if uerr := r.o.tracked.Update(ctx, folder); uerr != nil {
			return fmt.Errorf("mark folder %s error: %w", folder.FileName, uerr)
		}
		r.add(LevelError, folder.FileID, folder.FileName, "Could not list folder %s: %s", folder.FileName, folder.ErrorMessage)
		return nil
	}
	r.add(LevelInfo, folder.FileID, folder.FileName, "Found %d items in %s", len(children), folder.FileName)

	for _, child := range children {
		rec, err := r.findOrCreate(ctx, folder, child)
		if err != nil {
			return err
		}

		switch {
		case child.IsFolder:
			if rec.Status == model.StatusPending || rec.Status == model.StatusError {
				if err := r.processFolder(ctx, src, rec); err != nil {
					return err
				}
			}

		case !extract.IsSupportedExtension(ingest.DisplayName(child.Name, child.MimeType)):
			if rec.Status != model.StatusError {
				rec.Status = model.StatusError
				rec.ErrorMessage = fmt.Sprintf("unsupported file format: %s", child.Name)
				if err := r.o.tracked.Update(ctx, rec); err != nil {
					return fmt.Errorf("mark %s unsupported: %w", child.Name, err)
				}
				r.add(LevelWarning, child.ID, child.Name, "Skipping %s: unsupported format", child.Name)
			}

		default:
			if rec.Status == model.StatusCompleted && changedSince(child, rec.LastProcessedAt) {
				mt := child.ModifiedTime
				rec.Status = model.StatusPending
				rec.LastModifiedAt = &mt
				if err := r.o.tracked.Update(ctx, rec); err != nil {
					return fmt.Errorf("requeue %s: %w", child.Name, err)
				}
				r.add(LevelInfo, child.ID, child.Name, "%s changed upstream, reprocessing", child.Name)
			}
			if rec.Status != model.StatusPending {
				continue
			}
			if r.attempted >= r.o.cfg.MaxFilesPerRun {
				r.stopAtCap()
			} else if err := r.processFile(ctx, src, rec); err != nil {
				return err
			}
		}

		if r.capHit {
			folder.Status = model.StatusPending
			if err := r.o.tracked.Update(ctx, folder); err != nil {
				return fmt.Errorf("requeue folder %s: %w", folder.FileName, err)
			}
			return nil
		}
	}
	return r.finishFolder(ctx, folder)
}

func (r *run) finishFolder(ctx context.Context, folder *model.TrackedFile) error {
	now := r.o.now()
	folder.Status = model.StatusCompleted
	folder.ErrorMessage = ""
	folder.LastProcessedAt = &now
	if err := r.o.tracked.Update(ctx, folder); err != nil {
		return fmt.Errorf("mark folder %s completed: %w", folder.FileName, err)
	}
	r.add(LevelSuccess, folder.FileID, folder.FileName, "Folder %s done", folder.FileName)
	return nil
}

func (r *run) findOrCreate(ctx context.Context, parent *model.TrackedFile, child adapter.CloudFile) (*model.TrackedFile, error) {
	rec, err := r.o.tracked.FindBySourceAndFile(ctx, parent.SourceID, child.ID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("look up %s: %w", child.Name, err)
	}

	rec = &model.TrackedFile{
		SourceID: parent.SourceID,
		FileID:   child.ID,
		FileName: child.Name,
		FilePath: parent.FilePath + "/" + child.Name,
		MimeType: child.MimeType,
		IsFolder: child.IsFolder,
		Status:   model.StatusPending,
	}
	if child.IsFolder {
		rec.IncludeChildren = parent.IncludeChildren
	}
	if !child.ModifiedTime.IsZero() {
		mt := child.ModifiedTime
		rec.LastModifiedAt = &mt
	}
	err = r.o.tracked.Create(ctx, rec)
	if errors.Is(err, store.ErrUniqueViolation) {
		return r.o.tracked.FindBySourceAndFile(ctx, parent.SourceID, child.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", child.Name, err)
	}
	return rec, nil
}

func changedSince(f adapter.CloudFile, processed *time.Time) bool {
	return processed != nil && !f.ModifiedTime.IsZero() && f.ModifiedTime.After(*processed)
}
