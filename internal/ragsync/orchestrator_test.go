package ragsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jun/docrag/backend/internal/adapter"
	adaptermemory "github.com/jun/docrag/backend/internal/adapter/memory"
	"github.com/jun/docrag/backend/internal/chunker"
	"github.com/jun/docrag/backend/internal/crypto"
	"github.com/jun/docrag/backend/internal/extract"
	"github.com/jun/docrag/backend/internal/ingest"
	"github.com/jun/docrag/backend/internal/lease"
	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/sources"
	"github.com/jun/docrag/backend/internal/store"
	"github.com/jun/docrag/backend/internal/store/memory"
)

type outcome func() (*ingest.Result, error)

type fakeIngester struct {
	mu       sync.Mutex
	calls    []string
	outcomes map[string]outcome
	started  chan struct{}
	release  chan struct{}
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{outcomes: make(map[string]outcome)}
}

func (f *fakeIngester) ProcessFileFromSource(ctx context.Context, userID, sourceID, fileID, fileName string) (*ingest.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fileID)
	out := f.outcomes[fileID]
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if out != nil {
		return out()
	}
	return &ingest.Result{Success: true, ChunksCount: 2, Hash: "h-" + fileID, Filename: fileName}, nil
}

func (f *fakeIngester) count(fileID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == fileID {
			n++
		}
	}
	return n
}

func (f *fakeIngester) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	db       *memory.DB
	cloud    *adaptermemory.Provider
	sources  *sources.Service
	ingester *fakeIngester
	source   *model.DocumentSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.New()
	cloud := adaptermemory.NewProvider()
	registry := adapter.NewRegistry().Register(model.ProviderGoogleDrive, cloud)
	srcSvc := sources.NewService(db.Sources, registry, crypto.NewMockEncryptor(), nil, logger.Nop())
	src, err := srcSvc.CreateSource(context.Background(), "u1", sources.CreateInput{
		Name:        "Drive",
		Provider:    model.ProviderGoogleDrive,
		Credentials: model.Credentials{AccessToken: "token"},
	})
	if err != nil {
		t.Fatalf("CreateSource failed: %v", err)
	}
	return &fixture{db: db, cloud: cloud, sources: srcSvc, ingester: newFakeIngester(), source: src}
}

func (f *fixture) orchestrator(cfg Config, locker lease.Locker) *Orchestrator {
	return NewOrchestrator(f.db.TrackedFiles, f.sources, f.ingester, locker, cfg, logger.Nop())
}

func (f *fixture) track(t *testing.T, rec model.TrackedFile) *model.TrackedFile {
	t.Helper()
	if rec.SourceID == "" {
		rec.SourceID = f.source.ID
	}
	if err := f.db.TrackedFiles.Create(context.Background(), &rec); err != nil {
		t.Fatalf("Create tracked file failed: %v", err)
	}
	return &rec
}

func (f *fixture) get(t *testing.T, id string) *model.TrackedFile {
	t.Helper()
	rec, err := f.db.TrackedFiles.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get tracked file %s failed: %v", id, err)
	}
	return rec
}

func hasLog(logs []LogEntry, level LogLevel, substr string) bool {
	for _, l := range logs {
		if l.Level == level && strings.Contains(l.Message, substr) {
			return true
		}
	}
	return false
}

func TestSync_CapAndResume(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 30; i++ {
		f.track(t, model.TrackedFile{FileID: fmt.Sprintf("f%02d", i), FileName: fmt.Sprintf("doc%02d.pdf", i)})
	}
	o := f.orchestrator(Config{}, nil)
	ctx := context.Background()

	first, err := o.SyncPendingFiles(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncPendingFiles failed: %v", err)
	}
	if !first.Success || first.ProcessedCount != DefaultMaxFilesPerRun {
		t.Fatalf("Expected %d processed, got %+v", DefaultMaxFilesPerRun, first)
	}
	if f.ingester.total() != DefaultMaxFilesPerRun {
		t.Errorf("Expected %d ingest calls, got %d", DefaultMaxFilesPerRun, f.ingester.total())
	}
	if !hasLog(first.Logs, LevelWarning, "limit") {
		t.Error("Expected a limit reached warning")
	}

	second, _ := o.SyncPendingFiles(ctx, "u1")
	if second.ProcessedCount != 5 {
		t.Errorf("Expected second run to process the remaining 5, got %d", second.ProcessedCount)
	}
	if hasLog(second.Logs, LevelWarning, "limit") {
		t.Error("Did not expect a limit warning on the second run")
	}

	third, _ := o.SyncPendingFiles(ctx, "u1")
	if third.ProcessedCount != 0 || f.ingester.total() != 30 {
		t.Errorf("Expected an idle third run, got %d processed and %d total calls", third.ProcessedCount, f.ingester.total())
	}

	done, _ := f.db.TrackedFiles.ListBySource(ctx, f.source.ID)
	for _, rec := range done {
		if rec.Status != model.StatusCompleted || rec.ChunksCount != 2 || rec.LastProcessedAt == nil {
			t.Errorf("Expected %s completed with chunks, got %+v", rec.FileID, rec)
		}
		if rec.ContentHash != "h-"+rec.FileID {
			t.Errorf("Expected content hash to be recorded, got %q", rec.ContentHash)
		}
	}
}

func TestSync_FailureDisposition(t *testing.T) {
	f := newFixture(t)
	earlier := time.Now().Add(-24 * time.Hour)

	fresh := f.track(t, model.TrackedFile{FileID: "fresh", FileName: "fresh.pdf"})
	seen := f.track(t, model.TrackedFile{FileID: "seen", FileName: "seen.pdf", LastProcessedAt: &earlier})
	empty := f.track(t, model.TrackedFile{FileID: "empty", FileName: "scan.pdf"})
	dup := f.track(t, model.TrackedFile{FileID: "dup", FileName: "dup.pdf"})
	unsupported := f.track(t, model.TrackedFile{FileID: "bad", FileName: "bad.pdf"})

	boom := func() (*ingest.Result, error) { return nil, errors.New("embedding service unavailable") }
	f.ingester.outcomes["fresh"] = boom
	f.ingester.outcomes["seen"] = boom
	f.ingester.outcomes["empty"] = func() (*ingest.Result, error) {
		return &ingest.Result{Reason: ingest.ReasonNoText, Message: "file scan.pdf has no extractable text"}, nil
	}
	f.ingester.outcomes["dup"] = func() (*ingest.Result, error) {
		return nil, fmt.Errorf("record processed file: %w", store.ErrUniqueViolation)
	}
	f.ingester.outcomes["bad"] = func() (*ingest.Result, error) {
		return nil, fmt.Errorf("extract bad.pdf: %w", extract.ErrUnsupportedFormat)
	}

	res, err := f.orchestrator(Config{}, nil).SyncPendingFiles(context.Background(), "u1")
	if err != nil {
		t.Fatalf("SyncPendingFiles failed: %v", err)
	}
	if !res.Success || res.ErrorCount != 5 || res.ProcessedCount != 0 {
		t.Fatalf("Expected 5 errors and no successes, got %+v", res)
	}

	if _, err := f.db.TrackedFiles.Get(context.Background(), fresh.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected never processed record to be deleted, got %v", err)
	}

	tests := []struct {
		name string
		id   string
		msg  string
	}{
		{"previously processed", seen.ID, "embedding service unavailable"},
		{"no text", empty.ID, "no extractable text"},
		{"unique violation", dup.ID, "unique constraint"},
		{"unsupported", unsupported.ID, "unsupported format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, tt.id)
			if rec.Status != model.StatusError {
				t.Errorf("Expected status error, got %s", rec.Status)
			}
			if !strings.Contains(rec.ErrorMessage, tt.msg) {
				t.Errorf("Expected error message containing %q, got %q", tt.msg, rec.ErrorMessage)
			}
		})
	}
}

func TestSync_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	f.track(t, model.TrackedFile{FileID: "slow", FileName: "slow.pdf"})
	f.ingester.started = make(chan struct{}, 1)
	f.ingester.release = make(chan struct{})
	o := f.orchestrator(Config{}, nil)

	done := make(chan *Result, 1)
	go func() {
		res, err := o.SyncPendingFiles(context.Background(), "u1")
		if err != nil {
			t.Errorf("First run failed: %v", err)
		}
		done <- res
	}()
	<-f.ingester.started

	if !o.IsCurrentlyRunning() {
		t.Error("Expected IsCurrentlyRunning to be true during a run")
	}
	if _, err := o.SyncPendingFiles(context.Background(), "u1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	close(f.ingester.release)
	first := <-done
	if first == nil || first.ProcessedCount != 1 || first.ErrorCount != 0 {
		t.Errorf("Expected the first run to be unaffected, got %+v", first)
	}
	if o.IsCurrentlyRunning() {
		t.Error("Expected IsCurrentlyRunning to be false after the run")
	}
	if !hasLog(o.GetLogs(), LevelSuccess, "slow.pdf") {
		t.Error("Expected GetLogs to return the finished run's log")
	}
}

func TestSync_FolderWalk(t *testing.T) {
	f := newFixture(t)
	f.cloud.AddFolder("", "d1", "Reports")
	f.cloud.AddFile("d1", "a", "a.txt", []byte("a"))
	f.cloud.AddFile("d1", "b", "b.pdf", []byte("b"))
	f.cloud.AddFile("d1", "img", "image.png", []byte("png"))
	f.cloud.AddFolder("d1", "d2", "sub")
	f.cloud.AddFile("d2", "c", "c.docx", []byte("c"))
	f.cloud.AddFile("d2", "doc", "Plan", nil)
	f.cloud.Put(adapter.CloudFile{ID: "gdoc", Name: "Plan", ParentID: "d2", MimeType: adapter.GoogleAppsPrefix + "document"}, []byte("g"))

	folder := f.track(t, model.TrackedFile{FileID: "d1", FileName: "Reports", FilePath: "/Reports", IsFolder: true, IncludeChildren: true})
	o := f.orchestrator(Config{}, nil)
	ctx := context.Background()

	res, err := o.SyncPendingFiles(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncPendingFiles failed: %v", err)
	}
	if res.ProcessedCount != 4 {
		t.Errorf("Expected 4 files processed, got %d", res.ProcessedCount)
	}
	for _, id := range []string{"a", "b", "c", "gdoc"} {
		if f.ingester.count(id) != 1 {
			t.Errorf("Expected %s to be ingested once, got %d", id, f.ingester.count(id))
		}
	}
	if f.ingester.count("img") != 0 || f.ingester.count("doc") != 0 {
		t.Error("Unsupported files must not be ingested")
	}

	img, err := f.db.TrackedFiles.FindBySourceAndFile(ctx, f.source.ID, "img")
	if err != nil || img.Status != model.StatusError || !strings.Contains(img.ErrorMessage, "unsupported") {
		t.Errorf("Expected unsupported child marked error, got %+v, %v", img, err)
	}
	sub, err := f.db.TrackedFiles.FindBySourceAndFile(ctx, f.source.ID, "d2")
	if err != nil || !sub.IncludeChildren || sub.Status != model.StatusCompleted {
		t.Errorf("Expected subfolder to inherit includeChildren and complete, got %+v, %v", sub, err)
	}
	if sub.FilePath != "/Reports/sub" {
		t.Errorf("Expected path /Reports/sub, got %q", sub.FilePath)
	}
	if got := f.get(t, folder.ID); got.Status != model.StatusCompleted {
		t.Errorf("Expected folder completed, got %s", got.Status)
	}

	again, _ := o.SyncPendingFiles(ctx, "u1")
	if again.ProcessedCount != 0 || f.ingester.total() != 4 {
		t.Errorf("Expected second run to do nothing, got %d processed", again.ProcessedCount)
	}

	updated, _ := f.sources.GetSource(ctx, "u1", f.source.ID)
	if updated.LastSyncAt == nil {
		t.Error("Expected LastSyncAt to be stamped")
	}
}

func TestSync_FolderCapLeavesFolderPending(t *testing.T) {
	f := newFixture(t)
	f.cloud.AddFolder("", "d1", "Big")
	for i := 0; i < 5; i++ {
		f.cloud.AddFile("d1", fmt.Sprintf("f%d", i), fmt.Sprintf("f%d.txt", i), []byte("x"))
	}
	folder := f.track(t, model.TrackedFile{FileID: "d1", FileName: "Big", IsFolder: true, IncludeChildren: true})
	o := f.orchestrator(Config{MaxFilesPerRun: 3}, nil)
	ctx := context.Background()

	first, _ := o.SyncPendingFiles(ctx, "u1")
	if first.ProcessedCount != 3 {
		t.Fatalf("Expected 3 processed, got %d", first.ProcessedCount)
	}
	if got := f.get(t, folder.ID); got.Status != model.StatusPending {
		t.Errorf("Expected interrupted folder to stay pending, got %s", got.Status)
	}

	second, _ := o.SyncPendingFiles(ctx, "u1")
	if second.ProcessedCount != 2 {
		t.Errorf("Expected 2 processed on resume, got %d", second.ProcessedCount)
	}
	if got := f.get(t, folder.ID); got.Status != model.StatusCompleted {
		t.Errorf("Expected folder completed after resume, got %s", got.Status)
	}
	if f.ingester.total() != 5 {
		t.Errorf("Expected each file ingested once, got %d calls", f.ingester.total())
	}
}

func TestSync_FolderWithoutChildren(t *testing.T) {
	f := newFixture(t)
	f.cloud.AddFolder("", "d1", "Shallow")
	f.cloud.AddFile("d1", "a", "a.txt", []byte("a"))
	folder := f.track(t, model.TrackedFile{FileID: "d1", FileName: "Shallow", IsFolder: true})

	f.orchestrator(Config{}, nil).SyncPendingFiles(context.Background(), "u1")

	if f.cloud.Calls(adaptermemory.OpList) != 0 {
		t.Error("Expected folder without children not to be listed")
	}
	if got := f.get(t, folder.ID); got.Status != model.StatusCompleted {
		t.Errorf("Expected folder completed, got %s", got.Status)
	}
}

func TestSync_FolderListFailure(t *testing.T) {
	f := newFixture(t)
	f.cloud.AddFolder("", "d1", "Locked")
	f.cloud.FailWith(adaptermemory.OpList, "d1", adapter.NewError("list", 403, errors.New("Forbidden")))
	folder := f.track(t, model.TrackedFile{FileID: "d1", FileName: "Locked", IsFolder: true, IncludeChildren: true})

	res, _ := f.orchestrator(Config{}, nil).SyncPendingFiles(context.Background(), "u1")
	if res.ErrorCount != 1 {
		t.Errorf("Expected 1 error, got %d", res.ErrorCount)
	}
	got := f.get(t, folder.ID)
	if got.Status != model.StatusError || got.ErrorMessage != "permission denied by storage provider" {
		t.Errorf("Expected folder marked error with permission message, got %+v", got)
	}
}

func TestSync_ReprocessesChangedFiles(t *testing.T) {
	f := newFixture(t)
	f.cloud.AddFolder("", "d1", "Docs")
	f.cloud.AddFile("d1", "a", "a.txt", []byte("v1"))
	f.cloud.AddFile("d1", "b", "b.txt", []byte("b"))
	folder := f.track(t, model.TrackedFile{FileID: "d1", FileName: "Docs", IsFolder: true, IncludeChildren: true})
	o := f.orchestrator(Config{}, nil)
	ctx := context.Background()

	o.SyncPendingFiles(ctx, "u1")
	if got := f.get(t, folder.ID); got.Status != model.StatusCompleted {
		t.Fatalf("Expected folder completed after the first run, got %s", got.Status)
	}

	f.cloud.Touch("a", []byte("v2"), time.Now().Add(time.Hour))

	res, _ := o.SyncPendingFiles(ctx, "u1")
	if res.ProcessedCount != 1 {
		t.Errorf("Expected only the changed file to be processed, got %d", res.ProcessedCount)
	}
	if f.ingester.count("a") != 2 || f.ingester.count("b") != 1 {
		t.Errorf("Expected a twice and b once, got %d and %d", f.ingester.count("a"), f.ingester.count("b"))
	}
	if !hasLog(res.Logs, LevelInfo, "changed upstream") {
		t.Error("Expected a changed upstream log entry")
	}
}

func TestSync_RescanFindsNewFiles(t *testing.T) {
	f := newFixture(t)
	f.cloud.AddFolder("", "d1", "Docs")
	f.cloud.AddFolder("d1", "d2", "sub")
	f.cloud.AddFile("d1", "a", "a.txt", []byte("a"))
	folder := f.track(t, model.TrackedFile{FileID: "d1", FileName: "Docs", IsFolder: true, IncludeChildren: true})
	o := f.orchestrator(Config{}, nil)
	ctx := context.Background()

	first, _ := o.SyncPendingFiles(ctx, "u1")
	if first.ProcessedCount != 1 {
		t.Fatalf("Expected 1 processed, got %d", first.ProcessedCount)
	}

	f.cloud.AddFile("d1", "b", "b.txt", []byte("b"))
	f.cloud.AddFile("d2", "c", "c.txt", []byte("c"))

	second, err := o.SyncPendingFiles(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncPendingFiles failed: %v", err)
	}
	if second.ProcessedCount != 2 {
		t.Errorf("Expected the 2 new files to be processed, got %d", second.ProcessedCount)
	}
	for _, id := range []string{"b", "c"} {
		rec, err := f.db.TrackedFiles.FindBySourceAndFile(ctx, f.source.ID, id)
		if err != nil || rec.Status != model.StatusCompleted {
			t.Errorf("Expected %s tracked and completed, got %+v, %v", id, rec, err)
		}
	}
	if f.ingester.count("a") != 1 {
		t.Errorf("Expected unchanged a to be ingested once, got %d", f.ingester.count("a"))
	}
	if got := f.get(t, folder.ID); got.Status != model.StatusCompleted {
		t.Errorf("Expected folder completed after rescan, got %s", got.Status)
	}
}

func TestSync_RescanSkipsFoldersWithoutChildren(t *testing.T) {
	f := newFixture(t)
	f.cloud.AddFolder("", "d1", "Shallow")
	earlier := time.Now().Add(-time.Hour)
	f.track(t, model.TrackedFile{FileID: "d1", FileName: "Shallow", IsFolder: true, Status: model.StatusCompleted, LastProcessedAt: &earlier})

	f.orchestrator(Config{}, nil).SyncPendingFiles(context.Background(), "u1")
	if f.cloud.Calls(adaptermemory.OpList) != 0 {
		t.Error("Expected folder without children not to be rescanned")
	}
}

func TestSync_CancelRequeuesFile(t *testing.T) {
	f := newFixture(t)
	rec := f.track(t, model.TrackedFile{FileID: "a", FileName: "a.pdf"})
	f.track(t, model.TrackedFile{FileID: "b", FileName: "b.pdf"})
	ctx, cancel := context.WithCancel(context.Background())
	f.ingester.outcomes["a"] = func() (*ingest.Result, error) {
		cancel()
		return nil, context.Canceled
	}
	o := f.orchestrator(Config{}, nil)

	res, err := o.SyncPendingFiles(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncPendingFiles failed: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "canceled") {
		t.Errorf("Expected a cancelled run, got %+v", res)
	}
	if got := f.get(t, rec.ID); got.Status != model.StatusPending {
		t.Errorf("Expected cancelled file back to pending, got %s", got.Status)
	}
	if f.ingester.count("b") != 0 {
		t.Error("Expected no files after cancellation")
	}

	delete(f.ingester.outcomes, "a")
	again, _ := o.SyncPendingFiles(context.Background(), "u1")
	if again.ProcessedCount != 2 {
		t.Errorf("Expected both files processed on the next run, got %d", again.ProcessedCount)
	}
}

func TestSync_RequeuesStaleProcessing(t *testing.T) {
	f := newFixture(t)
	rec := f.track(t, model.TrackedFile{FileID: "a", FileName: "a.pdf", Status: model.StatusProcessing})

	res, err := f.orchestrator(Config{}, lease.NewMemoryLocker(time.Minute)).SyncPendingFiles(context.Background(), "u1")
	if err != nil || res.ProcessedCount != 1 {
		t.Fatalf("Expected the stranded file to be processed, got %+v, %v", res, err)
	}
	if got := f.get(t, rec.ID); got.Status != model.StatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
}

type countingLocker struct {
	*lease.MemoryLocker
	mu         sync.Mutex
	heartbeats int
}

func (c *countingLocker) Heartbeat(ctx context.Context, key, owner string) (*model.SyncLease, error) {
	c.mu.Lock()
	c.heartbeats++
	c.mu.Unlock()
	return c.MemoryLocker.Heartbeat(ctx, key, owner)
}

func TestSync_HeartbeatsLease(t *testing.T) {
	f := newFixture(t)
	f.track(t, model.TrackedFile{FileID: "a", FileName: "a.pdf"})
	f.track(t, model.TrackedFile{FileID: "b", FileName: "b.pdf"})
	locker := &countingLocker{MemoryLocker: lease.NewMemoryLocker(time.Minute)}

	res, err := f.orchestrator(Config{Owner: "worker-1"}, locker).SyncPendingFiles(context.Background(), "u1")
	if err != nil || res.ProcessedCount != 2 {
		t.Fatalf("Expected 2 processed, got %+v, %v", res, err)
	}
	if locker.heartbeats != 2 {
		t.Errorf("Expected a heartbeat per file, got %d", locker.heartbeats)
	}
}

func TestSync_StopsWhenLeaseLost(t *testing.T) {
	f := newFixture(t)
	a := f.track(t, model.TrackedFile{FileID: "a", FileName: "a.pdf"})
	b := f.track(t, model.TrackedFile{FileID: "b", FileName: "b.pdf"})
	locker := lease.NewMemoryLocker(time.Minute)
	ctx := context.Background()
	f.ingester.outcomes["a"] = func() (*ingest.Result, error) {
		locker.Release(ctx, LeaseKey, "worker-1")
		locker.Acquire(ctx, LeaseKey, "worker-2")
		return &ingest.Result{Success: true, ChunksCount: 1, Hash: "h-a"}, nil
	}

	res, err := f.orchestrator(Config{Owner: "worker-1"}, locker).SyncPendingFiles(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncPendingFiles failed: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "lease") {
		t.Errorf("Expected the run to stop on a lost lease, got %+v", res)
	}
	if got := f.get(t, a.ID); got.Status != model.StatusCompleted {
		t.Errorf("Expected the finished file to stay completed, got %s", got.Status)
	}
	if got := f.get(t, b.ID); got.Status != model.StatusPending || f.ingester.count("b") != 0 {
		t.Errorf("Expected b untouched, got %s with %d calls", got.Status, f.ingester.count("b"))
	}
	if held, _ := locker.Status(ctx, LeaseKey); held == nil || held.Owner != "worker-2" {
		t.Errorf("Expected the new owner to keep the lease, got %+v", held)
	}
}

func TestSync_UnchangedContentStaysCompleted(t *testing.T) {
	f := newFixture(t)
	earlier := time.Now().Add(-time.Hour)
	rec := f.track(t, model.TrackedFile{FileID: "a", FileName: "a.pdf", ContentHash: "same", ChunksCount: 4, LastProcessedAt: &earlier})
	f.ingester.outcomes["a"] = func() (*ingest.Result, error) {
		return &ingest.Result{Reason: ingest.ReasonAlreadyProcessed, Hash: "same", Message: "file a.pdf was already processed"}, nil
	}

	f.orchestrator(Config{}, nil).SyncPendingFiles(context.Background(), "u1")

	got := f.get(t, rec.ID)
	if got.Status != model.StatusCompleted || got.ChunksCount != 4 {
		t.Errorf("Expected unchanged file to stay completed with its chunks, got %+v", got)
	}
}

func TestSync_SkipsOtherUsersSource(t *testing.T) {
	f := newFixture(t)
	other, err := f.sources.CreateSource(context.Background(), "u2", sources.CreateInput{
		Name:        "Theirs",
		Provider:    model.ProviderGoogleDrive,
		Credentials: model.Credentials{AccessToken: "token"},
	})
	if err != nil {
		t.Fatalf("CreateSource failed: %v", err)
	}
	rec := f.track(t, model.TrackedFile{SourceID: other.ID, FileID: "x", FileName: "x.pdf"})

	res, _ := f.orchestrator(Config{}, nil).SyncPendingFiles(context.Background(), "u1")
	if f.ingester.total() != 0 {
		t.Error("Expected no ingestion for another user's file")
	}
	if !hasLog(res.Logs, LevelWarning, "another user") {
		t.Error("Expected a warning for the foreign file")
	}
	if got := f.get(t, rec.ID); got.Status != model.StatusPending {
		t.Errorf("Expected foreign record untouched, got %s", got.Status)
	}
}

func TestSync_Lease(t *testing.T) {
	f := newFixture(t)
	f.track(t, model.TrackedFile{FileID: "a", FileName: "a.pdf"})
	locker := lease.NewMemoryLocker(time.Minute)
	ctx := context.Background()
	o := f.orchestrator(Config{Owner: "worker-1"}, locker)

	if _, err := locker.Acquire(ctx, LeaseKey, "worker-2"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := o.SyncPendingFiles(ctx, "u1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Expected ErrAlreadyRunning while another process holds the lease, got %v", err)
	}
	if o.IsCurrentlyRunning() {
		t.Error("Expected the in-process guard to be released")
	}

	locker.Release(ctx, LeaseKey, "worker-2")
	res, err := o.SyncPendingFiles(ctx, "u1")
	if err != nil || res.ProcessedCount != 1 {
		t.Fatalf("Expected run to succeed after release, got %+v, %v", res, err)
	}
	if held, _ := o.LeaseStatus(ctx); held != nil {
		t.Errorf("Expected lease released after the run, got %+v", held)
	}
}

func TestSync_WithIngestPipeline(t *testing.T) {
	f := newFixture(t)
	text := strings.Repeat("The quarterly numbers improved across every region. ", 20)
	f.cloud.AddFolder("", "d1", "Notes")
	f.cloud.AddFile("d1", "n1", "notes.txt", []byte(text))
	f.track(t, model.TrackedFile{FileID: "d1", FileName: "Notes", IsFolder: true, IncludeChildren: true})

	ing := ingest.NewService(f.sources, extract.NewRegistry(), chunker.New(300, 60), constEmbeddings{}, f.db.Vectors, f.db.ProcessedFiles, t.TempDir(), logger.Nop())
	o := NewOrchestrator(f.db.TrackedFiles, f.sources, ing, nil, Config{}, logger.Nop())

	res, err := o.SyncPendingFiles(context.Background(), "u1")
	if err != nil || res.ProcessedCount != 1 {
		t.Fatalf("Expected one file processed, got %+v, %v", res, err)
	}
	n, _ := f.db.Vectors.CountAll(context.Background())
	rec, _ := f.db.TrackedFiles.FindBySourceAndFile(context.Background(), f.source.ID, "n1")
	if n == 0 || rec.ChunksCount != n {
		t.Errorf("Expected tracked chunk count %d to match stored chunks %d", rec.ChunksCount, n)
	}
	if len(rec.ContentHash) != 32 {
		t.Errorf("Expected an md5 content hash, got %q", rec.ContentHash)
	}
}

type constEmbeddings struct{}

func (constEmbeddings) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func TestRunLog_KeepsMostRecent(t *testing.T) {
	l := newRunLog(3)
	for i := 0; i < 5; i++ {
		l.add(LogEntry{Message: fmt.Sprint(i)})
	}
	got := l.snapshot()
	if len(got) != 3 || got[0].Message != "2" || got[2].Message != "4" {
		t.Errorf("Expected entries 2..4, got %+v", got)
	}
}
