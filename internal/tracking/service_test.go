package tracking

import (
	"context"
	"errors"
	"testing"

	"github.com/jun/docrag/backend/internal/adapter"
	adaptermemory "github.com/jun/docrag/backend/internal/adapter/memory"
	"github.com/jun/docrag/backend/internal/crypto"
	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/sources"
	"github.com/jun/docrag/backend/internal/store/memory"
)

type fakeIndex struct {
	removed []string
}

func (f *fakeIndex) RemoveDocument(ctx context.Context, source string) (int, error) {
	f.removed = append(f.removed, source)
	return 3, nil
}

type fixture struct {
	svc    *Service
	db     *memory.DB
	cloud  *adaptermemory.Provider
	index  *fakeIndex
	source *model.DocumentSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.New()
	cloud := adaptermemory.NewProvider()
	srcSvc := sources.NewService(db.Sources, adapter.NewRegistry().Register(model.ProviderGoogleDrive, cloud),
		crypto.NewMockEncryptor(), nil, logger.Nop())
	src, err := srcSvc.CreateSource(context.Background(), "u1", sources.CreateInput{
		Name:        "Drive",
		Provider:    model.ProviderGoogleDrive,
		Credentials: model.Credentials{AccessToken: "token"},
	})
	if err != nil {
		t.Fatalf("CreateSource failed: %v", err)
	}
	index := &fakeIndex{}
	return &fixture{
		svc:    NewService(db.TrackedFiles, srcSvc, index, logger.Nop()),
		db:     db,
		cloud:  cloud,
		index:  index,
		source: src,
	}
}

func TestTrackFile_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.TrackFile(ctx, "u1", f.source.ID, TrackInput{FileID: "f1", FileName: "a.pdf"})
	if err != nil || !created {
		t.Fatalf("Expected a new record, got created=%v err=%v", created, err)
	}
	if first.Status != model.StatusPending || first.FilePath != "/a.pdf" {
		t.Errorf("Unexpected record %+v", first)
	}

	again, created, err := f.svc.TrackFile(ctx, "u1", f.source.ID, TrackInput{FileID: "f1", FileName: "a.pdf"})
	if err != nil || created || again.ID != first.ID {
		t.Errorf("Expected the existing record, got %+v created=%v err=%v", again, created, err)
	}
}

func TestTrackFile_Folders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	no := false

	tests := []struct {
		name string
		in   TrackInput
		want bool
	}{
		{"folder defaults to children", TrackInput{FileID: "d1", FileName: "Docs", IsFolder: true}, true},
		{"folder without children", TrackInput{FileID: "d2", FileName: "Flat", IsFolder: true, IncludeChildren: &no}, false},
		{"file never includes children", TrackInput{FileID: "f1", FileName: "a.pdf"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, err := f.svc.TrackFile(ctx, "u1", f.source.ID, tt.in)
			if err != nil {
				t.Fatalf("TrackFile failed: %v", err)
			}
			if rec.IncludeChildren != tt.want {
				t.Errorf("Expected IncludeChildren=%v, got %v", tt.want, rec.IncludeChildren)
			}
		})
	}
}

func TestTrackFile_FetchesMetadata(t *testing.T) {
	f := newFixture(t)
	f.cloud.AddFolder("", "d1", "Contracts")

	rec, _, err := f.svc.TrackFile(context.Background(), "u1", f.source.ID, TrackInput{FileID: "d1"})
	if err != nil {
		t.Fatalf("TrackFile failed: %v", err)
	}
	if rec.FileName != "Contracts" || !rec.IsFolder || !rec.IncludeChildren {
		t.Errorf("Expected folder metadata to be filled in, got %+v", rec)
	}
}

func TestTrackFile_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.svc.TrackFile(ctx, "u1", f.source.ID, TrackInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := f.svc.TrackFile(ctx, "u2", f.source.ID, TrackInput{FileID: "x", FileName: "x.pdf"}); !errors.Is(err, sources.ErrNotFound) {
		t.Errorf("Expected sources.ErrNotFound for another user, got %v", err)
	}
}

func TestUnragFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, _, _ := f.svc.TrackFile(ctx, "u1", f.source.ID, TrackInput{FileID: "g1", FileName: "Plan Anual", MimeType: adapter.GoogleAppsPrefix + "document"})
	folder, _, _ := f.svc.TrackFile(ctx, "u1", f.source.ID, TrackInput{FileID: "d1", FileName: "Docs", IsFolder: true})

	if _, err := f.svc.UnragFile(ctx, "u1", folder.ID); !errors.Is(err, ErrFolder) {
		t.Errorf("Expected ErrFolder, got %v", err)
	}
	if _, err := f.svc.UnragFile(ctx, "u2", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for another user, got %v", err)
	}

	n, err := f.svc.UnragFile(ctx, "u1", doc.ID)
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 chunks removed, got %d, %v", n, err)
	}
	if len(f.index.removed) != 1 || f.index.removed[0] != "Plan_Anual.pdf" {
		t.Errorf("Expected Plan_Anual.pdf to be removed, got %v", f.index.removed)
	}
	if _, err := f.db.TrackedFiles.Get(ctx, doc.ID); err == nil {
		t.Error("Expected the tracked record to be deleted")
	}
}

func TestUntrackAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _, _ := f.svc.TrackFile(ctx, "u1", f.source.ID, TrackInput{FileID: "a", FileName: "a.pdf"})
	f.svc.TrackFile(ctx, "u1", f.source.ID, TrackInput{FileID: "b", FileName: "b.pdf"})

	if err := f.svc.UntrackFile(ctx, "u1", a.ID); err != nil {
		t.Fatalf("UntrackFile failed: %v", err)
	}
	list, err := f.svc.ListTracked(ctx, "u1", f.source.ID)
	if err != nil || len(list) != 1 || list[0].FileID != "b" {
		t.Errorf("Expected only b to remain, got %+v, %v", list, err)
	}
	if len(f.index.removed) != 0 {
		t.Error("Untracking must not touch the index")
	}
	if err := f.svc.UntrackFile(ctx, "u1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRetryFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, _, _ := f.svc.TrackFile(ctx, "u1", f.source.ID, TrackInput{FileID: "a", FileName: "a.pdf"})

	if _, err := f.svc.RetryFile(ctx, "u1", rec.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Expected ErrNotRetryable for a pending file, got %v", err)
	}

	rec.Status = model.StatusError
	rec.ErrorMessage = "download failed"
	f.db.TrackedFiles.Update(ctx, rec)

	got, err := f.svc.RetryFile(ctx, "u1", rec.ID)
	if err != nil {
		t.Fatalf("RetryFile failed: %v", err)
	}
	if got.Status != model.StatusPending || got.ErrorMessage != "" {
		t.Errorf("Expected pending with no error, got %+v", got)
	}
}
