package handler_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/tracking"
)

func trackInput(fileID, name string) tracking.TrackInput {
	return tracking.TrackInput{FileID: fileID, FileName: name}
}

func TestTrackedHandler_TrackIsIdempotent(t *testing.T) {
	e := newEnv(t)
	h := e.trackedHandler()
	ctx := context.Background()

	req := makeRequest("POST", "/sources/"+e.source.ID+"/tracked", `{"fileId":"d1","fileName":"Contratos","isFolder":true}`)
	req.PathParameters["sourceId"] = e.source.ID

	resp, err := h.Track(ctx, req)
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 Created, got %d: %s", resp.StatusCode, resp.Body)
	}
	var rec model.TrackedFile
	decodeBody(t, resp, &rec)
	if !rec.IncludeChildren || rec.Status != model.StatusPending || rec.FilePath != "/Contratos" {
		t.Errorf("Unexpected tracked folder %+v", rec)
	}

	resp, _ = h.Track(ctx, req)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for an already tracked file, got %d", resp.StatusCode)
	}

	list := makeRequest("GET", "/sources/"+e.source.ID+"/tracked", "")
	list.PathParameters["sourceId"] = e.source.ID
	resp, _ = h.List(ctx, list)
	var recs []model.TrackedFile
	decodeBody(t, resp, &recs)
	if len(recs) != 1 {
		t.Errorf("Expected 1 tracked record, got %d", len(recs))
	}
}

func TestTrackedHandler_UnknownSource(t *testing.T) {
	e := newEnv(t)
	req := makeRequest("POST", "/sources/missing/tracked", `{"fileId":"f1","fileName":"a.txt"}`)
	req.PathParameters["sourceId"] = "missing"
	resp, err := e.trackedHandler().Track(context.Background(), req)
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d: %s", resp.StatusCode, resp.Body)
	}
}

func TestTrackedHandler_RetryAndUnrag(t *testing.T) {
	e := newEnv(t)
	h := e.trackedHandler()
	ctx := context.Background()

	e.cloud.AddFile("", "f1", "informe.txt", []byte(strings.Repeat("El margen bruto mejoró durante el trimestre. ", 10)))
	rec, _, err := e.tracking.TrackFile(ctx, testUserID, e.source.ID, trackInput("f1", "informe.txt"))
	if err != nil {
		t.Fatalf("TrackFile failed: %v", err)
	}

	retry := makeRequest("POST", "/tracked/"+rec.ID+"/retry", "")
	retry.PathParameters["id"] = rec.ID
	if resp, _ := h.Retry(ctx, retry); resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 retrying a pending record, got %d", resp.StatusCode)
	}

	if _, err := e.orch.SyncPendingFiles(ctx, testUserID); err != nil {
		t.Fatalf("SyncPendingFiles failed: %v", err)
	}
	if n, _ := e.db.Vectors.CountAll(ctx); n == 0 {
		t.Fatal("Expected indexed chunks after sync")
	}

	unrag := makeRequest("POST", "/tracked/"+rec.ID+"/unrag", "")
	unrag.PathParameters["id"] = rec.ID
	resp, err := h.Unrag(ctx, unrag)
	if err != nil {
		t.Fatalf("Unrag returned error: %v", err)
	}
	var out map[string]int
	decodeBody(t, resp, &out)
	if out["chunksDeleted"] == 0 {
		t.Errorf("Expected deleted chunks to be reported, got %s", resp.Body)
	}
	if n, _ := e.db.Vectors.CountAll(ctx); n != 0 {
		t.Errorf("Expected empty index after unrag, got %d chunks", n)
	}
	if _, err := e.db.TrackedFiles.Get(ctx, rec.ID); err == nil {
		t.Error("Expected tracking record to be removed")
	}
}
