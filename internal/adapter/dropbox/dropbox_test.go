package dropbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/model"
)

func newTestProvider(t *testing.T, mux *http.ServeMux) *Provider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	p := NewProvider()
	p.APIURL = srv.URL
	p.ContentURL = srv.URL
	p.HTTPClient = srv.Client()
	return p
}

func TestProvider_ListFiles_Paginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/list_folder", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["path"] != "id:folder" {
			t.Errorf("Expected path id:folder, got %v", body["path"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"entries":  []map[string]any{{".tag": "file", "id": "id:1", "name": "a.pdf", "path_display": "/Docs/a.pdf", "size": 10, "server_modified": "2024-05-01T10:00:00Z"}},
			"cursor":   "c1",
			"has_more": true,
		})
	})
	mux.HandleFunc("/files/list_folder/continue", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{{".tag": "folder", "id": "id:2", "name": "Sub", "path_display": "/Docs/Sub"}},
		})
	})
	p := newTestProvider(t, mux)

	files, err := p.ListFiles(context.Background(), model.Credentials{AccessToken: "t"}, "id:folder")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(files))
	}
	if files[0].Path != "/Docs/a.pdf" || files[0].MimeType != "application/pdf" || files[0].ModifiedTime.IsZero() {
		t.Errorf("Unexpected file %+v", files[0])
	}
	if !files[1].IsFolder || files[1].ParentID != "id:folder" {
		t.Errorf("Unexpected folder %+v", files[1])
	}
}

func TestProvider_Download(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/download", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Dropbox-API-Arg") != `{"path":"id:1"}` {
			t.Errorf("Unexpected arg header %q", r.Header.Get("Dropbox-API-Arg"))
		}
		io.WriteString(w, "content")
	})
	p := newTestProvider(t, mux)

	got, err := p.DownloadFile(context.Background(), model.Credentials{AccessToken: "t"}, "id:1")
	if err != nil || string(got) != "content" {
		t.Fatalf("Expected content, got %q, %v", got, err)
	}
}

func TestProvider_ErrorKinds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/get_metadata", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		switch body["path"] {
		case "expired":
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error_summary":"expired_access_token/"}`)
		default:
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, `{"error_summary":"path/not_found/.."}`)
		}
	})
	p := newTestProvider(t, mux)

	_, err := p.GetFileMetadata(context.Background(), model.Credentials{AccessToken: "t"}, "expired")
	if adapter.Classify(err) != adapter.KindAuth {
		t.Errorf("Expected auth error, got %v", err)
	}
	_, err = p.GetFileMetadata(context.Background(), model.Credentials{AccessToken: "t"}, "missing")
	if !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}
