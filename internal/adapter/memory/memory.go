// Package memory is an in-memory adapter.CloudStorageProvider used by tests and DEV_MODE.
package memory

import (
	"context"
	"errors"
	"mime"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/model"
)

const rootID = "root"

// Operation names accepted by FailWith and Calls.
const (
	OpList     = "list"
	OpDownload = "download"
	OpMetadata = "metadata"
)

type item struct {
	meta    adapter.CloudFile
	content []byte
}

// Provider keeps a single file tree. When ValidToken is set, any other access
// token is rejected with a 401 provider error.
type Provider struct {
	mu       sync.RWMutex
	files    map[string]*item
	failures map[string]error
	calls    map[string]int

	ValidToken string
}

func NewProvider() *Provider {
	return &Provider{
		files:    make(map[string]*item),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Put stores f with content. An empty ParentID places it in the root.
func (p *Provider) Put(f adapter.CloudFile, content []byte) adapter.CloudFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f.ParentID == "" {
		f.ParentID = rootID
	}
	if f.MimeType == "" {
		if f.IsFolder {
			f.MimeType = "folder"
		} else if t := mime.TypeByExtension(strings.ToLower(path.Ext(f.Name))); t != "" {
			f.MimeType = t
		} else {
			f.MimeType = "application/octet-stream"
		}
	}
	if f.ModifiedTime.IsZero() {
		f.ModifiedTime = time.Now()
	}
	f.Size = int64(len(content))
	p.files[f.ID] = &item{meta: f, content: content}
	return f
}

// AddFile stores a file under parentID.
func (p *Provider) AddFile(parentID, id, name string, content []byte) adapter.CloudFile {
	return p.Put(adapter.CloudFile{ID: id, Name: name, ParentID: parentID}, content)
}

// AddFolder stores a folder under parentID.
func (p *Provider) AddFolder(parentID, id, name string) adapter.CloudFile {
	return p.Put(adapter.CloudFile{ID: id, Name: name, ParentID: parentID, IsFolder: true}, nil)
}

// Touch replaces a file's content and bumps its modified time.
func (p *Provider) Touch(id string, content []byte, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it, ok := p.files[id]; ok {
		it.content = content
		it.meta.Size = int64(len(content))
		it.meta.ModifiedTime = at
	}
}

// Remove deletes a file from the tree.
func (p *Provider) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, id)
}

// FailWith makes op on fileID (folder ID for OpList) return err until cleared with a nil err.
func (p *Provider) FailWith(op, fileID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op+":"+fileID)
		return
	}
	p.failures[op+":"+fileID] = err
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[op]
}

func (p *Provider) begin(op, id string, creds model.Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	if p.ValidToken != "" && creds.AccessToken != p.ValidToken {
		return adapter.NewError(op, 401, errors.New("Invalid Credentials"))
	}
	if err, ok := p.failures[op+":"+id]; ok {
		return err
	}
	return nil
}

func (p *Provider) ListFiles(ctx context.Context, creds model.Credentials, folderID string) ([]adapter.CloudFile, error) {
	if folderID == "" {
		folderID = rootID
	}
	if err := p.begin(OpList, folderID, creds); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.files[folderID]; !ok && folderID != rootID {
		return nil, adapter.NewError(OpList, 404, nil)
	}
	var out []adapter.CloudFile
	for _, it := range p.files {
		if it.meta.ParentID == folderID {
			out = append(out, it.meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *Provider) DownloadFile(ctx context.Context, creds model.Credentials, fileID string) ([]byte, error) {
	if err := p.begin(OpDownload, fileID, creds); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	it, ok := p.files[fileID]
	if !ok || it.meta.IsFolder {
		return nil, adapter.NewError(OpDownload, 404, nil)
	}
	return append([]byte(nil), it.content...), nil
}

func (p *Provider) GetFileMetadata(ctx context.Context, creds model.Credentials, fileID string) (*adapter.CloudFile, error) {
	if err := p.begin(OpMetadata, fileID, creds); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	it, ok := p.files[fileID]
	if !ok {
		return nil, adapter.NewError(OpMetadata, 404, nil)
	}
	meta := it.meta
	return &meta, nil
}
