// Package dropbox implements adapter.CloudStorageProvider over the Dropbox v2 HTTP API.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/model"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com/2"
	DefaultContentURL = "https://content.dropboxapi.com/2"
)

// Provider talks to Dropbox with a bearer access token.
type Provider struct {
	APIURL     string
	ContentURL string
	HTTPClient *http.Client
}

func NewProvider() *Provider {
	return &Provider{
		APIURL:     DefaultAPIURL,
		ContentURL: DefaultContentURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type entry struct {
	Tag            string `json:".tag"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	PathDisplay    string `json:"path_display"`
	Size           int64  `json:"size"`
	ClientModified string `json:"client_modified"`
	ServerModified string `json:"server_modified"`
}

type listResponse struct {
	Entries []entry `json:"entries"`
	Cursor  string  `json:"cursor"`
	HasMore bool    `json:"has_more"`
}

// ListFiles lists folderID (a Dropbox id or path), the root when empty.
func (p *Provider) ListFiles(ctx context.Context, creds model.Credentials, folderID string) ([]adapter.CloudFile, error) {
	var resp listResponse
	err := p.rpc(ctx, creds, "list files", "/files/list_folder", map[string]any{
		"path":            folderID,
		"recursive":       false,
		"include_deleted": false,
	}, &resp)
	if err != nil {
		return nil, err
	}

	files := make([]adapter.CloudFile, 0, len(resp.Entries))
	for {
		for _, e := range resp.Entries {
			f := e.toCloudFile()
			f.ParentID = folderID
			files = append(files, f)
		}
		if !resp.HasMore {
			break
		}
		cursor := resp.Cursor
		resp = listResponse{}
		if err := p.rpc(ctx, creds, "list files", "/files/list_folder/continue", map[string]any{"cursor": cursor}, &resp); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func (p *Provider) GetFileMetadata(ctx context.Context, creds model.Credentials, fileID string) (*adapter.CloudFile, error) {
	var e entry
	if err := p.rpc(ctx, creds, "get file metadata", "/files/get_metadata", map[string]any{"path": fileID}, &e); err != nil {
		return nil, err
	}
	f := e.toCloudFile()
	return &f, nil
}

func (p *Provider) DownloadFile(ctx context.Context, creds model.Credentials, fileID string) ([]byte, error) {
	arg, _ := json.Marshal(map[string]string{"path": fileID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ContentURL+"/files/download", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	res, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, responseError("download file", res)
	}
	return io.ReadAll(res.Body)
}

func (p *Provider) rpc(ctx context.Context, creds model.Credentials, op, endpoint string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.APIURL+endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := p.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return responseError(op, res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// responseError maps Dropbox failures; 409 path/not_found is reported as not found.
func responseError(op string, res *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	msg := strings.TrimSpace(string(b))
	status := res.StatusCode
	if status == http.StatusConflict && strings.Contains(msg, "not_found") {
		status = http.StatusNotFound
	}
	return adapter.NewError(op, status, fmt.Errorf("dropbox: %s", msg))
}

func (e entry) toCloudFile() adapter.CloudFile {
	f := adapter.CloudFile{
		ID:       e.ID,
		Name:     e.Name,
		IsFolder: e.Tag == "folder",
		Size:     e.Size,
		Path:     e.PathDisplay,
	}
	if f.IsFolder {
		f.MimeType = "folder"
	} else {
		f.MimeType = mimeTypeFromName(e.Name)
	}
	modified := e.ServerModified
	if modified == "" {
		modified = e.ClientModified
	}
	f.ModifiedTime, _ = time.Parse(time.RFC3339, modified)
	return f
}

func mimeTypeFromName(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}
