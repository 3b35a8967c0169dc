// Package onedrive implements adapter.CloudStorageProvider over Microsoft Graph.
package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/model"
)

const DefaultGraphURL = "https://graph.microsoft.com/v1.0"

// Provider talks to the signed-in user's drive with a bearer access token.
type Provider struct {
	GraphURL   string
	HTTPClient *http.Client
}

func NewProvider() *Provider {
	return &Provider{
		GraphURL:   DefaultGraphURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type driveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	WebURL               string    `json:"webUrl"`
	Folder               *struct{} `json:"folder,omitempty"`
	File                 *struct {
		MimeType string `json:"mimeType"`
	} `json:"file,omitempty"`
	ParentReference *struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	} `json:"parentReference,omitempty"`
}

type childrenResponse struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

func (p *Provider) ListFiles(ctx context.Context, creds model.Credentials, folderID string) ([]adapter.CloudFile, error) {
	next := p.GraphURL + "/me/drive/root/children"
	if folderID != "" {
		next = p.GraphURL + "/me/drive/items/" + url.PathEscape(folderID) + "/children"
	}

	var files []adapter.CloudFile
	for next != "" {
		var page childrenResponse
		if err := p.getJSON(ctx, creds, "list files", next, &page); err != nil {
			return nil, err
		}
		for _, it := range page.Value {
			files = append(files, it.toCloudFile())
		}
		next = page.NextLink
	}
	return files, nil
}

func (p *Provider) GetFileMetadata(ctx context.Context, creds model.Credentials, fileID string) (*adapter.CloudFile, error) {
	var it driveItem
	if err := p.getJSON(ctx, creds, "get file metadata", p.GraphURL+"/me/drive/items/"+url.PathEscape(fileID), &it); err != nil {
		return nil, err
	}
	f := it.toCloudFile()
	return &f, nil
}

// DownloadFile follows Graph's redirect to the pre-authenticated download URL.
func (p *Provider) DownloadFile(ctx context.Context, creds model.Credentials, fileID string) ([]byte, error) {
	res, err := p.get(ctx, creds, "download file", p.GraphURL+"/me/drive/items/"+url.PathEscape(fileID)+"/content")
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return io.ReadAll(res.Body)
}

func (p *Provider) getJSON(ctx context.Context, creds model.Credentials, op, u string, out any) error {
	res, err := p.get(ctx, creds, op, u)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (p *Provider) get(ctx context.Context, creds model.Credentials, op, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	res, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if res.StatusCode >= 300 {
		defer res.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, adapter.NewError(op, res.StatusCode, fmt.Errorf("graph: %s", strings.TrimSpace(string(b))))
	}
	return res, nil
}

func (it driveItem) toCloudFile() adapter.CloudFile {
	f := adapter.CloudFile{
		ID:           it.ID,
		Name:         it.Name,
		IsFolder:     it.Folder != nil,
		Size:         it.Size,
		ModifiedTime: it.LastModifiedDateTime,
		WebViewLink:  it.WebURL,
		MimeType:     "application/octet-stream",
	}
	switch {
	case f.IsFolder:
		f.MimeType = "folder"
	case it.File != nil && it.File.MimeType != "":
		f.MimeType = it.File.MimeType
	}
	if it.ParentReference != nil {
		f.ParentID = it.ParentReference.ID
	}
	return f
}
