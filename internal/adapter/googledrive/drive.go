package googledrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/model"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	exportMimeType = "application/pdf"
	fileFields     = "id, name, mimeType, modifiedTime, size, webViewLink, parents"
	pageSize       = 1000
)

// Provider implements adapter.CloudStorageProvider for Google Drive.
type Provider struct {
	// opts are appended to every drive.NewService call (endpoint overrides in tests).
	opts []option.ClientOption
}

// NewProvider creates a Google Drive provider.
func NewProvider(opts ...option.ClientOption) *Provider {
	return &Provider{opts: opts}
}

// service builds a Drive client authorized with the source's access token.
func (p *Provider) service(ctx context.Context, creds model.Credentials) (*drive.Service, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken}))
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, p.opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive client: %w", err)
	}
	return srv, nil
}

// ListFiles lists non-trashed children of folderID ("root" when empty).
func (p *Provider) ListFiles(ctx context.Context, creds model.Credentials, folderID string) ([]adapter.CloudFile, error) {
	srv, err := p.service(ctx, creds)
	if err != nil {
		return nil, err
	}
	if folderID == "" {
		folderID = "root"
	}

	q := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	var files []adapter.CloudFile
	pageToken := ""
	for {
		call := srv.Files.List().
			Q(q).
			Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
			PageSize(pageSize).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		r, err := call.Do()
		if err != nil {
			return nil, wrapError("list files", err)
		}
		for _, f := range r.Files {
			files = append(files, toCloudFile(f))
		}
		if r.NextPageToken == "" {
			break
		}
		pageToken = r.NextPageToken
	}
	return files, nil
}

// GetFileMetadata retrieves a file's metadata.
func (p *Provider) GetFileMetadata(ctx context.Context, creds model.Credentials, fileID string) (*adapter.CloudFile, error) {
	srv, err := p.service(ctx, creds)
	if err != nil {
		return nil, err
	}
	f, err := srv.Files.Get(fileID).
		SupportsAllDrives(true).
		Fields(googleapi.Field(fileFields)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapError("get file metadata", err)
	}
	cf := toCloudFile(f)
	return &cf, nil
}

// DownloadFile downloads binary content, exporting Google-native documents as PDF.
func (p *Provider) DownloadFile(ctx context.Context, creds model.Credentials, fileID string) ([]byte, error) {
	srv, err := p.service(ctx, creds)
	if err != nil {
		return nil, err
	}
	f, err := srv.Files.Get(fileID).
		SupportsAllDrives(true).
		Fields(googleapi.Field("id, mimeType")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapError("get file metadata", err)
	}

	var resp *http.Response
	if toCloudFile(f).IsGoogleNative() {
		resp, err = srv.Files.Export(fileID, exportMimeType).Context(ctx).Download()
	} else {
		resp, err = srv.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	}
	if err != nil {
		return nil, wrapError("download file", err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read file content: %w", err)
	}
	return content, nil
}

func toCloudFile(f *drive.File) adapter.CloudFile {
	modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	cf := adapter.CloudFile{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		IsFolder:     f.MimeType == folderMimeType,
		Size:         f.Size,
		ModifiedTime: modTime,
		WebViewLink:  f.WebViewLink,
	}
	if len(f.Parents) > 0 {
		cf.ParentID = f.Parents[0]
	}
	return cf
}

// wrapError converts googleapi errors into *adapter.Error.
func wrapError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return adapter.NewError(op, gerr.Code, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
