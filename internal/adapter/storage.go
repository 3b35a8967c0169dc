package adapter

import (
	"context"
	"strings"
	"time"

	"github.com/jun/docrag/backend/internal/model"
)

// GoogleAppsPrefix marks Google-native documents, which are exported as PDF.
const GoogleAppsPrefix = "application/vnd.google-apps."

// CloudFile describes a file or folder in a cloud storage account.
type CloudFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	IsFolder     bool      `json:"isFolder"`
	Size         int64     `json:"size,omitempty"`
	ModifiedTime time.Time `json:"modifiedTime,omitempty"`
	WebViewLink  string    `json:"webViewLink,omitempty"`
	ParentID     string    `json:"parentId,omitempty"`
	// Path is the provider path when it has one (Dropbox).
	Path string `json:"path,omitempty"`
}

// IsGoogleNative reports whether the file is a Google Docs/Sheets/Slides document.
func (f CloudFile) IsGoogleNative() bool {
	return strings.HasPrefix(f.MimeType, GoogleAppsPrefix)
}

// CloudStorageProvider lists and downloads files using a source's decrypted credentials.
// Implementations return *Error for HTTP failures so callers can match on Kind.
type CloudStorageProvider interface {
	// ListFiles lists the direct children of folderID, or the account root when empty.
	ListFiles(ctx context.Context, creds model.Credentials, folderID string) ([]CloudFile, error)

	// DownloadFile returns the file content. Google-native documents are exported as PDF.
	DownloadFile(ctx context.Context, creds model.Credentials, fileID string) ([]byte, error)

	// GetFileMetadata returns a single file's metadata.
	GetFileMetadata(ctx context.Context, creds model.Credentials, fileID string) (*CloudFile, error)
}
