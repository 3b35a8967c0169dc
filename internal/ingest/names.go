package ingest

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/model"
)

var (
	invalidFilenameChars = regexp.MustCompile(`[/\\:*?"<>|]`)
	whitespaceRun        = regexp.MustCompile(`\s+`)
	underscoreRun        = regexp.MustCompile(`_+`)
)

// SanitizeFilename replaces path separators, reserved characters and
// whitespace runs with a single underscore.
func SanitizeFilename(name string) string {
	name = invalidFilenameChars.ReplaceAllString(name, "_")
	name = whitespaceRun.ReplaceAllString(name, "_")
	name = underscoreRun.ReplaceAllString(name, "_")
	return strings.TrimSpace(name)
}

// DisplayName is the name a cloud file is indexed under before sanitizing.
// Google-native documents are exported as PDF and get a .pdf suffix.
func DisplayName(name, mimeType string) string {
	if strings.HasPrefix(mimeType, adapter.GoogleAppsPrefix) && !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return name + ".pdf"
	}
	return name
}

// DocumentName is the vector-store source key of a cloud file.
func DocumentName(name, mimeType string) string {
	return SanitizeFilename(DisplayName(name, mimeType))
}

// SourceURL links back to a file in its provider's web UI.
func SourceURL(provider model.ProviderType, f adapter.CloudFile) string {
	switch provider {
	case model.ProviderGoogleDrive:
		return "https://drive.google.com/file/d/" + f.ID + "/view"
	case model.ProviderDropbox:
		p := f.Path
		if p == "" {
			p = "/" + f.Name
		}
		return "https://www.dropbox.com/home" + p
	case model.ProviderOneDrive:
		return "https://onedrive.live.com/?id=" + f.ID
	case model.ProviderLocal:
		return LocalFileURL(f.Name)
	default:
		return ""
	}
}

// LocalFileURL is the download route of a locally ingested file.
func LocalFileURL(name string) string {
	return "/api/files/" + url.PathEscape(name)
}

// FormatSourceLink renders a chunk source as a markdown link when a URL exists.
func FormatSourceLink(source, sourceURL string) string {
	if sourceURL == "" {
		return source
	}
	return "[" + source + "](" + sourceURL + ")"
}
