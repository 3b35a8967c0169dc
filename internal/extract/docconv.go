package extract

import (
	"context"
	"fmt"
	"os"

	"code.sajari.com/docconv"
)

// DocconvExtractor handles pdf, docx and doc through docconv.
// pdf and doc rely on the pdftotext and antiword binaries being installed.
type DocconvExtractor struct{}

func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{}
}

func (e *DocconvExtractor) Extract(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	// Readability only applies to HTML input, which is not registered.
	res, err := docconv.Convert(f, docconv.MimeTypeByExtension(path), false)
	if err != nil {
		return "", fmt.Errorf("docconv %s: %w", path, err)
	}
	return res.Body, nil
}
