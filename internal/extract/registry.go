// Package extract turns document files into plain text, dispatching on file extension.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for files whose extension has no extractor.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Extractor reads the file at path and returns its text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

var supported = map[string]bool{
	".pdf":  true,
	".docx": true,
	".doc":  true,
	".txt":  true,
	".xlsx": true,
}

// IsSupportedExtension reports whether filename has an extension an extractor handles.
// It does no I/O.
func IsSupportedExtension(filename string) bool {
	return supported[strings.ToLower(filepath.Ext(filename))]
}

// Registry maps lower-cased extensions to extractors.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry returns the default registry: docconv for pdf/docx/doc,
// a plain reader for txt and excelize for xlsx.
func NewRegistry() *Registry {
	doc := NewDocconvExtractor()
	return &Registry{extractors: map[string]Extractor{
		".pdf":  doc,
		".docx": doc,
		".doc":  doc,
		".txt":  &TextFileExtractor{},
		".xlsx": &ExcelExtractor{},
	}}
}

// Register overrides the extractor for ext, which must be one of the supported extensions.
func (r *Registry) Register(ext string, e Extractor) error {
	ext = strings.ToLower(ext)
	if !supported[ext] {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	r.extractors[ext] = e
	return nil
}

// IsSupportedExtension is the method form of the package predicate.
func (r *Registry) IsSupportedExtension(filename string) bool {
	return IsSupportedExtension(filename)
}

// GetExtractor returns the extractor for path's extension.
func (r *Registry) GetExtractor(path string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.extractors[ext]
	if !ok || !supported[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return e, nil
}

// Extract dispatches path to its extractor.
func (r *Registry) Extract(ctx context.Context, path string) (string, error) {
	e, err := r.GetExtractor(path)
	if err != nil {
		return "", err
	}
	return e.Extract(ctx, path)
}
