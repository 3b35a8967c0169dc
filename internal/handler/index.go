package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/docrag/backend/internal/ingest"
	"github.com/jun/docrag/backend/internal/logger"
)

// IndexHandler exposes index maintenance and the local documents directory.
type IndexHandler struct {
	ingest       *ingest.Service
	documentsDir string
	jwtSecret    string
	log          *logger.Logger
}

func NewIndexHandler(ing *ingest.Service, documentsDir, jwtSecret string, log *logger.Logger) *IndexHandler {
	return &IndexHandler{ingest: ing, documentsDir: documentsDir, jwtSecret: jwtSecret, log: log.With("handler", "IndexHandler")}
}

func (h *IndexHandler) Stats(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return unauthorized()
	}
	stats, err := h.ingest.Stats(ctx)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusOK, stats)
}

func (h *IndexHandler) Clear(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return unauthorized()
	}
	if err := h.ingest.ClearIndex(ctx); err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
}

// ProcessDirectory ingests the supported files of the documents directory.
func (h *IndexHandler) ProcessDirectory(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return unauthorized()
	}
	res, err := h.ingest.ProcessDirectory(ctx, h.documentsDir)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	h.log.Info("Directory processed", "processed", res.Processed, "skipped", res.Skipped, "errors", res.Errors)
	return jsonResponse(http.StatusOK, res)
}

// ServeFile returns a file of the documents directory, the target of local
// source links. Only base names are accepted.
func (h *IndexHandler) ServeFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	name, err := url.PathUnescape(req.PathParameters["name"])
	if err != nil || name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return errorResponse(http.StatusBadRequest, "invalid file name")
	}

	data, err := os.ReadFile(filepath.Join(h.documentsDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return errorResponse(http.StatusNotFound, "file not found")
	}
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return events.APIGatewayProxyResponse{
		StatusCode:      http.StatusOK,
		Body:            base64.StdEncoding.EncodeToString(data),
		IsBase64Encoded: true,
		Headers: map[string]string{
			"Content-Type":        contentType,
			"Content-Disposition": mime.FormatMediaType("inline", map[string]string{"filename": name}),
		},
	}, nil
}
