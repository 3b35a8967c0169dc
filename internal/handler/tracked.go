package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/tracking"
)

// TrackedHandler manages the files a user keeps indexed.
type TrackedHandler struct {
	tracking  *tracking.Service
	jwtSecret string
	log       *logger.Logger
}

func NewTrackedHandler(svc *tracking.Service, jwtSecret string, log *logger.Logger) *TrackedHandler {
	return &TrackedHandler{tracking: svc, jwtSecret: jwtSecret, log: log.With("handler", "TrackedHandler")}
}

type trackRequest struct {
	FileID          string `json:"fileId"`
	FileName        string `json:"fileName"`
	FilePath        string `json:"filePath"`
	MimeType        string `json:"mimeType"`
	IsFolder        bool   `json:"isFolder"`
	IncludeChildren *bool  `json:"includeChildren"`
}

func (h *TrackedHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	recs, err := h.tracking.ListTracked(ctx, userID, req.PathParameters["sourceId"])
	if err != nil {
		return h.fail(err)
	}
	if recs == nil {
		recs = []model.TrackedFile{}
	}
	return jsonResponse(http.StatusOK, recs)
}

// Track registers a file or folder; 201 when created, 200 when it was already tracked.
func (h *TrackedHandler) Track(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	var in trackRequest
	if err := decode(req, &in); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}

	rec, created, err := h.tracking.TrackFile(ctx, userID, req.PathParameters["sourceId"], tracking.TrackInput{
		FileID:          in.FileID,
		FileName:        in.FileName,
		FilePath:        in.FilePath,
		MimeType:        in.MimeType,
		IsFolder:        in.IsFolder,
		IncludeChildren: in.IncludeChildren,
	})
	if err != nil {
		return h.fail(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return jsonResponse(status, rec)
}

func (h *TrackedHandler) Untrack(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	if err := h.tracking.UntrackFile(ctx, userID, req.PathParameters["id"]); err != nil {
		return h.fail(err)
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
}

// Unrag removes the file's chunks from the index and stops tracking it.
func (h *TrackedHandler) Unrag(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	removed, err := h.tracking.UnragFile(ctx, userID, req.PathParameters["id"])
	if err != nil {
		return h.fail(err)
	}
	return jsonResponse(http.StatusOK, map[string]int{"chunksDeleted": removed})
}

func (h *TrackedHandler) Retry(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	rec, err := h.tracking.RetryFile(ctx, userID, req.PathParameters["id"])
	if err != nil {
		return h.fail(err)
	}
	return jsonResponse(http.StatusOK, rec)
}

func (h *TrackedHandler) fail(err error) (events.APIGatewayProxyResponse, error) {
	switch {
	case errors.Is(err, tracking.ErrNotFound):
		return errorResponse(http.StatusNotFound, err.Error())
	case errors.Is(err, tracking.ErrInvalidInput), errors.Is(err, tracking.ErrFolder):
		return errorResponse(http.StatusBadRequest, err.Error())
	case errors.Is(err, tracking.ErrNotRetryable):
		return errorResponse(http.StatusConflict, err.Error())
	}
	if status := providerStatus(err); status != http.StatusInternalServerError {
		return errorResponse(status, err.Error())
	}
	h.log.Error("Tracked file request failed", "error", err)
	return events.APIGatewayProxyResponse{}, err
}
