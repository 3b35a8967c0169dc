package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/ingest"
	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/sources"
)

// SourceHandler manages document sources and browses their files.
type SourceHandler struct {
	sources   *sources.Service
	ingest    *ingest.Service
	jwtSecret string
	log       *logger.Logger
}

func NewSourceHandler(srcs *sources.Service, ing *ingest.Service, jwtSecret string, log *logger.Logger) *SourceHandler {
	return &SourceHandler{sources: srcs, ingest: ing, jwtSecret: jwtSecret, log: log.With("handler", "SourceHandler")}
}

type createSourceRequest struct {
	Name         string             `json:"name"`
	Provider     model.ProviderType `json:"provider"`
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	ExpiresAt    *time.Time         `json:"expiresAt"`
	FolderID     string             `json:"folderId"`
	ClientID     string             `json:"clientId"`
	ClientSecret string             `json:"clientSecret"`
}

func (h *SourceHandler) ListSources(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	srcs, err := h.sources.GetUserSources(ctx, userID)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	if srcs == nil {
		srcs = []model.DocumentSource{}
	}
	return jsonResponse(http.StatusOK, srcs)
}

func (h *SourceHandler) CreateSource(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	var in createSourceRequest
	if err := decode(req, &in); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}

	src, err := h.sources.CreateSource(ctx, userID, sources.CreateInput{
		Name:     in.Name,
		Provider: in.Provider,
		Credentials: model.Credentials{
			AccessToken:  in.AccessToken,
			RefreshToken: in.RefreshToken,
			ExpiresAt:    in.ExpiresAt,
		},
		FolderID:     in.FolderID,
		ClientID:     in.ClientID,
		ClientSecret: in.ClientSecret,
	})
	if err != nil {
		return h.fail(err)
	}
	return jsonResponse(http.StatusCreated, src)
}

func (h *SourceHandler) DeleteSource(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	if err := h.sources.DeleteSource(ctx, userID, req.PathParameters["sourceId"]); err != nil {
		return h.fail(err)
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
}

// ListFiles lists a folder of the source; folderId defaults to the source root.
func (h *SourceHandler) ListFiles(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	files, err := h.sources.ListFiles(ctx, userID, req.PathParameters["sourceId"], req.QueryStringParameters["folderId"])
	if err != nil {
		return h.fail(err)
	}
	if files == nil {
		files = []adapter.CloudFile{}
	}
	return jsonResponse(http.StatusOK, files)
}

// ProcessFile ingests one file of the source immediately. Skips are
// reported with 200 and success false.
func (h *SourceHandler) ProcessFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	var in struct {
		FileName string `json:"fileName"`
	}
	if err := decode(req, &in); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.ingest.ProcessFileFromSource(ctx, userID, req.PathParameters["sourceId"], req.PathParameters["fileId"], in.FileName)
	if err != nil {
		return h.fail(err)
	}
	return jsonResponse(http.StatusOK, res)
}

func (h *SourceHandler) fail(err error) (events.APIGatewayProxyResponse, error) {
	status := providerStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Source request failed", "error", err)
		return errorResponse(status, err.Error())
	}
	return errorResponse(status, adapter.Describe(err))
}
