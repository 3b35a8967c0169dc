package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/ragsync"
)

// SyncHandler triggers and reports on tracked-file synchronization.
type SyncHandler struct {
	orch      *ragsync.Orchestrator
	jwtSecret string
}

func NewSyncHandler(orch *ragsync.Orchestrator, jwtSecret string) *SyncHandler {
	return &SyncHandler{orch: orch, jwtSecret: jwtSecret}
}

// Run processes the pending batch. A concurrent run is rejected with 409.
func (h *SyncHandler) Run(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	res, err := h.orch.SyncPendingFiles(ctx, userID)
	if errors.Is(err, ragsync.ErrAlreadyRunning) {
		return errorResponse(http.StatusConflict, err.Error())
	}
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusOK, res)
}

// StatusResponse reports whether a sync is running here or elsewhere.
type StatusResponse struct {
	Running bool             `json:"running"`
	Lease   *model.SyncLease `json:"lease,omitempty"`
}

func (h *SyncHandler) Status(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return unauthorized()
	}
	lease, err := h.orch.LeaseStatus(ctx)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusOK, StatusResponse{
		Running: h.orch.IsCurrentlyRunning() || lease != nil,
		Lease:   lease,
	})
}

func (h *SyncHandler) Logs(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return unauthorized()
	}
	return jsonResponse(http.StatusOK, h.orch.GetLogs())
}
