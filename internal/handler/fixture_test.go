package handler_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jun/docrag/backend/internal/adapter"
	adaptermemory "github.com/jun/docrag/backend/internal/adapter/memory"
	"github.com/jun/docrag/backend/internal/chunker"
	"github.com/jun/docrag/backend/internal/crypto"
	"github.com/jun/docrag/backend/internal/extract"
	"github.com/jun/docrag/backend/internal/handler"
	"github.com/jun/docrag/backend/internal/ingest"
	"github.com/jun/docrag/backend/internal/llm"
	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/markdown"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/rag"
	"github.com/jun/docrag/backend/internal/ragsync"
	"github.com/jun/docrag/backend/internal/sources"
	"github.com/jun/docrag/backend/internal/store/memory"
	"github.com/jun/docrag/backend/internal/tracking"
)

const (
	testUserID    = "test-user-123"
	testJWTSecret = "test-secret"
)

func makeToken(userID string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(1 * time.Hour).Unix(),
	})
	signed, _ := token.SignedString([]byte(testJWTSecret))
	return signed
}

func makeRequest(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       body,
		Headers: map[string]string{
			"Authorization": "Bearer " + makeToken(testUserID),
			"Content-Type":  "application/json",
		},
		PathParameters:        map[string]string{},
		QueryStringParameters: map[string]string{},
	}
}

func decodeBody(t *testing.T, resp events.APIGatewayProxyResponse, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(resp.Body), v); err != nil {
		t.Fatalf("Failed to unmarshal response %q: %v", resp.Body, err)
	}
}

// replyChat answers every prompt, optimizer included, with the same text.
type replyChat struct{ reply string }

func (c replyChat) Chat(ctx context.Context, msgs []llm.Message) (string, error) {
	return c.reply, nil
}

type unitEmbeddings struct{}

func (unitEmbeddings) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type env struct {
	db       *memory.DB
	cloud    *adaptermemory.Provider
	source   *model.DocumentSource
	sources  *sources.Service
	ingest   *ingest.Service
	tracking *tracking.Service
	orch     *ragsync.Orchestrator
	rag      *rag.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logger.Nop()
	db := memory.New()
	cloud := adaptermemory.NewProvider()
	registry := adapter.NewRegistry().Register(model.ProviderGoogleDrive, cloud)
	srcSvc := sources.NewService(db.Sources, registry, crypto.NewMockEncryptor(), nil, log)
	src, err := srcSvc.CreateSource(context.Background(), testUserID, sources.CreateInput{
		Name:        "Drive",
		Provider:    model.ProviderGoogleDrive,
		Credentials: model.Credentials{AccessToken: "token"},
	})
	if err != nil {
		t.Fatalf("CreateSource failed: %v", err)
	}

	ing := ingest.NewService(srcSvc, extract.NewRegistry(), chunker.New(300, 60), unitEmbeddings{}, db.Vectors, db.ProcessedFiles, t.TempDir(), log)
	return &env{
		db:       db,
		cloud:    cloud,
		source:   src,
		sources:  srcSvc,
		ingest:   ing,
		tracking: tracking.NewService(db.TrackedFiles, srcSvc, ing, log),
		orch:     ragsync.NewOrchestrator(db.TrackedFiles, srcSvc, ing, nil, ragsync.Config{}, log),
		rag:      rag.NewService(db.Conversations, db.Vectors, replyChat{reply: "**Respuesta** generada"}, unitEmbeddings{}, rag.Config{}, log),
	}
}

func (e *env) ragHandler() *handler.RAGHandler {
	return handler.NewRAGHandler(e.rag, markdown.NewRenderer(), testJWTSecret, logger.Nop())
}

func (e *env) sourceHandler() *handler.SourceHandler {
	return handler.NewSourceHandler(e.sources, e.ingest, testJWTSecret, logger.Nop())
}

func (e *env) trackedHandler() *handler.TrackedHandler {
	return handler.NewTrackedHandler(e.tracking, testJWTSecret, logger.Nop())
}
