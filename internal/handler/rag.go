package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/markdown"
	"github.com/jun/docrag/backend/internal/rag"
)

const titleRunes = 60

// RAGHandler serves questions and conversation management.
type RAGHandler struct {
	svc       *rag.Service
	renderer  *markdown.Renderer
	jwtSecret string
	log       *logger.Logger
}

func NewRAGHandler(svc *rag.Service, renderer *markdown.Renderer, jwtSecret string, log *logger.Logger) *RAGHandler {
	return &RAGHandler{svc: svc, renderer: renderer, jwtSecret: jwtSecret, log: log.With("handler", "RAGHandler")}
}

// AskResponse is an answer plus its rendered HTML.
type AskResponse struct {
	ConversationID string `json:"conversationId"`
	*rag.Answer
	HTML string `json:"html"`
}

// Ask answers a question. Without a conversationId a new conversation is
// started, titled after the question.
func (h *RAGHandler) Ask(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	var in struct {
		Question       string `json:"question"`
		ConversationID string `json:"conversationId"`
	}
	if err := decode(req, &in); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(in.Question) == "" {
		return errorResponse(http.StatusBadRequest, rag.ErrEmptyQuestion.Error())
	}

	if in.ConversationID == "" {
		conv, err := h.svc.CreateConversation(ctx, userID, titleFrom(in.Question))
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		in.ConversationID = conv.ID
	}

	answer, err := h.svc.AskWithRAG(ctx, in.Question, in.ConversationID, userID)
	if err != nil {
		return h.ragError(err)
	}

	html, err := h.renderer.RenderAnswer(answer.Content)
	if err != nil {
		h.log.Warn("Failed to render answer", "error", err)
	}
	return jsonResponse(http.StatusOK, AskResponse{ConversationID: in.ConversationID, Answer: answer, HTML: html})
}

func (h *RAGHandler) ListConversations(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	convs, err := h.svc.ListConversations(ctx, userID)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusOK, convs)
}

func (h *RAGHandler) CreateConversation(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	var in struct {
		Title string `json:"title"`
	}
	if err := decode(req, &in); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}
	conv, err := h.svc.CreateConversation(ctx, userID, in.Title)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusCreated, conv)
}

// History returns the messages of the conversation in PathParameters["id"].
func (h *RAGHandler) History(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	msgs, err := h.svc.History(ctx, userID, req.PathParameters["id"])
	if err != nil {
		return h.ragError(err)
	}
	return jsonResponse(http.StatusOK, msgs)
}

func (h *RAGHandler) RenameConversation(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	var in struct {
		Title string `json:"title"`
	}
	if err := decode(req, &in); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}
	conv, err := h.svc.RenameConversation(ctx, userID, req.PathParameters["id"], in.Title)
	if err != nil {
		return h.ragError(err)
	}
	return jsonResponse(http.StatusOK, conv)
}

func (h *RAGHandler) DeleteConversation(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	if err := h.svc.DeactivateConversation(ctx, userID, req.PathParameters["id"]); err != nil {
		return h.ragError(err)
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
}

func (h *RAGHandler) ragError(err error) (events.APIGatewayProxyResponse, error) {
	switch {
	case errors.Is(err, rag.ErrConversationNotFound):
		return errorResponse(http.StatusNotFound, err.Error())
	case errors.Is(err, rag.ErrEmptyQuestion), errors.Is(err, rag.ErrEmptyTitle):
		return errorResponse(http.StatusBadRequest, err.Error())
	}
	h.log.Error("RAG request failed", "error", err)
	return events.APIGatewayProxyResponse{}, err
}

func titleFrom(question string) string {
	q := strings.Join(strings.Fields(question), " ")
	if utf8.RuneCountInString(q) <= titleRunes {
		return q
	}
	return string([]rune(q)[:titleRunes]) + "…"
}
