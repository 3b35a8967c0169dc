// Package rag answers questions over the indexed documents and manages the
// conversations they are asked in.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jun/docrag/backend/internal/llm"
	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/store"
)

// AnswerHistoryTurns is how much history accompanies the final prompt.
const AnswerHistoryTurns = 10

const defaultTitle = "New conversation"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyQuestion        = errors.New("question is required")
	ErrEmptyTitle           = errors.New("title is required")
)

type Config struct {
	K      KTable
	Limits Limits
}

type Service struct {
	conversations store.ConversationRepository
	vectors       store.VectorRepository
	chat          llm.ChatLLM
	embeddings    llm.EmbeddingsProvider
	k             KTable
	limits        Limits
	log           *logger.Logger
}

func NewService(conversations store.ConversationRepository, vectors store.VectorRepository, chat llm.ChatLLM, embeddings llm.EmbeddingsProvider, cfg Config, log *logger.Logger) *Service {
	if cfg.K == (KTable{}) {
		cfg.K = DefaultKTable
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits
	}
	return &Service{
		conversations: conversations,
		vectors:       vectors,
		chat:          chat,
		embeddings:    embeddings,
		k:             cfg.K,
		limits:        cfg.Limits,
		log:           log.With("service", "RAGService"),
	}
}

// Answer is the assistant reply to one question.
type Answer struct {
	Content   string   `json:"content"`
	Intent    Intent   `json:"intent"`
	Strategy  Strategy `json:"strategy"`
	K         int      `json:"k"`
	Query     string   `json:"query"`
	Sources   []string `json:"sources,omitempty"`
	Truncated bool     `json:"truncated,omitempty"`
}

// AskWithRAG answers question within a conversation owned by userID and
// appends the question and the answer to its history.
func (s *Service) AskWithRAG(ctx context.Context, question, conversationID, userID string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if _, err := s.owned(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	history, err := s.conversations.Messages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	query := s.optimizeQuery(ctx, question, history)
	ans, err := s.answer(ctx, question, query, history)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Error("Failed to answer question", "conversationId", conversationID, "error", err)
		ans = &Answer{
			Content:  unavailableAnswer,
			Intent:   ClassifyIntent(question),
			Strategy: StrategyUnavailable,
			Query:    query,
		}
	}

	if err := s.save(ctx, conversationID, model.RoleUser, question); err != nil {
		return nil, err
	}
	if err := s.save(ctx, conversationID, model.RoleAssistant, ans.Content); err != nil {
		return nil, err
	}
	return ans, nil
}

func (s *Service) answer(ctx context.Context, question, query string, history []model.ConversationMessage) (*Answer, error) {
	emb, err := s.embeddings.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	intent := ClassifyIntent(question)
	k := s.k.K(question, intent)
	results, err := s.vectors.FindSimilar(ctx, emb, k)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}

	ctxt, err := assemble(ctx, s.vectors, intent, results, s.limits)
	if err != nil {
		return nil, err
	}
	s.log.Info("Context assembled", "intent", intent, "k", k,
		"results", len(results), "strategy", ctxt.strategy, "sections", ctxt.sections)

	content, err := s.chat.Chat(ctx, answerMessages(question, history, ctxt))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &Answer{
		Content:   content,
		Intent:    intent,
		Strategy:  ctxt.strategy,
		K:         k,
		Query:     query,
		Sources:   ctxt.sources,
		Truncated: ctxt.truncated,
	}, nil
}

// optimizeQuery rewrites question into search keywords. Open requests and
// optimizer failures use the deterministic cleanup instead.
func (s *Service) optimizeQuery(ctx context.Context, question string, history []model.ConversationMessage) string {
	if isOpenRequest(question) {
		return BasicQueryCleanup(question)
	}
	resp, err := s.chat.Chat(ctx, optimizerMessages(question, history))
	if err != nil {
		s.log.Warn("Query optimizer failed, using basic cleanup", "error", err)
		return BasicQueryCleanup(question)
	}
	return CleanOptimizerResponse(resp, question)
}

func answerMessages(question string, history []model.ConversationMessage, ctxt assembled) []llm.Message {
	msgs := []llm.Message{{Role: model.RoleSystem, Content: systemPrompt}}
	for _, m := range lastN(history, AnswerHistoryTurns) {
		if m.Role == model.RoleSystem {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{
		Role: model.RoleUser,
		Content: fmt.Sprintf("CONTEXTO:\n%s\n\nINSTRUCCIONES:\n%s\n\nPREGUNTA:\n%s",
			ctxt.text, instructions[ctxt.strategy], question),
	})
	return msgs
}

func (s *Service) save(ctx context.Context, conversationID string, role model.Role, content string) error {
	err := s.conversations.AddMessage(ctx, &model.ConversationMessage{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	})
	if err != nil {
		return fmt.Errorf("save %s message: %w", role, err)
	}
	return nil
}

func (s *Service) CreateConversation(ctx context.Context, userID, title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}
	c := &model.Conversation{UserID: userID, Title: title, IsActive: true}
	if err := s.conversations.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the user's active conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	return s.conversations.ListActiveByUser(ctx, userID)
}

func (s *Service) History(ctx context.Context, userID, conversationID string) ([]model.ConversationMessage, error) {
	if _, err := s.owned(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.conversations.Messages(ctx, conversationID)
}

// DeactivateConversation hides a conversation from listings; its history is kept.
func (s *Service) DeactivateConversation(ctx context.Context, userID, conversationID string) error {
	c, err := s.owned(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	c.IsActive = false
	return s.conversations.Update(ctx, c)
}

func (s *Service) RenameConversation(ctx context.Context, userID, conversationID, title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	c, err := s.owned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	c.Title = title
	if err := s.conversations.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("rename conversation: %w", err)
	}
	return c, nil
}

func (s *Service) owned(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	c, err := s.conversations.Get(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrConversationNotFound
	}
	return c, nil
}
