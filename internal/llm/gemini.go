package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/jun/docrag/backend/internal/model"
	"google.golang.org/api/option"
)

// Gemini serves both chat and embeddings from one genai client.
type Gemini struct {
	client     *genai.Client
	chatModel  string
	embedModel string
}

func NewGemini(ctx context.Context, apiKey, chatModel, embedModel string, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cl, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if chatModel == "" {
		chatModel = "gemini-1.5-flash"
	}
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}
	return &Gemini{client: cl, chatModel: chatModel, embedModel: embedModel}, nil
}

func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *Gemini) Chat(ctx context.Context, messages []Message) (string, error) {
	system, history, last, err := splitForGemini(messages)
	if err != nil {
		return "", err
	}

	m := g.client.GenerativeModel(g.chatModel)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	cs := m.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", fmt.Errorf("gemini chat: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

func (g *Gemini) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	res, err := g.client.EmbeddingModel(g.embedModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil {
		return nil, errors.New("gemini embed: empty embedding")
	}
	return res.Embedding.Values, nil
}

// splitForGemini folds system messages into one instruction and maps the
// remaining turns to genai history, keeping the final user turn apart.
func splitForGemini(messages []Message) (string, []*genai.Content, string, error) {
	var system []string
	var turns []Message
	for _, m := range messages {
		if m.Role == model.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != model.RoleUser {
		return "", nil, "", errors.New("gemini chat: last message must come from the user")
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return strings.Join(system, "\n\n"), history, turns[len(turns)-1].Content, nil
}
