package rag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jun/docrag/backend/internal/llm"
	"github.com/jun/docrag/backend/internal/model"
)

const (
	// OptimizerHistoryTurns is how much history the query optimizer sees.
	OptimizerHistoryTurns = 6
	minOptimizedChars     = 3
)

var (
	optimizerBoilerplate = regexp.MustCompile(`(?i)^\s*((la consulta optimizada es|aquí tienes|aqui tienes|the optimized query is|here you go|here is)\s*:?|(respuesta|optimizada|answer)\s*:)\s*`)
	punctuation          = strings.NewReplacer("¿", "", "?", "", "¡", "", "!", "")
	whitespace           = regexp.MustCompile(`\s+`)
)

var interrogatives = map[string]bool{
	"cómo": true, "como": true,
	"qué": true,
	"cuál": true, "cual": true, "cuáles": true, "cuales": true,
	"dónde": true, "donde": true,
	"cuándo": true, "cuando": true,
	"what": true, "how": true, "which": true, "where": true, "when": true, "why": true,
}

const optimizerSystemPrompt = `Eres un optimizador de consultas para búsqueda vectorial semántica. Tu ÚNICA función es transformar la consulta del usuario en una versión optimizada.

REGLAS ESTRICTAS:
- Responde ÚNICAMENTE con palabras clave de búsqueda separadas por espacios
- NO agregues introducciones, explicaciones o comentarios
- NO uses frases como "aquí tienes" o "la consulta optimizada es"
- Combina el contexto conversacional con la pregunta actual
- Si la pregunta es una repregunta vaga, expándela con el tema inmediatamente anterior
- Mantén las palabras clave técnicas y elimina palabras de relleno

EJEMPLOS:
Contexto: discusión sobre fútbol → Pregunta: "¿y los goles?" → Respuesta: "estadísticas goles fútbol partidos marcadores"
Contexto: programación Python → Pregunta: "¿cómo optimizar?" → Respuesta: "optimización rendimiento código Python técnicas algoritmos"`

// optimizerMessages asks the chat model for a keyword query for question.
func optimizerMessages(question string, history []model.ConversationMessage) []llm.Message {
	var lines []string
	for _, m := range lastN(history, OptimizerHistoryTurns) {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return []llm.Message{
		{Role: model.RoleSystem, Content: optimizerSystemPrompt},
		{Role: model.RoleUser, Content: fmt.Sprintf("CONTEXTO DE CONVERSACIÓN:\n%s\n\nPREGUNTA ACTUAL:\n%s", strings.Join(lines, "\n"), question)},
	}
}

// CleanOptimizerResponse strips boilerplate from the optimizer's reply and
// falls back to BasicQueryCleanup(question) for degenerate or refusing replies.
func CleanOptimizerResponse(resp, question string) string {
	cleaned := optimizerBoilerplate.ReplaceAllString(resp, "")
	cleaned = strings.Trim(cleaned, "[]\"' \t\r\n")
	cleaned = strings.TrimSpace(whitespace.ReplaceAllString(cleaned, " "))

	lower := strings.ToLower(cleaned)
	if len([]rune(cleaned)) < minOptimizedChars || strings.Contains(lower, "no puedo") || strings.Contains(lower, "i can't") || strings.Contains(lower, "i cannot") {
		return BasicQueryCleanup(question)
	}
	return cleaned
}

// BasicQueryCleanup removes punctuation and interrogatives from question.
// It returns the trimmed question when nothing else is left.
func BasicQueryCleanup(question string) string {
	words := strings.Fields(punctuation.Replace(question))
	out := make([]string, 0, len(words))
	for i := 0; i < len(words); i++ {
		w := strings.ToLower(words[i])
		if (w == "por" || w == "para") && i+1 < len(words) && strings.ToLower(words[i+1]) == "qué" {
			i++
			continue
		}
		if interrogatives[w] {
			continue
		}
		out = append(out, words[i])
	}
	if len(out) == 0 {
		return strings.TrimSpace(punctuation.Replace(question))
	}
	return strings.Join(out, " ")
}

func lastN[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
