package rag

import (
	"strings"
	"unicode/utf8"
)

// Intent is the retrieval strategy a question asks for.
type Intent string

const (
	IntentPointed      Intent = "pointed"
	IntentFullDocument Intent = "full_document"
	IntentComparison   Intent = "comparison"
)

// LongQuestionChars is the length past which a pointed question retrieves more chunks.
const LongQuestionChars = 100

var fullDocumentPhrases = []string{
	"resumen completo",
	"resumen del documento",
	"resumen general",
	"resume el documento",
	"resumí el documento",
	"resumime",
	"resúmeme",
	"de qué trata",
	"de que trata",
	"documento completo",
	"todo el documento",
	"archivo completo",
	"contame",
	"cuéntame",
	"cuentame",
	"explicame el documento",
	"explícame el documento",
	"whole document",
	"full document",
	"summarize the document",
}

var comparisonPhrases = []string{
	"compara",
	"comparación",
	"comparacion",
	"diferencia",
	"versus",
	"compare",
	"difference",
}

// ClassifyIntent inspects the lower-cased question for full-document and
// comparison phrasing. Full-document wins when both match.
func ClassifyIntent(question string) Intent {
	q := strings.ToLower(question)
	if containsAny(q, fullDocumentPhrases) {
		return IntentFullDocument
	}
	if containsAny(q, comparisonPhrases) || hasWord(q, "vs") {
		return IntentComparison
	}
	return IntentPointed
}

// KTable holds the retrieval width per question shape.
type KTable struct {
	FullDocument int
	Comparison   int
	Long         int
	Default      int
}

var DefaultKTable = KTable{FullDocument: 15, Comparison: 10, Long: 8, Default: 5}

// K returns how many chunks to retrieve for question.
func (t KTable) K(question string, intent Intent) int {
	switch {
	case intent == IntentFullDocument:
		return t.FullDocument
	case intent == IntentComparison:
		return t.Comparison
	case utf8.RuneCountInString(question) > LongQuestionChars:
		return t.Long
	default:
		return t.Default
	}
}

var openRequestPrefixes = []string{
	"háblame de",
	"hablame de",
	"háblame sobre",
	"hablame sobre",
	"contame sobre",
	"cuéntame sobre",
	"qué es",
	"que es",
	"tell me about",
	"what is",
}

// isOpenRequest reports a "tell me about X" question, which is already a
// good search query once the interrogatives are stripped.
func isOpenRequest(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	q = strings.TrimLeft(q, "¿¡ ")
	for _, p := range openRequestPrefixes {
		if strings.HasPrefix(q, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func hasWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '?' || r == '¿' || r == '!' || r == '\n'
	}) {
		if f == word {
			return true
		}
	}
	return false
}
