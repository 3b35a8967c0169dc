package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/jun/docrag/backend/internal/ingest"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/store"
)

// Strategy is how retrieved chunks are presented to the model.
type Strategy string

const (
	StrategyEmpty        Strategy = "empty"
	StrategyWeakMatch    Strategy = "weak_match"
	StrategyFullDocument Strategy = "full_document"
	StrategyComparison   Strategy = "comparison"
	StrategyDefault      Strategy = "default"
	// StrategyUnavailable marks the fixed reply given when retrieval or generation failed.
	StrategyUnavailable  Strategy = "unavailable"
)

// Limits bounds context assembly.
type Limits struct {
	// WeakMatchChars is the retrieved text length below which results are
	// offered as related rather than answered from.
	WeakMatchChars   int
	WeakMatchSources int
	PreviewChars     int

	FullDocumentSections int
	FullDocumentChars    int
}

var DefaultLimits = Limits{
	WeakMatchChars:       200,
	WeakMatchSources:     3,
	PreviewChars:         300,
	FullDocumentSections: 30,
	FullDocumentChars:    25000,
}

type assembled struct {
	strategy  Strategy
	text      string
	sources   []string
	sections  int
	truncated bool
}

func assemble(ctx context.Context, vectors store.VectorRepository, intent Intent, results []model.SimilarDocument, limits Limits) (assembled, error) {
	if len(results) == 0 {
		return assembled{strategy: StrategyEmpty, text: "No hay documentos indexados todavía."}, nil
	}

	total := 0
	for _, r := range results {
		total += len([]rune(strings.TrimSpace(r.Text)))
	}
	if total < limits.WeakMatchChars {
		return weakMatch(results, limits), nil
	}

	switch intent {
	case IntentFullDocument:
		chunks, err := vectors.GetAllChunksBySource(ctx, results[0].Source)
		if err != nil {
			return assembled{}, fmt.Errorf("load document %s: %w", results[0].Source, err)
		}
		if len(chunks) > 0 {
			return fullDocument(chunks, limits), nil
		}
	case IntentComparison:
		return grouped(results), nil
	}
	return individual(results), nil
}

func fullDocument(chunks []model.DocumentChunk, limits Limits) assembled {
	first := chunks[0]
	var sb strings.Builder
	fmt.Fprintf(&sb, "Documento: %s\nTotal de secciones: %d\n", ingest.FormatSourceLink(first.Source, first.SourceURL), len(chunks))

	included, chars := 0, 0
	for _, c := range chunks {
		if len(chunks) > limits.FullDocumentSections && included > 0 {
			if included >= limits.FullDocumentSections || chars+len([]rune(c.Text)) > limits.FullDocumentChars {
				break
			}
		}
		fmt.Fprintf(&sb, "\n--- Sección %d de %d ---\n%s\n", c.ChunkIndex, len(chunks), c.Text)
		chars += len([]rune(c.Text))
		included++
	}

	out := assembled{strategy: StrategyFullDocument, sources: []string{first.Source}, sections: included}
	if included < len(chunks) {
		out.truncated = true
		fmt.Fprintf(&sb, "\n[Nota: el documento tiene %d secciones; por su extensión se incluyen solo las primeras %d.]\n", len(chunks), included)
	}
	out.text = sb.String()
	return out
}

func grouped(results []model.SimilarDocument) assembled {
	var order []string
	groups := make(map[string][]model.SimilarDocument)
	for _, r := range results {
		if _, ok := groups[r.Source]; !ok {
			order = append(order, r.Source)
		}
		groups[r.Source] = append(groups[r.Source], r)
	}

	var sb strings.Builder
	for _, src := range order {
		docs := groups[src]
		fmt.Fprintf(&sb, "### Documento: %s\n\n", ingest.FormatSourceLink(src, docs[0].SourceURL))
		for _, d := range docs {
			fmt.Fprintf(&sb, "- (sección %d de %d) %s\n\n", d.ChunkIndex, d.TotalChunks, strings.TrimSpace(d.Text))
		}
	}
	return assembled{strategy: StrategyComparison, text: sb.String(), sources: order, sections: len(results)}
}

func individual(results []model.SimilarDocument) assembled {
	var sb strings.Builder
	var sources []string
	seen := make(map[string]bool)
	for i, r := range results {
		if !seen[r.Source] {
			seen[r.Source] = true
			sources = append(sources, r.Source)
		}
		fmt.Fprintf(&sb, "[%d] %s\n(fuente: %s)\n\n", i+1, strings.TrimSpace(r.Text), ingest.FormatSourceLink(r.Source, r.SourceURL))
	}
	return assembled{strategy: StrategyDefault, text: sb.String(), sources: sources, sections: len(results)}
}

// weakMatch previews the best distinct sources.
func weakMatch(results []model.SimilarDocument, limits Limits) assembled {
	var sb strings.Builder
	var sources []string
	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.Source] {
			continue
		}
		seen[r.Source] = true
		sources = append(sources, r.Source)
		fmt.Fprintf(&sb, "- %s: %s\n", ingest.FormatSourceLink(r.Source, r.SourceURL), preview(r.Text, limits.PreviewChars))
		if len(sources) == limits.WeakMatchSources {
			break
		}
	}
	return assembled{strategy: StrategyWeakMatch, text: "Documentos relacionados (posiblemente no exactos):\n" + sb.String(), sources: sources, sections: len(sources)}
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
