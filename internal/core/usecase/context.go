package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

const answerSystemPrompt = `You answer questions using only the provided context passages.
Cite passages by their [Doc N] marker. If the context is insufficient, say so directly.`

// BuildContext renders retrieved passages for the answer prompt.
func BuildContext(items []domain.RetrievedPassage) string {
	parts := make([]string, 0, len(items))
	for i, item := range items {
		var b strings.Builder
		fmt.Fprintf(&b, "[Doc %d] (fused=%.3f", i+1, item.Result.Score)
		if item.Result.RerankScore != nil {
			fmt.Fprintf(&b, ", rerank=%.3f", *item.Result.RerankScore)
		}
		fmt.Fprintf(&b, ") source: %s", item.Citation.SourceLabel)
		if item.Citation.Page != nil {
			fmt.Fprintf(&b, " | page: %d", *item.Citation.Page)
		}
		if item.Citation.ChunkCount > 0 {
			fmt.Fprintf(&b, " | chunk: %d/%d", item.Citation.ChunkIndex, item.Citation.ChunkCount)
		}
		b.WriteString("\ncontent: ")
		b.WriteString(item.Result.Passage.Text)
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n")
}

// FormatSources renders one display line per citation.
func FormatSources(items []domain.RetrievedPassage) []string {
	out := make([]string, 0, len(items))
	for i, item := range items {
		line := fmt.Sprintf("%d. %s | page: %s", i+1, item.Citation.SourceLabel, item.Citation.PageLabel())
		if item.Citation.ChunkCount > 0 {
			line += fmt.Sprintf(" | chunk: %d/%d", item.Citation.ChunkIndex, item.Citation.ChunkCount)
		}
		if item.Citation.Preview != "" {
			line += "\n   " + item.Citation.Preview
		}
		out = append(out, line)
	}
	return out
}

func buildUserPrompt(contextText, question string) string {
	if strings.TrimSpace(contextText) == "" {
		return fmt.Sprintf(`No relevant context was found.

Question: %s

Tell the user that the question cannot be answered from the available information.`, question)
	}
	return fmt.Sprintf(`Context:
%s

Question: %s

Answer the question using the context above.`, contextText, question)
}
