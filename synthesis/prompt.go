package synthesis

import (
	"fmt"
	"strings"

	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/core"
)

// Fixed answers.
const (
	// InsufficientInformation is returned without calling the model when
	// retrieval found nothing usable.
	InsufficientInformation = "I cannot find enough relevant information to answer this question."

	// Refusal is the exact sentence the model is told to use when the
	// passages do not answer the question.
	Refusal = "I cannot answer this based on the provided documents."
)

const systemPrompt = `You are a helpful assistant that answers questions using only the numbered context passages you are given.

Instructions:
1. Answer based ONLY on the provided context. Do not use outside knowledge.
2. If the answer cannot be found in the context, reply exactly: "` + Refusal + `"
3. Cite the passages you use inline with their numbers, like [1] or [2, 3].
4. Be concise and direct.`

// BuildPrompt presents each candidate under its 1-based citation index,
// in the order given.
func BuildPrompt(question string, candidates []*core.Candidate) ai.Prompt {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, sourceLabel(c), strings.TrimSpace(c.Chunk.Text))
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\nAnswer:", strings.TrimSpace(question))
	return ai.Prompt{System: systemPrompt, User: b.String()}
}

// sourceLabel names where a passage comes from.
func sourceLabel(c *core.Candidate) string {
	title := c.DocumentTitle
	if title == "" {
		title = fmt.Sprintf("document %d", c.Chunk.DocumentId)
	}
	if c.Chunk.Header != "" && c.Chunk.Header != title {
		return fmt.Sprintf("(source: %s, section: %s)", title, c.Chunk.Header)
	}
	return fmt.Sprintf("(source: %s)", title)
}
