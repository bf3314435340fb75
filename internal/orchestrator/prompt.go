package orchestrator

import (
	"fmt"
	"strings"

	"github.com/kbservice/kbquery/internal/retriever"
)

const systemIdentity = "You are a knowledge base assistant. Answer the question using only the numbered sources and references below."

// composePrompt implements spec.md §4.8 step 4: system identity string,
// numbered sources (title + excerpt), tool results as additional numbered
// references, then the question — capped at maxPromptChars by truncating
// the earliest source excerpts first. Sources are never dropped: if the
// prompt still exceeds the cap with every excerpt emptied, it is returned
// over the cap.
func composePrompt(question string, sources []retriever.Source, toolsUsed []ToolUsage) string {
	excerpts := make([]string, len(sources))
	for i, s := range sources {
		excerpts[i] = s.Excerpt
	}

	for {
		prompt := renderPrompt(question, sources, excerpts, toolsUsed)
		if len(prompt) <= maxPromptChars {
			return prompt
		}
		if !truncateEarliest(excerpts) {
			return prompt
		}
	}
}

// truncateEarliest shortens the first non-empty excerpt (in source order)
// by half, rounding down. Returns false once every excerpt is empty.
func truncateEarliest(excerpts []string) bool {
	for i, e := range excerpts {
		if e == "" {
			continue
		}
		next := len(e) / 2
		excerpts[i] = strings.TrimSpace(e[:next])
		return true
	}
	return false
}

func renderPrompt(question string, sources []retriever.Source, excerpts []string, toolsUsed []ToolUsage) string {
	var b strings.Builder
	b.WriteString(systemIdentity)
	b.WriteString("\n\n")

	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, s.Title, excerpts[i])
	}

	refIndex := len(sources) + 1
	for _, t := range toolsUsed {
		if !t.Success {
			continue
		}
		fmt.Fprintf(&b, "[%d] %s result: %v\n", refIndex, t.Tool, t.Data)
		refIndex++
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}
