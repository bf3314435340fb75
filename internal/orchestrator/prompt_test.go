package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbservice/kbquery/internal/retriever"
)

func TestComposePromptIncludesQuestionAndSources(t *testing.T) {
	sources := []retriever.Source{
		{Title: "Returns", Excerpt: "Thirty day window."},
	}
	prompt := composePrompt("How long is the return window?", sources, nil)
	assert.Contains(t, prompt, "Returns")
	assert.Contains(t, prompt, "Thirty day window.")
	assert.Contains(t, prompt, "How long is the return window?")
}

func TestComposePromptAppendsToolResultsAfterSources(t *testing.T) {
	sources := []retriever.Source{{Title: "Returns", Excerpt: "Thirty days."}}
	toolsUsed := []ToolUsage{{Tool: "datetime", Success: true, Data: "2026-07-30T00:00:00Z"}}
	prompt := composePrompt("what time is it", sources, toolsUsed)
	assert.Contains(t, prompt, "datetime result")

	sourceIdx := strings.Index(prompt, "Returns")
	toolIdx := strings.Index(prompt, "datetime result")
	require.True(t, sourceIdx < toolIdx, "tool references must follow sources")
}

func TestComposePromptTruncatesEarliestExcerptsFirstUnderCap(t *testing.T) {
	long := strings.Repeat("x", maxPromptChars)
	sources := []retriever.Source{
		{Title: "first", Excerpt: long},
		{Title: "second", Excerpt: "short excerpt"},
	}
	prompt := composePrompt("question", sources, nil)
	assert.LessOrEqual(t, len(prompt), maxPromptChars)
	assert.Contains(t, prompt, "second")
	assert.Contains(t, prompt, "short excerpt", "later sources are preserved while earlier ones shrink")
}

func TestComposePromptNeverDropsASourceEntirely(t *testing.T) {
	sources := make([]retriever.Source, 5)
	for i := range sources {
		sources[i] = retriever.Source{Title: "s", Excerpt: strings.Repeat("y", maxPromptChars)}
	}
	prompt := composePrompt("q", sources, nil)
	assert.Equal(t, 5, strings.Count(prompt, "] s:"))
}

func TestTruncateEarliestReturnsFalseWhenAllEmpty(t *testing.T) {
	excerpts := []string{"", ""}
	assert.False(t, truncateEarliest(excerpts))
}
