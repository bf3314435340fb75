// Package completer provides the pluggable Completer contract (spec.md
// §1, §4.8 step 5) plus the deterministic fallback answer used when no
// external LLM is configured or the call fails.
package completer

import (
	"context"
	"fmt"
	"strings"
)

// Completer turns a composed prompt into an answer. Production
// deployments plug in a call to an external LLM service; this package
// ships no such implementation (spec.md treats the LLM call as an
// external pluggable collaborator, not something this repo builds).
type Completer interface {
	Complete(ctx context.Context, prompt string) (answer string, model string, err error)
}

// Source is an excerpt available to the deterministic fallback, mirroring
// the retriever's fused source shape closely enough to build an answer
// without importing the retriever package.
type Source struct {
	Excerpt string
}

// ErrUnavailable is returned by the Go-API caller when no Completer is wired
// in; QueryOrchestrator treats it the same as any other Completer failure
// and falls back to Fallback.
var ErrUnavailable = fmt.Errorf("no completer configured")

// Fallback implements spec.md §4.8 step 5's deterministic answer: "On
// Completer absence/failure, produce a deterministic fallback answer:
// concatenate the top source excerpts separated by newlines, prefixed
// with a one-sentence acknowledgement; mark model=null."
func Fallback(sources []Source) (answer string, model *string) {
	if len(sources) == 0 {
		return "I couldn't find anything relevant in the knowledge base for this question.", nil
	}

	var b strings.Builder
	b.WriteString("Here is what I found in the knowledge base.\n")
	for _, s := range sources {
		b.WriteString(strings.TrimSpace(s.Excerpt))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
