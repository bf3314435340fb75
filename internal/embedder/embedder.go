// Package embedder provides the pluggable Embedder(text)->vector contract
// (spec.md §4.9 design note) plus a default, dependency-free
// implementation so the Indexer's DenseProvider has something real to run
// against when no external embedding service is configured.
package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// Embedder generates a fixed-dimension vector embedding for a piece of
// text. Production deployments plug in a model-backed implementation
// (e.g. an HTTP call to an embeddings API); this package's HashEmbedder is
// the default used when no such backend is configured.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Available(ctx context.Context) bool
}

const hashDimensions = 256

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "for": true, "on": true,
	"with": true, "as": true, "are": true, "was": true, "be": true,
	"this": true, "that": true, "at": true, "by": true, "from": true,
}

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// HashEmbedder is a hash-based embedder grounded on the teacher's
// StaticEmbedder: deterministic, offline, no network dependency. It trades
// semantic quality for availability, which keeps the dense provider usable
// even when no model-backed Embedder is configured.
type HashEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, hashDimensions), nil
	}
	return normalize(vectorize(trimmed)), nil
}

func (e *HashEmbedder) Dimensions() int { return hashDimensions }

func (e *HashEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *HashEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func vectorize(text string) []float32 {
	vec := make([]float32, hashDimensions)

	for _, tok := range tokenize(text) {
		vec[hashIndex(tok)] += 0.7
	}
	for _, tri := range trigrams(strings.ToLower(text)) {
		vec[hashIndex(tri)] += 0.3
	}
	return vec
}

func tokenize(text string) []string {
	var tokens []string
	for _, w := range tokenRegex.FindAllString(text, -1) {
		lower := strings.ToLower(w)
		if lower != "" && !stopWords[lower] {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

func trigrams(s string) []string {
	var letters strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			letters.WriteRune(r)
		}
	}
	joined := letters.String()
	if len(joined) < 3 {
		return nil
	}
	grams := make([]string, 0, len(joined)-2)
	for i := 0; i <= len(joined)-3; i++ {
		grams = append(grams, joined[i:i+3])
	}
	return grams
}

func hashIndex(s string) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(hashDimensions))
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	mag := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / mag)
	}
	return out
}
