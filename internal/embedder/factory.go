package embedder

import (
	"context"
	"log/slog"

	"github.com/kbservice/kbquery/internal/config"
)

// New builds the Embedder configured for a deployment. Only HashEmbedder
// ships in this repo (spec.md's Embedder is an external/pluggable
// collaborator); a deployment with a model-backed embedding service
// substitutes its own Embedder satisfying this package's interface and
// skips this factory entirely.
//
// Adapted from the teacher's internal/embed/factory.go fallback-ladder
// idiom: construction never fails outright, it degrades to the static
// fallback and logs the degradation instead.
func New(ctx context.Context, cfg config.EmbedderConfig) Embedder {
	base := NewHashEmbedder()
	if !base.Available(ctx) {
		slog.Warn("embedder_unavailable", slog.String("model", cfg.Model))
	}
	return NewCachedEmbedder(base, defaultCacheSize)
}
