package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbservice/kbquery/internal/embedder"
	"github.com/kbservice/kbquery/internal/indexer"
	"github.com/kbservice/kbquery/internal/indexmgr"
	"github.com/kbservice/kbquery/internal/store"
)

// Kind distinguishes a Source's origin record type.
type Kind string

const (
	KindFAQ Kind = "faq"
	KindKB  Kind = "kb"
)

// Source is one retrieved item, per spec.md §4.6: "Source{id, kind, title,
// excerpt, score, attachment_url?}".
type Source struct {
	ID            string
	Kind          Kind
	Title         string
	Excerpt       string
	Score         float64
	AttachmentURL string // empty if the source has no attachment
}

// RecordLookup resolves KB/FAQ records for a project so the retriever can
// build excerpts without depending on the full Storage interface.
type RecordLookup interface {
	ListKB(ctx context.Context, projectID string) ([]store.KB, error)
	ListFAQs(ctx context.Context, projectID string) ([]store.FAQ, error)
}

// Retriever is the C6 component: hybrid search over a project's current
// index snapshot, fused via Reciprocal Rank Fusion.
type Retriever struct {
	manager  *indexmgr.Manager
	lookup   RecordLookup
	embedder embedder.Embedder
	fusion   *Fusion
}

func New(manager *indexmgr.Manager, lookup RecordLookup, emb embedder.Embedder) *Retriever {
	return &Retriever{manager: manager, lookup: lookup, embedder: emb, fusion: NewFusion()}
}

// Retrieve implements spec.md §4.6's algorithm end to end.
func (r *Retriever) Retrieve(ctx context.Context, projectID, queryText string, k int) ([]Source, error) {
	snap, err := r.manager.Snapshot(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer snap.Release()

	topN := k * 4
	if topN < 20 {
		topN = 20
	}

	var denseHits, sparseHits []RankedHit
	if snap.Dense != nil && r.embedder != nil && r.embedder.Available(ctx) {
		hits, err := snap.Dense.Search(ctx, denseAdapter{r.embedder}, queryText, topN)
		if err == nil {
			denseHits = toRanked(hits)
		}
		// Dense failure falls back through the ladder without error
		// (spec.md §4.6: "Dense unavailability... fall back... without error").
	}
	if snap.Sparse != nil {
		hits, err := snap.Sparse.Search(ctx, queryText, topN)
		if err == nil {
			sparseHits = toRanked(hits)
		}
	}
	var basicHits []RankedHit
	if snap.Basic != nil {
		basicHits = toRanked(snap.Basic.Search(queryText, topN))
	}

	fused := r.fusion.Fuse(denseHits, sparseHits, basicHits)

	kbs, err := r.lookup.ListKB(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list kb: %w", err)
	}
	faqs, err := r.lookup.ListFAQs(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list faqs: %w", err)
	}

	byID := make(map[string]Candidate, len(kbs)+len(faqs))
	kbByID := make(map[string]store.KB, len(kbs))
	faqByID := make(map[string]store.FAQ, len(faqs))
	for _, kb := range kbs {
		byID[kb.ID] = Candidate{ID: kb.ID, ParentDocumentID: kb.ParentDocumentID, ChunkIndex: kb.ChunkIndex}
		kbByID[kb.ID] = kb
	}
	for _, f := range faqs {
		byID[f.ID] = Candidate{ID: f.ID}
		faqByID[f.ID] = f
	}

	deduped := Dedup(fused, byID)
	truncated := Truncate(deduped, byID, k, DefaultScoreFloor)

	sources := make([]Source, 0, len(truncated))
	for _, f := range truncated {
		if kb, ok := kbByID[f.ID]; ok {
			attachmentURL := ""
			if kb.AttachmentID != "" {
				attachmentURL = fmt.Sprintf("/v1/projects/%s/kb/%s", projectID, kb.ID)
			}
			sources = append(sources, Source{
				ID:            kb.ID,
				Kind:          KindKB,
				Title:         kb.ArticleTitle,
				Excerpt:       excerptOf(kb.Content),
				Score:         f.FusedScore,
				AttachmentURL: attachmentURL,
			})
			continue
		}
		if faq, ok := faqByID[f.ID]; ok {
			sources = append(sources, Source{
				ID:      faq.ID,
				Kind:    KindFAQ,
				Title:   faq.Question,
				Excerpt: excerptOf(faq.Answer),
				Score:   f.FusedScore,
			})
		}
	}
	return sources, nil
}

const excerptMaxLen = 400

func excerptOf(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= excerptMaxLen {
		return text
	}
	return strings.TrimSpace(text[:excerptMaxLen]) + "..."
}

func toRanked(hits []indexer.Hit) []RankedHit {
	out := make([]RankedHit, len(hits))
	for i, h := range hits {
		out[i] = RankedHit{ID: h.DocID, Score: h.Score}
	}
	return out
}

// denseAdapter bridges this package's embedder.Embedder to the indexer
// package's local Embedder interface, mirroring indexmgr's own adapter.
type denseAdapter struct {
	inner embedder.Embedder
}

func (a denseAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.inner.Embed(ctx, text)
}

func (a denseAdapter) Dimensions() int { return a.inner.Dimensions() }
