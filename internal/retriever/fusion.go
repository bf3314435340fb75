// Package retriever fuses the Indexer's dense, sparse, and basic
// provider hits into a single ranked, deduplicated source list via
// Reciprocal Rank Fusion (spec.md §4.6, C6). Ported from the teacher's
// internal/search/fusion.go RRF implementation, generalized from two
// lists (BM25 + vector) to three (dense + sparse + basic) and extended
// with the document-level dedup step KB chunking requires.
package retriever

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter (k=60, used
// by Azure AI Search, OpenSearch, and the teacher's own fusion code).
const DefaultRRFConstant = 60

// DefaultScoreFloor matches spec.md §4.6 step 7: "filter out items with
// fused_score below a configured floor (default: fused_score < 1/120)".
const DefaultScoreFloor = 1.0 / 120.0

// RankedHit is one provider's scored match for a candidate id.
type RankedHit struct {
	ID    string
	Score float64
}

// Candidate carries enough context to dedup and tie-break past fusion.
type Candidate struct {
	ID               string
	ParentDocumentID string // empty when the id has no parent document
	ChunkIndex       int
}

// FusedResult is one candidate's combined score plus provenance.
type FusedResult struct {
	ID          string
	FusedScore  float64
	DenseRank   int // 1-indexed; 0 if absent from the dense list
	SparseRank  int
	BasicRank   int
	InMultiple  bool
}

// Fusion combines up to three ranked lists using Reciprocal Rank Fusion.
type Fusion struct {
	K int
}

func NewFusion() *Fusion {
	return &Fusion{K: DefaultRRFConstant}
}

// Fuse implements spec.md §4.6 step 5: for each candidate id,
// fused_score = Σ 1/(K+rank_i) summed over the lists it appears in.
// Lists that are nil (provider unavailable) simply contribute nothing;
// callers never need to branch on which providers exist.
func (f *Fusion) Fuse(dense, sparse, basic []RankedHit) []*FusedResult {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	scores := make(map[string]*FusedResult)
	getOrCreate := func(id string) *FusedResult {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &FusedResult{ID: id}
		scores[id] = r
		return r
	}

	apply := func(hits []RankedHit, setRank func(*FusedResult, int)) {
		for i, h := range hits {
			r := getOrCreate(h.ID)
			rank := i + 1
			setRank(r, rank)
			r.FusedScore += 1.0 / float64(k+rank)
		}
	}
	apply(dense, func(r *FusedResult, rank int) { r.DenseRank = rank })
	apply(sparse, func(r *FusedResult, rank int) { r.SparseRank = rank })
	apply(basic, func(r *FusedResult, rank int) { r.BasicRank = rank })

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		listsHit := 0
		if r.DenseRank > 0 {
			listsHit++
		}
		if r.SparseRank > 0 {
			listsHit++
		}
		if r.BasicRank > 0 {
			listsHit++
		}
		r.InMultiple = listsHit > 1
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].FusedScore > results[j].FusedScore ||
			(results[i].FusedScore == results[j].FusedScore && results[i].ID < results[j].ID)
	})
	return results
}

// Dedup collapses results with the same parent_document_id into a single
// entry, keeping the highest-ranked chunk's id (spec.md §4.6 step 6).
// Results without a parent document (standalone KB records, FAQs) pass
// through unchanged. ids not present in byID are dropped rather than
// panicking, so a stale fused result never crashes the pipeline.
func Dedup(results []*FusedResult, byID map[string]Candidate) []*FusedResult {
	seenDoc := make(map[string]bool)
	out := make([]*FusedResult, 0, len(results))
	for _, r := range results {
		c, ok := byID[r.ID]
		if !ok {
			continue
		}
		if c.ParentDocumentID == "" {
			out = append(out, r)
			continue
		}
		if seenDoc[c.ParentDocumentID] {
			continue
		}
		seenDoc[c.ParentDocumentID] = true
		out = append(out, r)
	}
	return out
}

// Truncate applies spec.md §4.6 step 7: drop results below floor, then
// cap the list at k. Tie-breaking by chunk_index then id (spec.md §4.6's
// "Tie-break") is applied here since it needs Candidate context fusion
// doesn't carry.
func Truncate(results []*FusedResult, byID map[string]Candidate, k int, floor float64) []*FusedResult {
	filtered := make([]*FusedResult, 0, len(results))
	for _, r := range results {
		if r.FusedScore >= floor {
			filtered = append(filtered, r)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		ca, cb := byID[a.ID], byID[b.ID]
		if ca.ChunkIndex != cb.ChunkIndex {
			return ca.ChunkIndex < cb.ChunkIndex
		}
		return a.ID < b.ID
	})

	if k > 0 && len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered
}
