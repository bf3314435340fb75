package retriever

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRanksDocumentInAllListsHighest(t *testing.T) {
	f := NewFusion()
	dense := []RankedHit{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.5}}
	sparse := []RankedHit{{ID: "a", Score: 10}, {ID: "c", Score: 5}}
	basic := []RankedHit{{ID: "a", Score: 1}}

	results := f.Fuse(dense, sparse, basic)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
	assert.True(t, results[0].InMultiple)
}

func TestFuseHandlesEmptyLists(t *testing.T) {
	f := NewFusion()
	results := f.Fuse(nil, nil, nil)
	assert.Empty(t, results)
}

func TestFuseOnlyBasicListStillRanks(t *testing.T) {
	f := NewFusion()
	results := f.Fuse(nil, nil, []RankedHit{{ID: "x", Score: 1}})
	require.Len(t, results, 1)
	assert.Equal(t, "x", results[0].ID)
	assert.False(t, results[0].InMultiple)
}

func TestFuseTieBreaksByID(t *testing.T) {
	f := NewFusion()
	// Each appears in exactly one list at rank 1, so identical RRF score.
	results := f.Fuse([]RankedHit{{ID: "zebra", Score: 1}}, []RankedHit{{ID: "apple", Score: 1}}, nil)
	require.Len(t, results, 2)
	assert.Equal(t, "apple", results[0].ID)
	assert.Equal(t, "zebra", results[1].ID)
}

func TestDedupCollapsesSharedParentDocument(t *testing.T) {
	results := []*FusedResult{
		{ID: "chunk1", FusedScore: 0.5},
		{ID: "chunk2", FusedScore: 0.4},
	}
	byID := map[string]Candidate{
		"chunk1": {ID: "chunk1", ParentDocumentID: "doc1", ChunkIndex: 0},
		"chunk2": {ID: "chunk2", ParentDocumentID: "doc1", ChunkIndex: 1},
	}
	deduped := Dedup(results, byID)
	require.Len(t, deduped, 1)
	assert.Equal(t, "chunk1", deduped[0].ID)
}

func TestDedupKeepsStandaloneRecords(t *testing.T) {
	results := []*FusedResult{{ID: "faq1", FusedScore: 0.5}}
	byID := map[string]Candidate{"faq1": {ID: "faq1"}}
	deduped := Dedup(results, byID)
	require.Len(t, deduped, 1)
}

func TestTruncateFiltersBelowFloorAndCapsLength(t *testing.T) {
	results := []*FusedResult{
		{ID: "a", FusedScore: 0.9},
		{ID: "b", FusedScore: 0.001},
		{ID: "c", FusedScore: 0.5},
	}
	byID := map[string]Candidate{
		"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"},
	}
	out := Truncate(results, byID, 2, DefaultScoreFloor)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
}

func TestTruncateTieBreaksByChunkIndexThenID(t *testing.T) {
	results := []*FusedResult{
		{ID: "z", FusedScore: 0.5},
		{ID: "a", FusedScore: 0.5},
	}
	byID := map[string]Candidate{
		"z": {ID: "z", ChunkIndex: 0},
		"a": {ID: "a", ChunkIndex: 1},
	}
	out := Truncate(results, byID, 10, 0)
	require.Len(t, out, 2)
	assert.Equal(t, "z", out[0].ID, "lower chunk_index wins the tie")
}
