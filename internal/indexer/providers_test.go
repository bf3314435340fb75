package indexer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dim int
	// vectors maps known text to a fixed vector so tests are deterministic.
	vectors map[string][]float32
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, f.dim), nil
}

func TestBasicProviderFindsSubstringCaseInsensitive(t *testing.T) {
	p := BuildBasic([]Doc{
		{ID: "a", Text: "The return policy covers 30 days."},
		{ID: "b", Text: "Shipping takes five business days."},
	})
	hits := p.Search("RETURN policy", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].DocID)
}

func TestBasicProviderEmptyQueryReturnsNoHits(t *testing.T) {
	p := BuildBasic([]Doc{{ID: "a", Text: "hello"}})
	assert.Empty(t, p.Search("   ", 10))
}

func TestBasicProviderRoundTripsThroughMarshal(t *testing.T) {
	p := BuildBasic([]Doc{{ID: "a", Text: "widget assembly instructions"}})
	data, err := p.Marshal()
	require.NoError(t, err)

	loaded, err := LoadBasic(data)
	require.NoError(t, err)
	hits := loaded.Search("widget", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].DocID)
}

func TestSparseProviderMatchesKeyword(t *testing.T) {
	ctx := context.Background()
	p, err := BuildSparse(ctx, []Doc{
		{ID: "a", Text: "refund requests are processed within five days"},
		{ID: "b", Text: "the warehouse ships orders every weekday"},
	})
	require.NoError(t, err)
	defer p.Close()

	hits, err := p.Search(ctx, "refund", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].DocID)
}

func TestSparseProviderEmptyQueryReturnsNoHits(t *testing.T) {
	ctx := context.Background()
	p, err := BuildSparse(ctx, []Doc{{ID: "a", Text: "hello world"}})
	require.NoError(t, err)
	defer p.Close()

	hits, err := p.Search(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSparseSourceRoundTripsThroughLoad(t *testing.T) {
	ctx := context.Background()
	docs := []Doc{{ID: "a", Text: "invoice payment terms are net thirty"}}
	data, err := MarshalSparseSource(docs)
	require.NoError(t, err)

	p, err := LoadSparse(ctx, data)
	require.NoError(t, err)
	defer p.Close()

	hits, err := p.Search(ctx, "invoice", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].DocID)
}

func TestDenseProviderFindsNearestNeighbor(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{
		dim: 3,
		vectors: map[string][]float32{
			"alpha content": {1, 0, 0},
			"beta content":  {0, 1, 0},
			"query near a":  {0.9, 0.1, 0},
		},
	}
	docs := []Doc{
		{ID: "a", Text: "alpha content"},
		{ID: "b", Text: "beta content"},
	}
	p, err := BuildDense(ctx, docs, emb)
	require.NoError(t, err)

	hits, err := p.Search(ctx, emb, "query near a", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].DocID)
}

func TestDenseProviderRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{dim: 3}
	p, err := BuildDense(ctx, nil, emb)
	require.NoError(t, err)

	badEmb := &fakeEmbedder{dim: 4, vectors: map[string][]float32{"q": {1, 2, 3, 4}}}
	_, err = p.Search(ctx, badEmb, "q", 5)
	var mismatch ErrDimensionMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestDenseProviderRoundTripsThroughMarshal(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{
		dim: 2,
		vectors: map[string][]float32{
			"only doc": {1, 1},
		},
	}
	p, err := BuildDense(ctx, []Doc{{ID: "a", Text: "only doc"}}, emb)
	require.NoError(t, err)

	data, err := p.Marshal()
	require.NoError(t, err)

	loaded, err := LoadDense(data)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Dimensions())

	hits, err := loaded.Search(ctx, emb, "only doc", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].DocID)
}
