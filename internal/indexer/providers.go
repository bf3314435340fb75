// Package indexer builds the per-project search artifacts (dense, sparse,
// basic) that the retriever fuses at query time (spec.md §4.4, C4). Each
// provider builds a self-contained, serializable artifact from a snapshot
// of KB/FAQ records; none of them mutate shared state, so builds are pure
// functions of their input and can run off the request path.
package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/coder/hnsw"
)

// Doc is one unit of indexable content: a KB chunk or an FAQ, addressed by
// its record id and carrying the project-scoped parent_document_id used for
// retrieval-time dedup.
type Doc struct {
	ID               string
	ParentDocumentID string
	Text             string
}

// Hit is a single provider's scored match for a document id.
type Hit struct {
	DocID string
	Score float64
}

// Embedder produces a dense vector embedding for a unit of text. The
// production embedder lives in internal/embedder; this interface keeps the
// dense provider decoupled from any one embedding backend.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// --- Basic provider: mandatory case-insensitive substring fallback ---

// BasicProvider is always built, regardless of whether embeddings or bleve
// are available, so query answers never depend on an external service
// succeeding (spec.md §4.4: "the basic substring fallback is mandatory").
type BasicProvider struct {
	docs []Doc
}

func BuildBasic(docs []Doc) *BasicProvider {
	return &BasicProvider{docs: docs}
}

// Search scores each document by the fraction of query tokens it contains
// (spec.md §4.6 step 4: "score = (count of query tokens appearing in
// record) / (token count of query)"), substring-matched case-insensitively
// per token.
func (p *BasicProvider) Search(query string, limit int) []Hit {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	if len(tokens) == 0 {
		return nil
	}

	var hits []Hit
	for _, d := range p.docs {
		lower := strings.ToLower(d.Text)
		matched := 0
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(tokens))
		hits = append(hits, Hit{DocID: d.ID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (p *BasicProvider) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p.docs); err != nil {
		return nil, fmt.Errorf("marshal basic provider: %w", err)
	}
	return buf.Bytes(), nil
}

func LoadBasic(data []byte) (*BasicProvider, error) {
	var docs []Doc
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&docs); err != nil {
		return nil, fmt.Errorf("unmarshal basic provider: %w", err)
	}
	return &BasicProvider{docs: docs}, nil
}

// --- Sparse provider: bleve BM25 over KB/FAQ text ---

// bleveDoc is the document shape indexed by bleve; it carries only the
// text content since ids are tracked by bleve natively.
type bleveDoc struct {
	Content string `json:"content"`
}

// SparseProvider wraps an in-memory bleve index for BM25 keyword search,
// generalized from the teacher's internal/store/bm25.go code-search index
// to prose KB/FAQ content (default analyzer, no code tokenizer).
type SparseProvider struct {
	index bleve.Index
}

func BuildSparse(ctx context.Context, docs []Doc) (*SparseProvider, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}

	batch := idx.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, bleveDoc{Content: d.Text}); err != nil {
			return nil, fmt.Errorf("batch index %s: %w", d.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("execute bleve batch: %w", err)
	}
	return &SparseProvider{index: idx}, nil
}

func (p *SparseProvider) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	result, err := p.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{DocID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func (p *SparseProvider) Close() error {
	return p.index.Close()
}

// Bleve's disk format isn't a portable byte slice, so the sparse artifact
// is persisted as a re-indexable snapshot of the source docs rather than a
// serialized index; BuildSparse is cheap enough (in-memory bleve, no disk
// I/O) to re-run on load.
func MarshalSparseSource(docs []Doc) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(docs); err != nil {
		return nil, fmt.Errorf("marshal sparse source: %w", err)
	}
	return buf.Bytes(), nil
}

func LoadSparse(ctx context.Context, data []byte) (*SparseProvider, error) {
	var docs []Doc
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&docs); err != nil {
		return nil, fmt.Errorf("unmarshal sparse source: %w", err)
	}
	return BuildSparse(ctx, docs)
}

// --- Dense provider: coder/hnsw ANN index over Embedder output ---

// DenseProvider wraps a coder/hnsw graph keyed by a string->uint64 id
// mapping, adapted from the teacher's internal/store/hnsw.go HNSWStore.
type DenseProvider struct {
	graph      *hnsw.Graph[uint64]
	idMap      map[string]uint64
	keyMap     map[uint64]string
	nextKey    uint64
	dimensions int
}

// ErrDimensionMismatch is returned when a vector's dimensionality doesn't
// match the index's configured dimensionality (spec.md §9 supplemented
// dimension-mismatch detection). It does not trigger a rebuild; the
// retriever treats any dense search error as the dense list being absent.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dense provider: expected %d dimensions, got %d", e.Expected, e.Got)
}

func BuildDense(ctx context.Context, docs []Doc, embedder Embedder) (*DenseProvider, error) {
	p := &DenseProvider{
		graph:      newGraph(),
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
		dimensions: embedder.Dimensions(),
	}
	for _, d := range docs {
		vec, err := embedder.Embed(ctx, d.Text)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", d.ID, err)
		}
		if len(vec) != p.dimensions {
			return nil, ErrDimensionMismatch{Expected: p.dimensions, Got: len(vec)}
		}
		p.add(d.ID, vec)
	}
	return p, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

func (p *DenseProvider) add(id string, vec []float32) {
	normalizeVectorInPlace(vec)
	key := p.nextKey
	p.nextKey++
	p.idMap[id] = key
	p.keyMap[key] = id
	p.graph.Add(hnsw.MakeNode(key, vec))
}

func (p *DenseProvider) Search(ctx context.Context, embedder Embedder, query string, limit int) ([]Hit, error) {
	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != p.dimensions {
		return nil, ErrDimensionMismatch{Expected: p.dimensions, Got: len(vec)}
	}
	normalizeVectorInPlace(vec)

	if p.graph.Len() == 0 {
		return nil, nil
	}
	neighbors := p.graph.Search(vec, limit)
	hits := make([]Hit, 0, len(neighbors))
	for _, n := range neighbors {
		id, ok := p.keyMap[n.Key]
		if !ok {
			continue // lazily-deleted key, orphaned on update
		}
		distance := p.graph.Distance(vec, n.Value)
		hits = append(hits, Hit{DocID: id, Score: 1 - float64(distance)/2})
	}
	return hits, nil
}

func (p *DenseProvider) Dimensions() int { return p.dimensions }

type denseMeta struct {
	Dimensions int
	IDMap      map[string]uint64
	NextKey    uint64
}

// Marshal persists the graph via coder/hnsw's own Export format (matching
// the teacher's HNSWStore.Save idiom) alongside a gob-encoded id mapping,
// concatenated as a length-prefixed pair so both halves round-trip through
// the single artifact blob the Storage interface expects.
func (p *DenseProvider) Marshal() ([]byte, error) {
	var graphBuf bytes.Buffer
	if err := p.graph.Export(&graphBuf); err != nil {
		return nil, fmt.Errorf("export hnsw graph: %w", err)
	}

	var metaBuf bytes.Buffer
	meta := denseMeta{Dimensions: p.dimensions, IDMap: p.idMap, NextKey: p.nextKey}
	if err := gob.NewEncoder(&metaBuf).Encode(meta); err != nil {
		return nil, fmt.Errorf("encode dense meta: %w", err)
	}

	var out bytes.Buffer
	if err := writeFrame(&out, metaBuf.Bytes()); err != nil {
		return nil, err
	}
	if err := writeFrame(&out, graphBuf.Bytes()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func LoadDense(data []byte) (*DenseProvider, error) {
	r := bytes.NewReader(data)
	metaBytes, err := readFrame(r)
	if err != nil {
		return nil, fmt.Errorf("read dense meta frame: %w", err)
	}
	graphBytes, err := readFrame(r)
	if err != nil {
		return nil, fmt.Errorf("read dense graph frame: %w", err)
	}

	var meta denseMeta
	if err := gob.NewDecoder(bytes.NewReader(metaBytes)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode dense meta: %w", err)
	}

	p := &DenseProvider{
		graph:      newGraph(),
		idMap:      meta.IDMap,
		keyMap:     make(map[uint64]string, len(meta.IDMap)),
		nextKey:    meta.NextKey,
		dimensions: meta.Dimensions,
	}
	for id, key := range meta.IDMap {
		p.keyMap[key] = id
	}
	if err := p.graph.Import(bufio.NewReader(bytes.NewReader(graphBytes))); err != nil {
		return nil, fmt.Errorf("import hnsw graph: %w", err)
	}
	return p, nil
}

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func writeFrame(w *bytes.Buffer, b []byte) error {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readFrame(r *bytes.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
