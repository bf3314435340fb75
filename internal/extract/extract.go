// Package extract converts uploaded bytes and a declared MIME type into
// normalized text chunks (spec.md §4.3, C3). It is deliberately a thin
// interface: production deployments may plug in a richer PDF/DOCX layout
// parser; this package only guarantees the contract and a usable default.
package extract

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/kbservice/kbquery/internal/errs"
)

// Chunk is one ordered fragment of an extracted document.
type Chunk struct {
	ChunkIndex int
	Text       string
}

// Metadata describes extraction-level facts not carried per chunk.
type Metadata struct {
	PageCount *int
	WordCount int
}

// Extractor converts raw bytes of a declared MIME type into ordered chunks.
type Extractor interface {
	Extract(bytes []byte, mime, desiredTitle string) ([]Chunk, Metadata, error)
}

const (
	targetChunkSize = 1200
	chunkTolerance  = 200
	maxChunkSize    = 2400
)

var (
	mu       sync.RWMutex
	registry = map[string]Extractor{}
)

func init() {
	text := TextExtractor{}
	RegisterMime("text/plain", text)
	RegisterMime("text/markdown", text)
	RegisterMime("application/pdf", PDFExtractor{})
	RegisterMime("application/vnd.openxmlformats-officedocument.wordprocessingml.document", DOCXExtractor{})
}

// RegisterMime installs or replaces the Extractor used for mime. Deployments
// that embed a richer PDF/DOCX layout engine call this at startup.
func RegisterMime(mime string, e Extractor) {
	mu.Lock()
	defer mu.Unlock()
	registry[mime] = e
}

// Extract dispatches to the Extractor registered for mime, returning
// errs.UnsupportedMime if none is registered.
func Extract(bytes []byte, mime, desiredTitle string) ([]Chunk, Metadata, error) {
	mu.RLock()
	e, ok := registry[mime]
	mu.RUnlock()
	if !ok {
		return nil, Metadata{}, errs.New(errs.UnsupportedMime, fmt.Sprintf("no extractor registered for mime %q", mime))
	}
	if len(bytes) == 0 {
		return nil, Metadata{}, errs.New(errs.EmptyContent, "uploaded document has no content")
	}
	return e.Extract(bytes, mime, desiredTitle)
}

// TextExtractor implements the text MIME rule: a single chunk equal to the
// UTF-8 decoded content (spec.md §4.3: "Text MIME: single chunk equal to
// the UTF-8 decoded content").
type TextExtractor struct{}

func (TextExtractor) Extract(data []byte, mime, desiredTitle string) ([]Chunk, Metadata, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, Metadata{}, errs.New(errs.EmptyContent, "document has no extractable content")
	}
	return []Chunk{{ChunkIndex: 0, Text: text}}, Metadata{WordCount: countWords(text)}, nil
}

// PDFExtractor is a minimal built-in PDF text-layer extractor: it looks for
// a plain-text layer separated by form-feed page breaks. Deployments that
// need real PDF layout parsing register their own Extractor for this mime
// via RegisterMime; bytes this extractor can't make sense of degrade to
// errs.UnsupportedMime rather than silently returning garbage.
type PDFExtractor struct{}

func (PDFExtractor) Extract(data []byte, mime, desiredTitle string) ([]Chunk, Metadata, error) {
	if !looksLikeExtractableText(data) {
		return nil, Metadata{}, errs.New(errs.UnsupportedMime, "pdf has no recoverable text layer")
	}
	pages := splitPages(string(data))
	pageCount := len(pages)
	chunks, wordCount := chunkParagraphs(pages)
	if len(chunks) == 0 {
		return nil, Metadata{}, errs.New(errs.EmptyContent, "pdf text layer is empty")
	}
	return chunks, Metadata{PageCount: &pageCount, WordCount: wordCount}, nil
}

// DOCXExtractor mirrors PDFExtractor's contract for a plain-text stand-in
// of DOCX content; a deployment needing true OOXML parsing overrides the
// mime registration with its own implementation.
type DOCXExtractor struct{}

func (DOCXExtractor) Extract(data []byte, mime, desiredTitle string) ([]Chunk, Metadata, error) {
	if !looksLikeExtractableText(data) {
		return nil, Metadata{}, errs.New(errs.UnsupportedMime, "docx has no recoverable text layer")
	}
	chunks, wordCount := chunkParagraphs([]string{string(data)})
	if len(chunks) == 0 {
		return nil, Metadata{}, errs.New(errs.EmptyContent, "docx text layer is empty")
	}
	return chunks, Metadata{WordCount: wordCount}, nil
}

func looksLikeExtractableText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	printable, total := 0, 0
	for _, r := range string(data) {
		total++
		if r != utf8.RuneError && (unicode.IsPrint(r) || unicode.IsSpace(r)) {
			printable++
		}
		if total >= 4096 {
			break
		}
	}
	return total > 0 && float64(printable)/float64(total) > 0.85
}

func splitPages(text string) []string {
	pages := strings.Split(text, "\f")
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// chunkParagraphs implements spec.md §4.3's PDF/DOCX splitting rule:
// "extract plain text preserving paragraph order; split into chunks of
// target 1,200 ± 200 characters on paragraph boundaries; never split
// mid-sentence unless a paragraph exceeds 2,400 characters, in which case
// split at whitespace."
func chunkParagraphs(pages []string) ([]Chunk, int) {
	var paragraphs []string
	for _, page := range pages {
		for _, p := range strings.Split(page, "\n\n") {
			p = strings.TrimSpace(p)
			if p != "" {
				paragraphs = append(paragraphs, p)
			}
		}
	}

	var chunks []Chunk
	var current strings.Builder
	wordCount := 0

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text == "" {
			return
		}
		chunks = append(chunks, Chunk{ChunkIndex: len(chunks), Text: text})
		current.Reset()
	}

	for _, para := range paragraphs {
		wordCount += countWords(para)

		if len(para) > maxChunkSize {
			flush()
			for _, piece := range splitAtWhitespace(para, targetChunkSize) {
				chunks = append(chunks, Chunk{ChunkIndex: len(chunks), Text: piece})
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(para) > targetChunkSize+chunkTolerance {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)

		if current.Len() >= targetChunkSize {
			flush()
		}
	}
	flush()

	return chunks, wordCount
}

// splitAtWhitespace breaks an oversized paragraph into roughly
// target-sized pieces, only at whitespace boundaries.
func splitAtWhitespace(text string, target int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var pieces []string
	var current strings.Builder
	for _, w := range words {
		if current.Len() > 0 && current.Len()+1+len(w) > target {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(w)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
