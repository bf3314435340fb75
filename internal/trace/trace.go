// Package trace implements the C10 TraceRing: an append-only, bounded
// store of request trace records (spec.md §4.10). Grounded on the
// teacher's internal/logging/viewer.go query-and-filter idiom
// (ViewerConfig + matchesFilter), adapted from tailing JSON log files on
// disk to an in-memory ring bounded by record count and age.
package trace

import (
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// scrubbedHeaders lists the headers spec.md §4.10 requires stripped
// before a request's headers are stored on its trace record.
var scrubbedHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
}

// Record is one trace entry. Body content is never stored, only its
// SHA-256 (computed by the caller via identity.Fingerprint and passed in
// as BodyHash), per spec.md §4.10.
type Record struct {
	ID         string
	Timestamp  time.Time
	Method     string
	Path       string
	Status     int
	DurationMs int64
	Error      string
	Headers    map[string]string
	BodyHash   string
}

// HasError reports whether this record carries a recorded error.
func (r Record) HasError() bool {
	return r.Error != ""
}

// ScrubHeaders copies h, dropping the headers spec.md §4.10 forbids
// storing. Callers build a Record's Headers field through this function
// rather than storing http.Header directly.
func ScrubHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if scrubbedHeaders[strings.ToLower(k)] {
			continue
		}
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// Filters narrows a List call per spec.md §4.10.
type Filters struct {
	Since       time.Time
	Status      int // 0 means unfiltered
	PathPrefix  string
	HasError    bool
	HasErrorSet bool // distinguishes "unset" from "filter for no error"
}

func (f Filters) matches(r *Record) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if f.Status != 0 && r.Status != f.Status {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(r.Path, f.PathPrefix) {
		return false
	}
	if f.HasErrorSet && r.HasError() != f.HasError {
		return false
	}
	return true
}

// Ring is the C10 TraceRing. Append serializes on a single mutex per
// spec.md §5's shared-resource policy; List and Get read the underlying
// LRU cache via Peek so a concurrent lookup never promotes an entry and
// perturbs the insertion order the ring relies on for oldest-first
// eviction.
type Ring struct {
	mu     sync.Mutex
	cache  *lru.Cache[string, *Record]
	maxAge time.Duration
	now    func() time.Time
}

// New builds a Ring bounded by maxRecords and maxAge. maxRecords <= 0
// defaults to 1000, matching config.TraceConfig's default.
func New(maxRecords int, maxAge time.Duration) *Ring {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	cache, _ := lru.New[string, *Record](maxRecords)
	return &Ring{cache: cache, maxAge: maxAge, now: time.Now}
}

// Append adds a trace record, evicting the oldest record if the ring is
// at capacity.
func (r *Ring) Append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Add(rec.ID, &rec)
}

// Get retrieves a trace record by id without affecting eviction order.
func (r *Ring) Get(id string) (Record, bool) {
	rec, ok := r.cache.Peek(id)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns up to limit records matching filters, newest first, after
// sweeping records older than maxAge. limit <= 0 means unbounded.
func (r *Ring) List(filters Filters, limit int) []Record {
	r.sweep()

	keys := r.cache.Keys()
	var out []Record
	for i := len(keys) - 1; i >= 0; i-- {
		rec, ok := r.cache.Peek(keys[i])
		if !ok {
			continue
		}
		if !filters.matches(rec) {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// sweep evicts records older than maxAge. A zero maxAge disables the
// age-based sweep, relying solely on the record-count bound.
func (r *Ring) sweep() {
	if r.maxAge <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxAge)
	for _, key := range r.cache.Keys() {
		rec, ok := r.cache.Peek(key)
		if !ok {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			r.cache.Remove(key)
		}
	}
}

// Len returns the number of records currently retained.
func (r *Ring) Len() int {
	return r.cache.Len()
}
