// Package knowledgebase is the C11 ContentAPI: the public façade over
// the knowledge base service's internal components (spec.md §4.11).
// Grounded on the teacher's pkg/searcher and pkg/indexer façade
// convention: thin exported functions that validate input and delegate
// to the internal components, here composed through a Services aggregate
// per spec.md §5's "pass a Services aggregate into request handlers"
// design note.
package knowledgebase

import (
	"log/slog"

	"github.com/kbservice/kbquery/internal/auth"
	"github.com/kbservice/kbquery/internal/completer"
	"github.com/kbservice/kbquery/internal/embedder"
	"github.com/kbservice/kbquery/internal/indexmgr"
	"github.com/kbservice/kbquery/internal/orchestrator"
	"github.com/kbservice/kbquery/internal/retriever"
	"github.com/kbservice/kbquery/internal/store"
	"github.com/kbservice/kbquery/internal/tools"
	"github.com/kbservice/kbquery/internal/trace"
)

// Services aggregates the process-singleton components spec.md §5 names:
// the project registry (Storage), IndexManager, ToolRegistry, TraceRing,
// and AuthGate, plus the Retriever and QueryOrchestrator built on top of
// them. Construct once at startup and pass by reference into handlers.
type Services struct {
	Store        *store.SQLiteStore
	IndexMgr     *indexmgr.Manager
	Retriever    *retriever.Retriever
	Orchestrator *orchestrator.Orchestrator
	Tools        *tools.Registry
	Gate         *auth.Gate
	Trace        *trace.Ring
}

// NewServices wires the components together in the order spec.md §5
// requires them constructed, so later components can depend on earlier
// ones. c may be nil; toolRegistry may be nil (an empty registry is used).
func NewServices(s *store.SQLiteStore, mgr *indexmgr.Manager, emb embedder.Embedder, toolRegistry *tools.Registry, c completer.Completer, gate *auth.Gate, traceRing *trace.Ring, logger *slog.Logger) *Services {
	if toolRegistry == nil {
		toolRegistry = tools.NewRegistry()
	}
	if traceRing == nil {
		traceRing = trace.New(0, 0)
	}

	r := retriever.New(mgr, s, emb)
	orch := orchestrator.New(s, r, toolRegistry, c, logger)

	return &Services{
		Store:        s,
		IndexMgr:     mgr,
		Retriever:    r,
		Orchestrator: orch,
		Tools:        toolRegistry,
		Gate:         gate,
		Trace:        traceRing,
	}
}

// Close shuts down Services in the reverse of their construction order
// (spec.md §5: "constructed at startup... and shut down in reverse
// order"). Only Store owns a closeable resource; the others are pure
// in-memory components.
func (s *Services) Close() error {
	return s.Store.Close()
}
