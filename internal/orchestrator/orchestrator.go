// Package orchestrator implements the C8 QueryOrchestrator: the top-level
// query pipeline tying together project validation, retrieval, tool
// selection, prompt composition, and completion (spec.md §4.8). Grounded
// on the teacher's internal/search/engine.go orchestration shape: a
// dependency-injected struct, a single Query entrypoint measuring latency
// around the pipeline, and a straight-line sequence of named steps.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kbservice/kbquery/internal/completer"
	"github.com/kbservice/kbquery/internal/errs"
	"github.com/kbservice/kbquery/internal/retriever"
	"github.com/kbservice/kbquery/internal/store"
	"github.com/kbservice/kbquery/internal/tools"
)

// sufficiencyFloor is spec.md §4.8 step 3's threshold: web_search is only
// considered when no retrieved source clears this fused_score bar.
const sufficiencyFloor = 1.0 / 30.0

// maxPromptChars caps the composed Completer prompt (spec.md §4.8 step 4).
const maxPromptChars = 8000

var (
	timeTokens = map[string]bool{
		"time": true, "date": true, "today": true, "now": true, "current": true,
	}
	webSearchTokens = map[string]bool{
		"latest": true, "news": true, "search": true, "web": true,
	}
)

// ProjectLookup resolves a project's existence and active status.
type ProjectLookup interface {
	GetProject(ctx context.Context, id string) (store.Project, bool, error)
}

// Request is the QueryOrchestrator's input (spec.md §4.8).
type Request struct {
	ProjectID  string
	Question   string
	MaxSources int
	UseTools   bool
}

// ToolUsage records one tool invocation's outcome for the response.
type ToolUsage struct {
	Tool    string
	Success bool
	Data    any
	Error   string
}

// Response is the QueryOrchestrator's output (spec.md §4.8).
type Response struct {
	Answer           string
	Sources          []retriever.Source
	ToolsUsed        []ToolUsage
	ProjectID        string
	Timestamp        time.Time
	Model            *string
	ProcessingTimeMs int64
}

// Orchestrator is the C8 QueryOrchestrator.
type Orchestrator struct {
	projects  ProjectLookup
	retriever *retriever.Retriever
	tools     *tools.Registry
	completer completer.Completer
	logger    *slog.Logger
	now       func() time.Time
}

// New builds an Orchestrator. completer may be nil, in which case every
// query falls back to the deterministic excerpt-concatenation answer.
func New(projects ProjectLookup, r *retriever.Retriever, toolRegistry *tools.Registry, c completer.Completer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		projects:  projects,
		retriever: r,
		tools:     toolRegistry,
		completer: c,
		logger:    logger,
		now:       time.Now,
	}
}

// Query runs the full pipeline for one question.
func (o *Orchestrator) Query(ctx context.Context, req Request) (*Response, error) {
	project, found, err := o.projects.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "load project", err)
	}
	if !found || !project.Active {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("project %q not found or inactive", req.ProjectID))
	}

	maxSources := req.MaxSources
	if maxSources <= 0 {
		maxSources = 5
	}

	start := time.Now()

	sources, err := o.retriever.Retrieve(ctx, req.ProjectID, req.Question, maxSources)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "retrieve sources", err)
	}

	var toolsUsed []ToolUsage
	if req.UseTools {
		toolsUsed = o.selectAndInvokeTools(ctx, req.Question, sources)
	}

	prompt := composePrompt(req.Question, sources, toolsUsed)

	answer, model := o.complete(ctx, prompt, sources)

	elapsed := time.Since(start)

	return &Response{
		Answer:           answer,
		Sources:          sources,
		ToolsUsed:        toolsUsed,
		ProjectID:        req.ProjectID,
		Timestamp:        o.now(),
		Model:            model,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}, nil
}

// selectAndInvokeTools implements spec.md §4.8 step 3's deterministic
// keyword heuristic. Tool failures are recorded, never returned as errors.
func (o *Orchestrator) selectAndInvokeTools(ctx context.Context, question string, sources []retriever.Source) []ToolUsage {
	if o.tools == nil {
		return nil
	}

	tokens := tokenize(question)
	var used []ToolUsage

	if intersects(tokens, timeTokens) {
		res := o.tools.Invoke(ctx, "datetime", nil)
		used = append(used, toUsage("datetime", res))
	}

	if intersects(tokens, webSearchTokens) && !sufficientSources(sources) {
		res := o.tools.Invoke(ctx, "web_search", map[string]any{"query": question})
		used = append(used, toUsage("web_search", res))
	}

	return used
}

func sufficientSources(sources []retriever.Source) bool {
	for _, s := range sources {
		if s.Score > sufficiencyFloor {
			return true
		}
	}
	return false
}

func toUsage(name string, res tools.Result) ToolUsage {
	return ToolUsage{Tool: name, Success: res.Success, Data: res.Data, Error: res.Error}
}

func tokenize(question string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(question)) {
		out[strings.Trim(tok, ".,!?;:\"'")] = true
	}
	return out
}

func intersects(tokens, set map[string]bool) bool {
	for tok := range tokens {
		if set[tok] {
			return true
		}
	}
	return false
}

func (o *Orchestrator) complete(ctx context.Context, prompt string, sources []retriever.Source) (string, *string) {
	if o.completer == nil {
		return fallbackAnswer(sources), nil
	}
	answer, model, err := o.completer.Complete(ctx, prompt)
	if err != nil {
		o.logger.Warn("completer unavailable, using fallback answer", slog.String("error", err.Error()))
		return fallbackAnswer(sources), nil
	}
	return answer, &model
}

func fallbackAnswer(sources []retriever.Source) string {
	excerpts := make([]completer.Source, 0, len(sources))
	for _, s := range sources {
		excerpts = append(excerpts, completer.Source{Excerpt: s.Excerpt})
	}
	answer, _ := completer.Fallback(excerpts)
	return answer
}
