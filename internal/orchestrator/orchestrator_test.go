package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbservice/kbquery/internal/indexmgr"
	"github.com/kbservice/kbquery/internal/retriever"
	"github.com/kbservice/kbquery/internal/store"
	"github.com/kbservice/kbquery/internal/tools"
)

type fakeCompleter struct {
	answer string
	model  string
	err    error
	calls  int
}

func (f *fakeCompleter) Complete(_ context.Context, _ string) (string, string, error) {
	f.calls++
	return f.answer, f.model, f.err
}

func newTestDeps(t *testing.T) (*store.SQLiteStore, *retriever.Retriever) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	_, err = s.UpsertProject(ctx, store.Project{ID: "p1", Name: "Project", Active: true})
	require.NoError(t, err)

	_, err = s.PutFAQ(ctx, "p1", store.FAQ{
		ID: "f1", ProjectID: "p1", Question: "What is the refund window?",
		Answer: "Thirty days from purchase.", Source: store.SourceManual,
	})
	require.NoError(t, err)

	mgr := indexmgr.New(s, nil)
	require.NoError(t, mgr.RebuildNow(ctx, "p1"))

	return s, retriever.New(mgr, s, nil)
}

func TestQueryReturnsNotFoundForMissingProject(t *testing.T) {
	s, r := newTestDeps(t)
	orch := New(s, r, tools.NewRegistry(), nil, nil)

	_, err := orch.Query(context.Background(), Request{ProjectID: "missing", Question: "hello"})
	require.Error(t, err)
}

func TestQueryReturnsNotFoundForInactiveProject(t *testing.T) {
	s, r := newTestDeps(t)
	_, err := s.UpsertProject(context.Background(), store.Project{ID: "p1", Name: "Project", Active: false})
	require.NoError(t, err)
	orch := New(s, r, tools.NewRegistry(), nil, nil)

	_, err = orch.Query(context.Background(), Request{ProjectID: "p1", Question: "hello"})
	require.Error(t, err)
}

func TestQueryUsesFallbackAnswerWithoutCompleter(t *testing.T) {
	s, r := newTestDeps(t)
	orch := New(s, r, tools.NewRegistry(), nil, nil)

	resp, err := orch.Query(context.Background(), Request{ProjectID: "p1", Question: "refund window"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
	assert.Nil(t, resp.Model)
	assert.NotEmpty(t, resp.Sources)
}

func TestQueryUsesCompleterAnswerWhenAvailable(t *testing.T) {
	s, r := newTestDeps(t)
	fc := &fakeCompleter{answer: "A concise answer.", model: "test-model"}
	orch := New(s, r, tools.NewRegistry(), fc, nil)

	resp, err := orch.Query(context.Background(), Request{ProjectID: "p1", Question: "refund window"})
	require.NoError(t, err)
	assert.Equal(t, "A concise answer.", resp.Answer)
	require.NotNil(t, resp.Model)
	assert.Equal(t, "test-model", *resp.Model)
	assert.Equal(t, 1, fc.calls)
}

func TestQueryFallsBackWhenCompleterFails(t *testing.T) {
	s, r := newTestDeps(t)
	fc := &fakeCompleter{err: errors.New("upstream down")}
	orch := New(s, r, tools.NewRegistry(), fc, nil)

	resp, err := orch.Query(context.Background(), Request{ProjectID: "p1", Question: "refund window"})
	require.NoError(t, err)
	assert.Nil(t, resp.Model)
	assert.NotEmpty(t, resp.Answer)
}

func TestQueryInvokesDateTimeToolOnTimeKeywords(t *testing.T) {
	s, r := newTestDeps(t)
	registry := tools.NewRegistry(tools.NewDateTimeTool())
	orch := New(s, r, registry, nil, nil)

	resp, err := orch.Query(context.Background(), Request{ProjectID: "p1", Question: "What time is it now?", UseTools: true})
	require.NoError(t, err)
	require.Len(t, resp.ToolsUsed, 1)
	assert.Equal(t, "datetime", resp.ToolsUsed[0].Tool)
	assert.True(t, resp.ToolsUsed[0].Success)
}

func TestQuerySkipsToolsWhenUseToolsFalse(t *testing.T) {
	s, r := newTestDeps(t)
	registry := tools.NewRegistry(tools.NewDateTimeTool())
	orch := New(s, r, registry, nil, nil)

	resp, err := orch.Query(context.Background(), Request{ProjectID: "p1", Question: "What time is it now?", UseTools: false})
	require.NoError(t, err)
	assert.Empty(t, resp.ToolsUsed)
}

func TestQueryRecordsProcessingTime(t *testing.T) {
	s, r := newTestDeps(t)
	orch := New(s, r, tools.NewRegistry(), nil, nil)
	orch.now = func() time.Time { return time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC) }

	resp, err := orch.Query(context.Background(), Request{ProjectID: "p1", Question: "refund window"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.ProcessingTimeMs, int64(0))
	assert.Equal(t, time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC), resp.Timestamp)
}

func TestSufficientSourcesRespectsFloor(t *testing.T) {
	assert.False(t, sufficientSources([]retriever.Source{{Score: 0.01}}))
	assert.True(t, sufficientSources([]retriever.Source{{Score: 0.5}}))
}

func TestTokenizeStripsPunctuation(t *testing.T) {
	tokens := tokenize("What time is it, now?")
	assert.True(t, tokens["now"])
	assert.True(t, tokens["time"])
}
