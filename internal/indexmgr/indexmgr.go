// Package indexmgr tracks per-project BuildState, serializes rebuilds, and
// publishes index artifacts atomically (spec.md §4.5, C5).
package indexmgr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kbservice/kbquery/internal/embedder"
	"github.com/kbservice/kbquery/internal/identity"
	"github.com/kbservice/kbquery/internal/indexer"
	"github.com/kbservice/kbquery/internal/store"
)

// RecordSource supplies the current KB/FAQ record set to build from. The
// manager doesn't depend on store.Storage directly so tests can fake it.
type RecordSource interface {
	ListKB(ctx context.Context, projectID string) ([]store.KB, error)
	ListFAQs(ctx context.Context, projectID string) ([]store.FAQ, error)
	PutIndexArtifact(ctx context.Context, projectID string, version uint64, kind store.ArtifactKind, data []byte) error
	GetIndexArtifact(ctx context.Context, projectID string, version uint64, kind store.ArtifactKind) ([]byte, bool, error)
	PutIndexVersionMeta(ctx context.Context, v store.IndexVersion) error
	GetCurrentIndexVersion(ctx context.Context, projectID string) (store.IndexVersion, bool, error)
}

// Snapshot pins a version's artifacts against reclamation until Release is
// called (spec.md §4.5: "the handle pins those artifacts against
// reclamation... reclamation waits until the snapshot handle is released").
type Snapshot struct {
	Version uint64
	Dense   *indexer.DenseProvider // nil if unavailable
	Sparse  *indexer.SparseProvider
	Basic   *indexer.BasicProvider

	release func()
	once    sync.Once
}

// Release returns the snapshot's pin. Safe to call more than once.
func (s *Snapshot) Release() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

type projectState struct {
	mu             sync.Mutex
	targetVersion  uint64
	currentVersion uint64
	building       bool
	startedAt      *time.Time
	lastError      string
	hydrated       bool

	refCount    int32
	current     *cachedArtifacts
	fingerprint string
}

type cachedArtifacts struct {
	version uint64
	dense   *indexer.DenseProvider
	sparse  *indexer.SparseProvider
	basic   *indexer.BasicProvider
}

// Manager is the C5 IndexManager.
type Manager struct {
	storage  RecordSource
	embedder embedder.Embedder

	mu     sync.Mutex
	states map[string]*projectState
	sf     singleflight.Group
}

func New(storage RecordSource, emb embedder.Embedder) *Manager {
	return &Manager{
		storage:  storage,
		embedder: emb,
		states:   make(map[string]*projectState),
	}
}

// stateFor returns the in-memory state for projectID, creating it on first
// use. A freshly created state is hydrated once from the persisted current
// index version, so a process restart doesn't serve an empty Snapshot or
// report Status version 0 for a project that already has built artifacts.
func (m *Manager) stateFor(ctx context.Context, projectID string) *projectState {
	m.mu.Lock()
	s, ok := m.states[projectID]
	if !ok {
		s = &projectState{}
		m.states[projectID] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	if s.hydrated {
		s.mu.Unlock()
		return s
	}
	s.hydrated = true
	s.mu.Unlock()

	if v, found, err := m.storage.GetCurrentIndexVersion(ctx, projectID); err == nil && found {
		s.mu.Lock()
		s.currentVersion = v.Version
		if s.targetVersion < v.Version {
			s.targetVersion = v.Version
		}
		s.fingerprint = v.RecordFingerprint
		s.mu.Unlock()
	}
	return s
}

// MarkDirty implements spec.md §4.5: "increments target_version. If a
// build is not in flight, schedules one; otherwise the in-flight build, on
// completion, re-checks and reschedules if target_version > current_version."
func (m *Manager) MarkDirty(projectID string) {
	st := m.stateFor(context.Background(), projectID)
	st.mu.Lock()
	st.targetVersion++
	alreadyBuilding := st.building
	if !alreadyBuilding {
		st.building = true
	}
	st.mu.Unlock()

	if !alreadyBuilding {
		go m.runBuildLoop(context.Background(), projectID, st)
	}
}

// RebuildNow is the synchronous equivalent of MarkDirty + wait.
func (m *Manager) RebuildNow(ctx context.Context, projectID string) error {
	st := m.stateFor(ctx, projectID)
	st.mu.Lock()
	st.targetVersion++
	alreadyBuilding := st.building
	if !alreadyBuilding {
		st.building = true
	}
	st.mu.Unlock()

	if !alreadyBuilding {
		// Drive the same re-check loop MarkDirty spawns, synchronously, so
		// st.building is always cleared by runBuildLoop and never left
		// stuck true on the synchronous path.
		m.runBuildLoop(ctx, projectID, st)
	}
	// A build is already running (or just ran above) for a target this
	// call also wants satisfied; wait for it to land.
	return m.waitForTarget(ctx, st)
}

func (m *Manager) waitForTarget(ctx context.Context, st *projectState) error {
	for {
		st.mu.Lock()
		done := !st.building && (st.currentVersion >= st.targetVersion || st.lastError != "")
		lastErr := st.lastError
		st.mu.Unlock()
		if done {
			if lastErr != "" {
				return fmt.Errorf("index build failed: %s", lastErr)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// runBuildLoop drives the single-flight re-check: after a build completes,
// if target_version has advanced again, it builds once more, coalescing
// every MarkDirty that arrived mid-build into exactly one follow-up
// (golang.org/x/sync/singleflight alone would drop that follow-up once
// the original caller stops waiting, so the loop owns the re-check). A
// successful build with no MarkDirty in the meantime settles target_version
// at current_version; a failed build ends the loop with last_error set.
func (m *Manager) runBuildLoop(ctx context.Context, projectID string, st *projectState) {
	for {
		st.mu.Lock()
		want := st.targetVersion
		st.mu.Unlock()

		err := m.buildOnce(ctx, projectID, st)

		st.mu.Lock()
		if err == nil && st.targetVersion > want {
			st.mu.Unlock()
			continue
		}
		if err == nil {
			st.targetVersion = st.currentVersion
		}
		st.building = false
		st.mu.Unlock()
		return
	}
}

func (m *Manager) buildOnce(ctx context.Context, projectID string, st *projectState) error {
	_, err, _ := m.sf.Do(projectID, func() (interface{}, error) {
		return nil, m.build(ctx, projectID, st)
	})
	return err
}

func (m *Manager) build(ctx context.Context, projectID string, st *projectState) error {
	start := time.Now()
	st.mu.Lock()
	st.startedAt = &start
	st.mu.Unlock()

	kbs, err := m.storage.ListKB(ctx, projectID)
	if err != nil {
		return m.fail(st, err)
	}
	faqs, err := m.storage.ListFAQs(ctx, projectID)
	if err != nil {
		return m.fail(st, err)
	}

	docs := make([]indexer.Doc, 0, len(kbs)+len(faqs))
	pairs := make([][2]string, 0, len(kbs)+len(faqs))
	for _, k := range kbs {
		docs = append(docs, indexer.Doc{ID: k.ID, ParentDocumentID: k.ParentDocumentID, Text: k.ArticleTitle + "\n" + k.Content})
		pairs = append(pairs, [2]string{k.ID, identity.Fingerprint(k.Content)})
	}
	for _, f := range faqs {
		docs = append(docs, indexer.Doc{ID: f.ID, Text: f.Question + "\n" + f.Answer})
		pairs = append(pairs, [2]string{f.ID, identity.Fingerprint(f.Question, f.Answer)})
	}
	fingerprint := identity.RecordFingerprint(pairs)

	current, found, err := m.storage.GetCurrentIndexVersion(ctx, projectID)
	if err != nil {
		return m.fail(st, err)
	}

	if found && current.RecordFingerprint == fingerprint {
		// Change-detection skip (spec.md §4.5): touch built_at only.
		current.BuiltAt = time.Now()
		if err := m.storage.PutIndexVersionMeta(ctx, current); err != nil {
			return m.fail(st, err)
		}
		st.mu.Lock()
		st.currentVersion = current.Version
		st.fingerprint = fingerprint
		st.lastError = ""
		st.mu.Unlock()
		return nil
	}

	nextVersion := current.Version + 1

	basic := indexer.BuildBasic(docs)
	var sparse *indexer.SparseProvider
	var dense *indexer.DenseProvider

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sparse, err = indexer.BuildSparse(gctx, docs)
		return err
	})
	if m.embedder != nil && m.embedder.Available(ctx) {
		g.Go(func() error {
			var err error
			dense, err = indexer.BuildDense(gctx, docs, denseEmbedderAdapter{m.embedder})
			if err != nil {
				// Embedder unavailability must not fail the build (spec.md §4.4);
				// the dense artifact is simply absent.
				dense = nil
				return nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return m.fail(st, err)
	}

	basicBytes, err := basic.Marshal()
	if err != nil {
		return m.fail(st, err)
	}
	if err := m.storage.PutIndexArtifact(ctx, projectID, nextVersion, store.ArtifactBasic, basicBytes); err != nil {
		return m.fail(st, err)
	}

	sparseBytes, err := indexer.MarshalSparseSource(docs)
	if err != nil {
		return m.fail(st, err)
	}
	if err := m.storage.PutIndexArtifact(ctx, projectID, nextVersion, store.ArtifactSparse, sparseBytes); err != nil {
		return m.fail(st, err)
	}
	if sparse != nil {
		_ = sparse.Close()
	}

	hasDense := dense != nil
	if hasDense {
		denseBytes, err := dense.Marshal()
		if err != nil {
			return m.fail(st, err)
		}
		if err := m.storage.PutIndexArtifact(ctx, projectID, nextVersion, store.ArtifactDense, denseBytes); err != nil {
			return m.fail(st, err)
		}
	}

	meta := store.IndexVersion{
		ProjectID:         projectID,
		Version:           nextVersion,
		BuiltAt:           time.Now(),
		RecordFingerprint: fingerprint,
		HasDense:          hasDense,
		HasSparse:         true,
	}
	if err := m.storage.PutIndexVersionMeta(ctx, meta); err != nil {
		return m.fail(st, err)
	}

	st.mu.Lock()
	st.currentVersion = nextVersion
	st.fingerprint = fingerprint
	st.lastError = ""
	st.mu.Unlock()

	m.invalidateCache(ctx, projectID)
	return nil
}

func (m *Manager) fail(st *projectState, err error) error {
	st.mu.Lock()
	st.lastError = err.Error()
	st.mu.Unlock()
	return err
}

func (m *Manager) invalidateCache(ctx context.Context, projectID string) {
	st := m.stateFor(ctx, projectID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current != nil && atomic.LoadInt32(&st.refCount) == 0 {
		st.current = nil
	}
}

// Snapshot implements spec.md §4.5's snapshot(pid): an immutable handle to
// current_version's artifacts, loaded lazily and cached until the next
// successful build invalidates it.
func (m *Manager) Snapshot(ctx context.Context, projectID string) (*Snapshot, error) {
	st := m.stateFor(ctx, projectID)

	st.mu.Lock()
	version := st.currentVersion
	cached := st.current
	st.mu.Unlock()

	if cached == nil || cached.version != version {
		loaded, err := m.loadArtifacts(ctx, projectID, version)
		if err != nil {
			return nil, err
		}
		st.mu.Lock()
		st.current = loaded
		st.mu.Unlock()
		cached = loaded
	}

	atomic.AddInt32(&st.refCount, 1)
	return &Snapshot{
		Version: cached.version,
		Dense:   cached.dense,
		Sparse:  cached.sparse,
		Basic:   cached.basic,
		release: func() { atomic.AddInt32(&st.refCount, -1) },
	}, nil
}

func (m *Manager) loadArtifacts(ctx context.Context, projectID string, version uint64) (*cachedArtifacts, error) {
	out := &cachedArtifacts{version: version}

	if version == 0 {
		out.basic = indexer.BuildBasic(nil)
		sp, err := indexer.BuildSparse(ctx, nil)
		if err != nil {
			return nil, err
		}
		out.sparse = sp
		return out, nil
	}

	basicBytes, found, err := m.storage.GetIndexArtifact(ctx, projectID, version, store.ArtifactBasic)
	if err != nil {
		return nil, err
	}
	if found {
		basic, err := indexer.LoadBasic(basicBytes)
		if err != nil {
			return nil, err
		}
		out.basic = basic
	}

	sparseBytes, found, err := m.storage.GetIndexArtifact(ctx, projectID, version, store.ArtifactSparse)
	if err != nil {
		return nil, err
	}
	if found {
		sparse, err := indexer.LoadSparse(ctx, sparseBytes)
		if err != nil {
			return nil, err
		}
		out.sparse = sparse
	}

	denseBytes, found, err := m.storage.GetIndexArtifact(ctx, projectID, version, store.ArtifactDense)
	if err != nil {
		return nil, err
	}
	if found {
		dense, err := indexer.LoadDense(denseBytes)
		if err != nil {
			return nil, err
		}
		out.dense = dense
	}

	return out, nil
}

// Status returns the project's current BuildState.
func (m *Manager) Status(projectID string) store.BuildState {
	st := m.stateFor(context.Background(), projectID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return store.BuildState{
		ProjectID:      projectID,
		CurrentVersion: st.currentVersion,
		TargetVersion:  st.targetVersion,
		Building:       st.building,
		StartedAt:      st.startedAt,
		LastError:      st.lastError,
	}
}

// denseEmbedderAdapter bridges embedder.Embedder to indexer.Embedder; kept
// as a tiny adapter rather than importing indexer from embedder, since the
// dense provider's contract is deliberately package-local to indexer.
type denseEmbedderAdapter struct {
	inner embedder.Embedder
}

func (a denseEmbedderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.inner.Embed(ctx, text)
}

func (a denseEmbedderAdapter) Dimensions() int { return a.inner.Dimensions() }
