package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGetProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.UpsertProject(ctx, Project{ID: "p1", Name: "Acme Support", Active: true})
	require.NoError(t, err)
	assert.False(t, p.CreatedAt.IsZero())

	got, found, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Acme Support", got.Name)
	assert.True(t, got.Active)
}

func TestUpsertProjectUpdatesExistingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertProject(ctx, Project{ID: "p1", Name: "Old Name", Active: true})
	require.NoError(t, err)
	_, err = s.UpsertProject(ctx, Project{ID: "p1", Name: "New Name", Active: true})
	require.NoError(t, err)

	got, found, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "New Name", got.Name)
}

func TestGetProjectNotFound(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.GetProject(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeactivateProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertProject(ctx, Project{ID: "p1", Name: "Acme", Active: true})
	require.NoError(t, err)

	require.NoError(t, s.DeactivateProject(ctx, "p1"))

	got, found, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, got.Active)
}

func TestListProjectsOrdersByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertProject(ctx, Project{ID: "p1", Name: "First", Active: true, CreatedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.UpsertProject(ctx, Project{ID: "p2", Name: "Second", Active: true, CreatedAt: time.Now().Add(time.Second)})
	require.NoError(t, err)

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "p1", projects[0].ID)
	assert.Equal(t, "p2", projects[1].ID)
}

func TestPutFAQReturnsNilPriorOnFirstInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prior, err := s.PutFAQ(ctx, "p1", FAQ{ID: "f1", ProjectID: "p1", Question: "Q?", Answer: "A.", Source: SourceManual})
	require.NoError(t, err)
	assert.Nil(t, prior)
}

func TestPutFAQReturnsPriorOnUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PutFAQ(ctx, "p1", FAQ{ID: "f1", ProjectID: "p1", Question: "Q?", Answer: "A.", Source: SourceManual})
	require.NoError(t, err)

	prior, err := s.PutFAQ(ctx, "p1", FAQ{ID: "f1", ProjectID: "p1", Question: "Q?", Answer: "Updated.", Source: SourceManual})
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "A.", prior.Answer)

	got, found, err := s.GetFAQ(ctx, "p1", "f1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Updated.", got.Answer)
}

func TestListFAQsScopedToProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.PutFAQ(ctx, "p1", FAQ{ID: "f1", ProjectID: "p1", Question: "Q1", Answer: "A1", Source: SourceManual})
	require.NoError(t, err)
	_, err = s.PutFAQ(ctx, "p2", FAQ{ID: "f2", ProjectID: "p2", Question: "Q2", Answer: "A2", Source: SourceManual})
	require.NoError(t, err)

	faqs, err := s.ListFAQs(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, faqs, 1)
	assert.Equal(t, "f1", faqs[0].ID)
}

func TestDeleteFAQ(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.PutFAQ(ctx, "p1", FAQ{ID: "f1", ProjectID: "p1", Question: "Q", Answer: "A", Source: SourceManual})
	require.NoError(t, err)

	removed, err := s.DeleteFAQ(ctx, "p1", "f1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteFAQ(ctx, "p1", "f1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPutKBBatchIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.PutKBBatch(ctx, "p1", []KB{
		{ID: "k1", ProjectID: "p1", ArticleTitle: "Doc", Content: "chunk one", ChunkIndex: 0, Source: SourceUpload},
		{ID: "k2", ProjectID: "p1", ArticleTitle: "Doc", Content: "chunk two", ChunkIndex: 1, Source: SourceUpload},
	})
	require.NoError(t, err)

	records, err := s.ListKB(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestDeleteKBReclaimsOrphanedAttachment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PutAttachment(ctx, "p1", Attachment{ID: "att1", ProjectID: "p1", Mime: "text/plain", OriginalName: "doc.txt", Bytes: []byte("hi")})
	require.NoError(t, err)

	_, err = s.PutKB(ctx, "p1", KB{ID: "k1", ProjectID: "p1", ArticleTitle: "Doc", Content: "chunk", AttachmentID: "att1", Source: SourceUpload})
	require.NoError(t, err)

	removed, err := s.DeleteKB(ctx, "p1", "k1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err := s.GetAttachment(ctx, "p1", "att1")
	require.NoError(t, err)
	assert.False(t, found, "attachment should be reclaimed once its last referring KB record is deleted")
}

func TestDeleteKBKeepsAttachmentWithRemainingReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PutAttachment(ctx, "p1", Attachment{ID: "att1", ProjectID: "p1", Mime: "text/plain", OriginalName: "doc.txt", Bytes: []byte("hi")})
	require.NoError(t, err)

	err = s.PutKBBatch(ctx, "p1", []KB{
		{ID: "k1", ProjectID: "p1", ArticleTitle: "Doc", Content: "chunk one", ChunkIndex: 0, AttachmentID: "att1", Source: SourceUpload},
		{ID: "k2", ProjectID: "p1", ArticleTitle: "Doc", Content: "chunk two", ChunkIndex: 1, AttachmentID: "att1", Source: SourceUpload},
	})
	require.NoError(t, err)

	_, err = s.DeleteKB(ctx, "p1", "k1")
	require.NoError(t, err)

	_, found, err := s.GetAttachment(ctx, "p1", "att1")
	require.NoError(t, err)
	assert.True(t, found, "attachment must survive while k2 still references it")
}

func TestIndexArtifactRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.PutIndexArtifact(ctx, "p1", 1, ArtifactBasic, []byte("artifact-bytes"))
	require.NoError(t, err)

	data, found, err := s.GetIndexArtifact(ctx, "p1", 1, ArtifactBasic)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "artifact-bytes", string(data))
}

func TestIndexVersionMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := IndexVersion{ProjectID: "p1", Version: 3, BuiltAt: time.Now(), RecordFingerprint: "abc", HasDense: true, HasSparse: true}
	require.NoError(t, s.PutIndexVersionMeta(ctx, v))

	got, found, err := s.GetCurrentIndexVersion(ctx, "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(3), got.Version)
	assert.Equal(t, "abc", got.RecordFingerprint)
	assert.True(t, got.HasDense)
}

func TestGetCurrentIndexVersionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.GetCurrentIndexVersion(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}
