package knowledgebase

import (
	"context"
	"fmt"

	"github.com/kbservice/kbquery/internal/errs"
	"github.com/kbservice/kbquery/internal/extract"
	"github.com/kbservice/kbquery/internal/identity"
	"github.com/kbservice/kbquery/internal/store"
)

// CreateOrUpdateProject upserts a project row (spec.md §4.11). No index
// effect: project metadata doesn't participate in retrieval.
func (s *Services) CreateOrUpdateProject(ctx context.Context, p store.Project) (store.Project, error) {
	if p.ID == "" {
		return store.Project{}, errs.New(errs.BadRequest, "project id is required")
	}
	return s.Store.UpsertProject(ctx, p)
}

// DeactivateProject sets active=false on a project (spec.md §4.11).
func (s *Services) DeactivateProject(ctx context.Context, projectID string) error {
	return s.Store.DeactivateProject(ctx, projectID)
}

// AddFAQ upserts a FAQ by its minted id and marks the project dirty.
func (s *Services) AddFAQ(ctx context.Context, projectID, question, answer string) (store.FAQ, error) {
	if question == "" {
		return store.FAQ{}, errs.New(errs.BadRequest, "question is required")
	}
	faq := store.FAQ{
		ID:        identity.Mint("faq", projectID, question),
		ProjectID: projectID,
		Question:  question,
		Answer:    answer,
		Source:    store.SourceManual,
	}
	if _, err := s.Store.PutFAQ(ctx, projectID, faq); err != nil {
		return store.FAQ{}, err
	}
	s.IndexMgr.MarkDirty(projectID)
	return faq, nil
}

// DeleteFAQ removes a FAQ if present, marking the project dirty only when
// a record was actually removed.
func (s *Services) DeleteFAQ(ctx context.Context, projectID, id string) (bool, error) {
	removed, err := s.Store.DeleteFAQ(ctx, projectID, id)
	if err != nil {
		return false, err
	}
	if removed {
		s.IndexMgr.MarkDirty(projectID)
	}
	return removed, nil
}

// AddKB upserts a single-chunk KB record and marks the project dirty.
func (s *Services) AddKB(ctx context.Context, projectID, title, content string) (store.KB, error) {
	if title == "" {
		return store.KB{}, errs.New(errs.BadRequest, "article title is required")
	}
	kb := store.KB{
		ID:           identity.Mint("kb", projectID, title, "0"),
		ProjectID:    projectID,
		ArticleTitle: title,
		Content:      content,
		Source:       store.SourceManual,
		ChunkIndex:   0,
	}
	if _, err := s.Store.PutKB(ctx, projectID, kb); err != nil {
		return store.KB{}, err
	}
	s.IndexMgr.MarkDirty(projectID)
	return kb, nil
}

// DeleteKB removes a KB record if present. The store reclaims its
// attachment when the deleted record was the attachment's last referrer
// (spec.md §3: "Attachment... deleted when the last referring KB record
// is deleted").
func (s *Services) DeleteKB(ctx context.Context, projectID, id string) (bool, error) {
	removed, err := s.Store.DeleteKB(ctx, projectID, id)
	if err != nil {
		return false, err
	}
	if removed {
		s.IndexMgr.MarkDirty(projectID)
	}
	return removed, nil
}

// UploadDocumentResult is upload_document's return shape (spec.md §4.11).
type UploadDocumentResult struct {
	DocumentID        string
	ChunksCreated     int
	IndexBuildStarted bool
}

// UploadDocument extracts bytes into N KB chunks sharing a parent document
// id and attachment id, upserts them as one atomic batch, and marks the
// project dirty exactly once (spec.md §4.11).
func (s *Services) UploadDocument(ctx context.Context, projectID string, data []byte, mime, title string) (UploadDocumentResult, error) {
	chunks, _, err := extract.Extract(data, mime, title)
	if err != nil {
		return UploadDocumentResult{}, err
	}
	if len(chunks) == 0 {
		return UploadDocumentResult{}, errs.New(errs.EmptyContent, "extraction produced no chunks")
	}

	attachmentID, err := s.Store.PutAttachment(ctx, projectID, store.Attachment{
		ID:           identity.NewUUID(),
		ProjectID:    projectID,
		Mime:         mime,
		OriginalName: title,
		Bytes:        data,
	})
	if err != nil {
		return UploadDocumentResult{}, fmt.Errorf("store attachment: %w", err)
	}

	documentID := identity.Mint("doc", projectID, title)
	kbs := make([]store.KB, len(chunks))
	for i, c := range chunks {
		kbs[i] = store.KB{
			ID:               identity.Mint("kb", projectID, title, fmt.Sprintf("%d", c.ChunkIndex)),
			ProjectID:        projectID,
			ArticleTitle:     title,
			Content:          c.Text,
			Source:           store.SourceUpload,
			ChunkIndex:       c.ChunkIndex,
			ParentDocumentID: documentID,
			AttachmentID:     attachmentID,
		}
	}

	if err := s.Store.PutKBBatch(ctx, projectID, kbs); err != nil {
		return UploadDocumentResult{}, fmt.Errorf("store kb batch: %w", err)
	}
	s.IndexMgr.MarkDirty(projectID)

	return UploadDocumentResult{
		DocumentID:        documentID,
		ChunksCreated:     len(kbs),
		IndexBuildStarted: true,
	}, nil
}

// KBContent is get_kb's return shape: either the raw attachment bytes plus
// mime, or the KB record itself when there's no attachment.
type KBContent struct {
	Record     *store.KB
	Attachment *store.Attachment
}

// GetKB implements spec.md §4.11's get_kb: if the record carries an
// attachment, return its bytes and mime; otherwise return the record.
func (s *Services) GetKB(ctx context.Context, projectID, id string) (KBContent, error) {
	kb, found, err := s.Store.GetKB(ctx, projectID, id)
	if err != nil {
		return KBContent{}, err
	}
	if !found {
		return KBContent{}, errs.New(errs.NotFound, fmt.Sprintf("kb record %q not found", id))
	}
	if kb.AttachmentID == "" {
		return KBContent{Record: &kb}, nil
	}

	att, found, err := s.Store.GetAttachment(ctx, projectID, kb.AttachmentID)
	if err != nil {
		return KBContent{}, err
	}
	if !found {
		return KBContent{Record: &kb}, nil
	}
	return KBContent{Record: &kb, Attachment: &att}, nil
}

// RebuildIndexes triggers a synchronous rebuild for a project (spec.md
// §6's POST /v1/projects/{pid}/rebuild-indexes).
func (s *Services) RebuildIndexes(ctx context.Context, projectID string) error {
	return s.IndexMgr.RebuildNow(ctx, projectID)
}

// BuildStatus returns a project's current BuildState (spec.md §6's GET
// /v1/projects/{pid}/build-status).
func (s *Services) BuildStatus(projectID string) store.BuildState {
	return s.IndexMgr.Status(projectID)
}
