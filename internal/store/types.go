// Package store provides the abstract per-project Storage contract (spec.md
// §4.1, C1) and its SQLite-backed implementation. The core depends only on
// the Storage interface; cloud-storage adapters (file-share, blob,
// document DB) are external collaborators that would implement the same
// interface.
package store

import (
	"context"
	"time"
)

// Source identifies how a FAQ or KB record entered the store.
type Source string

const (
	SourceManual Source = "manual"
	SourceUpload Source = "upload"
)

// ArtifactKind identifies one of an IndexVersion's persisted artifacts.
type ArtifactKind string

const (
	ArtifactDense  ArtifactKind = "dense"
	ArtifactSparse ArtifactKind = "sparse"
	ArtifactBasic  ArtifactKind = "basic"
	ArtifactMeta   ArtifactKind = "meta"
)

// Project is a tenant namespace owning FAQs, KB records, attachments, and
// index versions.
type Project struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FAQ is a question/answer pair indexed as a single unit.
// ID is deterministic: mint("faq", project_id, question).
type FAQ struct {
	ID        string
	ProjectID string
	Question  string
	Answer    string
	Source    Source
	CreatedAt time.Time
}

// KB is a titled text fragment, possibly one of many chunks of an uploaded
// document. ID is deterministic: mint("kb", project_id, article_title, chunk_index).
type KB struct {
	ID                string
	ProjectID         string
	ArticleTitle      string
	Content           string
	Source            Source
	ChunkIndex        int
	ParentDocumentID  string // empty for manually-authored KB records
	AttachmentID      string // empty if no attachment
	CreatedAt         time.Time
}

// Attachment preserves original uploaded bytes for later retrieval.
type Attachment struct {
	ID           string
	ProjectID    string
	Mime         string
	OriginalName string
	Bytes        []byte
}

// IndexVersion is an immutable, atomically-published bundle of search
// artifacts for a project.
type IndexVersion struct {
	ProjectID         string
	Version           uint64
	BuiltAt           time.Time
	RecordFingerprint string
	HasDense          bool
	HasSparse         bool
	// HasBasic is always true; the basic substring fallback is mandatory.
}

// BuildState is the per-project build status (spec.md §3 invariant:
// target_version >= current_version, at most one concurrent build).
type BuildState struct {
	ProjectID      string
	CurrentVersion uint64
	TargetVersion  uint64
	Building       bool
	StartedAt      *time.Time
	LastError      string
}

// Storage is the abstract per-project persistence contract (spec.md §4.1).
// Implementations must make each operation atomic with respect to
// single-record readers and must not leak cross-project visibility.
type Storage interface {
	// Project operations.
	UpsertProject(ctx context.Context, p Project) (Project, error)
	GetProject(ctx context.Context, id string) (Project, bool, error)
	ListProjects(ctx context.Context) ([]Project, error)
	DeactivateProject(ctx context.Context, id string) error

	// FAQ operations.
	ListFAQs(ctx context.Context, projectID string) ([]FAQ, error)
	GetFAQ(ctx context.Context, projectID, id string) (FAQ, bool, error)
	PutFAQ(ctx context.Context, projectID string, faq FAQ) (prior *FAQ, err error)
	DeleteFAQ(ctx context.Context, projectID, id string) (removed bool, err error)

	// KB operations.
	ListKB(ctx context.Context, projectID string) ([]KB, error)
	GetKB(ctx context.Context, projectID, id string) (KB, bool, error)
	PutKB(ctx context.Context, projectID string, kb KB) (prior *KB, err error)
	PutKBBatch(ctx context.Context, projectID string, kbs []KB) error
	DeleteKB(ctx context.Context, projectID, id string) (removed bool, err error)

	// Attachment operations.
	PutAttachment(ctx context.Context, projectID string, a Attachment) (string, error)
	GetAttachment(ctx context.Context, projectID, id string) (Attachment, bool, error)

	// Index artifact operations.
	PutIndexArtifact(ctx context.Context, projectID string, version uint64, kind ArtifactKind, data []byte) error
	GetIndexArtifact(ctx context.Context, projectID string, version uint64, kind ArtifactKind) ([]byte, bool, error)
	PutIndexVersionMeta(ctx context.Context, v IndexVersion) error
	GetCurrentIndexVersion(ctx context.Context, projectID string) (IndexVersion, bool, error)

	Close() error
}
