package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Storage backed by a single SQLite database file,
// with projects distinguished by a project_id column rather than one file
// per project. Per-project writes are serialized by an in-process mutex
// keyed by project id (spec.md §5: "Per-project Storage writes are
// serialized by a per-project write lock; reads are concurrent").
type SQLiteStore struct {
	db *sql.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open creates or opens a SQLite-backed store at path and applies the
// schema migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer WAL usage keeps semantics simple and matches spec's per-project serialization

	s := &SQLiteStore{db: db, locks: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS faqs (
		id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		seq INTEGER,
		PRIMARY KEY (project_id, id)
	);

	CREATE TABLE IF NOT EXISTS kb_records (
		id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		article_title TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT NOT NULL,
		chunk_index INTEGER NOT NULL DEFAULT 0,
		parent_document_id TEXT,
		attachment_id TEXT,
		created_at TIMESTAMP NOT NULL,
		seq INTEGER,
		PRIMARY KEY (project_id, id)
	);

	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		mime TEXT NOT NULL,
		original_name TEXT NOT NULL,
		bytes BLOB NOT NULL,
		PRIMARY KEY (project_id, id)
	);

	CREATE TABLE IF NOT EXISTS index_artifacts (
		project_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		kind TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (project_id, version, kind)
	);

	CREATE TABLE IF NOT EXISTS index_versions (
		project_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		built_at TIMESTAMP NOT NULL,
		record_fingerprint TEXT NOT NULL,
		has_dense INTEGER NOT NULL,
		has_sparse INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_faqs_project ON faqs(project_id);
	CREATE INDEX IF NOT EXISTS idx_kb_project ON kb_records(project_id);
	CREATE INDEX IF NOT EXISTS idx_kb_attachment ON kb_records(attachment_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) lockFor(projectID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[projectID] = l
	}
	return l
}

// --- Project operations ---

func (s *SQLiteStore) UpsertProject(ctx context.Context, p Project) (Project, error) {
	lock := s.lockFor(p.ID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, boolToInt(p.Active), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("upsert project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (Project, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, active, created_at, updated_at FROM projects WHERE id = ?`, id)
	var p Project
	var active int
	if err := row.Scan(&p.ID, &p.Name, &active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Project{}, false, nil
		}
		return Project{}, false, fmt.Errorf("get project: %w", err)
	}
	p.Active = active != 0
	return p, true, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, active, created_at, updated_at FROM projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Active = active != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeactivateProject(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE projects SET active = 0, updated_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// --- FAQ operations ---

func (s *SQLiteStore) ListFAQs(ctx context.Context, projectID string) ([]FAQ, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, question, answer, source, created_at
		FROM faqs WHERE project_id = ? ORDER BY seq ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list faqs: %w", err)
	}
	defer rows.Close()

	var out []FAQ
	for rows.Next() {
		var f FAQ
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Question, &f.Answer, &f.Source, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan faq: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetFAQ(ctx context.Context, projectID, id string) (FAQ, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, question, answer, source, created_at
		FROM faqs WHERE project_id = ? AND id = ?
	`, projectID, id)
	var f FAQ
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Question, &f.Answer, &f.Source, &f.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return FAQ{}, false, nil
		}
		return FAQ{}, false, fmt.Errorf("get faq: %w", err)
	}
	return f, true, nil
}

func (s *SQLiteStore) PutFAQ(ctx context.Context, projectID string, faq FAQ) (*FAQ, error) {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	prior, found, err := s.GetFAQ(ctx, projectID, faq.ID)
	if err != nil {
		return nil, err
	}
	if faq.CreatedAt.IsZero() {
		faq.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO faqs (id, project_id, question, answer, source, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM faqs WHERE project_id = ?))
		ON CONFLICT(project_id, id) DO UPDATE SET
			question = excluded.question,
			answer = excluded.answer,
			source = excluded.source
	`, faq.ID, projectID, faq.Question, faq.Answer, faq.Source, faq.CreatedAt, projectID)
	if err != nil {
		return nil, fmt.Errorf("put faq: %w", err)
	}
	if found {
		return &prior, nil
	}
	return nil, nil
}

func (s *SQLiteStore) DeleteFAQ(ctx context.Context, projectID, id string) (bool, error) {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM faqs WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return false, fmt.Errorf("delete faq: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- KB operations ---

func (s *SQLiteStore) ListKB(ctx context.Context, projectID string) ([]KB, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, article_title, content, source, chunk_index,
		       COALESCE(parent_document_id, ''), COALESCE(attachment_id, ''), created_at
		FROM kb_records WHERE project_id = ? ORDER BY seq ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list kb: %w", err)
	}
	defer rows.Close()

	var out []KB
	for rows.Next() {
		var k KB
		if err := rows.Scan(&k.ID, &k.ProjectID, &k.ArticleTitle, &k.Content, &k.Source,
			&k.ChunkIndex, &k.ParentDocumentID, &k.AttachmentID, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan kb: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetKB(ctx context.Context, projectID, id string) (KB, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, article_title, content, source, chunk_index,
		       COALESCE(parent_document_id, ''), COALESCE(attachment_id, ''), created_at
		FROM kb_records WHERE project_id = ? AND id = ?
	`, projectID, id)
	var k KB
	if err := row.Scan(&k.ID, &k.ProjectID, &k.ArticleTitle, &k.Content, &k.Source,
		&k.ChunkIndex, &k.ParentDocumentID, &k.AttachmentID, &k.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return KB{}, false, nil
		}
		return KB{}, false, fmt.Errorf("get kb: %w", err)
	}
	return k, true, nil
}

func (s *SQLiteStore) PutKB(ctx context.Context, projectID string, kb KB) (*KB, error) {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()
	return s.putKBLocked(ctx, projectID, kb)
}

func (s *SQLiteStore) putKBLocked(ctx context.Context, projectID string, kb KB) (*KB, error) {
	prior, found, err := s.GetKB(ctx, projectID, kb.ID)
	if err != nil {
		return nil, err
	}
	if kb.CreatedAt.IsZero() {
		kb.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kb_records (id, project_id, article_title, content, source, chunk_index,
			parent_document_id, attachment_id, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM kb_records WHERE project_id = ?))
		ON CONFLICT(project_id, id) DO UPDATE SET
			article_title = excluded.article_title,
			content = excluded.content,
			source = excluded.source,
			chunk_index = excluded.chunk_index,
			parent_document_id = excluded.parent_document_id,
			attachment_id = excluded.attachment_id
	`, kb.ID, projectID, kb.ArticleTitle, kb.Content, kb.Source, kb.ChunkIndex,
		kb.ParentDocumentID, kb.AttachmentID, kb.CreatedAt, projectID)
	if err != nil {
		return nil, fmt.Errorf("put kb: %w", err)
	}
	if found {
		return &prior, nil
	}
	return nil, nil
}

// PutKBBatch applies all records atomically within a single transaction:
// either every record in the batch is applied, or none are (spec.md §4.11).
func (s *SQLiteStore) PutKBBatch(ctx context.Context, projectID string, kbs []KB) error {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, kb := range kbs {
		if kb.CreatedAt.IsZero() {
			kb.CreatedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kb_records (id, project_id, article_title, content, source, chunk_index,
				parent_document_id, attachment_id, created_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?,
				(SELECT COALESCE(MAX(seq), 0) + 1 FROM kb_records WHERE project_id = ?))
			ON CONFLICT(project_id, id) DO UPDATE SET
				article_title = excluded.article_title,
				content = excluded.content,
				source = excluded.source,
				chunk_index = excluded.chunk_index,
				parent_document_id = excluded.parent_document_id,
				attachment_id = excluded.attachment_id
		`, kb.ID, projectID, kb.ArticleTitle, kb.Content, kb.Source, kb.ChunkIndex,
			kb.ParentDocumentID, kb.AttachmentID, kb.CreatedAt, projectID)
		if err != nil {
			return fmt.Errorf("batch put kb %s: %w", kb.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteKB removes a KB record, and reclaims its attachment if no other KB
// record in the project still references it (spec.md §4.1, §9).
func (s *SQLiteStore) DeleteKB(ctx context.Context, projectID, id string) (bool, error) {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	kb, found, err := s.GetKB(ctx, projectID, id)
	if err != nil || !found {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM kb_records WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return false, fmt.Errorf("delete kb: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	if kb.AttachmentID != "" {
		var remaining int
		row := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM kb_records WHERE project_id = ? AND attachment_id = ?
		`, projectID, kb.AttachmentID)
		if err := row.Scan(&remaining); err != nil {
			return true, fmt.Errorf("count attachment referrers: %w", err)
		}
		if remaining == 0 {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE project_id = ? AND id = ?`, projectID, kb.AttachmentID); err != nil {
				return true, fmt.Errorf("reclaim attachment: %w", err)
			}
		}
	}

	return true, nil
}

// --- Attachment operations ---

func (s *SQLiteStore) PutAttachment(ctx context.Context, projectID string, a Attachment) (string, error) {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, project_id, mime, original_name, bytes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, id) DO UPDATE SET
			mime = excluded.mime, original_name = excluded.original_name, bytes = excluded.bytes
	`, a.ID, projectID, a.Mime, a.OriginalName, a.Bytes)
	if err != nil {
		return "", fmt.Errorf("put attachment: %w", err)
	}
	return a.ID, nil
}

func (s *SQLiteStore) GetAttachment(ctx context.Context, projectID, id string) (Attachment, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, mime, original_name, bytes FROM attachments WHERE project_id = ? AND id = ?
	`, projectID, id)
	var a Attachment
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Mime, &a.OriginalName, &a.Bytes); err != nil {
		if err == sql.ErrNoRows {
			return Attachment{}, false, nil
		}
		return Attachment{}, false, fmt.Errorf("get attachment: %w", err)
	}
	return a, true, nil
}

// --- Index artifact operations ---

func (s *SQLiteStore) PutIndexArtifact(ctx context.Context, projectID string, version uint64, kind ArtifactKind, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_artifacts (project_id, version, kind, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, version, kind) DO UPDATE SET data = excluded.data
	`, projectID, version, kind, data)
	if err != nil {
		return fmt.Errorf("put index artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIndexArtifact(ctx context.Context, projectID string, version uint64, kind ArtifactKind) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM index_artifacts WHERE project_id = ? AND version = ? AND kind = ?
	`, projectID, version, kind)
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get index artifact: %w", err)
	}
	return data, true, nil
}

// PutIndexVersionMeta advances current_version by a single store of the
// meta record (spec.md §4.5: "atomic publish... current_version is then
// advanced by a single store of the meta record").
func (s *SQLiteStore) PutIndexVersionMeta(ctx context.Context, v IndexVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_versions (project_id, version, built_at, record_fingerprint, has_dense, has_sparse)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			version = excluded.version,
			built_at = excluded.built_at,
			record_fingerprint = excluded.record_fingerprint,
			has_dense = excluded.has_dense,
			has_sparse = excluded.has_sparse
	`, v.ProjectID, v.Version, v.BuiltAt, v.RecordFingerprint, boolToInt(v.HasDense), boolToInt(v.HasSparse))
	if err != nil {
		return fmt.Errorf("put index version meta: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCurrentIndexVersion(ctx context.Context, projectID string) (IndexVersion, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, version, built_at, record_fingerprint, has_dense, has_sparse
		FROM index_versions WHERE project_id = ?
	`, projectID)
	var v IndexVersion
	var dense, sparse int
	if err := row.Scan(&v.ProjectID, &v.Version, &v.BuiltAt, &v.RecordFingerprint, &dense, &sparse); err != nil {
		if err == sql.ErrNoRows {
			return IndexVersion{}, false, nil
		}
		return IndexVersion{}, false, fmt.Errorf("get current index version: %w", err)
	}
	v.HasDense = dense != 0
	v.HasSparse = sparse != 0
	return v, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
