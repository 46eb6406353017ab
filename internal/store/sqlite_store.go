// SQLite-backed Storer using the ncruces driver (database/sql interface).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

// SQLiteStore is the SQLite-backed data store.
// Thread-safe for concurrent callers.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

const schema = `
-- Documents (identity = hash of logical path)
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    name TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT 'canon',
    narrative_intent TEXT,
    folder_id TEXT,
    last_indexed INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(folder_id);
CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);

-- Chunks (replaced wholesale on content change)
CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    text TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

-- Entity registry (append/merge-only from the pipeline's point of view)
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    tier INTEGER NOT NULL DEFAULT 0,
    confidence INTEGER NOT NULL DEFAULT 0,
    reasoning TEXT,
    occurrences INTEGER NOT NULL DEFAULT 0,
    relations TEXT,
    aliases TEXT,
    found_in TEXT,
    role TEXT,
    avatar TEXT,
    raw_content TEXT,
    master_document_id TEXT,
    ephemeral INTEGER NOT NULL DEFAULT 1,
    last_updated INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);

-- Folder tree
CREATE TABLE IF NOT EXISTS folders (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    parent_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);

-- Entity type -> destination folder mappings (provisioned on demand)
CREATE TABLE IF NOT EXISTS folder_mappings (
    kind TEXT PRIMARY KEY,
    folder_id TEXT NOT NULL
);
`

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Documents
// =============================================================================

// UpsertDocument inserts or replaces a document record.
func (s *SQLiteStore) UpsertDocument(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO documents (id, path, name, content_hash, category, narrative_intent, folder_id, last_indexed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			name = excluded.name,
			content_hash = excluded.content_hash,
			category = excluded.category,
			narrative_intent = excluded.narrative_intent,
			folder_id = excluded.folder_id,
			last_indexed = excluded.last_indexed
	`, doc.ID, doc.Path, doc.Name, doc.ContentHash, doc.Category,
		nullStr(doc.NarrativeIntent), nullStr(doc.FolderID), doc.LastIndexed)

	return err
}

// GetDocument retrieves a document by ID.
func (s *SQLiteStore) GetDocument(id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc Document
	var intent, folderID sql.NullString

	err := s.db.QueryRow(`
		SELECT id, path, name, content_hash, category, narrative_intent, folder_id, last_indexed
		FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Path, &doc.Name, &doc.ContentHash, &doc.Category,
		&intent, &folderID, &doc.LastIndexed)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc.NarrativeIntent = intent.String
	doc.FolderID = folderID.String
	return &doc, nil
}

// DeleteDocument removes a document record. Chunks are deleted separately.
func (s *SQLiteStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	return err
}

// ListDocuments returns all documents, optionally filtered by category.
func (s *SQLiteStore) ListDocuments(category string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error

	if category != "" {
		rows, err = s.db.Query(`
			SELECT id, path, name, content_hash, category, narrative_intent, folder_id, last_indexed
			FROM documents WHERE category = ? ORDER BY path
		`, category)
	} else {
		rows, err = s.db.Query(`
			SELECT id, path, name, content_hash, category, narrative_intent, folder_id, last_indexed
			FROM documents ORDER BY path
		`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStore) CountDocuments() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// =============================================================================
// Chunks
// =============================================================================

// InsertChunk stores one chunk row.
func (s *SQLiteStore) InsertChunk(chunk *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO chunks (id, document_id, ordinal, text) VALUES (?, ?, ?, ?)
	`, chunk.ID, chunk.DocumentID, chunk.Ordinal, chunk.Text)
	return err
}

// ListChunksByDocument returns a document's chunks in ordinal order.
func (s *SQLiteStore) ListChunksByDocument(documentID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, document_id, ordinal, text FROM chunks
		WHERE document_id = ? ORDER BY ordinal
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// DeleteChunksByDocument removes all chunks for a document and reports how
// many were deleted.
func (s *SQLiteStore) DeleteChunksByDocument(documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStore) CountChunks() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// =============================================================================
// Entity registry
// =============================================================================

// ApplyEntityBatch applies up to MaxBatchSize merge-only upserts in one
// transaction. Occurrences are bumped via an additive increment, the tier
// and confidence are only ever raised, and empty incoming fields never
// clobber stored values. The registry is never pruned here.
func (s *SQLiteStore) ApplyEntityBatch(ops []EntityUpsert) error {
	if len(ops) > MaxBatchSize {
		return ErrBatchTooLarge
	}
	if len(ops) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		// Merge the bounded JSON lists against what is already stored.
		foundIn, aliases, err := mergedLists(tx, op)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO entities (id, name, kind, tier, confidence, reasoning, occurrences,
				relations, aliases, found_in, role, avatar, raw_content, master_document_id,
				ephemeral, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, '[]', ?, ?, ?, ?, ?, NULL, 1, strftime('%s','now') * 1000)
			ON CONFLICT(id) DO UPDATE SET
				name = CASE WHEN excluded.name = '' THEN entities.name ELSE excluded.name END,
				kind = CASE WHEN excluded.kind = 'UNKNOWN' THEN entities.kind ELSE excluded.kind END,
				tier = MAX(entities.tier, excluded.tier),
				confidence = MAX(entities.confidence, excluded.confidence),
				reasoning = CASE WHEN excluded.confidence >= entities.confidence
					THEN COALESCE(excluded.reasoning, entities.reasoning)
					ELSE entities.reasoning END,
				occurrences = entities.occurrences + excluded.occurrences,
				aliases = excluded.aliases,
				found_in = excluded.found_in,
				role = COALESCE(excluded.role, entities.role),
				avatar = COALESCE(excluded.avatar, entities.avatar),
				raw_content = COALESCE(excluded.raw_content, entities.raw_content),
				last_updated = excluded.last_updated
		`, op.ID, op.Name, op.Kind.String(), int(op.Tier), op.Confidence,
			nullStr(op.Reasoning), op.OccurrencesDelta, aliases, foundIn,
			nullStr(op.Role), nullStr(op.Avatar), nullStr(op.RawContent))
		if err != nil {
			return fmt.Errorf("failed to upsert entity %q: %w", op.Name, err)
		}
	}

	return tx.Commit()
}

// mergedLists combines incoming foundIn/aliases with the stored values,
// deduplicated and capped, inside the batch transaction.
func mergedLists(tx *sql.Tx, op EntityUpsert) (string, string, error) {
	var foundInJSON, aliasesJSON sql.NullString
	err := tx.QueryRow(`SELECT found_in, aliases FROM entities WHERE id = ?`, op.ID).
		Scan(&foundInJSON, &aliasesJSON)
	if err != nil && err != sql.ErrNoRows {
		return "", "", err
	}

	foundIn := mergeBounded(decodeList(foundInJSON.String), op.FoundIn, entity.MaxFoundIn)
	aliases := mergeBounded(decodeList(aliasesJSON.String), op.Aliases, 0)

	fj, err := json.Marshal(foundIn)
	if err != nil {
		return "", "", err
	}
	aj, err := json.Marshal(aliases)
	if err != nil {
		return "", "", err
	}
	return string(fj), string(aj), nil
}

// GetEntity retrieves an entity by ID.
func (s *SQLiteStore) GetEntity(id string) (*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntity(`WHERE id = ?`, id)
}

// GetEntityByName finds an entity by its name (case-insensitive).
func (s *SQLiteStore) GetEntityByName(name string) (*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntity(`WHERE LOWER(name) = LOWER(?)`, name)
}

const entityColumns = `id, name, kind, tier, confidence, reasoning, occurrences,
	relations, aliases, found_in, role, avatar, raw_content, master_document_id,
	ephemeral, last_updated`

func (s *SQLiteStore) queryEntity(where string, arg any) (*EntityRecord, error) {
	row := s.db.QueryRow(`SELECT `+entityColumns+` FROM entities `+where, arg)
	rec, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*EntityRecord, error) {
	var rec EntityRecord
	var kind string
	var tier int
	var reasoning, relations, aliases, foundIn, role, avatar, rawContent, masterDoc sql.NullString
	var ephemeral int

	err := row.Scan(&rec.ID, &rec.Name, &kind, &tier, &rec.Confidence, &reasoning,
		&rec.Occurrences, &relations, &aliases, &foundIn, &role, &avatar,
		&rawContent, &masterDoc, &ephemeral, &rec.LastUpdated)
	if err != nil {
		return nil, err
	}

	rec.Kind = entity.ParseKind(kind)
	rec.Tier = entity.Tier(tier)
	rec.Reasoning = reasoning.String
	rec.Relations = decodeList(relations.String)
	rec.Aliases = decodeList(aliases.String)
	rec.FoundIn = decodeList(foundIn.String)
	rec.Role = role.String
	rec.Avatar = avatar.String
	rec.RawContent = rawContent.String
	rec.MasterDocumentID = masterDoc.String
	rec.Ephemeral = ephemeral != 0
	return &rec, nil
}

// ListEntities returns all entities, optionally filtered by kind.
func (s *SQLiteStore) ListEntities(kind string) ([]*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error

	if kind != "" {
		rows, err = s.db.Query(`SELECT `+entityColumns+` FROM entities WHERE kind = ? ORDER BY name`,
			strings.ToUpper(kind))
	} else {
		rows, err = s.db.Query(`SELECT ` + entityColumns + ` FROM entities ORDER BY name`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*EntityRecord
	for rows.Next() {
		rec, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountEntities returns the total number of registry entries.
func (s *SQLiteStore) CountEntities() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&count)
	return count, err
}

// SetMasterDocument attaches a canonical document to an entity and clears
// the ephemeral flag. This is the terminal "crystallized" state.
func (s *SQLiteStore) SetMasterDocument(entityID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE entities SET master_document_id = ?, ephemeral = 0,
			last_updated = strftime('%s','now') * 1000
		WHERE id = ?
	`, documentID, entityID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEntity removes a registry entry. The resolution pipeline never calls
// this; it exists for explicit user-driven cleanup.
func (s *SQLiteStore) DeleteEntity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM entities WHERE id = ?`, id)
	return err
}

// =============================================================================
// Folders and taxonomy mappings
// =============================================================================

// CreateFolder inserts a folder node.
func (s *SQLiteStore) CreateFolder(folder *Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO folders (id, name, parent_id) VALUES (?, ?, ?)`,
		folder.ID, folder.Name, nullStr(folder.ParentID))
	return err
}

// GetFolder retrieves a folder by ID.
func (s *SQLiteStore) GetFolder(id string) (*Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f Folder
	var parent sql.NullString
	err := s.db.QueryRow(`SELECT id, name, parent_id FROM folders WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &parent)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.ParentID = parent.String
	return &f, nil
}

// ListFolderChildren returns the folders directly under a parent.
func (s *SQLiteStore) ListFolderChildren(parentID string) ([]*Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, parent_id FROM folders
		WHERE parent_id = ? OR (parent_id IS NULL AND ? = '') ORDER BY name
	`, parentID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []*Folder
	for rows.Next() {
		var f Folder
		var parent sql.NullString
		if err := rows.Scan(&f.ID, &f.Name, &parent); err != nil {
			return nil, err
		}
		f.ParentID = parent.String
		folders = append(folders, &f)
	}
	return folders, rows.Err()
}

// ListFolderDocuments returns the documents directly inside a folder.
func (s *SQLiteStore) ListFolderDocuments(folderID string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, path, name, content_hash, category, narrative_intent, folder_id, last_indexed
		FROM documents WHERE folder_id = ? ORDER BY name
	`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// MoveDocument reparents a document into a folder.
func (s *SQLiteStore) MoveDocument(documentID, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE documents SET folder_id = ? WHERE id = ?`, folderID, documentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FolderPath resolves the full virtual path of a folder for audit and
// provenance output, walking parents up to the root.
func (s *SQLiteStore) FolderPath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var parts []string
	current := id
	// Bounded walk to guard against a cycle in the tree.
	for depth := 0; current != "" && depth < 64; depth++ {
		var name string
		var parent sql.NullString
		err := s.db.QueryRow(`SELECT name, parent_id FROM folders WHERE id = ?`, current).
			Scan(&name, &parent)
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		if err != nil {
			return "", err
		}
		parts = append([]string{name}, parts...)
		current = parent.String
	}
	return strings.Join(parts, "/"), nil
}

// GetFolderMapping returns the destination folder mapped to an entity kind.
func (s *SQLiteStore) GetFolderMapping(kind string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var folderID string
	err := s.db.QueryRow(`SELECT folder_id FROM folder_mappings WHERE kind = ?`,
		strings.ToUpper(kind)).Scan(&folderID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return folderID, err
}

// SetFolderMapping persists a kind -> folder mapping.
func (s *SQLiteStore) SetFolderMapping(kind, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO folder_mappings (kind, folder_id) VALUES (?, ?)
		ON CONFLICT(kind) DO UPDATE SET folder_id = excluded.folder_id
	`, strings.ToUpper(kind), folderID)
	return err
}

// =============================================================================
// Helpers
// =============================================================================

func scanDocuments(rows *sql.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		var doc Document
		var intent, folderID sql.NullString
		if err := rows.Scan(&doc.ID, &doc.Path, &doc.Name, &doc.ContentHash, &doc.Category,
			&intent, &folderID, &doc.LastIndexed); err != nil {
			return nil, err
		}
		doc.NarrativeIntent = intent.String
		doc.FolderID = folderID.String
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func decodeList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

// mergeBounded appends incoming items not already present. cap 0 = unbounded.
func mergeBounded(existing, incoming []string, limit int) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string{}, existing...)
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range incoming {
		if s == "" || seen[s] {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s)
		seen[s] = true
	}
	return out
}

// nullStr maps empty strings to SQL NULL so optional fields are stored as an
// explicit null, never an empty sentinel.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Compile-time interface check
var _ Storer = (*SQLiteStore)(nil)
