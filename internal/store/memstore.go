package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

// MemStore is an in-memory implementation of Storer for testing.
type MemStore struct {
	mu        sync.RWMutex
	documents map[string]*Document
	chunks    map[string]*Chunk
	entities  map[string]*EntityRecord
	folders   map[string]*Folder
	mappings  map[string]string
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		documents: make(map[string]*Document),
		chunks:    make(map[string]*Chunk),
		entities:  make(map[string]*EntityRecord),
		folders:   make(map[string]*Folder),
		mappings:  make(map[string]string),
	}
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error {
	return nil
}

// =============================================================================
// Documents
// =============================================================================

func (s *MemStore) UpsertDocument(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *MemStore) GetDocument(id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if doc, ok := s.documents[id]; ok {
		cp := *doc
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.documents, id)
	return nil
}

func (s *MemStore) ListDocuments(category string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []*Document
	for _, doc := range s.documents {
		if category != "" && doc.Category != category {
			continue
		}
		cp := *doc
		docs = append(docs, &cp)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (s *MemStore) CountDocuments() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

// =============================================================================
// Chunks
// =============================================================================

func (s *MemStore) InsertChunk(chunk *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *chunk
	s.chunks[chunk.ID] = &cp
	return nil
}

func (s *MemStore) ListChunksByDocument(documentID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []*Chunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			cp := *c
			chunks = append(chunks, &cp)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })
	return chunks, nil
}

func (s *MemStore) DeleteChunksByDocument(documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemStore) CountChunks() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// =============================================================================
// Entity registry
// =============================================================================

func (s *MemStore) ApplyEntityBatch(ops []EntityUpsert) error {
	if len(ops) > MaxBatchSize {
		return ErrBatchTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	for _, op := range ops {
		existing, ok := s.entities[op.ID]
		if !ok {
			kind := op.Kind
			s.entities[op.ID] = &EntityRecord{
				ID:          op.ID,
				Name:        op.Name,
				Kind:        kind,
				Tier:        op.Tier,
				Confidence:  op.Confidence,
				Reasoning:   op.Reasoning,
				Occurrences: op.OccurrencesDelta,
				Relations:   []string{},
				Aliases:     mergeBounded(nil, op.Aliases, 0),
				FoundIn:     mergeBounded(nil, op.FoundIn, entity.MaxFoundIn),
				Role:        op.Role,
				Avatar:      op.Avatar,
				RawContent:  op.RawContent,
				Ephemeral:   true,
				LastUpdated: now,
			}
			continue
		}

		if op.Name != "" {
			existing.Name = op.Name
		}
		if op.Kind != entity.KindUnknown {
			existing.Kind = op.Kind
		}
		if op.Tier > existing.Tier {
			existing.Tier = op.Tier
		}
		if op.Confidence >= existing.Confidence {
			existing.Confidence = op.Confidence
			if op.Reasoning != "" {
				existing.Reasoning = op.Reasoning
			}
		}
		existing.Occurrences += op.OccurrencesDelta
		existing.Aliases = mergeBounded(existing.Aliases, op.Aliases, 0)
		existing.FoundIn = mergeBounded(existing.FoundIn, op.FoundIn, entity.MaxFoundIn)
		if op.Role != "" {
			existing.Role = op.Role
		}
		if op.Avatar != "" {
			existing.Avatar = op.Avatar
		}
		if op.RawContent != "" {
			existing.RawContent = op.RawContent
		}
		existing.LastUpdated = now
	}
	return nil
}

func (s *MemStore) GetEntity(id string) (*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.entities[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemStore) GetEntityByName(name string) (*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.entities {
		if strings.EqualFold(rec.Name, name) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) ListEntities(kind string) ([]*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*EntityRecord
	for _, rec := range s.entities {
		if kind != "" && !strings.EqualFold(rec.Kind.String(), kind) {
			continue
		}
		cp := *rec
		records = append(records, &cp)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (s *MemStore) CountEntities() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), nil
}

func (s *MemStore) SetMasterDocument(entityID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entities[entityID]
	if !ok {
		return ErrNotFound
	}
	rec.MasterDocumentID = documentID
	rec.Ephemeral = false
	rec.LastUpdated = time.Now().UnixMilli()
	return nil
}

func (s *MemStore) DeleteEntity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entities, id)
	return nil
}

// =============================================================================
// Folders and taxonomy mappings
// =============================================================================

func (s *MemStore) CreateFolder(folder *Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *folder
	s.folders[folder.ID] = &cp
	return nil
}

func (s *MemStore) GetFolder(id string) (*Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f, ok := s.folders[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemStore) ListFolderChildren(parentID string) ([]*Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var folders []*Folder
	for _, f := range s.folders {
		if f.ParentID == parentID {
			cp := *f
			folders = append(folders, &cp)
		}
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

func (s *MemStore) ListFolderDocuments(folderID string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []*Document
	for _, doc := range s.documents {
		if doc.FolderID == folderID {
			cp := *doc
			docs = append(docs, &cp)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func (s *MemStore) MoveDocument(documentID, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	doc.FolderID = folderID
	return nil
}

func (s *MemStore) FolderPath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var parts []string
	current := id
	for depth := 0; current != "" && depth < 64; depth++ {
		f, ok := s.folders[current]
		if !ok {
			return "", ErrNotFound
		}
		parts = append([]string{f.Name}, parts...)
		current = f.ParentID
	}
	return strings.Join(parts, "/"), nil
}

func (s *MemStore) GetFolderMapping(kind string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if folderID, ok := s.mappings[strings.ToUpper(kind)]; ok {
		return folderID, nil
	}
	return "", ErrNotFound
}

func (s *MemStore) SetFolderMapping(kind, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mappings[strings.ToUpper(kind)] = folderID
	return nil
}

// Compile-time interface check
var _ Storer = (*MemStore)(nil)
