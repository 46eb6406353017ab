// Package indexer manages the document and chunk lifecycle: stable IDs from
// logical paths, hash-based change detection, and embedding upkeep.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KikDevKik/MyWorld-sub004/internal/llm"
	"github.com/KikDevKik/MyWorld-sub004/internal/store"
	"github.com/KikDevKik/MyWorld-sub004/pkg/vector"
)

// MaxChunkRunes bounds the text stored per chunk. Longer documents are
// truncated, not split.
const MaxChunkRunes = 8000

// Ingest statuses.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusError     = "error"
)

// IngestDoc identifies a document being ingested. Path is the identity
// source; Name and Category are metadata.
type IngestDoc struct {
	Path     string
	Name     string
	Category string
}

// IngestResult reports what a single Ingest call did.
type IngestResult struct {
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	DocumentID    string `json:"documentId,omitempty"`
	Hash          string `json:"hash,omitempty"`
	ChunksCreated int    `json:"chunksCreated"`
	ChunksDeleted int    `json:"chunksDeleted"`
}

// ChunkHit is one semantic search result.
type ChunkHit struct {
	ChunkID    string `json:"chunkId"`
	DocumentID string `json:"documentId"`
	Text       string `json:"text"`
}

// Indexer wires the store, the vector index and the embedder together.
// Embedder may be nil; chunks are then stored without vectors.
type Indexer struct {
	store    store.Storer
	vectors  *vector.Index
	embedder llm.Embedder
	log      *zap.Logger
}

func New(s store.Storer, vx *vector.Index, emb llm.Embedder, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Indexer{store: s, vectors: vx, embedder: emb, log: log}
}

// DocumentID derives the stable id from a logical path: hex SHA-256 of the
// cleaned path, truncated to 32 hex chars. Two paths with identical content
// remain distinct documents.
func DocumentID(p string) string {
	cleaned := path.Clean(strings.TrimSpace(p))
	sum := sha256.Sum256([]byte(cleaned))
	return hex.EncodeToString(sum[:16])
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func chunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", documentID, ordinal)
}

// narrativeIntent tags a document from its filename suffix. Advisory only.
func narrativeIntent(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	lower := strings.ToLower(base)
	switch {
	case strings.HasSuffix(lower, "ideas"):
		return "plot-ideas"
	case strings.HasSuffix(lower, "plot"):
		return "plot"
	case strings.HasSuffix(lower, "timeline"):
		return "timeline"
	case strings.HasSuffix(lower, "outline"):
		return "outline"
	default:
		return ""
	}
}

// Ingest indexes one document. Validation failures come back as
// Status=error in the result, not as a Go error; Go errors are reserved for
// storage faults.
func (ix *Indexer) Ingest(ctx context.Context, doc IngestDoc, content string) (IngestResult, error) {
	if strings.TrimSpace(doc.Path) == "" {
		return IngestResult{Status: StatusError, Reason: "document path is required"}, nil
	}
	if content == "" {
		return IngestResult{Status: StatusError, Reason: "content is empty"}, nil
	}

	docID := DocumentID(doc.Path)
	hash := contentHash(content)
	name := doc.Name
	if name == "" {
		name = path.Base(doc.Path)
	}
	category := doc.Category
	if category == "" {
		category = "canon"
	}

	record := store.Document{
		ID:              docID,
		Path:            doc.Path,
		Name:            name,
		ContentHash:     hash,
		Category:        category,
		NarrativeIntent: narrativeIntent(name),
		LastIndexed:     time.Now().Unix(),
	}

	existing, err := ix.store.GetDocument(docID)
	if err == nil && existing.ContentHash == hash {
		// Fast path: content unchanged, refresh metadata only.
		record.FolderID = existing.FolderID
		if err := ix.store.UpsertDocument(&record); err != nil {
			return IngestResult{}, fmt.Errorf("failed to refresh document %s: %w", docID, err)
		}
		return IngestResult{Status: StatusSkipped, DocumentID: docID, Hash: hash}, nil
	}
	if err != nil && err != store.ErrNotFound {
		return IngestResult{}, fmt.Errorf("failed to load document %s: %w", docID, err)
	}
	if existing != nil {
		record.FolderID = existing.FolderID
	}

	deleted, err := ix.removeChunks(docID)
	if err != nil {
		return IngestResult{}, err
	}

	text := truncateRunes(content, MaxChunkRunes)
	chunk := store.Chunk{
		ID:         chunkID(docID, 0),
		DocumentID: docID,
		Ordinal:    0,
		Text:       text,
	}
	if err := ix.store.InsertChunk(&chunk); err != nil {
		return IngestResult{}, fmt.Errorf("failed to store chunk for %s: %w", docID, err)
	}
	ix.embedChunk(ctx, chunk)

	if err := ix.store.UpsertDocument(&record); err != nil {
		return IngestResult{}, fmt.Errorf("failed to store document %s: %w", docID, err)
	}

	ix.log.Debug("document indexed",
		zap.String("documentId", docID),
		zap.String("path", doc.Path),
		zap.Int("chunksDeleted", deleted))

	return IngestResult{
		Status:        StatusProcessed,
		DocumentID:    docID,
		Hash:          hash,
		ChunksCreated: 1,
		ChunksDeleted: deleted,
	}, nil
}

// embedChunk is best-effort: an embedding failure downgrades the chunk to
// keyword-only, it never fails the ingest.
func (ix *Indexer) embedChunk(ctx context.Context, chunk store.Chunk) {
	if ix.embedder == nil || ix.vectors == nil {
		return
	}
	vec, err := ix.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		ix.log.Warn("embedding failed, chunk stored without vector",
			zap.String("chunkId", chunk.ID), zap.Error(err))
		return
	}
	if err := ix.vectors.Add(chunk.ID, vec); err != nil {
		ix.log.Warn("vector insert failed",
			zap.String("chunkId", chunk.ID), zap.Error(err))
	}
}

func (ix *Indexer) removeChunks(docID string) (int, error) {
	if ix.vectors != nil {
		chunks, err := ix.store.ListChunksByDocument(docID)
		if err != nil {
			return 0, fmt.Errorf("failed to list chunks for %s: %w", docID, err)
		}
		for _, c := range chunks {
			ix.vectors.Remove(c.ID)
		}
	}
	deleted, err := ix.store.DeleteChunksByDocument(docID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", docID, err)
	}
	return deleted, nil
}

// DeleteDocumentTrace removes all chunks and the document record itself.
func (ix *Indexer) DeleteDocumentTrace(documentID string) error {
	if _, err := ix.removeChunks(documentID); err != nil {
		return err
	}
	if err := ix.store.DeleteDocument(documentID); err != nil && err != store.ErrNotFound {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

// RenameDocument migrates a document and its chunks to the id derived from
// the new path. Chunk vectors are re-embedded from the retained text.
func (ix *Indexer) RenameDocument(ctx context.Context, oldPath, newPath string) (string, error) {
	oldID := DocumentID(oldPath)
	newID := DocumentID(newPath)
	if oldID == newID {
		return oldID, nil
	}

	doc, err := ix.store.GetDocument(oldID)
	if err != nil {
		return "", fmt.Errorf("failed to load document %s: %w", oldID, err)
	}

	chunks, err := ix.store.ListChunksByDocument(oldID)
	if err != nil {
		return "", fmt.Errorf("failed to list chunks for %s: %w", oldID, err)
	}

	doc.ID = newID
	doc.Path = newPath
	doc.Name = path.Base(newPath)
	if err := ix.store.UpsertDocument(doc); err != nil {
		return "", fmt.Errorf("failed to store document %s: %w", newID, err)
	}

	for _, c := range chunks {
		moved := store.Chunk{
			ID:         chunkID(newID, c.Ordinal),
			DocumentID: newID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
		}
		if err := ix.store.InsertChunk(&moved); err != nil {
			return "", fmt.Errorf("failed to move chunk %s: %w", c.ID, err)
		}
		if ix.vectors != nil {
			ix.vectors.Remove(c.ID)
		}
		ix.embedChunk(ctx, moved)
	}

	if _, err := ix.store.DeleteChunksByDocument(oldID); err != nil {
		return "", fmt.Errorf("failed to delete chunks for %s: %w", oldID, err)
	}
	if err := ix.store.DeleteDocument(oldID); err != nil {
		return "", fmt.Errorf("failed to delete document %s: %w", oldID, err)
	}

	ix.log.Info("document renamed",
		zap.String("oldId", oldID), zap.String("newId", newID),
		zap.Int("chunks", len(chunks)))

	return newID, nil
}

// SearchChunks embeds the query and returns the k nearest chunks.
func (ix *Indexer) SearchChunks(ctx context.Context, query string, k int) ([]ChunkHit, error) {
	if ix.embedder == nil || ix.vectors == nil {
		return nil, fmt.Errorf("semantic search is not configured")
	}

	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	ids, err := ix.vectors.Search(vec, k)
	if err != nil {
		return nil, err
	}

	hits := make([]ChunkHit, 0, len(ids))
	for _, id := range ids {
		docID, _, ok := strings.Cut(id, ":")
		if !ok {
			continue
		}
		chunks, err := ix.store.ListChunksByDocument(docID)
		if err != nil {
			continue
		}
		for _, c := range chunks {
			if c.ID == id {
				hits = append(hits, ChunkHit{ChunkID: c.ID, DocumentID: docID, Text: c.Text})
				break
			}
		}
	}
	return hits, nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
