// Package store provides persistence for the entity registry and the
// document index. SQLiteStore is the production implementation; MemStore
// backs tests.
package store

import (
	"errors"

	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

// MaxBatchSize is the hard write-count limit per entity batch. The backing
// store rejects larger transactions, so callers slice above this.
const MaxBatchSize = 400

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
var ErrBatchTooLarge = errors.New("store: batch exceeds write limit")

// Document is an indexed source document. ID is derived from the logical
// path, not from any storage identifier: two documents with the same content
// at different paths are distinct.
type Document struct {
	ID              string `json:"id"`
	Path            string `json:"path"`
	Name            string `json:"name"`
	ContentHash     string `json:"contentHash"`
	Category        string `json:"category"` // "canon" | "reference"
	NarrativeIntent string `json:"narrativeIntent,omitempty"`
	FolderID        string `json:"folderId,omitempty"`
	LastIndexed     int64  `json:"lastIndexed"`
}

// Chunk is a slice of a document's text. Chunks are replaced wholesale
// whenever the owning document's content hash changes.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
}

// EntityRecord is a persisted registry entry. Occurrences only ever
// increases; this subsystem never prunes the registry.
type EntityRecord struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Kind             entity.Kind `json:"kind"`
	Tier             entity.Tier `json:"tier"`
	Confidence       int         `json:"confidence"`
	Reasoning        string      `json:"reasoning,omitempty"`
	Occurrences      int         `json:"occurrences"`
	Relations        []string    `json:"relations"`
	Aliases          []string    `json:"aliases"`
	FoundIn          []string    `json:"foundIn"`
	Role             string      `json:"role,omitempty"`
	Avatar           string      `json:"avatar,omitempty"`
	RawContent       string      `json:"rawContent,omitempty"`
	MasterDocumentID string      `json:"masterDocumentId,omitempty"`
	Ephemeral        bool        `json:"ephemeral"`
	LastUpdated      int64       `json:"lastUpdated"`
}

// Folder is a node in the virtual folder tree.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// EntityUpsert is one merge-only write against the registry. Empty optional
// fields never clobber stored values, and OccurrencesDelta is applied as an
// additive server-side increment rather than a read-modify-write.
type EntityUpsert struct {
	ID               string
	Name             string
	Kind             entity.Kind
	Tier             entity.Tier
	Confidence       int
	Reasoning        string
	OccurrencesDelta int
	FoundIn          []string
	Aliases          []string
	Role             string
	Avatar           string
	RawContent       string
}

// Storer is the persistence interface. SQLiteStore and MemStore both
// implement it so the same test suite runs against each.
type Storer interface {
	// Documents
	UpsertDocument(doc *Document) error
	GetDocument(id string) (*Document, error)
	DeleteDocument(id string) error
	ListDocuments(category string) ([]*Document, error)
	CountDocuments() (int, error)

	// Chunks
	InsertChunk(chunk *Chunk) error
	ListChunksByDocument(documentID string) ([]*Chunk, error)
	DeleteChunksByDocument(documentID string) (int, error)
	CountChunks() (int, error)

	// Entity registry
	ApplyEntityBatch(ops []EntityUpsert) error
	GetEntity(id string) (*EntityRecord, error)
	GetEntityByName(name string) (*EntityRecord, error)
	ListEntities(kind string) ([]*EntityRecord, error)
	CountEntities() (int, error)
	SetMasterDocument(entityID, documentID string) error
	DeleteEntity(id string) error

	// Folders and taxonomy mappings
	CreateFolder(folder *Folder) error
	GetFolder(id string) (*Folder, error)
	ListFolderChildren(parentID string) ([]*Folder, error)
	ListFolderDocuments(folderID string) ([]*Document, error)
	MoveDocument(documentID, folderID string) error
	FolderPath(id string) (string, error)
	GetFolderMapping(kind string) (string, error)
	SetFolderMapping(kind, folderID string) error

	// Lifecycle
	Close() error
}
