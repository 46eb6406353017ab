// Package crystal promotes registry entities into canonical documents:
// resolves or provisions the type folder, decides create vs append vs
// adopt-existing, and pins the resulting document on the entity record.
package crystal

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/KikDevKik/MyWorld-sub004/internal/indexer"
	"github.com/KikDevKik/MyWorld-sub004/internal/store"
	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

// Concurrency limits for PromoteAll.
const (
	promoteWorkers = 3
	warmupWorkers  = 10
)

// Promotion actions.
const (
	ActionCreated  = "created"
	ActionAppended = "appended"
	ActionAdopted  = "adopted"
)

// PromoteResult reports where one entity crystallized.
type PromoteResult struct {
	EntityID   string `json:"entityId"`
	DocumentID string `json:"documentId"`
	FolderID   string `json:"folderId"`
	Path       string `json:"path"`
	Action     string `json:"action"`
}

// PromoteFailure is one entity that could not be promoted in a PromoteAll
// run.
type PromoteFailure struct {
	EntityID string `json:"entityId"`
	Error    string `json:"error"`
}

// PromoteAllResult aggregates a batch promotion.
type PromoteAllResult struct {
	Promoted []PromoteResult  `json:"promoted"`
	Failures []PromoteFailure `json:"failures"`
}

// Crystallizer owns the promotion flow.
type Crystallizer struct {
	store store.Storer
	index *indexer.Indexer
	log   *zap.Logger

	flight singleflight.Group
}

func New(s store.Storer, ix *indexer.Indexer, log *zap.Logger) *Crystallizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Crystallizer{store: s, index: ix, log: log}
}

// folderName maps an entity kind to its conventional folder. Unknown kinds
// land directly in the root.
func folderName(k entity.Kind) string {
	switch k {
	case entity.KindCharacter:
		return "Characters"
	case entity.KindCreature:
		return "Bestiary"
	case entity.KindLocation:
		return "Locations"
	case entity.KindFaction:
		return "Factions"
	case entity.KindFlora:
		return "Flora"
	case entity.KindItem:
		return "Items"
	default:
		return ""
	}
}

// folderCache memoizes kind→folder resolution for one invocation. Shared
// across PromoteAll workers.
type folderCache struct {
	mu     sync.Mutex
	byKind map[entity.Kind]string
}

func newFolderCache() *folderCache {
	return &folderCache{byKind: make(map[entity.Kind]string)}
}

func (fc *folderCache) get(k entity.Kind) (string, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	id, ok := fc.byKind[k]
	return id, ok
}

func (fc *folderCache) set(k entity.Kind, id string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.byKind[k] = id
}

// Promote crystallizes a single entity under targetRootID.
func (c *Crystallizer) Promote(ctx context.Context, entityID, targetRootID string) (PromoteResult, error) {
	return c.promote(ctx, entityID, targetRootID, newFolderCache())
}

func (c *Crystallizer) promote(ctx context.Context, entityID, targetRootID string, cache *folderCache) (PromoteResult, error) {
	if err := ctx.Err(); err != nil {
		return PromoteResult{}, err
	}

	rec, err := c.store.GetEntity(entityID)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("failed to load entity %s: %w", entityID, err)
	}

	folderID, err := c.resolveFolder(rec.Kind, targetRootID, cache)
	if err != nil {
		return PromoteResult{}, err
	}

	folderPath, err := c.store.FolderPath(folderID)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("failed to resolve folder path: %w", err)
	}

	docPath := folderPath + "/" + rec.Name + ".md"
	target, action, err := c.adopt(rec, folderID, docPath)
	if err != nil {
		return PromoteResult{}, err
	}

	content := canonicalContent(rec)
	ingestPath := docPath
	ingestName := rec.Name + ".md"
	if target != nil {
		content = appendContent(c.chunkText(target.ID), rec)
		ingestPath = target.Path
		ingestName = target.Name
	}

	res, err := c.index.Ingest(ctx, indexer.IngestDoc{
		Path:     ingestPath,
		Name:     ingestName,
		Category: "canon",
	}, content)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("failed to index canonical document: %w", err)
	}
	if res.Status == indexer.StatusError {
		return PromoteResult{}, fmt.Errorf("canonical document rejected: %s", res.Reason)
	}

	if err := c.store.MoveDocument(res.DocumentID, folderID); err != nil {
		return PromoteResult{}, fmt.Errorf("failed to file document: %w", err)
	}
	if err := c.store.SetMasterDocument(rec.ID, res.DocumentID); err != nil {
		return PromoteResult{}, fmt.Errorf("failed to pin master document: %w", err)
	}

	c.log.Info("entity promoted",
		zap.String("entityId", rec.ID),
		zap.String("documentId", res.DocumentID),
		zap.String("action", action))

	return PromoteResult{
		EntityID:   rec.ID,
		DocumentID: res.DocumentID,
		FolderID:   folderID,
		Path:       ingestPath,
		Action:     action,
	}, nil
}

// adopt finds an existing document to fold the entity into, in order:
// deterministic path id, the registry's master document, a filename
// collision in the target folder. Nil means a fresh document.
func (c *Crystallizer) adopt(rec *store.EntityRecord, folderID, docPath string) (*store.Document, string, error) {
	if doc, err := c.store.GetDocument(indexer.DocumentID(docPath)); err == nil {
		return doc, ActionAppended, nil
	} else if err != store.ErrNotFound {
		return nil, "", fmt.Errorf("failed to check canonical path: %w", err)
	}

	if rec.MasterDocumentID != "" {
		if doc, err := c.store.GetDocument(rec.MasterDocumentID); err == nil {
			return doc, ActionAppended, nil
		} else if err != store.ErrNotFound {
			return nil, "", fmt.Errorf("failed to check master document: %w", err)
		}
	}

	docs, err := c.store.ListFolderDocuments(folderID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list folder documents: %w", err)
	}
	want := strings.ToLower(rec.Name) + ".md"
	for _, doc := range docs {
		if strings.ToLower(doc.Name) == want {
			return doc, ActionAdopted, nil
		}
	}

	return nil, ActionCreated, nil
}

// resolveFolder finds or provisions the folder for a kind under the root.
// Lookups collapse through singleflight so concurrent promotions of the same
// kind provision exactly one folder.
func (c *Crystallizer) resolveFolder(kind entity.Kind, rootID string, cache *folderCache) (string, error) {
	if id, ok := cache.get(kind); ok {
		return id, nil
	}

	name := folderName(kind)
	if name == "" {
		cache.set(kind, rootID)
		return rootID, nil
	}

	key := rootID + "/" + name
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		return c.findOrCreateFolder(kind, name, rootID)
	})
	if err != nil {
		return "", err
	}

	id := v.(string)
	cache.set(kind, id)
	return id, nil
}

func (c *Crystallizer) findOrCreateFolder(kind entity.Kind, name, rootID string) (string, error) {
	if id, err := c.store.GetFolderMapping(kind.String()); err == nil {
		if _, ferr := c.store.GetFolder(id); ferr == nil {
			return id, nil
		}
		// Stale mapping, fall through and re-provision.
	} else if err != store.ErrNotFound {
		return "", fmt.Errorf("failed to read folder mapping: %w", err)
	}

	children, err := c.store.ListFolderChildren(rootID)
	if err != nil {
		return "", fmt.Errorf("failed to list root folders: %w", err)
	}
	for _, f := range children {
		if strings.EqualFold(f.Name, name) {
			if err := c.store.SetFolderMapping(kind.String(), f.ID); err != nil {
				return "", fmt.Errorf("failed to save folder mapping: %w", err)
			}
			return f.ID, nil
		}
	}

	folder := &store.Folder{ID: uuid.NewString(), Name: name, ParentID: rootID}
	if err := c.store.CreateFolder(folder); err != nil {
		return "", fmt.Errorf("failed to create folder %q: %w", name, err)
	}
	if err := c.store.SetFolderMapping(kind.String(), folder.ID); err != nil {
		return "", fmt.Errorf("failed to save folder mapping: %w", err)
	}

	c.log.Info("folder provisioned", zap.String("name", name), zap.String("id", folder.ID))
	return folder.ID, nil
}

// PromoteAll promotes a set of entities with bounded concurrency. Folder
// resolution is warmed up first so workers rarely contend on provisioning.
// Per-entity failures are collected; only context cancellation is fatal.
func (c *Crystallizer) PromoteAll(ctx context.Context, entityIDs []string, targetRootID string) (PromoteAllResult, error) {
	cache := newFolderCache()
	c.warmFolders(ctx, entityIDs, targetRootID, cache)

	var (
		result PromoteAllResult
		mu     sync.Mutex
		sem    = semaphore.NewWeighted(promoteWorkers)
		wg     sync.WaitGroup
	)

	for _, id := range entityIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return result, err
		}
		wg.Add(1)
		go func(entityID string) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := c.promote(ctx, entityID, targetRootID, cache)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, PromoteFailure{EntityID: entityID, Error: err.Error()})
				return
			}
			result.Promoted = append(result.Promoted, res)
		}(id)
	}

	wg.Wait()
	return result, nil
}

// warmFolders pre-resolves the folder for every kind in the batch.
func (c *Crystallizer) warmFolders(ctx context.Context, entityIDs []string, rootID string, cache *folderCache) {
	kinds := make(map[entity.Kind]bool)
	for _, id := range entityIDs {
		rec, err := c.store.GetEntity(id)
		if err != nil {
			continue
		}
		kinds[rec.Kind] = true
	}

	sem := semaphore.NewWeighted(warmupWorkers)
	var wg sync.WaitGroup
	for kind := range kinds {
		if sem.Acquire(ctx, 1) != nil {
			break
		}
		wg.Add(1)
		go func(k entity.Kind) {
			defer wg.Done()
			defer sem.Release(1)
			if _, err := c.resolveFolder(k, rootID, cache); err != nil {
				c.log.Warn("folder warmup failed", zap.String("kind", k.String()), zap.Error(err))
			}
		}(kind)
	}
	wg.Wait()
}

func (c *Crystallizer) chunkText(documentID string) string {
	chunks, err := c.store.ListChunksByDocument(documentID)
	if err != nil || len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	for _, ch := range chunks {
		b.WriteString(ch.Text)
	}
	return b.String()
}

// canonicalContent renders the generated master document for an entity.
func canonicalContent(rec *store.EntityRecord) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "name: %s\n", rec.Name)
	fmt.Fprintf(&b, "type: %s\n", strings.ToLower(rec.Kind.String()))
	if rec.Role != "" {
		fmt.Fprintf(&b, "role: %s\n", rec.Role)
	}
	if rec.Avatar != "" {
		fmt.Fprintf(&b, "avatar: %s\n", rec.Avatar)
	}
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", rec.Name)

	if rec.RawContent != "" {
		b.WriteString(rec.RawContent)
		b.WriteString("\n")
	}
	if len(rec.FoundIn) > 0 {
		b.WriteString("\n## Mentions\n\n")
		for _, snippet := range rec.FoundIn {
			fmt.Fprintf(&b, "- %s\n", snippet)
		}
	}
	return b.String()
}

// appendContent folds the entity's current material onto an adopted
// document's text.
func appendContent(existing string, rec *store.EntityRecord) string {
	if existing == "" {
		return canonicalContent(rec)
	}
	// Already the generated canonical document for this entity.
	if strings.HasPrefix(existing, "---\nname: "+rec.Name+"\n") {
		return existing
	}
	section := canonicalSection(rec)
	if strings.Contains(existing, section) {
		return existing
	}
	return strings.TrimRight(existing, "\n") + "\n\n" + section
}

func canonicalSection(rec *store.EntityRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", rec.Name)
	if rec.RawContent != "" {
		b.WriteString(rec.RawContent)
		b.WriteString("\n")
	}
	for _, snippet := range rec.FoundIn {
		fmt.Fprintf(&b, "- %s\n", snippet)
	}
	return b.String()
}
