// Package pipeline orchestrates the resolution run: fetch documents, run
// heuristics, call the extraction capability, resolve against the registry
// and persist the outcome.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KikDevKik/MyWorld-sub004/internal/crystal"
	"github.com/KikDevKik/MyWorld-sub004/internal/extraction"
	"github.com/KikDevKik/MyWorld-sub004/internal/indexer"
	"github.com/KikDevKik/MyWorld-sub004/internal/registry"
	"github.com/KikDevKik/MyWorld-sub004/internal/store"
	"github.com/KikDevKik/MyWorld-sub004/pkg/dictionary"
	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
	"github.com/KikDevKik/MyWorld-sub004/pkg/resolve"
	"github.com/KikDevKik/MyWorld-sub004/pkg/scanner/candidates"
	"github.com/KikDevKik/MyWorld-sub004/pkg/scanner/heuristics"
)

// fetchWorkers bounds the document fan-out.
const fetchWorkers = 8

// Classification statuses.
const (
	StatusOK             = "ok"
	StatusEmpty          = "empty"
	StatusPartialFailure = "partial_failure"
)

// ItemFailure is one per-item error inside an otherwise successful run.
type ItemFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// TierStats counts classified candidates per tier.
type TierStats struct {
	Ghost  int `json:"ghost"`
	Limbo  int `json:"limbo"`
	Anchor int `json:"anchor"`
	Total  int `json:"total"`
}

// ResolvedCandidate pairs a finalized candidate with its merge decision.
type ResolvedCandidate struct {
	Candidate entity.Candidate     `json:"candidate"`
	Decision  entity.MergeDecision `json:"decision"`
}

// ClassifyResult is the aggregate outcome of one classification run.
type ClassifyResult struct {
	Status      string                 `json:"status"`
	Documents   int                    `json:"documents"`
	Candidates  []ResolvedCandidate    `json:"candidates"`
	Stats       TierStats              `json:"stats"`
	MentionHits int                    `json:"mentionHits"`
	Persisted   registry.PersistResult `json:"persisted"`
	Failures    []ItemFailure          `json:"failures,omitempty"`
}

// Engine wires the components into the end-to-end flow.
type Engine struct {
	store     store.Storer
	indexer   *indexer.Indexer
	generator *extraction.Generator
	writer    *registry.Writer
	crystal   *crystal.Crystallizer
	log       *zap.Logger
}

func NewEngine(s store.Storer, ix *indexer.Indexer, gen *extraction.Generator, w *registry.Writer, cr *crystal.Crystallizer, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: s, indexer: ix, generator: gen, writer: w, crystal: cr, log: log}
}

// Ingest indexes one document.
func (e *Engine) Ingest(ctx context.Context, doc indexer.IngestDoc, content string) (indexer.IngestResult, error) {
	return e.indexer.Ingest(ctx, doc, content)
}

// Promote crystallizes one entity.
func (e *Engine) Promote(ctx context.Context, entityID, targetRootID string) (crystal.PromoteResult, error) {
	return e.crystal.Promote(ctx, entityID, targetRootID)
}

// PromoteAll crystallizes a batch of entities.
func (e *Engine) PromoteAll(ctx context.Context, entityIDs []string, targetRootID string) (crystal.PromoteAllResult, error) {
	return e.crystal.PromoteAll(ctx, entityIDs, targetRootID)
}

// ResolveCandidate resolves one candidate against the current registry
// without persisting anything.
func (e *Engine) ResolveCandidate(c entity.Candidate) (entity.MergeDecision, error) {
	entries, err := e.registrySnapshot()
	if err != nil {
		return entity.MergeDecision{}, err
	}
	return resolve.New(entries).Resolve(c), nil
}

type scannedDoc struct {
	doc  *store.Document
	text string
}

// ClassifyEntities runs the full resolution pipeline over every indexed
// document in category ("" = all). Per-item failures are collected in the
// result; only infrastructure faults return a non-nil error.
func (e *Engine) ClassifyEntities(ctx context.Context, category string) (*ClassifyResult, error) {
	docs, err := e.store.ListDocuments(category)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	result := &ClassifyResult{Documents: len(docs)}
	if len(docs) == 0 {
		result.Status = StatusEmpty
		return result, nil
	}

	scanned, failures := e.fetchAndScan(ctx, docs)
	result.Failures = append(result.Failures, failures...)

	acc := candidates.NewSet()
	for _, sd := range scanned {
		for _, c := range heuristics.Extract(heuristics.Doc{
			DocumentID: sd.doc.ID,
			Filename:   sd.doc.Name,
			Text:       sd.text,
		}) {
			acc.Add(c)
		}
	}

	entries, err := e.registrySnapshot()
	if err != nil {
		return nil, err
	}
	known := make([]string, 0, len(entries))
	for _, en := range entries {
		known = append(known, en.Name)
	}

	if e.generator != nil {
		corpus := make([]extraction.SourceText, 0, len(scanned))
		for _, sd := range scanned {
			corpus = append(corpus, extraction.SourceText{DocumentID: sd.doc.ID, Text: sd.text})
		}
		report := e.generator.Generate(ctx, corpus, known, acc)
		for _, f := range report.Failures {
			result.Failures = append(result.Failures, ItemFailure{
				Name:  f.DocumentID,
				Error: f.Error,
			})
		}
	}

	mentionHits, err := e.countMentions(entries, scanned)
	if err != nil {
		return nil, err
	}
	result.MentionHits = mentionHits

	resolver := resolve.New(entries)
	finalized := acc.Finalize()
	items := make([]registry.Item, 0, len(finalized))
	for _, c := range finalized {
		decision := resolver.Resolve(c)
		result.Candidates = append(result.Candidates, ResolvedCandidate{Candidate: c, Decision: decision})
		items = append(items, registry.Item{Candidate: c, Decision: decision})

		switch c.Tier {
		case entity.TierAnchor:
			result.Stats.Anchor++
		case entity.TierLimbo:
			result.Stats.Limbo++
		default:
			result.Stats.Ghost++
		}
		result.Stats.Total++
	}

	persisted, err := e.writer.Persist(ctx, items)
	if err != nil {
		return nil, err
	}
	result.Persisted = persisted

	switch {
	case len(result.Failures) > 0:
		result.Status = StatusPartialFailure
	case result.Stats.Total == 0:
		result.Status = StatusEmpty
	default:
		result.Status = StatusOK
	}

	e.log.Info("classification run finished",
		zap.String("status", result.Status),
		zap.Int("documents", result.Documents),
		zap.Int("candidates", result.Stats.Total),
		zap.Int("mentionHits", result.MentionHits),
		zap.Int("failures", len(result.Failures)))

	return result, nil
}

// fetchAndScan loads chunk text for every document concurrently.
func (e *Engine) fetchAndScan(ctx context.Context, docs []*store.Document) ([]scannedDoc, []ItemFailure) {
	var (
		mu       sync.Mutex
		scanned  []scannedDoc
		failures []ItemFailure
	)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(fetchWorkers)

	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			chunks, err := e.store.ListChunksByDocument(doc.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, ItemFailure{Name: doc.Name, Error: err.Error()})
				return nil
			}
			var text string
			for _, c := range chunks {
				text += c.Text
			}
			if text == "" {
				return nil
			}
			scanned = append(scanned, scannedDoc{doc: doc, text: text})
			return nil
		})
	}
	g.Wait()

	return scanned, failures
}

// countMentions scans every document for known entity names and bumps
// occurrence counts additively.
func (e *Engine) countMentions(entries []entity.RegistryEntry, scanned []scannedDoc) (int, error) {
	if len(entries) == 0 || len(scanned) == 0 {
		return 0, nil
	}

	dict := dictionary.Compile(entries)
	byID := make(map[string]*entity.RegistryEntry, len(entries))
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
	}

	counts := make(map[string]int)
	total := 0
	for _, sd := range scanned {
		for _, m := range dict.ScanMentions(sd.text) {
			counts[m.EntityID]++
			total++
		}
	}
	if len(counts) == 0 {
		return 0, nil
	}

	batch := make([]store.EntityUpsert, 0, len(counts))
	for id, n := range counts {
		en := byID[id]
		if en == nil {
			continue
		}
		batch = append(batch, store.EntityUpsert{
			ID:               id,
			Name:             en.Name,
			Kind:             en.Kind,
			OccurrencesDelta: n,
		})
		if len(batch) == store.MaxBatchSize {
			if err := e.store.ApplyEntityBatch(batch); err != nil {
				return total, fmt.Errorf("failed to persist mention counts: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := e.store.ApplyEntityBatch(batch); err != nil {
			return total, fmt.Errorf("failed to persist mention counts: %w", err)
		}
	}

	return total, nil
}

func (e *Engine) registrySnapshot() ([]entity.RegistryEntry, error) {
	records, err := e.store.ListEntities("")
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot registry: %w", err)
	}
	entries := make([]entity.RegistryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, entity.RegistryEntry{
			ID:      r.ID,
			Name:    r.Name,
			Kind:    r.Kind,
			Aliases: r.Aliases,
		})
	}
	return entries, nil
}
