// Package registry persists resolved candidates into the entity registry.
// The writer is append/merge-only: it never deletes an entry.
package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KikDevKik/MyWorld-sub004/internal/store"
	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

// entityNamespace seeds deterministic entity ids so repeated runs hit the
// same registry row for the same normalized name.
var entityNamespace = uuid.MustParse("7b0d2f24-8c3e-4a41-9d8a-2f5c6b1e0a93")

// EntityID derives the stable registry id for a name.
func EntityID(name string) string {
	return uuid.NewSHA1(entityNamespace, []byte(entity.Normalize(name))).String()
}

// Item pairs a finalized candidate with its resolution outcome. A non-empty
// TargetEntityID routes the write into an existing registry row.
type Item struct {
	Candidate entity.Candidate
	Decision  entity.MergeDecision
}

// PersistResult reports what one Persist call wrote.
type PersistResult struct {
	Created int `json:"created"`
	Merged  int `json:"merged"`
	Ignored int `json:"ignored"`
	Batches int `json:"batches"`
}

// Writer flushes items in store-sized batches. Each batch commits
// independently so earlier batches stay durable if a later one fails.
type Writer struct {
	store store.Storer
	log   *zap.Logger
}

func NewWriter(s store.Storer, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{store: s, log: log}
}

// Persist upserts every non-ignored item.
func (w *Writer) Persist(ctx context.Context, items []Item) (PersistResult, error) {
	var result PersistResult
	batch := make([]store.EntityUpsert, 0, store.MaxBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.store.ApplyEntityBatch(batch); err != nil {
			return fmt.Errorf("failed to persist entity batch: %w", err)
		}
		result.Batches++
		batch = batch[:0]
		return nil
	}

	for _, item := range items {
		switch item.Decision.Action {
		case entity.ActionIgnore:
			result.Ignored++
			continue
		case entity.ActionMerge, entity.ActionConvertType:
			result.Merged++
		default:
			result.Created++
		}

		batch = append(batch, upsertFor(item))
		if len(batch) == store.MaxBatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	w.log.Debug("registry persisted",
		zap.Int("created", result.Created),
		zap.Int("merged", result.Merged),
		zap.Int("batches", result.Batches))

	return result, nil
}

func upsertFor(item Item) store.EntityUpsert {
	c := item.Candidate

	id := item.Decision.TargetEntityID
	if id == "" {
		id = EntityID(c.Name)
	}

	// Merging into a row keyed to a different canonical name: keep the
	// stored name, record the variant as an alias.
	name := c.Name
	var aliases []string
	if id != EntityID(c.Name) {
		name = ""
		aliases = []string{c.Name}
	}

	reasoning := c.Reasoning
	if item.Decision.Reasoning != "" {
		reasoning = item.Decision.Reasoning
	}

	return store.EntityUpsert{
		ID:               id,
		Name:             name,
		Aliases:          aliases,
		Kind:             c.Kind,
		Tier:             c.Tier,
		Confidence:       c.Confidence,
		Reasoning:        reasoning,
		OccurrencesDelta: 1,
		FoundIn:          c.FoundIn,
		Role:             c.Role,
		Avatar:           c.Avatar,
		RawContent:       c.RawContent,
	}
}
