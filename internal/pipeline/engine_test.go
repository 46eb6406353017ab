package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KikDevKik/MyWorld-sub004/internal/crystal"
	"github.com/KikDevKik/MyWorld-sub004/internal/extraction"
	"github.com/KikDevKik/MyWorld-sub004/internal/indexer"
	"github.com/KikDevKik/MyWorld-sub004/internal/llm"
	"github.com/KikDevKik/MyWorld-sub004/internal/registry"
	"github.com/KikDevKik/MyWorld-sub004/internal/store"
	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

type stubExtractor struct {
	results []llm.ExtractedEntity
	err     error
}

func (s *stubExtractor) Extract(ctx context.Context, text string, known []string) ([]llm.ExtractedEntity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func newEngine(t *testing.T, ext llm.Extractor) (*Engine, store.Storer) {
	t.Helper()
	st := store.NewMemStore()
	require.NoError(t, st.CreateFolder(&store.Folder{ID: "root", Name: "World"}))

	ix := indexer.New(st, nil, nil, nil)
	var gen *extraction.Generator
	if ext != nil {
		gen = extraction.NewGenerator(ext, nil)
	}
	w := registry.NewWriter(st, nil)
	cr := crystal.New(st, ix, nil)
	return NewEngine(st, ix, gen, w, cr, nil), st
}

const elsaDoc = `---
name: Elsa
role: Queen
---

Elsa surveys the fjord at dawn.
`

func TestClassify_EmptyDocumentSet(t *testing.T) {
	e, st := newEngine(t, nil)

	// A previously persisted record must survive an empty run.
	require.NoError(t, st.ApplyEntityBatch([]store.EntityUpsert{{
		ID: registry.EntityID("Anna"), Name: "Anna", Kind: entity.KindCharacter,
	}}))

	res, err := e.ClassifyEntities(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, res.Status)
	assert.Zero(t, res.Stats.Total)

	n, err := st.CountEntities()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "registry is never pruned by classification")
}

func TestClassify_EndToEnd(t *testing.T) {
	e, st := newEngine(t, nil)
	ctx := context.Background()

	ing, err := e.Ingest(ctx, indexer.IngestDoc{Path: "World/Characters/Elsa.md", Name: "Elsa.md"}, elsaDoc)
	require.NoError(t, err)
	require.Equal(t, indexer.StatusProcessed, ing.Status)

	res, err := e.ClassifyEntities(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	require.Equal(t, 1, res.Stats.Total)
	assert.Equal(t, 1, res.Stats.Anchor)

	c := res.Candidates[0]
	assert.Equal(t, "Elsa", c.Candidate.Name)
	assert.Equal(t, entity.TierAnchor, c.Candidate.Tier)
	assert.Equal(t, 100, c.Candidate.Confidence)
	assert.Equal(t, entity.ActionCreate, c.Decision.Action)

	rec, err := st.GetEntity(registry.EntityID("Elsa"))
	require.NoError(t, err)
	assert.Equal(t, entity.TierAnchor, rec.Tier)
	assert.Equal(t, "Queen", rec.Role)

	// Re-ingest unchanged: skipped.
	ing, err = e.Ingest(ctx, indexer.IngestDoc{Path: "World/Characters/Elsa.md", Name: "Elsa.md"}, elsaDoc)
	require.NoError(t, err)
	assert.Equal(t, indexer.StatusSkipped, ing.Status)

	// Edit the body, not the front matter: processed, same entity, tier kept.
	edited := elsaDoc + "\nShe walks onto the ice.\n"
	ing, err = e.Ingest(ctx, indexer.IngestDoc{Path: "World/Characters/Elsa.md", Name: "Elsa.md"}, edited)
	require.NoError(t, err)
	assert.Equal(t, indexer.StatusProcessed, ing.Status)

	res, err = e.ClassifyEntities(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.Total)
	assert.Equal(t, entity.ActionMerge, res.Candidates[0].Decision.Action)

	rec2, err := st.GetEntity(registry.EntityID("Elsa"))
	require.NoError(t, err)
	assert.Equal(t, rec.ID, rec2.ID)
	assert.Equal(t, entity.TierAnchor, rec2.Tier)

	n, err := st.CountEntities()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClassify_ModelCandidatesAreGhosts(t *testing.T) {
	ext := &stubExtractor{results: []llm.ExtractedEntity{
		{Name: "Bruni", Category: "CREATURE", Context: "a fire spirit"},
	}}
	e, st := newEngine(t, ext)
	ctx := context.Background()

	_, err := e.Ingest(ctx, indexer.IngestDoc{Path: "World/Spirits.md", Name: "Spirits.md"},
		"The fire spirit darts across the clearing.")
	require.NoError(t, err)

	res, err := e.ClassifyEntities(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 1, res.Stats.Ghost)

	rec, err := st.GetEntity(registry.EntityID("Bruni"))
	require.NoError(t, err)
	assert.Equal(t, entity.TierGhost, rec.Tier)
	assert.Equal(t, entity.KindCreature, rec.Kind)
}

func TestClassify_ExtractorFailureIsPartial(t *testing.T) {
	ext := &stubExtractor{err: errors.New("model unavailable")}
	e, _ := newEngine(t, ext)
	ctx := context.Background()

	_, err := e.Ingest(ctx, indexer.IngestDoc{Path: "World/Characters/Elsa.md", Name: "Elsa.md"}, elsaDoc)
	require.NoError(t, err)

	res, err := e.ClassifyEntities(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPartialFailure, res.Status)
	require.NotEmpty(t, res.Failures)

	// Heuristic results still landed.
	assert.Equal(t, 1, res.Stats.Anchor)
}

func TestClassify_MentionCounting(t *testing.T) {
	e, st := newEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, st.ApplyEntityBatch([]store.EntityUpsert{{
		ID: registry.EntityID("Elsa"), Name: "Elsa", Kind: entity.KindCharacter,
		Tier: entity.TierAnchor, Confidence: 100, OccurrencesDelta: 1,
	}}))

	_, err := e.Ingest(ctx, indexer.IngestDoc{Path: "World/Scenes/Fjord.md", Name: "Fjord.md"},
		"Elsa waits. Later Elsa leaves the harbor.")
	require.NoError(t, err)

	res, err := e.ClassifyEntities(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.MentionHits)

	rec, err := st.GetEntity(registry.EntityID("Elsa"))
	require.NoError(t, err)
	// 1 seed + 2 mentions + 1 merge write from this run.
	assert.GreaterOrEqual(t, rec.Occurrences, 3)
}

func TestClassify_CrossRunFuzzyMerge(t *testing.T) {
	e, st := newEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, st.ApplyEntityBatch([]store.EntityUpsert{{
		ID: registry.EntityID("Gandalf"), Name: "Gandalf", Kind: entity.KindCharacter,
		Tier: entity.TierAnchor, Confidence: 100, OccurrencesDelta: 1,
	}}))

	doc := "---\nname: Gandalff\n---\n\nThe grey wanderer returns.\n"
	_, err := e.Ingest(ctx, indexer.IngestDoc{Path: "World/Drafts/Gandalff.md", Name: "Gandalff.md"}, doc)
	require.NoError(t, err)

	res, err := e.ClassifyEntities(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.Total)

	d := res.Candidates[0].Decision
	assert.Equal(t, entity.ActionMerge, d.Action)
	assert.Equal(t, registry.EntityID("Gandalf"), d.TargetEntityID)
	assert.Equal(t, entity.AmbiguityConflict, d.Ambiguity)

	rec, err := st.GetEntity(registry.EntityID("Gandalf"))
	require.NoError(t, err)
	assert.Equal(t, "Gandalf", rec.Name)
	assert.Contains(t, rec.Aliases, "Gandalff")

	n, err := st.CountEntities()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveCandidate_Direct(t *testing.T) {
	e, st := newEngine(t, nil)

	require.NoError(t, st.ApplyEntityBatch([]store.EntityUpsert{{
		ID: registry.EntityID("Elsa"), Name: "Elsa", Kind: entity.KindCharacter,
	}}))

	d, err := e.ResolveCandidate(entity.Candidate{Name: "elsa", Kind: entity.KindCharacter})
	require.NoError(t, err)
	assert.Equal(t, entity.ActionMerge, d.Action)
	assert.Equal(t, 1.0, d.Similarity)
}

func TestPromoteDelegation(t *testing.T) {
	e, st := newEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, st.ApplyEntityBatch([]store.EntityUpsert{{
		ID: registry.EntityID("Elsa"), Name: "Elsa", Kind: entity.KindCharacter,
		Tier: entity.TierAnchor, Confidence: 100,
	}}))

	res, err := e.Promote(ctx, registry.EntityID("Elsa"), "root")
	require.NoError(t, err)
	assert.Equal(t, "World/Characters/Elsa.md", res.Path)

	rec, err := st.GetEntity(registry.EntityID("Elsa"))
	require.NoError(t, err)
	assert.Equal(t, res.DocumentID, rec.MasterDocumentID)
}
