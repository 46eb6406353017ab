package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KikDevKik/MyWorld-sub004/internal/store"
	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

func TestEntityID_Deterministic(t *testing.T) {
	assert.Equal(t, EntityID("Elsa"), EntityID("elsa"))
	assert.Equal(t, EntityID("José"), EntityID("jose"))
	assert.NotEqual(t, EntityID("Elsa"), EntityID("Anna"))
}

func TestPersist_CreatesAndMerges(t *testing.T) {
	st := store.NewMemStore()
	w := NewWriter(st, nil)
	ctx := context.Background()

	res, err := w.Persist(ctx, []Item{
		{
			Candidate: entity.Candidate{Name: "Elsa", Kind: entity.KindCharacter, Tier: entity.TierAnchor, Confidence: 100, Reasoning: "front matter"},
			Decision:  entity.MergeDecision{Action: entity.ActionCreate},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Batches)

	rec, err := st.GetEntity(EntityID("Elsa"))
	require.NoError(t, err)
	assert.Equal(t, "Elsa", rec.Name)
	assert.Equal(t, entity.TierAnchor, rec.Tier)
	assert.Equal(t, 1, rec.Occurrences)

	// Second run merges into the same row; occurrences increments.
	res, err = w.Persist(ctx, []Item{
		{
			Candidate: entity.Candidate{Name: "elsa", Kind: entity.KindCharacter, Tier: entity.TierGhost, Confidence: 50},
			Decision:  entity.MergeDecision{Action: entity.ActionMerge, TargetEntityID: EntityID("Elsa")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)

	rec, err = st.GetEntity(EntityID("Elsa"))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Occurrences)
	assert.Equal(t, entity.TierAnchor, rec.Tier, "tier never lowered")
	assert.Equal(t, 1, countEntities(t, st))
}

func TestPersist_FuzzyMergeKeepsCanonicalName(t *testing.T) {
	st := store.NewMemStore()
	w := NewWriter(st, nil)
	ctx := context.Background()

	_, err := w.Persist(ctx, []Item{
		{
			Candidate: entity.Candidate{Name: "Gandalf", Kind: entity.KindCharacter, Tier: entity.TierAnchor, Confidence: 100},
			Decision:  entity.MergeDecision{Action: entity.ActionCreate},
		},
	})
	require.NoError(t, err)

	_, err = w.Persist(ctx, []Item{
		{
			Candidate: entity.Candidate{Name: "Gandalff", Tier: entity.TierGhost, Confidence: 50},
			Decision: entity.MergeDecision{
				Action:         entity.ActionMerge,
				TargetEntityID: EntityID("Gandalf"),
				Ambiguity:      entity.AmbiguityConflict,
			},
		},
	})
	require.NoError(t, err)

	rec, err := st.GetEntity(EntityID("Gandalf"))
	require.NoError(t, err)
	assert.Equal(t, "Gandalf", rec.Name)
	assert.Contains(t, rec.Aliases, "Gandalff")
}

func TestPersist_IgnoredItemsNotWritten(t *testing.T) {
	st := store.NewMemStore()
	w := NewWriter(st, nil)

	res, err := w.Persist(context.Background(), []Item{
		{
			Candidate: entity.Candidate{Name: "Noise"},
			Decision:  entity.MergeDecision{Action: entity.ActionIgnore},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ignored)
	assert.Equal(t, 0, res.Batches)
	assert.Equal(t, 0, countEntities(t, st))
}

func TestPersist_SplitsOversizedRuns(t *testing.T) {
	st := store.NewMemStore()
	w := NewWriter(st, nil)

	items := make([]Item, store.MaxBatchSize+10)
	for i := range items {
		items[i] = Item{
			Candidate: entity.Candidate{Name: fmt.Sprintf("Entity %d", i), Tier: entity.TierGhost, Confidence: 50},
			Decision:  entity.MergeDecision{Action: entity.ActionCreate},
		}
	}

	res, err := w.Persist(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, len(items), countEntities(t, st))
}

func TestPersist_NeverDeletes(t *testing.T) {
	st := store.NewMemStore()
	w := NewWriter(st, nil)
	ctx := context.Background()

	_, err := w.Persist(ctx, []Item{
		{Candidate: entity.Candidate{Name: "Elsa"}, Decision: entity.MergeDecision{Action: entity.ActionCreate}},
		{Candidate: entity.Candidate{Name: "Anna"}, Decision: entity.MergeDecision{Action: entity.ActionCreate}},
	})
	require.NoError(t, err)

	// A later run that mentions neither entity leaves both intact.
	_, err = w.Persist(ctx, []Item{
		{Candidate: entity.Candidate{Name: "Olaf"}, Decision: entity.MergeDecision{Action: entity.ActionCreate}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, countEntities(t, st))
}

func countEntities(t *testing.T, st store.Storer) int {
	t.Helper()
	n, err := st.CountEntities()
	require.NoError(t, err)
	return n
}
