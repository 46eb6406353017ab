// Package resolve decides merge-vs-create for candidates against the
// persisted registry: exact normalized match first, then alias rules, then
// fuzzy name distance. Exact alias rules always take precedence over the
// fuzzy heuristic.
package resolve

import (
	"fmt"

	"github.com/agnivade/levenshtein"

	"github.com/KikDevKik/MyWorld-sub004/pkg/dictionary"
	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

// MergeThreshold is the normalized-edit-distance similarity above which two
// differently-spelled names are treated as the same entity. Strictly
// greater-than: a similarity of exactly 0.85 does not merge.
const MergeThreshold = 0.85

// Resolver matches candidates against a snapshot of the registry.
type Resolver struct {
	entries []entity.RegistryEntry
	byKey   map[string]*entity.RegistryEntry
	dict    *dictionary.Dictionary
}

// New builds a resolver over a registry snapshot.
func New(entries []entity.RegistryEntry) *Resolver {
	r := &Resolver{
		entries: entries,
		byKey:   make(map[string]*entity.RegistryEntry, len(entries)),
		dict:    dictionary.Compile(entries),
	}
	for i := range entries {
		r.byKey[entity.Normalize(entries[i].Name)] = &r.entries[i]
	}
	return r
}

// Resolve produces the merge decision for one candidate.
func (r *Resolver) Resolve(c entity.Candidate) entity.MergeDecision {
	key := entity.Normalize(c.Name)

	// 1. Exact normalized name match.
	if target, ok := r.byKey[key]; ok {
		if c.Kind != entity.KindUnknown && target.Kind != c.Kind {
			return entity.MergeDecision{
				Action:         entity.ActionConvertType,
				TargetEntityID: target.ID,
				Similarity:     1.0,
				Reasoning: fmt.Sprintf("exact match with %q but type %s != %s",
					target.Name, c.Kind, target.Kind),
			}
		}
		return entity.MergeDecision{
			Action:         entity.ActionMerge,
			TargetEntityID: target.ID,
			Similarity:     1.0,
			Reasoning:      fmt.Sprintf("exact match with %q", target.Name),
		}
	}

	// 2. Alias rules. A hit here is a known duplicate and skips the fuzzy
	// pass entirely.
	if hits := r.dict.Lookup(c.Name); len(hits) > 0 {
		target := hits[0]
		return entity.MergeDecision{
			Action:         entity.ActionMerge,
			TargetEntityID: target.ID,
			Similarity:     1.0,
			Ambiguity:      entity.AmbiguityDuplicate,
			Reasoning:      fmt.Sprintf("alias of %q", target.Name),
		}
	}

	// 3. Fuzzy name distance against every registry entry.
	var best *entity.RegistryEntry
	bestSim := 0.0
	for i := range r.entries {
		sim := Similarity(c.Name, r.entries[i].Name)
		if sim > bestSim {
			bestSim = sim
			best = &r.entries[i]
		}
	}

	if best != nil && bestSim > MergeThreshold {
		return entity.MergeDecision{
			Action:         entity.ActionMerge,
			TargetEntityID: best.ID,
			Similarity:     bestSim,
			Ambiguity:      entity.AmbiguityConflict,
			Reasoning:      fmt.Sprintf("%.0f%% similar to %q", bestSim*100, best.Name),
		}
	}

	return entity.MergeDecision{
		Action:    entity.ActionCreate,
		Reasoning: "no registry match",
	}
}

// Similarity computes 1 - levenshtein(normalize(a), normalize(b)) / max(len).
// Two empty names are not considered similar.
func Similarity(a, b string) float64 {
	na, nb := entity.Normalize(a), entity.Normalize(b)
	la, lb := len([]rune(na)), len([]rune(nb))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return 1.0 - float64(dist)/float64(longest)
}
