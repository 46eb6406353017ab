// Package candidates accumulates raw extraction candidates during one
// resolution run, deduplicating by normalized name and applying the source
// precedence order when the same name arrives from multiple heuristics.
//
// The set is an explicit value threaded through the pipeline stages, never
// ambient state, so each stage stays testable as a pure function.
package candidates

import (
	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

// Set is the working candidate map for a single run. Not safe for
// concurrent mutation; the pipeline only mutates it between I/O waits.
type Set struct {
	order []string
	byKey map[string]*entity.Candidate
}

// NewSet creates an empty candidate set.
func NewSet() *Set {
	return &Set{byKey: make(map[string]*entity.Candidate)}
}

// Add merges a candidate into the set. A later candidate with the same
// normalized name merges into the earlier one; tier, confidence and
// reasoning upgrade only when the new source has equal-or-higher precedence.
// Missing fields backfill regardless of precedence.
func (s *Set) Add(c entity.Candidate) {
	key := entity.Normalize(c.Name)
	if key == "" {
		return
	}

	existing, ok := s.byKey[key]
	if !ok {
		cp := c
		if len(cp.FoundIn) > entity.MaxFoundIn {
			cp.FoundIn = cp.FoundIn[:entity.MaxFoundIn]
		}
		s.byKey[key] = &cp
		s.order = append(s.order, key)
		return
	}

	if c.Source >= existing.Source {
		existing.Source = c.Source
		if c.Tier > existing.Tier {
			existing.Tier = c.Tier
		}
		if c.Confidence > existing.Confidence {
			existing.Confidence = c.Confidence
			existing.Reasoning = c.Reasoning
		}
	}

	// Backfills: category only if the existing candidate had none.
	if existing.Kind == entity.KindUnknown && c.Kind != entity.KindUnknown {
		existing.Kind = c.Kind
	}
	if existing.Role == "" {
		existing.Role = c.Role
	}
	if existing.Avatar == "" {
		existing.Avatar = c.Avatar
	}
	if existing.RawContent == "" {
		existing.RawContent = c.RawContent
	}
	if existing.SourceDocumentID == "" {
		existing.SourceDocumentID = c.SourceDocumentID
	}
	for _, snippet := range c.FoundIn {
		existing.AddProvenance(snippet)
	}
}

// Has reports whether a name is already tracked.
func (s *Set) Has(name string) bool {
	_, ok := s.byKey[entity.Normalize(name)]
	return ok
}

// Get returns the tracked candidate for a name.
func (s *Set) Get(name string) (*entity.Candidate, bool) {
	c, ok := s.byKey[entity.Normalize(name)]
	return c, ok
}

// Names returns the display names in insertion order, used as the known-name
// hint list for the extraction capability.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key].Name)
	}
	return out
}

// Len returns the number of distinct candidates.
func (s *Set) Len() int {
	return len(s.order)
}

// Finalize assigns the definitive tier/confidence/reasoning triple and the
// bounded provenance list for every candidate, in insertion order. Pure data
// out; the set stays usable afterwards.
func (s *Set) Finalize() []entity.Candidate {
	out := make([]entity.Candidate, 0, len(s.order))
	for _, key := range s.order {
		c := *s.byKey[key]
		if len(c.FoundIn) > entity.MaxFoundIn {
			c.FoundIn = c.FoundIn[:entity.MaxFoundIn]
		}
		if c.Reasoning == "" {
			c.Reasoning = c.Source.String()
		}
		out = append(out, c)
	}
	return out
}
