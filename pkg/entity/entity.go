// Package entity defines the shared domain types for the entity registry:
// confidence tiers, entity kinds, extraction candidates and merge decisions.
package entity

import "strings"

// Tier is the confidence tier of a candidate or registry entry.
type Tier int

const (
	// TierGhost is the lowest tier, typically a bare narrative mention.
	TierGhost Tier = iota
	// TierLimbo is a draft-quality candidate from list/draft heuristics.
	TierLimbo
	// TierAnchor is backed by structured metadata or a validated header.
	TierAnchor
)

func (t Tier) String() string {
	switch t {
	case TierLimbo:
		return "LIMBO"
	case TierAnchor:
		return "ANCHOR"
	default:
		return "GHOST"
	}
}

// ParseTier parses a tier name, defaulting to GHOST.
func ParseTier(s string) Tier {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ANCHOR":
		return TierAnchor
	case "LIMBO":
		return TierLimbo
	default:
		return TierGhost
	}
}

// Kind represents the type of entity.
type Kind int

const (
	KindCharacter Kind = iota
	KindCreature
	KindLocation
	KindFaction
	KindFlora
	KindItem
	KindConcept
	KindOther
	// KindUnknown means no classifier has assigned a type yet.
	KindUnknown
)

func (k Kind) String() string {
	names := []string{"CHARACTER", "CREATURE", "LOCATION", "FACTION", "FLORA", "ITEM", "CONCEPT", "OTHER"}
	if int(k) < len(names) {
		return names[k]
	}
	return "UNKNOWN"
}

// ParseKind maps a type label (including the extraction capability's
// PERSON/CREATURE/FLORA categories) to a Kind.
func ParseKind(s string) Kind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CHARACTER", "PERSON", "NPC":
		return KindCharacter
	case "CREATURE", "MONSTER", "BEAST":
		return KindCreature
	case "LOCATION", "PLACE":
		return KindLocation
	case "FACTION", "ORGANIZATION":
		return KindFaction
	case "FLORA", "PLANT":
		return KindFlora
	case "ITEM":
		return KindItem
	case "CONCEPT":
		return KindConcept
	case "OTHER":
		return KindOther
	default:
		return KindUnknown
	}
}

// Source identifies which heuristic produced a candidate. Higher values win
// when the same normalized name is seen from multiple sources.
type Source int

const (
	SourceModelMention Source = iota
	SourceDraftHeuristic
	SourceContainerList
	SourceKeyValue
	SourceHeaderTraits
	SourceFrontMatter
)

func (s Source) String() string {
	switch s {
	case SourceFrontMatter:
		return "front matter"
	case SourceHeaderTraits:
		return "validated header"
	case SourceKeyValue:
		return "key-value header"
	case SourceContainerList:
		return "list detection"
	case SourceDraftHeuristic:
		return "draft heuristic"
	default:
		return "narrative mention"
	}
}

// MaxFoundIn bounds the provenance snippets carried per candidate so a
// registry entry never grows unbounded.
const MaxFoundIn = 5

// Candidate is a freshly extracted entity, keyed during one resolution run
// by Normalize(Name).
type Candidate struct {
	Name             string   `json:"name"`
	Kind             Kind     `json:"kind"`
	Tier             Tier     `json:"tier"`
	Confidence       int      `json:"confidence"` // 0-100
	Reasoning        string   `json:"reasoning"`
	Source           Source   `json:"-"`
	SourceDocumentID string   `json:"sourceDocumentId,omitempty"`
	FoundIn          []string `json:"foundIn,omitempty"`
	RawContent       string   `json:"rawContent,omitempty"`
	Role             string   `json:"role,omitempty"`
	Avatar           string   `json:"avatar,omitempty"`
}

// AddProvenance appends a provenance snippet, respecting the MaxFoundIn cap.
func (c *Candidate) AddProvenance(snippet string) {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" || len(c.FoundIn) >= MaxFoundIn {
		return
	}
	c.FoundIn = append(c.FoundIn, snippet)
}

// MergeAction is the action a MergeDecision recommends.
type MergeAction string

const (
	ActionCreate      MergeAction = "CREATE"
	ActionMerge       MergeAction = "MERGE"
	ActionConvertType MergeAction = "CONVERT_TYPE"
	ActionIgnore      MergeAction = "IGNORE"
)

// AmbiguityType classifies why a candidate was flagged during resolution.
type AmbiguityType string

const (
	AmbiguityNone      AmbiguityType = ""
	AmbiguityDuplicate AmbiguityType = "DUPLICATE"
	AmbiguityConflict  AmbiguityType = "CONFLICT"
)

// MergeDecision is the outcome of resolving one candidate against the
// persisted registry.
type MergeDecision struct {
	Action         MergeAction   `json:"action"`
	TargetEntityID string        `json:"targetEntityId,omitempty"`
	Similarity     float64       `json:"similarity,omitempty"`
	Ambiguity      AmbiguityType `json:"ambiguityType,omitempty"`
	Reasoning      string        `json:"reasoning"`
}

// RegistryEntry is the resolver's view of a persisted entity. It carries
// just enough to match against without dragging in the storage layer.
type RegistryEntry struct {
	ID      string
	Name    string
	Kind    Kind
	Aliases []string
}
