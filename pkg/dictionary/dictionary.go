// Package dictionary provides a runtime name dictionary built on Aho-Corasick.
// A single automaton serves both exact/alias lookup during resolution and
// O(n) mention scanning over narrative text.
package dictionary

import (
	"strings"
	"unicode"
	"unicode/utf8"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

// Dictionary indexes every surface form (name, stored aliases, generated
// aliases) of the persisted registry.
type Dictionary struct {
	ac ahocorasick.AhoCorasick

	// pattern index -> entity IDs (multiple entities may share a surface)
	patternToIDs [][]string

	// normalized surface -> pattern index
	patternIndex map[string]int

	idToEntry map[string]*entity.RegistryEntry

	patterns []string
}

// Compile builds a Dictionary from registry entries.
func Compile(entries []entity.RegistryEntry) *Dictionary {
	d := &Dictionary{
		patternIndex: make(map[string]int),
		idToEntry:    make(map[string]*entity.RegistryEntry, len(entries)),
	}

	for i := range entries {
		e := entries[i]
		d.idToEntry[e.ID] = &e

		surfaces := []string{e.Name}
		surfaces = append(surfaces, e.Aliases...)
		surfaces = append(surfaces, autoAliases(e.Name, e.Kind)...)

		for _, surface := range surfaces {
			key := entity.Normalize(surface)
			if key == "" {
				continue
			}
			if idx, exists := d.patternIndex[key]; exists {
				d.patternToIDs[idx] = appendUnique(d.patternToIDs[idx], e.ID)
			} else {
				idx := len(d.patterns)
				d.patterns = append(d.patterns, key)
				d.patternIndex[key] = idx
				d.patternToIDs = append(d.patternToIDs, []string{e.ID})
			}
		}
	}

	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  true,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
	})
	d.ac = builder.Build(d.patterns)

	return d
}

// Lookup finds registry entries matching a surface form exactly (name or
// alias, normalized).
func (d *Dictionary) Lookup(surface string) []*entity.RegistryEntry {
	idx, exists := d.patternIndex[entity.Normalize(surface)]
	if !exists {
		return nil
	}

	ids := d.patternToIDs[idx]
	result := make([]*entity.RegistryEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := d.idToEntry[id]; ok {
			result = append(result, e)
		}
	}
	return result
}

// IsKnown reports whether a surface form matches any registered entity.
func (d *Dictionary) IsKnown(surface string) bool {
	_, exists := d.patternIndex[entity.Normalize(surface)]
	return exists
}

// Names returns every registered display name, for known-name hint lists.
func (d *Dictionary) Names() []string {
	out := make([]string, 0, len(d.idToEntry))
	for _, e := range d.idToEntry {
		out = append(out, e.Name)
	}
	return out
}

// Mention is a detected entity reference in narrative text.
type Mention struct {
	EntityID    string
	MatchedText string
	Start       int
	End         int
}

// ScanMentions finds known-entity mentions in text. Surfaces shared by
// several entities resolve to all of them. The scan runs over a folded copy
// of the text so diacritics and hyphens match the normalized patterns;
// offsets are mapped back to the original bytes.
func (d *Dictionary) ScanMentions(text string) []Mention {
	folded, starts, ends := foldText(text)

	matches := d.ac.FindAll(folded)
	result := make([]Mention, 0, len(matches))
	for _, m := range matches {
		start := starts[m.Start()]
		end := ends[m.End()-1]
		for _, id := range d.patternToIDs[m.Pattern()] {
			result = append(result, Mention{
				EntityID:    id,
				MatchedText: text[start:end],
				Start:       start,
				End:         end,
			})
		}
	}
	return result
}

// foldText rewrites text with the same folding Normalize applies to
// patterns, recording for every output byte the original byte range of the
// rune it came from. Runs of whitespace collapse to a single space.
func foldText(text string) (string, []int, []int) {
	var b strings.Builder
	b.Grow(len(text))
	starts := make([]int, 0, len(text))
	ends := make([]int, 0, len(text))

	space := false
	for i := 0; i < len(text); {
		r, sz := utf8.DecodeRuneInString(text[i:])

		if unicode.IsSpace(r) {
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				starts = append(starts, i)
				ends = append(ends, i+sz)
			}
			space = true
			i += sz
			continue
		}
		space = false

		folded := entity.FoldRune(r)
		b.WriteString(folded)
		for j := 0; j < len(folded); j++ {
			starts = append(starts, i)
			ends = append(ends, i+sz)
		}
		i += sz
	}

	return b.String(), starts, ends
}

// =============================================================================
// Auto-alias generation
// =============================================================================

// autoAliases derives extra surface forms from a multi-token name: last
// name and first name for characters, acronyms for factions, the leading
// token for locations.
func autoAliases(name string, kind entity.Kind) []string {
	tokens := strings.Fields(entity.Normalize(name))
	if len(tokens) <= 1 {
		return nil
	}

	first := tokens[0]
	last := tokens[len(tokens)-1]
	var out []string

	if kind == entity.KindCharacter {
		if len(last) >= 3 {
			out = append(out, last)
		}
		if len(tokens) >= 3 && first != last {
			out = append(out, first+" "+last)
		}
		if len(first) >= 4 && first != last {
			out = append(out, first)
		}
	}

	if kind == entity.KindFaction {
		var acronym strings.Builder
		for _, tok := range tokens {
			if len(tok) > 0 {
				acronym.WriteByte(tok[0])
			}
		}
		if acronym.Len() >= 2 && acronym.Len() <= 5 {
			out = append(out, acronym.String())
		}
	}

	if kind == entity.KindLocation && len(first) >= 4 {
		out = append(out, first)
	}

	return out
}

func appendUnique(slice []string, item string) []string {
	for _, s := range slice {
		if s == item {
			return slice
		}
	}
	return append(slice, item)
}
