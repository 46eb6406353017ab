package heuristics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

func TestFrontMatter(t *testing.T) {
	doc := Doc{
		DocumentID: "doc-1",
		Filename:   "Elsa.md",
		Text: `---
name: Elsa
role: Queen
type: character
---

Elsa rules Arendelle from the ice palace.`,
	}

	cands := Extract(doc)
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, "Elsa", c.Name)
	assert.Equal(t, entity.TierAnchor, c.Tier)
	assert.Equal(t, 100, c.Confidence)
	assert.Equal(t, "front matter", c.Reasoning)
	assert.Equal(t, "Queen", c.Role)
	assert.Equal(t, entity.KindCharacter, c.Kind)
}

func TestFrontMatterWithoutNameFallsThrough(t *testing.T) {
	doc := Doc{
		Filename: "Grog.md",
		Text: `---
tags: [wip]
---
# Grog
Role: Barbarian
`,
	}

	cands := Extract(doc)
	require.Len(t, cands, 1)
	assert.Equal(t, "Grog", cands[0].Name)
	assert.Equal(t, "validated header", cands[0].Reasoning)
	assert.Equal(t, 90, cands[0].Confidence)
}

func TestHeaderRequiresTraitValidation(t *testing.T) {
	// A plain prose heading must not become an entity.
	doc := Doc{
		Filename: "Opening.md",
		Text:     "# The Long Road Home\n\nThey walked for days through the valley.",
	}
	assert.Empty(t, Extract(doc))

	// The same heading with a trait key nearby is a character sheet.
	doc.Text = "# The Long Road Home\n\nSpecies: wolf\n"
	cands := Extract(doc)
	require.Len(t, cands, 1)
	assert.Equal(t, entity.TierAnchor, cands[0].Tier)
}

func TestGenericTitleRejected(t *testing.T) {
	doc := Doc{
		Filename: "Ch1.md",
		Text:     "# Chapter\n\nRole: narrator\n",
	}
	assert.Empty(t, Extract(doc))
}

func TestKeyValueHeader(t *testing.T) {
	doc := Doc{
		Filename: "sheet.md",
		Text:     "**Name:** Kaelen Voss\n\nA wandering sellsword.",
	}

	cands := Extract(doc)
	require.Len(t, cands, 1)
	assert.Equal(t, "Kaelen Voss", cands[0].Name)
	assert.Equal(t, "key-value header", cands[0].Reasoning)
	assert.Equal(t, 90, cands[0].Confidence)
}

func TestKeyValueOutsideHeadIgnored(t *testing.T) {
	filler := strings.Repeat("prose line\n", 15)
	doc := Doc{
		Filename: "sheet.md",
		Text:     filler + "Name: Too Late\n",
	}
	assert.Empty(t, Extract(doc))
}

func TestDraftHeuristic(t *testing.T) {
	doc := Doc{
		Filename: "apuntes-idea.md",
		Text:     "random thoughts\nVelkar: an exiled stormcaller with a grudge\n",
	}

	cands := Extract(doc)
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, "Velkar", c.Name)
	assert.Equal(t, entity.TierLimbo, c.Tier)
	assert.Equal(t, 80, c.Confidence)
	assert.Equal(t, "draft heuristic", c.Reasoning)
}

func TestDraftStoplist(t *testing.T) {
	doc := Doc{
		Filename: "idea.md",
		Text:     "Nota: revisar el segundo acto\n",
	}
	assert.Empty(t, Extract(doc))
}

func TestContainerDetection(t *testing.T) {
	doc := Doc{
		DocumentID: "doc-7",
		Filename:   "Village Roster.md",
		Text: `# Village Roster

- **Hilda**: blacksmith with a temper
  Gustos: iron, rain
- **Tomas**: the miller's son
- Short bio of someone unnamed
`,
	}

	cands := Extract(doc)
	require.Len(t, cands, 2)
	names := []string{cands[0].Name, cands[1].Name}
	assert.ElementsMatch(t, []string{"Hilda", "Tomas"}, names)
	for _, c := range cands {
		assert.Equal(t, entity.TierLimbo, c.Tier)
		assert.Equal(t, 85, c.Confidence)
		assert.Equal(t, "list detection", c.Reasoning)
	}
}

func TestContainerStripsTrailingSections(t *testing.T) {
	doc := Doc{
		Filename: "cast.md",
		Text:     "- **Hilda**: blacksmith\n  Gustos: iron\n  Odia: rust\n",
	}

	cands := Extract(doc)
	require.Len(t, cands, 1)
	assert.NotContains(t, cands[0].RawContent, "Gustos")
	assert.Contains(t, cands[0].RawContent, "blacksmith")
}

func TestContainerCoexistsWithFrontMatter(t *testing.T) {
	doc := Doc{
		Filename: "characters.md",
		Text: `---
name: Elsa
---
- **Hilda**: blacksmith
`,
	}

	cands := Extract(doc)
	require.Len(t, cands, 2)
}

func TestNonContainerFilenameSkipsListCheck(t *testing.T) {
	doc := Doc{
		Filename: "journal.md",
		Text:     "- **Hilda**: blacksmith\n",
	}
	assert.Empty(t, Extract(doc))
}
