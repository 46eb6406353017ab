package dictionary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

func testEntries() []entity.RegistryEntry {
	return []entity.RegistryEntry{
		{ID: "e1", Name: "Elsa Winterlight", Kind: entity.KindCharacter, Aliases: []string{"The Ice Queen"}},
		{ID: "e2", Name: "Arendelle", Kind: entity.KindLocation},
		{ID: "e3", Name: "Order of the Silver Dawn", Kind: entity.KindFaction},
	}
}

func TestLookupByName(t *testing.T) {
	d := Compile(testEntries())

	hits := d.Lookup("elsa winterlight")
	require.Len(t, hits, 1)
	assert.Equal(t, "e1", hits[0].ID)
}

func TestLookupByStoredAlias(t *testing.T) {
	d := Compile(testEntries())

	hits := d.Lookup("the ice queen")
	require.Len(t, hits, 1)
	assert.Equal(t, "e1", hits[0].ID)
}

func TestLookupByAutoAlias(t *testing.T) {
	d := Compile(testEntries())

	// Character last name
	hits := d.Lookup("Winterlight")
	require.Len(t, hits, 1)
	assert.Equal(t, "e1", hits[0].ID)

	// Character first name
	assert.True(t, d.IsKnown("Elsa"))

	// Faction acronym
	hits = d.Lookup("OTSD")
	require.Len(t, hits, 1)
	assert.Equal(t, "e3", hits[0].ID)
}

func TestUnknownSurface(t *testing.T) {
	d := Compile(testEntries())

	assert.Nil(t, d.Lookup("Kristoff"))
	assert.False(t, d.IsKnown("Kristoff"))
}

func TestScanMentionsDiacritics(t *testing.T) {
	d := Compile([]entity.RegistryEntry{
		{ID: "e1", Name: "José", Kind: entity.KindCharacter},
		{ID: "e2", Name: "Facción del Alba", Kind: entity.KindFaction},
	})

	text := "José rode out as the facción del alba watched."
	mentions := d.ScanMentions(text)
	require.Len(t, mentions, 2)

	assert.Equal(t, "e1", mentions[0].EntityID)
	assert.Equal(t, "José", mentions[0].MatchedText)
	assert.Equal(t, text[mentions[0].Start:mentions[0].End], mentions[0].MatchedText)

	assert.Equal(t, "e2", mentions[1].EntityID)
	assert.Equal(t, "facción del alba", mentions[1].MatchedText)
}

func TestScanMentionsHyphenatedName(t *testing.T) {
	d := Compile([]entity.RegistryEntry{
		{ID: "e1", Name: "José-María", Kind: entity.KindCharacter},
	})

	mentions := d.ScanMentions("Then Jose-Maria spoke.")
	require.Len(t, mentions, 1)
	assert.Equal(t, "Jose-Maria", mentions[0].MatchedText)
}

func TestScanMentionsOffsetsSurviveCaseExpansion(t *testing.T) {
	d := Compile([]entity.RegistryEntry{
		{ID: "e1", Name: "Elsa", Kind: entity.KindCharacter},
	})

	// Lowercasing İ grows the string by a combining mark, so match offsets
	// must be mapped back to the original bytes.
	text := "İİİİ meets Elsa"
	mentions := d.ScanMentions(text)
	require.Len(t, mentions, 1)
	m := mentions[0]
	assert.Equal(t, "Elsa", m.MatchedText)
	assert.Equal(t, "Elsa", text[m.Start:m.End])
}

func TestScanMentions(t *testing.T) {
	d := Compile(testEntries())

	text := "Elsa rode north from Arendelle before dawn."
	mentions := d.ScanMentions(text)

	ids := make(map[string]bool)
	for _, m := range mentions {
		ids[m.EntityID] = true
	}
	assert.True(t, ids["e1"], "character first-name alias should match")
	assert.True(t, ids["e2"], "location should match")
}
