package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KikDevKik/MyWorld-sub004/internal/llm"
	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
	"github.com/KikDevKik/MyWorld-sub004/pkg/scanner/candidates"
)

type scriptedExtractor struct {
	calls    int
	failures int
	results  []llm.ExtractedEntity
	known    [][]string
	batches  []string
}

func (s *scriptedExtractor) Extract(ctx context.Context, text string, known []string) ([]llm.ExtractedEntity, error) {
	s.calls++
	s.batches = append(s.batches, text)
	s.known = append(s.known, known)
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("upstream unavailable")
	}
	return s.results, nil
}

func TestGenerate_NewNamesBecomeGhosts(t *testing.T) {
	ext := &scriptedExtractor{results: []llm.ExtractedEntity{
		{Name: "Bruni", Category: "CREATURE", Context: "Bruni naps on warm stones."},
	}}
	g := NewGenerator(ext, nil)
	acc := candidates.NewSet()

	report := g.Generate(context.Background(), []SourceText{{DocumentID: "doc1", Text: "some prose"}}, nil, acc)

	assert.Equal(t, 1, report.Extracted)
	assert.Empty(t, report.Failures)

	c, ok := acc.Get("Bruni")
	require.True(t, ok)
	assert.Equal(t, entity.TierGhost, c.Tier)
	assert.Equal(t, 50, c.Confidence)
	assert.Equal(t, entity.KindCreature, c.Kind)
	assert.Equal(t, entity.SourceModelMention, c.Source)
	assert.Equal(t, "doc1", c.SourceDocumentID)
	assert.Equal(t, []string{"Bruni naps on warm stones."}, c.FoundIn)
}

func TestGenerate_ExistingNameGainsProvenanceOnly(t *testing.T) {
	ext := &scriptedExtractor{results: []llm.ExtractedEntity{
		{Name: "Elsa", Category: "PERSON", Context: "Elsa crossed the fjord."},
	}}
	g := NewGenerator(ext, nil)

	acc := candidates.NewSet()
	acc.Add(entity.Candidate{
		Name:       "Elsa",
		Kind:       entity.KindCharacter,
		Tier:       entity.TierAnchor,
		Confidence: 100,
		Source:     entity.SourceFrontMatter,
	})

	g.Generate(context.Background(), []SourceText{{DocumentID: "doc1", Text: "prose"}}, nil, acc)

	require.Equal(t, 1, acc.Len())
	c, _ := acc.Get("Elsa")
	assert.Equal(t, entity.TierAnchor, c.Tier)
	assert.Equal(t, 100, c.Confidence)
	assert.Contains(t, c.FoundIn, "Elsa crossed the fjord.")
}

func TestGenerate_CategoryBackfillOnlyWhenEmpty(t *testing.T) {
	ext := &scriptedExtractor{results: []llm.ExtractedEntity{
		{Name: "Mist", Category: "CREATURE"},
	}}
	g := NewGenerator(ext, nil)

	acc := candidates.NewSet()
	acc.Add(entity.Candidate{Name: "Mist", Kind: entity.KindUnknown, Tier: entity.TierLimbo, Source: entity.SourceDraftHeuristic})

	g.Generate(context.Background(), []SourceText{{DocumentID: "d", Text: "x"}}, nil, acc)

	c, _ := acc.Get("Mist")
	assert.Equal(t, entity.KindCreature, c.Kind)

	// A second pass with a different category must not overwrite.
	ext.results = []llm.ExtractedEntity{{Name: "Mist", Category: "FLORA"}}
	g.Generate(context.Background(), []SourceText{{DocumentID: "d", Text: "x"}}, nil, acc)
	c, _ = acc.Get("Mist")
	assert.Equal(t, entity.KindCreature, c.Kind)
}

func TestGenerate_KnownNamesHintIncludesAccumulator(t *testing.T) {
	ext := &scriptedExtractor{}
	g := NewGenerator(ext, nil)

	acc := candidates.NewSet()
	acc.Add(entity.Candidate{Name: "Elsa", Source: entity.SourceFrontMatter})

	g.Generate(context.Background(), []SourceText{{DocumentID: "d", Text: "x"}}, []string{"Anna"}, acc)

	require.Len(t, ext.known, 1)
	assert.ElementsMatch(t, []string{"Anna", "Elsa"}, ext.known[0])
}

func TestGenerate_RetriesThenSucceeds(t *testing.T) {
	ext := &scriptedExtractor{
		failures: 2,
		results:  []llm.ExtractedEntity{{Name: "Bruni", Category: "CREATURE"}},
	}
	g := NewGenerator(ext, nil)
	acc := candidates.NewSet()

	report := g.Generate(context.Background(), []SourceText{{DocumentID: "d", Text: "x"}}, nil, acc)

	assert.Equal(t, 3, ext.calls)
	assert.Empty(t, report.Failures)
	assert.True(t, acc.Has("Bruni"))
}

func TestGenerate_MalformedOutputFoldsToEmpty(t *testing.T) {
	ext := &malformedExtractor{}
	g := NewGenerator(ext, nil)
	acc := candidates.NewSet()

	report := g.Generate(context.Background(), []SourceText{{DocumentID: "d", Text: "x"}}, nil, acc)

	// Unparseable output is not transient: one call, no retries, no failure.
	assert.Equal(t, 1, ext.calls)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 0, report.Extracted)
	assert.Equal(t, 0, acc.Len())
}

type malformedExtractor struct {
	calls int
}

func (m *malformedExtractor) Extract(ctx context.Context, text string, known []string) ([]llm.ExtractedEntity, error) {
	m.calls++
	return nil, fmt.Errorf("%w: invalid character 'I'", llm.ErrMalformedResponse)
}

func TestGenerate_FailureRecordedRunContinues(t *testing.T) {
	ext := &scriptedExtractor{failures: 10}
	g := NewGenerator(ext, nil)
	acc := candidates.NewSet()

	report := g.Generate(context.Background(), []SourceText{
		{DocumentID: "bad", Text: "x"},
	}, nil, acc)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad", report.Failures[0].DocumentID)
	assert.Equal(t, 0, acc.Len())
}

func TestSplitBatches_LineBoundaries(t *testing.T) {
	text := strings.Repeat("line one\n", 5)
	batches := splitBatches(text, 20)

	require.True(t, len(batches) > 1)
	var total string
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), 20)
		total += b
	}
	assert.Equal(t, text, total)
	for _, b := range batches[:len(batches)-1] {
		assert.True(t, strings.HasSuffix(b, "\n"), "batch should end at a line boundary")
	}
}

func TestSplitBatches_SmallTextSingleBatch(t *testing.T) {
	batches := splitBatches("short", MaxBatchChars)
	require.Len(t, batches, 1)
	assert.Equal(t, "short", batches[0])
}
