// Package extraction batches narrative text through the language-model
// extraction capability and folds the results into a candidate set.
package extraction

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/KikDevKik/MyWorld-sub004/internal/llm"
	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
	"github.com/KikDevKik/MyWorld-sub004/pkg/scanner/candidates"
)

// MaxBatchChars bounds the text sent per extraction call.
const MaxBatchChars = 100_000

// maxRetries is the number of re-attempts after a transient failure.
const maxRetries = 2

// SourceText is one document's narrative text entering extraction.
type SourceText struct {
	DocumentID string
	Text       string
}

// BatchFailure records one batch that failed after retries. The run
// continues past it.
type BatchFailure struct {
	DocumentID string `json:"documentId"`
	Batch      int    `json:"batch"`
	Error      string `json:"error"`
}

// Report summarizes one Generate pass.
type Report struct {
	Batches   int
	Extracted int
	Failures  []BatchFailure
}

// Generator drives the extraction capability.
type Generator struct {
	extractor llm.Extractor
	log       *zap.Logger
	batchMax  int
}

func NewGenerator(ext llm.Extractor, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{extractor: ext, log: log, batchMax: MaxBatchChars}
}

// Generate runs every corpus document through the extractor in bounded
// batches and merges results into acc. Names already in acc gain provenance
// and a category backfill instead of a second candidate. Batch failures are
// recorded, never fatal.
func (g *Generator) Generate(ctx context.Context, corpus []SourceText, known []string, acc *candidates.Set) Report {
	var report Report

	for _, src := range corpus {
		for i, batch := range splitBatches(src.Text, g.batchMax) {
			report.Batches++

			hints := append(append([]string{}, known...), acc.Names()...)
			extracted, err := g.extractWithRetry(ctx, batch, hints)
			if err != nil {
				g.log.Warn("extraction batch failed",
					zap.String("documentId", src.DocumentID),
					zap.Int("batch", i),
					zap.Error(err))
				report.Failures = append(report.Failures, BatchFailure{
					DocumentID: src.DocumentID,
					Batch:      i,
					Error:      err.Error(),
				})
				continue
			}

			for _, e := range extracted {
				g.fold(acc, src.DocumentID, e)
				report.Extracted++
			}
		}
	}

	return report
}

func (g *Generator) extractWithRetry(ctx context.Context, text string, known []string) ([]llm.ExtractedEntity, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		extracted, err := g.extractor.Extract(ctx, text, known)
		if err == nil {
			return extracted, nil
		}
		if errors.Is(err, llm.ErrMalformedResponse) {
			g.log.Warn("extraction returned unparseable output, treating as empty",
				zap.Error(err))
			return nil, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// fold merges one extracted mention into the set. Existing names only gain
// provenance; the model never upgrades a heuristic candidate.
func (g *Generator) fold(acc *candidates.Set, documentID string, e llm.ExtractedEntity) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return
	}

	if existing, ok := acc.Get(name); ok {
		if e.Context != "" {
			existing.AddProvenance(e.Context)
		}
		if existing.Kind == entity.KindUnknown {
			existing.Kind = entity.ParseKind(e.Category)
		}
		return
	}

	c := entity.Candidate{
		Name:             name,
		Kind:             entity.ParseKind(e.Category),
		Tier:             entity.TierGhost,
		Confidence:       50,
		Reasoning:        entity.SourceModelMention.String(),
		Source:           entity.SourceModelMention,
		SourceDocumentID: documentID,
	}
	if e.Context != "" {
		c.FoundIn = []string{e.Context}
	}
	acc.Add(c)
}

// splitBatches cuts text at line boundaries so no batch exceeds max chars.
// A single oversized line is hard-truncated.
func splitBatches(text string, max int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= max {
		return []string{text}
	}

	var batches []string
	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if len(line) > max {
			line = line[:max]
		}
		if b.Len() > 0 && b.Len()+len(line) > max {
			batches = append(batches, b.String())
			b.Reset()
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		batches = append(batches, b.String())
	}
	return batches
}
