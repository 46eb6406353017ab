// Package llm defines the external model capabilities the engine consumes:
// structured entity extraction and text embedding. The Google GenAI client
// is the production implementation; tests use in-package fakes.
package llm

import (
	"context"
	"errors"
)

// ErrMalformedResponse marks extraction output that could not be parsed as
// the expected JSON array. Callers treat it as zero candidates; retrying is
// pointless.
var ErrMalformedResponse = errors.New("malformed extraction response")

// ExtractedEntity is one item from the extraction capability's structured
// output.
type ExtractedEntity struct {
	Name     string `json:"name"`
	Category string `json:"category"` // PERSON | CREATURE | FLORA
	Context  string `json:"context"`
}

// Extractor recovers entity mentions from narrative text. Implementations
// must tolerate inputs up to the batching character limit per call and
// return structured output; unparseable output is reported as
// ErrMalformedResponse so the caller can fold it to zero candidates.
type Extractor interface {
	Extract(ctx context.Context, text string, knownNames []string) ([]ExtractedEntity, error)
}

// Embedder produces a vector for a chunk of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
