package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI CLIENT
// =============================================================================

// GenAIClient implements Extractor and Embedder against the Gemini API.
type GenAIClient struct {
	client         *genai.Client
	extractModel   string
	embeddingModel string
}

// NewGenAIClient creates a client. Models fall back to sensible defaults
// when empty.
func NewGenAIClient(ctx context.Context, apiKey, extractModel, embeddingModel string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if extractModel == "" {
		extractModel = "gemini-2.5-flash"
	}
	if embeddingModel == "" {
		embeddingModel = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClient{
		client:         client,
		extractModel:   extractModel,
		embeddingModel: embeddingModel,
	}, nil
}

const extractSystemPrompt = `You are an entity extraction system for a fiction writer's notes.
Find named entities in the text: people (PERSON), creatures and monsters (CREATURE), and notable plants (FLORA).

Return ONLY a JSON array, no prose:
[{"name": "...", "category": "PERSON|CREATURE|FLORA", "context": "short quote where the entity appears"}]

Rules:
1. Only proper names, never generic nouns ("the guard", "a wolf").
2. Skip names from the known list below; they are already registered.
3. Keep context under 120 characters.
4. Return [] if nothing is found.`

// Extract calls the extraction model with a JSON-only response contract.
func (c *GenAIClient) Extract(ctx context.Context, text string, knownNames []string) ([]ExtractedEntity, error) {
	prompt := extractSystemPrompt
	if len(knownNames) > 0 {
		prompt += "\n\nAlready known: " + strings.Join(knownNames, ", ")
	}
	prompt += "\n\nText:\n" + text

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.extractModel, contents,
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		return nil, fmt.Errorf("GenAI extract failed: %w", err)
	}

	raw := strings.TrimSpace(resp.Text())
	if raw == "" {
		return nil, nil
	}

	var entities []ExtractedEntity
	if err := json.Unmarshal([]byte(raw), &entities); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return entities, nil
}

// Embed generates an embedding for a single text.
func (c *GenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents,
		&genai.EmbedContentConfig{
			TaskType: "RETRIEVAL_DOCUMENT",
		})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// Compile-time interface checks
var (
	_ Extractor = (*GenAIClient)(nil)
	_ Embedder  = (*GenAIClient)(nil)
)
