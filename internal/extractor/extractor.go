package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"manifest/internal/core"
	"manifest/internal/imageutil"
	"manifest/internal/logger"

	openai "github.com/sashabaranov/go-openai"
)

// Errors surfaced to callers. Both carry the raw response tail when wrapped.
var (
	ErrEmptyResponse = errors.New("extraction returned empty response")
	ErrBadJSON       = errors.New("extraction returned invalid JSON")
)

const maxConcurrentExtractions = 8

// extractionPrompt drives the vision model toward dense, packing-relevant
// metadata. The response must be a bare JSON object matching core.ItemContext.
const extractionPrompt = `You are an expert gear analyst for a cross-domain packing intelligence system called Manifest.

Your goal is to analyze an image of a physical object and extract highly accurate, semantically dense metadata. This data will be ingested into a vector database for natural language similarity searches in extreme logistics and disaster relief scenarios.

Analyze the image thoroughly and return ONLY a valid JSON object matching the exact schema below. Do not use markdown blocks (e.g., ` + "```json" + `) or add conversational filler.

{
  "name": "Human-readable name of the item",
  "inferred_category": "One of: clothing, medical, tech, camping, food, misc",
  "primary_material": "Dominant material (e.g., 'Gore-Tex nylon', 'stainless steel', 'cotton')",
  "weight_estimate": "One of: ultralight, light, medium, heavy",
  "thermal_rating": "One of: cold-rated, warm-weather, neutral, insulated",
  "water_resistance": "One of: waterproof, water-resistant, not water-resistant",
  "medical_application": "If applicable: wound_care, thermal_regulation, immobilization, medication, diagnostics, or null",
  "utility_summary": "1-2 sentences: what is this item useful for? In what scenarios?",
  "semantic_tags": ["tag1", "tag2", "tag3"],
  "durability": "One of: disposable, reusable, rugged",
  "compressibility": "One of: highly_compressible, moderate, rigid"
}

IMPORTANT RULES:
- Be specific about materials. "Cotton" vs "merino wool" vs "synthetic fleece" matters enormously for survival contexts.
- For medical items, always note whether they are sterile and single-use.
- semantic_tags should include cross-domain utility hints. A mylar blanket is BOTH medical AND survival.
- If you can identify the brand, include it in the name (e.g., "Patagonia Down Sweater Jacket").
- Return ONLY valid JSON. No markdown, no explanation.`

// chatClient is the slice of the OpenAI client the extractor uses. Satisfied
// by *openai.Client; tests substitute a fake.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Extractor turns item images into structured semantic profiles via an
// OpenAI vision model.
type Extractor struct {
	client    chatClient
	model     string
	maxTokens int
}

// New creates an extractor backed by the given API key.
func New(apiKey, model string, maxTokens int) (*Extractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required for context extraction")
	}
	if model == "" {
		model = "gpt-4o"
	}
	if maxTokens <= 0 {
		maxTokens = 800
	}
	return &Extractor{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Extract analyzes a single image and returns its semantic profile.
func (e *Extractor) Extract(ctx context.Context, image imageutil.Source) (core.ItemContext, error) {
	uri, err := imageutil.DataURI(ctx, image)
	if err != nil {
		return core.ItemContext{}, fmt.Errorf("failed to prepare image: %w", err)
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Analyze this item:"},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    uri,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		MaxTokens:   e.maxTokens,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return core.ItemContext{}, fmt.Errorf("vision request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return core.ItemContext{}, ErrEmptyResponse
	}
	raw := resp.Choices[0].Message.Content
	if strings.TrimSpace(raw) == "" {
		return core.ItemContext{}, ErrEmptyResponse
	}
	logger.Debug("Raw extraction", "head", truncate(raw, 200))

	return ParseContext(raw)
}

// Outcome is one element of a batch extraction. Err is set when that image
// failed; the rest of the batch is unaffected.
type Outcome struct {
	Context core.ItemContext
	Err     error
}

// ExtractBatch dispatches extractions concurrently and returns outcomes in
// input order. A single bad image does not poison the batch.
func (e *Extractor) ExtractBatch(ctx context.Context, images []imageutil.Source) []Outcome {
	outcomes := make([]Outcome, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentExtractions)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			ctxItem, err := e.Extract(gctx, img)
			outcomes[i] = Outcome{Context: ctxItem, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// ParseContext decodes the model's JSON and repairs recoverable gaps. Unknown
// keys (including legacy scratchpad fields) are ignored.
func ParseContext(raw string) (core.ItemContext, error) {
	var ctx core.ItemContext
	if err := json.Unmarshal([]byte(raw), &ctx); err != nil {
		return core.ItemContext{}, fmt.Errorf("%w: %v (raw tail: %s)", ErrBadJSON, err, tail(raw, 200))
	}

	if strings.TrimSpace(ctx.Name) == "" {
		ctx.Name = backfillName(ctx.UtilitySummary)
	}
	if ctx.Quantity <= 0 {
		ctx.Quantity = 1
	}
	return ctx, nil
}

// backfillName synthesizes a name from the utility summary when the model
// omitted one.
func backfillName(summary string) string {
	s := strings.TrimSpace(summary)
	if s == "" {
		return "Unnamed item"
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
