// Package synthesizer turns raw vector search hits into a curated mission
// manifest: which items to take, why, and what safety gaps remain.
package synthesizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"manifest/internal/core"
	"manifest/internal/logger"

	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrEmptyResponse = errors.New("synthesis returned empty response")
	ErrBadJSON       = errors.New("synthesis returned invalid JSON")
)

const synthesisPrompt = `You are a mission logistics expert for Manifest, a cross-domain packing intelligence system.

You receive a mission description and a list of candidate items retrieved by semantic similarity. Your job is to curate the final manifest:

1. SELECT the items that genuinely serve the mission. Retrieval is fuzzy; some candidates will be irrelevant despite a high similarity score. Judge by utility, not by score.
2. REJECT candidates that do not serve the mission, with a short reason each.
3. WARN about safety-critical gaps: things the mission clearly needs that are NOT in the candidate list (e.g. no water treatment for a multi-day hike).
4. Note cross-domain insights: non-obvious alternate uses of selected items (e.g. a mylar blanket doubling as a signaling device).

Return ONLY a valid JSON object with this exact schema:

{
  "mission_summary": "1-2 sentence interpretation of what this mission needs",
  "selected_items": [{"item_id": "...", "name": "...", "reason": "why it serves the mission"}],
  "rejected_items": [{"item_id": "...", "name": "...", "reason": "why it was cut"}],
  "warnings": ["missing capability the user should know about"],
  "cross_domain_insights": ["non-obvious utility note"]
}

Only use item ids that appear in the candidate list. No markdown, no explanation outside the JSON.`

// chatClient is the slice of the OpenAI client the synthesizer uses.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Synthesizer curates retrieval results into a mission plan via an LLM.
type Synthesizer struct {
	client    chatClient
	model     string
	maxTokens int
}

// New creates a synthesizer backed by the given API key.
func New(apiKey, model string, maxTokens int) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required for mission synthesis")
	}
	if model == "" {
		model = "gpt-4o"
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Synthesizer{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Synthesize curates the candidate items for the given mission query.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, candidates []core.RetrievedItem) (core.MissionPlan, error) {
	if len(candidates) == 0 {
		return core.MissionPlan{
			MissionSummary: "No items in the inventory matched this mission.",
			Reasoning:      map[string]string{},
		}, nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: synthesisPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(query, candidates)},
		},
		MaxTokens:   s.maxTokens,
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return core.MissionPlan{}, fmt.Errorf("synthesis request failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return core.MissionPlan{}, ErrEmptyResponse
	}

	return ParsePlan(resp.Choices[0].Message.Content, candidates)
}

// buildUserPrompt renders the mission and one compact record per candidate.
func buildUserPrompt(query string, candidates []core.RetrievedItem) string {
	var b strings.Builder
	b.WriteString("MISSION: ")
	b.WriteString(query)
	b.WriteString("\n\nCANDIDATE ITEMS:\n")
	for _, item := range candidates {
		ic := item.Context
		fmt.Fprintf(&b, "- id=%s name=%q category=%s score=%.2f",
			item.ItemID, ic.Name, ic.InferredCategory, item.Score)
		if ic.PrimaryMaterial != "" {
			fmt.Fprintf(&b, " material=%q", ic.PrimaryMaterial)
		}
		if ic.ThermalRating != "" {
			fmt.Fprintf(&b, " thermal=%s", ic.ThermalRating)
		}
		if ic.WaterResistance != "" {
			fmt.Fprintf(&b, " water=%q", ic.WaterResistance)
		}
		if ic.MedicalApplication != "" {
			fmt.Fprintf(&b, " medical=%s", ic.MedicalApplication)
		}
		if item.WeightGrams > 0 {
			fmt.Fprintf(&b, " weight_grams=%.0f", item.WeightGrams)
		}
		if len(ic.SemanticTags) > 0 {
			fmt.Fprintf(&b, " tags=%s", strings.Join(ic.SemanticTags, ","))
		}
		if ic.UtilitySummary != "" {
			fmt.Fprintf(&b, " utility=%q", ic.UtilitySummary)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// planPayload is the model's raw JSON shape. Missing fields decode to empty
// collections.
type planPayload struct {
	MissionSummary      string      `json:"mission_summary"`
	SelectedItems       []planEntry `json:"selected_items"`
	RejectedItems       []planEntry `json:"rejected_items"`
	Warnings            []string    `json:"warnings"`
	CrossDomainInsights []string    `json:"cross_domain_insights"`
}

type planEntry struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ParsePlan decodes the model output and reconciles it against the real
// candidate set. Ids the model invented are silently dropped.
func ParsePlan(raw string, candidates []core.RetrievedItem) (core.MissionPlan, error) {
	var payload planPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return core.MissionPlan{}, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}

	byID := make(map[string]core.RetrievedItem, len(candidates))
	for _, item := range candidates {
		byID[item.ItemID] = item
	}

	plan := core.MissionPlan{
		MissionSummary: payload.MissionSummary,
		Reasoning:      map[string]string{},
		Warnings:       append([]string{}, payload.Warnings...),
	}

	seen := make(map[string]bool, len(payload.SelectedItems))
	for _, entry := range payload.SelectedItems {
		item, known := byID[entry.ItemID]
		if !known {
			logger.Warn("Synthesis referenced unknown item id, dropping", "item_id", entry.ItemID)
			continue
		}
		if seen[entry.ItemID] {
			continue
		}
		seen[entry.ItemID] = true
		plan.SelectedItems = append(plan.SelectedItems, item)
		if entry.Reason != "" {
			plan.Reasoning[entry.ItemID] = entry.Reason
		}
	}

	for _, entry := range payload.RejectedItems {
		item, known := byID[entry.ItemID]
		if !known || seen[entry.ItemID] {
			continue
		}
		seen[entry.ItemID] = true
		plan.RejectedItems = append(plan.RejectedItems, item)
		reason := entry.Reason
		if reason == "" {
			reason = "Not selected for this mission"
		}
		plan.Reasoning[entry.ItemID] = "REJECTED: " + reason
	}

	for _, insight := range payload.CrossDomainInsights {
		plan.Warnings = append(plan.Warnings, "[INSIGHT] "+insight)
	}

	return plan, nil
}
