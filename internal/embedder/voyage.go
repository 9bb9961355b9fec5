package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"manifest/internal/config"
	"manifest/internal/core"
	"manifest/internal/imageutil"
)

// VoyageEmbedder calls the Voyage AI multimodal embeddings API. One request
// fuses the image and its context text server-side, so documents and queries
// land in the same space.
type VoyageEmbedder struct {
	apiKey    string
	model     string
	dimension int
	baseURL   string
	client    *http.Client
}

// NewVoyage builds a Voyage-backed embedder from configuration.
func NewVoyage(cfg config.VoyageConfig) (*VoyageEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("voyage API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "voyage-multimodal-3"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.voyageai.com/v1"
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 1024
	}
	return &VoyageEmbedder{
		apiKey:    cfg.APIKey,
		model:     model,
		dimension: dimension,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Dimension returns the configured output dimension.
func (v *VoyageEmbedder) Dimension() int { return v.dimension }

// voyageContentPart is one element of a multimodal input. Exactly one of the
// optional fields is set per part.
type voyageContentPart struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

type voyageInput struct {
	Content []voyageContentPart `json:"content"`
}

type voyageRequest struct {
	Inputs          []voyageInput `json:"inputs"`
	Model           string        `json:"model"`
	InputType       string        `json:"input_type"`
	OutputDimension int           `json:"output_dimension,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedItem embeds image + context text as one fused document vector.
func (v *VoyageEmbedder) EmbedItem(ctx context.Context, image imageutil.Source, item core.ItemContext) ([]float32, error) {
	imagePart := voyageContentPart{}
	if image.IsRemote() {
		imagePart.Type = "image_url"
		imagePart.ImageURL = image.Ref
	} else {
		uri, err := imageutil.DataURI(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare image for embedding: %w", err)
		}
		imagePart.Type = "image_base64"
		imagePart.ImageBase64 = uri
	}

	return v.embed(ctx, voyageRequest{
		Inputs: []voyageInput{{Content: []voyageContentPart{
			imagePart,
			{Type: "text", Text: ContextText(item)},
		}}},
		Model:           v.model,
		InputType:       "document",
		OutputDimension: v.dimension,
	})
}

// EmbedText embeds a search query.
func (v *VoyageEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return v.embed(ctx, voyageRequest{
		Inputs: []voyageInput{{Content: []voyageContentPart{
			{Type: "text", Text: text},
		}}},
		Model:           v.model,
		InputType:       "query",
		OutputDimension: v.dimension,
	})
}

func (v *VoyageEmbedder) embed(ctx context.Context, reqBody voyageRequest) ([]float32, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/multimodalembeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voyage API returned status %d: %s", resp.StatusCode, truncateBody(body, 200))
	}

	var parsed voyageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("voyage API returned no embedding data")
	}

	vec := parsed.Data[0].Embedding
	if len(vec) != v.dimension {
		return nil, fmt.Errorf("voyage returned %d-dim vector, expected %d", len(vec), v.dimension)
	}
	// Cosine search assumes unit-norm vectors regardless of provider output.
	return Normalize(vec), nil
}

func truncateBody(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
