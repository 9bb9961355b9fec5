package embedder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"manifest/internal/config"
	"manifest/internal/core"
	"manifest/internal/imageutil"
)

// Fusion weights for the local CLIP provider. The image carries most of the
// signal; the context text disambiguates visually similar items.
const (
	clipImageWeight = 0.6
	clipTextWeight  = 0.4
)

// ClipEmbedder talks to a local CLIP sidecar over HTTP. Unlike Voyage there
// is no server-side fusion, so item embeddings are a weighted mix of the
// image and text vectors computed here.
type ClipEmbedder struct {
	endpoint  string
	dimension int
	client    *http.Client
}

// NewClip builds an embedder against a local CLIP sidecar.
func NewClip(cfg config.ClipConfig) (*ClipEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("CLIP endpoint is required")
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 512
	}
	return &ClipEmbedder{
		endpoint:  cfg.Endpoint,
		dimension: dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Dimension returns the sidecar model's vector length.
func (c *ClipEmbedder) Dimension() int { return c.dimension }

// EmbedItem embeds the image and the context text separately, then fuses
// them 0.6/0.4 and re-normalizes.
func (c *ClipEmbedder) EmbedItem(ctx context.Context, image imageutil.Source, item core.ItemContext) ([]float32, error) {
	data, err := imageutil.Load(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("failed to load image for embedding: %w", err)
	}

	imageVec, err := c.post(ctx, "/embed_image", map[string]string{
		"image_base64": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, err
	}
	textVec, err := c.post(ctx, "/embed_text", map[string]string{
		"text": ContextText(item),
	})
	if err != nil {
		return nil, err
	}

	return fuse(imageVec, textVec, clipImageWeight, clipTextWeight)
}

// EmbedText embeds a search query through the sidecar's text tower.
func (c *ClipEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.post(ctx, "/embed_text", map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	return Normalize(vec), nil
}

type clipResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *ClipEmbedder) post(ctx context.Context, path string, payload map[string]string) ([]float32, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CLIP request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create CLIP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read CLIP response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CLIP sidecar returned status %d: %s", resp.StatusCode, truncateBody(raw, 200))
	}

	var parsed clipResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode CLIP response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("CLIP sidecar returned no embedding")
	}
	if len(parsed.Embedding) != c.dimension {
		return nil, fmt.Errorf("CLIP returned %d-dim vector, expected %d", len(parsed.Embedding), c.dimension)
	}
	return parsed.Embedding, nil
}
