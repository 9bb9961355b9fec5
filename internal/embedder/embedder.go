// Package embedder produces unit-norm dense vectors from item images and
// their extracted semantic profiles, and from text-only search queries.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"manifest/internal/config"
	"manifest/internal/core"
	"manifest/internal/imageutil"
)

// ErrUnavailable wraps provider transport failures.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Embedder is the capability shared by all providers.
type Embedder interface {
	// EmbedItem generates a multimodal embedding from image + semantic context.
	EmbedItem(ctx context.Context, image imageutil.Source, item core.ItemContext) ([]float32, error)

	// EmbedText embeds a text-only query for search.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimension is the fixed vector length this provider produces. It must
	// match the vector store's index dimension.
	Dimension() int
}

// New selects the active provider from configuration.
func New(cfg *config.Config) (Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderVoyage:
		return NewVoyage(cfg.Embedding.Voyage)
	case config.ProviderClipLocal:
		return NewClip(cfg.Embedding.Clip)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}
}

// ContextText serializes the extracted profile into an embedding-friendly
// text block. Field order is fixed so document and query embeddings see the
// same layout.
func ContextText(item core.ItemContext) string {
	parts := []string{
		"Item: " + item.Name,
		"Category: " + item.InferredCategory,
		"Utility: " + item.UtilitySummary,
	}
	if item.PrimaryMaterial != "" {
		parts = append(parts, "Material: "+item.PrimaryMaterial)
	}
	if item.ThermalRating != "" {
		parts = append(parts, "Thermal: "+item.ThermalRating)
	}
	if item.WaterResistance != "" {
		parts = append(parts, "Water resistance: "+item.WaterResistance)
	}
	if item.MedicalApplication != "" {
		parts = append(parts, "Medical use: "+item.MedicalApplication)
	}
	if len(item.SemanticTags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(item.SemanticTags, ", "))
	}
	return strings.Join(parts, ". ")
}

// Normalize scales the vector to unit L2 norm in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// fuse combines an image vector and a text vector with the given weights.
// Both inputs are normalized individually before mixing; the result is
// normalized again.
func fuse(imageVec, textVec []float32, imageWeight, textWeight float64) ([]float32, error) {
	if len(imageVec) != len(textVec) {
		return nil, fmt.Errorf("cannot fuse vectors of different dimensions: %d vs %d", len(imageVec), len(textVec))
	}
	Normalize(imageVec)
	Normalize(textVec)
	fused := make([]float32, len(imageVec))
	for i := range fused {
		fused[i] = float32(imageWeight*float64(imageVec[i]) + textWeight*float64(textVec[i]))
	}
	return Normalize(fused), nil
}
