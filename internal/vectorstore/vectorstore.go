// Package vectorstore persists item embeddings and serves cosine KNN search
// over them. Two backends exist: Supabase via PostgREST and direct Postgres
// with pgvector. Both execute the same match_manifest_items SQL function.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"manifest/internal/config"
	"manifest/internal/core"
)

const tableName = "manifest_items"

// matchFunction is the server-side KNN entry point. It must exist in the
// database before search works; see migrations/.
const matchFunction = "match_manifest_items"

var (
	// ErrUnavailable wraps transport failures reaching the store.
	ErrUnavailable = errors.New("vector store unavailable")

	// ErrSchema signals the table or match function is missing; the fix is
	// running the migrations, not retrying.
	ErrSchema = errors.New("vector store schema missing")
)

// Record is one stored item row. Every ItemContext field is denormalized
// into its own column so the table is queryable without unpacking JSON.
type Record struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Category           string    `json:"category"`
	Domain             string    `json:"domain"`
	WeightGrams        *float64  `json:"weight_grams"` // nil when the weight label was absent
	ImageURL           string    `json:"image_url,omitempty"`
	PrimaryMaterial    string    `json:"primary_material,omitempty"`
	WeightEstimate     string    `json:"weight_estimate,omitempty"`
	ThermalRating      string    `json:"thermal_rating,omitempty"`
	WaterResistance    string    `json:"water_resistance,omitempty"`
	MedicalApplication string    `json:"medical_application,omitempty"`
	UtilitySummary     string    `json:"utility_summary"`
	SemanticTags       []string  `json:"semantic_tags"`
	Durability         string    `json:"durability,omitempty"`
	Compressibility    string    `json:"compressibility,omitempty"`
	Quantity           int       `json:"quantity"`
	Embedding          []float32 `json:"embedding"`
	UserID             string    `json:"user_id,omitempty"`
}

// NewRecord builds a store row from an embedding result. The weight column
// stays null when the vision model gave no estimate; the fallback to a
// default weight happens at pack time, not here.
func NewRecord(res core.EmbeddingResult, userID string) Record {
	c := res.Context
	rec := Record{
		ID:                 res.ItemID,
		Name:               c.Name,
		Category:           c.InferredCategory,
		Domain:             core.DomainForCategory(c.InferredCategory),
		ImageURL:           res.ImageURL,
		PrimaryMaterial:    c.PrimaryMaterial,
		WeightEstimate:     c.WeightEstimate,
		ThermalRating:      c.ThermalRating,
		WaterResistance:    c.WaterResistance,
		MedicalApplication: c.MedicalApplication,
		UtilitySummary:     c.UtilitySummary,
		SemanticTags:       c.SemanticTags,
		Durability:         c.Durability,
		Compressibility:    c.Compressibility,
		Quantity:           c.Quantity,
		Embedding:          res.Vector,
		UserID:             userID,
	}
	if grams, ok := core.GramsForEstimate(c.WeightEstimate); ok {
		rec.WeightGrams = &grams
	}
	return rec
}

// Context reassembles the ItemContext spread across the flat columns.
func (r Record) Context() core.ItemContext {
	return core.ItemContext{
		Name:               r.Name,
		InferredCategory:   r.Category,
		PrimaryMaterial:    r.PrimaryMaterial,
		WeightEstimate:     r.WeightEstimate,
		ThermalRating:      r.ThermalRating,
		WaterResistance:    r.WaterResistance,
		MedicalApplication: r.MedicalApplication,
		UtilitySummary:     r.UtilitySummary,
		SemanticTags:       r.SemanticTags,
		Durability:         r.Durability,
		Compressibility:    r.Compressibility,
		Quantity:           r.Quantity,
	}
}

// SearchOptions filter and size a KNN query. Zero values mean no filter.
type SearchOptions struct {
	TopK     int
	Category string
	UserID   string
}

// VectorStore is the persistence capability the pipeline depends on.
type VectorStore interface {
	// Upsert inserts or replaces a row keyed by its id.
	Upsert(ctx context.Context, rec Record) error

	// Search runs cosine KNN with the given query vector.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]core.RetrievedItem, error)

	// Delete removes a row by id. Deleting a missing id is not an error.
	Delete(ctx context.Context, itemID string) error

	// Count returns the number of stored items.
	Count(ctx context.Context) (int, error)

	// ListAll returns every stored row, used by catalog re-embedding.
	ListAll(ctx context.Context) ([]Record, error)
}

// New selects the active backend from configuration.
func New(cfg *config.Config) (VectorStore, error) {
	switch cfg.Store.Backend {
	case config.BackendSupabase:
		return NewSupabase(cfg.Store.SupabaseURL, cfg.Store.SupabaseKey)
	case config.BackendPostgres:
		return NewPgVector(cfg.Store.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown vector store backend: %s", cfg.Store.Backend)
	}
}
