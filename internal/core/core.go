package core

import "strings"

// Item categories the vision model is allowed to assign.
const (
	CategoryClothing = "clothing"
	CategoryMedical  = "medical"
	CategoryTech     = "tech"
	CategoryCamping  = "camping"
	CategoryFood     = "food"
	CategoryMisc     = "misc"
)

// ItemContext is the structured semantic profile the vision model extracts
// from a single item image.
type ItemContext struct {
	Name               string   `json:"name"`                          // Human-readable item name, e.g. "Gore-Tex Rain Jacket"
	InferredCategory   string   `json:"inferred_category"`             // One of: clothing, medical, tech, camping, food, misc
	PrimaryMaterial    string   `json:"primary_material,omitempty"`    // Dominant material, e.g. "Gore-Tex nylon"
	WeightEstimate     string   `json:"weight_estimate,omitempty"`     // ultralight | light | medium | heavy
	ThermalRating      string   `json:"thermal_rating,omitempty"`      // cold-rated | warm-weather | neutral | insulated
	WaterResistance    string   `json:"water_resistance,omitempty"`    // waterproof | water-resistant | not water-resistant
	MedicalApplication string   `json:"medical_application,omitempty"` // wound_care, thermal_regulation, immobilization, ...
	UtilitySummary     string   `json:"utility_summary"`               // 1-2 sentence plain-English description
	SemanticTags       []string `json:"semantic_tags"`                 // Freeform tags: ["first_aid", "sterile", "cold-weather"]
	Durability         string   `json:"durability,omitempty"`          // disposable | reusable | rugged
	Compressibility    string   `json:"compressibility,omitempty"`     // highly_compressible | moderate | rigid
	Quantity           int      `json:"quantity"`                      // Units available; models consumables, defaults to 1
}

// EmbeddingResult is the output of the ingest pipeline's embedding stage.
type EmbeddingResult struct {
	ItemID    string      `json:"item_id"`             // Stable UUID, assigned if not provided
	Vector    []float32   `json:"vector"`              // Unit-norm embedding vector
	Dimension int         `json:"dimension"`           // Must equal len(Vector)
	Context   ItemContext `json:"context"`             // The extracted semantic profile
	ImageURL  string      `json:"image_url,omitempty"` // Public URL after the image is uploaded
}

// RetrievedItem is a single row returned from vector search.
type RetrievedItem struct {
	ItemID      string      `json:"item_id"`
	Score       float64     `json:"score"`                  // Cosine similarity as reported by the store
	ImageURL    string      `json:"image_url,omitempty"`    //
	WeightGrams float64     `json:"weight_grams,omitempty"` // Explicit weight from the store; 0 means unknown
	Context     ItemContext `json:"context"`
}

// PackableItem is an optimizer candidate built from a RetrievedItem plus
// inventory and weight data.
type PackableItem struct {
	ItemID          string   `json:"item_id"`
	Name            string   `json:"name"`
	SimilarityScore float64  `json:"similarity_score"` // >= 0
	WeightGrams     float64  `json:"weight_grams"`     // > 0, per unit
	QuantityOwned   int      `json:"quantity_owned"`   // >= 1
	Category        string   `json:"category"`
	SemanticTags    []string `json:"semantic_tags"`
}

// PackingConstraints describes the physical and diversity limits for one
// packing mission.
type PackingConstraints struct {
	MaxWeightGrams   float64        `json:"max_weight_grams"`        // Hard weight cap, never relaxed
	CategoryMinimums map[string]int `json:"category_minimums"`       // "at least 2 medical items"
	CategoryMaximums map[string]int `json:"category_maximums"`       // "no more than 2 tech items", never relaxed
	TagMinimums      map[string]int `json:"tag_minimums"`            // Minimums over semantic tags
	MaxPerItem       int            `json:"max_per_item,omitempty"`  // 0 = use quantity owned as the cap
	PinnedItems      []string       `json:"pinned_items,omitempty"`  // Item ids that must be packed (>= 1)
}

// PackedItem pairs an item with the quantity the solver chose.
type PackedItem struct {
	Item     PackableItem `json:"item"`
	Quantity int          `json:"quantity"`
}

// Solver statuses.
const (
	StatusOptimal    = "optimal"
	StatusFeasible   = "feasible"
	StatusInfeasible = "infeasible"
)

// PackingResult is the optimizer's output.
type PackingResult struct {
	PackedItems          []PackedItem   `json:"packed_items"`
	UnpackedItems        []PackableItem `json:"unpacked_items"`
	TotalWeightGrams     float64        `json:"total_weight_grams"`
	TotalSimilarityScore float64        `json:"total_similarity_score"`
	WeightUtilization    float64        `json:"weight_utilization"` // 0-1 share of the weight budget used
	Status               string         `json:"status"`             // optimal | feasible | infeasible
	SolverTimeMs         float64        `json:"solver_time_ms"`
	RelaxedConstraints   []string       `json:"relaxed_constraints"` // Human-readable relaxation notes
}

// ContainerSpec is one physical bin in a multi-container pack. Capacity is
// the declared maximum minus tare weight.
type ContainerSpec struct {
	ContainerID    string  `json:"container_id"`
	Name           string  `json:"name"`
	MaxWeightGrams float64 `json:"max_weight_grams"` // Effective capacity after tare
}

// ContainerPack is the portion of a multi-bin result assigned to one bin.
type ContainerPack struct {
	Container        ContainerSpec `json:"container"`
	PackedItems      []PackedItem  `json:"packed_items"`
	TotalWeightGrams float64       `json:"total_weight_grams"`
	Utilization      float64       `json:"utilization"`
}

// MultiBinResult is the optimizer's output for multi-container packing.
type MultiBinResult struct {
	Containers           []ContainerPack `json:"containers"`
	UnpackedItems        []PackableItem  `json:"unpacked_items"`
	TotalWeightGrams     float64         `json:"total_weight_grams"`
	TotalSimilarityScore float64         `json:"total_similarity_score"`
	Status               string          `json:"status"`
	SolverTimeMs         float64         `json:"solver_time_ms"`
	RelaxedConstraints   []string        `json:"relaxed_constraints"`
}

// MissionPlan is the synthesizer's curated manifest.
type MissionPlan struct {
	MissionSummary string            `json:"mission_summary"` // 1-2 sentence interpretation of the mission
	SelectedItems  []RetrievedItem   `json:"selected_items"`
	RejectedItems  []RetrievedItem   `json:"rejected_items"`
	Reasoning      map[string]string `json:"reasoning"` // item_id -> explanation; rejections carry a "REJECTED: " prefix
	Warnings       []string          `json:"warnings"`  // Safety gaps; insights carry an "[INSIGHT] " prefix
}

// WeightEstimateGrams maps the vision model's coarse weight labels to grams.
var WeightEstimateGrams = map[string]float64{
	"ultralight": 100,
	"light":      300,
	"medium":     700,
	"heavy":      1500,
}

// GramsForEstimate resolves a weight label to grams. Unknown labels fall back
// to 500 g; an empty label returns (0, false) so callers can decide.
func GramsForEstimate(estimate string) (float64, bool) {
	label := strings.ToLower(strings.TrimSpace(estimate))
	if label == "" {
		return 0, false
	}
	if grams, ok := WeightEstimateGrams[label]; ok {
		return grams, true
	}
	return 500, true
}

// DomainForCategory maps an AI-assigned category string to a manifest domain.
// Matching is case-insensitive on substrings; anything unrecognized is
// "general".
func DomainForCategory(category string) string {
	lower := strings.ToLower(category)
	for _, domain := range []string{
		CategoryClothing, CategoryMedical, CategoryTech, CategoryCamping, CategoryFood,
	} {
		if strings.Contains(lower, domain) {
			return domain
		}
	}
	return "general"
}
