package optimizer

import "manifest/internal/core"

// EstimateWeight resolves a per-unit weight in grams from the item context.
// A missing estimate is treated as "medium"; unrecognized labels fall back
// to 500 g inside the table lookup.
func EstimateWeight(ctx core.ItemContext) float64 {
	estimate := ctx.WeightEstimate
	if estimate == "" {
		estimate = "medium"
	}
	grams, _ := core.GramsForEstimate(estimate)
	return grams
}

// RetrievedToPackable converts search hits into solver candidates. Weight
// resolution order: caller override, explicit stored weight, coarse estimate.
// Quantity comes from the inventory map, defaulting to 1.
func RetrievedToPackable(items []core.RetrievedItem, inventory map[string]int, weightOverrides map[string]float64) []core.PackableItem {
	packable := make([]core.PackableItem, 0, len(items))
	for _, item := range items {
		weight := item.WeightGrams
		if override, ok := weightOverrides[item.ItemID]; ok && override > 0 {
			weight = override
		}
		if weight <= 0 {
			weight = EstimateWeight(item.Context)
		}

		quantity := inventory[item.ItemID]
		if quantity <= 0 {
			quantity = 1
		}

		score := item.Score
		if score < 0 {
			score = 0
		}

		packable = append(packable, core.PackableItem{
			ItemID:          item.ItemID,
			Name:            item.Context.Name,
			SimilarityScore: score,
			WeightGrams:     weight,
			QuantityOwned:   quantity,
			Category:        item.Context.InferredCategory,
			SemanticTags:    item.Context.SemanticTags,
		})
	}
	return packable
}
