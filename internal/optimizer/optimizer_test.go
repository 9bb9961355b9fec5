package optimizer

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"manifest/internal/core"
)

func testSolver() *Solver { return New(5 * time.Second) }

// catalogItems is the shared candidate fixture: a mixed-domain catalog with
// one multi-quantity consumable.
func catalogItems() []core.PackableItem {
	return []core.PackableItem{
		{ItemID: "jacket", Name: "Jacket", SimilarityScore: 0.9, WeightGrams: 700, QuantityOwned: 1, Category: "clothing", SemanticTags: []string{"warmth"}},
		{ItemID: "bandage", Name: "Bandage", SimilarityScore: 0.85, WeightGrams: 100, QuantityOwned: 3, Category: "medical", SemanticTags: []string{"first_aid", "wound_care", "sterile"}},
		{ItemID: "flashlight", Name: "Flashlight", SimilarityScore: 0.75, WeightGrams: 300, QuantityOwned: 1, Category: "tech", SemanticTags: []string{"navigation"}},
		{ItemID: "sleeping-bag", Name: "Sleeping Bag", SimilarityScore: 0.95, WeightGrams: 1500, QuantityOwned: 1, Category: "camping", SemanticTags: []string{"warmth"}},
		{ItemID: "tent", Name: "Tent", SimilarityScore: 0.7, WeightGrams: 2000, QuantityOwned: 1, Category: "camping", SemanticTags: []string{"shelter"}},
	}
}

func packedQty(result core.PackingResult, itemID string) int {
	for _, p := range result.PackedItems {
		if p.Item.ItemID == itemID {
			return p.Quantity
		}
	}
	return 0
}

func TestEstimateWeight(t *testing.T) {
	cases := []struct {
		estimate string
		want     float64
	}{
		{"ultralight", 100},
		{"light", 300},
		{"medium", 700},
		{"heavy", 1500},
		{"", 700},          // missing estimate falls back to medium
		{"enormous", 500},  // unknown label
		{"  Light  ", 300}, // whitespace and case tolerated
	}
	for _, tc := range cases {
		if got := EstimateWeight(core.ItemContext{WeightEstimate: tc.estimate}); got != tc.want {
			t.Errorf("EstimateWeight(%q) = %v, want %v", tc.estimate, got, tc.want)
		}
	}
}

func TestRetrievedToPackable(t *testing.T) {
	retrieved := []core.RetrievedItem{
		{ItemID: "a", Score: 0.8, WeightGrams: 450, Context: core.ItemContext{Name: "A", InferredCategory: "tech", WeightEstimate: "light"}},
		{ItemID: "b", Score: 0.7, Context: core.ItemContext{Name: "B", InferredCategory: "medical", WeightEstimate: "heavy", SemanticTags: []string{"first_aid"}}},
		{ItemID: "c", Score: -0.1, Context: core.ItemContext{Name: "C", InferredCategory: "misc"}},
	}

	packable := RetrievedToPackable(retrieved,
		map[string]int{"b": 4},
		map[string]float64{"a": 999})

	// Override beats the stored explicit weight.
	if packable[0].WeightGrams != 999 {
		t.Errorf("a weight = %v, want override 999", packable[0].WeightGrams)
	}
	// No override, no stored weight: fall back to the estimate.
	if packable[1].WeightGrams != 1500 {
		t.Errorf("b weight = %v, want 1500 from estimate", packable[1].WeightGrams)
	}
	// No estimate at all: medium default.
	if packable[2].WeightGrams != 700 {
		t.Errorf("c weight = %v, want 700 default", packable[2].WeightGrams)
	}

	if packable[0].QuantityOwned != 1 || packable[1].QuantityOwned != 4 {
		t.Errorf("Quantities = %d, %d; want 1, 4", packable[0].QuantityOwned, packable[1].QuantityOwned)
	}
	if packable[2].SimilarityScore != 0 {
		t.Errorf("Negative score should clamp to 0, got %v", packable[2].SimilarityScore)
	}
	if packable[1].Category != "medical" || len(packable[1].SemanticTags) != 1 {
		t.Errorf("Category/tags not carried over: %+v", packable[1])
	}
}

func TestBuildConstraints_Relaxation(t *testing.T) {
	items := catalogItems()
	bounds := itemBounds(items, 0)

	mins, maxs, notes := buildConstraints(items, bounds, core.PackingConstraints{
		CategoryMinimums: map[string]int{"medical": 5, "food": 1},
		CategoryMaximums: map[string]int{"camping": 1},
		TagMinimums:      map[string]int{"warmth": 3, "water_treatment": 1},
		PinnedItems:      []string{"tent", "ghost-item"},
	})

	wantNotes := []string{
		"No items available for category 'food'",
		"Category 'medical': relaxed from >=5 to >=3 (only 3 available)",
		"Tag 'warmth': relaxed from >=3 to >=2 (only 2 available)",
		"No items available for tag 'water_treatment'",
		"Pinned item ghost-item not found in candidates",
	}
	if !reflect.DeepEqual(notes, wantNotes) {
		t.Errorf("Notes = %v\nwant %v", notes, wantNotes)
	}

	// medical relaxed to 3, warmth relaxed to 2, tent pin kept.
	if len(mins) != 3 {
		t.Fatalf("Got %d minimum groups, want 3: %+v", len(mins), mins)
	}
	if mins[0].Need != 3 || mins[1].Need != 2 || mins[2].Need != 1 {
		t.Errorf("Effective minimums = %d, %d, %d", mins[0].Need, mins[1].Need, mins[2].Need)
	}
	if len(maxs) != 1 || maxs[0].Limit != 1 || len(maxs[0].Members) != 2 {
		t.Errorf("Max groups = %+v", maxs)
	}
}

func TestSolve_WeightCap(t *testing.T) {
	result := testSolver().Solve(context.Background(), catalogItems(), core.PackingConstraints{
		MaxWeightGrams: 2000,
	})

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q, want optimal (%v)", result.Status, result.RelaxedConstraints)
	}
	if result.TotalWeightGrams > 2000 {
		t.Errorf("Total weight %v exceeds the cap", result.TotalWeightGrams)
	}
	// Best pack under 2000 g: jacket + 3 bandages + flashlight (1300 g).
	if got := packedQty(result, "jacket"); got != 1 {
		t.Errorf("jacket qty = %d, want 1", got)
	}
	if got := packedQty(result, "bandage"); got != 3 {
		t.Errorf("bandage qty = %d, want 3", got)
	}
	if got := packedQty(result, "flashlight"); got != 1 {
		t.Errorf("flashlight qty = %d, want 1", got)
	}
	if result.TotalWeightGrams != 1300 {
		t.Errorf("Total weight = %v, want 1300", result.TotalWeightGrams)
	}
	if math.Abs(result.TotalSimilarityScore-4.2) > 1e-9 {
		t.Errorf("Total similarity = %v, want 4.2", result.TotalSimilarityScore)
	}
	if math.Abs(result.WeightUtilization-0.65) > 1e-9 {
		t.Errorf("Utilization = %v, want 0.65", result.WeightUtilization)
	}
	if len(result.RelaxedConstraints) != 0 {
		t.Errorf("Unexpected relaxations: %v", result.RelaxedConstraints)
	}
	if len(result.PackedItems)+len(result.UnpackedItems) != len(catalogItems()) {
		t.Error("Packed + unpacked should cover the input set")
	}
}

func TestSolve_CategoryMinimums(t *testing.T) {
	result := testSolver().Solve(context.Background(), catalogItems(), core.PackingConstraints{
		MaxWeightGrams:   5000,
		CategoryMinimums: map[string]int{"medical": 1, "clothing": 1},
	})

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	if packedQty(result, "bandage") < 1 || packedQty(result, "jacket") < 1 {
		t.Error("Both required categories should be represented")
	}
	// The whole catalog fits in 5000 g.
	if result.TotalWeightGrams != 4800 {
		t.Errorf("Total weight = %v, want 4800", result.TotalWeightGrams)
	}
	if len(result.RelaxedConstraints) != 0 {
		t.Errorf("Unexpected relaxations: %v", result.RelaxedConstraints)
	}
}

func TestSolve_MissingCategoryRelaxes(t *testing.T) {
	result := testSolver().Solve(context.Background(), catalogItems(), core.PackingConstraints{
		MaxWeightGrams:   5000,
		CategoryMinimums: map[string]int{"food": 1},
	})

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	if len(result.RelaxedConstraints) != 1 || result.RelaxedConstraints[0] != "No items available for category 'food'" {
		t.Errorf("RelaxedConstraints = %v", result.RelaxedConstraints)
	}
	if len(result.PackedItems) == 0 {
		t.Error("Pack should still be produced after relaxation")
	}
}

func TestSolve_MaximumsNeverRelaxed(t *testing.T) {
	result := testSolver().Solve(context.Background(), catalogItems(), core.PackingConstraints{
		MaxWeightGrams:   2000,
		CategoryMaximums: map[string]int{"medical": 1},
	})

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	if got := packedQty(result, "bandage"); got != 1 {
		t.Errorf("bandage qty = %d, the medical maximum of 1 must hold", got)
	}
	// With bandages capped, sleeping-bag + bandage + flashlight wins.
	if got := packedQty(result, "sleeping-bag"); got != 1 {
		t.Errorf("sleeping-bag qty = %d, want 1", got)
	}
	if result.TotalWeightGrams != 1900 {
		t.Errorf("Total weight = %v, want 1900", result.TotalWeightGrams)
	}
}

func TestSolve_MaxPerItem(t *testing.T) {
	result := testSolver().Solve(context.Background(), catalogItems(), core.PackingConstraints{
		MaxWeightGrams: 2000,
		MaxPerItem:     2,
	})

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	for _, p := range result.PackedItems {
		if p.Quantity > 2 {
			t.Errorf("%s packed %d times, max_per_item is 2", p.Item.ItemID, p.Quantity)
		}
	}
}

func TestSolve_PinnedItem(t *testing.T) {
	// The tent has the worst score density and exactly fills the cap; only a
	// pin forces it in.
	result := testSolver().Solve(context.Background(), catalogItems(), core.PackingConstraints{
		MaxWeightGrams: 2000,
		PinnedItems:    []string{"tent"},
	})

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	if got := packedQty(result, "tent"); got != 1 {
		t.Errorf("tent qty = %d, pinned items must be packed", got)
	}
	if len(result.PackedItems) != 1 {
		t.Errorf("Nothing else fits beside the tent, got %+v", result.PackedItems)
	}
}

func TestSolve_PinnedNotFound(t *testing.T) {
	result := testSolver().Solve(context.Background(), catalogItems(), core.PackingConstraints{
		MaxWeightGrams: 2000,
		PinnedItems:    []string{"ghost-item"},
	})

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	found := false
	for _, note := range result.RelaxedConstraints {
		if note == "Pinned item ghost-item not found in candidates" {
			found = true
		}
	}
	if !found {
		t.Errorf("Missing pin note, got %v", result.RelaxedConstraints)
	}
}

func TestSolve_Infeasible(t *testing.T) {
	// The pinned tent weighs 2000 g against a 1000 g cap: no solution.
	result := testSolver().Solve(context.Background(), catalogItems(), core.PackingConstraints{
		MaxWeightGrams: 1000,
		PinnedItems:    []string{"tent"},
	})

	if result.Status != core.StatusInfeasible {
		t.Fatalf("Status = %q, want infeasible", result.Status)
	}
	if len(result.PackedItems) != 0 {
		t.Errorf("Infeasible result must pack nothing, got %+v", result.PackedItems)
	}
	if len(result.UnpackedItems) != len(catalogItems()) {
		t.Errorf("Unpacked should equal the input set, got %d items", len(result.UnpackedItems))
	}
	last := result.RelaxedConstraints[len(result.RelaxedConstraints)-1]
	if !strings.Contains(last, "infeasible") {
		t.Errorf("Expected infeasibility note, got %v", result.RelaxedConstraints)
	}
}

func TestSolve_EmptyInput(t *testing.T) {
	result := testSolver().Solve(context.Background(), nil, core.PackingConstraints{MaxWeightGrams: 1000})
	if result.Status != core.StatusInfeasible {
		t.Errorf("Status = %q, want infeasible", result.Status)
	}
	if len(result.PackedItems) != 0 || len(result.UnpackedItems) != 0 {
		t.Errorf("Empty input should produce empty result, got %+v", result)
	}
}

func TestSolve_EpsilonPrefersCount(t *testing.T) {
	// One 600 g item at 0.6 similarity against two 300 g items at 0.3: the
	// raw relevance is tied, so the per-item bonus must pick the pair.
	items := []core.PackableItem{
		{ItemID: "single", Name: "Single", SimilarityScore: 0.6, WeightGrams: 600, QuantityOwned: 1, Category: "misc"},
		{ItemID: "pair", Name: "Pair", SimilarityScore: 0.3, WeightGrams: 300, QuantityOwned: 2, Category: "misc"},
	}
	result := testSolver().Solve(context.Background(), items, core.PackingConstraints{MaxWeightGrams: 600})

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	if got := packedQty(result, "pair"); got != 2 {
		t.Errorf("pair qty = %d, the epsilon bonus should prefer packing two items", got)
	}
	if got := packedQty(result, "single"); got != 0 {
		t.Errorf("single qty = %d, want 0", got)
	}
}

func TestSolve_Deterministic(t *testing.T) {
	cons := core.PackingConstraints{
		MaxWeightGrams:   2000,
		CategoryMinimums: map[string]int{"medical": 1},
	}
	first := testSolver().Solve(context.Background(), catalogItems(), cons)
	second := testSolver().Solve(context.Background(), catalogItems(), cons)

	first.SolverTimeMs, second.SolverTimeMs = 0, 0
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Same input should produce the same result:\n%+v\n%+v", first, second)
	}
}

func TestSolve_DronePreset(t *testing.T) {
	cons, ok := Preset("drone_delivery")
	if !ok {
		t.Fatal("drone_delivery preset missing")
	}
	result := testSolver().Solve(context.Background(), catalogItems(), cons)

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q (%v)", result.Status, result.RelaxedConstraints)
	}
	if result.TotalWeightGrams > 5000 {
		t.Errorf("Total weight %v exceeds the drone cap", result.TotalWeightGrams)
	}
	if got := packedQty(result, "bandage"); got != 2 {
		t.Errorf("bandage qty = %d, max_per_item=2 with medical>=2 should pack exactly 2", got)
	}
	warmth := packedQty(result, "jacket") + packedQty(result, "sleeping-bag")
	if warmth < 1 {
		t.Error("warmth tag minimum not honored")
	}
}

func TestPresets(t *testing.T) {
	cases := []struct {
		name   string
		weight float64
	}{
		{"carry_on_luggage", 7000},
		{"checked_bag", 23000},
		{"drone_delivery", 5000},
		{"medical_relief", 30000},
		{"hiking_day_trip", 10000},
		{"bug_out_bag", 15000},
	}
	for _, tc := range cases {
		cons, ok := Preset(tc.name)
		if !ok {
			t.Errorf("Preset %q missing", tc.name)
			continue
		}
		if cons.MaxWeightGrams != tc.weight {
			t.Errorf("Preset %q weight = %v, want %v", tc.name, cons.MaxWeightGrams, tc.weight)
		}
	}

	if _, ok := Preset("space_station"); ok {
		t.Error("Unknown preset should not resolve")
	}
	if names := PresetNames(); len(names) != 6 || names[0] != "bug_out_bag" {
		t.Errorf("PresetNames = %v", names)
	}

	// Mutating a returned preset must not corrupt the shared table.
	cons, _ := Preset("medical_relief")
	cons.CategoryMinimums["medical"] = 99
	fresh, _ := Preset("medical_relief")
	if fresh.CategoryMinimums["medical"] != 5 {
		t.Error("Preset table should be immune to caller mutation")
	}
}

func TestExpandContainers(t *testing.T) {
	specs := ExpandContainers([]ContainerRequest{
		{ContainerID: "crate", Name: "Crate", MaxWeightGrams: 1200, TareWeightGrams: 200, Quantity: 2},
		{ContainerID: "bag", Name: "Bag", MaxWeightGrams: 800},
	})

	if len(specs) != 3 {
		t.Fatalf("Expected 3 specs, got %d", len(specs))
	}
	if specs[0].ContainerID != "crate-1" || specs[1].ContainerID != "crate-2" {
		t.Errorf("Expanded ids = %q, %q", specs[0].ContainerID, specs[1].ContainerID)
	}
	if specs[0].MaxWeightGrams != 1000 {
		t.Errorf("Effective capacity = %v, want max minus tare = 1000", specs[0].MaxWeightGrams)
	}
	if specs[2].ContainerID != "bag" || specs[2].MaxWeightGrams != 800 {
		t.Errorf("Single container should keep its id: %+v", specs[2])
	}
}

func TestSolveMulti_Split(t *testing.T) {
	items := make([]core.PackableItem, 5)
	for i := range items {
		items[i] = core.PackableItem{
			ItemID:          "item-" + string(rune('1'+i)),
			Name:            "Item",
			SimilarityScore: 0.5,
			WeightGrams:     600,
			QuantityOwned:   1,
			Category:        "misc",
		}
	}
	containers := []core.ContainerSpec{
		{ContainerID: "small", Name: "Small", MaxWeightGrams: 1000},
		{ContainerID: "large", Name: "Large", MaxWeightGrams: 1500},
	}

	result := testSolver().SolveMulti(context.Background(), items, containers, core.PackingConstraints{})

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	smallCount, largeCount := 0, 0
	for _, p := range result.Containers[0].PackedItems {
		smallCount += p.Quantity
	}
	for _, p := range result.Containers[1].PackedItems {
		largeCount += p.Quantity
	}
	if smallCount != 1 || largeCount != 2 {
		t.Errorf("Split = %d small, %d large; want 1 and 2", smallCount, largeCount)
	}
	if result.TotalWeightGrams != 1800 {
		t.Errorf("Total weight = %v, want 1800", result.TotalWeightGrams)
	}
	if len(result.UnpackedItems) != 2 {
		t.Errorf("Unpacked = %d items, want 2", len(result.UnpackedItems))
	}
	if result.Containers[0].TotalWeightGrams != 600 || result.Containers[1].TotalWeightGrams != 1200 {
		t.Errorf("Per-bin weights = %v, %v", result.Containers[0].TotalWeightGrams, result.Containers[1].TotalWeightGrams)
	}
	if math.Abs(result.Containers[1].Utilization-0.8) > 1e-9 {
		t.Errorf("Large bin utilization = %v, want 0.8", result.Containers[1].Utilization)
	}
}

func TestSolveMulti_DiversityOnTotals(t *testing.T) {
	items := catalogItems()
	containers := []core.ContainerSpec{
		{ContainerID: "a", Name: "A", MaxWeightGrams: 1000},
		{ContainerID: "b", Name: "B", MaxWeightGrams: 1000},
	}
	result := testSolver().SolveMulti(context.Background(), items, containers, core.PackingConstraints{
		CategoryMinimums: map[string]int{"medical": 2},
	})

	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	medical := 0
	for _, pack := range result.Containers {
		for _, p := range pack.PackedItems {
			if p.Item.Category == "medical" {
				medical += p.Quantity
			}
		}
	}
	if medical < 2 {
		t.Errorf("Medical total across bins = %d, want >= 2", medical)
	}
	for _, pack := range result.Containers {
		if pack.TotalWeightGrams > pack.Container.MaxWeightGrams {
			t.Errorf("Bin %s over capacity: %v", pack.Container.ContainerID, pack.TotalWeightGrams)
		}
	}
}

func TestSolveMulti_Infeasible(t *testing.T) {
	items := catalogItems()
	containers := []core.ContainerSpec{{ContainerID: "tiny", Name: "Tiny", MaxWeightGrams: 50}}
	result := testSolver().SolveMulti(context.Background(), items, containers, core.PackingConstraints{
		PinnedItems: []string{"tent"},
	})

	if result.Status != core.StatusInfeasible {
		t.Fatalf("Status = %q, want infeasible", result.Status)
	}
	if len(result.UnpackedItems) != len(items) {
		t.Errorf("Unpacked should equal the input set")
	}
}
