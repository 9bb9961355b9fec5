package optimizer

import (
	"sort"

	"manifest/internal/core"
)

// presets are the built-in constraint bundles for common mission profiles.
// Weights are grams.
var presets = map[string]core.PackingConstraints{
	"carry_on_luggage": {
		MaxWeightGrams:   7000,
		CategoryMinimums: map[string]int{"clothing": 2},
	},
	"checked_bag": {
		MaxWeightGrams:   23000,
		CategoryMinimums: map[string]int{"clothing": 3},
	},
	"drone_delivery": {
		MaxWeightGrams:   5000,
		CategoryMinimums: map[string]int{"medical": 2},
		TagMinimums:      map[string]int{"wound_care": 1, "warmth": 1},
		MaxPerItem:       2,
	},
	"medical_relief": {
		MaxWeightGrams:   30000,
		CategoryMinimums: map[string]int{"medical": 5, "camping": 2, "clothing": 2},
		TagMinimums:      map[string]int{"wound_care": 2, "warmth": 2, "sterile": 1},
	},
	"hiking_day_trip": {
		MaxWeightGrams:   10000,
		CategoryMinimums: map[string]int{"medical": 1},
		TagMinimums:      map[string]int{"first_aid": 1},
	},
	"bug_out_bag": {
		MaxWeightGrams:   15000,
		CategoryMinimums: map[string]int{"medical": 2, "tech": 1, "camping": 2, "clothing": 1},
		TagMinimums:      map[string]int{"warmth": 1, "wound_care": 1, "navigation": 1},
	},
}

// Preset returns a copy of the named constraint bundle. The second return is
// false for unknown names.
func Preset(name string) (core.PackingConstraints, bool) {
	cons, ok := presets[name]
	if !ok {
		return core.PackingConstraints{}, false
	}
	cons.CategoryMinimums = copyCounts(cons.CategoryMinimums)
	cons.CategoryMaximums = copyCounts(cons.CategoryMaximums)
	cons.TagMinimums = copyCounts(cons.TagMinimums)
	return cons, true
}

func copyCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PresetNames lists the built-in preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
