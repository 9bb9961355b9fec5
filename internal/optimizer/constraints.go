package optimizer

import (
	"fmt"
	"sort"

	"manifest/internal/core"
)

// Relaxation note appended when the model has no solution at all.
const infeasibleNote = "Problem is infeasible — try relaxing weight or diversity constraints"

// Relaxation note appended when the time limit fires before optimality is proven.
const timeLimitNote = "Solver time limit reached before proving optimality"

// minGroup is a lower-bound constraint after relaxation: at least Need units
// summed over Members must be packed.
type minGroup struct {
	Label   string
	Need    int
	Members []int
}

// maxGroup is an upper-bound constraint: at most Limit units summed over
// Members. Never relaxed.
type maxGroup struct {
	Label   string
	Limit   int
	Members []int
}

// buildConstraints translates PackingConstraints into index groups over the
// candidate set and produces the relaxation notes. It is a pure function of
// (constraints, items, bounds) so relaxation behavior is testable without
// running a solver. bounds[i] is the per-item quantity cap U_i.
func buildConstraints(items []core.PackableItem, bounds []int, cons core.PackingConstraints) (mins []minGroup, maxs []maxGroup, notes []string) {
	categoryIdx := make(map[string][]int)
	tagIdx := make(map[string][]int)
	idIdx := make(map[string][]int)
	for i, item := range items {
		categoryIdx[item.Category] = append(categoryIdx[item.Category], i)
		for _, tag := range item.SemanticTags {
			tagIdx[tag] = append(tagIdx[tag], i)
		}
		idIdx[item.ItemID] = append(idIdx[item.ItemID], i)
	}

	available := func(members []int) int {
		total := 0
		for _, i := range members {
			total += bounds[i]
		}
		return total
	}

	for _, cat := range sortedKeys(cons.CategoryMinimums) {
		need := cons.CategoryMinimums[cat]
		if need <= 0 {
			continue
		}
		members := categoryIdx[cat]
		if len(members) == 0 {
			notes = append(notes, fmt.Sprintf("No items available for category '%s'", cat))
			continue
		}
		if avail := available(members); avail < need {
			notes = append(notes, fmt.Sprintf("Category '%s': relaxed from >=%d to >=%d (only %d available)", cat, need, avail, avail))
			need = avail
		}
		if need > 0 {
			mins = append(mins, minGroup{Label: "category " + cat, Need: need, Members: members})
		}
	}

	for _, cat := range sortedKeys(cons.CategoryMaximums) {
		limit := cons.CategoryMaximums[cat]
		if limit < 0 {
			continue
		}
		members := categoryIdx[cat]
		if len(members) == 0 {
			continue
		}
		maxs = append(maxs, maxGroup{Label: "category " + cat, Limit: limit, Members: members})
	}

	for _, tag := range sortedKeys(cons.TagMinimums) {
		need := cons.TagMinimums[tag]
		if need <= 0 {
			continue
		}
		members := tagIdx[tag]
		if len(members) == 0 {
			notes = append(notes, fmt.Sprintf("No items available for tag '%s'", tag))
			continue
		}
		if avail := available(members); avail < need {
			notes = append(notes, fmt.Sprintf("Tag '%s': relaxed from >=%d to >=%d (only %d available)", tag, need, avail, avail))
			need = avail
		}
		if need > 0 {
			mins = append(mins, minGroup{Label: "tag " + tag, Need: need, Members: members})
		}
	}

	for _, pinned := range cons.PinnedItems {
		members := idIdx[pinned]
		if len(members) == 0 {
			notes = append(notes, fmt.Sprintf("Pinned item %s not found in candidates", pinned))
			continue
		}
		mins = append(mins, minGroup{Label: "pinned " + pinned, Need: 1, Members: members})
	}

	return mins, maxs, notes
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
