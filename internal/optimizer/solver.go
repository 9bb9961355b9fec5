// Package optimizer solves constrained packing: bounded knapsack over
// retrieval candidates maximizing similarity under a weight cap, with
// category/tag diversity constraints, per-item maximums and pinned items.
// Minimums relax gracefully against the available catalog; weight caps,
// maximums and per-item caps never relax.
package optimizer

import (
	"context"
	"math"
	"sort"
	"time"

	"manifest/internal/core"
)

// Integer scaling for the solver's objective and weight arithmetic. Weights
// keep one decimal of gram precision; similarity scores four. The epsilon is
// a tiny per-unit bonus so tied-relevance solutions prefer packing more
// items; it never outweighs a real similarity difference.
const (
	weightScale  = 10
	scoreScale   = 10000
	epsilonBonus = 0.001

	defaultTimeLimit = 5 * time.Second

	// Wall-clock and cancellation checks happen every this many search nodes.
	timeoutCheckMask = 1023
)

// Solver holds per-process solver configuration. A fresh search state is
// built per call, so one Solver is safe for concurrent use.
type Solver struct {
	timeLimit time.Duration
}

// New creates a solver with the given wall-clock time limit per solve.
func New(timeLimit time.Duration) *Solver {
	if timeLimit <= 0 {
		timeLimit = defaultTimeLimit
	}
	return &Solver{timeLimit: timeLimit}
}

// itemBounds computes U_i = min(quantity_owned, max_per_item).
func itemBounds(items []core.PackableItem, maxPerItem int) []int {
	bounds := make([]int, len(items))
	for i, item := range items {
		b := item.QuantityOwned
		if b < 0 {
			b = 0
		}
		if maxPerItem > 0 && b > maxPerItem {
			b = maxPerItem
		}
		bounds[i] = b
	}
	return bounds
}

func scaledWeights(items []core.PackableItem) []int64 {
	wS := make([]int64, len(items))
	for i, item := range items {
		w := int64(math.Round(item.WeightGrams * weightScale))
		if w < 1 {
			w = 1
		}
		wS[i] = w
	}
	return wS
}

func scaledScores(items []core.PackableItem) []int64 {
	sS := make([]int64, len(items))
	for i, item := range items {
		sS[i] = int64(math.Round((item.SimilarityScore + epsilonBonus) * scoreScale))
	}
	return sS
}

// densityOrder sorts item indices by score-per-weight descending, breaking
// ties by item id so solves are deterministic.
func densityOrder(items []core.PackableItem, wS, sS []int64) []int {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		di := sS[i] * wS[j]
		dj := sS[j] * wS[i]
		if di != dj {
			return di > dj
		}
		return items[i].ItemID < items[j].ItemID
	})
	return order
}

// groupMembership inverts group member lists into a per-item group index list.
func groupMembership(n int, members func(g int) []int, count int) [][]int {
	byItem := make([][]int, n)
	for g := 0; g < count; g++ {
		for _, i := range members(g) {
			byItem[i] = append(byItem[i], g)
		}
	}
	return byItem
}

// suffixAvailability precomputes, per minimum group, how many units remain
// assignable at order positions >= pos. Used to prune branches that can no
// longer satisfy a minimum.
func suffixAvailability(mins []minGroup, order []int, bounds []int) [][]int {
	n := len(order)
	memberOf := make([]map[int]bool, len(mins))
	for g, grp := range mins {
		memberOf[g] = make(map[int]bool, len(grp.Members))
		for _, i := range grp.Members {
			memberOf[g][i] = true
		}
	}

	avail := make([][]int, len(mins))
	for g := range mins {
		avail[g] = make([]int, n+1)
		for pos := n - 1; pos >= 0; pos-- {
			avail[g][pos] = avail[g][pos+1]
			if memberOf[g][order[pos]] {
				avail[g][pos] += bounds[order[pos]]
			}
		}
	}
	return avail
}

type binSearch struct {
	ctx    context.Context
	order  []int
	bounds []int
	wS, sS []int64

	mins        []minGroup
	maxs        []maxGroup
	minMember   [][]int
	maxMember   [][]int
	suffixAvail [][]int
	minCounts   []int
	maxCounts   []int

	qty       []int
	best      []int
	bestScore int64
	found     bool

	deadline time.Time
	timedOut bool
	nodes    int
}

func (b *binSearch) dfs(pos int, capLeft, score int64) {
	b.nodes++
	if b.nodes&timeoutCheckMask == 0 {
		if time.Now().After(b.deadline) || b.ctx.Err() != nil {
			b.timedOut = true
		}
	}
	if b.timedOut {
		return
	}

	// Every unmet minimum must still be coverable by the remaining items.
	for g := range b.mins {
		if b.mins[g].Need-b.minCounts[g] > b.suffixAvail[g][pos] {
			return
		}
	}

	if pos == len(b.order) {
		if score > b.bestScore {
			b.bestScore = score
			b.found = true
			copy(b.best, b.qty)
		}
		return
	}

	if b.found && score+fractionalBound(b.order[pos:], b.bounds, b.wS, b.sS, capLeft) <= b.bestScore {
		return
	}

	i := b.order[pos]
	maxQ := b.bounds[i]
	if fit := capLeft / b.wS[i]; fit < int64(maxQ) {
		maxQ = int(fit)
	}
	for _, g := range b.maxMember[i] {
		if room := b.maxs[g].Limit - b.maxCounts[g]; room < maxQ {
			maxQ = room
		}
	}
	if maxQ < 0 {
		maxQ = 0
	}

	for q := maxQ; q >= 0; q-- {
		b.qty[i] = q
		for _, g := range b.minMember[i] {
			b.minCounts[g] += q
		}
		for _, g := range b.maxMember[i] {
			b.maxCounts[g] += q
		}

		b.dfs(pos+1, capLeft-int64(q)*b.wS[i], score+int64(q)*b.sS[i])

		for _, g := range b.minMember[i] {
			b.minCounts[g] -= q
		}
		for _, g := range b.maxMember[i] {
			b.maxCounts[g] -= q
		}
		b.qty[i] = 0
		if b.timedOut {
			return
		}
	}
}

// fractionalBound is the LP relaxation of the remaining knapsack: fill the
// leftover capacity greedily in density order, taking a fraction of the
// first item that no longer fits. Ignores diversity constraints, which only
// restrict further, so the result is a valid upper bound.
func fractionalBound(rest []int, bounds []int, wS, sS []int64, capLeft int64) int64 {
	var bound int64
	for _, i := range rest {
		if capLeft <= 0 {
			break
		}
		units := int64(bounds[i])
		if units == 0 {
			continue
		}
		w := wS[i]
		if fit := capLeft / w; fit < units {
			bound += fit * sS[i]
			capLeft -= fit * w
			bound += (sS[i]*capLeft + w - 1) / w
			return bound
		}
		bound += units * sS[i]
		capLeft -= units * w
	}
	return bound
}

// Solve packs the candidates into a single weight budget.
func (s *Solver) Solve(ctx context.Context, items []core.PackableItem, cons core.PackingConstraints) core.PackingResult {
	start := time.Now()
	if len(items) == 0 {
		return core.PackingResult{
			PackedItems:        []core.PackedItem{},
			UnpackedItems:      []core.PackableItem{},
			Status:             core.StatusInfeasible,
			RelaxedConstraints: []string{},
			SolverTimeMs:       elapsedMs(start),
		}
	}

	bounds := itemBounds(items, cons.MaxPerItem)
	mins, maxs, notes := buildConstraints(items, bounds, cons)
	if notes == nil {
		notes = []string{}
	}

	wS := scaledWeights(items)
	sS := scaledScores(items)
	order := densityOrder(items, wS, sS)

	capS := int64(math.Round(cons.MaxWeightGrams * weightScale))
	if capS < 0 {
		capS = 0
	}

	search := &binSearch{
		ctx:         ctx,
		order:       order,
		bounds:      bounds,
		wS:          wS,
		sS:          sS,
		mins:        mins,
		maxs:        maxs,
		minMember:   groupMembership(len(items), func(g int) []int { return mins[g].Members }, len(mins)),
		maxMember:   groupMembership(len(items), func(g int) []int { return maxs[g].Members }, len(maxs)),
		suffixAvail: suffixAvailability(mins, order, bounds),
		minCounts:   make([]int, len(mins)),
		maxCounts:   make([]int, len(maxs)),
		qty:         make([]int, len(items)),
		best:        make([]int, len(items)),
		bestScore:   -1,
		deadline:    start.Add(s.timeLimit),
	}
	search.dfs(0, capS, 0)

	if !search.found {
		return core.PackingResult{
			PackedItems:        []core.PackedItem{},
			UnpackedItems:      append([]core.PackableItem{}, items...),
			Status:             core.StatusInfeasible,
			RelaxedConstraints: append(notes, infeasibleNote),
			SolverTimeMs:       elapsedMs(start),
		}
	}

	status := core.StatusOptimal
	if search.timedOut {
		status = core.StatusFeasible
		notes = append(notes, timeLimitNote)
	}

	result := core.PackingResult{
		PackedItems:        []core.PackedItem{},
		UnpackedItems:      []core.PackableItem{},
		Status:             status,
		RelaxedConstraints: notes,
	}
	for i, item := range items {
		q := search.best[i]
		if q > 0 {
			result.PackedItems = append(result.PackedItems, core.PackedItem{Item: item, Quantity: q})
			result.TotalWeightGrams += float64(q) * item.WeightGrams
			result.TotalSimilarityScore += float64(q) * item.SimilarityScore
		} else {
			result.UnpackedItems = append(result.UnpackedItems, item)
		}
	}
	if cons.MaxWeightGrams > 0 {
		result.WeightUtilization = result.TotalWeightGrams / cons.MaxWeightGrams
	}
	result.SolverTimeMs = elapsedMs(start)
	return result
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
