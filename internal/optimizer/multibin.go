package optimizer

import (
	"context"
	"fmt"
	"math"
	"time"

	"manifest/internal/core"
)

// ContainerRequest is the caller-facing container description before
// expansion: declared maximum, tare weight and a count of identical bins.
type ContainerRequest struct {
	ContainerID     string  `json:"container_id"`
	Name            string  `json:"name"`
	MaxWeightGrams  float64 `json:"max_weight_grams"`
	TareWeightGrams float64 `json:"tare_weight_grams,omitempty"`
	Quantity        int     `json:"quantity,omitempty"`
}

// ExpandContainers turns requests into solver bins: effective capacity is
// declared max minus tare, and quantity > 1 becomes that many separate specs.
func ExpandContainers(reqs []ContainerRequest) []core.ContainerSpec {
	var specs []core.ContainerSpec
	for _, req := range reqs {
		capacity := req.MaxWeightGrams - req.TareWeightGrams
		if capacity < 0 {
			capacity = 0
		}
		quantity := req.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		for n := 1; n <= quantity; n++ {
			spec := core.ContainerSpec{
				ContainerID:    req.ContainerID,
				Name:           req.Name,
				MaxWeightGrams: capacity,
			}
			if quantity > 1 {
				spec.ContainerID = fmt.Sprintf("%s-%d", req.ContainerID, n)
				spec.Name = fmt.Sprintf("%s #%d", req.Name, n)
			}
			specs = append(specs, spec)
		}
	}
	return specs
}

type multiSearch struct {
	ctx    context.Context
	order  []int
	bounds []int
	wS, sS []int64

	capsLeft []int64

	mins        []minGroup
	maxs        []maxGroup
	minMember   [][]int
	maxMember   [][]int
	suffixAvail [][]int
	minCounts   []int
	maxCounts   []int

	alloc     [][]int // alloc[i][b] = units of item i in bin b
	best      [][]int
	bestScore int64
	found     bool

	deadline time.Time
	timedOut bool
	nodes    int
}

func (m *multiSearch) totalCapLeft() int64 {
	var total int64
	for _, c := range m.capsLeft {
		total += c
	}
	return total
}

func (m *multiSearch) dfsItem(pos int, score int64) {
	m.nodes++
	if m.nodes&timeoutCheckMask == 0 {
		if time.Now().After(m.deadline) || m.ctx.Err() != nil {
			m.timedOut = true
		}
	}
	if m.timedOut {
		return
	}

	for g := range m.mins {
		if m.mins[g].Need-m.minCounts[g] > m.suffixAvail[g][pos] {
			return
		}
	}

	if pos == len(m.order) {
		if score > m.bestScore {
			m.bestScore = score
			m.found = true
			for i := range m.alloc {
				copy(m.best[i], m.alloc[i])
			}
		}
		return
	}

	// Aggregate capacity upper-bounds the per-bin reality.
	if m.found && score+fractionalBound(m.order[pos:], m.bounds, m.wS, m.sS, m.totalCapLeft()) <= m.bestScore {
		return
	}

	i := m.order[pos]
	m.dfsBin(pos, i, 0, m.bounds[i], score)
}

// dfsBin distributes up to `remaining` units of item i across bins b..end,
// then advances to the next item.
func (m *multiSearch) dfsBin(pos, i, b, remaining int, score int64) {
	if m.timedOut {
		return
	}
	if b == len(m.capsLeft) {
		m.dfsItem(pos+1, score)
		return
	}

	maxQ := remaining
	if fit := m.capsLeft[b] / m.wS[i]; fit < int64(maxQ) {
		maxQ = int(fit)
	}
	for _, g := range m.maxMember[i] {
		if room := m.maxs[g].Limit - m.maxCounts[g]; room < maxQ {
			maxQ = room
		}
	}
	if maxQ < 0 {
		maxQ = 0
	}

	for q := maxQ; q >= 0; q-- {
		m.alloc[i][b] = q
		m.capsLeft[b] -= int64(q) * m.wS[i]
		for _, g := range m.minMember[i] {
			m.minCounts[g] += q
		}
		for _, g := range m.maxMember[i] {
			m.maxCounts[g] += q
		}

		m.dfsBin(pos, i, b+1, remaining-q, score+int64(q)*m.sS[i])

		for _, g := range m.minMember[i] {
			m.minCounts[g] -= q
		}
		for _, g := range m.maxMember[i] {
			m.maxCounts[g] -= q
		}
		m.capsLeft[b] += int64(q) * m.wS[i]
		m.alloc[i][b] = 0
		if m.timedOut {
			return
		}
	}
}

// SolveMulti packs the candidates across several containers at once.
// Diversity constraints apply to per-item totals across bins; each bin
// enforces its own weight cap.
func (s *Solver) SolveMulti(ctx context.Context, items []core.PackableItem, containers []core.ContainerSpec, cons core.PackingConstraints) core.MultiBinResult {
	start := time.Now()
	if len(items) == 0 || len(containers) == 0 {
		return core.MultiBinResult{
			Containers:         emptyContainerPacks(containers),
			UnpackedItems:      append([]core.PackableItem{}, items...),
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

	capsLeft := make([]int64, len(containers))
	for b, spec := range containers {
		c := int64(math.Round(spec.MaxWeightGrams * weightScale))
		if c < 0 {
			c = 0
		}
		capsLeft[b] = c
	}

	alloc := make([][]int, len(items))
	best := make([][]int, len(items))
	for i := range items {
		alloc[i] = make([]int, len(containers))
		best[i] = make([]int, len(containers))
	}

	search := &multiSearch{
		ctx:         ctx,
		order:       order,
		bounds:      bounds,
		wS:          wS,
		sS:          sS,
		capsLeft:    capsLeft,
		mins:        mins,
		maxs:        maxs,
		minMember:   groupMembership(len(items), func(g int) []int { return mins[g].Members }, len(mins)),
		maxMember:   groupMembership(len(items), func(g int) []int { return maxs[g].Members }, len(maxs)),
		suffixAvail: suffixAvailability(mins, order, bounds),
		minCounts:   make([]int, len(mins)),
		maxCounts:   make([]int, len(maxs)),
		alloc:       alloc,
		best:        best,
		bestScore:   -1,
		deadline:    start.Add(s.timeLimit),
	}
	search.dfsItem(0, 0)

	if !search.found {
		return core.MultiBinResult{
			Containers:         emptyContainerPacks(containers),
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

	result := core.MultiBinResult{
		Containers:         make([]core.ContainerPack, len(containers)),
		UnpackedItems:      []core.PackableItem{},
		Status:             status,
		RelaxedConstraints: notes,
	}
	for b, spec := range containers {
		pack := core.ContainerPack{Container: spec, PackedItems: []core.PackedItem{}}
		for i, item := range items {
			if q := search.best[i][b]; q > 0 {
				pack.PackedItems = append(pack.PackedItems, core.PackedItem{Item: item, Quantity: q})
				pack.TotalWeightGrams += float64(q) * item.WeightGrams
			}
		}
		if spec.MaxWeightGrams > 0 {
			pack.Utilization = pack.TotalWeightGrams / spec.MaxWeightGrams
		}
		result.TotalWeightGrams += pack.TotalWeightGrams
		result.Containers[b] = pack
	}
	for i, item := range items {
		total := 0
		for b := range containers {
			total += search.best[i][b]
		}
		if total > 0 {
			result.TotalSimilarityScore += float64(total) * item.SimilarityScore
		} else {
			result.UnpackedItems = append(result.UnpackedItems, item)
		}
	}
	result.SolverTimeMs = elapsedMs(start)
	return result
}

func emptyContainerPacks(containers []core.ContainerSpec) []core.ContainerPack {
	packs := make([]core.ContainerPack, len(containers))
	for b, spec := range containers {
		packs[b] = core.ContainerPack{Container: spec, PackedItems: []core.PackedItem{}}
	}
	return packs
}
