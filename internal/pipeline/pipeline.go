// Package pipeline wires the extractor, embedder, vector store, synthesizer
// and optimizer into the three entry points the CLI and server expose:
// ingest, search and pack.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"manifest/internal/config"
	"manifest/internal/core"
	"manifest/internal/embedder"
	"manifest/internal/extractor"
	"manifest/internal/imageutil"
	"manifest/internal/logger"
	"manifest/internal/optimizer"
	"manifest/internal/synthesizer"
	"manifest/internal/vectorstore"
)

// ingestBatchDelay paces sequential batch ingest below provider rate limits.
const ingestBatchDelay = 500 * time.Millisecond

// maxExplainedUnpacked caps how many leftover items the pack explanation
// sends to the LLM.
const maxExplainedUnpacked = 10

// contextExtractor is the ingest stage that turns an image into a profile.
type contextExtractor interface {
	Extract(ctx context.Context, image imageutil.Source) (core.ItemContext, error)
}

// missionSynthesizer curates retrieval hits into a plan.
type missionSynthesizer interface {
	Synthesize(ctx context.Context, query string, candidates []core.RetrievedItem) (core.MissionPlan, error)
}

// Pipeline holds the long-lived provider clients. Construct once at startup;
// safe for concurrent use.
type Pipeline struct {
	extractor   contextExtractor
	embedder    embedder.Embedder
	store       vectorstore.VectorStore
	synthesizer missionSynthesizer
	solver      *optimizer.Solver
	topK        int

	// simThreshold is advisory: low-scoring hits are logged, never cut.
	simThreshold float64
}

// New builds the pipeline from configuration. The embedder dimension must
// match the store index dimension; a mismatch is fatal here rather than a
// corrupt search later.
func New(cfg *config.Config) (*Pipeline, error) {
	ext, err := extractor.New(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.VisionModel, cfg.AI.OpenAI.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to build extractor: %w", err)
	}
	emb, err := embedder.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build embedder: %w", err)
	}
	store, err := vectorstore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build vector store: %w", err)
	}
	synth, err := synthesizer.New(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.SynthesisModel, cfg.AI.OpenAI.SynthesisTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to build synthesizer: %w", err)
	}

	if dim := cfg.StoreDimension(); dim != emb.Dimension() {
		return nil, fmt.Errorf("embedding dimension mismatch: provider produces %d, store index is %d", emb.Dimension(), dim)
	}

	topK := cfg.Search.DefaultTopK
	if topK <= 0 {
		topK = 15
	}

	return &Pipeline{
		extractor:    ext,
		embedder:     emb,
		store:        store,
		synthesizer:  synth,
		solver:       optimizer.New(cfg.SolverTimeLimit()),
		topK:         topK,
		simThreshold: cfg.Search.SimilarityThreshold,
	}, nil
}

// Ingest runs extract, embed, upsert for one image and returns the assigned
// id plus the extracted context so the caller can confirm it.
func (p *Pipeline) Ingest(ctx context.Context, image imageutil.Source, imageURL, userID string) (string, core.ItemContext, error) {
	itemCtx, err := p.extractor.Extract(ctx, image)
	if err != nil {
		return "", core.ItemContext{}, fmt.Errorf("extraction stage failed: %w", err)
	}

	vector, err := p.embedder.EmbedItem(ctx, image, itemCtx)
	if err != nil {
		return "", core.ItemContext{}, fmt.Errorf("embedding stage failed: %w", err)
	}

	if imageURL == "" && image.IsRemote() {
		imageURL = image.Ref
	}

	itemID := uuid.NewString()
	result := core.EmbeddingResult{
		ItemID:    itemID,
		Vector:    vector,
		Dimension: len(vector),
		Context:   itemCtx,
		ImageURL:  imageURL,
	}
	if err := p.store.Upsert(ctx, vectorstore.NewRecord(result, userID)); err != nil {
		return "", core.ItemContext{}, fmt.Errorf("storage stage failed: %w", err)
	}

	logger.Info("Item ingested", "item_id", itemID, "name", itemCtx.Name, "category", itemCtx.InferredCategory)
	return itemID, itemCtx, nil
}

// IngestOutcome is one element of a batch ingest.
type IngestOutcome struct {
	ItemID  string
	Context core.ItemContext
	Err     error
}

// IngestBatch processes images sequentially in input order with a small
// inter-item delay. Failures are logged and skipped.
func (p *Pipeline) IngestBatch(ctx context.Context, images []imageutil.Source, userID string) []IngestOutcome {
	outcomes := make([]IngestOutcome, 0, len(images))
	for i, image := range images {
		if i > 0 {
			select {
			case <-time.After(ingestBatchDelay):
			case <-ctx.Done():
				outcomes = append(outcomes, IngestOutcome{Err: ctx.Err()})
				return outcomes
			}
		}
		id, itemCtx, err := p.Ingest(ctx, image, "", userID)
		if err != nil {
			logger.Error("Batch ingest item failed", err, "index", i)
		}
		outcomes = append(outcomes, IngestOutcome{ItemID: id, Context: itemCtx, Err: err})
	}
	return outcomes
}

// SearchOptions control retrieval and curation.
type SearchOptions struct {
	TopK       int
	Category   string
	UserID     string
	Synthesize bool
}

// SearchResult is the typed union of a search: raw hits always, plus a
// curated plan when synthesis ran and succeeded.
type SearchResult struct {
	Items []core.RetrievedItem `json:"items"`
	Plan  *core.MissionPlan    `json:"plan,omitempty"`
}

// Search embeds the query, retrieves nearest items and optionally curates
// them. Synthesis failures degrade to raw retrieval instead of failing the
// whole search.
func (p *Pipeline) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = p.topK
	}

	vector, err := p.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	items, err := p.store.Search(ctx, vector, vectorstore.SearchOptions{
		TopK:     topK,
		Category: opts.Category,
		UserID:   opts.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	if p.simThreshold > 0 {
		low := 0
		for _, item := range items {
			if item.Score < p.simThreshold {
				low++
			}
		}
		if low > 0 {
			logger.Debug("Retrieval includes low-similarity hits", "below_threshold", low, "threshold", p.simThreshold)
		}
	}

	result := &SearchResult{Items: items}
	if opts.Synthesize {
		plan, err := p.synthesizer.Synthesize(ctx, query, items)
		if err != nil {
			logger.Warn("Synthesis failed, returning raw retrieval", "error", err, "query", query)
		} else {
			result.Plan = &plan
		}
	}
	return result, nil
}

// PackOptions control candidate retrieval and weight resolution for packing.
type PackOptions struct {
	TopK            int
	Category        string
	UserID          string
	Inventory       map[string]int
	WeightOverrides map[string]float64
}

const defaultPackTopK = 30

func (p *Pipeline) packCandidates(ctx context.Context, query string, opts PackOptions) ([]core.RetrievedItem, []core.PackableItem, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultPackTopK
	}
	search, err := p.Search(ctx, query, SearchOptions{
		TopK:     topK,
		Category: opts.Category,
		UserID:   opts.UserID,
	})
	if err != nil {
		return nil, nil, err
	}
	return search.Items, optimizer.RetrievedToPackable(search.Items, opts.Inventory, opts.WeightOverrides), nil
}

// Pack retrieves candidates for the query and solves the packing problem.
func (p *Pipeline) Pack(ctx context.Context, query string, cons core.PackingConstraints, opts PackOptions) (core.PackingResult, error) {
	_, candidates, err := p.packCandidates(ctx, query, opts)
	if err != nil {
		return core.PackingResult{}, err
	}
	return p.solver.Solve(ctx, candidates, cons), nil
}

// PackMulti is Pack across several containers.
func (p *Pipeline) PackMulti(ctx context.Context, query string, containers []core.ContainerSpec, cons core.PackingConstraints, opts PackOptions) (core.MultiBinResult, error) {
	_, candidates, err := p.packCandidates(ctx, query, opts)
	if err != nil {
		return core.MultiBinResult{}, err
	}
	return p.solver.SolveMulti(ctx, candidates, containers, cons), nil
}

// PackAndExplain solves the pack, then asks the synthesizer to explain the
// numeric result. The explanation query carries the solver's actual numbers
// so the narrative cannot drift from them. An infeasible solve is explained
// locally without an LLM round-trip.
func (p *Pipeline) PackAndExplain(ctx context.Context, query string, cons core.PackingConstraints, opts PackOptions) (core.PackingResult, *core.MissionPlan, error) {
	retrieved, candidates, err := p.packCandidates(ctx, query, opts)
	if err != nil {
		return core.PackingResult{}, nil, err
	}
	result := p.solver.Solve(ctx, candidates, cons)

	if result.Status == core.StatusInfeasible {
		plan := infeasiblePlan(query, result)
		return result, &plan, nil
	}

	byID := make(map[string]core.RetrievedItem, len(retrieved))
	for _, item := range retrieved {
		byID[item.ItemID] = item
	}
	var explain []core.RetrievedItem
	for _, packed := range result.PackedItems {
		if item, ok := byID[packed.Item.ItemID]; ok {
			explain = append(explain, item)
		}
	}
	for i, unpacked := range result.UnpackedItems {
		if i == maxExplainedUnpacked {
			break
		}
		if item, ok := byID[unpacked.ItemID]; ok {
			explain = append(explain, item)
		}
	}

	plan, err := p.synthesizer.Synthesize(ctx, augmentQuery(query, cons, result), explain)
	if err != nil {
		logger.Warn("Pack explanation failed, returning numeric result only", "error", err, "query", query)
		return result, nil, nil
	}
	return result, &plan, nil
}

// augmentQuery folds the solver's outcome into the explanation prompt.
func augmentQuery(query string, cons core.PackingConstraints, result core.PackingResult) string {
	var b strings.Builder
	b.WriteString(query)
	fmt.Fprintf(&b, " (weight limit %.0f g, used %.0f%%", cons.MaxWeightGrams, result.WeightUtilization*100)
	for _, cat := range sortedCountKeys(cons.CategoryMinimums) {
		fmt.Fprintf(&b, ", needs %s>=%d", cat, cons.CategoryMinimums[cat])
	}
	for _, tag := range sortedCountKeys(cons.TagMinimums) {
		fmt.Fprintf(&b, ", needs tag %s>=%d", tag, cons.TagMinimums[tag])
	}
	if len(result.RelaxedConstraints) > 0 {
		fmt.Fprintf(&b, "; compromises: %s", strings.Join(result.RelaxedConstraints, "; "))
	}
	b.WriteString(")")
	return b.String()
}

func infeasiblePlan(query string, result core.PackingResult) core.MissionPlan {
	plan := core.MissionPlan{
		MissionSummary: fmt.Sprintf("No combination of the retrieved items satisfies the constraints for %q.", query),
		Reasoning:      map[string]string{},
		Warnings:       append([]string{}, result.RelaxedConstraints...),
	}
	return plan
}

func sortedCountKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reembed regenerates every stored embedding with the active provider.
// Items with a stored image URL re-embed multimodally; the rest embed their
// context text. Returns how many rows were rewritten.
func (p *Pipeline) Reembed(ctx context.Context) (int, error) {
	records, err := p.store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list items: %w", err)
	}

	updated := 0
	for _, rec := range records {
		var vector []float32
		var embedErr error
		if rec.ImageURL != "" {
			vector, embedErr = p.embedder.EmbedItem(ctx, imageutil.FromRef(rec.ImageURL), rec.Context())
		} else {
			vector, embedErr = p.embedder.EmbedText(ctx, embedder.ContextText(rec.Context()))
		}
		if embedErr != nil {
			logger.Error("Re-embed failed, keeping old vector", embedErr, "item_id", rec.ID)
			continue
		}
		rec.Embedding = vector
		if err := p.store.Upsert(ctx, rec); err != nil {
			logger.Error("Re-embed upsert failed", err, "item_id", rec.ID)
			continue
		}
		updated++
	}
	logger.Info("Catalog re-embedded", "updated", updated, "total", len(records))
	return updated, nil
}

// List returns every stored item without its embedding, for catalog
// browsing.
func (p *Pipeline) List(ctx context.Context) ([]vectorstore.Record, error) {
	records, err := p.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	for i := range records {
		records[i].Embedding = nil
	}
	return records, nil
}

// Delete removes an item from the store.
func (p *Pipeline) Delete(ctx context.Context, itemID string) error {
	return p.store.Delete(ctx, itemID)
}

// Count returns the catalog size.
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	return p.store.Count(ctx)
}
