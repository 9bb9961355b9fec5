package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"manifest/internal/core"
	"manifest/internal/imageutil"
	"manifest/internal/optimizer"
	"manifest/internal/vectorstore"
)

type fakeExtractor struct {
	contexts []core.ItemContext
	err      error
	calls    int
}

func (f *fakeExtractor) Extract(ctx context.Context, image imageutil.Source) (core.ItemContext, error) {
	f.calls++
	if f.err != nil {
		return core.ItemContext{}, f.err
	}
	c := f.contexts[0]
	if len(f.contexts) > 1 {
		f.contexts = f.contexts[1:]
	}
	return c, nil
}

type fakeEmbedder struct {
	dim     int
	itemErr error
	textErr error
}

func (f *fakeEmbedder) EmbedItem(ctx context.Context, image imageutil.Source, item core.ItemContext) ([]float32, error) {
	if f.itemErr != nil {
		return nil, f.itemErr
	}
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if f.textErr != nil {
		return nil, f.textErr
	}
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

type fakeStore struct {
	upserts   []vectorstore.Record
	searchRes []core.RetrievedItem
	searchErr error
	listRes   []vectorstore.Record
	deleted   []string
	count     int
}

func (f *fakeStore) Upsert(ctx context.Context, rec vectorstore.Record) error {
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, vector []float32, opts vectorstore.SearchOptions) ([]core.RetrievedItem, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchRes, nil
}

func (f *fakeStore) Delete(ctx context.Context, itemID string) error {
	f.deleted = append(f.deleted, itemID)
	return nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) { return f.count, nil }

func (f *fakeStore) ListAll(ctx context.Context) ([]vectorstore.Record, error) {
	return f.listRes, nil
}

type fakeSynthesizer struct {
	plan    core.MissionPlan
	err     error
	queries []string
	inputs  [][]core.RetrievedItem
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, query string, candidates []core.RetrievedItem) (core.MissionPlan, error) {
	f.queries = append(f.queries, query)
	f.inputs = append(f.inputs, candidates)
	if f.err != nil {
		return core.MissionPlan{}, f.err
	}
	return f.plan, nil
}

func newTestPipeline(ext *fakeExtractor, store *fakeStore, synth *fakeSynthesizer) *Pipeline {
	return &Pipeline{
		extractor:   ext,
		embedder:    &fakeEmbedder{dim: 4},
		store:       store,
		synthesizer: synth,
		solver:      optimizer.New(5 * time.Second),
		topK:        15,
	}
}

func jacketContext() core.ItemContext {
	return core.ItemContext{
		Name:             "Rain Jacket",
		InferredCategory: "clothing",
		WeightEstimate:   "light",
		UtilitySummary:   "Keeps you dry.",
		Quantity:         1,
	}
}

func TestIngest(t *testing.T) {
	ext := &fakeExtractor{contexts: []core.ItemContext{jacketContext()}}
	store := &fakeStore{}
	p := newTestPipeline(ext, store, &fakeSynthesizer{})

	id, itemCtx, err := p.Ingest(context.Background(), imageutil.FromBytes([]byte{1}), "", "user-1")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if id == "" {
		t.Error("Ingest should assign an item id")
	}
	if itemCtx.Name != "Rain Jacket" {
		t.Errorf("Context name = %q", itemCtx.Name)
	}

	if len(store.upserts) != 1 {
		t.Fatalf("Expected 1 upsert, got %d", len(store.upserts))
	}
	rec := store.upserts[0]
	if rec.ID != id || rec.UserID != "user-1" || rec.Domain != "clothing" {
		t.Errorf("Stored record = %+v", rec)
	}
	if rec.WeightGrams == nil || *rec.WeightGrams != 300 {
		t.Errorf("WeightGrams = %v, want 300 from the light estimate", rec.WeightGrams)
	}
	if len(rec.Embedding) != 4 {
		t.Errorf("Embedding length = %d", len(rec.Embedding))
	}
}

func TestIngest_RemoteURLBecomesImageURL(t *testing.T) {
	ext := &fakeExtractor{contexts: []core.ItemContext{jacketContext()}}
	store := &fakeStore{}
	p := newTestPipeline(ext, store, &fakeSynthesizer{})

	_, _, err := p.Ingest(context.Background(), imageutil.FromRef("https://cdn.example.com/jacket.jpg"), "", "")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if store.upserts[0].ImageURL != "https://cdn.example.com/jacket.jpg" {
		t.Errorf("ImageURL = %q", store.upserts[0].ImageURL)
	}
}

func TestIngest_StageErrors(t *testing.T) {
	boom := errors.New("boom")

	p := newTestPipeline(&fakeExtractor{err: boom}, &fakeStore{}, &fakeSynthesizer{})
	if _, _, err := p.Ingest(context.Background(), imageutil.FromBytes([]byte{1}), "", ""); err == nil || !strings.Contains(err.Error(), "extraction stage") {
		t.Errorf("Expected extraction stage error, got %v", err)
	}

	p = newTestPipeline(&fakeExtractor{contexts: []core.ItemContext{jacketContext()}}, &fakeStore{}, &fakeSynthesizer{})
	p.embedder = &fakeEmbedder{dim: 4, itemErr: boom}
	if _, _, err := p.Ingest(context.Background(), imageutil.FromBytes([]byte{1}), "", ""); err == nil || !strings.Contains(err.Error(), "embedding stage") {
		t.Errorf("Expected embedding stage error, got %v", err)
	}
}

func TestIngestBatch_SkipsFailures(t *testing.T) {
	ext := &fakeExtractor{contexts: []core.ItemContext{jacketContext(), jacketContext()}}
	store := &fakeStore{}
	p := newTestPipeline(ext, store, &fakeSynthesizer{})

	outcomes := p.IngestBatch(context.Background(), []imageutil.Source{
		imageutil.FromBytes([]byte{1}),
		imageutil.FromBytes([]byte{2}),
	}, "")
	if len(outcomes) != 2 {
		t.Fatalf("Expected 2 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Err != nil {
			t.Errorf("Outcome %d failed: %v", i, o.Err)
		}
	}
	if len(store.upserts) != 2 {
		t.Errorf("Expected 2 upserts, got %d", len(store.upserts))
	}
}

func retrievedFixture() []core.RetrievedItem {
	return []core.RetrievedItem{
		{ItemID: "id-1", Score: 0.9, WeightGrams: 700, Context: core.ItemContext{Name: "Jacket", InferredCategory: "clothing", Quantity: 1}},
		{ItemID: "id-2", Score: 0.8, WeightGrams: 100, Context: core.ItemContext{Name: "Bandage", InferredCategory: "medical", Quantity: 3, SemanticTags: []string{"first_aid"}}},
	}
}

func TestSearch_Raw(t *testing.T) {
	store := &fakeStore{searchRes: retrievedFixture()}
	synth := &fakeSynthesizer{}
	p := newTestPipeline(&fakeExtractor{}, store, synth)

	result, err := p.Search(context.Background(), "warm jacket", SearchOptions{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.Items) != 2 || result.Plan != nil {
		t.Errorf("Raw search result = %+v", result)
	}
	if len(synth.queries) != 0 {
		t.Error("Synthesizer should not run when synthesize is off")
	}
}

func TestSearch_Synthesized(t *testing.T) {
	store := &fakeStore{searchRes: retrievedFixture()}
	synth := &fakeSynthesizer{plan: core.MissionPlan{MissionSummary: "Plan."}}
	p := newTestPipeline(&fakeExtractor{}, store, synth)

	result, err := p.Search(context.Background(), "warm jacket", SearchOptions{Synthesize: true})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if result.Plan == nil || result.Plan.MissionSummary != "Plan." {
		t.Errorf("Plan = %+v", result.Plan)
	}
}

func TestSearch_SynthesisFailureDegrades(t *testing.T) {
	store := &fakeStore{searchRes: retrievedFixture()}
	synth := &fakeSynthesizer{err: errors.New("llm down")}
	p := newTestPipeline(&fakeExtractor{}, store, synth)

	result, err := p.Search(context.Background(), "warm jacket", SearchOptions{Synthesize: true})
	if err != nil {
		t.Fatalf("Search should degrade, not fail: %v", err)
	}
	if result.Plan != nil {
		t.Error("Degraded search should carry no plan")
	}
	if len(result.Items) != 2 {
		t.Errorf("Raw items should survive, got %d", len(result.Items))
	}
}

func TestPack(t *testing.T) {
	store := &fakeStore{searchRes: retrievedFixture()}
	p := newTestPipeline(&fakeExtractor{}, store, &fakeSynthesizer{})

	result, err := p.Pack(context.Background(), "day trip", core.PackingConstraints{MaxWeightGrams: 1000}, PackOptions{
		Inventory: map[string]int{"id-2": 3},
	})
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	if result.TotalWeightGrams > 1000 {
		t.Errorf("Weight cap violated: %v", result.TotalWeightGrams)
	}
	// 3 bandages (300 g) + jacket (700 g) exactly fill the budget.
	if result.TotalWeightGrams != 1000 {
		t.Errorf("Total weight = %v, want 1000", result.TotalWeightGrams)
	}
}

func TestPackAndExplain(t *testing.T) {
	store := &fakeStore{searchRes: retrievedFixture()}
	synth := &fakeSynthesizer{plan: core.MissionPlan{MissionSummary: "Explained."}}
	p := newTestPipeline(&fakeExtractor{}, store, synth)

	result, plan, err := p.PackAndExplain(context.Background(), "day trip", core.PackingConstraints{
		MaxWeightGrams:   1000,
		CategoryMinimums: map[string]int{"medical": 1},
	}, PackOptions{})
	if err != nil {
		t.Fatalf("PackAndExplain failed: %v", err)
	}
	if result.Status != core.StatusOptimal {
		t.Fatalf("Status = %q", result.Status)
	}
	if plan == nil || plan.MissionSummary != "Explained." {
		t.Errorf("Plan = %+v", plan)
	}

	// The synthesizer sees the solver's numbers, not just the raw query.
	q := synth.queries[0]
	if !strings.Contains(q, "weight limit 1000 g") || !strings.Contains(q, "needs medical>=1") {
		t.Errorf("Augmented query missing solver context: %q", q)
	}
	if len(synth.inputs[0]) == 0 {
		t.Error("Explanation input should carry the packed items")
	}
}

func TestPackAndExplain_InfeasibleSkipsLLM(t *testing.T) {
	store := &fakeStore{searchRes: retrievedFixture()}
	synth := &fakeSynthesizer{}
	p := newTestPipeline(&fakeExtractor{}, store, synth)

	// Pinned item heavier than the cap: guaranteed infeasible.
	result, plan, err := p.PackAndExplain(context.Background(), "day trip", core.PackingConstraints{
		MaxWeightGrams: 50,
		PinnedItems:    []string{"id-1"},
	}, PackOptions{})
	if err != nil {
		t.Fatalf("PackAndExplain failed: %v", err)
	}
	if result.Status != core.StatusInfeasible {
		t.Fatalf("Status = %q", result.Status)
	}
	if len(synth.queries) != 0 {
		t.Error("Infeasible packs should be explained without the LLM")
	}
	if plan == nil || len(plan.Warnings) == 0 {
		t.Errorf("Local plan should surface the relaxation notes, got %+v", plan)
	}
}

func TestReembed(t *testing.T) {
	store := &fakeStore{listRes: []vectorstore.Record{
		vectorstore.NewRecord(core.EmbeddingResult{ItemID: "id-1", Context: jacketContext()}, ""),
		vectorstore.NewRecord(core.EmbeddingResult{ItemID: "id-2", Context: jacketContext()}, ""),
	}}
	p := newTestPipeline(&fakeExtractor{}, store, &fakeSynthesizer{})

	updated, err := p.Reembed(context.Background())
	if err != nil {
		t.Fatalf("Reembed failed: %v", err)
	}
	if updated != 2 {
		t.Errorf("Updated = %d, want 2", updated)
	}
	if len(store.upserts) != 2 {
		t.Errorf("Expected 2 upserts, got %d", len(store.upserts))
	}
	for _, rec := range store.upserts {
		if len(rec.Embedding) != 4 {
			t.Errorf("Re-embedded vector length = %d", len(rec.Embedding))
		}
	}
}
