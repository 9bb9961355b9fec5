package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/lib/pq"

	"manifest/internal/core"
)

func TestNewRecord(t *testing.T) {
	res := core.EmbeddingResult{
		ItemID:    "item-1",
		Vector:    []float32{0.1, 0.2},
		Dimension: 2,
		ImageURL:  "https://cdn.example.com/1.jpg",
		Context: core.ItemContext{
			Name:             "Wool Socks",
			InferredCategory: "Clothing & Apparel",
			PrimaryMaterial:  "merino wool",
			WeightEstimate:   "light",
			ThermalRating:    "cold-rated",
			UtilitySummary:   "Warm socks.",
			SemanticTags:     []string{"warmth", "hiking"},
			Quantity:         2,
		},
	}

	rec := NewRecord(res, "user-9")
	if rec.ID != "item-1" || rec.Name != "Wool Socks" || rec.UserID != "user-9" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.Domain != "clothing" {
		t.Errorf("Domain = %q, want clothing", rec.Domain)
	}
	if rec.WeightGrams == nil || *rec.WeightGrams != 300 {
		t.Errorf("WeightGrams = %v, want 300", rec.WeightGrams)
	}
	if rec.PrimaryMaterial != "merino wool" || rec.ThermalRating != "cold-rated" || rec.Quantity != 2 {
		t.Errorf("Flat columns not populated: %+v", rec)
	}
	if len(rec.SemanticTags) != 2 {
		t.Errorf("SemanticTags = %v", rec.SemanticTags)
	}
	if got := rec.Context(); !reflect.DeepEqual(got, res.Context) {
		t.Errorf("Context round-trip = %+v, want %+v", got, res.Context)
	}
}

func TestNewRecord_NoWeightEstimate(t *testing.T) {
	res := core.EmbeddingResult{
		ItemID:  "item-2",
		Context: core.ItemContext{Name: "Mystery Box", InferredCategory: "misc"},
	}

	rec := NewRecord(res, "")
	if rec.WeightGrams != nil {
		t.Errorf("Missing estimate should store null weight, got %v", *rec.WeightGrams)
	}
	if rec.Domain != "general" {
		t.Errorf("Domain = %q, want general", rec.Domain)
	}
}

func TestFormatVector(t *testing.T) {
	got := formatVector([]float32{1, -0.5, 0.25})
	if got != "[1,-0.5,0.25]" {
		t.Errorf("formatVector = %q", got)
	}
	if got := formatVector(nil); got != "[]" {
		t.Errorf("formatVector(nil) = %q", got)
	}
}

func TestClassify(t *testing.T) {
	if err := classify(&pq.Error{Code: "42883"}); !errors.Is(err, ErrSchema) {
		t.Errorf("undefined function should map to ErrSchema, got %v", err)
	}
	if err := classify(&pq.Error{Code: "42P01"}); !errors.Is(err, ErrSchema) {
		t.Errorf("undefined table should map to ErrSchema, got %v", err)
	}
	plain := errors.New("connection refused")
	if err := classify(plain); !errors.Is(err, plain) {
		t.Errorf("Unrelated errors should pass through, got %v", err)
	}
}

func TestSupabaseUpsert(t *testing.T) {
	var gotPrefer string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/manifest_items" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("apikey") != "svc-key" {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		gotPrefer = r.Header.Get("Prefer")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store, err := NewSupabase(srv.URL, "svc-key")
	if err != nil {
		t.Fatalf("NewSupabase failed: %v", err)
	}

	weight := 700.0
	rec := Record{
		ID: "item-1", Name: "Tarp", Category: "camping", Domain: "camping",
		WeightGrams: &weight, PrimaryMaterial: "ripstop nylon",
		UtilitySummary: "Shelter.", SemanticTags: []string{"shelter"},
		Quantity: 1, Embedding: []float32{0.5, 0.5},
	}
	if err := store.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if gotPrefer != "resolution=merge-duplicates" {
		t.Errorf("Prefer = %q", gotPrefer)
	}
	if gotBody["id"] != "item-1" || gotBody["weight_grams"] != 700.0 {
		t.Errorf("Upserted body = %+v", gotBody)
	}

	// The row is flat: every profile field is its own column.
	if gotBody["primary_material"] != "ripstop nylon" || gotBody["utility_summary"] != "Shelter." {
		t.Errorf("Profile columns missing from body: %+v", gotBody)
	}
	if _, nested := gotBody["context"]; nested {
		t.Error("Row should not carry a nested context object")
	}
}

func TestSupabaseSearch(t *testing.T) {
	var gotArgs map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/match_manifest_items" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotArgs)
		rows := []map[string]any{
			{
				"id": "item-1", "name": "Bandage", "category": "medical", "domain": "medical",
				"weight_grams": 100.0, "similarity": 0.91,
				"medical_application": "wound_care", "utility_summary": "Covers wounds.",
				"semantic_tags": []string{"first_aid", "sterile"}, "quantity": 4,
			},
			{
				"id": "item-2", "name": "Gauze", "category": "medical", "domain": "medical",
				"weight_grams": nil, "similarity": 0.84,
				"utility_summary": "Absorbs.", "quantity": 1,
			},
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	store, _ := NewSupabase(srv.URL, "svc-key")
	items, err := store.Search(context.Background(), []float32{0.1, 0.9}, SearchOptions{TopK: 15, Category: "medical"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotArgs["match_count"] != float64(15) {
		t.Errorf("match_count = %v", gotArgs["match_count"])
	}
	if gotArgs["filter_category"] != "medical" {
		t.Errorf("filter_category = %v", gotArgs["filter_category"])
	}
	if _, present := gotArgs["filter_user_id"]; present {
		t.Error("filter_user_id should be omitted when unset")
	}

	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].ItemID != "item-1" || items[0].Score != 0.91 || items[0].WeightGrams != 100 {
		t.Errorf("items[0] = %+v", items[0])
	}

	// Flat row columns reassemble into the item profile.
	ctx := items[0].Context
	if ctx.Name != "Bandage" || ctx.InferredCategory != "medical" || ctx.Quantity != 4 {
		t.Errorf("Context = %+v", ctx)
	}
	if ctx.MedicalApplication != "wound_care" || len(ctx.SemanticTags) != 2 {
		t.Errorf("Profile columns lost in search: %+v", ctx)
	}
	if items[1].WeightGrams != 0 {
		t.Errorf("Null weight should surface as 0, got %v", items[1].WeightGrams)
	}
}

func TestSupabaseSearch_MissingFunction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store, _ := NewSupabase(srv.URL, "svc-key")
	_, err := store.Search(context.Background(), []float32{1}, SearchOptions{TopK: 5})
	if !errors.Is(err, ErrSchema) {
		t.Errorf("404 on the RPC should map to ErrSchema, got %v", err)
	}
}

func TestSupabaseCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Prefer") != "count=exact" {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}
		w.Header().Set("Content-Range", "0-0/42")
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	store, _ := NewSupabase(srv.URL, "svc-key")
	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 42 {
		t.Errorf("Count = %d, want 42", count)
	}
}

func TestSupabaseDelete(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Method = %q", r.Method)
		}
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store, _ := NewSupabase(srv.URL, "svc-key")
	if err := store.Delete(context.Background(), "item-7"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gotQuery != "id=eq.item-7" {
		t.Errorf("Query = %q", gotQuery)
	}
}
