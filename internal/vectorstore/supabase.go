package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"manifest/internal/core"
)

// SupabaseStore talks to Supabase over PostgREST. Vector search goes through
// the match_manifest_items SQL function exposed as an RPC.
type SupabaseStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSupabase builds a store against a Supabase project.
func NewSupabase(projectURL, serviceKey string) (*SupabaseStore, error) {
	if projectURL == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase URL and service key are required")
	}
	return &SupabaseStore{
		baseURL: strings.TrimRight(projectURL, "/"),
		apiKey:  serviceKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *SupabaseStore) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Upsert inserts or replaces the row keyed by id.
func (s *SupabaseStore) Upsert(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	req, err := s.newRequest(ctx, http.MethodPost, "/rest/v1/"+tableName, payload)
	if err != nil {
		return fmt.Errorf("failed to create upsert request: %w", err)
	}
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return s.statusError("upsert", resp)
	}
	return nil
}

// matchRow is one row returned by the match RPC: the flat item columns plus
// the computed similarity.
type matchRow struct {
	Record
	Similarity float64 `json:"similarity"`
}

// Search calls the match_manifest_items RPC.
func (s *SupabaseStore) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]core.RetrievedItem, error) {
	args := map[string]any{
		"query_embedding": vector,
		"match_count":     opts.TopK,
	}
	if opts.Category != "" {
		args["filter_category"] = opts.Category
	}
	if opts.UserID != "" {
		args["filter_user_id"] = opts.UserID
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := s.newRequest(ctx, http.MethodPost, "/rest/v1/rpc/"+matchFunction, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: function %s not found, run the migrations", ErrSchema, matchFunction)
	}
	if resp.StatusCode >= 300 {
		return nil, s.statusError("search", resp)
	}

	var rows []matchRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	items := make([]core.RetrievedItem, 0, len(rows))
	for _, row := range rows {
		item := core.RetrievedItem{
			ItemID:   row.ID,
			Score:    row.Similarity,
			ImageURL: row.ImageURL,
			Context:  row.Context(),
		}
		if row.WeightGrams != nil {
			item.WeightGrams = *row.WeightGrams
		}
		items = append(items, item)
	}
	return items, nil
}

// Delete removes a row by id.
func (s *SupabaseStore) Delete(ctx context.Context, itemID string) error {
	path := fmt.Sprintf("/rest/v1/%s?id=eq.%s", tableName, url.QueryEscape(itemID))
	req, err := s.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return s.statusError("delete", resp)
	}
	return nil
}

// Count asks PostgREST for an exact row count via the Content-Range header.
func (s *SupabaseStore) Count(ctx context.Context) (int, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/rest/v1/"+tableName+"?select=id", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create count request: %w", err)
	}
	req.Header.Set("Prefer", "count=exact")
	req.Header.Set("Range", "0-0")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return 0, s.statusError("count", resp)
	}

	// Content-Range looks like "0-0/42" or "*/0" for an empty table.
	contentRange := resp.Header.Get("Content-Range")
	idx := strings.LastIndex(contentRange, "/")
	if idx < 0 {
		return 0, fmt.Errorf("count response missing Content-Range header")
	}
	total, err := strconv.Atoi(contentRange[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("unparseable Content-Range %q: %w", contentRange, err)
	}
	return total, nil
}

// ListAll pages through every row.
func (s *SupabaseStore) ListAll(ctx context.Context) ([]Record, error) {
	const pageSize = 200
	var all []Record
	for offset := 0; ; offset += pageSize {
		path := fmt.Sprintf("/rest/v1/%s?select=*&order=id.asc&offset=%d&limit=%d", tableName, offset, pageSize)
		req, err := s.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create list request: %w", err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		var page []Record
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("list returned status %d", resp.StatusCode)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode list response: %w", decodeErr)
		}

		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

func (s *SupabaseStore) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s returned 404, run the migrations (%s)", ErrSchema, op, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("supabase %s returned status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
