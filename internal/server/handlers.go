package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"manifest/internal/core"
	"manifest/internal/imageutil"
	"manifest/internal/optimizer"
	"manifest/internal/pipeline"
)

// Health check response
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth handles the /healthz endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if _, err := s.pipeline.Count(r.Context()); err != nil {
		checks["store"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Checks: checks,
		})
		return
	}
	checks["store"] = "ok"

	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Checks: checks,
	})
}

// IngestRequest accepts either a reachable image URL or inline base64 bytes.
type IngestRequest struct {
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

type IngestResponse struct {
	ItemID  string           `json:"item_id"`
	Context core.ItemContext `json:"context"`
}

// handleIngest handles POST /api/v1/ingest
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var image imageutil.Source
	switch {
	case req.ImageBase64 != "":
		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "image_base64 is not valid base64")
			return
		}
		image = imageutil.FromBytes(data)
	case req.ImageURL != "":
		image = imageutil.FromRef(req.ImageURL)
	default:
		s.respondError(w, http.StatusBadRequest, "one of image_url or image_base64 is required")
		return
	}

	itemID, itemCtx, err := s.pipeline.Ingest(r.Context(), image, req.ImageURL, req.UserID)
	if err != nil {
		s.log.Error("Ingest failed", "error", err)
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, IngestResponse{ItemID: itemID, Context: itemCtx})
}

type SearchRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k,omitempty"`
	Category   string `json:"category,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Synthesize *bool  `json:"synthesize,omitempty"` // defaults to true
}

// handleSearch handles POST /api/v1/search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	synthesize := true
	if req.Synthesize != nil {
		synthesize = *req.Synthesize
	}

	result, err := s.pipeline.Search(r.Context(), req.Query, pipeline.SearchOptions{
		TopK:       req.TopK,
		Category:   req.Category,
		UserID:     req.UserID,
		Synthesize: synthesize,
	})
	if err != nil {
		s.log.Error("Search failed", "error", err, "query", req.Query)
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

type PackRequest struct {
	Query           string                        `json:"query"`
	Preset          string                        `json:"preset,omitempty"`
	Constraints     *core.PackingConstraints      `json:"constraints,omitempty"`
	Containers      []optimizer.ContainerRequest  `json:"containers,omitempty"`
	ContainerIDs    []string                      `json:"container_ids,omitempty"` // References to saved containers
	TopK            int                           `json:"top_k,omitempty"`
	Category        string                        `json:"category,omitempty"`
	UserID          string                        `json:"user_id,omitempty"`
	Inventory       map[string]int                `json:"inventory,omitempty"`
	WeightOverrides map[string]float64            `json:"weight_overrides,omitempty"`
	Explain         bool                          `json:"explain,omitempty"`
}

type PackResponse struct {
	Result core.PackingResult `json:"result"`
	Plan   *core.MissionPlan  `json:"plan,omitempty"`
}

// MultiBinPackResponse mirrors PackResponse for container packs.
type MultiBinPackResponse struct {
	Result core.MultiBinResult `json:"result"`
}

// handlePack handles POST /api/v1/pack. A preset and explicit constraints
// are mutually exclusive; containers switch to the multi-bin solver.
func (s *Server) handlePack(w http.ResponseWriter, r *http.Request) {
	var req PackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	var cons core.PackingConstraints
	switch {
	case req.Preset != "" && req.Constraints != nil:
		s.respondError(w, http.StatusBadRequest, "preset and constraints are mutually exclusive")
		return
	case req.Preset != "":
		preset, ok := optimizer.Preset(req.Preset)
		if !ok {
			s.respondError(w, http.StatusBadRequest, "unknown preset: "+req.Preset)
			return
		}
		cons = preset
	case req.Constraints != nil:
		cons = *req.Constraints
	default:
		s.respondError(w, http.StatusBadRequest, "one of preset or constraints is required")
		return
	}

	opts := pipeline.PackOptions{
		TopK:            req.TopK,
		Category:        req.Category,
		UserID:          req.UserID,
		Inventory:       req.Inventory,
		WeightOverrides: req.WeightOverrides,
	}

	containers := req.Containers
	if len(req.ContainerIDs) > 0 {
		saved, err := s.containers.resolve(req.ContainerIDs)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		containers = append(containers, saved...)
	}

	if len(containers) > 0 {
		if req.Explain {
			s.respondError(w, http.StatusBadRequest, "explain is not supported for multi-container packs")
			return
		}
		result, err := s.pipeline.PackMulti(r.Context(), req.Query, optimizer.ExpandContainers(containers), cons, opts)
		if err != nil {
			s.log.Error("Multi-bin pack failed", "error", err, "query", req.Query)
			s.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, MultiBinPackResponse{Result: result})
		return
	}

	if req.Explain {
		result, plan, err := s.pipeline.PackAndExplain(r.Context(), req.Query, cons, opts)
		if err != nil {
			s.log.Error("Pack failed", "error", err, "query", req.Query)
			s.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, PackResponse{Result: result, Plan: plan})
		return
	}

	result, err := s.pipeline.Pack(r.Context(), req.Query, cons, opts)
	if err != nil {
		s.log.Error("Pack failed", "error", err, "query", req.Query)
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, PackResponse{Result: result})
}

// handleListItems handles GET /api/v1/items
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	records, err := s.pipeline.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

// handleCount handles GET /api/v1/items/count
func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.pipeline.Count(r.Context())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"count": count})
}

// handleDeleteItem handles DELETE /api/v1/items/{id}
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	if itemID == "" {
		s.respondError(w, http.StatusBadRequest, "item id is required")
		return
	}
	if err := s.pipeline.Delete(r.Context(), itemID); err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePresets handles GET /api/v1/presets
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	presets := make(map[string]core.PackingConstraints)
	for _, name := range optimizer.PresetNames() {
		cons, _ := optimizer.Preset(name)
		presets[name] = cons
	}
	s.respondJSON(w, http.StatusOK, presets)
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
