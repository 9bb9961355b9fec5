package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"

	"manifest/internal/optimizer"
)

// containerRegistry holds saved container definitions so pack requests can
// reference them by id instead of restating dimensions every call. Process
// scoped; containers are cheap to re-register after a restart.
type containerRegistry struct {
	mu         sync.RWMutex
	containers map[string]optimizer.ContainerRequest
}

func newContainerRegistry() *containerRegistry {
	return &containerRegistry{containers: make(map[string]optimizer.ContainerRequest)}
}

// put creates or replaces a container definition.
func (r *containerRegistry) put(c optimizer.ContainerRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers[c.ContainerID] = c
}

// resolve maps ids to saved containers, failing on the first unknown id.
func (r *containerRegistry) resolve(ids []string) ([]optimizer.ContainerRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolved := make([]optimizer.ContainerRequest, 0, len(ids))
	for _, id := range ids {
		c, ok := r.containers[id]
		if !ok {
			return nil, fmt.Errorf("unknown container id %q", id)
		}
		resolved = append(resolved, c)
	}
	return resolved, nil
}

// list returns all saved containers ordered by id.
func (r *containerRegistry) list() []optimizer.ContainerRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]optimizer.ContainerRequest, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContainerID < out[j].ContainerID })
	return out
}

// remove deletes a container definition. Reports whether it existed.
func (r *containerRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.containers[id]
	delete(r.containers, id)
	return ok
}

// handleListContainers handles GET /api/v1/containers
func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.containers.list())
}

// handleCreateContainer handles POST /api/v1/containers
func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var req optimizer.ContainerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ContainerID == "" {
		s.respondError(w, http.StatusBadRequest, "container_id is required")
		return
	}
	if req.MaxWeightGrams <= 0 {
		s.respondError(w, http.StatusBadRequest, "max_weight_grams must be positive")
		return
	}
	if req.Name == "" {
		req.Name = req.ContainerID
	}
	s.containers.put(req)
	s.respondJSON(w, http.StatusCreated, req)
}

// handleDeleteContainer handles DELETE /api/v1/containers/{id}
func (s *Server) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.containers.remove(id) {
		s.respondError(w, http.StatusNotFound, "unknown container id "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
