// Package handlers provides the HTTP handlers of the memory API. Handlers
// translate between HTTP and the gateway; every business rule lives below.
package handlers

import (
	"net/http"
	"strconv"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/repository"
	"mnemo-backend/internal/service/gateway"
	"mnemo-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// MemoryHandler serves the episodic and semantic endpoints.
type MemoryHandler struct {
	gateway *gateway.Gateway
	logger  *zap.Logger
}

// NewMemoryHandler creates a memory handler.
func NewMemoryHandler(gw *gateway.Gateway, logger *zap.Logger) *MemoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHandler{gateway: gw, logger: logger.Named("MemoryHandler")}
}

// StoreMemory handles POST /api/v1/memories.
func (h *MemoryHandler) StoreMemory(w http.ResponseWriter, r *http.Request) {
	var req api.StoreMemoryRequest
	if err := decodeBody(r, &req); err != nil {
		api.WriteAppError(w, err)
		return
	}

	id, err := h.gateway.Store(r.Context(), gateway.StoreRequest{
		Content:    req.Content,
		Kind:       domain.EntryKind(req.Kind),
		Domain:     req.Domain,
		Importance: req.Importance,
	})
	if err != nil {
		h.logger.Warn("store failed", zap.Error(err))
		api.WriteAppError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, api.StoreMemoryResponse{EntryID: id})
}

// RescoreMemory handles POST /api/v1/memories/{entryID}/rescore.
func (h *MemoryHandler) RescoreMemory(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	if entryID == "" {
		api.Error(w, http.StatusBadRequest, "entry id is required")
		return
	}

	var req api.RescoreMemoryRequest
	if err := decodeBody(r, &req); err != nil {
		api.WriteAppError(w, err)
		return
	}

	id, err := h.gateway.Rescore(r.Context(), entryID, req.Importance)
	if err != nil {
		h.logger.Warn("rescore failed", zap.String("entryId", entryID), zap.Error(err))
		api.WriteAppError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, api.StoreMemoryResponse{EntryID: id})
}

// SearchMemories handles GET /api/v1/memories/search.
func (h *MemoryHandler) SearchMemories(w http.ResponseWriter, r *http.Request) {
	domainLabel := r.URL.Query().Get("domain")
	query := r.URL.Query().Get("q")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	entries, err := h.gateway.Search(r.Context(), domainLabel, query, limit)
	if err != nil {
		h.logger.Warn("search failed", zap.String("domain", domainLabel), zap.Error(err))
		api.WriteAppError(w, err)
		return
	}

	resp := api.SearchMemoriesResponse{
		Entries: make([]api.MemoryEntryResponse, len(entries)),
		Count:   len(entries),
	}
	for i, e := range entries {
		resp.Entries[i] = api.MemoryEntryResponse{
			EntryID:      e.ID,
			Content:      e.Content,
			Kind:         string(e.Kind),
			Domain:       e.Domain,
			Importance:   e.Importance,
			CreatedAt:    e.CreatedAt,
			Consolidated: e.Consolidated,
			Supersedes:   e.Supersedes,
		}
	}
	api.Success(w, http.StatusOK, resp)
}

// QueryFacts handles GET /api/v1/facts.
func (h *MemoryHandler) QueryFacts(w http.ResponseWriter, r *http.Request) {
	domainLabel := r.URL.Query().Get("domain")
	filter := repository.FactFilter{
		Kind: domain.FactKind(r.URL.Query().Get("kind")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}

	facts, err := h.gateway.QueryFacts(r.Context(), domainLabel, filter)
	if err != nil {
		h.logger.Warn("fact query failed", zap.String("domain", domainLabel), zap.Error(err))
		api.WriteAppError(w, err)
		return
	}

	api.Success(w, http.StatusOK, api.QueryFactsResponse{
		Facts: factResponses(facts),
		Count: len(facts),
	})
}

// FactHistory handles GET /api/v1/facts/{factID}/history.
func (h *MemoryHandler) FactHistory(w http.ResponseWriter, r *http.Request) {
	factID := chi.URLParam(r, "factID")
	if factID == "" {
		api.Error(w, http.StatusBadRequest, "fact id is required")
		return
	}

	versions, err := h.gateway.FactHistory(r.Context(), factID)
	if err != nil {
		api.WriteAppError(w, err)
		return
	}

	api.Success(w, http.StatusOK, api.QueryFactsResponse{
		Facts: factResponses(versions),
		Count: len(versions),
	})
}

func factResponses(facts []domain.ConsolidatedFact) []api.FactResponse {
	out := make([]api.FactResponse, len(facts))
	for i, f := range facts {
		out[i] = api.FactResponse{
			FactID:         f.ID,
			Domain:         f.Domain,
			Kind:           string(f.Kind),
			SourceEntryIDs: f.SourceEntryIDs,
			Payload:        f.Payload,
			CreatedAt:      f.CreatedAt,
			Version:        f.Version,
			Keywords:       f.Keywords,
		}
	}
	return out
}
