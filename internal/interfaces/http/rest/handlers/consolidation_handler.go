package handlers

import (
	"net/http"

	"mnemo-backend/internal/service/consolidation"
	"mnemo-backend/internal/service/gateway"
	"mnemo-backend/pkg/api"

	"go.uber.org/zap"
)

// ConsolidationHandler serves the manual consolidation endpoint.
type ConsolidationHandler struct {
	gateway *gateway.Gateway
	logger  *zap.Logger
}

// NewConsolidationHandler creates a consolidation handler.
func NewConsolidationHandler(gw *gateway.Gateway, logger *zap.Logger) *ConsolidationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsolidationHandler{gateway: gw, logger: logger.Named("ConsolidationHandler")}
}

// TriggerConsolidation handles POST /api/v1/consolidation. The body may name
// the trigger to attribute the run to; an empty body runs as manual.
func (h *ConsolidationHandler) TriggerConsolidation(w http.ResponseWriter, r *http.Request) {
	var req api.ConsolidationRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		api.WriteAppError(w, err)
		return
	}

	report, err := h.gateway.RequestConsolidation(r.Context(), consolidation.Trigger(req.Trigger))
	if err != nil {
		h.logger.Warn("requested consolidation failed", zap.Error(err))
		api.WriteAppError(w, err)
		return
	}

	api.Success(w, http.StatusOK, api.ConsolidationResponse{
		Trigger:         string(report.Trigger),
		EntriesExamined: report.EntriesExamined,
		Groups:          report.Groups,
		Promoted:        report.Promoted,
		Consolidated:    report.Consolidated,
		Deferred:        report.Deferred,
		Rejected:        report.Rejected,
		Failed:          report.Failed,
		Duration:        report.Duration,
	})
}

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	gateway *gateway.Gateway
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(gw *gateway.Gateway) *HealthHandler {
	return &HealthHandler{gateway: gw}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.gateway.CheckHealth(r.Context())
	api.Success(w, http.StatusOK, api.HealthResponse{
		Status:          "ok",
		EpisodicCircuit: health.EpisodicCircuit,
		SemanticCircuit: health.SemanticCircuit,
		Backlog:         health.Backlog,
	})
}
