package handlers

import (
	"net/http"

	"mnemo-backend/internal/service/gateway"
	"mnemo-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AccessHandler serves the domain-boundary endpoints.
type AccessHandler struct {
	gateway *gateway.Gateway
	logger  *zap.Logger
}

// NewAccessHandler creates an access handler.
func NewAccessHandler(gw *gateway.Gateway, logger *zap.Logger) *AccessHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessHandler{gateway: gw, logger: logger.Named("AccessHandler")}
}

// ValidateAccess handles POST /api/v1/domains/validate.
func (h *AccessHandler) ValidateAccess(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateAccessRequest
	if err := decodeBody(r, &req); err != nil {
		api.WriteAppError(w, err)
		return
	}

	decision, err := h.gateway.ValidateCrossDomain(r.Context(), req.SourceDomain, req.TargetDomain)
	if err != nil {
		h.logger.Warn("validation failed",
			zap.String("source", req.SourceDomain),
			zap.String("target", req.TargetDomain),
			zap.Error(err),
		)
		api.WriteAppError(w, err)
		return
	}

	api.Success(w, http.StatusOK, api.ValidateAccessResponse{Decision: string(decision)})
}

// AccessHistory handles GET /api/v1/domains/access-history.
func (h *AccessHandler) AccessHistory(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	target := r.URL.Query().Get("target")
	if source == "" || target == "" {
		api.Error(w, http.StatusBadRequest, "source and target are required")
		return
	}

	pattern, err := h.gateway.GetAccessHistory(r.Context(), source, target)
	if err != nil {
		api.WriteAppError(w, err)
		return
	}

	api.Success(w, http.StatusOK, api.AccessHistoryResponse{
		SourceDomain: pattern.SourceDomain,
		TargetDomain: pattern.TargetDomain,
		AccessType:   string(pattern.AccessType),
		Frequency:    pattern.Frequency,
		SuccessRate:  pattern.SuccessRate,
		LastAccess:   pattern.LastAccess,
		Archived:     pattern.Archived,
	})
}

// ResolveRequest handles POST /api/v1/domains/requests/{requestID}/resolve.
func (h *AccessHandler) ResolveRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	if requestID == "" {
		api.Error(w, http.StatusBadRequest, "request id is required")
		return
	}

	var req api.ResolveRequestRequest
	if err := decodeBody(r, &req); err != nil {
		api.WriteAppError(w, err)
		return
	}

	if err := h.gateway.ResolveAccessRequest(r.Context(), requestID, req.Approve); err != nil {
		h.logger.Warn("resolve failed", zap.String("requestId", requestID), zap.Error(err))
		api.WriteAppError(w, err)
		return
	}

	api.Success(w, http.StatusNoContent, nil)
}
