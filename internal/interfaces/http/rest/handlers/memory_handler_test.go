package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mnemo-backend/internal/infrastructure/persistence/memory"
	"mnemo-backend/internal/repository"
	"mnemo-backend/internal/service/access"
	"mnemo-backend/internal/service/consolidation"
	"mnemo-backend/internal/service/gateway"
	"mnemo-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	gateway  *gateway.Gateway
	episodic *memory.EpisodicStore
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	episodic := memory.NewEpisodicStore()
	semantic := memory.NewSemanticStore()
	ledger := memory.NewAccessLedger()
	requests := memory.NewRequestStore()
	controller := access.NewController(ledger, requests, nil, access.DefaultConfig(), nil)

	engineConfig := consolidation.DefaultConfig([]string{"personal"})
	engineConfig.Interval = time.Hour
	engine := consolidation.NewEngine(episodic, semantic, controller, nil, nil, engineConfig, nil)

	config := gateway.DefaultConfig([]string{"personal"})
	config.Retry = repository.RetryConfig{
		MaxAttempts:   1,
		BaseDelay:     time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
		JitterFactor:  0,
	}
	gw := gateway.New(episodic, semantic, engine, controller, nil, nil, config, nil)

	return &handlerFixture{gateway: gw, episodic: episodic}
}

func TestStoreMemoryRejectsInvalidBodies(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewMemoryHandler(f.gateway, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"content":`},
		{"missing content", `{"kind":"episodic","domain":"personal","importance":0.5}`},
		{"missing domain", `{"content":"meeting notes","kind":"episodic","importance":0.5}`},
		{"unknown kind", `{"content":"meeting notes","kind":"working","domain":"personal","importance":0.5}`},
		{"importance above one", `{"content":"meeting notes","kind":"episodic","domain":"personal","importance":1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/memories", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			handler.StoreMemory(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	assert.Zero(t, f.episodic.Len(), "rejected bodies never reach the stores")
}

func TestStoreMemoryAcceptsValidBody(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewMemoryHandler(f.gateway, nil)

	body := `{"content":"sprint planning notes","kind":"episodic","domain":"personal","importance":0.4}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.StoreMemory(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp api.StoreMemoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.EntryID)
	assert.Equal(t, 1, f.episodic.Len())
}

func TestValidateAccessRequiresBothDomains(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewAccessHandler(f.gateway, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/domains/validate",
		strings.NewReader(`{"sourceDomain":"personal"}`))
	rec := httptest.NewRecorder()

	handler.ValidateAccess(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerConsolidationBodyHandling(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewConsolidationHandler(f.gateway, nil)

	t.Run("empty body runs as manual", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/consolidation", strings.NewReader(""))
		rec := httptest.NewRecorder()

		handler.TriggerConsolidation(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp api.ConsolidationResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, string(consolidation.TriggerManual), resp.Trigger)
	})

	t.Run("named trigger is attributed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/consolidation",
			strings.NewReader(`{"trigger":"volume"}`))
		rec := httptest.NewRecorder()

		handler.TriggerConsolidation(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp api.ConsolidationResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, string(consolidation.TriggerVolumeBased), resp.Trigger)
	})

	t.Run("unknown trigger is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/consolidation",
			strings.NewReader(`{"trigger":"cosmic"}`))
		rec := httptest.NewRecorder()

		handler.TriggerConsolidation(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
