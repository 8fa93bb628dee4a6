package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/econregulator/regulator/internal/controller"
	"github.com/econregulator/regulator/internal/decisionlog"
	"github.com/econregulator/regulator/internal/executor"
	"github.com/econregulator/regulator/internal/metricstore"
	"github.com/econregulator/regulator/internal/observer"
	"github.com/econregulator/regulator/internal/persona"
	"github.com/econregulator/regulator/internal/planner"
	"github.com/econregulator/regulator/internal/principles"
	"github.com/econregulator/regulator/internal/registry"
	"github.com/econregulator/regulator/internal/satisfaction"
	"github.com/econregulator/regulator/internal/simulator"
	"github.com/econregulator/regulator/internal/transport"
	"github.com/econregulator/regulator/pkg/types"
)

type fakeHost struct{}

func (f *fakeHost) GetState(ctx context.Context) (*types.EconomyState, error) { return nil, nil }
func (f *fakeHost) SetParam(ctx context.Context, key string, value float64, scope *types.ParameterScope) error {
	return nil
}

type harness struct {
	server    *transport.Server
	decisions *decisionlog.Log
	planner   *planner.Planner
	registry  *registry.Registry
}

func newHarness(t *testing.T, apiKey string) *harness {
	t.Helper()
	reg := registry.New()
	diag := principles.New(zap.NewNop())
	principles.RegisterDefaults(diag, nil)
	plan := planner.New(zap.NewNop())
	decisions := decisionlog.New(100)
	metrics := metricstore.New()

	deps := controller.Deps{
		Registry:  reg,
		Observer:  observer.New(zap.NewNop()),
		Diagnoser: diag,
		Simulator: simulator.New(zap.NewNop()),
		Planner:   plan,
		Executor:  executor.New(zap.NewNop()),
		Metrics:   metrics,
		Decisions: decisions,
		SatEst:    satisfaction.New(),
		Personas:  persona.New(),
	}
	ctrl := controller.New(zap.NewNop(), types.DefaultPipelineConfig(), &fakeHost{}, deps)

	cfg := types.DefaultServerConfig()
	cfg.APIKey = apiKey
	srv := transport.NewServer(zap.NewNop(), cfg, ctrl, transport.Deps{
		Diagnoser: diag,
		Planner:   plan,
		Registry:  reg,
		Metrics:   metrics,
		Decisions: decisions,
	})

	return &harness{server: srv, decisions: decisions, planner: plan, registry: reg}
}

func doRequest(h *harness, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func flatState(tick int64) *types.EconomyState {
	return &types.EconomyState{
		Tick:       tick,
		Roles:      []string{"trader", "crafter", "gatherer", "trader2"},
		Currencies: []string{"gold"},
		AgentBalances: map[string]map[string]float64{
			"a1": {"gold": 10}, "a2": {"gold": 10}, "a3": {"gold": 10}, "a4": {"gold": 10},
		},
		AgentRoles: map[string]string{
			"a1": "trader", "a2": "crafter", "a3": "gatherer", "a4": "trader2",
		},
	}
}

func TestHandleTickRejectsMalformedBody(t *testing.T) {
	h := newHarness(t, "")
	req := httptest.NewRequest(http.MethodPost, "/tick", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestHandleTickRejectsInvalidState(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(h, http.MethodPost, "/tick", map[string]any{
		"state": map[string]any{"tick": 1},
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a state missing roles/currencies, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleTickSuccess(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(h, http.MethodPost, "/tick", map[string]any{"state": flatState(1)}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out controller.TickOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if out.Tick != 1 {
		t.Errorf("expected tick echoed back as 1, got %d", out.Tick)
	}
}

func TestHandleHealthReportsPerfectScoreWithNoData(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(h, http.MethodGet, "/health", nil, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["health"] != float64(100) {
		t.Errorf("expected health 100 with no ticks recorded yet, got %v", body["health"])
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	h := newHarness(t, "secret")
	rec := doRequest(h, http.MethodPost, "/config", map[string]any{"lock": []string{"sinkFeeRate"}}, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
}

func TestRequireAuthAllowsValidToken(t *testing.T) {
	h := newHarness(t, "secret")
	rec := doRequest(h, http.MethodPost, "/config", map[string]any{"lock": []string{"sinkFeeRate"}},
		map[string]string{"Authorization": "Bearer secret"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid bearer token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireAuthSkippedWhenNoAPIKeyConfigured(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(h, http.MethodPost, "/config", map[string]any{"lock": []string{"sinkFeeRate"}}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when no API key is configured, got %d", rec.Code)
	}
}

func TestHandleApproveNotFound(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(h, http.MethodPost, "/approve", map[string]any{"decisionId": "missing"}, nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown decision id, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRejectThenRejectAgainConflicts(t *testing.T) {
	h := newHarness(t, "")
	entry := h.decisions.Append(types.DecisionEntry{Tick: 1, Result: types.ResultSkippedOverride})

	first := doRequest(h, http.MethodPost, "/reject", map[string]any{"decisionId": entry.ID}, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200 on first reject, got %d: %s", first.Code, first.Body.String())
	}

	second := doRequest(h, http.MethodPost, "/reject", map[string]any{"decisionId": entry.ID}, nil)
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 on re-rejecting an already-resolved decision, got %d", second.Code)
	}
}

func TestHandlePendingListsOverrideEntries(t *testing.T) {
	h := newHarness(t, "")
	h.decisions.Append(types.DecisionEntry{Tick: 1, Result: types.ResultSkippedOverride})
	h.decisions.Append(types.DecisionEntry{Tick: 2, Result: types.ResultApplied})

	rec := doRequest(h, http.MethodGet, "/pending", nil, nil)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["count"] != float64(1) {
		t.Fatalf("expected 1 pending decision, got %v", body["count"])
	}
}

func TestHandlePrinciplesListsRegisteredPrinciples(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(h, http.MethodGet, "/principles", nil, nil)

	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["count"] != float64(5) {
		t.Fatalf("expected the 5 default principles registered, got %v", body["count"])
	}
}

func TestHandleDecisionsEmptyFilterReturnsLatest(t *testing.T) {
	h := newHarness(t, "")
	h.decisions.Append(types.DecisionEntry{Tick: 1, Result: types.ResultApplied})

	rec := doRequest(h, http.MethodGet, "/decisions", nil, nil)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	decisions, _ := body["decisions"].([]any)
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision returned, got %v", body["decisions"])
	}
}

func TestHandleConfigRejectsUnknownFields(t *testing.T) {
	h := newHarness(t, "")
	req := httptest.NewRequest(http.MethodPost, "/config", bytes.NewBufferString(`{"bogus":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected strict decoding to reject an unknown field, got %d", rec.Code)
	}
}
