package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AaronLay10/OverlayEngine/internal/animation"
	"github.com/AaronLay10/OverlayEngine/internal/engine"
	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/orchestrator"
)

func init() {
	events.SetOutput(nil)
}

// fakeEngine records calls and returns canned errors.
type fakeEngine struct {
	mu       sync.Mutex
	snap     engine.Snapshot
	calls    []string
	err      error
	gestures *bool
}

func (f *fakeEngine) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Snapshot() engine.Snapshot { return f.snap }

func (f *fakeEngine) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

func (f *fakeEngine) SetGesturesEnabled(enabled bool) {
	f.mu.Lock()
	f.gestures = &enabled
	f.mu.Unlock()
	f.record(fmt.Sprintf("gestures:%v", enabled))
}

func (f *fakeEngine) Select(ctx context.Context, name string) { f.record("select:" + name) }
func (f *fakeEngine) PressAction(ctx context.Context, id string) error {
	return f.record("action:" + id)
}
func (f *fakeEngine) StartProcedure(name string, done func()) error {
	return f.record("start:" + name)
}
func (f *fakeEngine) ResumeProcedure(done func()) error { return f.record("resume") }
func (f *fakeEngine) NextStep(done func()) error { return f.record("next") }
func (f *fakeEngine) ConfirmStep() { f.record("confirm") }
func (f *fakeEngine) StopProcedure(ctx context.Context, done func()) { f.record("stop") }
func (f *fakeEngine) Reset(ctx context.Context) { f.record("reset") }

type fakeHost struct {
	got AnchorRequest
	err error
}

func (h *fakeHost) PlaceAnchor(ctx context.Context, req AnchorRequest) error {
	h.got = req
	return h.err
}

// withEngine installs e for the duration of the test.
func withEngine(t *testing.T, e Engine) {
	t.Helper()
	SetEngine(e)
	t.Cleanup(func() { SetEngine(nil) })
}

func setReadiness(engineReady, mqtt, mqttOptional, pg, pgOptional bool) {
	SetEngineReady(engineReady)
	SetMQTTState(mqtt, mqttOptional)
	SetPostgresState(pg, pgOptional)
}

func doPost(h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", resp.Status)
	}
	if resp.Service != "overlayd" {
		t.Errorf("expected service 'overlayd', got '%s'", resp.Service)
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name                         string
		engine, mqtt, mqttOpt        bool
		pg, pgOpt                    bool
		wantCode                     int
		wantEngine, wantMQTT, wantPG string
	}{
		{"all ready", true, true, false, true, false, http.StatusOK, "ok", "ok", "ok"},
		{"engine not started", false, true, false, true, false, http.StatusServiceUnavailable, "error", "ok", "ok"},
		{"optional mqtt down", true, false, true, true, false, http.StatusOK, "ok", "unavailable", "ok"},
		{"required mqtt down", true, false, false, true, false, http.StatusServiceUnavailable, "ok", "error", "ok"},
		{"optional postgres down", true, true, false, false, true, http.StatusOK, "ok", "ok", "unavailable"},
		{"everything down", false, false, false, false, false, http.StatusServiceUnavailable, "error", "error", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setReadiness(tt.engine, tt.mqtt, tt.mqttOpt, tt.pg, tt.pgOpt)

			w := httptest.NewRecorder()
			readyHandler(w, httptest.NewRequest("GET", "/ready", nil))

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			var resp ReadinessResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Ready != (tt.wantCode == http.StatusOK) {
				t.Errorf("expected ready=%v", tt.wantCode == http.StatusOK)
			}
			if got := resp.Checks["engine"].Status; got != tt.wantEngine {
				t.Errorf("engine: expected %q, got %q", tt.wantEngine, got)
			}
			if got := resp.Checks["mqtt"].Status; got != tt.wantMQTT {
				t.Errorf("mqtt: expected %q, got %q", tt.wantMQTT, got)
			}
			if got := resp.Checks["postgres"].Status; got != tt.wantPG {
				t.Errorf("postgres: expected %q, got %q", tt.wantPG, got)
			}
		})
	}
}

func TestEventsEndpointFiltersByName(t *testing.T) {
	events.Clear()
	events.Emit("info", "anchor.found", "", map[string]interface{}{"anchor": "pump"})
	events.Emit("info", "sensor.shown", "", nil)

	w := httptest.NewRecorder()
	eventsHandler(w, httptest.NewRequest("GET", "/events?name=anchor.found", nil))

	var got []events.Event
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 1 || got[0].Name != "anchor.found" {
		t.Errorf("expected one anchor.found event, got %+v", got)
	}
}

func TestStateEndpoint(t *testing.T) {
	f := &fakeEngine{snap: engine.Snapshot{
		Anchor:    "pump",
		DeviceID:  "pump-17",
		Procedure: orchestrator.Status{State: orchestrator.StateRunning, Procedure: "Flush"},
	}}
	withEngine(t, f)

	w := httptest.NewRecorder()
	stateHandler(w, httptest.NewRequest("GET", "/state", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var snap engine.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if snap.Anchor != "pump" || snap.DeviceID != "pump-17" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Procedure.State != orchestrator.StateRunning {
		t.Errorf("expected running procedure, got %q", snap.Procedure.State)
	}

	w = httptest.NewRecorder()
	stateHandler(w, httptest.NewRequest("POST", "/state", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", w.Code)
	}
}

func TestHandlersWithoutEngine(t *testing.T) {
	SetEngine(nil)

	w := doPost(procedureNextHandler, "/procedure/next", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	stateHandler(w, httptest.NewRequest("GET", "/state", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestCommandHandlers(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		body    string
		want    string
	}{
		{"gestures off", gesturesHandler, `{"enabled":false}`, "gestures:false"},
		{"select", selectHandler, `{"node":"Cover"}`, "select:Cover"},
		{"action", actionHandler, `{"id":"open"}`, "action:open"},
		{"start", procedureStartHandler, `{"name":"Flush"}`, "start:Flush"},
		{"resume", procedureResumeHandler, "", "resume"},
		{"next", procedureNextHandler, "", "next"},
		{"confirm", procedureConfirmHandler, "", "confirm"},
		{"stop", procedureStopHandler, "", "stop"},
		{"reset", resetHandler, "", "reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeEngine{}
			withEngine(t, f)

			w := doPost(tt.handler, "/", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
			}
			if resp := decodeResponse(t, w); !resp.OK {
				t.Errorf("expected ok response, got %+v", resp)
			}
			calls := f.Calls()
			if len(calls) != 1 || calls[0] != tt.want {
				t.Errorf("expected call %q, got %v", tt.want, calls)
			}
		})
	}
}

func TestCommandHandlersRejectBadRequests(t *testing.T) {
	f := &fakeEngine{}
	withEngine(t, f)

	tests := []struct {
		name    string
		method  string
		handler http.HandlerFunc
		body    string
		want    int
	}{
		{"GET on action", http.MethodGet, actionHandler, "", http.StatusMethodNotAllowed},
		{"invalid JSON", http.MethodPost, selectHandler, "{", http.StatusBadRequest},
		{"missing node", http.MethodPost, selectHandler, `{}`, http.StatusBadRequest},
		{"missing id", http.MethodPost, actionHandler, `{}`, http.StatusBadRequest},
		{"missing name", http.MethodPost, procedureStartHandler, `{}`, http.StatusBadRequest},
		{"missing enabled", http.MethodPost, gesturesHandler, `{}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			tt.handler(w, req)
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}

	if calls := f.Calls(); len(calls) != 0 {
		t.Errorf("expected no engine calls, got %v", calls)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("press: %w", engine.ErrUnknownAction), http.StatusNotFound},
		{engine.ErrUnknownProcedure, http.StatusNotFound},
		{engine.ErrNoCheckpoint, http.StatusNotFound},
		{engine.ErrNoAnchor, http.StatusConflict},
		{orchestrator.ErrNotRunning, http.StatusConflict},
		{orchestrator.ErrConfirmationRequired, http.StatusConflict},
		{&animation.MappingError{Expected: 2, Actual: 1, Unknown: []string{"wobble"}}, http.StatusUnprocessableEntity},
		{animation.ErrEmptyBatch, http.StatusUnprocessableEntity},
		{orchestrator.ErrNoSteps, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestActionErrorStatus(t *testing.T) {
	f := &fakeEngine{err: fmt.Errorf("%w: open", engine.ErrUnknownAction)}
	withEngine(t, f)

	w := doPost(actionHandler, "/actions", `{"id":"open"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.OK || resp.Error == "" {
		t.Errorf("expected error response, got %+v", resp)
	}
}

func TestAnchorEndpoint(t *testing.T) {
	withEngine(t, &fakeEngine{})

	SetAnchorHost(nil)
	body := `{"name":"pump","nodes":[{"name":"Pump"},{"name":"Cover","parent":"Pump"}]}`
	w := doPost(anchorHandler, "/anchors", body)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without host, got %d", w.Code)
	}

	host := &fakeHost{}
	SetAnchorHost(host)
	t.Cleanup(func() { SetAnchorHost(nil) })

	w = doPost(anchorHandler, "/anchors", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if host.got.Name != "pump" || len(host.got.Nodes) != 2 || host.got.Nodes[1].Parent != "Pump" {
		t.Errorf("unexpected anchor request %+v", host.got)
	}

	w = doPost(anchorHandler, "/anchors", `{"name":"pump"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without nodes, got %d", w.Code)
	}

	host.err = errors.New("broker unreachable")
	w = doPost(anchorHandler, "/anchors", body)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 on host error, got %d", w.Code)
	}
}

func TestMuxRoutesRequireAdminForReset(t *testing.T) {
	t.Setenv("OVERLAY_ADMIN_USER", "admin")
	t.Setenv("OVERLAY_ADMIN_PASS", "secret")
	t.Setenv("OVERLAY_TECH_USER", "tech")
	t.Setenv("OVERLAY_TECH_PASS", "wrench")
	if err := InitAuth(); err != nil {
		t.Fatalf("InitAuth: %v", err)
	}
	t.Cleanup(func() { auth = nil })

	f := &fakeEngine{}
	withEngine(t, f)
	mux := NewMux()

	req := httptest.NewRequest(http.MethodPost, "/reset", nil)
	req.SetBasicAuth("tech", "wrench")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for technician reset, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/procedure/next", nil)
	req.SetBasicAuth("tech", "wrench")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for technician next, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected open /health, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	InitMetrics()
	SetEngineName("bench-1")
	setReadiness(true, true, false, false, true)
	withEngine(t, &fakeEngine{snap: engine.Snapshot{Anchor: "pump", Sensors: 3, GesturesEnabled: true}})

	w := httptest.NewRecorder()
	metricsHandler(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`engine="bench-1"`,
		"overlay_uptime_seconds",
		"overlay_mqtt_connected{",
		"overlay_anchor_active{",
		"overlay_sensor_surfaces{",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if !strings.Contains(body, "overlay_postgres_connected{") {
		t.Error("metrics output missing postgres gauge")
	}
}
