package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/animation"
	"github.com/AaronLay10/OverlayEngine/internal/engine"
	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/orchestrator"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// requestTimeout bounds how long a handler waits for the UI dispatcher.
const requestTimeout = 5 * time.Second

// Engine is the session surface driven over HTTP.
type Engine interface {
	Snapshot() engine.Snapshot
	Call(ctx context.Context, fn func() error) error
	SetGesturesEnabled(enabled bool)
	Select(ctx context.Context, name string)
	PressAction(ctx context.Context, id string) error
	StartProcedure(name string, done func()) error
	ResumeProcedure(done func()) error
	NextStep(done func()) error
	ConfirmStep()
	StopProcedure(ctx context.Context, done func())
	Reset(ctx context.Context)
}

// NodeSpec is one scene node of an anchor placed over HTTP.
type NodeSpec struct {
	Name      string          `json:"name"`
	Parent    string          `json:"parent,omitempty"`
	Transform scene.Transform `json:"transform"`
}

// AnchorRequest places a recognized object. The first node is the root.
type AnchorRequest struct {
	Name  string     `json:"name"`
	Nodes []NodeSpec `json:"nodes"`
}

// AnchorHost builds the scene for an anchor and reports it to the engine.
type AnchorHost interface {
	PlaceAnchor(ctx context.Context, req AnchorRequest) error
}

var (
	sessionMu  sync.RWMutex
	session    Engine
	anchorHost AnchorHost
)

// SetEngine sets the session the handlers drive.
func SetEngine(e Engine) {
	sessionMu.Lock()
	session = e
	sessionMu.Unlock()
}

// SetAnchorHost sets the host that places anchors.
func SetAnchorHost(h AnchorHost) {
	sessionMu.Lock()
	anchorHost = h
	sessionMu.Unlock()
}

func currentEngine() Engine {
	sessionMu.RLock()
	defer sessionMu.RUnlock()
	return session
}

func currentHost() AnchorHost {
	sessionMu.RLock()
	defer sessionMu.RUnlock()
	return anchorHost
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "overlayd",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// readinessState tracks the dependencies /ready reports on.
type readinessState struct {
	mu                sync.RWMutex
	engineReady       bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

var readiness = &readinessState{}

// SetEngineReady marks the session as built.
func SetEngineReady(ready bool) {
	readiness.mu.Lock()
	readiness.engineReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records the MQTT connection. An optional dependency that
// is down does not fail readiness.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetPostgresState records the broker database connection.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

type CheckStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ReadinessResponse struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]CheckStatus `json:"checks"`
}

func dependencyCheck(connected, optional bool) (CheckStatus, bool) {
	switch {
	case connected:
		return CheckStatus{Status: "ok"}, true
	case optional:
		return CheckStatus{Status: "unavailable", Error: "optional dependency not connected"}, true
	default:
		return CheckStatus{Status: "error", Error: "not connected"}, false
	}
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	engineReady := readiness.engineReady
	mqttCheck, mqttOK := dependencyCheck(readiness.mqttConnected, readiness.mqttOptional)
	pgCheck, pgOK := dependencyCheck(readiness.postgresConnected, readiness.postgresOptional)
	readiness.mu.RUnlock()

	resp := ReadinessResponse{
		Ready:  engineReady && mqttOK && pgOK,
		Checks: map[string]CheckStatus{"mqtt": mqttCheck, "postgres": pgCheck},
	}
	if engineReady {
		resp.Checks["engine"] = CheckStatus{Status: "ok"}
	} else {
		resp.Checks["engine"] = CheckStatus{Status: "error", Error: "session not started"}
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if name := r.URL.Query().Get("name"); name != "" {
		_ = json.NewEncoder(w).Encode(events.Filter(name))
		return
	}
	_ = json.NewEncoder(w).Encode(events.Snapshot())
}

type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{OK: false, Error: msg})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var me *animation.MappingError
	switch {
	case errors.Is(err, engine.ErrUnknownAction),
		errors.Is(err, engine.ErrUnknownProcedure),
		errors.Is(err, engine.ErrNoCheckpoint):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNoAnchor),
		errors.Is(err, orchestrator.ErrNotRunning),
		errors.Is(err, orchestrator.ErrConfirmationRequired),
		errors.Is(err, orchestrator.ErrTimerRunning),
		errors.Is(err, orchestrator.ErrStepInProgress):
		return http.StatusConflict
	case errors.As(err, &me),
		errors.Is(err, animation.ErrEmptyBatch),
		errors.Is(err, orchestrator.ErrNoSteps),
		errors.Is(err, orchestrator.ErrStepOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// post guards a handler to POST with an engine set and decodes an
// optional JSON body into req.
func post(w http.ResponseWriter, r *http.Request, req interface{}) (Engine, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}
	e := currentEngine()
	if e == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not ready")
		return nil, false
	}
	if req != nil {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return nil, false
		}
	}
	return e, true
}

// call runs fn on the engine's UI dispatcher and writes the result.
func call(w http.ResponseWriter, r *http.Request, e Engine, fn func() error) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := e.Call(ctx, fn); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, Response{OK: true})
}

func stateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	e := currentEngine()
	if e == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not ready")
		return
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

type GesturesRequest struct {
	Enabled *bool `json:"enabled"`
}

func gesturesHandler(w http.ResponseWriter, r *http.Request) {
	var req GesturesRequest
	e, ok := post(w, r, &req)
	if !ok {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled required")
		return
	}
	enabled := *req.Enabled
	call(w, r, e, func() error {
		e.SetGesturesEnabled(enabled)
		return nil
	})
}

type SelectRequest struct {
	Node string `json:"node"`
}

func selectHandler(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	e, ok := post(w, r, &req)
	if !ok {
		return
	}
	if req.Node == "" {
		writeError(w, http.StatusBadRequest, "node required")
		return
	}
	call(w, r, e, func() error {
		e.Select(context.Background(), req.Node)
		return nil
	})
}

type ActionRequest struct {
	ID string `json:"id"`
}

func actionHandler(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	e, ok := post(w, r, &req)
	if !ok {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}
	call(w, r, e, func() error {
		return e.PressAction(context.Background(), req.ID)
	})
}

type ProcedureRequest struct {
	Name string `json:"name"`
}

func procedureStartHandler(w http.ResponseWriter, r *http.Request) {
	var req ProcedureRequest
	e, ok := post(w, r, &req)
	if !ok {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	call(w, r, e, func() error {
		return e.StartProcedure(req.Name, nil)
	})
}

func procedureResumeHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := post(w, r, nil)
	if !ok {
		return
	}
	call(w, r, e, func() error {
		return e.ResumeProcedure(nil)
	})
}

func procedureNextHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := post(w, r, nil)
	if !ok {
		return
	}
	call(w, r, e, func() error {
		return e.NextStep(nil)
	})
}

func procedureConfirmHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := post(w, r, nil)
	if !ok {
		return
	}
	call(w, r, e, func() error {
		e.ConfirmStep()
		return nil
	})
}

func procedureStopHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := post(w, r, nil)
	if !ok {
		return
	}
	call(w, r, e, func() error {
		e.StopProcedure(context.Background(), nil)
		return nil
	})
}

func resetHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := post(w, r, nil)
	if !ok {
		return
	}
	call(w, r, e, func() error {
		e.Reset(context.Background())
		return nil
	})
}

func anchorHandler(w http.ResponseWriter, r *http.Request) {
	var req AnchorRequest
	if _, ok := post(w, r, &req); !ok {
		return
	}
	if req.Name == "" || len(req.Nodes) == 0 {
		writeError(w, http.StatusBadRequest, "name and nodes required")
		return
	}
	host := currentHost()
	if host == nil {
		writeError(w, http.StatusServiceUnavailable, "no anchor host")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := host.PlaceAnchor(ctx, req); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, Response{OK: true})
}

// NewMux builds the API routes.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/metrics", metricsHandler)
	mux.HandleFunc("/events", RequireAnyRole(eventsHandler))
	mux.HandleFunc("/ws/events", RequireAnyRole(wsEventsHandler))
	mux.HandleFunc("/state", RequireAnyRole(stateHandler))
	mux.HandleFunc("/gestures", RequireAnyRole(gesturesHandler))
	mux.HandleFunc("/select", RequireAnyRole(selectHandler))
	mux.HandleFunc("/actions", RequireAnyRole(actionHandler))
	mux.HandleFunc("/procedure/start", RequireAnyRole(procedureStartHandler))
	mux.HandleFunc("/procedure/resume", RequireAnyRole(procedureResumeHandler))
	mux.HandleFunc("/procedure/next", RequireAnyRole(procedureNextHandler))
	mux.HandleFunc("/procedure/confirm", RequireAnyRole(procedureConfirmHandler))
	mux.HandleFunc("/procedure/stop", RequireAnyRole(procedureStopHandler))
	mux.HandleFunc("/reset", RequireAdmin(resetHandler))
	mux.HandleFunc("/anchors", RequireAdmin(anchorHandler))
	return mux
}

// ListenAndServe starts the API server on the given port, with TLS when
// configured. It blocks until the server exits.
func ListenAndServe(port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if tlsCfg := LoadTLSConfig(); tlsCfg != nil {
		srv.TLSConfig = tlsCfg
		log.Printf("API listening on %s (TLS)\n", srv.Addr)
		return srv.ListenAndServeTLS("", "")
	}

	log.Printf("API listening on %s\n", srv.Addr)
	return srv.ListenAndServe()
}

// Start starts the API server in a goroutine.
// Errors are logged but do not stop the caller.
func Start(port int) {
	go func() {
		if err := ListenAndServe(port); err != nil {
			log.Printf("api server error: %v", err)
		}
	}()
}
