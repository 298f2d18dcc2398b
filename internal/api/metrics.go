package api

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/orchestrator"
	"github.com/AaronLay10/OverlayEngine/internal/version"
)

var metricsState = &MetricsState{}

// MetricsState holds process-level values for the /metrics endpoint.
type MetricsState struct {
	mu         sync.RWMutex
	startTime  time.Time
	engineName string
}

// InitMetrics records the start time. Call it once at startup.
func InitMetrics() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
}

// SetEngineName sets the engine label reported with every metric.
func SetEngineName(name string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.engineName = name
}

// EngineName returns the engine label.
func EngineName() string {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	return metricsState.engineName
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// metricsHandler writes metrics in the Prometheus text format.
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	metricsState.mu.RLock()
	startTime := metricsState.startTime
	engineName := metricsState.engineName
	metricsState.mu.RUnlock()

	readiness.mu.RLock()
	mqttConnected := readiness.mqttConnected
	postgresConnected := readiness.postgresConnected
	readiness.mu.RUnlock()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
	}

	labels := fmt.Sprintf(`engine="%s",instance="%s",version="%s"`, engineName, hostname, version.Version)

	writeMetric("overlay_uptime_seconds", "gauge",
		"Seconds since the engine started", time.Since(startTime).Seconds(), labels)
	writeMetric("overlay_events_total", "counter",
		"Events emitted since startup", events.TotalCount(), labels)
	writeMetric("overlay_mqtt_connected", "gauge",
		"Whether the MQTT broker is connected (1) or not (0)", boolGauge(mqttConnected), labels)
	writeMetric("overlay_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", boolGauge(postgresConnected), labels)
	writeMetric("overlay_ws_clients", "gauge",
		"Active WebSocket event stream clients", events.SubscriberCount(), labels)

	e := currentEngine()
	if e == nil {
		return
	}
	snap := e.Snapshot()
	writeMetric("overlay_anchor_active", "gauge",
		"Whether an anchor is recognized (1) or not (0)", boolGauge(snap.Anchor != ""), labels)
	writeMetric("overlay_procedure_running", "gauge",
		"Whether a procedure is running (1) or not (0)", boolGauge(snap.Procedure.State == orchestrator.StateRunning), labels)
	writeMetric("overlay_animating", "gauge",
		"Whether an animation batch is in flight (1) or not (0)", boolGauge(snap.Animating), labels)
	writeMetric("overlay_gestures_enabled", "gauge",
		"Whether gestures are accepted (1) or not (0)", boolGauge(snap.GesturesEnabled), labels)
	writeMetric("overlay_sensor_surfaces", "gauge",
		"Sensor surfaces attached to the scene", snap.Sensors, labels)
	writeMetric("overlay_cached_contexts", "gauge",
		"Node contexts held in the session cache", snap.CachedContexts, labels)
}
