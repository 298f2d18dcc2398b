package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/events"
)

// webhook captures alert payloads posted to a test server.
func webhook(t *testing.T) <-chan AlertPayload {
	t.Helper()
	got := make(chan AlertPayload, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p AlertPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("bad alert body: %v", err)
		}
		got <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	t.Setenv("OVERLAY_ALERT_WEBHOOK_URL", srv.URL)
	t.Setenv("OVERLAY_MQTT_ALERT_DELAY", "10s")
	t.Setenv("OVERLAY_POSTGRES_ALERT_DELAY", "0s")
	InitAlerts()
	t.Cleanup(func() {
		alertMu.Lock()
		alertConfig.WebhookURL = ""
		*mqttOutage = outage{event: AlertMQTTDisconnected, severity: SeverityWarning, name: "MQTT broker"}
		*postgresOutage = outage{event: AlertPostgresUnavailable, severity: SeverityCritical, name: "PostgreSQL"}
		alertMu.Unlock()
	})
	return got
}

func expectAlert(t *testing.T, got <-chan AlertPayload) AlertPayload {
	t.Helper()
	select {
	case p := <-got:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert")
	}
	return AlertPayload{}
}

func expectNoAlert(t *testing.T, got <-chan AlertPayload) {
	t.Helper()
	select {
	case p := <-got:
		t.Fatalf("unexpected alert %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInitAlertsReadsDelays(t *testing.T) {
	webhook(t)

	alertMu.Lock()
	defer alertMu.Unlock()
	if alertConfig.MQTTDisconnectDelay != 10*time.Second {
		t.Errorf("mqtt delay = %s, want 10s", alertConfig.MQTTDisconnectDelay)
	}
	if postgresOutage.delay != 0 {
		t.Errorf("postgres delay = %s, want 0s", postgresOutage.delay)
	}
}

func TestSendAlertPostsPayload(t *testing.T) {
	got := webhook(t)
	SetEngineName("bench-1")
	t.Cleanup(func() { SetEngineName("") })

	SendAlert(AlertSensorLimit, SeverityWarning, "too hot", map[string]interface{}{"sensor": "temperature"})

	p := expectAlert(t, got)
	if p.Engine != "bench-1" || p.Event != AlertSensorLimit || p.Severity != SeverityWarning {
		t.Errorf("unexpected payload %+v", p)
	}
	if p.Details["sensor"] != "temperature" {
		t.Errorf("expected sensor detail, got %v", p.Details)
	}
}

func TestDependencyOutageAlertsAfterDelay(t *testing.T) {
	got := webhook(t)
	start := time.Now()

	setReadiness(true, false, false, true, false)
	CheckDependencies(start)
	expectNoAlert(t, got)

	CheckDependencies(start.Add(11 * time.Second))
	p := expectAlert(t, got)
	if p.Event != AlertMQTTDisconnected || p.Severity != SeverityWarning {
		t.Errorf("unexpected payload %+v", p)
	}

	// already alerted
	CheckDependencies(start.Add(20 * time.Second))
	expectNoAlert(t, got)

	setReadiness(true, true, false, true, false)
	CheckDependencies(start.Add(21 * time.Second))
	p = expectAlert(t, got)
	if p.Event != AlertMQTTDisconnected || p.Severity != SeverityInfo {
		t.Errorf("expected recovery alert, got %+v", p)
	}
}

func TestPostgresOutageIsCritical(t *testing.T) {
	got := webhook(t)

	setReadiness(true, true, false, false, false)
	CheckDependencies(time.Now())

	p := expectAlert(t, got)
	if p.Event != AlertPostgresUnavailable || p.Severity != SeverityCritical {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestForwardEvent(t *testing.T) {
	got := webhook(t)

	if forwardEvent(events.Event{Name: "anchor.found"}) {
		t.Error("anchor.found should not be forwarded")
	}
	if !forwardEvent(events.Event{Name: "device.disconnected", Fields: map[string]interface{}{"device_id": "pump-17"}}) {
		t.Fatal("device.disconnected should be forwarded")
	}
	p := expectAlert(t, got)
	if p.Event != AlertDeviceOffline || p.Details["device_id"] != "pump-17" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestAlertMonitorForwardsSensorAlerts(t *testing.T) {
	got := webhook(t)
	setReadiness(true, true, false, true, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartAlertMonitor(ctx, time.Hour)

	// subscription is registered before StartAlertMonitor returns
	events.Emit("warning", "sensor.alert", "", map[string]interface{}{"sensor": "pressure"})

	p := expectAlert(t, got)
	if p.Event != AlertSensorLimit || p.Details["sensor"] != "pressure" {
		t.Errorf("unexpected payload %+v", p)
	}
}
