package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/events"
)

// Alert severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert event types
const (
	AlertMQTTDisconnected    = "mqtt_disconnected"
	AlertPostgresUnavailable = "postgres_unavailable"
	AlertSensorLimit         = "sensor_limit"
	AlertDeviceOffline       = "device_offline"
)

// AlertPayload is the JSON body posted to the webhook.
type AlertPayload struct {
	Engine    string                 `json:"engine"`
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AlertConfig holds alert configuration.
type AlertConfig struct {
	WebhookURL              string
	MQTTDisconnectDelay     time.Duration
	PostgresDisconnectDelay time.Duration
}

// outage tracks one dependency and alerts once it has been down for
// delay, and again when it recovers.
type outage struct {
	event    string
	severity string
	name     string
	delay    time.Duration
	since    time.Time
	alerted  bool
}

func (o *outage) check(connected bool, now time.Time) {
	if connected {
		if o.alerted {
			go SendAlert(o.event, SeverityInfo, o.name+" connection restored", map[string]interface{}{
				"recovered_at": now.UTC().Format(time.RFC3339),
			})
		}
		o.since = time.Time{}
		o.alerted = false
		return
	}

	if o.since.IsZero() {
		o.since = now
	}
	down := now.Sub(o.since)
	if !o.alerted && down >= o.delay {
		o.alerted = true
		go SendAlert(o.event, o.severity, o.name+" unavailable", map[string]interface{}{
			"disconnected_since":   o.since.UTC().Format(time.RFC3339),
			"disconnected_seconds": int(down.Seconds()),
		})
	}
}

var (
	alertMu     sync.Mutex
	alertConfig = &AlertConfig{
		MQTTDisconnectDelay:     30 * time.Second,
		PostgresDisconnectDelay: 5 * time.Second,
	}
	mqttOutage     = &outage{event: AlertMQTTDisconnected, severity: SeverityWarning, name: "MQTT broker"}
	postgresOutage = &outage{event: AlertPostgresUnavailable, severity: SeverityCritical, name: "PostgreSQL"}
)

// InitAlerts reads OVERLAY_ALERT_WEBHOOK_URL and the optional
// OVERLAY_MQTT_ALERT_DELAY and OVERLAY_POSTGRES_ALERT_DELAY durations.
func InitAlerts() {
	alertMu.Lock()
	defer alertMu.Unlock()

	alertConfig.WebhookURL = os.Getenv("OVERLAY_ALERT_WEBHOOK_URL")
	if d, err := time.ParseDuration(os.Getenv("OVERLAY_MQTT_ALERT_DELAY")); err == nil {
		alertConfig.MQTTDisconnectDelay = d
	}
	if d, err := time.ParseDuration(os.Getenv("OVERLAY_POSTGRES_ALERT_DELAY")); err == nil {
		alertConfig.PostgresDisconnectDelay = d
	}
	mqttOutage.delay = alertConfig.MQTTDisconnectDelay
	postgresOutage.delay = alertConfig.PostgresDisconnectDelay

	if alertConfig.WebhookURL != "" {
		log.Printf("alerts enabled (mqtt_delay=%s, pg_delay=%s)",
			alertConfig.MQTTDisconnectDelay, alertConfig.PostgresDisconnectDelay)
	}
}

// GetAlertWebhookURL returns the configured webhook URL.
func GetAlertWebhookURL() string {
	alertMu.Lock()
	defer alertMu.Unlock()
	return alertConfig.WebhookURL
}

// SendAlert posts an alert to the webhook in the background, or logs it
// when no webhook is configured.
func SendAlert(event, severity, message string, details map[string]interface{}) {
	webhookURL := GetAlertWebhookURL()
	if webhookURL == "" {
		log.Printf("[ALERT] %s severity=%s msg=%q details=%v", event, severity, message, details)
		return
	}

	engine := EngineName()
	if engine == "" {
		engine = "unknown"
	}
	payload := AlertPayload{
		Engine:    engine,
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Severity:  severity,
		Message:   message,
		Details:   details,
	}
	go sendWebhook(webhookURL, payload)
}

func sendWebhook(url string, payload AlertPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("alert: failed to marshal payload: %v", err)
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("alert: webhook POST failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("alert: webhook returned status %d", resp.StatusCode)
	}
}

// CheckDependencies compares the current readiness against the outage
// trackers.
func CheckDependencies(now time.Time) {
	readiness.mu.RLock()
	mqttConnected := readiness.mqttConnected
	postgresConnected := readiness.postgresConnected
	readiness.mu.RUnlock()

	alertMu.Lock()
	defer alertMu.Unlock()
	mqttOutage.check(mqttConnected, now)
	postgresOutage.check(postgresConnected, now)
}

// forwardEvent turns engine events that need attention off-site into
// alerts. It reports whether e was forwarded.
func forwardEvent(e events.Event) bool {
	switch e.Name {
	case "sensor.alert":
		SendAlert(AlertSensorLimit, SeverityWarning, "sensor value out of limits", e.Fields)
	case "device.disconnected":
		SendAlert(AlertDeviceOffline, SeverityWarning, "device stopped reporting", e.Fields)
	default:
		return false
	}
	return true
}

// StartAlertMonitor checks dependencies every interval and forwards
// sensor and device alerts until ctx is done.
func StartAlertMonitor(ctx context.Context, interval time.Duration) {
	sub := events.Subscribe()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer events.Unsubscribe(sub)

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				CheckDependencies(now)
			case e, ok := <-sub:
				if !ok {
					return
				}
				forwardEvent(e)
			}
		}
	}()
}
