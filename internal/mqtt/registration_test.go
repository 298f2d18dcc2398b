package mqtt

import (
	"testing"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/events"
)

func TestParseRegistration(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{
			name: "valid v1 registration",
			json: `{
				"version": 1,
				"gateway": {"id": "gw-001", "firmware": "2.4.1", "heartbeat_sec": 10},
				"devices": [
					{
						"device_id": "pump-17",
						"model": "centrifugal",
						"sensors": ["temperature", "pressure"],
						"simulations": ["overheat"],
						"topics": {
							"telemetry": "devices/pump-17/telemetry",
							"command": "devices/pump-17/commands"
						}
					}
				]
			}`,
			wantErr: false,
		},
		{
			name:    "unsupported version",
			json:    `{"version": 2, "gateway": {"id": "gw-001"}}`,
			wantErr: true,
		},
		{
			name:    "missing gateway id",
			json:    `{"version": 1, "gateway": {"firmware": "2.4.1"}}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			json:    `{"version": 1,`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ParseRegistration([]byte(tt.json))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRegistration() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && payload.Gateway.ID != "gw-001" {
				t.Errorf("expected gateway gw-001, got %s", payload.Gateway.ID)
			}
		})
	}
}

func TestValidateRegistration(t *testing.T) {
	tests := []struct {
		name         string
		payload      RegistrationPayload
		wantValid    bool
		wantErrors   int
		wantWarnings int
	}{
		{
			name: "complete device",
			payload: RegistrationPayload{Version: 1, Gateway: GatewayInfo{ID: "gw"}, Devices: []DeviceRegistration{
				{DeviceID: "pump-17", Topics: DeviceTopics{Telemetry: "t", Command: "c"}},
			}},
			wantValid: true,
		},
		{
			name: "missing command topic is a warning",
			payload: RegistrationPayload{Version: 1, Gateway: GatewayInfo{ID: "gw"}, Devices: []DeviceRegistration{
				{DeviceID: "pump-17", Topics: DeviceTopics{Telemetry: "t"}},
			}},
			wantValid:    true,
			wantWarnings: 1,
		},
		{
			name: "missing telemetry topic",
			payload: RegistrationPayload{Version: 1, Gateway: GatewayInfo{ID: "gw"}, Devices: []DeviceRegistration{
				{DeviceID: "pump-17", Topics: DeviceTopics{Command: "c"}},
			}},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name: "duplicate and empty ids",
			payload: RegistrationPayload{Version: 1, Gateway: GatewayInfo{ID: "gw"}, Devices: []DeviceRegistration{
				{DeviceID: "pump-17", Topics: DeviceTopics{Telemetry: "t", Command: "c"}},
				{DeviceID: "pump-17", Topics: DeviceTopics{Telemetry: "t", Command: "c"}},
				{Topics: DeviceTopics{Telemetry: "t"}},
			}},
			wantValid:  false,
			wantErrors: 2,
		},
		{
			name:         "no devices",
			payload:      RegistrationPayload{Version: 1, Gateway: GatewayInfo{ID: "gw"}},
			wantValid:    true,
			wantWarnings: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateRegistration(&tt.payload)
			if result.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (errors: %v)", result.Valid, tt.wantValid, result.Errors)
			}
			if len(result.Errors) != tt.wantErrors {
				t.Errorf("expected %d errors, got %v", tt.wantErrors, result.Errors)
			}
			if len(result.Warnings) != tt.wantWarnings {
				t.Errorf("expected %d warnings, got %v", tt.wantWarnings, result.Warnings)
			}
		})
	}
}

func TestMonitor_RegistrationAndTimeout(t *testing.T) {
	events.Clear()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(2.0)
	m.now = func() time.Time { return now }

	payload := &RegistrationPayload{
		Version: 1,
		Gateway: GatewayInfo{ID: "gw-001", HeartbeatSec: 5},
		Devices: []DeviceRegistration{
			{DeviceID: "pump-17", Topics: DeviceTopics{Telemetry: "devices/pump-17/telemetry"}},
		},
	}
	if res := m.HandleRegistration(payload); !res.Valid {
		t.Fatalf("expected valid registration, got %v", res.Errors)
	}
	if got := len(events.Filter("device.connected")); got != 1 {
		t.Fatalf("expected 1 device.connected, got %d", got)
	}
	if !m.Connected("pump-17") {
		t.Fatal("expected device to be connected")
	}

	// within tolerance
	now = now.Add(9 * time.Second)
	m.checkHealth()
	if !m.Connected("pump-17") {
		t.Fatal("expected device still connected within tolerance")
	}

	now = now.Add(2 * time.Second)
	m.checkHealth()
	if m.Connected("pump-17") {
		t.Fatal("expected device disconnected after heartbeat timeout")
	}
	if got := len(events.Filter("device.disconnected")); got != 1 {
		t.Fatalf("expected 1 device.disconnected, got %d", got)
	}

	// telemetry revives the gateway
	m.Seen("pump-17")
	if !m.Connected("pump-17") {
		t.Fatal("expected telemetry to mark device connected")
	}
	if got := len(events.Filter("device.connected")); got != 2 {
		t.Fatalf("expected reconnect event, got %d device.connected", got)
	}
}

func TestMonitor_InvalidRegistration(t *testing.T) {
	events.Clear()

	m := NewMonitor(0)
	res := m.HandleRegistration(&RegistrationPayload{
		Version: 1,
		Gateway: GatewayInfo{ID: "gw-002"},
		Devices: []DeviceRegistration{{DeviceID: "fan-3"}},
	})
	if res.Valid {
		t.Fatal("expected invalid registration")
	}
	if m.GatewayState("gw-002") != nil {
		t.Error("invalid registration should not be recorded")
	}
	if got := len(events.Filter("device.error")); got != 1 {
		t.Errorf("expected 1 device.error, got %d", got)
	}
}

func TestMonitor_StartStop(t *testing.T) {
	m := NewMonitor(2.0)
	m.Start(10 * time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	m.Stop()
}
