package mqtt

import (
	"testing"
)

func TestDeviceRegistry_RegisterAndGet(t *testing.T) {
	registry := NewDeviceRegistry()

	dev := &RegisteredDevice{
		DeviceID:       "pump-17",
		GatewayID:      "gw-001",
		Model:          "centrifugal",
		TelemetryTopic: "devices/pump-17/telemetry",
		CommandTopic:   "devices/pump-17/commands",
		Sensors:        []string{"temperature", "pressure"},
		Simulations:    []string{"overheat"},
	}

	registry.Register(dev)

	got := registry.Get("pump-17")
	if got == nil {
		t.Fatal("expected device, got nil")
	}
	if got.DeviceID != "pump-17" {
		t.Errorf("expected device_id pump-17, got %s", got.DeviceID)
	}
	if got.CommandTopic != "devices/pump-17/commands" {
		t.Errorf("expected command topic, got %s", got.CommandTopic)
	}

	if !registry.Exists("pump-17") {
		t.Error("expected device to exist")
	}
	if registry.Exists("nonexistent") {
		t.Error("expected device to not exist")
	}
}

func TestDeviceRegistry_GetReturnsCopy(t *testing.T) {
	registry := NewDeviceRegistry()
	registry.Register(&RegisteredDevice{DeviceID: "pump-17", Sensors: []string{"temperature"}})

	got := registry.Get("pump-17")
	got.Sensors[0] = "mutated"

	if again := registry.Get("pump-17"); again.Sensors[0] != "temperature" {
		t.Errorf("registry state leaked through Get: %v", again.Sensors)
	}
}

func TestDeviceRegistry_CommandTopic(t *testing.T) {
	registry := NewDeviceRegistry()
	registry.Register(&RegisteredDevice{DeviceID: "pump-17", CommandTopic: "devices/pump-17/commands"})

	if topic := registry.CommandTopic("pump-17"); topic != "devices/pump-17/commands" {
		t.Errorf("expected command topic, got %s", topic)
	}
	if topic := registry.CommandTopic("nonexistent"); topic != "" {
		t.Errorf("expected empty topic, got %s", topic)
	}
}

func TestDeviceRegistry_ValidateSimulation(t *testing.T) {
	registry := NewDeviceRegistry()
	registry.Register(&RegisteredDevice{
		DeviceID:     "pump-17",
		CommandTopic: "devices/pump-17/commands",
		Simulations:  []string{"overheat", "cavitation"},
	})
	registry.Register(&RegisteredDevice{DeviceID: "fan-3", Simulations: []string{"stall"}})

	tests := []struct {
		name       string
		device     string
		simulation string
		wantErr    bool
	}{
		{"supported simulation", "pump-17", "overheat", false},
		{"unsupported simulation", "pump-17", "stall", true},
		{"unknown device", "nonexistent", "overheat", true},
		{"no command topic", "fan-3", "stall", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.ValidateSimulation(tt.device, tt.simulation)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSimulation() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeviceRegistry_RegisterFromPayload(t *testing.T) {
	registry := NewDeviceRegistry()

	payload := &RegistrationPayload{
		Version: 1,
		Gateway: GatewayInfo{ID: "gw-001"},
		Devices: []DeviceRegistration{
			{
				DeviceID:    "pump-17",
				Model:       "centrifugal",
				Sensors:     []string{"temperature"},
				Simulations: []string{"overheat"},
				Topics:      DeviceTopics{Telemetry: "devices/pump-17/telemetry", Command: "devices/pump-17/commands"},
			},
			{DeviceID: ""},
			{DeviceID: "fan-3", Topics: DeviceTopics{Telemetry: "devices/fan-3/telemetry"}},
		},
	}

	registry.RegisterFromPayload(payload)

	if n := len(registry.All()); n != 2 {
		t.Fatalf("expected 2 devices, got %d", n)
	}
	dev := registry.Get("pump-17")
	if dev == nil {
		t.Fatal("expected pump-17 to be registered")
	}
	if dev.GatewayID != "gw-001" {
		t.Errorf("expected gateway gw-001, got %s", dev.GatewayID)
	}
	if dev.TelemetryTopic != "devices/pump-17/telemetry" {
		t.Errorf("expected telemetry topic, got %s", dev.TelemetryTopic)
	}
}

func TestDeviceRegistry_UnregisterAndClear(t *testing.T) {
	registry := NewDeviceRegistry()
	registry.Register(&RegisteredDevice{DeviceID: "a"})
	registry.Register(&RegisteredDevice{DeviceID: "b"})

	registry.Unregister("a")
	if registry.Exists("a") {
		t.Error("expected a to be removed")
	}

	registry.Clear()
	if len(registry.All()) != 0 {
		t.Error("expected empty registry after Clear")
	}
}
