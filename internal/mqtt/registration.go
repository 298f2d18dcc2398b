package mqtt

import (
	"encoding/json"
	"fmt"
)

// RegistrationPayload is a v1 gateway announcement listing the field
// devices it relays telemetry for.
type RegistrationPayload struct {
	Version int                  `json:"version"`
	Gateway GatewayInfo          `json:"gateway"`
	Devices []DeviceRegistration `json:"devices"`
}

// GatewayInfo contains gateway metadata.
type GatewayInfo struct {
	ID           string `json:"id"`
	Firmware     string `json:"firmware"`
	HeartbeatSec int    `json:"heartbeat_sec"`
}

// DeviceRegistration describes a single device behind the gateway.
type DeviceRegistration struct {
	DeviceID    string       `json:"device_id"`
	Model       string       `json:"model"`
	Sensors     []string     `json:"sensors"`
	Simulations []string     `json:"simulations"`
	Topics      DeviceTopics `json:"topics"`
}

// DeviceTopics defines MQTT topics for device communication.
type DeviceTopics struct {
	Telemetry string `json:"telemetry"`
	Command   string `json:"command"`
}

// ParseRegistration parses a registration payload from JSON bytes.
func ParseRegistration(data []byte) (*RegistrationPayload, error) {
	var payload RegistrationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid registration JSON: %w", err)
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported registration version: %d", payload.Version)
	}

	if payload.Gateway.ID == "" {
		return nil, fmt.Errorf("gateway.id is required")
	}

	return &payload, nil
}

// ValidationResult contains validation outcome.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateRegistration checks that every announced device is addressable.
// Devices without a command topic only produce a warning since they can
// still stream telemetry.
func ValidateRegistration(payload *RegistrationPayload) *ValidationResult {
	result := &ValidationResult{Valid: true}
	seen := make(map[string]bool)

	for _, dev := range payload.Devices {
		if dev.DeviceID == "" {
			result.Errors = append(result.Errors, "device with empty device_id")
			result.Valid = false
			continue
		}
		if seen[dev.DeviceID] {
			result.Errors = append(result.Errors, fmt.Sprintf("duplicate device: %s", dev.DeviceID))
			result.Valid = false
			continue
		}
		seen[dev.DeviceID] = true

		if dev.Topics.Telemetry == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("device %s: missing telemetry topic", dev.DeviceID))
			result.Valid = false
		}
		if dev.Topics.Command == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("device %s: no command topic", dev.DeviceID))
		}
	}

	if len(payload.Devices) == 0 {
		result.Warnings = append(result.Warnings, "gateway announced no devices")
	}

	return result
}

func containsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
