package mqtt

import (
	"fmt"
	"sync"
)

// RegisteredDevice holds runtime information about a registered device.
type RegisteredDevice struct {
	DeviceID       string
	GatewayID      string
	Model          string
	TelemetryTopic string
	CommandTopic   string
	Sensors        []string
	Simulations    []string
}

func (d *RegisteredDevice) clone() *RegisteredDevice {
	cpy := *d
	cpy.Sensors = append([]string{}, d.Sensors...)
	cpy.Simulations = append([]string{}, d.Simulations...)
	return &cpy
}

// DeviceRegistry maps device IDs to their MQTT topics and metadata.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*RegisteredDevice
}

// NewDeviceRegistry creates a new empty device registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*RegisteredDevice),
	}
}

// Register adds or updates a device in the registry.
func (r *DeviceRegistry) Register(dev *RegisteredDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[dev.DeviceID] = dev.clone()
}

// Unregister removes a device from the registry.
func (r *DeviceRegistry) Unregister(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, deviceID)
}

// Get returns a copy of a device, or nil if not found.
func (r *DeviceRegistry) Get(deviceID string) *RegisteredDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dev, ok := r.devices[deviceID]; ok {
		return dev.clone()
	}
	return nil
}

// Exists returns true if the device is registered.
func (r *DeviceRegistry) Exists(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[deviceID]
	return ok
}

// CommandTopic returns the command topic for a device, or empty string if not found.
func (r *DeviceRegistry) CommandTopic(deviceID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dev, ok := r.devices[deviceID]; ok {
		return dev.CommandTopic
	}
	return ""
}

// ValidateSimulation checks that a device exists, accepts commands and
// supports the named issue simulation.
func (r *DeviceRegistry) ValidateSimulation(deviceID, simulation string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("device not registered: %s", deviceID)
	}

	if dev.CommandTopic == "" {
		return fmt.Errorf("device %s has no command topic", deviceID)
	}

	if !containsString(dev.Simulations, simulation) {
		return fmt.Errorf("device %s does not support simulation: %s", deviceID, simulation)
	}
	return nil
}

// All returns a copy of all registered devices.
func (r *DeviceRegistry) All() []*RegisteredDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*RegisteredDevice, 0, len(r.devices))
	for _, dev := range r.devices {
		result = append(result, dev.clone())
	}
	return result
}

// RegisterFromPayload registers all devices from a gateway announcement.
func (r *DeviceRegistry) RegisterFromPayload(payload *RegistrationPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dev := range payload.Devices {
		if dev.DeviceID == "" {
			continue
		}
		r.devices[dev.DeviceID] = &RegisteredDevice{
			DeviceID:       dev.DeviceID,
			GatewayID:      payload.Gateway.ID,
			Model:          dev.Model,
			TelemetryTopic: dev.Topics.Telemetry,
			CommandTopic:   dev.Topics.Command,
			Sensors:        append([]string{}, dev.Sensors...),
			Simulations:    append([]string{}, dev.Simulations...),
		}
	}
}

// Clear removes all devices from the registry.
func (r *DeviceRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]*RegisteredDevice)
}
