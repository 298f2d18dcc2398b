package mqtt

import (
	"sync"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/events"
)

// GatewayState tracks a registered gateway's health.
type GatewayState struct {
	GatewayID    string
	LastSeen     time.Time
	HeartbeatSec int
	Devices      []string
	Connected    bool
}

// Monitor tracks gateway registration and liveness. Telemetry from any
// device behind a gateway counts as a heartbeat.
type Monitor struct {
	mu        sync.RWMutex
	gateways  map[string]*GatewayState
	byDevice  map[string]string // device -> gateway
	tolerance float64           // multiplier for heartbeat interval
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a new gateway monitor.
// tolerance is the multiplier for heartbeat interval before considering disconnected.
func NewMonitor(tolerance float64) *Monitor {
	if tolerance <= 1.0 {
		tolerance = 2.0 // default: miss 1 heartbeat
	}
	return &Monitor{
		gateways:  make(map[string]*GatewayState),
		byDevice:  make(map[string]string),
		tolerance: tolerance,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// HandleRegistration processes a registration payload.
// Returns validation result and emits appropriate events.
func (m *Monitor) HandleRegistration(payload *RegistrationPayload) *ValidationResult {
	result := ValidateRegistration(payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	gwID := payload.Gateway.ID
	existing, known := m.gateways[gwID]
	isReconnect := known && existing != nil && !existing.Connected

	if !result.Valid {
		events.Emit("error", "device.error", "registration validation failed", map[string]interface{}{
			"gateway_id": gwID,
			"errors":     result.Errors,
		})
		return result
	}

	var deviceIDs []string
	for _, dev := range payload.Devices {
		deviceIDs = append(deviceIDs, dev.DeviceID)
		m.byDevice[dev.DeviceID] = gwID
	}

	m.gateways[gwID] = &GatewayState{
		GatewayID:    gwID,
		LastSeen:     m.now(),
		HeartbeatSec: payload.Gateway.HeartbeatSec,
		Devices:      deviceIDs,
		Connected:    true,
	}

	for _, dev := range payload.Devices {
		events.Emit("info", "device.connected", "", map[string]interface{}{
			"gateway_id": gwID,
			"device_id":  dev.DeviceID,
			"model":      dev.Model,
			"reconnect":  isReconnect,
		})
	}

	return result
}

// Seen records traffic from a device.
func (m *Monitor) Seen(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gwID, ok := m.byDevice[deviceID]
	if !ok {
		return
	}
	state := m.gateways[gwID]
	if state == nil {
		return
	}
	state.LastSeen = m.now()
	if !state.Connected {
		state.Connected = true
		for _, id := range state.Devices {
			events.Emit("info", "device.connected", "", map[string]interface{}{
				"gateway_id": gwID,
				"device_id":  id,
				"reconnect":  true,
			})
		}
	}
}

// Start begins the background health check loop.
func (m *Monitor) Start(checkInterval time.Duration) {
	m.wg.Add(1)
	go m.healthCheckLoop(checkInterval)
}

// Stop stops the background health check loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) healthCheckLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Monitor) checkHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	for gwID, state := range m.gateways {
		if !state.Connected || state.HeartbeatSec <= 0 {
			continue
		}

		timeout := time.Duration(float64(state.HeartbeatSec)*m.tolerance) * time.Second
		if now.Sub(state.LastSeen) > timeout {
			state.Connected = false

			for _, id := range state.Devices {
				events.Emit("warning", "device.disconnected", "heartbeat timeout", map[string]interface{}{
					"gateway_id":  gwID,
					"device_id":   id,
					"last_seen":   state.LastSeen.Format(time.RFC3339),
					"timeout_sec": timeout.Seconds(),
				})
			}
		}
	}
}

// GatewayState returns a copy of a gateway's state.
func (m *Monitor) GatewayState(gatewayID string) *GatewayState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.gateways[gatewayID]; ok {
		cpy := *state
		cpy.Devices = append([]string{}, state.Devices...)
		return &cpy
	}
	return nil
}

// Connected reports whether the gateway of deviceID is live.
func (m *Monitor) Connected(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gw, ok := m.gateways[m.byDevice[deviceID]]
	return ok && gw.Connected
}
