package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/mqtt"
)

// Publisher is the part of the MQTT client used to send device commands.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, payload []byte) error
}

// SimulationControl toggles device-issue simulations over MQTT.
type SimulationControl struct {
	publisher Publisher
	registry  *mqtt.DeviceRegistry
}

// NewSimulationControl creates a simulation control. A nil publisher or
// registry makes every call fail with a device.error event.
func NewSimulationControl(publisher Publisher, registry *mqtt.DeviceRegistry) *SimulationControl {
	return &SimulationControl{
		publisher: publisher,
		registry:  registry,
	}
}

// Enable starts the named simulation on the device.
func (c *SimulationControl) Enable(ctx context.Context, deviceID, simulation string) error {
	return c.send(ctx, deviceID, simulation, true)
}

// Disable stops the named simulation on the device.
func (c *SimulationControl) Disable(ctx context.Context, deviceID, simulation string) error {
	if err := c.send(ctx, deviceID, simulation, false); err != nil {
		return err
	}
	events.Emit("info", "simulation.disabled", "", map[string]interface{}{
		"device_id":  deviceID,
		"simulation": simulation,
	})
	return nil
}

func (c *SimulationControl) send(ctx context.Context, deviceID, simulation string, enabled bool) error {
	if deviceID == "" {
		return c.emitSimulationError(deviceID, simulation, "", "missing device id")
	}
	if simulation == "" {
		return c.emitSimulationError(deviceID, simulation, "", "missing simulation name")
	}
	if err := ctx.Err(); err != nil {
		return c.emitSimulationError(deviceID, simulation, "", err.Error())
	}

	if c.registry == nil {
		return c.emitSimulationError(deviceID, simulation, "", "device registry not available")
	}
	if err := c.registry.ValidateSimulation(deviceID, simulation); err != nil {
		return c.emitSimulationError(deviceID, simulation, "", err.Error())
	}

	commandTopic := c.registry.CommandTopic(deviceID)

	cmdPayload := map[string]interface{}{
		"command":    "simulation",
		"simulation": simulation,
		"enabled":    enabled,
	}
	payloadBytes, err := json.Marshal(cmdPayload)
	if err != nil {
		return c.emitSimulationError(deviceID, simulation, commandTopic, fmt.Sprintf("failed to marshal payload: %v", err))
	}

	if c.publisher == nil || !c.publisher.IsConnected() {
		return c.emitSimulationError(deviceID, simulation, commandTopic, "MQTT client not connected")
	}
	if err := c.publisher.Publish(commandTopic, payloadBytes); err != nil {
		return c.emitSimulationError(deviceID, simulation, commandTopic, fmt.Sprintf("MQTT publish failed: %v", err))
	}
	return nil
}

// emitSimulationError emits a simulation.error event with full context and returns an error.
func (c *SimulationControl) emitSimulationError(deviceID, simulation, topic, msg string) error {
	fields := map[string]interface{}{
		"error": msg,
	}
	if deviceID != "" {
		fields["device_id"] = deviceID
	}
	if simulation != "" {
		fields["simulation"] = simulation
	}
	if topic != "" {
		fields["topic"] = topic
	}
	events.Emit("error", "simulation.error", msg, fields)
	return fmt.Errorf("%s", msg)
}
