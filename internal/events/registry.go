package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// anchor / session
	"anchor.found":  {},
	"anchor.failed": {},
	"scene.reset":   {},

	// selection and context
	"node.selected":         {},
	"node.deselected":       {},
	"context.fetched":       {},
	"context.fetch_failed":  {},
	"context.stale_dropped": {},
	"actions.loaded":        {},
	"action.pressed":        {},

	// journal
	"journal.captured": {},
	"journal.restored": {},

	// animation
	"animation.started":    {},
	"animation.completed":  {},
	"animation.rejected":   {},
	"animation.cancelled":  {},
	"attribution.attached": {},
	"attribution.removed":  {},

	// model
	"model.exploded":  {},
	"model.collapsed": {},

	// procedure
	"procedure.started":               {},
	"procedure.step":                  {},
	"procedure.confirmation_required": {},
	"procedure.confirmed":             {},
	"procedure.timer_started":         {},
	"procedure.timer_expired":         {},
	"procedure.completed":             {},
	"procedure.stopped":               {},
	"procedure.interaction":           {},

	// simulation
	"simulation.disabled": {},
	"simulation.error":    {},

	// gestures
	"gesture.ignored": {},
	"gesture.select":  {},
	"gesture.drag":    {},
	"gesture.scale":   {},
	"gesture.rotate":  {},
	"gesture.toggled": {},

	// sensors
	"sensor.shown":           {},
	"sensor.hidden":          {},
	"sensor.alert":           {},
	"sensor.cleared":         {},
	"sensor.tap":             {},
	"telemetry.poll_skipped": {},
	"telemetry.error":        {},

	// device
	"device.connected":    {},
	"device.disconnected": {},
	"device.error":        {},

	// notices
	"notice.shown": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
