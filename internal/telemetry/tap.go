package telemetry

import (
	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/model"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// TapOverlay dispatches a tap on a sensor surface by the sensor's action
// kind. It returns false for nodes that are not sensor surfaces.
func (o *Overlay) TapOverlay(n scene.Node) bool {
	sensor, ok := SensorName(n.Name())
	if !ok {
		return false
	}
	var parent string
	if p := n.Parent(); p != nil {
		parent = p.Name()
	}

	o.mu.Lock()
	s, ok := o.surfaces[parent][sensor]
	var desc model.SensorDescriptor
	if ok {
		desc = s.desc
	}
	device := o.deviceID
	ctx := o.baseCtx
	o.mu.Unlock()
	if !ok {
		return false
	}

	events.Emit("info", "sensor.tap", "", map[string]interface{}{
		"node":   parent,
		"sensor": sensor,
		"action": string(desc.Action.Kind),
	})

	switch desc.Action.Kind {
	case model.ActionChart:
		if o.cfg.History == nil || o.cfg.Presenter == nil {
			return true
		}
		go func() {
			history, err := o.cfg.History.HistoricalTelemetry(ctx, device, HistoryLimit)
			if err != nil {
				o.cfg.Notifier.Notify("Unable to load history for "+sensor, map[string]interface{}{
					"sensor": sensor,
					"error":  err.Error(),
				})
				return
			}
			o.cfg.Dispatcher.Post(func() {
				o.cfg.Presenter.OpenChart(sensor, history)
			})
		}()
	case model.ActionURL:
		if o.cfg.Presenter != nil && desc.Action.URL != "" {
			o.cfg.Presenter.OpenURL(desc.Action.URL)
		}
	case model.ActionAudio:
		if m, ok := n.(scene.Media); ok {
			m.SetMuted(!m.Muted())
		}
	}
	return true
}
