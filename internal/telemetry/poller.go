package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/model"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// ErrPollInFlight is returned when a poll is skipped because the previous
// one has not been applied yet.
var ErrPollInFlight = errors.New("telemetry: poll already in flight")

// ErrNoDevice is returned when no device is set.
var ErrNoDevice = errors.New("telemetry: no device")

// Start begins the recurring poll. Calling Start twice is a no-op.
func (o *Overlay) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.baseCtx = ctx
	stopCh := o.stopCh
	o.mu.Unlock()

	o.wg.Add(1)
	go o.pollLoop(ctx, stopCh)
}

// Stop ends the recurring poll. Results of a poll still in flight are
// discarded.
func (o *Overlay) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		o.pollGen.Add(1)
		return
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.pollGen.Add(1)
	o.wg.Wait()
}

// Running reports whether the poll loop is active.
func (o *Overlay) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Overlay) pollLoop(ctx context.Context, stopCh chan struct{}) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Poll(ctx); err != nil && !errors.Is(err, ErrPollInFlight) && !errors.Is(err, ErrNoDevice) {
				events.Emit("warning", "telemetry.error", "telemetry poll failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Poll fetches the latest message and applies it on the dispatcher.
// Overlapping polls are skipped with ErrPollInFlight; the guard is released
// once the result has been applied.
func (o *Overlay) Poll(ctx context.Context) error {
	if !o.inflight.CompareAndSwap(false, true) {
		events.Emit("debug", "telemetry.poll_skipped", "", nil)
		return ErrPollInFlight
	}

	device := o.Device()
	if device == "" {
		o.inflight.Store(false)
		return ErrNoDevice
	}

	gen := o.pollGen.Load()
	msg, err := o.cfg.Source.Latest(ctx, device)
	if err != nil {
		o.inflight.Store(false)
		return err
	}
	if msg == nil {
		o.inflight.Store(false)
		return nil
	}

	o.cfg.Dispatcher.Post(func() {
		defer o.inflight.Store(false)
		if o.pollGen.Load() != gen {
			return
		}
		o.apply(msg)
	})
	return nil
}

// apply updates every visible surface whose sensor appears in msg.
func (o *Overlay) apply(msg *model.SensorMessage) {
	type update struct {
		node     string
		surf     *surface
		value    float64
		entering bool
		leaving  bool
	}

	o.mu.Lock()
	var updates []update
	for node, m := range o.surfaces {
		for name, s := range m {
			v, ok := msg.Values[name]
			if !ok {
				continue
			}
			in := s.desc.Limits.Contains(v)
			u := update{node: node, surf: s, value: v}
			if !in && !s.alert {
				u.entering = true
			}
			if in && s.alert {
				u.leaving = true
			}
			s.alert = !in
			updates = append(updates, u)
		}
	}
	o.mu.Unlock()

	for _, u := range updates {
		d := u.surf.desc
		sf, ok := u.surf.node.(scene.Surface)
		if !ok {
			continue
		}
		sf.SetText(formatValue(d, u.value))

		if u.surf.alert {
			c := d.Label.AlertColor
			if c == "" {
				c = AlertColor
			}
			sf.SetBackground(c)
		} else {
			c := d.Label.Color
			if c == "" {
				c = NeutralColor
			}
			sf.SetBackground(c)
		}

		fields := map[string]interface{}{
			"node":   u.node,
			"sensor": d.Name,
			"value":  u.value,
			"min":    d.Limits.Min,
			"max":    d.Limits.Max,
		}
		if u.entering {
			events.Emit("warning", "sensor.alert", "", fields)
			o.cfg.Notifier.Notify(d.Name+" is outside its operating limits", fields)
		}
		if u.leaving {
			events.Emit("info", "sensor.cleared", "", fields)
		}
	}
}
