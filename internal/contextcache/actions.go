package contextcache

import (
	"context"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/model"
)

// ActionSource fetches the AR action mapping of a device.
type ActionSource interface {
	ActionMapping(ctx context.Context, deviceID string) ([]model.ActionButton, error)
}

// Registry holds the action buttons offered for each recognized device.
type Registry struct {
	source  ActionSource
	breaker *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	buttons map[string][]model.ActionButton
}

// NewRegistry creates an empty action-button registry.
func NewRegistry(src ActionSource) *Registry {
	return &Registry{
		source:  src,
		breaker: newBreaker("action-mapping"),
		buttons: make(map[string][]model.ActionButton),
	}
}

// Load fetches and stores the buttons for deviceID. On failure the
// registry is unchanged.
func (r *Registry) Load(ctx context.Context, deviceID string) error {
	v, err := r.breaker.Execute(func() (interface{}, error) {
		return r.source.ActionMapping(ctx, deviceID)
	})
	if err != nil {
		return &FetchError{Name: deviceID, Err: err}
	}
	buttons, _ := v.([]model.ActionButton)

	r.mu.Lock()
	r.buttons[deviceID] = buttons
	r.mu.Unlock()

	events.Emit("info", "actions.loaded", "", map[string]interface{}{
		"device_id": deviceID,
		"buttons":   len(buttons),
	})
	return nil
}

// Buttons returns a copy of the buttons for deviceID.
func (r *Registry) Buttons(deviceID string) []model.ActionButton {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.ActionButton(nil), r.buttons[deviceID]...)
}

// Button looks up one button by id.
func (r *Registry) Button(deviceID, id string) (model.ActionButton, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.buttons[deviceID] {
		if b.ID == id {
			return b, true
		}
	}
	return model.ActionButton{}, false
}

// Clear drops every loaded mapping.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.buttons = make(map[string][]model.ActionButton)
	r.mu.Unlock()
}
