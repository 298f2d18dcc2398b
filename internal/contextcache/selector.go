package contextcache

import (
	"context"
	"sync"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/model"
)

// Observer receives the context of the node that is still selected when a
// fetch resolves.
type Observer interface {
	ContextReady(name string, nc *model.NodeContext)
	ContextFailed(name string, err error)
}

// Selector tracks the selected node and applies fetched contexts only while
// their node remains selected.
type Selector struct {
	cache    *Cache
	observer Observer

	mu      sync.Mutex
	current string
}

// NewSelector creates a selector over cache reporting to obs.
func NewSelector(cache *Cache, obs Observer) *Selector {
	return &Selector{cache: cache, observer: obs}
}

// Selected returns the selected node name, empty when none.
func (s *Selector) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Select makes name current and fetches its context.
func (s *Selector) Select(ctx context.Context, name string) {
	if name == "" {
		s.Deselect()
		return
	}
	s.mu.Lock()
	s.current = name
	s.mu.Unlock()

	events.Emit("info", "node.selected", "", map[string]interface{}{"node": name})

	s.cache.Fetch(ctx, name, func(nc *model.NodeContext, err error) {
		if s.Selected() != name {
			events.Emit("info", "context.stale_dropped", "", map[string]interface{}{
				"node":   name,
				"reason": "selection_changed",
			})
			return
		}
		if s.observer == nil {
			return
		}
		if err != nil {
			events.Notify("Unable to load details for "+name, map[string]interface{}{"node": name})
			s.observer.ContextFailed(name, err)
			return
		}
		s.observer.ContextReady(name, nc)
	})
}

// Deselect clears the selection.
func (s *Selector) Deselect() {
	s.mu.Lock()
	prev := s.current
	s.current = ""
	s.mu.Unlock()
	if prev != "" {
		events.Emit("info", "node.deselected", "", map[string]interface{}{"node": prev})
	}
}
