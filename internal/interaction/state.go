// Package interaction holds the shared flags that gate gestures and
// animation re-entry. One State is owned by the session and handed to the
// gesture machine, the sequencer and the procedure orchestrator.
package interaction

import "sync"

// Exposure is whether the model is exploded or collapsed.
type Exposure string

const (
	Collapsed Exposure = "collapsed"
	Exploded  Exposure = "exploded"
)

// State tracks animation, gesture and exposure flags.
type State struct {
	mu              sync.RWMutex
	animating       int
	gesturesEnabled bool
	exposure        Exposure
}

// NewState returns a state with gestures enabled and the model collapsed.
func NewState() *State {
	return &State{gesturesEnabled: true, exposure: Collapsed}
}

// BeginAnimating marks a batch as running.
func (s *State) BeginAnimating() {
	s.mu.Lock()
	s.animating++
	s.mu.Unlock()
}

// EndAnimating marks a batch as finished.
func (s *State) EndAnimating() {
	s.mu.Lock()
	if s.animating > 0 {
		s.animating--
	}
	s.mu.Unlock()
}

// Animating reports whether any batch is in flight.
func (s *State) Animating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.animating > 0
}

// GesturesEnabled reports the external gesture toggle.
func (s *State) GesturesEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gesturesEnabled
}

// SetGesturesEnabled flips the external gesture toggle.
func (s *State) SetGesturesEnabled(enabled bool) {
	s.mu.Lock()
	s.gesturesEnabled = enabled
	s.mu.Unlock()
}

// Exposure returns the current model exposure.
func (s *State) Exposure() Exposure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exposure
}

// SetExposure records the model exposure.
func (s *State) SetExposure(e Exposure) {
	s.mu.Lock()
	s.exposure = e
	s.mu.Unlock()
}

// Reset returns the state to its initial values.
func (s *State) Reset() {
	s.mu.Lock()
	s.animating = 0
	s.gesturesEnabled = true
	s.exposure = Collapsed
	s.mu.Unlock()
}
