package engine

import (
	"github.com/AaronLay10/OverlayEngine/internal/interaction"
	"github.com/AaronLay10/OverlayEngine/internal/orchestrator"
)

// Action is an action button as listed in a snapshot.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Snapshot is a point-in-time view of the session served on /state.
type Snapshot struct {
	Anchor          string               `json:"anchor,omitempty"`
	Root            string               `json:"root,omitempty"`
	DeviceID        string               `json:"device_id,omitempty"`
	Selected        string               `json:"selected,omitempty"`
	DisplayName     string               `json:"display_name,omitempty"`
	Exposure        interaction.Exposure `json:"exposure"`
	Animating       bool                 `json:"animating"`
	GesturesEnabled bool                 `json:"gestures_enabled"`
	Gesture         string               `json:"gesture"`
	Procedure       orchestrator.Status  `json:"procedure"`
	Procedures      []string             `json:"procedures,omitempty"`
	Actions         []Action             `json:"actions,omitempty"`
	Sensors         int                  `json:"sensors"`
	Polling         bool                 `json:"polling"`
	JournalEntries  int                  `json:"journal_entries"`
	CachedContexts  int                  `json:"cached_contexts"`
}

// Snapshot reports the session state. It is safe to call from any
// goroutine.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Anchor: s.anchor, Root: s.root}
	if s.recognition != nil {
		snap.DeviceID = s.recognition.DeviceID
	}
	s.mu.Unlock()

	snap.Selected = s.selector.Selected()
	if nc, ok := s.cache.Get(snap.Selected); ok {
		snap.DisplayName = nc.DisplayName
	}
	snap.Exposure = s.state.Exposure()
	snap.Animating = s.state.Animating()
	snap.GesturesEnabled = s.state.GesturesEnabled()
	snap.Gesture = s.gestures.State().String()
	snap.Procedure = s.runtime.Status()
	snap.Procedures = s.Procedures()
	if snap.DeviceID != "" {
		for _, b := range s.actions.Buttons(snap.DeviceID) {
			snap.Actions = append(snap.Actions, Action{ID: b.ID, Label: b.Label})
		}
	}
	snap.Sensors = s.overlay.Visible()
	snap.Polling = s.overlay.Running()
	snap.JournalEntries = s.journal.Len()
	snap.CachedContexts = s.cache.Len()
	return snap
}
