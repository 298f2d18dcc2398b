package orchestrator

import (
	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/model"
)

// Checkpoint is the procedure progress reconstructed from the event
// history. It lets a technician pick a stopped procedure up again.
type Checkpoint struct {
	Procedure string
	Step      int
	Stopped   bool
}

// CheckpointFromEvents replays evts in chronological order and returns
// the last procedure that was started and not completed, or nil.
func CheckpointFromEvents(evts []events.Event) *Checkpoint {
	var cp *Checkpoint

	for _, e := range evts {
		switch e.Name {
		case "procedure.started":
			if name, ok := e.Fields["procedure"].(string); ok {
				cp = &Checkpoint{Procedure: name}
			}

		case "procedure.step":
			if cp == nil {
				continue
			}
			if name, ok := e.Fields["procedure"].(string); !ok || name != cp.Procedure {
				continue
			}
			if step, ok := intField(e.Fields["step"]); ok {
				cp.Step = step
			}

		case "procedure.stopped":
			if cp != nil {
				cp.Stopped = true
			}

		case "procedure.completed":
			cp = nil
		}
	}

	return cp
}

// intField accepts the numeric shapes a field takes before and after a
// JSON round trip.
func intField(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Resume starts p and jumps to the checkpointed step. It does not re-emit
// anything for skipped steps beyond the usual step events.
func (r *Runtime) Resume(p *model.Procedure, cp *Checkpoint, done func()) error {
	if cp == nil || p == nil || cp.Procedure != p.Name || cp.Step <= 0 {
		return r.Start(p, done)
	}
	if cp.Step >= len(p.Steps) {
		return ErrStepOutOfRange
	}
	return r.Start(p, func() {
		if err := r.GoTo(cp.Step, done); err != nil && done != nil {
			done()
		}
	})
}
