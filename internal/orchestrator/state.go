package orchestrator

import "errors"

// ProcedureState represents the lifecycle state of a procedure run.
type ProcedureState string

const (
	StateNotStarted ProcedureState = "not_started"
	StateRunning    ProcedureState = "running"
	StateCompleted  ProcedureState = "completed"
	StateStopped    ProcedureState = "stopped"
)

var (
	ErrNoSteps              = errors.New("orchestrator: procedure has no steps")
	ErrNotRunning           = errors.New("orchestrator: no procedure running")
	ErrConfirmationRequired = errors.New("orchestrator: step requires confirmation")
	ErrTimerRunning         = errors.New("orchestrator: step timer still running")
	ErrStepInProgress       = errors.New("orchestrator: step still animating")
	ErrStepOutOfRange       = errors.New("orchestrator: step index out of range")
)

// Status is a point-in-time view of the runtime.
type Status struct {
	Procedure            string         `json:"procedure,omitempty"`
	State                ProcedureState `json:"state"`
	Step                 int            `json:"step"`
	Steps                int            `json:"steps"`
	Title                string         `json:"title,omitempty"`
	AwaitingConfirmation bool           `json:"awaiting_confirmation,omitempty"`
	TimerRunning         bool           `json:"timer_running,omitempty"`
	Busy                 bool           `json:"busy,omitempty"`
	InteractionOccurred  bool           `json:"interaction_occurred,omitempty"`
}
