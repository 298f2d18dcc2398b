package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/animation"
	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/join"
	"github.com/AaronLay10/OverlayEngine/internal/model"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// DefaultStepRestoreDuration is how long restoring a previous step's
// origins takes per node.
const DefaultStepRestoreDuration = 300 * time.Millisecond

// Player runs animation batches.
type Player interface {
	Play(b animation.Batch, done func()) error
	Cancel()
	ClearAttributions()
}

// Restorer returns every journaled node to its origin.
type Restorer interface {
	Restore(done func())
}

// Highlighter re-selects a step's highlight node.
type Highlighter interface {
	Highlight(node string)
}

// Simulations turns device-issue simulations off.
type Simulations interface {
	Disable(ctx context.Context, deviceID, simulation string) error
}

// Config holds the runtime's collaborators. Highlighter and Simulations
// are optional.
type Config struct {
	Renderer        scene.Renderer
	Player          Player
	Journal         Restorer
	Highlighter     Highlighter
	Simulations     Simulations
	Dispatcher      scene.Dispatcher
	RestoreDuration time.Duration
}

// Runtime drives one procedure at a time through its steps. Methods are
// meant to be called from the UI dispatcher.
type Runtime struct {
	renderer    scene.Renderer
	player      Player
	journal     Restorer
	highlighter Highlighter
	sims        Simulations
	dispatcher  scene.Dispatcher
	duration    time.Duration

	// after schedules fn on the dispatcher and returns a cancel func.
	after func(d time.Duration, fn func()) func()

	mu          sync.Mutex
	proc        *model.Procedure
	status      ProcedureState
	index       int
	gen         uint64
	busy        bool
	confirmed   bool
	timerDone   bool
	timerCancel func()
	deviceID    string
}

// NewRuntime creates a procedure runtime.
func NewRuntime(cfg Config) *Runtime {
	d := cfg.RestoreDuration
	if d <= 0 {
		d = DefaultStepRestoreDuration
	}
	r := &Runtime{
		renderer:    cfg.Renderer,
		player:      cfg.Player,
		journal:     cfg.Journal,
		highlighter: cfg.Highlighter,
		sims:        cfg.Simulations,
		dispatcher:  cfg.Dispatcher,
		duration:    d,
		status:      StateNotStarted,
		index:       -1,
	}
	r.after = func(d time.Duration, fn func()) func() {
		t := time.AfterFunc(d, func() { r.dispatcher.Post(fn) })
		return func() { t.Stop() }
	}
	return r
}

// SetDevice records the device whose simulations the procedures drive.
func (r *Runtime) SetDevice(deviceID string) {
	r.mu.Lock()
	r.deviceID = deviceID
	r.mu.Unlock()
}

// Start restores the model, restricts gestures to the procedure's
// interaction nodes and enters the first step. done runs once the first
// step has settled.
func (r *Runtime) Start(p *model.Procedure, done func()) error {
	if p == nil || len(p.Steps) == 0 {
		return ErrNoSteps
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.cancelTimerLocked()
	r.proc = p.Clone()
	r.proc.InteractionOccurred = false
	r.status = StateRunning
	r.index = -1
	r.busy = true
	r.mu.Unlock()

	r.player.Cancel()
	events.Emit("info", "procedure.started", "", map[string]interface{}{
		"procedure": p.Name,
		"steps":     len(p.Steps),
	})

	r.journal.Restore(func() {
		if !r.current(gen) {
			return
		}
		r.enter(gen, 0, false, done)
	})
	return nil
}

// Next advances to the following step. The last step completes the
// procedure.
func (r *Runtime) Next(done func()) error {
	r.mu.Lock()
	if r.status != StateRunning {
		r.mu.Unlock()
		return ErrNotRunning
	}
	if r.busy {
		r.mu.Unlock()
		return ErrStepInProgress
	}
	if !r.confirmed {
		r.mu.Unlock()
		return ErrConfirmationRequired
	}
	if !r.timerDone {
		r.mu.Unlock()
		return ErrTimerRunning
	}

	next := r.index + 1
	if next >= len(r.proc.Steps) {
		r.gen++
		r.cancelTimerLocked()
		r.status = StateCompleted
		name := r.proc.Name
		r.mu.Unlock()

		events.Emit("info", "procedure.completed", "", map[string]interface{}{
			"procedure": name,
		})
		if done != nil {
			done()
		}
		return nil
	}

	gen := r.gen
	r.busy = true
	r.mu.Unlock()

	r.enter(gen, next, true, done)
	return nil
}

// GoTo enters step i directly. Moving to the following step restores the
// current step's recorded origins; any other jump restores the whole
// model from the journal first.
func (r *Runtime) GoTo(i int, done func()) error {
	r.mu.Lock()
	if r.status != StateRunning {
		r.mu.Unlock()
		return ErrNotRunning
	}
	if i < 0 || i >= len(r.proc.Steps) {
		r.mu.Unlock()
		return ErrStepOutOfRange
	}
	adjacent := i == r.index+1 && !r.busy
	r.gen++
	gen := r.gen
	r.cancelTimerLocked()
	r.busy = true
	r.mu.Unlock()

	if adjacent {
		r.enter(gen, i, true, done)
		return nil
	}
	r.player.Cancel()
	r.journal.Restore(func() {
		if !r.current(gen) {
			return
		}
		r.enter(gen, i, false, done)
	})
	return nil
}

// Confirm acknowledges the current step's confirmation message.
func (r *Runtime) Confirm() {
	r.mu.Lock()
	if r.status != StateRunning || r.confirmed || r.index < 0 {
		r.mu.Unlock()
		return
	}
	r.confirmed = true
	name, index := r.proc.Name, r.index
	r.mu.Unlock()

	events.Emit("info", "procedure.confirmed", "", map[string]interface{}{
		"procedure": name,
		"step":      index,
	})
}

// Stop cancels the running procedure: the timer and any playing batch are
// dropped, attributions are cleared, the gesture whitelist lapses and the
// model is restored. The external gesture toggle is left alone. A
// device-issue simulation tied to the procedure is disabled in the
// background; failures there only produce a notice. done runs after the
// restore. Stop is a no-op when nothing runs.
func (r *Runtime) Stop(ctx context.Context, done func()) {
	r.mu.Lock()
	if r.status != StateRunning {
		r.mu.Unlock()
		if done != nil {
			done()
		}
		return
	}
	r.gen++
	r.cancelTimerLocked()
	r.status = StateStopped
	r.busy = false
	name, sim, device := r.proc.Name, r.proc.Simulation, r.deviceID
	r.mu.Unlock()

	r.player.Cancel()
	r.player.ClearAttributions()

	events.Emit("info", "procedure.stopped", "", map[string]interface{}{
		"procedure": name,
	})

	r.journal.Restore(done)

	if sim != "" && device != "" && r.sims != nil {
		go func() {
			if err := r.sims.Disable(ctx, device, sim); err != nil {
				events.Notify("Could not disable the device simulation", map[string]interface{}{
					"procedure":  name,
					"device_id":  device,
					"simulation": sim,
					"error":      err.Error(),
				})
			}
		}()
	}
}

// Running reports whether a procedure is active.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == StateRunning
}

// Interactive reports whether node may be dragged during the running
// procedure.
func (r *Runtime) Interactive(node string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StateRunning {
		return false
	}
	for _, n := range r.proc.InteractionNodes {
		if n == node {
			return true
		}
	}
	return false
}

// NoteInteraction records that the user moved a whitelisted node.
func (r *Runtime) NoteInteraction(node string) {
	r.mu.Lock()
	if r.status != StateRunning || r.proc.InteractionOccurred {
		r.mu.Unlock()
		return
	}
	r.proc.InteractionOccurred = true
	name := r.proc.Name
	r.mu.Unlock()

	events.Emit("info", "procedure.interaction", "", map[string]interface{}{
		"procedure": name,
		"node":      node,
	})
}

// Status returns a snapshot of the runtime.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{State: r.status, Step: r.index}
	if r.proc == nil {
		return st
	}
	st.Procedure = r.proc.Name
	st.Steps = len(r.proc.Steps)
	st.Busy = r.busy
	st.InteractionOccurred = r.proc.InteractionOccurred
	if r.status == StateRunning && r.index >= 0 {
		st.Title = r.proc.Steps[r.index].Title
		st.AwaitingConfirmation = !r.confirmed
		st.TimerRunning = !r.timerDone
	}
	return st
}

// Origins returns a copy of the origins recorded for step i.
func (r *Runtime) Origins(i int) map[string]scene.Transform {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil || i < 0 || i >= len(r.proc.Steps) {
		return nil
	}
	out := make(map[string]scene.Transform, len(r.proc.Steps[i].Origins))
	for k, v := range r.proc.Steps[i].Origins {
		out[k] = v
	}
	return out
}

func (r *Runtime) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen && r.status == StateRunning
}

func (r *Runtime) cancelTimerLocked() {
	if r.timerCancel != nil {
		r.timerCancel()
		r.timerCancel = nil
	}
}

// enter makes step i current. With restorePrev the previous step's
// recorded origins are animated back first.
func (r *Runtime) enter(gen uint64, i int, restorePrev bool, done func()) {
	r.mu.Lock()
	if r.gen != gen || r.status != StateRunning {
		r.mu.Unlock()
		return
	}
	step := r.proc.Steps[i]
	var origins map[string]scene.Transform
	var opacities map[string]float64
	if restorePrev && i > 0 {
		prev := r.proc.Steps[i-1]
		origins, opacities = prev.Origins, prev.Opacities
	}
	r.index = i
	r.confirmed = step.Confirmation == ""
	r.timerDone = step.TimerValue() == 0
	r.cancelTimerLocked()
	name := r.proc.Name
	r.mu.Unlock()

	events.Emit("info", "procedure.step", "", map[string]interface{}{
		"procedure": name,
		"step":      i,
		"title":     step.Title,
	})
	if step.Confirmation != "" {
		events.Emit("info", "procedure.confirmation_required", step.Confirmation, map[string]interface{}{
			"procedure": name,
			"step":      i,
		})
	}
	if step.HighlightNode != "" && r.highlighter != nil {
		r.highlighter.Highlight(step.HighlightNode)
	}
	if d := step.TimerValue(); d > 0 {
		r.startTimer(gen, i, d)
	}

	r.restoreOrigins(origins, opacities, func() {
		if !r.current(gen) {
			return
		}
		r.play(gen, i, done)
	})
}

func (r *Runtime) startTimer(gen uint64, i int, d time.Duration) {
	cancel := r.after(d, func() {
		r.mu.Lock()
		if r.gen != gen || r.index != i || r.status != StateRunning {
			r.mu.Unlock()
			return
		}
		r.timerDone = true
		r.timerCancel = nil
		name := r.proc.Name
		r.mu.Unlock()

		events.Emit("info", "procedure.timer_expired", "", map[string]interface{}{
			"procedure": name,
			"step":      i,
		})
	})

	r.mu.Lock()
	if r.gen == gen && r.index == i && !r.timerDone {
		r.timerCancel = cancel
	} else {
		cancel()
	}
	r.mu.Unlock()

	events.Emit("info", "procedure.timer_started", "", map[string]interface{}{
		"step":    i,
		"seconds": d.Seconds(),
	})
}

// restoreOrigins animates every recorded node back to its origin and
// opacity, then calls done once all have finished.
func (r *Runtime) restoreOrigins(origins map[string]scene.Transform, opacities map[string]float64, done func()) {
	type target struct {
		node    scene.Node
		origin  scene.Transform
		opacity float64
	}
	var targets []target
	for name, origin := range origins {
		n, ok := r.renderer.Lookup(name)
		if !ok {
			continue
		}
		op, ok := opacities[name]
		if !ok {
			op = 1
		}
		targets = append(targets, target{node: n, origin: origin, opacity: op})
	}

	fin := join.New(len(targets), done)
	for _, t := range targets {
		r.renderer.Run(t.node, scene.Primitive{
			Kind:     scene.MoveTo,
			Target:   t.origin,
			Opacity:  t.opacity,
			Duration: r.duration,
		}, fin.Done)
	}
}

func (r *Runtime) play(gen uint64, i int, done func()) {
	r.mu.Lock()
	groups := r.proc.Steps[i].Animations
	r.mu.Unlock()

	settle := func() {
		if !r.current(gen) {
			return
		}
		r.snapshot(i)
		r.mu.Lock()
		if r.gen == gen {
			r.busy = false
		}
		r.mu.Unlock()
		if done != nil {
			done()
		}
	}

	if len(groups) == 0 {
		settle()
		return
	}

	if err := r.player.Play(animation.Groups(groups), settle); err != nil {
		events.Notify("This step's animation could not be played", map[string]interface{}{
			"step":  i,
			"error": err.Error(),
		})
		r.journal.Restore(settle)
	}
}

// snapshot records the current transform and opacity of every node the
// step's animations touched.
func (r *Runtime) snapshot(i int) {
	r.mu.Lock()
	step := &r.proc.Steps[i]
	names := step.TouchedNodes()
	r.mu.Unlock()

	origins := make(map[string]scene.Transform, len(names))
	opacities := make(map[string]float64, len(names))
	for _, name := range names {
		n, ok := r.renderer.Lookup(name)
		if !ok {
			continue
		}
		origins[name] = n.Transform()
		opacities[name] = n.Opacity()
	}

	r.mu.Lock()
	step.Origins = origins
	step.Opacities = opacities
	r.mu.Unlock()
}
