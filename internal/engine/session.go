// Package engine ties the journal, context cache, gesture machine,
// sequencer, procedure runtime and telemetry overlay into one anchor
// session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/animation"
	"github.com/AaronLay10/OverlayEngine/internal/contextcache"
	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/gesture"
	"github.com/AaronLay10/OverlayEngine/internal/interaction"
	"github.com/AaronLay10/OverlayEngine/internal/journal"
	"github.com/AaronLay10/OverlayEngine/internal/model"
	"github.com/AaronLay10/OverlayEngine/internal/orchestrator"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
	"github.com/AaronLay10/OverlayEngine/internal/telemetry"
)

var (
	ErrNoAnchor         = errors.New("engine: no anchor recognized")
	ErrUnknownAction    = errors.New("engine: unknown action")
	ErrUnknownProcedure = errors.New("engine: unknown procedure")
	ErrNoCheckpoint     = errors.New("engine: nothing to resume")
)

const highlightDuration = 600 * time.Millisecond

// Broker is the data broker the session reads from.
type Broker interface {
	contextcache.NodeSource
	contextcache.ActionSource
	RecognitionContext(ctx context.Context, name string) (*model.RecognitionContext, error)
}

// Simulations toggles device-issue simulations.
type Simulations interface {
	Enable(ctx context.Context, deviceID, simulation string) error
	Disable(ctx context.Context, deviceID, simulation string) error
}

// Config holds the session's collaborators and tunables. History,
// Presenter, Simulations, Hits, Blocker and Library may be nil.
type Config struct {
	Renderer    scene.Renderer
	Dispatcher  scene.Dispatcher
	Broker      Broker
	Telemetry   telemetry.Source
	History     telemetry.History
	Presenter   telemetry.Presenter
	Simulations Simulations
	Hits        gesture.HitTester
	Blocker     gesture.OverlayBlocker
	Library     *orchestrator.ProcedureSet

	PollInterval    time.Duration
	RestoreDuration time.Duration
	LongPress       time.Duration
}

// Session is one anchor session: everything recognized, selected and
// animated between an anchor-found event and the next reset.
type Session struct {
	cfg Config

	state    *interaction.State
	journal  *journal.Journal
	cache    *contextcache.Cache
	selector *contextcache.Selector
	actions  *contextcache.Registry
	seq      *animation.Sequencer
	runtime  *orchestrator.Runtime
	overlay  *telemetry.Overlay
	gestures *gesture.Machine

	mu          sync.Mutex
	ctx         context.Context
	anchor      string
	root        string
	recognition *model.RecognitionContext
	shown       string
}

// New builds a session and all of its components.
func New(cfg Config) *Session {
	s := &Session{
		cfg:     cfg,
		state:   interaction.NewState(),
		journal: journal.New(cfg.Renderer),
		ctx:     context.Background(),
	}
	if cfg.RestoreDuration > 0 {
		s.journal.SetRestoreDuration(cfg.RestoreDuration)
	}

	s.cache = contextcache.New(cfg.Broker, cfg.Dispatcher)
	s.selector = contextcache.NewSelector(s.cache, s)
	s.actions = contextcache.NewRegistry(cfg.Broker)
	s.seq = animation.NewSequencer(cfg.Renderer, s.journal, s.state, cfg.Dispatcher)

	s.runtime = orchestrator.NewRuntime(orchestrator.Config{
		Renderer:        cfg.Renderer,
		Player:          s.seq,
		Journal:         s.journal,
		Highlighter:     s,
		Simulations:     cfg.Simulations,
		Dispatcher:      cfg.Dispatcher,
		RestoreDuration: cfg.RestoreDuration,
	})

	s.overlay = telemetry.New(telemetry.Config{
		Renderer:   cfg.Renderer,
		Dispatcher: cfg.Dispatcher,
		Sensors:    s.cache,
		Source:     cfg.Telemetry,
		History:    cfg.History,
		Presenter:  cfg.Presenter,
		Interval:   cfg.PollInterval,
	})

	s.gestures = gesture.New(gesture.Config{
		Renderer:  cfg.Renderer,
		State:     s.state,
		Hits:      cfg.Hits,
		Blocker:   cfg.Blocker,
		Selector:  gestureSelector{s},
		Procs:     s.runtime,
		Journal:   s.journal,
		Exploder:  s,
		Tapper:    s.overlay,
		LongPress: cfg.LongPress,
	})
	return s
}

// Start sets the context background work such as telemetry polling runs
// under.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

// Close stops telemetry polling.
func (s *Session) Close() {
	s.overlay.Stop()
}

func (s *Session) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Gestures returns the gesture machine the host feeds touch input into.
func (s *Session) Gestures() *gesture.Machine { return s.gestures }

// State returns the shared interaction flags.
func (s *Session) State() *interaction.State { return s.state }

// Overlay returns the telemetry overlay.
func (s *Session) Overlay() *telemetry.Overlay { return s.overlay }

// Runtime returns the procedure runtime.
func (s *Session) Runtime() *orchestrator.Runtime { return s.runtime }

// Call runs fn on the UI dispatcher and waits for its result. It must not
// be called from the dispatcher itself.
func (s *Session) Call(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	s.cfg.Dispatcher.Post(func() { errCh <- fn() })
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AnchorFound handles an anchor-found event from the tracker. The
// recognition context and action buttons are fetched on the caller's
// goroutine; the scene work is posted to the UI dispatcher. A failed
// recognition fetch leaves the session unchanged.
func (s *Session) AnchorFound(ctx context.Context, name string, root scene.Node) error {
	if root == nil {
		return fmt.Errorf("anchor %s: no root node", name)
	}

	rc, err := s.cfg.Broker.RecognitionContext(ctx, name)
	if err == nil && rc == nil {
		err = errors.New("broker returned no recognition context")
	}
	if err != nil {
		err = &contextcache.FetchError{Name: name, Err: err}
		events.Emit("error", "anchor.failed", "recognition context fetch failed", map[string]interface{}{
			"anchor": name,
			"error":  err.Error(),
		})
		events.Notify("Unable to load data for "+name, map[string]interface{}{"anchor": name})
		return err
	}

	if rc.DeviceID != "" {
		if err := s.actions.Load(ctx, rc.DeviceID); err != nil {
			events.Notify("Unable to load device actions", map[string]interface{}{
				"device_id": rc.DeviceID,
				"error":     err.Error(),
			})
		}
	}

	s.cfg.Dispatcher.Post(func() {
		s.applyAnchor(name, root, rc)
	})
	return nil
}

func (s *Session) applyAnchor(name string, root scene.Node, rc *model.RecognitionContext) {
	rootName := root.Name()

	s.mu.Lock()
	s.anchor = name
	s.root = rootName
	s.recognition = rc
	ctx := s.ctx
	s.mu.Unlock()

	s.journal.Capture(root, name)
	s.cache.SeedSensors(rootName, rc.Sensors)
	s.overlay.SetDevice(rc.DeviceID)
	s.runtime.SetDevice(rc.DeviceID)
	s.gestures.SetRoot(rootName)

	events.Emit("info", "anchor.found", "", map[string]interface{}{
		"anchor":    name,
		"root":      rootName,
		"device_id": rc.DeviceID,
		"sensors":   len(rc.Sensors),
	})

	if rc.DeviceID != "" {
		s.overlay.Start(ctx)
	}
	s.Select(ctx, rootName)
}

// Select makes name the selected node and fetches its context. Sensors
// of the previously selected node are hidden unless it is the root.
func (s *Session) Select(ctx context.Context, name string) {
	s.hideShownExcept(name)
	s.selector.Select(ctx, name)
}

// Deselect clears the selection.
func (s *Session) Deselect() {
	s.hideShownExcept("")
	s.selector.Deselect()
}

func (s *Session) hideShownExcept(name string) {
	s.mu.Lock()
	prev := s.shown
	if prev == "" || prev == name || prev == s.root {
		s.mu.Unlock()
		return
	}
	s.shown = ""
	s.mu.Unlock()

	if n, ok := s.cfg.Renderer.Lookup(prev); ok {
		s.overlay.Hide(n)
	}
}

// ContextReady shows the selected node's sensors.
func (s *Session) ContextReady(name string, nc *model.NodeContext) {
	s.showSensors(name)
}

// ContextFailed still shows sensors seeded without a fetch, such as the
// recognition root's.
func (s *Session) ContextFailed(name string, err error) {
	s.showSensors(name)
}

func (s *Session) showSensors(name string) {
	if _, ok := s.cache.Sensors(name); !ok {
		return
	}
	n, ok := s.cfg.Renderer.Lookup(name)
	if !ok {
		return
	}
	s.mu.Lock()
	if name != s.root {
		s.shown = name
	}
	s.mu.Unlock()
	s.overlay.Show(n)
}

// Highlight pulses node and re-selects it. Procedure steps call it on
// entry.
func (s *Session) Highlight(node string) {
	if n, ok := s.cfg.Renderer.Lookup(node); ok {
		s.cfg.Renderer.Run(n, scene.Primitive{Kind: scene.Highlight, Duration: highlightDuration}, nil)
	}
	s.Select(s.baseContext(), node)
}

// Explode plays the recognition context's action animations.
func (s *Session) Explode(done func()) error {
	s.mu.Lock()
	rc := s.recognition
	s.mu.Unlock()
	if rc == nil {
		return ErrNoAnchor
	}
	return s.seq.PlaySequence(rc.ActionAnimations, done)
}

// SetGesturesEnabled flips the external gesture toggle.
func (s *Session) SetGesturesEnabled(enabled bool) {
	s.state.SetGesturesEnabled(enabled)
	if !enabled {
		s.gestures.Reset()
		s.gestures.SetRoot(s.Root())
	}
}

// Root returns the recognition root node name.
func (s *Session) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

func (s *Session) deviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recognition == nil {
		return ""
	}
	return s.recognition.DeviceID
}

// PressAction runs the action button id of the recognized device: its
// animations play in order and its simulation, if any, is enabled in the
// background. An animation failure restores the model.
func (s *Session) PressAction(ctx context.Context, id string) error {
	device := s.deviceID()
	if device == "" {
		return ErrNoAnchor
	}
	b, ok := s.actions.Button(device, id)
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownAction)
	}

	events.Emit("info", "action.pressed", "", map[string]interface{}{
		"device_id":  device,
		"action":     b.ID,
		"simulation": b.Simulation,
	})

	if len(b.Animations) > 0 {
		if err := s.seq.PlaySequence(b.Animations, nil); err != nil {
			events.Notify("Unable to run "+b.Label, map[string]interface{}{"action": b.ID, "error": err.Error()})
			s.journal.Restore(nil)
			return err
		}
	}

	if b.Simulation != "" && s.cfg.Simulations != nil {
		base := s.baseContext()
		go func() {
			if err := s.cfg.Simulations.Enable(base, device, b.Simulation); err != nil {
				events.Notify("Could not start the device simulation", map[string]interface{}{
					"action":     b.ID,
					"device_id":  device,
					"simulation": b.Simulation,
					"error":      err.Error(),
				})
			}
		}()
	}
	return nil
}

// Procedures lists the procedures offered for the current selection,
// followed by the library's.
func (s *Session) Procedures() []string {
	var names []string
	seen := make(map[string]bool)
	if nc, ok := s.cache.Get(s.selector.Selected()); ok {
		for _, p := range nc.Procedures {
			if !seen[p.Name] {
				seen[p.Name] = true
				names = append(names, p.Name)
			}
		}
	}
	if s.cfg.Library != nil {
		for _, n := range s.cfg.Library.Names() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

func (s *Session) findProcedure(name string) (*model.Procedure, error) {
	if nc, ok := s.cache.Get(s.selector.Selected()); ok {
		for i := range nc.Procedures {
			if nc.Procedures[i].Name == name {
				return &nc.Procedures[i], nil
			}
		}
	}
	if s.cfg.Library != nil {
		if p, ok := s.cfg.Library.Find(name); ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrUnknownProcedure)
}

// StartProcedure starts the named procedure of the selected node or the
// library.
func (s *Session) StartProcedure(name string, done func()) error {
	p, err := s.findProcedure(name)
	if err != nil {
		return err
	}
	return s.runtime.Start(p, done)
}

// ResumeProcedure restarts the last procedure left unfinished in the
// event history at the step it reached.
func (s *Session) ResumeProcedure(done func()) error {
	cp := orchestrator.CheckpointFromEvents(events.Snapshot())
	if cp == nil {
		return ErrNoCheckpoint
	}
	p, err := s.findProcedure(cp.Procedure)
	if err != nil {
		return err
	}
	return s.runtime.Resume(p, cp, done)
}

// NextStep advances the running procedure.
func (s *Session) NextStep(done func()) error {
	return s.runtime.Next(done)
}

// ConfirmStep acknowledges the current step's confirmation.
func (s *Session) ConfirmStep() {
	s.runtime.Confirm()
}

// StopProcedure stops the running procedure.
func (s *Session) StopProcedure(ctx context.Context, done func()) {
	s.runtime.Stop(ctx, done)
}

// Reset ends the anchor session: telemetry stops, a running procedure is
// stopped, and the journal, cache, attributions and action buttons are
// cleared.
func (s *Session) Reset(ctx context.Context) {
	s.overlay.Reset()
	s.seq.Cancel()
	s.runtime.Stop(ctx, nil)
	s.runtime.SetDevice("")
	s.seq.ClearAttributions()
	s.selector.Deselect()
	s.cache.Clear()
	s.actions.Clear()
	s.journal.Clear()
	s.gestures.Reset()
	s.state.Reset()

	s.mu.Lock()
	anchor := s.anchor
	s.anchor = ""
	s.root = ""
	s.recognition = nil
	s.shown = ""
	s.mu.Unlock()

	events.Emit("info", "scene.reset", "", map[string]interface{}{"anchor": anchor})
}

type gestureSelector struct {
	s *Session
}

func (g gestureSelector) Select(name string) { g.s.Select(g.s.baseContext(), name) }
func (g gestureSelector) Deselect()          { g.s.Deselect() }
func (g gestureSelector) Selected() string   { return g.s.selector.Selected() }
