// Package gesture turns raw multi-touch input into selection, drag, scale,
// rotate and model-wide actions on the live scene.
package gesture

import (
	"sync"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/interaction"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// State is the machine's current mode.
type State int

const (
	Idle State = iota
	Selecting
	Dragging
	Scaling
	Rotating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Dragging:
		return "dragging"
	case Scaling:
		return "scaling"
	case Rotating:
		return "rotating"
	default:
		return "unknown"
	}
}

// Phase is the lifecycle stage of a continuous gesture.
type Phase int

const (
	Began Phase = iota
	Changed
	Ended
	Cancelled
)

// HitTester resolves a screen point to the nearest scene node.
type HitTester interface {
	HitTest(p scene.Point) (scene.Node, bool)
}

// OverlayBlocker reports whether a 2D view covers the point.
type OverlayBlocker interface {
	Blocks(p scene.Point) bool
}

// Selector receives node selection changes.
type Selector interface {
	Select(name string)
	Deselect()
	Selected() string
}

// Procedures exposes the running procedure, if any.
type Procedures interface {
	Running() bool
	Interactive(node string) bool
	NoteInteraction(node string)
}

// Restorer returns the model to its journaled origins.
type Restorer interface {
	Restore(done func())
}

// Exploder plays the recognition context's action animations.
type Exploder interface {
	Explode(done func()) error
}

// OverlayTapper handles taps on engine overlays such as sensor surfaces.
// It returns false when the node is not one of its own.
type OverlayTapper interface {
	TapOverlay(n scene.Node) bool
}

// Config holds the machine's collaborators. Nil Procedures means no
// procedure ever runs; nil Tapper ignores overlay taps.
type Config struct {
	Renderer  scene.Renderer
	State     *interaction.State
	Hits      HitTester
	Blocker   OverlayBlocker
	Selector  Selector
	Procs     Procedures
	Journal   Restorer
	Exploder  Exploder
	Tapper    OverlayTapper
	LongPress time.Duration
}

// Machine is the gesture disambiguation state machine. All methods must
// be called from the UI dispatcher.
type Machine struct {
	cfg     Config
	arbiter *Arbiter

	mu     sync.Mutex
	state  State
	root   string
	armed  string
	target scene.Node
	base   scene.Transform
}

// New creates a machine in Idle.
func New(cfg Config) *Machine {
	if cfg.LongPress <= 0 {
		cfg.LongPress = DefaultLongPress
	}
	return &Machine{cfg: cfg, arbiter: NewArbiter()}
}

// SetRoot sets the recognition root used for empty-space taps, pinch and
// rotate fallback. An empty name clears it.
func (m *Machine) SetRoot(name string) {
	m.mu.Lock()
	m.root = name
	m.mu.Unlock()
}

// Root returns the recognition root name.
func (m *Machine) Root() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// State returns the current mode.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset drops any gesture in progress and the recognition root.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.state = Idle
	m.root = ""
	m.armed = ""
	m.target = nil
	m.mu.Unlock()
}

func (m *Machine) enabled(kind string) bool {
	if m.cfg.State.GesturesEnabled() {
		return true
	}
	ignored(kind, "disabled")
	return false
}

func ignored(kind, reason string) {
	events.Emit("debug", "gesture.ignored", "", map[string]interface{}{
		"gesture": kind,
		"reason":  reason,
	})
}

// Touch resolves one discrete touch through the tap precedence chain and
// runs the winning recognizer's action. It returns the recognizer that
// fired.
func (m *Machine) Touch(t Touch) Recognizer {
	if !m.enabled("touch") {
		return None
	}
	r := m.arbiter.Resolve(t.Matched(m.cfg.LongPress)...)
	switch r {
	case SingleTap:
		m.tap(t.Point)
	case LongPress:
		m.arm(t.Point)
	case DoubleTap:
		m.reselectRoot()
	case TripleTap:
		m.toggle()
	}
	return r
}

func (m *Machine) tap(p scene.Point) {
	if m.cfg.Blocker != nil && m.cfg.Blocker.Blocks(p) {
		ignored(SingleTap.String(), "overlay_view")
		return
	}

	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		ignored(SingleTap.String(), "busy")
		return
	}
	m.state = Selecting
	root := m.root
	m.mu.Unlock()
	defer m.setState(Idle)

	var hit scene.Node
	if m.cfg.Hits != nil {
		if n, ok := m.cfg.Hits.HitTest(p); ok {
			hit = n
		}
	}

	if hit != nil && hit.Overlay() {
		if m.cfg.Tapper != nil && m.cfg.Tapper.TapOverlay(hit) {
			return
		}
		hit = nil
	}

	switch {
	case hit != nil:
		m.choose(hit.Name())
	case root != "":
		m.choose(root)
	default:
		m.cfg.Selector.Deselect()
	}
}

func (m *Machine) choose(name string) {
	events.Emit("info", "gesture.select", "", map[string]interface{}{"node": name})
	m.cfg.Selector.Select(name)
}

// arm records the node under a long press as the drag candidate.
func (m *Machine) arm(p scene.Point) {
	if m.cfg.Blocker != nil && m.cfg.Blocker.Blocks(p) {
		ignored(LongPress.String(), "overlay_view")
		return
	}
	var name string
	if m.cfg.Hits != nil {
		if n, ok := m.cfg.Hits.HitTest(p); ok && !n.Overlay() {
			name = n.Name()
		}
	}
	m.mu.Lock()
	m.armed = name
	m.mu.Unlock()
}

// Pan drags the node armed by the preceding long press by delta in scene
// units. While a procedure runs only its interaction nodes can be dragged.
func (m *Machine) Pan(phase Phase, delta scene.Vec3) {
	if phase == Began && !m.enabled("pan") {
		return
	}

	switch phase {
	case Began:
		m.mu.Lock()
		if m.state != Idle {
			m.mu.Unlock()
			ignored("pan", "exclusive")
			return
		}
		name := m.armed
		m.armed = ""
		m.mu.Unlock()

		if name == "" {
			ignored("pan", "not_armed")
			return
		}
		if procs := m.cfg.Procs; procs != nil && procs.Running() && !procs.Interactive(name) {
			ignored("pan", "not_interactive")
			return
		}
		n, ok := m.cfg.Renderer.Lookup(name)
		if !ok {
			ignored("pan", "missing_node")
			return
		}
		m.begin(Dragging, n)
	case Changed:
		n := m.active(Dragging)
		if n == nil {
			return
		}
		t := n.Transform()
		t.Position = t.Position.Add(delta)
		n.SetTransform(t)
	case Ended, Cancelled:
		n := m.active(Dragging)
		if n == nil {
			return
		}
		m.end()
		events.Emit("info", "gesture.drag", "", map[string]interface{}{"node": n.Name()})
		if procs := m.cfg.Procs; procs != nil && procs.Running() {
			procs.NoteInteraction(n.Name())
		}
	}
}

// Pinch scales the selected node, or the root, by factor relative to its
// scale when the pinch began.
func (m *Machine) Pinch(phase Phase, factor float64) {
	switch phase {
	case Began:
		if !m.enabled("pinch") {
			return
		}
		n := m.subject("pinch")
		if n == nil {
			return
		}
		if !m.begin(Scaling, n) {
			ignored("pinch", "exclusive")
		}
	case Changed:
		n := m.active(Scaling)
		if n == nil || factor <= 0 {
			return
		}
		t := n.Transform()
		t.Scale = m.baseTransform().Scale.Scale(factor)
		n.SetTransform(t)
	case Ended, Cancelled:
		n := m.active(Scaling)
		if n == nil {
			return
		}
		m.end()
		events.Emit("info", "gesture.scale", "", map[string]interface{}{
			"node":  n.Name(),
			"scale": n.Transform().Scale.X,
		})
	}
}

// Rotate turns the selected node, or the root, about its Y axis by angle
// radians. On end the rotation snaps back to zero unless a procedure runs.
func (m *Machine) Rotate(phase Phase, angle float64) {
	switch phase {
	case Began:
		if !m.enabled("rotate") {
			return
		}
		n := m.subject("rotate")
		if n == nil {
			return
		}
		if !m.begin(Rotating, n) {
			ignored("rotate", "exclusive")
		}
	case Changed:
		n := m.active(Rotating)
		if n == nil {
			return
		}
		t := n.Transform()
		t.Rotation.Y = m.baseTransform().Rotation.Y + angle
		n.SetTransform(t)
	case Ended, Cancelled:
		n := m.active(Rotating)
		if n == nil {
			return
		}
		m.end()
		snapped := false
		if procs := m.cfg.Procs; procs == nil || !procs.Running() {
			t := n.Transform()
			t.Rotation = scene.Vec3{}
			n.SetTransform(t)
			snapped = true
		}
		events.Emit("info", "gesture.rotate", "", map[string]interface{}{
			"node":    n.Name(),
			"snapped": snapped,
		})
	}
}

// subject is the node pinch and rotate act on.
func (m *Machine) subject(kind string) scene.Node {
	name := m.cfg.Selector.Selected()
	if name == "" {
		name = m.Root()
	}
	if name == "" {
		ignored(kind, "no_selection")
		return nil
	}
	n, ok := m.cfg.Renderer.Lookup(name)
	if !ok {
		ignored(kind, "missing_node")
		return nil
	}
	return n
}

func (m *Machine) begin(s State, n scene.Node) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return false
	}
	m.state = s
	m.target = n
	m.base = n.Transform()
	return true
}

func (m *Machine) active(s State) scene.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != s {
		return nil
	}
	return m.target
}

func (m *Machine) baseTransform() scene.Transform {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base
}

func (m *Machine) end() {
	m.mu.Lock()
	m.state = Idle
	m.target = nil
	m.mu.Unlock()
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// restore runs a journal restore holding the animating flag.
func (m *Machine) restore(done func()) {
	m.cfg.State.BeginAnimating()
	m.cfg.Journal.Restore(func() {
		m.cfg.State.EndAnimating()
		m.cfg.State.SetExposure(interaction.Collapsed)
		events.Emit("info", "model.collapsed", "", nil)
		if done != nil {
			done()
		}
	})
}

// toggle switches between exploded and collapsed. It does nothing while
// animations are in flight.
func (m *Machine) toggle() {
	if m.cfg.State.Animating() {
		ignored(TripleTap.String(), "animating")
		return
	}
	events.Emit("info", "gesture.toggled", "", map[string]interface{}{
		"from": string(m.cfg.State.Exposure()),
	})

	if m.cfg.State.Exposure() == interaction.Exploded || m.cfg.Exploder == nil {
		m.restore(nil)
		return
	}

	err := m.cfg.Exploder.Explode(func() {
		m.cfg.State.SetExposure(interaction.Exploded)
		events.Emit("info", "model.exploded", "", nil)
	})
	if err != nil {
		events.Notify("Unable to explode model", map[string]interface{}{"error": err.Error()})
		m.restore(nil)
	}
}

// reselectRoot restores the model, then selects the recognition root.
func (m *Machine) reselectRoot() {
	root := m.Root()
	m.restore(func() {
		if root != "" {
			m.choose(root)
		}
	})
}
