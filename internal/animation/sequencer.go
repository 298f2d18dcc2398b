// Package animation runs declarative animation batches against live scene
// nodes.
package animation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/interaction"
	"github.com/AaronLay10/OverlayEngine/internal/join"
	"github.com/AaronLay10/OverlayEngine/internal/model"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// Restorer returns every journaled node to its origin.
type Restorer interface {
	Restore(done func())
}

// Sequencer maps descriptors to renderer primitives and runs them.
type Sequencer struct {
	renderer   scene.Renderer
	journal    Restorer
	state      *interaction.State
	dispatcher scene.Dispatcher
	after      func(d time.Duration, fn func())

	mu       sync.Mutex
	attached map[string]map[string]scene.Node // node -> attribution -> plane
	live     map[string]bool                  // running batch ids
}

// NewSequencer creates a sequencer.
func NewSequencer(r scene.Renderer, j Restorer, st *interaction.State, d scene.Dispatcher) *Sequencer {
	s := &Sequencer{
		renderer:   r,
		journal:    j,
		state:      st,
		dispatcher: d,
		attached:   make(map[string]map[string]scene.Node),
		live:       make(map[string]bool),
	}
	s.after = func(dur time.Duration, fn func()) {
		time.AfterFunc(dur, func() { s.dispatcher.Post(fn) })
	}
	return s
}

// PlaySequence runs descs one after another.
func (s *Sequencer) PlaySequence(descs []model.Descriptor, done func()) error {
	return s.Play(Sequential(descs), done)
}

// Play validates the whole batch, then runs it. If any descriptor name is
// unknown a *MappingError is returned and nothing runs; an empty batch
// returns ErrEmptyBatch. Otherwise done is called after the last node of
// the last instruction finishes, or after a returnToOrigin restore.
func (s *Sequencer) Play(b Batch, done func()) error {
	plan, err := compile(b)
	if err != nil {
		fields := map[string]interface{}{"error": err.Error()}
		var me *MappingError
		if errors.As(err, &me) {
			fields["expected"] = me.Expected
			fields["actual"] = me.Actual
		}
		events.Emit("error", "animation.rejected", "animation batch rejected", fields)
		return err
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.live[id] = true
	s.mu.Unlock()
	s.state.BeginAnimating()
	events.Emit("info", "animation.started", "", map[string]interface{}{
		"batch":        id,
		"instructions": len(plan),
	})

	s.run(id, plan, 0, func() {
		if !s.retire(id) {
			return
		}
		s.state.EndAnimating()
		events.Emit("info", "animation.completed", "", map[string]interface{}{"batch": id})
		if done != nil {
			done()
		}
	})
	return nil
}

type task struct {
	node scene.Node
	op   op
}

// Cancel abandons every running batch. Primitives already handed to the
// renderer finish, but no later instruction starts and the batches' done
// callbacks never run.
func (s *Sequencer) Cancel() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.live = make(map[string]bool)
	s.mu.Unlock()

	for _, id := range ids {
		s.state.EndAnimating()
		events.Emit("info", "animation.cancelled", "", map[string]interface{}{"batch": id})
	}
}

// Running reports whether any batch is still live.
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live) > 0
}

func (s *Sequencer) alive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[id]
}

func (s *Sequencer) retire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[id] {
		return false
	}
	delete(s.live, id)
	return true
}

func (s *Sequencer) run(id string, plan [][]op, i int, finish func()) {
	if !s.alive(id) {
		return
	}
	if i >= len(plan) {
		finish()
		return
	}

	ops := plan[i]
	for _, o := range ops {
		if o.restore {
			s.journal.Restore(finish)
			return
		}
	}

	var tasks []task
	var idle []time.Duration
	for _, o := range ops {
		seen := make(map[string]bool, len(o.desc.Nodes))
		found := 0
		for _, name := range o.desc.Nodes {
			if seen[name] {
				continue
			}
			seen[name] = true
			n, ok := s.renderer.Lookup(name)
			if !ok {
				continue
			}
			found++
			tasks = append(tasks, task{node: n, op: o})
		}
		if found == 0 && o.prim.Kind == scene.Wait && o.prim.Duration > 0 {
			idle = append(idle, o.prim.Duration)
		}
	}

	next := join.New(len(tasks)+len(idle), func() {
		s.run(id, plan, i+1, finish)
	})

	for _, t := range tasks {
		t := t
		s.attach(t.node, t.op.desc.Attributions)
		s.renderer.Run(t.node, t.op.prim, func() {
			s.detachAuto(t.node, t.op.desc.Attributions)
			next.Done()
		})
	}
	for _, d := range idle {
		s.after(d, next.Done)
	}
}

func (s *Sequencer) attach(n scene.Node, attrs []model.Attribution) {
	for _, a := range attrs {
		if a.Name == "" {
			continue
		}
		s.mu.Lock()
		if _, ok := s.attached[n.Name()][a.Name]; ok {
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		scale := a.Scale
		if scale.IsZero() {
			scale = scene.Vec3{X: 1, Y: 1, Z: 1}
		}
		plane, err := s.renderer.NewPlane(scene.PlaneSpec{
			Name:   a.Name,
			Image:  a.Image,
			Width:  a.Width,
			Height: a.Height,
			Transform: scene.Transform{
				Position: a.Position,
				Rotation: a.Rotation.Radians(),
				Scale:    scale,
			},
		})
		if err != nil {
			events.Emit("error", "system.error", "attribution build failed", map[string]interface{}{
				"node":        n.Name(),
				"attribution": a.Name,
				"error":       err.Error(),
			})
			continue
		}
		plane.SetOpacity(1)
		n.AddChild(plane)

		s.mu.Lock()
		if s.attached[n.Name()] == nil {
			s.attached[n.Name()] = make(map[string]scene.Node)
		}
		s.attached[n.Name()][a.Name] = plane
		s.mu.Unlock()

		events.Emit("info", "attribution.attached", "", map[string]interface{}{
			"node":        n.Name(),
			"attribution": a.Name,
		})
	}
}

func (s *Sequencer) detachAuto(n scene.Node, attrs []model.Attribution) {
	for _, a := range attrs {
		if !a.AutoRemove {
			continue
		}
		s.detach(n, a.Name)
	}
}

func (s *Sequencer) detach(n scene.Node, name string) {
	s.mu.Lock()
	plane, ok := s.attached[n.Name()][name]
	if ok {
		delete(s.attached[n.Name()], name)
		if len(s.attached[n.Name()]) == 0 {
			delete(s.attached, n.Name())
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	n.RemoveChild(plane)
	events.Emit("info", "attribution.removed", "", map[string]interface{}{
		"node":        n.Name(),
		"attribution": name,
	})
}

// Attributions returns the attribution names attached to node.
func (s *Sequencer) Attributions(node string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.attached[node]))
	for name := range s.attached[node] {
		out = append(out, name)
	}
	return out
}

// ClearAttributions detaches every attribution still attached, including
// ones without auto-remove.
func (s *Sequencer) ClearAttributions() {
	s.mu.Lock()
	type pair struct {
		parent scene.Node
		plane  scene.Node
		node   string
		name   string
	}
	var all []pair
	for node, m := range s.attached {
		for name, plane := range m {
			all = append(all, pair{parent: plane.Parent(), plane: plane, node: node, name: name})
		}
	}
	s.attached = make(map[string]map[string]scene.Node)
	s.mu.Unlock()

	for _, p := range all {
		if p.parent != nil {
			p.parent.RemoveChild(p.plane)
		}
		events.Emit("info", "attribution.removed", "", map[string]interface{}{
			"node":        p.node,
			"attribution": p.name,
		})
	}
}
