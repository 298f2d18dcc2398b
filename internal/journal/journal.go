// Package journal records node origin transforms so an exploded or
// inspected model can be returned to its loaded placement.
package journal

import (
	"sort"
	"sync"
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/join"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// DefaultRestoreDuration is how long one restore animation takes.
const DefaultRestoreDuration = 300 * time.Millisecond

type entry struct {
	origin scene.Transform
	model  string
}

// Journal maps node names to their captured origins. It holds names only;
// nodes are looked up through the renderer on restore.
type Journal struct {
	mu       sync.RWMutex
	renderer scene.Renderer
	entries  map[string]entry
	duration time.Duration
}

// New creates an empty journal restoring through r.
func New(r scene.Renderer) *Journal {
	return &Journal{
		renderer: r,
		entries:  make(map[string]entry),
		duration: DefaultRestoreDuration,
	}
}

// SetRestoreDuration overrides the per-node restore animation length.
func (j *Journal) SetRestoreDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	j.mu.Lock()
	j.duration = d
	j.mu.Unlock()
}

// Capture walks the model below root, skipping overlay nodes, and records
// every named node's current transform under the given model load.
// Names already captured for a different model keep their entry.
// It returns the number of entries written.
func (j *Journal) Capture(root scene.Node, model string) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	written := 0
	scene.Walk(root, func(n scene.Node) bool {
		if n.Overlay() {
			return false
		}
		name := n.Name()
		if name == "" {
			return true
		}
		if cur, ok := j.entries[name]; ok && cur.model != model {
			return true
		}
		j.entries[name] = entry{origin: n.Transform(), model: model}
		written++
		return true
	})

	events.Emit("info", "journal.captured", "", map[string]interface{}{
		"model":   model,
		"entries": written,
	})
	return written
}

// Origin returns the captured transform for name.
func (j *Journal) Origin(name string) (scene.Transform, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	e, ok := j.entries[name]
	return e.origin, ok
}

// Len returns the number of captured entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Names returns the captured node names, sorted.
func (j *Journal) Names() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	names := make([]string, 0, len(j.entries))
	for n := range j.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clear drops every entry. Called on scene reset.
func (j *Journal) Clear() {
	j.mu.Lock()
	j.entries = make(map[string]entry)
	j.mu.Unlock()
}

// Restore animates every journaled node back to its origin position and
// scale with zero rotation and full opacity. done runs once after the last
// node finishes; nodes missing from the scene are skipped. An empty
// journal calls done right away.
func (j *Journal) Restore(done func()) {
	j.mu.RLock()
	duration := j.duration
	type target struct {
		node   scene.Node
		origin scene.Transform
	}
	targets := make([]target, 0, len(j.entries))
	for name, e := range j.entries {
		n, ok := j.renderer.Lookup(name)
		if !ok {
			continue
		}
		targets = append(targets, target{node: n, origin: e.origin})
	}
	j.mu.RUnlock()

	fin := join.New(len(targets), func() {
		events.Emit("info", "journal.restored", "", map[string]interface{}{
			"nodes": len(targets),
		})
		if done != nil {
			done()
		}
	})

	for _, t := range targets {
		goal := t.origin
		goal.Rotation = scene.Vec3{}
		j.renderer.Run(t.node, scene.Primitive{
			Kind:     scene.MoveTo,
			Target:   goal,
			Opacity:  1,
			Duration: duration,
		}, fin.Done)
	}
}
