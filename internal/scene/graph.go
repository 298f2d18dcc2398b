package scene

import (
	"fmt"
	"sync"
)

// Run records one primitive started on a Graph.
type Run struct {
	Node      string
	Primitive Primitive
}

type pendingRun struct {
	node *GraphNode
	p    Primitive
	done func()
}

// Graph is an in-memory Renderer. Primitives apply their end state when
// they complete; in deferred mode completions wait for Flush.
// It backs the headless engine and the package tests.
type Graph struct {
	mu       sync.Mutex
	nodes    map[string]*GraphNode
	root     *GraphNode
	deferred bool
	pending  []pendingRun
	runs     []Run
}

// NewGraph creates a graph with an unnamed root.
func NewGraph() *Graph {
	g := &Graph{nodes: make(map[string]*GraphNode)}
	g.root = &GraphNode{graph: g, transform: Identity(), opacity: 1}
	return g
}

// Root returns the scene root.
func (g *Graph) Root() *GraphNode {
	return g.root
}

// Add creates a named model node under parent (the root when nil).
func (g *Graph) Add(parent Node, name string, t Transform) *GraphNode {
	n := &GraphNode{graph: g, name: name, transform: t, opacity: 1}
	if parent == nil {
		parent = g.root
	}
	parent.AddChild(n)
	return n
}

// Lookup implements Renderer.
func (g *Graph) Lookup(name string) (Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[name]
	if !ok {
		return nil, false
	}
	return n, true
}

// Remove detaches the named node from its parent.
func (g *Graph) Remove(name string) {
	g.mu.Lock()
	n, ok := g.nodes[name]
	g.mu.Unlock()
	if !ok {
		return
	}
	if p := n.parent; p != nil {
		p.RemoveChild(n)
	}
}

// Run implements Renderer.
func (g *Graph) Run(n Node, p Primitive, done func()) {
	gn, ok := n.(*GraphNode)
	if !ok {
		panic(fmt.Sprintf("scene: node %q does not belong to this graph", n.Name()))
	}
	g.mu.Lock()
	g.runs = append(g.runs, Run{Node: n.Name(), Primitive: p})
	if g.deferred {
		g.pending = append(g.pending, pendingRun{node: gn, p: p, done: done})
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	gn.apply(p)
	if done != nil {
		done()
	}
}

// NewPlane implements Renderer.
func (g *Graph) NewPlane(spec PlaneSpec) (Node, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("plane name is required")
	}
	if spec.Width < 0 || spec.Height < 0 {
		return nil, fmt.Errorf("plane %s: negative size", spec.Name)
	}
	return &GraphNode{
		graph:      g,
		name:       spec.Name,
		transform:  spec.Transform,
		opacity:    0,
		overlay:    true,
		text:       spec.Text,
		background: spec.Background,
		image:      spec.Image,
		video:      spec.Video,
		muted:      spec.Video != "",
	}, nil
}

// SetDeferred toggles deferred completion mode.
func (g *Graph) SetDeferred(deferred bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deferred = deferred
}

// Pending returns the number of primitives waiting for Flush.
func (g *Graph) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Step completes only the primitives pending right now, in start order,
// and returns how many finished. Primitives started by their completions
// stay pending.
func (g *Graph) Step() int {
	g.mu.Lock()
	batch := g.pending
	g.pending = nil
	g.mu.Unlock()

	for _, pr := range batch {
		pr.node.apply(pr.p)
		if pr.done != nil {
			pr.done()
		}
	}
	return len(batch)
}

// Flush completes pending primitives until none remain.
func (g *Graph) Flush() int {
	total := 0
	for {
		n := g.Step()
		if n == 0 {
			return total
		}
		total += n
	}
}

// Runs returns every primitive started so far.
func (g *Graph) Runs() []Run {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Run{}, g.runs...)
}

// ResetRuns clears the run log.
func (g *Graph) ResetRuns() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs = nil
}

func (g *Graph) register(n *GraphNode) {
	if n.name == "" || n.overlay {
		return
	}
	g.mu.Lock()
	g.nodes[n.name] = n
	g.mu.Unlock()
	for _, c := range n.children {
		g.register(c)
	}
}

func (g *Graph) unregister(n *GraphNode) {
	g.mu.Lock()
	if cur, ok := g.nodes[n.name]; ok && cur == n {
		delete(g.nodes, n.name)
	}
	g.mu.Unlock()
	for _, c := range n.children {
		g.unregister(c)
	}
}

// GraphNode is a Graph-owned node. It implements Node, Surface and Media.
type GraphNode struct {
	graph      *Graph
	name       string
	transform  Transform
	opacity    float64
	parent     *GraphNode
	children   []*GraphNode
	overlay    bool
	text       string
	background Color
	image      string
	video      string
	muted      bool
	highlights int
}

func (n *GraphNode) Name() string             { return n.name }
func (n *GraphNode) Transform() Transform     { return n.transform }
func (n *GraphNode) SetTransform(t Transform) { n.transform = t }
func (n *GraphNode) Opacity() float64         { return n.opacity }
func (n *GraphNode) SetOpacity(o float64)     { n.opacity = o }
func (n *GraphNode) Overlay() bool            { return n.overlay }
func (n *GraphNode) Text() string             { return n.text }
func (n *GraphNode) SetText(s string)         { n.text = s }
func (n *GraphNode) Background() Color        { return n.background }
func (n *GraphNode) SetBackground(c Color)    { n.background = c }
func (n *GraphNode) Muted() bool              { return n.muted }
func (n *GraphNode) SetMuted(m bool)          { n.muted = m }

// Highlights counts completed highlight primitives.
func (n *GraphNode) Highlights() int { return n.highlights }

// Parent implements Node.
func (n *GraphNode) Parent() Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

// Children implements Node.
func (n *GraphNode) Children() []Node {
	out := make([]Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	return out
}

// AddChild implements Node. Children from another renderer are ignored.
func (n *GraphNode) AddChild(child Node) {
	c, ok := child.(*GraphNode)
	if !ok {
		return
	}
	if c.parent != nil {
		c.parent.RemoveChild(c)
	}
	c.parent = n
	n.children = append(n.children, c)
	n.graph.register(c)
}

// RemoveChild implements Node.
func (n *GraphNode) RemoveChild(child Node) {
	for i, c := range n.children {
		if Node(c) == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			c.parent = nil
			n.graph.unregister(c)
			return
		}
	}
}

func (n *GraphNode) apply(p Primitive) {
	switch p.Kind {
	case MoveBy:
		pos := n.transform.Position
		n.transform.Position = pos.With(p.Axis, pos.Component(p.Axis)+p.Value)
	case RotateBy:
		rot := n.transform.Rotation
		n.transform.Rotation = rot.With(p.Axis, rot.Component(p.Axis)+p.Value)
	case FadeIn:
		n.opacity = 1
	case FadeOut:
		n.opacity = 0
	case SetOpacity:
		n.opacity = p.Value
	case Highlight:
		n.highlights++
	case MoveTo:
		n.transform = p.Target
		n.opacity = p.Opacity
	}
}
