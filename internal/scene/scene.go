// Package scene defines the renderer boundary the engine drives.
// The renderer owns every node; the engine only holds names and handles.
package scene

import (
	"math"
	"time"
)

// Axis selects a single component of a Vec3.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return "unknown"
	}
}

// Vec3 is a 3-component vector in scene units.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Scale returns v scaled by f.
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

// Component returns the value along axis a.
func (v Vec3) Component(a Axis) float64 {
	switch a {
	case AxisY:
		return v.Y
	case AxisZ:
		return v.Z
	default:
		return v.X
	}
}

// With returns v with the component along a replaced.
func (v Vec3) With(a Axis, val float64) Vec3 {
	switch a {
	case AxisY:
		v.Y = val
	case AxisZ:
		v.Z = val
	default:
		v.X = val
	}
	return v
}

// IsZero reports whether all components are zero.
func (v Vec3) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

// Radians converts a vector of degrees to radians.
func (v Vec3) Radians() Vec3 {
	return v.Scale(math.Pi / 180)
}

// Transform is a node's local placement. Rotation is Euler angles in radians.
type Transform struct {
	Position Vec3 `json:"position" yaml:"position"`
	Rotation Vec3 `json:"rotation" yaml:"rotation"`
	Scale    Vec3 `json:"scale" yaml:"scale"`
}

// Identity returns a transform at the origin with unit scale.
func Identity() Transform {
	return Transform{Scale: Vec3{X: 1, Y: 1, Z: 1}}
}

// Color is a hex RGB(A) color string such as "#1B4332".
type Color string

// Point is a 2D screen coordinate in points.
type Point struct {
	X float64
	Y float64
}

// Node is a renderer-owned scene element. Mutating methods must only be
// called from the UI dispatcher.
type Node interface {
	Name() string
	Transform() Transform
	SetTransform(Transform)
	Opacity() float64
	SetOpacity(float64)
	Parent() Node
	Children() []Node
	AddChild(Node)
	RemoveChild(Node)
	// Overlay reports whether the node is engine-attached decoration
	// (sensor surfaces, attributions) rather than model geometry.
	Overlay() bool
}

// Surface is a node carrying a 2D label rendered into a texture.
type Surface interface {
	Node
	Text() string
	SetText(string)
	Background() Color
	SetBackground(Color)
}

// Media is implemented by surfaces backed by a looping video.
type Media interface {
	Muted() bool
	SetMuted(bool)
}

// PrimitiveKind enumerates the single-node animation primitives the
// renderer understands.
type PrimitiveKind int

const (
	MoveBy PrimitiveKind = iota
	RotateBy
	FadeIn
	FadeOut
	SetOpacity
	Pulse
	Wait
	Highlight
	MoveTo
)

func (k PrimitiveKind) String() string {
	switch k {
	case MoveBy:
		return "move_by"
	case RotateBy:
		return "rotate_by"
	case FadeIn:
		return "fade_in"
	case FadeOut:
		return "fade_out"
	case SetOpacity:
		return "opacity"
	case Pulse:
		return "pulse"
	case Wait:
		return "wait"
	case Highlight:
		return "highlight"
	case MoveTo:
		return "move_to"
	default:
		return "unknown"
	}
}

// Primitive is one declarative animation run on one node.
// MoveBy and RotateBy use Axis and Value (radians for rotation);
// SetOpacity uses Value; MoveTo uses Target and Opacity.
type Primitive struct {
	Kind     PrimitiveKind
	Axis     Axis
	Value    float64
	Duration time.Duration
	Target   Transform
	Opacity  float64
}

// PlaneSpec describes a textured plane the renderer builds for overlays.
type PlaneSpec struct {
	Name       string
	Image      string
	Video      string
	Width      float64
	Height     float64
	Text       string
	Font       string
	FontSize   float64
	Background Color
	Transform  Transform
}

// Renderer is the host 3D engine boundary.
type Renderer interface {
	// Lookup finds a live node by name.
	Lookup(name string) (Node, bool)
	// Run starts p on n and calls done on the UI dispatcher when finished.
	Run(n Node, p Primitive, done func())
	// NewPlane builds an unattached overlay plane. Safe off the UI thread.
	NewPlane(spec PlaneSpec) (Node, error)
}

// Dispatcher marshals work onto the UI thread.
type Dispatcher interface {
	Post(fn func())
}

// Walk visits root and its descendants depth-first. Returning false from
// fn skips that node's children.
func Walk(root Node, fn func(Node) bool) {
	if root == nil {
		return
	}
	if !fn(root) {
		return
	}
	for _, c := range root.Children() {
		Walk(c, fn)
	}
}

// Child returns the direct child of n with the given name.
func Child(n Node, name string) Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
