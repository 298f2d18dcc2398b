package animation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/AaronLay10/OverlayEngine/internal/model"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// Descriptor names understood by the sequencer.
const (
	NameFadeIn         = "fadeIn"
	NameFadeOut        = "fadeOut"
	NameMoveX          = "moveX"
	NameMoveY          = "moveY"
	NameMoveZ          = "moveZ"
	NameRotateX        = "rotateX"
	NameRotateY        = "rotateY"
	NameRotateZ        = "rotateZ"
	NameOpacity        = "opacity"
	NamePulse          = "pulse"
	NameWait           = "wait"
	NameReturnToOrigin = "returnToOrigin"
	NameIdentify       = "identify"
)

// ErrEmptyBatch is returned when a batch holds no descriptors.
var ErrEmptyBatch = errors.New("animation: empty action array")

// MappingError is returned when some descriptor names have no primitive.
// Nothing in the batch runs.
type MappingError struct {
	Expected int
	Actual   int
	Unknown  []string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("animation: cannot map action: expected %d, mapped %d (unknown: %s)",
		e.Expected, e.Actual, strings.Join(e.Unknown, ", "))
}

// op is a descriptor resolved to a primitive.
type op struct {
	desc    model.Descriptor
	prim    scene.Primitive
	restore bool
}

type builder func(d model.Descriptor) op

var builders = map[string]builder{
	strings.ToLower(NameFadeIn):  primitive(scene.FadeIn),
	strings.ToLower(NameFadeOut): primitive(scene.FadeOut),
	strings.ToLower(NameMoveX):   move(scene.AxisX),
	strings.ToLower(NameMoveY):   move(scene.AxisY),
	strings.ToLower(NameMoveZ):   move(scene.AxisZ),
	strings.ToLower(NameRotateX): rotate(scene.AxisX),
	strings.ToLower(NameRotateY): rotate(scene.AxisY),
	strings.ToLower(NameRotateZ): rotate(scene.AxisZ),
	strings.ToLower(NameOpacity): func(d model.Descriptor) op {
		return op{desc: d, prim: scene.Primitive{Kind: scene.SetOpacity, Value: clamp01(d.Value), Duration: d.DurationValue()}}
	},
	strings.ToLower(NamePulse):    primitive(scene.Pulse),
	strings.ToLower(NameWait):     primitive(scene.Wait),
	strings.ToLower(NameIdentify): primitive(scene.Highlight),
	strings.ToLower(NameReturnToOrigin): func(d model.Descriptor) op {
		return op{desc: d, restore: true}
	},
}

func primitive(kind scene.PrimitiveKind) builder {
	return func(d model.Descriptor) op {
		return op{desc: d, prim: scene.Primitive{Kind: kind, Duration: d.DurationValue()}}
	}
}

func move(axis scene.Axis) builder {
	return func(d model.Descriptor) op {
		return op{desc: d, prim: scene.Primitive{Kind: scene.MoveBy, Axis: axis, Value: d.Value, Duration: d.DurationValue()}}
	}
}

func rotate(axis scene.Axis) builder {
	return func(d model.Descriptor) op {
		return op{desc: d, prim: scene.Primitive{Kind: scene.RotateBy, Axis: axis, Value: d.Value * math.Pi / 180, Duration: d.DurationValue()}}
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func lookupBuilder(name string) (builder, bool) {
	b, ok := builders[strings.ToLower(strings.TrimSpace(name))]
	return b, ok
}

// Known reports whether name maps to a primitive.
func Known(name string) bool {
	_, ok := lookupBuilder(name)
	return ok
}

// Instruction is a set of descriptors that run at the same time.
type Instruction []model.Descriptor

// Batch is an ordered list of instructions; each starts after every node
// of the previous one has finished.
type Batch []Instruction

// Sequential runs the descriptors one after another.
func Sequential(descs []model.Descriptor) Batch {
	b := make(Batch, 0, len(descs))
	for _, d := range descs {
		b = append(b, Instruction{d})
	}
	return b
}

// Groups runs each group in parallel and the groups in order.
func Groups(groups model.AnimationGroups) Batch {
	b := make(Batch, 0, len(groups))
	for _, g := range groups {
		b = append(b, Instruction(g))
	}
	return b
}

// Len returns the total descriptor count.
func (b Batch) Len() int {
	n := 0
	for _, ins := range b {
		n += len(ins)
	}
	return n
}

// compile maps every descriptor or fails the whole batch.
func compile(b Batch) ([][]op, error) {
	expected := b.Len()
	plan := make([][]op, 0, len(b))
	var unknown []string
	for _, ins := range b {
		ops := make([]op, 0, len(ins))
		for _, d := range ins {
			build, ok := lookupBuilder(d.Name)
			if !ok {
				unknown = append(unknown, d.Name)
				continue
			}
			ops = append(ops, build(d))
		}
		if len(ops) > 0 {
			plan = append(plan, ops)
		}
	}
	if actual := expected - len(unknown); actual != expected {
		return nil, &MappingError{Expected: expected, Actual: actual, Unknown: unknown}
	}
	if expected == 0 {
		return nil, ErrEmptyBatch
	}
	return plan, nil
}
