// Package model holds the decoded data the brokers hand to the engine.
package model

import (
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// RecognitionContext describes the object the tracker just recognized.
type RecognitionContext struct {
	Name             string             `json:"name"`
	DeviceID         string             `json:"device_id"`
	Sensors          []SensorDescriptor `json:"sensors"`
	ActionAnimations []Descriptor       `json:"action_animations"`
}

// NodeContext is remote metadata for one scene node.
type NodeContext struct {
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name"`
	Description string             `json:"description"`
	Images      []string           `json:"images,omitempty"`
	Sections    []TableSection     `json:"sections,omitempty"`
	SubNodes    []string           `json:"sub_nodes,omitempty"`
	Procedures  []Procedure        `json:"procedures,omitempty"`
	Sensors     []SensorDescriptor `json:"sensors,omitempty"`
}

// TableSection is a named, ordered group of key/value rows.
type TableSection struct {
	Name string     `json:"name"`
	Rows []TableRow `json:"rows"`
}

// TableRow is a single key/value row.
type TableRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Descriptor is a declarative animation instruction.
type Descriptor struct {
	Name         string        `json:"name"`
	Value        float64       `json:"value"`
	Duration     float64       `json:"duration"`
	Nodes        []string      `json:"nodes"`
	Attributions []Attribution `json:"attributions,omitempty"`
}

// DurationValue converts the seconds-based duration.
func (d Descriptor) DurationValue() time.Duration {
	if d.Duration <= 0 {
		return 0
	}
	return time.Duration(d.Duration * float64(time.Second))
}

// Attribution is a transient 2D image attached to a node during an animation.
// Rotation is in degrees.
type Attribution struct {
	Name       string     `json:"name"`
	Image      string     `json:"image"`
	Width      float64    `json:"width"`
	Height     float64    `json:"height"`
	Position   scene.Vec3 `json:"position"`
	Rotation   scene.Vec3 `json:"rotation"`
	Scale      scene.Vec3 `json:"scale"`
	AutoRemove bool       `json:"auto_remove"`
}

// Procedure is a guided, ordered sequence of steps.
type Procedure struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Steps               []Step   `json:"steps"`
	InteractionNodes    []string `json:"interaction_nodes,omitempty"`
	InteractionOccurred bool     `json:"interaction_occurred,omitempty"`
	// Simulation names a device-issue simulation to disable on stop.
	Simulation string `json:"simulation,omitempty"`
}

// Clone returns a deep copy with fresh runtime maps.
func (p *Procedure) Clone() *Procedure {
	cp := *p
	cp.InteractionNodes = append([]string(nil), p.InteractionNodes...)
	cp.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		s.Animations = append(AnimationGroups(nil), s.Animations...)
		s.Origins = nil
		s.Opacities = nil
		cp.Steps[i] = s
	}
	return &cp
}

// Step is one instruction screen of a procedure.
type Step struct {
	Title         string          `json:"title"`
	Body          string          `json:"body"`
	HighlightNode string          `json:"highlight_node,omitempty"`
	Animations    AnimationGroups `json:"animations,omitempty"`
	Image         string          `json:"image,omitempty"`
	Confirmation  string          `json:"confirmation,omitempty"`
	// Timer is a countdown in seconds gating advancement.
	Timer float64 `json:"timer,omitempty"`

	// Origins and Opacities are filled while the step runs.
	Origins   map[string]scene.Transform `json:"-"`
	Opacities map[string]float64         `json:"-"`
}

// TimerValue converts the seconds-based countdown.
func (s Step) TimerValue() time.Duration {
	if s.Timer <= 0 {
		return 0
	}
	return time.Duration(s.Timer * float64(time.Second))
}

// TouchedNodes returns the distinct node names targeted by the step's
// animations in first-seen order.
func (s Step) TouchedNodes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range s.Animations {
		for _, d := range g {
			for _, n := range d.Nodes {
				if n == "" || seen[n] {
					continue
				}
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// ActionKind is what tapping a sensor surface does.
type ActionKind string

const (
	ActionChart ActionKind = "chart"
	ActionURL   ActionKind = "url"
	ActionAudio ActionKind = "audio"
)

// SensorDescriptor describes how one telemetry channel is rendered.
type SensorDescriptor struct {
	// Name is also the telemetry key.
	Name       string          `json:"name"`
	Placement  scene.Transform `json:"placement"`
	Width      float64         `json:"width"`
	Height     float64         `json:"height"`
	Background Background      `json:"background"`
	Label      LabelSpec       `json:"label"`
	Limits     Limits          `json:"limits"`
	Action     SensorAction    `json:"action"`
}

// Background is either a static image or a looping video.
type Background struct {
	Image string `json:"image,omitempty"`
	Video string `json:"video,omitempty"`
	Loop  bool   `json:"loop,omitempty"`
}

// LabelSpec controls label text and colors.
type LabelSpec struct {
	Text       string      `json:"text,omitempty"`
	Font       string      `json:"font,omitempty"`
	Size       float64     `json:"size,omitempty"`
	Format     string      `json:"format,omitempty"`
	Color      scene.Color `json:"color,omitempty"`
	AlertColor scene.Color `json:"alert_color,omitempty"`
}

// Limits is the operating range of a sensor value.
type Limits struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the limits. A zero range
// accepts every value.
func (l Limits) Contains(v float64) bool {
	if l.Min == 0 && l.Max == 0 {
		return true
	}
	return v >= l.Min && v <= l.Max
}

// SensorAction is the tap behavior of a sensor surface.
type SensorAction struct {
	Kind ActionKind `json:"kind"`
	URL  string     `json:"url,omitempty"`
}

// SensorMessage is one telemetry sample for a device.
type SensorMessage struct {
	DeviceID  string             `json:"device_id"`
	Timestamp time.Time          `json:"ts"`
	Values    map[string]float64 `json:"values"`
}

// ActionButton is a device action offered next to the recognized object.
type ActionButton struct {
	ID         string       `json:"id"`
	Label      string       `json:"label"`
	Animations []Descriptor `json:"animations,omitempty"`
	Simulation string       `json:"simulation,omitempty"`
}
