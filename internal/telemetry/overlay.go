// Package telemetry renders live sensor values as label surfaces attached
// to scene nodes and keeps them current on a recurring poll.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/model"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// MinPollInterval is the shortest accepted poll interval.
const MinPollInterval = time.Second

// DefaultPollInterval is used when none is configured.
const DefaultPollInterval = 5 * time.Second

// HistoryLimit is how many samples a chart tap requests.
const HistoryLimit = 50

// Default label colors.
const (
	NeutralColor scene.Color = "#1B4332"
	AlertColor   scene.Color = "#B3261E"
)

const surfacePrefix = "sensor_"

// SurfaceName is the overlay child name for a sensor.
func SurfaceName(sensor string) string {
	return surfacePrefix + sensor
}

// SensorName reverses SurfaceName.
func SensorName(surface string) (string, bool) {
	if !strings.HasPrefix(surface, surfacePrefix) {
		return "", false
	}
	return strings.TrimPrefix(surface, surfacePrefix), true
}

// ClampInterval applies the default and the floor.
func ClampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPollInterval
	}
	if d < MinPollInterval {
		return MinPollInterval
	}
	return d
}

// SensorSource returns the descriptors cached for a node.
type SensorSource interface {
	Sensors(node string) ([]model.SensorDescriptor, bool)
}

// Source fetches the latest telemetry message for a device.
type Source interface {
	Latest(ctx context.Context, deviceID string) (*model.SensorMessage, error)
}

// History fetches recent telemetry for a device.
type History interface {
	HistoricalTelemetry(ctx context.Context, deviceID string, limit int) ([]model.SensorMessage, error)
}

// Presenter opens the views a sensor tap can lead to.
type Presenter interface {
	OpenChart(sensor string, history []model.SensorMessage)
	OpenURL(url string)
}

// Notifier shows a transient warning to the operator.
type Notifier interface {
	Notify(msg string, fields map[string]interface{})
}

type eventNotifier struct{}

func (eventNotifier) Notify(msg string, fields map[string]interface{}) {
	events.Notify(msg, fields)
}

// Config holds the overlay's collaborators. History and Presenter may be
// nil, which disables chart and URL taps.
type Config struct {
	Renderer   scene.Renderer
	Dispatcher scene.Dispatcher
	Sensors    SensorSource
	Source     Source
	History    History
	Presenter  Presenter
	Notifier   Notifier
	Interval   time.Duration
}

type surface struct {
	desc  model.SensorDescriptor
	node  scene.Node
	alert bool
}

// Overlay owns every sensor surface in the scene.
type Overlay struct {
	cfg Config

	mu       sync.Mutex
	deviceID string
	shown    map[string]uint64              // node -> show generation
	surfaces map[string]map[string]*surface // node -> sensor -> surface
	retiring map[scene.Node]bool            // surfaces fading out after Hide
	showGen  uint64

	pollGen  atomic.Uint64
	inflight atomic.Bool
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	baseCtx  context.Context
}

// New creates an overlay. The poll interval is clamped to MinPollInterval.
func New(cfg Config) *Overlay {
	cfg.Interval = ClampInterval(cfg.Interval)
	if cfg.Notifier == nil {
		cfg.Notifier = eventNotifier{}
	}
	return &Overlay{
		cfg:      cfg,
		shown:    make(map[string]uint64),
		surfaces: make(map[string]map[string]*surface),
		retiring: make(map[scene.Node]bool),
		baseCtx:  context.Background(),
	}
}

// Interval returns the effective poll interval.
func (o *Overlay) Interval() time.Duration {
	return o.cfg.Interval
}

// SetDevice sets the device whose telemetry is polled.
func (o *Overlay) SetDevice(id string) {
	o.mu.Lock()
	o.deviceID = id
	o.mu.Unlock()
}

// Device returns the polled device id.
func (o *Overlay) Device() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deviceID
}

// Show builds a surface for every cached sensor of node that has none yet.
// A surface still fading out after Hide does not count. Planes are built in the background and attached with a fade-in on the
// dispatcher; builds for a node hidden in the meantime are dropped.
func (o *Overlay) Show(node scene.Node) {
	descs, _ := o.cfg.Sensors.Sensors(node.Name())

	o.mu.Lock()
	o.showGen++
	gen := o.showGen
	o.shown[node.Name()] = gen
	o.mu.Unlock()

	var todo []model.SensorDescriptor
	for _, d := range descs {
		if d.Name == "" || o.hasSurface(node, SurfaceName(d.Name)) {
			continue
		}
		todo = append(todo, d)
	}
	if len(todo) == 0 {
		return
	}

	go o.build(node, gen, todo)
}

func (o *Overlay) hasSurface(node scene.Node, name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range node.Children() {
		if c.Name() == name && !o.retiring[c] {
			return true
		}
	}
	return false
}

func (o *Overlay) build(node scene.Node, gen uint64, descs []model.SensorDescriptor) {
	planes := make([]scene.Node, len(descs))
	var g errgroup.Group
	g.SetLimit(4)
	for i, d := range descs {
		i, d := i, d
		g.Go(func() error {
			p, err := o.cfg.Renderer.NewPlane(planeSpec(d))
			if err != nil {
				events.Emit("error", "system.error", "sensor surface build failed", map[string]interface{}{
					"node":   node.Name(),
					"sensor": d.Name,
					"error":  err.Error(),
				})
				return nil
			}
			planes[i] = p
			return nil
		})
	}
	_ = g.Wait()

	o.cfg.Dispatcher.Post(func() {
		o.attach(node, gen, descs, planes)
	})
}

func planeSpec(d model.SensorDescriptor) scene.PlaneSpec {
	text := d.Label.Text
	if text == "" {
		text = "--"
	}
	bg := d.Label.Color
	if bg == "" {
		bg = NeutralColor
	}
	return scene.PlaneSpec{
		Name:       SurfaceName(d.Name),
		Image:      d.Background.Image,
		Video:      d.Background.Video,
		Width:      d.Width,
		Height:     d.Height,
		Text:       text,
		Font:       d.Label.Font,
		FontSize:   d.Label.Size,
		Background: bg,
		Transform:  d.Placement,
	}
}

func (o *Overlay) attach(node scene.Node, gen uint64, descs []model.SensorDescriptor, planes []scene.Node) {
	o.mu.Lock()
	if o.shown[node.Name()] != gen {
		o.mu.Unlock()
		return
	}
	if o.surfaces[node.Name()] == nil {
		o.surfaces[node.Name()] = make(map[string]*surface)
	}
	var added []scene.Node
	for i, p := range planes {
		if p == nil {
			continue
		}
		d := descs[i]
		if _, ok := o.surfaces[node.Name()][d.Name]; ok {
			continue
		}
		o.surfaces[node.Name()][d.Name] = &surface{desc: d, node: p}
		added = append(added, p)
	}
	o.mu.Unlock()

	for _, p := range added {
		node.AddChild(p)
		o.cfg.Renderer.Run(p, scene.Primitive{Kind: scene.FadeIn, Duration: 250 * time.Millisecond}, nil)
		events.Emit("info", "sensor.shown", "", map[string]interface{}{
			"node":    node.Name(),
			"surface": p.Name(),
		})
	}
}

// Hide fades out and detaches every sensor surface of node.
func (o *Overlay) Hide(node scene.Node) {
	o.mu.Lock()
	delete(o.shown, node.Name())
	delete(o.surfaces, node.Name())
	o.mu.Unlock()

	for _, c := range node.Children() {
		if !c.Overlay() {
			continue
		}
		if _, ok := SensorName(c.Name()); !ok {
			continue
		}
		o.mu.Lock()
		if o.retiring[c] {
			o.mu.Unlock()
			continue
		}
		o.retiring[c] = true
		o.mu.Unlock()

		c := c
		o.cfg.Renderer.Run(c, scene.Primitive{Kind: scene.FadeOut, Duration: 250 * time.Millisecond}, func() {
			node.RemoveChild(c)
			o.mu.Lock()
			delete(o.retiring, c)
			o.mu.Unlock()
		})
		events.Emit("info", "sensor.hidden", "", map[string]interface{}{
			"node":    node.Name(),
			"surface": c.Name(),
		})
	}
}

// Visible returns the number of attached surfaces.
func (o *Overlay) Visible() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.surfaces {
		n += len(m)
	}
	return n
}

// Alerting reports whether sensor on node is in alert.
func (o *Overlay) Alerting(node, sensor string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.surfaces[node][sensor]
	return ok && s.alert
}

// Reset stops polling and forgets every surface and the device.
func (o *Overlay) Reset() {
	o.Stop()
	o.mu.Lock()
	o.shown = make(map[string]uint64)
	o.surfaces = make(map[string]map[string]*surface)
	o.deviceID = ""
	o.mu.Unlock()
}

func formatValue(d model.SensorDescriptor, v float64) string {
	format := d.Label.Format
	if format == "" {
		format = "%.1f"
	}
	s := fmt.Sprintf(format, v)
	if d.Label.Text != "" {
		return d.Label.Text + " " + s
	}
	return s
}
