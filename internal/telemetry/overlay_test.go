package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/model"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

func init() {
	events.SetOutput(nil)
}

type sensorMap map[string][]model.SensorDescriptor

func (m sensorMap) Sensors(node string) ([]model.SensorDescriptor, bool) {
	s, ok := m[node]
	return s, ok
}

type fakeSource struct {
	mu    sync.Mutex
	next  *model.SensorMessage
	err   error
	calls int
}

func (f *fakeSource) set(values map[string]float64) {
	f.mu.Lock()
	f.next = &model.SensorMessage{DeviceID: "hx-200", Timestamp: time.Now(), Values: values}
	f.mu.Unlock()
}

func (f *fakeSource) Latest(ctx context.Context, deviceID string) (*model.SensorMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.next, f.err
}

type countingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *countingNotifier) Notify(msg string, fields map[string]interface{}) {
	n.mu.Lock()
	n.messages = append(n.messages, msg)
	n.mu.Unlock()
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type presenter struct {
	charts []string
	urls   []string
}

func (p *presenter) OpenChart(sensor string, history []model.SensorMessage) {
	p.charts = append(p.charts, sensor)
}

func (p *presenter) OpenURL(url string) { p.urls = append(p.urls, url) }

type history struct {
	limit int
}

func (h *history) HistoricalTelemetry(ctx context.Context, deviceID string, limit int) ([]model.SensorMessage, error) {
	h.limit = limit
	return []model.SensorMessage{{DeviceID: deviceID}}, nil
}

var bearing = model.SensorDescriptor{
	Name:   "Bearing_Temperature",
	Width:  0.2,
	Height: 0.1,
	Label:  model.LabelSpec{Format: "%.0f °C", Color: "#222222", AlertColor: "#FF0000"},
	Limits: model.Limits{Min: 10, Max: 90},
	Action: model.SensorAction{Kind: model.ActionChart},
}

type bench struct {
	graph     *scene.Graph
	pump      *scene.GraphNode
	queue     *scene.Queue
	source    *fakeSource
	notifier  *countingNotifier
	presenter *presenter
	history   *history
	overlay   *Overlay
}

func newBench(t *testing.T, sensors ...model.SensorDescriptor) *bench {
	t.Helper()
	g := scene.NewGraph()
	b := &bench{
		graph:     g,
		pump:      g.Add(nil, "Pump", scene.Identity()),
		queue:     scene.NewQueue(),
		source:    &fakeSource{},
		notifier:  &countingNotifier{},
		presenter: &presenter{},
		history:   &history{},
	}
	b.overlay = New(Config{
		Renderer:   g,
		Dispatcher: b.queue,
		Sensors:    sensorMap{"Pump": sensors},
		Source:     b.source,
		History:    b.history,
		Presenter:  b.presenter,
		Notifier:   b.notifier,
	})
	b.overlay.SetDevice("hx-200")
	return b
}

func (b *bench) show(t *testing.T) {
	t.Helper()
	b.overlay.Show(b.pump)
	require.Eventually(t, func() bool {
		b.queue.Drain()
		return b.overlay.Visible() > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func (b *bench) poll(t *testing.T, values map[string]float64) {
	t.Helper()
	b.source.set(values)
	require.NoError(t, b.overlay.Poll(context.Background()))
	b.queue.Drain()
}

func (b *bench) surface(t *testing.T, sensor string) scene.Surface {
	t.Helper()
	n := scene.Child(b.pump, SurfaceName(sensor))
	require.NotNil(t, n)
	s, ok := n.(scene.Surface)
	require.True(t, ok)
	return s
}

func TestShowAttachesSurfacesWithFadeIn(t *testing.T) {
	b := newBench(t, bearing, model.SensorDescriptor{Name: "Flow_Rate"})
	b.show(t)

	assert.Equal(t, 2, b.overlay.Visible())
	s := b.surface(t, "Bearing_Temperature")
	assert.True(t, s.Overlay())
	assert.Equal(t, 1.0, s.Opacity())
	assert.Equal(t, "--", s.Text())

	// a second show does not duplicate surfaces
	b.overlay.Show(b.pump)
	b.queue.Wait(50 * time.Millisecond)
	count := 0
	for _, c := range b.pump.Children() {
		if _, ok := SensorName(c.Name()); ok {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestHideDropsLateBuild(t *testing.T) {
	b := newBench(t, bearing)
	b.overlay.Show(b.pump)
	b.overlay.Hide(b.pump)

	b.queue.Wait(100 * time.Millisecond)
	b.queue.Drain()
	assert.Nil(t, scene.Child(b.pump, SurfaceName(bearing.Name)))
	assert.Equal(t, 0, b.overlay.Visible())
}

func TestHideDetachesSurfaces(t *testing.T) {
	b := newBench(t, bearing)
	b.show(t)

	b.overlay.Hide(b.pump)
	assert.Nil(t, scene.Child(b.pump, SurfaceName(bearing.Name)))
	assert.Equal(t, 0, b.overlay.Visible())
}

func TestShowDuringFadeOutRebuildsSurfaces(t *testing.T) {
	b := newBench(t, bearing)
	b.show(t)
	b.graph.SetDeferred(true)

	b.overlay.Hide(b.pump)
	b.overlay.Show(b.pump)
	require.Eventually(t, func() bool {
		b.queue.Drain()
		return b.overlay.Visible() == 1
	}, 2*time.Second, 5*time.Millisecond)
	b.graph.Flush()

	var sensors []scene.Node
	for _, c := range b.pump.Children() {
		if _, ok := SensorName(c.Name()); ok {
			sensors = append(sensors, c)
		}
	}
	require.Len(t, sensors, 1, "the faded surface is gone and the new one stays")
	assert.Equal(t, 1.0, sensors[0].Opacity())
	assert.Equal(t, 1, b.overlay.Visible())

	b.poll(t, map[string]float64{"Bearing_Temperature": 42})
	assert.Equal(t, "42 °C", b.surface(t, "Bearing_Temperature").Text())
}

func TestAlertEntersOnceAndClears(t *testing.T) {
	b := newBench(t, bearing)
	b.show(t)

	b.poll(t, map[string]float64{"Bearing_Temperature": 95})
	s := b.surface(t, "Bearing_Temperature")
	assert.Equal(t, scene.Color("#FF0000"), s.Background())
	assert.Equal(t, "95 °C", s.Text())
	assert.Equal(t, 1, b.notifier.count())
	assert.True(t, b.overlay.Alerting("Pump", "Bearing_Temperature"))

	b.poll(t, map[string]float64{"Bearing_Temperature": 97})
	assert.Equal(t, 1, b.notifier.count(), "staying in alert does not warn again")

	b.poll(t, map[string]float64{"Bearing_Temperature": 50})
	assert.Equal(t, scene.Color("#222222"), s.Background())
	assert.Equal(t, "50 °C", s.Text())
	assert.False(t, b.overlay.Alerting("Pump", "Bearing_Temperature"))
	assert.Equal(t, 1, b.notifier.count())
}

func TestOverlappingPollIsSkipped(t *testing.T) {
	b := newBench(t, bearing)
	b.show(t)
	b.source.set(map[string]float64{"Bearing_Temperature": 20})

	require.NoError(t, b.overlay.Poll(context.Background()))
	err := b.overlay.Poll(context.Background())
	assert.ErrorIs(t, err, ErrPollInFlight)
	assert.Equal(t, 1, b.source.calls)

	b.queue.Drain()
	assert.NoError(t, b.overlay.Poll(context.Background()))
}

func TestPollErrorReleasesGuard(t *testing.T) {
	b := newBench(t, bearing)
	b.source.err = errors.New("broker down")

	assert.Error(t, b.overlay.Poll(context.Background()))
	b.source.err = nil
	b.source.set(map[string]float64{})
	assert.NoError(t, b.overlay.Poll(context.Background()))
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	b := newBench(t, bearing)
	b.show(t)
	b.source.set(map[string]float64{"Bearing_Temperature": 95})

	require.NoError(t, b.overlay.Poll(context.Background()))
	b.overlay.Stop()
	b.queue.Drain()

	assert.Equal(t, 0, b.notifier.count())
	assert.Equal(t, "--", b.surface(t, "Bearing_Temperature").Text())
}

func TestNoDevice(t *testing.T) {
	b := newBench(t, bearing)
	b.overlay.SetDevice("")
	assert.ErrorIs(t, b.overlay.Poll(context.Background()), ErrNoDevice)
}

func TestIntervalFloor(t *testing.T) {
	assert.Equal(t, MinPollInterval, ClampInterval(10*time.Millisecond))
	assert.Equal(t, DefaultPollInterval, ClampInterval(0))
	assert.Equal(t, 3*time.Second, ClampInterval(3*time.Second))

	b := newBench(t)
	assert.GreaterOrEqual(t, b.overlay.Interval(), MinPollInterval)
}

func TestStartStop(t *testing.T) {
	b := newBench(t)
	b.overlay.Start(context.Background())
	b.overlay.Start(context.Background())
	assert.True(t, b.overlay.Running())
	b.overlay.Stop()
	assert.False(t, b.overlay.Running())
	b.overlay.Stop()
}

func TestTapDispatchesByAction(t *testing.T) {
	site := bearing
	site.Name = "Manual"
	site.Action = model.SensorAction{Kind: model.ActionURL, URL: "https://example.com/hx-200"}
	video := model.SensorDescriptor{
		Name:       "Impeller_Cam",
		Background: model.Background{Video: "impeller.mp4", Loop: true},
		Action:     model.SensorAction{Kind: model.ActionAudio},
	}
	b := newBench(t, bearing, site, video)
	b.show(t)
	require.Eventually(t, func() bool {
		b.queue.Drain()
		return b.overlay.Visible() == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, b.overlay.TapOverlay(scene.Child(b.pump, SurfaceName("Manual"))))
	assert.Equal(t, []string{"https://example.com/hx-200"}, b.presenter.urls)

	cam := scene.Child(b.pump, SurfaceName("Impeller_Cam"))
	media := cam.(scene.Media)
	require.True(t, media.Muted())
	b.overlay.TapOverlay(cam)
	assert.False(t, media.Muted())

	b.overlay.TapOverlay(scene.Child(b.pump, SurfaceName("Bearing_Temperature")))
	require.Eventually(t, func() bool {
		b.queue.Drain()
		return len(b.presenter.charts) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, HistoryLimit, b.history.limit)

	assert.False(t, b.overlay.TapOverlay(b.pump))
}
