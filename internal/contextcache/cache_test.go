package contextcache

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

// gatedSource blocks each NodeData call until its name is released.
type gatedSource struct {
	mu      sync.Mutex
	calls   map[string]int
	gates   map[string]chan struct{}
	started chan string
	fail    map[string]error
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		calls:   make(map[string]int),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
		fail:    make(map[string]error),
	}
}

func (s *gatedSource) gate(name string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[name]
	if !ok {
		g = make(chan struct{})
		s.gates[name] = g
	}
	return g
}

func (s *gatedSource) release(name string) {
	close(s.gate(name))
}

func (s *gatedSource) NodeData(ctx context.Context, name string) (*model.NodeContext, error) {
	s.mu.Lock()
	s.calls[name]++
	err := s.fail[name]
	s.mu.Unlock()
	s.started <- name
	<-s.gate(name)
	if err != nil {
		return nil, err
	}
	return &model.NodeContext{
		Name:        name,
		DisplayName: name + " assembly",
		Sensors:     []model.SensorDescriptor{{Name: name + "_Temperature"}},
	}, nil
}

func (s *gatedSource) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func waitStarted(t *testing.T, s *gatedSource, name string) {
	t.Helper()
	select {
	case got := <-s.started:
		require.Equal(t, name, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch for %s never started", name)
	}
}

func drainUntil(t *testing.T, q *scene.Queue, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		q.Wait(20 * time.Millisecond)
	}
}

func TestConcurrentFetchesShareOneBrokerCall(t *testing.T) {
	src := newGatedSource()
	q := scene.NewQueue()
	c := New(src, q)

	var got []*model.NodeContext
	cb := func(nc *model.NodeContext, err error) {
		require.NoError(t, err)
		got = append(got, nc)
	}
	c.Fetch(context.Background(), "Pump", cb)
	c.Fetch(context.Background(), "Pump", cb)
	waitStarted(t, src, "Pump")
	assert.True(t, c.InFlight("Pump"))

	src.release("Pump")
	drainUntil(t, q, func() bool { return len(got) == 2 })

	assert.Equal(t, 1, src.count("Pump"))
	assert.Equal(t, int64(1), c.Fetches())
	assert.Same(t, got[0], got[1])
	assert.False(t, c.InFlight("Pump"))

	// cached value is delivered without another call
	c.Fetch(context.Background(), "Pump", cb)
	q.Drain()
	assert.Len(t, got, 3)
	assert.Equal(t, 1, src.count("Pump"))
}

func TestFetchCachesSensors(t *testing.T) {
	src := newGatedSource()
	src.release("Impeller")
	q := scene.NewQueue()
	c := New(src, q)

	done := false
	c.Fetch(context.Background(), "Impeller", func(*model.NodeContext, error) { done = true })
	drainUntil(t, q, func() bool { return done })

	s, ok := c.Sensors("Impeller")
	require.True(t, ok)
	assert.Equal(t, "Impeller_Temperature", s[0].Name)
}

func TestSeededSensorsAreNotOverwritten(t *testing.T) {
	src := newGatedSource()
	src.release("Pump")
	q := scene.NewQueue()
	c := New(src, q)
	c.SeedSensors("Pump", []model.SensorDescriptor{{Name: "Bearing_Temperature"}})

	done := false
	c.Fetch(context.Background(), "Pump", func(*model.NodeContext, error) { done = true })
	drainUntil(t, q, func() bool { return done })

	s, _ := c.Sensors("Pump")
	require.Len(t, s, 1)
	assert.Equal(t, "Bearing_Temperature", s[0].Name)
}

func TestFetchFailureLeavesCacheUnchanged(t *testing.T) {
	src := newGatedSource()
	src.fail["Valve"] = errors.New("connection refused")
	src.release("Valve")
	q := scene.NewQueue()
	c := New(src, q)

	var gotErr error
	c.Fetch(context.Background(), "Valve", func(_ *model.NodeContext, err error) { gotErr = err })
	drainUntil(t, q, func() bool { return gotErr != nil })

	var fe *FetchError
	require.ErrorAs(t, gotErr, &fe)
	assert.Equal(t, "Valve", fe.Name)
	_, ok := c.Get("Valve")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestClearDropsInFlightResult(t *testing.T) {
	src := newGatedSource()
	q := scene.NewQueue()
	c := New(src, q)

	called := false
	c.Fetch(context.Background(), "Pump", func(*model.NodeContext, error) { called = true })
	waitStarted(t, src, "Pump")
	c.Clear()
	src.release("Pump")

	q.Wait(100 * time.Millisecond)
	assert.False(t, called)
	_, ok := c.Get("Pump")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	src := newGatedSource()
	src.release("Pump")
	q := scene.NewQueue()
	c := New(src, q)

	done := false
	c.Fetch(context.Background(), "Pump", func(*model.NodeContext, error) { done = true })
	drainUntil(t, q, func() bool { return done })

	c.Invalidate("Pump")
	_, ok := c.Get("Pump")
	assert.False(t, ok)
	_, ok = c.Sensors("Pump")
	assert.False(t, ok)
}

func TestInvalidateDropsInFlightResult(t *testing.T) {
	events.Clear()
	src := newGatedSource()
	q := scene.NewQueue()
	c := New(src, q)

	stale := false
	c.Fetch(context.Background(), "Pump", func(*model.NodeContext, error) { stale = true })
	waitStarted(t, src, "Pump")
	c.Invalidate("Pump")
	assert.False(t, c.InFlight("Pump"))

	var fresh *model.NodeContext
	c.Fetch(context.Background(), "Pump", func(nc *model.NodeContext, err error) {
		require.NoError(t, err)
		fresh = nc
	})
	waitStarted(t, src, "Pump")
	src.release("Pump")

	drainUntil(t, q, func() bool { return fresh != nil })
	require.Eventually(t, func() bool {
		return len(events.Filter("context.stale_dropped")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	q.Drain()

	assert.False(t, stale, "waiters of an invalidated fetch are not called")
	assert.Equal(t, 2, src.count("Pump"))
	nc, ok := c.Get("Pump")
	require.True(t, ok)
	assert.Same(t, fresh, nc)
}
