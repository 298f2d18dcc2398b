// Package contextcache holds per-node metadata fetched from the data
// brokers for the current anchor session.
package contextcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/model"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// NodeSource fetches node metadata.
type NodeSource interface {
	NodeData(ctx context.Context, name string) (*model.NodeContext, error)
}

// FetchError is returned when a broker call fails. The cache is left
// unchanged and the call is not retried.
type FetchError struct {
	Name string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch context for %s: %v", e.Name, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Callback receives a fetch result on the UI dispatcher.
type Callback func(nc *model.NodeContext, err error)

// Cache maps node names to fetched contexts and sensor descriptors.
// Concurrent fetches for the same name share one broker call.
type Cache struct {
	source     NodeSource
	dispatcher scene.Dispatcher
	breaker    *gobreaker.CircuitBreaker

	mu         sync.Mutex
	contexts   map[string]*model.NodeContext
	sensors    map[string][]model.SensorDescriptor
	inflight   map[string]*pending
	generation uint64

	fetches atomic.Int64
}

// New creates an empty cache. Results are delivered through d.
func New(src NodeSource, d scene.Dispatcher) *Cache {
	return &Cache{
		source:     src,
		dispatcher: d,
		breaker:    newBreaker("node-data"),
		contexts:   make(map[string]*model.NodeContext),
		sensors:    make(map[string][]model.SensorDescriptor),
		inflight:   make(map[string]*pending),
	}
}

// pending is one outstanding broker call and the callers waiting on it.
type pending struct {
	waiters []Callback
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
}

// Get returns the cached context for name.
func (c *Cache) Get(name string) (*model.NodeContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nc, ok := c.contexts[name]
	return nc, ok
}

// Fetch delivers the context for name to done. A cached value is posted
// right away; otherwise the first caller starts a broker fetch and later
// callers wait on it.
func (c *Cache) Fetch(ctx context.Context, name string, done Callback) {
	c.mu.Lock()
	if nc, ok := c.contexts[name]; ok {
		c.mu.Unlock()
		c.deliver(done, nc, nil)
		return
	}
	if p, ok := c.inflight[name]; ok {
		p.waiters = append(p.waiters, done)
		c.mu.Unlock()
		return
	}
	p := &pending{waiters: []Callback{done}}
	c.inflight[name] = p
	gen := c.generation
	c.mu.Unlock()

	c.fetches.Add(1)
	go c.fetch(ctx, name, gen, p)
}

func (c *Cache) fetch(ctx context.Context, name string, gen uint64, p *pending) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.source.NodeData(ctx, name)
	})

	var nc *model.NodeContext
	if err == nil {
		nc, _ = v.(*model.NodeContext)
		if nc == nil {
			err = fmt.Errorf("broker returned no context")
		}
	}
	if err != nil {
		err = &FetchError{Name: name, Err: err}
	}

	c.mu.Lock()
	if gen != c.generation || c.inflight[name] != p {
		reason := "invalidated"
		if gen != c.generation {
			reason = "reset"
		}
		c.mu.Unlock()
		events.Emit("info", "context.stale_dropped", "", map[string]interface{}{
			"node":   name,
			"reason": reason,
		})
		return
	}
	waiters := p.waiters
	delete(c.inflight, name)
	if err == nil {
		c.contexts[name] = nc
		if _, seeded := c.sensors[name]; !seeded && len(nc.Sensors) > 0 {
			c.sensors[name] = nc.Sensors
		}
	}
	c.mu.Unlock()

	if err != nil {
		events.Emit("error", "context.fetch_failed", "node context fetch failed", map[string]interface{}{
			"node":  name,
			"error": err.Error(),
		})
	} else {
		events.Emit("info", "context.fetched", "", map[string]interface{}{
			"node":       name,
			"procedures": len(nc.Procedures),
			"sensors":    len(nc.Sensors),
		})
	}

	for _, w := range waiters {
		c.deliver(w, nc, err)
	}
}

func (c *Cache) deliver(done Callback, nc *model.NodeContext, err error) {
	if done == nil {
		return
	}
	c.dispatcher.Post(func() { done(nc, err) })
}

// InFlight reports whether a fetch for name is outstanding.
func (c *Cache) InFlight(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[name]
	return ok
}

// Fetches returns the number of broker calls started.
func (c *Cache) Fetches() int64 {
	return c.fetches.Load()
}

// Sensors returns the sensor descriptors cached for name.
func (c *Cache) Sensors(name string) ([]model.SensorDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sensors[name]
	return s, ok
}

// SeedSensors caches descriptors for name without a fetch. The recognition
// root is seeded from its RecognitionContext.
func (c *Cache) SeedSensors(name string, sensors []model.SensorDescriptor) {
	c.mu.Lock()
	c.sensors[name] = append([]model.SensorDescriptor(nil), sensors...)
	c.mu.Unlock()
}

// Invalidate drops everything cached for name. A fetch for name still in
// flight completes into nothing and its waiters are not called.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.contexts, name)
	delete(c.sensors, name)
	delete(c.inflight, name)
	c.mu.Unlock()
}

// Clear empties the cache. Fetches still in flight complete into nothing.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.contexts = make(map[string]*model.NodeContext)
	c.sensors = make(map[string][]model.SensorDescriptor)
	c.inflight = make(map[string]*pending)
	c.generation++
	c.mu.Unlock()
}

// Len returns the number of cached contexts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contexts)
}
