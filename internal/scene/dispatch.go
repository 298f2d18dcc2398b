package scene

import (
	"sync"
	"time"
)

// Loop is a Dispatcher backed by a single goroutine.
type Loop struct {
	work   chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewLoop creates a loop with the given queue depth.
func NewLoop(depth int) *Loop {
	if depth <= 0 {
		depth = 256
	}
	return &Loop{
		work:   make(chan func(), depth),
		stopCh: make(chan struct{}),
	}
}

// Start runs the loop until Stop.
func (l *Loop) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-l.stopCh:
				return
			case fn := <-l.work:
				fn()
			}
		}
	}()
}

// Post implements Dispatcher. Work posted after Stop is dropped.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.stopCh:
	case l.work <- fn:
	}
}

// Stop terminates the loop and waits for the running item.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// Queue is a Dispatcher that holds work until the owner drains it.
// Tests use it as a deterministic UI thread.
type Queue struct {
	mu     sync.Mutex
	fns    []func()
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Post implements Dispatcher.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

// Drain runs queued work, including work posted while draining, and
// returns how many items ran.
func (q *Queue) Drain() int {
	ran := 0
	for {
		q.mu.Lock()
		batch := q.fns
		q.fns = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
		}
		ran += len(batch)
	}
}

// Wait blocks until at least one item is queued or timeout elapses, then
// drains. It returns the number of items run.
func (q *Queue) Wait(timeout time.Duration) int {
	if q.Len() > 0 {
		return q.Drain()
	}
	select {
	case <-q.notify:
	case <-time.After(timeout):
	}
	return q.Drain()
}

// Inline runs posted work immediately on the caller's goroutine.
type Inline struct{}

// Post implements Dispatcher.
func (Inline) Post(fn func()) { fn() }
