// Package join provides counted fan-in for per-node animation completions.
package join

import "sync"

// Join fires its callback once after Done has been called n times.
type Join struct {
	mu        sync.Mutex
	remaining int
	done      func()
	fired     bool
}

// New creates a join expecting n completions. With n <= 0 the callback
// fires immediately.
func New(n int, done func()) *Join {
	j := &Join{remaining: n, done: done}
	if n <= 0 {
		j.fire()
	}
	return j
}

// Done records one completion. Completions past the expected count are
// ignored.
func (j *Join) Done() {
	j.mu.Lock()
	if j.fired || j.remaining <= 0 {
		j.mu.Unlock()
		return
	}
	j.remaining--
	last := j.remaining == 0
	j.mu.Unlock()
	if last {
		j.fire()
	}
}

// Remaining returns the outstanding completion count.
func (j *Join) Remaining() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.remaining
}

// Fired reports whether the callback ran.
func (j *Join) Fired() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fired
}

func (j *Join) fire() {
	j.mu.Lock()
	if j.fired {
		j.mu.Unlock()
		return
	}
	j.fired = true
	fn := j.done
	j.mu.Unlock()
	if fn != nil {
		fn()
	}
}
