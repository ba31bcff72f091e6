// Package timer collects wall-clock durations of named operations. It is
// purely observational and never influences the code it measures.
package timer

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Timer accumulates start/stop intervals. The zero value is ready to use.
// A Timer is not safe for concurrent use; Registry serialises access to
// the timers it owns.
type Timer struct {
	started time.Time
	running bool

	count int
	last  time.Duration
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// Start begins an interval. Starting a running timer restarts the interval.
func (t *Timer) Start() {
	t.started = time.Now()
	t.running = true
}

// Stop ends the current interval and records it. It returns zero if the
// timer was not running.
func (t *Timer) Stop() time.Duration {
	if !t.running {
		return 0
	}
	t.running = false
	t.Record(time.Since(t.started))
	return t.last
}

// Record adds an externally measured interval.
func (t *Timer) Record(d time.Duration) {
	t.last = d
	t.total += d
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
	t.count++
}

func (t *Timer) Reset() { *t = Timer{} }

func (t *Timer) Running() bool        { return t.running }
func (t *Timer) Count() int           { return t.count }
func (t *Timer) Last() time.Duration  { return t.last }
func (t *Timer) Total() time.Duration { return t.total }
func (t *Timer) Min() time.Duration   { return t.min }
func (t *Timer) Max() time.Duration   { return t.max }

func (t *Timer) Average() time.Duration {
	if t.count == 0 {
		return 0
	}
	return t.total / time.Duration(t.count)
}

func (t *Timer) String() string {
	return fmt.Sprintf("count=%d avg=%s min=%s max=%s total=%s",
		t.count, t.Average(), t.min, t.max, t.total)
}

// Stats is a snapshot of a Timer.
type Stats struct {
	Name    string
	Count   int
	Last    time.Duration
	Total   time.Duration
	Average time.Duration
	Min     time.Duration
	Max     time.Duration
}

func (t *Timer) Stats(name string) Stats {
	return Stats{
		Name:    name,
		Count:   t.count,
		Last:    t.last,
		Total:   t.total,
		Average: t.Average(),
		Min:     t.min,
		Max:     t.max,
	}
}

// Registry holds named timers and is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	timers map[string]*Timer
}

func NewRegistry() *Registry {
	return &Registry{timers: make(map[string]*Timer)}
}

func (r *Registry) timer(name string) *Timer {
	t, ok := r.timers[name]
	if !ok {
		if r.timers == nil {
			r.timers = make(map[string]*Timer)
		}
		t = &Timer{}
		r.timers[name] = t
	}
	return t
}

// Start begins an interval on the named timer, creating it if needed.
func (r *Registry) Start(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer(name).Start()
}

// Stop ends the named timer's interval and returns its duration.
func (r *Registry) Stop(name string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[name]; ok {
		return t.Stop()
	}
	return 0
}

// Record adds d to the named timer.
func (r *Registry) Record(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer(name).Record(d)
}

// Get returns a snapshot of the named timer.
func (r *Registry) Get(name string) (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[name]
	if !ok {
		return Stats{Name: name}, false
	}
	return t.Stats(name), true
}

// Names returns the registered timer names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.timers))
	for name := range r.timers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Reset drops every timer.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.timers)
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

func Start(name string)              { defaultRegistry.Start(name) }
func Stop(name string) time.Duration { return defaultRegistry.Stop(name) }
func Get(name string) (Stats, bool)  { return defaultRegistry.Get(name) }
