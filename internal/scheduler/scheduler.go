// Package scheduler abstracts the periodic callbacks that drive routine
// saves, emergency saves, heartbeats, and resource sampling. Production
// code runs real tickers; tests fire cadences by hand so nothing sleeps.
package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

// Cadence is a handle to one scheduled periodic callback.
type Cadence interface {
	// Stop ends the cadence. It waits up to the given duration for the
	// callback goroutine to drain, then abandons it. Returns true if the
	// cadence stopped within the wait.
	Stop(wait time.Duration) bool
}

// Scheduler starts named periodic callbacks.
type Scheduler interface {
	Every(name string, interval time.Duration, fn func()) Cadence
}

// Ticker is the production Scheduler. Each cadence runs on its own
// goroutine behind a time.Ticker.
type Ticker struct{}

// NewTicker returns the production scheduler.
func NewTicker() *Ticker {
	return &Ticker{}
}

// Every starts fn on the given interval until the returned Cadence is
// stopped. A panic inside fn is logged and does not kill the cadence.
func (*Ticker) Every(name string, interval time.Duration, fn func()) Cadence {
	c := &tickerCadence{
		name: name,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runIsolated(name, fn)
			case <-c.quit:
				return
			}
		}
	}()
	return c
}

type tickerCadence struct {
	name string
	once sync.Once
	quit chan struct{}
	done chan struct{}
}

func (c *tickerCadence) Stop(wait time.Duration) bool {
	c.once.Do(func() { close(c.quit) })
	select {
	case <-c.done:
		return true
	case <-time.After(wait):
		slog.Warn("cadence did not drain in time, abandoning", "cadence", c.name)
		return false
	}
}

func runIsolated(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cadence callback panicked", "cadence", name, "panic", r)
		}
	}()
	fn()
}

// Manual is a Scheduler for tests: cadences never fire on their own and
// are triggered explicitly with Fire.
type Manual struct {
	mu       sync.Mutex
	cadences map[string]*manualCadence
}

// NewManual returns an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{cadences: make(map[string]*manualCadence)}
}

// Every registers the cadence without starting anything.
func (m *Manual) Every(name string, interval time.Duration, fn func()) Cadence {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &manualCadence{fn: fn}
	m.cadences[name] = c
	return c
}

// Fire runs the named cadence body synchronously. It reports whether the
// cadence exists and is still running.
func (m *Manual) Fire(name string) bool {
	m.mu.Lock()
	c, ok := m.cadences[name]
	m.mu.Unlock()
	if !ok || c.isStopped() {
		return false
	}
	runIsolated(name, c.fn)
	return true
}

// Stopped reports whether the named cadence has been stopped.
func (m *Manual) Stopped(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cadences[name]
	return ok && c.isStopped()
}

type manualCadence struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
}

func (c *manualCadence) Stop(time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return true
}

func (c *manualCadence) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
