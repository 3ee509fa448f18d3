// Package crash is the fault-handler registration service for the battery
// process. A Monitor hooks termination signals and recovered panics and
// turns each into a best-effort save cascade: emergency-save the session,
// flush any active task recorder, write a crash report, notify callbacks.
// Every step runs isolated so one failing tier never blocks the next.
package crash

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brodbeck-lab/battery/internal/session"
	"github.com/brodbeck-lab/battery/internal/sysinfo"
)

// KindPanic is the failure kind recorded for recovered panics. Signals
// record "signal <name>"; tests may pass any kind to HandleFailure.
const KindPanic = "panic"

// Flusher holds unsaved state that must be pushed to disk during the
// cascade. A task recorder registers itself while its task is running.
type Flusher interface {
	EmergencyFlush()
}

// Monitor is the process-wide fault handler. Construct it once at startup,
// Install it before any session opens, and attach the store and recorders
// as they come to life.
type Monitor struct {
	sampler  sysinfo.Sampler
	now      func() time.Time
	exit     func(code int)
	fallback string

	// handling guards against a failure arriving while another one is
	// already being handled, in which case nothing can be trusted and the
	// only safe move is to leave.
	handling atomic.Bool

	mu         sync.Mutex
	store      *session.Store
	flushers   []Flusher
	callbacks  []func(Record)
	crashCount int
	history    []Record
	installed  bool
	sigCh      chan os.Signal
	done       chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSampler overrides the resource sampler used for report metrics.
func WithSampler(s sysinfo.Sampler) Option {
	return func(m *Monitor) { m.sampler = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithExitFunc overrides process termination, for tests.
func WithExitFunc(fn func(code int)) Option {
	return func(m *Monitor) { m.exit = fn }
}

// WithFallbackDir sets where emergency artifacts land when no session
// store is attached. Defaults to the current directory.
func WithFallbackDir(dir string) Option {
	return func(m *Monitor) { m.fallback = dir }
}

// NewMonitor creates a fault handler. The store may be nil when no session
// exists yet; attach one later with SetStore so startup crashes are still
// captured.
func NewMonitor(store *session.Store, opts ...Option) *Monitor {
	m := &Monitor{
		store:    store,
		now:      time.Now,
		exit:     os.Exit,
		fallback: ".",
	}
	if sampler, err := sysinfo.New(); err == nil {
		m.sampler = sampler
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetStore attaches the session store once a session opens.
func (m *Monitor) SetStore(store *session.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
}

// AddFlusher registers state that must reach disk during the cascade. The
// returned function removes the registration; call it once the owner has
// nothing left to lose.
func (m *Monitor) AddFlusher(f Flusher) (remove func()) {
	m.mu.Lock()
	m.flushers = append(m.flushers, f)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, cur := range m.flushers {
			if cur == f {
				m.flushers = append(m.flushers[:i], m.flushers[i+1:]...)
				return
			}
		}
	}
}

// OnCrash registers a callback invoked at the end of the cascade with the
// crash record. Callbacks must not assume the session store is usable.
func (m *Monitor) OnCrash(fn func(Record)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Install hooks the platform's termination signals. A second Install is a
// no-op until Uninstall is called.
func (m *Monitor) Install() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.installed {
		return
	}
	m.installed = true
	m.sigCh = make(chan os.Signal, 4)
	m.done = make(chan struct{})
	signal.Notify(m.sigCh, monitorSignals()...)
	go m.watchSignals(m.sigCh, m.done)
}

// Uninstall releases the signal hooks, restoring default delivery.
func (m *Monitor) Uninstall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.installed {
		return
	}
	m.installed = false
	signal.Stop(m.sigCh)
	close(m.done)
}

func (m *Monitor) watchSignals(ch <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case sig := <-ch:
			m.handleSignal(sig)
		case <-done:
			return
		}
	}
}

func (m *Monitor) handleSignal(sig os.Signal) {
	slog.Warn("termination signal received", "signal", sig.String())
	m.HandleFailure("signal "+sig.String(), fmt.Sprintf("process received %s", sig), nil)
	m.exit(exitCodeFor(sig))
}

// HandlePanic runs the cascade for a recovered panic, then re-panics so
// the runtime prints the failure and exits as usual. Use it from deferred
// recovers at goroutine roots:
//
//	defer func() {
//		if r := recover(); r != nil {
//			monitor.HandlePanic(r, debug.Stack())
//		}
//	}()
func (m *Monitor) HandlePanic(recovered any, stack []byte) {
	m.HandleFailure(KindPanic, fmt.Sprint(recovered), stack)
	panic(recovered)
}

// HandleFailure runs the full save cascade for one fatal failure and
// returns the record it wrote. It neither exits nor panics, so tests can
// drive it with synthetic failures.
func (m *Monitor) HandleFailure(kind, message string, stack []byte) Record {
	if !m.handling.CompareAndSwap(false, true) {
		slog.Error("failure while a crash was already being handled, forcing exit",
			"kind", kind, "message", message)
		m.exit(1)
		return Record{}
	}
	defer m.handling.Store(false)

	m.mu.Lock()
	m.crashCount++
	count := m.crashCount
	store := m.store
	flushers := make([]Flusher, len(m.flushers))
	copy(flushers, m.flushers)
	callbacks := make([]func(Record), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	rec := m.buildRecord(kind, message, stack, count, store)

	slog.Error("fatal failure detected, running save cascade",
		"kind", kind, "message", message, "crash_count", count)
	if store != nil {
		store.EventLog().Log(session.NewEvent(session.EventCrash, session.CrashData(kind, message)))
	}

	step("emergency save", func() { m.saveEverything(store, kind, rec) })
	for _, f := range flushers {
		step("recorder flush", f.EmergencyFlush)
	}
	step("crash report", func() { m.writeReport(store, rec) })
	for _, fn := range callbacks {
		step("crash callback", func() { fn(rec) })
	}

	m.mu.Lock()
	m.history = append(m.history, rec)
	m.mu.Unlock()

	return rec
}

// step isolates one cascade tier: a panic inside it is logged and the
// cascade moves on.
func step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("crash cascade step panicked", "step", name, "panic", r)
		}
	}()
	fn()
}

// CrashCount returns how many failures this monitor has handled.
func (m *Monitor) CrashCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.crashCount
}

// History returns the records handled so far, oldest first.
func (m *Monitor) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.history))
	copy(out, m.history)
	return out
}
