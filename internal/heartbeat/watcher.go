// Package heartbeat keeps an externally visible pulse for one battery
// process and watches its resource budget. The pulse files let the NEXT
// launch distinguish "session still running" from "process vanished
// without clean shutdown"; the resource loop emergency-saves before the
// OS can kill the process for eating too much memory.
package heartbeat

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brodbeck-lab/battery/internal/fsx"
	"github.com/brodbeck-lab/battery/internal/scheduler"
	"github.com/brodbeck-lab/battery/internal/session"
	"github.com/brodbeck-lab/battery/internal/sysinfo"
)

// Cadence defaults. The heartbeat is deliberately fast: its whole value
// is a tight upper bound on when the process was last alive.
const (
	DefaultHeartbeatInterval = 1 * time.Second
	DefaultResourceInterval  = 5 * time.Second
	DefaultTaskPollInterval  = 3 * time.Second
	DefaultStopWait          = 3 * time.Second

	DefaultMemoryWarnPercent     = 80.0
	DefaultMemoryCriticalPercent = 90.0
	DefaultCPUWarnPercent        = 95.0

	// DefaultStaleFactor scales the heartbeat interval into the cutoff
	// past which a heartbeat counts as stale.
	DefaultStaleFactor = 5
)

// Metadata is the sidecar written next to the heartbeat timestamp.
type Metadata struct {
	HeartbeatTime    time.Time `json:"heartbeat_time"`
	ProcessID        int       `json:"process_id"`
	MonitoringActive bool      `json:"monitoring_active"`
	MemoryUsageMB    float64   `json:"memory_usage_mb"`
	SessionActive    bool      `json:"session_active"`
	KnownTasks       []string  `json:"known_tasks"`
}

// Watcher runs three monitoring cadences against one session: the
// heartbeat pulse, resource sampling, and task-state polling.
type Watcher struct {
	store   *session.Store
	sampler sysinfo.Sampler
	sched   scheduler.Scheduler
	now     func() time.Time

	heartbeatInterval time.Duration
	resourceInterval  time.Duration
	taskPollInterval  time.Duration
	stopWait          time.Duration

	memoryWarnPercent     float64
	memoryCriticalPercent float64
	cpuWarnPercent        float64

	onTaskCompleted   func(taskName string)
	onResourceWarning func(kind string, percent float64)

	mu         sync.Mutex
	running    bool
	cadences   []scheduler.Cadence
	knownTasks []string
	knownSet   map[string]bool
	notified   map[string]bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithHeartbeatInterval overrides the pulse cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(w *Watcher) { w.heartbeatInterval = d }
}

// WithResourceInterval overrides the resource sampling cadence.
func WithResourceInterval(d time.Duration) Option {
	return func(w *Watcher) { w.resourceInterval = d }
}

// WithTaskPollInterval overrides the task-state polling cadence.
func WithTaskPollInterval(d time.Duration) Option {
	return func(w *Watcher) { w.taskPollInterval = d }
}

// WithMemoryThresholds overrides the warn and critical memory percentages.
func WithMemoryThresholds(warn, critical float64) Option {
	return func(w *Watcher) {
		w.memoryWarnPercent = warn
		w.memoryCriticalPercent = critical
	}
}

// WithCPUWarnPercent overrides the CPU warning percentage.
func WithCPUWarnPercent(pct float64) Option {
	return func(w *Watcher) { w.cpuWarnPercent = pct }
}

// WithStopWait overrides how long Stop waits for cadences to drain.
func WithStopWait(d time.Duration) Option {
	return func(w *Watcher) { w.stopWait = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// WithCompletionListener registers a callback for task completions the
// watcher observes. Notified at most once per task.
func WithCompletionListener(fn func(taskName string)) Option {
	return func(w *Watcher) { w.onTaskCompleted = fn }
}

// WithWarningListener registers a callback for resource threshold
// breaches. kind is "memory" or "cpu".
func WithWarningListener(fn func(kind string, percent float64)) Option {
	return func(w *Watcher) { w.onResourceWarning = fn }
}

// New builds a watcher for one open session.
func New(store *session.Store, sampler sysinfo.Sampler, sched scheduler.Scheduler, opts ...Option) *Watcher {
	w := &Watcher{
		store:   store,
		sampler: sampler,
		sched:   sched,
		now:     func() time.Time { return time.Now().UTC() },

		heartbeatInterval: DefaultHeartbeatInterval,
		resourceInterval:  DefaultResourceInterval,
		taskPollInterval:  DefaultTaskPollInterval,
		stopWait:          DefaultStopWait,

		memoryWarnPercent:     DefaultMemoryWarnPercent,
		memoryCriticalPercent: DefaultMemoryCriticalPercent,
		cpuWarnPercent:        DefaultCPUWarnPercent,

		knownTasks: []string{},
		knownSet:   make(map[string]bool),
		notified:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the three cadences. Starting a running watcher is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.cadences = []scheduler.Cadence{
		w.sched.Every("watcher/heartbeat", w.heartbeatInterval, w.beat),
		w.sched.Every("watcher/resources", w.resourceInterval, w.sampleResources),
		w.sched.Every("watcher/task-poll", w.taskPollInterval, w.pollTaskState),
	}
	slog.Debug("watcher started",
		"heartbeat", w.heartbeatInterval,
		"resources", w.resourceInterval,
		"task_poll", w.taskPollInterval)
}

// Stop halts all cadences, waiting briefly for in-flight callbacks.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cadences := w.cadences
	w.cadences = nil
	w.mu.Unlock()

	for _, c := range cadences {
		if !c.Stop(w.stopWait) {
			slog.Warn("watcher cadence did not stop cleanly")
		}
	}
	slog.Debug("watcher stopped")
}

// beat writes the heartbeat timestamp and its metadata sidecar.
func (w *Watcher) beat() {
	now := w.now()
	paths := w.store.Paths()

	if err := os.WriteFile(paths.HeartbeatFile(), []byte(now.Format(time.RFC3339)), 0644); err != nil {
		slog.Warn("heartbeat write failed", "error", err)
		return
	}

	var memMB float64
	if w.sampler != nil {
		if snap, err := w.sampler.Sample(); err == nil {
			memMB = snap.ProcessMemoryMB
		}
	}

	w.mu.Lock()
	meta := Metadata{
		HeartbeatTime:    now,
		ProcessID:        os.Getpid(),
		MonitoringActive: w.running,
		MemoryUsageMB:    memMB,
		SessionActive:    w.store.Active(),
		KnownTasks:       append([]string{}, w.knownTasks...),
	}
	w.mu.Unlock()

	if err := fsx.WriteJSONFile(paths.HeartbeatMetaFile(), meta); err != nil {
		slog.Warn("heartbeat metadata write failed", "error", err)
	}
}

// sampleResources checks memory and CPU against the configured thresholds.
// Critical memory pressure triggers an emergency save while saving is
// still possible.
func (w *Watcher) sampleResources() {
	snap, err := w.sampler.Sample()
	if err != nil {
		slog.Warn("resource sample failed", "error", err)
		return
	}

	if snap.MemoryPercent >= w.memoryWarnPercent {
		w.warn("memory", snap.MemoryPercent)
		if snap.MemoryPercent >= w.memoryCriticalPercent {
			slog.Error("memory usage critical, emergency saving", "percent", snap.MemoryPercent)
			w.store.EmergencySave("high memory usage")
		}
	}

	if snap.ProcessCPUPercent > w.cpuWarnPercent {
		w.warn("cpu", snap.ProcessCPUPercent)
	}
}

func (w *Watcher) warn(kind string, percent float64) {
	slog.Warn("resource threshold breached", "kind", kind, "percent", percent)
	w.store.EventLog().Log(session.NewEvent(session.EventResourceWarning,
		session.ResourceWarningData(kind, percent)))
	if w.onResourceWarning != nil {
		w.onResourceWarning(kind, percent)
	}
}

// pollTaskState tracks which tasks have been open and notifies the
// completion listener once per task when an open task is later observed
// completed.
func (w *Watcher) pollTaskState() {
	if state, open := w.store.CurrentTaskSnapshot(); open {
		w.mu.Lock()
		if !w.knownSet[state.TaskName] {
			w.knownSet[state.TaskName] = true
			w.knownTasks = append(w.knownTasks, state.TaskName)
		}
		w.mu.Unlock()
		if state.Finished() {
			w.notifyCompleted(state.TaskName)
		}
		return
	}

	for _, rec := range w.store.Document().CompletedTasks {
		w.notifyCompleted(rec.TaskName)
	}
}

func (w *Watcher) notifyCompleted(name string) {
	w.mu.Lock()
	if !w.knownSet[name] || w.notified[name] {
		w.mu.Unlock()
		return
	}
	w.notified[name] = true
	cb := w.onTaskCompleted
	w.mu.Unlock()

	slog.Info("task completion detected", "task", name)
	if cb != nil {
		cb(name)
	}
}

// LastBeat reads the timestamp the watcher last wrote to a heartbeat
// file. ok is false when the file is missing or unparseable.
func LastBeat(path string) (t time.Time, ok bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	t, err = time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Vanished reports whether a prior process died without a clean shutdown:
// the stored document is still active but its heartbeat stopped more than
// cutoff ago. Sessions that never wrote a heartbeat are not judged.
func Vanished(paths session.Paths, docActive bool, cutoff time.Duration, now time.Time) (lastBeat time.Time, vanished bool) {
	beat, ok := LastBeat(paths.HeartbeatFile())
	if !ok || !docActive {
		return beat, false
	}
	return beat, now.Sub(beat) > cutoff
}
