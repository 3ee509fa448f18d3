package battery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brodbeck-lab/battery/internal/crash"
	"github.com/brodbeck-lab/battery/internal/export"
	"github.com/brodbeck-lab/battery/internal/heartbeat"
	"github.com/brodbeck-lab/battery/internal/recorder"
	"github.com/brodbeck-lab/battery/internal/scheduler"
	"github.com/brodbeck-lab/battery/internal/session"
	"github.com/brodbeck-lab/battery/internal/sysinfo"
	"github.com/brodbeck-lab/battery/internal/tasks"
)

// ResumePrompt decides a pending recovery: true resumes the stored
// session, false discards it and starts fresh.
type ResumePrompt func(session.RecoverySummary) (bool, error)

// ProgressListener receives progress updates while a battery runs.
type ProgressListener func(event ProgressEvent)

// EventType identifies a progress event.
type EventType string

// Progress event types, in the order a normal run emits them.
const (
	EventSessionStart    EventType = "session_start"
	EventSessionResumed  EventType = "session_resumed"
	EventRecoveryDropped EventType = "recovery_discarded"
	EventTaskStart       EventType = "task_start"
	EventTaskResumed     EventType = "task_resumed"
	EventTaskSkipped     EventType = "task_skipped"
	EventTrialRecorded   EventType = "trial_recorded"
	EventTaskComplete    EventType = "task_complete"
	EventSessionComplete EventType = "session_complete"
	EventSessionHalted   EventType = "session_halted"
)

// ProgressEvent is one progress update.
type ProgressEvent struct {
	EventType   EventType
	TaskName    string
	TaskNum     int
	TotalTasks  int
	TrialNum    int
	TotalTrials int
	Details     map[string]any
}

// Outcome summarizes a finished run.
type Outcome struct {
	ParticipantID    string
	SessionID        string
	Resumed          bool
	SessionCompleted bool
	TasksRun         int
	TasksSkipped     int
	TrialsRecorded   int
	DataFiles        []string
	Duration         time.Duration
}

// Runner drives one battery definition through a session: open the
// store, settle recovery, install the queue, then run every remaining
// task to completion and export its data file.
type Runner struct {
	def         *Definition
	registry    *tasks.Registry
	storageRoot string

	sched         scheduler.Scheduler
	monitor       *crash.Monitor
	sampler       sysinfo.Sampler
	confirmResume ResumePrompt
	storeOpts     []session.StoreOption
	recorderOpts  []recorder.Option
	watcherOpts   []heartbeat.Option

	progressMu sync.Mutex
	listeners  []ProgressListener
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithScheduler overrides the cadence scheduler for every collaborator
// the runner constructs.
func WithScheduler(s scheduler.Scheduler) RunnerOption {
	return func(r *Runner) { r.sched = s }
}

// WithCrashMonitor attaches a fault handler. The runner binds the open
// store to it and registers each task's recorder as a flusher for the
// duration of that task.
func WithCrashMonitor(m *crash.Monitor) RunnerOption {
	return func(r *Runner) { r.monitor = m }
}

// WithHeartbeat enables the heartbeat and resource watcher for the
// session, fed by the given sampler. Extra options are appended after
// the ones derived from the definition's intervals, so they win.
func WithHeartbeat(sampler sysinfo.Sampler, opts ...heartbeat.Option) RunnerOption {
	return func(r *Runner) {
		r.sampler = sampler
		r.watcherOpts = append(r.watcherOpts, opts...)
	}
}

// WithResumePrompt sets the recovery decision. Without one the runner
// resumes automatically: discarding is the destructive choice and never
// a safe default.
func WithResumePrompt(fn ResumePrompt) RunnerOption {
	return func(r *Runner) { r.confirmResume = fn }
}

// WithStoreOptions passes options through to session.Open.
func WithStoreOptions(opts ...session.StoreOption) RunnerOption {
	return func(r *Runner) { r.storeOpts = append(r.storeOpts, opts...) }
}

// WithRecorderOptions appends options to every task recorder, after the
// ones derived from the definition's intervals.
func WithRecorderOptions(opts ...recorder.Option) RunnerOption {
	return func(r *Runner) { r.recorderOpts = append(r.recorderOpts, opts...) }
}

// NewRunner creates a runner for one battery definition.
func NewRunner(def *Definition, registry *tasks.Registry, storageRoot string, opts ...RunnerOption) *Runner {
	r := &Runner{
		def:         def,
		registry:    registry,
		storageRoot: storageRoot,
		sched:       scheduler.NewTicker(),
		confirmResume: func(session.RecoverySummary) (bool, error) {
			return true, nil
		},
		listeners: []ProgressListener{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnProgress registers a progress listener.
func (r *Runner) OnProgress(listener ProgressListener) {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.listeners = append(r.listeners, listener)
}

func (r *Runner) notifyProgress(event ProgressEvent) {
	r.progressMu.Lock()
	listeners := make([]ProgressListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.progressMu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// Run executes the battery for a participant. An empty participantID
// falls back to the definition's participant field.
//
// A run that halts mid-task (trial failure, canceled context) leaves the
// session document active on disk, which is exactly what the next launch
// needs to offer resume.
func (r *Runner) Run(ctx context.Context, participantID string) (*Outcome, error) {
	if participantID == "" {
		participantID = r.def.Participant
	}
	if participantID == "" {
		return nil, errors.New("participant id is required")
	}

	started := time.Now()
	store, err := session.Open(participantID, r.storageRoot, r.storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer store.Close()

	if r.monitor != nil {
		r.monitor.SetStore(store)
		defer r.monitor.SetStore(nil)
	}

	resumed, err := r.settleRecovery(store)
	if err != nil {
		return nil, err
	}

	// A resumed document keeps its stored queue; anything else gets the
	// definition's.
	queue := store.Document().TaskQueue
	if !resumed || len(queue) == 0 {
		queue = r.def.TaskNames()
		if err := store.SetTaskQueue(queue); err != nil {
			return nil, fmt.Errorf("setting task queue: %w", err)
		}
	}

	outcome := &Outcome{
		ParticipantID: participantID,
		SessionID:     store.SessionID(),
		Resumed:       resumed,
	}

	r.notifyProgress(ProgressEvent{
		EventType:  EventSessionStart,
		TotalTasks: len(queue),
		Details: map[string]any{
			"participant_id": participantID,
			"session_id":     store.SessionID(),
			"resumed":        resumed,
		},
	})

	if r.sampler != nil {
		watcher := heartbeat.New(store, r.sampler, r.sched,
			append(watcherOptions(r.def.Intervals), r.watcherOpts...)...)
		watcher.Start()
		defer watcher.Stop()
	}

	doc := store.Document()
	for i, name := range queue {
		if err := ctx.Err(); err != nil {
			r.halt(outcome, name, err)
			return nil, err
		}
		if doc.HasCompleted(name) {
			outcome.TasksSkipped++
			r.notifyProgress(ProgressEvent{
				EventType:  EventTaskSkipped,
				TaskName:   name,
				TaskNum:    i + 1,
				TotalTasks: len(queue),
			})
			continue
		}
		spec, ok := r.def.Task(name)
		if !ok {
			// The stored queue can name a task the definition no longer
			// lists. The registry still knows how to build it.
			spec = TaskSpec{Name: name}
		}
		if err := r.runTask(ctx, store, spec, i+1, len(queue), outcome); err != nil {
			r.halt(outcome, name, err)
			return nil, fmt.Errorf("task %q: %w", name, err)
		}
		outcome.TasksRun++
		doc = store.Document()
	}

	// Normally the final CompleteTask closes the session out. A resumed
	// run whose every task was already complete never hits that path.
	if !store.Completed() {
		store.EndSession()
	}
	outcome.SessionCompleted = store.Completed()
	outcome.Duration = time.Since(started)

	r.notifyProgress(ProgressEvent{
		EventType:  EventSessionComplete,
		TotalTasks: len(queue),
		Details: map[string]any{
			"tasks_run":   outcome.TasksRun,
			"duration_ms": outcome.Duration.Milliseconds(),
		},
	})
	return outcome, nil
}

// settleRecovery resolves a pending recovery decision through the
// configured prompt.
func (r *Runner) settleRecovery(store *session.Store) (resumed bool, err error) {
	summary, ok := store.RecoveryPending()
	if !ok {
		return false, nil
	}
	accept, err := r.confirmResume(summary)
	if err != nil {
		return false, fmt.Errorf("recovery decision: %w", err)
	}
	if !accept {
		if err := store.DiscardRecovered(); err != nil {
			return false, fmt.Errorf("discarding recovered session: %w", err)
		}
		r.notifyProgress(ProgressEvent{
			EventType: EventRecoveryDropped,
			Details:   map[string]any{"participant_id": summary.ParticipantID},
		})
		return false, nil
	}
	if _, err := store.ResumeRecovered(); err != nil {
		return false, fmt.Errorf("resuming session: %w", err)
	}
	r.notifyProgress(ProgressEvent{
		EventType: EventSessionResumed,
		TaskName:  summary.CurrentTask,
		Details: map[string]any{
			"trials_buffered": summary.TrialsBuffered,
			"completed_tasks": summary.CompletedCount,
		},
	})
	return true, nil
}

// runTask drives one task from its resume point to completion and writes
// the exported data file.
func (r *Runner) runTask(ctx context.Context, store *session.Store, spec TaskSpec, taskNum, totalTasks int, outcome *Outcome) error {
	config := spec.EffectiveConfig()
	if prior, ok := store.OpenTaskState(spec.Name); ok && len(prior.Config) > 0 {
		// An interrupted run finishes under its original configuration.
		config = prior.Config
	}
	module, err := r.registry.Create(spec.Name, config)
	if err != nil {
		return err
	}

	rec := recorder.New(store, module, r.sched, r.taskRecorderOptions()...)
	if r.monitor != nil {
		remove := r.monitor.AddFlusher(rec)
		defer remove()
	}

	taskResumed, err := rec.StartWithRecovery(config, module.TotalTrials())
	if err != nil {
		return fmt.Errorf("starting: %w", err)
	}
	// Halting without completing must still stop the cadences and flush.
	defer rec.Abort()

	totalTrials := module.TotalTrials()
	start := 0
	eventType := EventTaskStart
	if taskResumed {
		start = rec.TrialCount()
		eventType = EventTaskResumed
	}
	r.notifyProgress(ProgressEvent{
		EventType:   eventType,
		TaskName:    spec.Name,
		TaskNum:     taskNum,
		TotalTasks:  totalTasks,
		TrialNum:    start,
		TotalTrials: totalTrials,
	})

	for i := start; i < totalTrials; i++ {
		if err := ctx.Err(); err != nil {
			rec.EmergencyFlush()
			return err
		}
		trial, err := module.RunTrial(ctx, i)
		if err != nil {
			rec.EmergencyFlush()
			return fmt.Errorf("trial %d: %w", i+1, err)
		}
		if err := rec.RecordTrial(trial); err != nil {
			return fmt.Errorf("recording trial %d: %w", i+1, err)
		}
		outcome.TrialsRecorded++
		r.notifyProgress(ProgressEvent{
			EventType:   EventTrialRecorded,
			TaskName:    spec.Name,
			TaskNum:     taskNum,
			TotalTasks:  totalTasks,
			TrialNum:    i + 1,
			TotalTrials: totalTrials,
		})
	}

	if err := rec.CompleteWithRecovery(nil); err != nil {
		return err
	}

	doc := store.Document()
	record, ok := lastCompletion(doc, spec.Name)
	if !ok {
		return fmt.Errorf("no completion record for %q after completing it", spec.Name)
	}
	path, err := export.Write(store.Paths().DataDir(), export.Build(doc, record, rec.Trials()))
	if err != nil {
		return fmt.Errorf("writing data file: %w", err)
	}
	outcome.DataFiles = append(outcome.DataFiles, path)

	r.notifyProgress(ProgressEvent{
		EventType:   EventTaskComplete,
		TaskName:    spec.Name,
		TaskNum:     taskNum,
		TotalTasks:  totalTasks,
		TrialNum:    totalTrials,
		TotalTrials: totalTrials,
		Details:     map[string]any{"data_file": path, "trials": record.TrialsCompleted},
	})
	return nil
}

func (r *Runner) halt(outcome *Outcome, taskName string, cause error) {
	slog.Warn("battery halted, session left recoverable",
		"participant", outcome.ParticipantID, "task", taskName, "error", cause)
	r.notifyProgress(ProgressEvent{
		EventType: EventSessionHalted,
		TaskName:  taskName,
		Details:   map[string]any{"error": cause.Error()},
	})
}

// taskRecorderOptions derives recorder options from the definition's
// intervals, with any caller-supplied options appended so they win.
func (r *Runner) taskRecorderOptions() []recorder.Option {
	iv := r.def.Intervals
	var opts []recorder.Option
	if iv.AutoSaveMS > 0 {
		opts = append(opts, recorder.WithAutoSaveInterval(time.Duration(iv.AutoSaveMS)*time.Millisecond))
	}
	if iv.EmergencySaveMS > 0 {
		opts = append(opts, recorder.WithEmergencySaveInterval(time.Duration(iv.EmergencySaveMS)*time.Millisecond))
	}
	return append(opts, r.recorderOpts...)
}

func watcherOptions(iv Intervals) []heartbeat.Option {
	var opts []heartbeat.Option
	if iv.HeartbeatMS > 0 {
		opts = append(opts, heartbeat.WithHeartbeatInterval(time.Duration(iv.HeartbeatMS)*time.Millisecond))
	}
	if iv.ResourceCheckMS > 0 {
		opts = append(opts, heartbeat.WithResourceInterval(time.Duration(iv.ResourceCheckMS)*time.Millisecond))
	}
	if iv.TaskPollMS > 0 {
		opts = append(opts, heartbeat.WithTaskPollInterval(time.Duration(iv.TaskPollMS)*time.Millisecond))
	}
	return opts
}

// lastCompletion returns the most recent completion record for a task.
// Completions are append-only and duplicates are legal, so scan from the
// end.
func lastCompletion(doc *session.Document, taskName string) (session.CompletionRecord, bool) {
	for i := len(doc.CompletedTasks) - 1; i >= 0; i-- {
		if doc.CompletedTasks[i].TaskName == taskName {
			return doc.CompletedTasks[i], true
		}
	}
	return session.CompletionRecord{}, false
}
