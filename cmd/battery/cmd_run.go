package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/brodbeck-lab/battery/internal/battery"
	"github.com/brodbeck-lab/battery/internal/crash"
	"github.com/brodbeck-lab/battery/internal/heartbeat"
	"github.com/brodbeck-lab/battery/internal/projectconfig"
	"github.com/brodbeck-lab/battery/internal/session"
	"github.com/brodbeck-lab/battery/internal/sysinfo"
	"github.com/brodbeck-lab/battery/internal/tasks"
	"github.com/brodbeck-lab/battery/internal/ui"
)

var (
	batteryPath     string
	participantFlag string
	mockTasks       bool
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a battery for a participant",
		Long: `Run a battery definition for a participant.

Trials are saved continuously. When a previous session for the same
participant was interrupted, the run starts with a resume-or-restart
prompt. Without --participant (and without a participant in the battery
file) the intake form collects the participant's biodata first.

--mock replaces every task with the scripted mock module under the real
task names, which rehearses the whole battery without real stimuli.`,
		Args: cobra.NoArgs,
		RunE: runBatteryE,
	}

	cmd.Flags().StringVar(&batteryPath, "battery", "", "Battery definition file (YAML)")
	cmd.Flags().StringVarP(&participantFlag, "participant", "p", "", "Participant ID (skips the intake form)")
	cmd.Flags().BoolVar(&mockTasks, "mock", false, "Replace every task with the scripted mock module")

	return cmd
}

func runBatteryE(cmd *cobra.Command, args []string) error {
	if batteryPath == "" {
		return errors.New("--battery is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	def, err := battery.Load(batteryPath)
	if err != nil {
		return fmt.Errorf("loading battery definition: %w", err)
	}
	applyConfigIntervals(&def.Intervals, cfg)

	in := cmd.InOrStdin()
	out := cmd.OutOrStdout()

	participant := participantFlag
	if participant == "" {
		participant = def.Participant
	}

	var metadataPath string
	if participant == "" {
		existing, _ := session.ListParticipants(cfg.DataRoot) //nolint:errcheck
		bio, err := ui.CollectBiodata(in, out, existing)
		if err != nil {
			return err
		}
		participant = bio.ParticipantID
		metadataPath, err = ui.WriteMetadata(session.NewPaths(cfg.DataRoot, participant), bio, time.Now())
		if err != nil {
			return err
		}
	} else if err := ui.ValidateParticipantID(participant); err != nil {
		return err
	}

	registry := tasks.Builtin()
	if mockTasks {
		registry = mockRegistry(def)
	}

	var sampler sysinfo.Sampler
	if s, err := sysinfo.New(); err == nil {
		sampler = s
	} else {
		slog.Warn("resource monitoring unavailable", "error", err)
	}

	monitorOpts := []crash.Option{
		crash.WithFallbackDir(filepath.Join(cfg.DataRoot, session.SystemDirName)),
	}
	if sampler != nil {
		monitorOpts = append(monitorOpts, crash.WithSampler(sampler))
	}
	monitor := crash.NewMonitor(nil, monitorOpts...)
	monitor.Install()
	defer monitor.Uninstall()
	defer func() {
		if rec := recover(); rec != nil {
			monitor.HandlePanic(rec, debug.Stack())
		}
	}()

	paths := session.NewPaths(cfg.DataRoot, participant)
	eventLog, err := session.NewJSONLogger(session.DefaultLogPath(paths.LogsDir()))
	if err != nil {
		return err
	}

	prompt := func(summary session.RecoverySummary) (bool, error) {
		resume, err := ui.ConfirmRecovery(in, out, summary)
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return false, &RecoveryDeclinedError{Participant: participant}
			}
			return false, err
		}
		return resume, nil
	}

	maxAge := time.Duration(cfg.Recovery.MaxSessionAgeDays) * 24 * time.Hour
	opts := []battery.RunnerOption{
		battery.WithCrashMonitor(monitor),
		battery.WithResumePrompt(prompt),
		battery.WithStoreOptions(
			session.WithEventLogger(eventLog),
			session.WithMaxSessionAge(maxAge),
		),
	}
	if sampler != nil {
		opts = append(opts, battery.WithHeartbeat(sampler,
			heartbeat.WithMemoryThresholds(cfg.Thresholds.MemoryWarnPercent, cfg.Thresholds.MemoryCriticalPercent),
			heartbeat.WithCPUWarnPercent(cfg.Thresholds.CPUWarnPercent),
		))
	}

	runner := battery.NewRunner(def, registry, cfg.DataRoot, opts...)
	runner.OnProgress(progressListener(out))

	fmt.Fprintf(out, "Running battery: %s\n", batteryPath)
	if def.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", def.Description)
	}
	fmt.Fprintf(out, "Participant: %s\n", participant)
	fmt.Fprintf(out, "Tasks: %s\n", strings.Join(def.TaskNames(), ", "))
	fmt.Fprintf(out, "Data folder: %s\n", paths.ParticipantDir)
	if mockTasks {
		fmt.Fprintln(out, "Mode: mock (scripted modules, no real stimuli)")
	}
	if metadataPath != "" {
		fmt.Fprintf(out, "Biodata saved to: %s\n", metadataPath)
	}
	fmt.Fprintln(out)

	outcome, err := runner.Run(cmd.Context(), participant)
	if err != nil {
		var declined *RecoveryDeclinedError
		if errors.As(err, &declined) {
			return err
		}
		// A halt that left the document resumable is the aborted contract,
		// not a plain failure: the participant's progress survives.
		if session.Inspect(cfg.DataRoot, participant, time.Now(), maxAge).Recoverable {
			return &SessionAbortedError{Participant: participant, Err: err}
		}
		return err
	}

	printOutcome(out, outcome)
	return nil
}

// mockRegistry maps every task in the definition to the scripted mock
// module registered under the task's own name, so the session document
// tracks completion against the real queue entries.
func mockRegistry(def *battery.Definition) *tasks.Registry {
	r := tasks.NewRegistry()
	for _, name := range def.TaskNames() {
		r.Register(name, func() tasks.Module { return tasks.NewMockTaskAs(name) })
	}
	return r
}

// applyConfigIntervals fills interval fields the definition leaves unset
// from the app config. The definition wins; the config intervals are
// always populated, so package defaults only apply through them.
func applyConfigIntervals(iv *battery.Intervals, cfg *projectconfig.ProjectConfig) {
	if iv.AutoSaveMS == 0 {
		iv.AutoSaveMS = cfg.Intervals.AutoSaveMS
	}
	if iv.EmergencySaveMS == 0 {
		iv.EmergencySaveMS = cfg.Intervals.EmergencySaveMS
	}
	if iv.HeartbeatMS == 0 {
		iv.HeartbeatMS = cfg.Intervals.HeartbeatMS
	}
	if iv.ResourceCheckMS == 0 {
		iv.ResourceCheckMS = cfg.Intervals.ResourceCheckMS
	}
	if iv.TaskPollMS == 0 {
		iv.TaskPollMS = cfg.Intervals.TaskPollMS
	}
}

//nolint:errcheck // progress output; write errors are not actionable
func progressListener(w io.Writer) battery.ProgressListener {
	return func(event battery.ProgressEvent) {
		switch event.EventType {
		case battery.EventSessionStart:
			fmt.Fprintf(w, "Starting session with %d task(s)...\n\n", event.TotalTasks)
		case battery.EventSessionResumed:
			fmt.Fprintf(w, "Resuming previous session at task %q\n\n", event.TaskName)
		case battery.EventRecoveryDropped:
			fmt.Fprintf(w, "Previous session discarded, starting fresh\n\n")
		case battery.EventTaskStart:
			fmt.Fprintf(w, "[%d/%d] Task %s (%d trials)\n", event.TaskNum, event.TotalTasks, event.TaskName, event.TotalTrials)
		case battery.EventTaskResumed:
			fmt.Fprintf(w, "[%d/%d] Task %s resumed at trial %d/%d\n", event.TaskNum, event.TotalTasks, event.TaskName, event.TrialNum+1, event.TotalTrials)
		case battery.EventTaskSkipped:
			fmt.Fprintf(w, "[%d/%d] Task %s already completed, skipping\n", event.TaskNum, event.TotalTasks, event.TaskName)
		case battery.EventTrialRecorded:
			slog.Debug("trial recorded", "task", event.TaskName, "trial", event.TrialNum, "total", event.TotalTrials)
		case battery.EventTaskComplete:
			fmt.Fprintf(w, "  done (%d trials)\n", event.TotalTrials)
			if path, ok := event.Details["data_file"].(string); ok {
				fmt.Fprintf(w, "  data: %s\n", path)
			}
		case battery.EventSessionHalted:
			fmt.Fprintf(w, "\nSession halted. Progress is saved; run again to resume.\n")
		}
	}
}

//nolint:errcheck // display function; write errors are not actionable
func printOutcome(w io.Writer, outcome *battery.Outcome) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "="+strings.Repeat("=", 50))
	fmt.Fprintln(w, " SESSION SUMMARY")
	fmt.Fprintln(w, "="+strings.Repeat("=", 50))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Participant:     %s\n", outcome.ParticipantID)
	fmt.Fprintf(w, "Session:         %s\n", outcome.SessionID)
	fmt.Fprintf(w, "Resumed:         %s\n", yesNo(outcome.Resumed))
	fmt.Fprintf(w, "Tasks run:       %d\n", outcome.TasksRun)
	fmt.Fprintf(w, "Tasks skipped:   %d\n", outcome.TasksSkipped)
	fmt.Fprintf(w, "Trials recorded: %d\n", outcome.TrialsRecorded)
	fmt.Fprintf(w, "Duration:        %v\n", outcome.Duration.Round(time.Millisecond))

	if len(outcome.DataFiles) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Data files:")
		for _, f := range outcome.DataFiles {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	fmt.Fprintln(w)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
