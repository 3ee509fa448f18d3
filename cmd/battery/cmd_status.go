package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brodbeck-lab/battery/internal/heartbeat"
	"github.com/brodbeck-lab/battery/internal/projectconfig"
	"github.com/brodbeck-lab/battery/internal/session"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored session state per participant",
		Long: `Show the stored session state for every participant under the data root.

Sessions are inspected read-only: nothing is created, resumed or cleaned
up. A session whose process stopped heartbeating while the document was
still active is flagged as stale.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}

	cmd.Flags().Bool("all", false, "Include participants without a stored session")
	cmd.Flags().StringP("participant", "p", "", "Show one participant only")

	return cmd
}

// participantStatus is one row of the status table.
type participantStatus struct {
	id         string
	inspection session.Inspection
	lastBeat   time.Time
	vanished   bool
	dataFiles  int
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	showAll, err := cmd.Flags().GetBool("all")
	if err != nil {
		return err
	}
	only, err := cmd.Flags().GetString("participant")
	if err != nil {
		return err
	}

	ids, err := session.ListParticipants(cfg.DataRoot)
	if err != nil {
		return err
	}
	if only != "" {
		ids = []string{only}
		showAll = true
	}

	w := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintf(w, "No participant data under %s\n", cfg.DataRoot) //nolint:errcheck
		return nil
	}

	now := time.Now()
	maxAge := time.Duration(cfg.Recovery.MaxSessionAgeDays) * 24 * time.Hour
	cutoff := staleCutoff(cfg)

	statuses := make([]participantStatus, len(ids))
	var g errgroup.Group
	g.SetLimit(8)
	for i, id := range ids {
		g.Go(func() error {
			st, err := gatherStatus(cfg.DataRoot, id, now, maxAge, cutoff)
			if err != nil {
				return fmt.Errorf("scanning %s: %w", id, err)
			}
			statuses[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !showAll {
		kept := statuses[:0]
		for _, st := range statuses {
			if st.inspection.HasSession {
				kept = append(kept, st)
			}
		}
		statuses = kept
	}
	if len(statuses) == 0 {
		fmt.Fprintf(w, "No stored sessions under %s (use --all to list every participant)\n", cfg.DataRoot) //nolint:errcheck
		return nil
	}

	printStatusTable(w, statuses)
	return nil
}

// gatherStatus inspects one participant's folder without mutating it.
func gatherStatus(root, id string, now time.Time, maxAge, cutoff time.Duration) (participantStatus, error) {
	st := participantStatus{id: id}
	st.inspection = session.Inspect(root, id, now, maxAge)

	paths := session.NewPaths(root, id)
	docActive := st.inspection.Doc != nil && st.inspection.Doc.Active
	st.lastBeat, st.vanished = heartbeat.Vanished(paths, docActive, cutoff, now)

	n, err := countFiles(paths.DataDir(), ".json")
	if err != nil {
		return st, err
	}
	st.dataFiles = n
	return st, nil
}

// staleCutoff scales the configured heartbeat interval into the age past
// which a heartbeat counts as gone.
func staleCutoff(cfg *projectconfig.ProjectConfig) time.Duration {
	interval := time.Duration(cfg.Intervals.HeartbeatMS) * time.Millisecond
	if interval <= 0 {
		interval = heartbeat.DefaultHeartbeatInterval
	}
	return interval * heartbeat.DefaultStaleFactor
}

func countFiles(dir, suffix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			n++
		}
	}
	return n, nil
}

// cell is one table value with optional color. Padding happens before
// colorizing so ANSI escapes never count against the column width.
type cell struct {
	text string
	c    *color.Color
}

func (c cell) render(width int) string {
	s := padRight(c.text, width)
	if c.c != nil {
		return c.c.Sprint(s)
	}
	return s
}

//nolint:errcheck // display function; write errors are not actionable
func printStatusTable(w io.Writer, statuses []participantStatus) {
	const minNameWidth = 11
	nameWidth := minNameWidth
	for _, st := range statuses {
		if n := runewidth.StringWidth(st.id); n > nameWidth {
			nameWidth = n
		}
	}

	const colSession = 12
	const colTasks = 6
	const colTask = 18
	const colTrials = 8
	const colData = 5
	colHeartbeat := len("Heartbeat")
	for _, st := range statuses {
		if n := runewidth.StringWidth(heartbeatCell(st).text); n > colHeartbeat {
			colHeartbeat = n
		}
	}
	totalWidth := nameWidth + colSession + colTasks + colTask + colTrials + colData + colHeartbeat + 12 // 12 = 6 gaps × 2 spaces

	fmt.Fprintf(w, "%s  %s  %s  %s  %s  %s  %s\n",
		padRight("Participant", nameWidth),
		padRight("Session", colSession),
		padRight("Tasks", colTasks),
		padRight("Current task", colTask),
		padRight("Trials", colTrials),
		padRight("Data", colData),
		"Heartbeat")
	fmt.Fprintf(w, "%s\n", strings.Repeat("─", totalWidth))

	resumable := 0
	for _, st := range statuses {
		if st.inspection.Recoverable {
			resumable++
		}
		fmt.Fprintf(w, "%s  %s  %s  %s  %s  %s  %s\n",
			padRight(st.id, nameWidth),
			sessionCell(st.inspection).render(colSession),
			padRight(tasksDone(st.inspection.Doc), colTasks),
			padRight(currentTask(st.inspection.Doc), colTask),
			padRight(trialsCell(st.inspection.Doc), colTrials),
			padRight(fmt.Sprintf("%d", st.dataFiles), colData),
			heartbeatCell(st).render(colHeartbeat))
	}

	if resumable > 0 {
		fmt.Fprintf(w, "\n%d session(s) can be resumed with 'battery run'.\n", resumable)
	}
}

func sessionCell(ins session.Inspection) cell {
	switch {
	case ins.LoadError != "":
		return cell{"unreadable", color.New(color.FgRed)}
	case !ins.HasSession:
		return cell{"-", nil}
	case ins.Recoverable && ins.Doc.CrashDetected:
		return cell{"crashed", color.New(color.FgRed)}
	case ins.Recoverable:
		return cell{"interrupted", color.New(color.FgYellow)}
	case ins.Doc.Completed:
		return cell{"complete", color.New(color.FgHiGreen)}
	default:
		return cell{"not resumable", color.New(color.FgHiBlack)}
	}
}

func tasksDone(doc *session.Document) string {
	if doc == nil || len(doc.TaskQueue) == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", len(doc.CompletedTasks), len(doc.TaskQueue))
}

func currentTask(doc *session.Document) string {
	if doc == nil || doc.CurrentTask == nil {
		return "-"
	}
	return *doc.CurrentTask
}

func trialsCell(doc *session.Document) string {
	if doc == nil || doc.CurrentTaskState == nil {
		return "-"
	}
	return fmt.Sprintf("%d/%d", len(doc.CurrentTaskState.TrialData), doc.CurrentTaskState.TotalTrials)
}

func heartbeatCell(st participantStatus) cell {
	if st.lastBeat.IsZero() {
		return cell{"-", nil}
	}
	ago := agoText(time.Since(st.lastBeat))
	if st.vanished {
		return cell{fmt.Sprintf("%s ago (stale)", ago), color.New(color.FgRed)}
	}
	return cell{fmt.Sprintf("%s ago", ago), nil}
}

func agoText(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}
