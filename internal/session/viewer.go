package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogFile represents a session event log on disk.
type LogFile struct {
	Path      string
	Name      string
	Size      int64
	ModTime   time.Time
	NumEvents int
}

// ListLogs finds session event logs in dir, newest first.
func ListLogs(dir string) ([]LogFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading log directory: %w", err)
	}

	var files []LogFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), "-session.jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(dir, e.Name())
		n, _ := countLines(path) //nolint:errcheck
		files = append(files, LogFile{
			Path:      path,
			Name:      e.Name(),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			NumEvents: n,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})

	return files, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close() //nolint:errcheck
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

// ReadEvents parses all events from a session log file.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var events []Event
	scanner := bufio.NewScanner(f)
	// Increase buffer for large lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // skip malformed lines
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading session log: %w", err)
	}
	return events, nil
}

// RenderTimeline writes a human-readable session timeline to w.
//
//nolint:errcheck // display-only writes; errors are not actionable
func RenderTimeline(w io.Writer, events []Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w, " SESSION TIMELINE")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	start := events[0].Timestamp
	for _, ev := range events {
		elapsed := ev.Timestamp.Sub(start)
		ts := formatDuration(elapsed)

		switch ev.Type {
		case EventSessionStart:
			participant, _ := ev.Data["participant_id"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] ▶  Session started  participant=%s\n", ts, participant)

		case EventSessionResume:
			task, _ := ev.Data["current_task"].(string) //nolint:errcheck
			buffered := jsonNumber(ev.Data["trials_buffered"])
			count := jsonNumber(ev.Data["recovery_count"])
			fmt.Fprintf(w, "[%s] ↻  Session resumed  task=%s  trials=%d  recovery_count=%d\n",
				ts, task, buffered, count)

		case EventRecoveryDiscarded:
			fmt.Fprintf(w, "[%s] ✗  Prior session discarded\n", ts)

		case EventTaskStart, EventTaskResume:
			name, _ := ev.Data["task_name"].(string) //nolint:errcheck
			total := jsonNumber(ev.Data["total_trials"])
			verb := "Task started"
			if ev.Type == EventTaskResume {
				verb = "Task resumed"
			}
			fmt.Fprintf(w, "[%s] ▶  %s: %s (%d trials)\n", ts, verb, name, total)

		case EventTrialRecorded:
			name, _ := ev.Data["task_name"].(string) //nolint:errcheck
			num := jsonNumber(ev.Data["trial_number"])
			fmt.Fprintf(w, "[%s]    · trial %d  (%s)\n", ts, num, name)

		case EventTaskComplete:
			name, _ := ev.Data["task_name"].(string) //nolint:errcheck
			trials := jsonNumber(ev.Data["trials_completed"])
			success, _ := ev.Data["success"].(bool) //nolint:errcheck
			icon := "✓"
			if !success {
				icon = "✗"
			}
			fmt.Fprintf(w, "[%s] %s  Task complete: %s (%d trials)\n", ts, icon, name, trials)

		case EventSaveFailed:
			step, _ := ev.Data["step"].(string)   //nolint:errcheck
			msg, _ := ev.Data["error"].(string)   //nolint:errcheck
			fmt.Fprintf(w, "[%s] ⚠  Save failed (%s): %s\n", ts, step, msg)

		case EventEmergencySave:
			reason, _ := ev.Data["reason"].(string) //nolint:errcheck
			success, _ := ev.Data["success"].(bool) //nolint:errcheck
			icon := "✓"
			if !success {
				icon = "✗"
			}
			fmt.Fprintf(w, "[%s] %s  EMERGENCY SAVE: %s\n", ts, icon, reason)

		case EventResourceWarning:
			msg, _ := ev.Data["message"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] ⚠  Resource warning: %s\n", ts, msg)

		case EventCrash:
			kind, _ := ev.Data["kind"].(string)   //nolint:errcheck
			msg, _ := ev.Data["message"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] ❌ CRASH (%s): %s\n", ts, kind, msg)

		case EventSessionComplete:
			tasks := jsonNumber(ev.Data["tasks_completed"])
			fmt.Fprintf(w, "[%s] ✓  Session complete  tasks=%d\n", ts, tasks)

		case EventSessionEnd:
			fmt.Fprintf(w, "[%s] ■  Session closed\n", ts)

		case EventError:
			msg, _ := ev.Data["message"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] ❌ Error: %s\n", ts, msg)

		default:
			fmt.Fprintf(w, "[%s] %s %v\n", ts, ev.Type, ev.Data)
		}
	}
	fmt.Fprintln(w)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%6dms", d.Milliseconds())
	}
	return fmt.Sprintf("%6.1fs", d.Seconds())
}

// jsonNumber extracts a number from a JSON-decoded value.
func jsonNumber(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64() //nolint:errcheck
		return int(i)
	}
	return 0
}
