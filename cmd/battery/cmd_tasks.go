package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/brodbeck-lab/battery/internal/tasks"
)

// taskTitles gives each built-in module the label shown to operators.
var taskTitles = map[string]string{
	tasks.StroopName:           "Stroop color-word interference",
	tasks.CVCNamingName:        "CVC syllable naming",
	tasks.LetterMonitoringName: "Letter monitoring",
	tasks.MockName:             "Scripted rehearsal module",
}

func newTasksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the built-in task modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := tasks.Builtin().Names()
			sort.Strings(names)

			w := cmd.OutOrStdout()
			width := 0
			for _, n := range names {
				if len(n) > width {
					width = len(n)
				}
			}
			for _, n := range names {
				fmt.Fprintf(w, "%s  %s\n", padRight(n, width), taskTitles[n]) //nolint:errcheck
			}
			return nil
		},
	}
}
