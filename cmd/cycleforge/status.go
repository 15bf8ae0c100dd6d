package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cycleforge/internal/store"
)

func newStatusCommand() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the run's current state, tasks, and reviewer metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Load(projectDir)
			if err != nil {
				return err
			}
			return printStatus(st)
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", "", "project directory (required)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func printStatus(st *store.Store) error {
	state, err := st.GetRunState()
	if err != nil {
		return fmt.Errorf("reading run state: %w", err)
	}

	fmt.Printf("%s %s\n", bold("feature:"), state.Feature)
	fmt.Printf("%s %s\n", bold("status:"), statusColor(state.Status))
	fmt.Printf("%s %d/%d\n", bold("cycle:"), state.CurrentCycle, state.CycleCap)
	fmt.Printf("%s %s\n", bold("branch:"), state.Branch)

	if state.LastUsage != nil {
		fmt.Printf("%s 5h=%.0f%% 7d=%.0f%%\n", bold("usage:"),
			state.LastUsage.FiveHourFraction*100, state.LastUsage.SevenDayFraction*100)
	}

	m := state.ReviewerMetrics
	fmt.Printf("%s plan_rounds=%d code_rounds=%d approvals=%d no_verdict=%d rate_limits=%d\n",
		bold("reviewer:"), m.PlanRoundsTotal, m.CodeRoundsTotal, m.ApprovalsTotal,
		m.NoVerdictCount, m.PresumedRateLimits)

	tasks, err := st.ListTasks("")
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	fmt.Printf("%s %d total\n", bold("tasks:"), len(tasks))
	for _, tk := range tasks {
		fmt.Printf("  [%s] %s %s\n", taskStatusColor(tk.Status), tk.ID, tk.Subject)
	}

	if state.Status == store.RunEscalated {
		esc, err := st.GetEscalation()
		if err == nil && esc != nil {
			fmt.Printf("%s %s\n", red("escalation:"), esc.Reason)
		}
	}
	return nil
}

func statusColor(s store.RunStatus) string {
	switch s {
	case store.RunCompleted:
		return green(string(s))
	case store.RunEscalated, store.RunFailed:
		return red(string(s))
	case store.RunPaused:
		return yellow(string(s))
	default:
		return cyan(string(s))
	}
}

func taskStatusColor(s store.TaskStatus) string {
	switch s {
	case store.TaskCompleted:
		return green(string(s))
	case store.TaskFailed:
		return red(string(s))
	case store.TaskInProgress:
		return cyan(string(s))
	default:
		return gray(string(s))
	}
}
