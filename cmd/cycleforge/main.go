// Command cycleforge drives the cycle engine from the command line:
// start a run, check on it, resume after a pause, request a pause, or
// tail its logs (spec.md §6).
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Color definitions, a small palette pared down to what a non-interactive
// ops tool needs.
var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "cycleforge",
		Short: "Drive a hierarchical agent cycle engine over a task board",
		Long: bold("cycleforge") + ` plans a feature into a task DAG, spawns worker
sessions to execute it, reviews and flow-traces the result, checkpoints
the repository, and repeats until the feature is complete or escalated.`,
		SilenceUsage: true,
	}

	root.AddCommand(newStartCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newResumeCommand())
	root.AddCommand(newPauseCommand())
	root.AddCommand(newLogCommand())

	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}
