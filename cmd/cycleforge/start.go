package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"cycleforge/internal/config"
	"cycleforge/internal/cycle"
	"cycleforge/internal/external/vcs"
	"cycleforge/internal/store"
)

var branchUnsafeChars = regexp.MustCompile(`[^a-z0-9-]+`)

// slugifyBranch turns a feature description into a git-safe branch name,
// e.g. "Add search filters" -> "cycleforge/add-search-filters".
func slugifyBranch(feature string) string {
	slug := branchUnsafeChars.ReplaceAllString(strings.ToLower(feature), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "run"
	}
	return "cycleforge/" + slug
}

func newStartCommand() *cobra.Command {
	var flags config.Config

	cmd := &cobra.Command{
		Use:   "start <feature>",
		Short: "Plan and execute a new feature as a sequence of cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Feature = args[0]
			cfg, err := loadConfig(flags.ProjectDir, flags)
			if err != nil {
				return err
			}

			g := vcs.NewGit(cfg.ProjectDir)
			ctx := cmd.Context()

			branch := slugifyBranch(cfg.Feature)
			if cfg.CurrentBranch {
				detached, err := g.IsDetachedHead(ctx)
				if err != nil {
					return fmt.Errorf("checking current branch: %w", err)
				}
				if detached {
					return fmt.Errorf("--current-branch requires a checked-out branch, HEAD is detached")
				}
				branch, err = g.CurrentBranch(ctx)
				if err != nil {
					return fmt.Errorf("resolving current branch: %w", err)
				}
			} else if err := g.CreateBranch(ctx, branch); err != nil {
				return fmt.Errorf("creating branch %s: %w", branch, err)
			}

			baseCommit, err := g.HeadSHA(ctx)
			if err != nil {
				return fmt.Errorf("resolving base commit: %w", err)
			}

			st, err := store.Init(cfg.ProjectDir, cfg.Feature, branch, baseCommit, cfg.MaxCycles, cfg.Concurrency)
			if err != nil {
				return fmt.Errorf("initializing run: %w", err)
			}

			return runEngine(cmd.Context(), buildRuntime(st, cfg))
		},
	}

	bindRunFlags(cmd, &flags)
	return cmd
}

// bindRunFlags registers the flags shared by start and resume (spec.md §6:
// "resume --project <dir> [options mirroring start]").
func bindRunFlags(cmd *cobra.Command, flags *config.Config) {
	cmd.Flags().StringVar(&flags.ProjectDir, "project", "", "project directory (required)")
	cmd.Flags().IntVar(&flags.Concurrency, "concurrency", 0, "max concurrent worker sessions")
	cmd.Flags().IntVar(&flags.MaxCycles, "max-cycles", 0, "cycle cap before forced escalation")
	cmd.Flags().Float64Var(&flags.UsageThreshold, "usage-threshold", 0, "usage fraction at which to wind down")
	cmd.Flags().BoolVar(&flags.SkipCodex, "skip-codex", false, "kept in the run config; the reviewer dialogue still runs")
	cmd.Flags().BoolVar(&flags.SkipFlowReview, "skip-flow-review", false, "kept in the run config; flow tracing still runs")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "kept in the run config; workers are still spawned")
	cmd.Flags().StringVar(&flags.ContextFile, "context-file", "", "kept in the run config; the file is not passed to the planner")
	cmd.Flags().BoolVar(&flags.CurrentBranch, "current-branch", false, "run on the already checked-out branch instead of creating one")
	cmd.Flags().BoolVar(&flags.Verbose, "verbose", false, "debug-level logging")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on; when empty, the configured address (default :9090) is used")
	_ = cmd.MarkFlagRequired("project")
}

// runEngine drives rt.engine.Run to completion, handling the interactive
// escalation prompt (spec.md §4.8 step 7) and mapping the final decision to
// an exit code (spec.md §6): 0 normal completion, 2 escalation in
// non-interactive mode.
func runEngine(ctx context.Context, rt *runtime) error {
	decision, err := rt.engine.Run(ctx)
	if err != nil {
		return err
	}

	switch decision {
	case cycle.DecisionComplete:
		fmt.Println(green("feature complete"))
		return nil
	case cycle.DecisionPause:
		fmt.Println(yellow("run paused; resume later with `cycleforge resume`"))
		return nil
	case cycle.DecisionEscalate:
		return handleEscalation(rt)
	default:
		return fmt.Errorf("unexpected decision %q", decision)
	}
}

// handleEscalation prints the pending escalation and, in interactive mode
// with a TTY attached, prompts for a choice; otherwise it exits 2 so the
// launching shell can resume after human intervention (spec.md §6).
func handleEscalation(rt *runtime) error {
	esc, err := rt.store.GetEscalation()
	if err != nil {
		return fmt.Errorf("reading escalation: %w", err)
	}
	fmt.Println(red("escalation: ") + esc.Reason)
	if esc.Details != "" {
		fmt.Println(gray(esc.Details))
	}

	if rt.cfg.NonInteractive || !isInteractive() {
		os.Exit(2)
	}

	choice, err := promptEscalationChoice(esc.Options)
	if err != nil {
		return err
	}
	fmt.Printf("recorded choice: %s (re-run `cycleforge resume` after addressing it)\n", choice)
	return nil
}
