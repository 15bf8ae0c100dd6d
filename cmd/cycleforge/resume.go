package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cycleforge/internal/config"
	"cycleforge/internal/store"
)

func newResumeCommand() *cobra.Command {
	var flags config.Config

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused or escalated run from its last durable checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.ProjectDir, flags)
			if err != nil {
				return err
			}

			st, err := store.Load(cfg.ProjectDir)
			if err != nil {
				return err
			}

			state, err := st.GetRunState()
			if err != nil {
				return fmt.Errorf("reading run state: %w", err)
			}
			if state.Status != store.RunPaused && state.Status != store.RunEscalated {
				return fmt.Errorf("run is %s, not paused or escalated; nothing to resume", state.Status)
			}

			return runEngine(cmd.Context(), buildRuntime(st, cfg))
		},
	}

	bindRunFlags(cmd, &flags)
	return cmd
}
