package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cycleforge/internal/store"
)

func newPauseCommand() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Request that the running cycle engine pause at its next safe point",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Load(projectDir)
			if err != nil {
				return err
			}
			if err := st.WritePauseSignal("cli"); err != nil {
				return fmt.Errorf("writing pause signal: %w", err)
			}
			fmt.Println(yellow("pause requested; the run will stop at its next safe point"))
			return nil
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", "", "project directory (required)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
