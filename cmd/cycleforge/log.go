package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cycleforge/internal/store"
)

func newLogCommand() *cobra.Command {
	var projectDir string
	var n int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the run's recent session messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Load(projectDir)
			if err != nil {
				return err
			}
			messages, err := st.ReadMessages(0)
			if err != nil {
				return fmt.Errorf("reading messages: %w", err)
			}
			if n > 0 && len(messages) > n {
				messages = messages[len(messages)-n:]
			}
			for _, m := range messages {
				to := m.To
				if to == "" {
					to = "*"
				}
				fmt.Printf("%s %s %s->%s [%s] %s\n",
					gray(m.Timestamp.Format("15:04:05")), cyan(string(m.Type)), m.From, to, m.ID, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectDir, "project", "", "project directory (required)")
	cmd.Flags().IntVarP(&n, "lines", "n", 0, "show only the last N messages (0 = all)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
