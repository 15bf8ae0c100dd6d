package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// isInteractive reports whether stdin is a terminal, deciding whether to
// prompt or fall back to a non-interactive default.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptEscalationChoice asks the operator to pick one of an escalation's
// options (spec.md §4.8 step 7: "continue", "redirect", "stop"), using
// readline for arrow-key editing and Ctrl+C/Ctrl+D handling.
func promptEscalationChoice(options []string) (string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("choose [%s]: ", strings.Join(options, "/")),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           readline.NewCancelableStdin(os.Stdin),
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
	})
	if err != nil {
		return "", fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return "", fmt.Errorf("escalation choice cancelled")
		} else if err != nil {
			return "", fmt.Errorf("reading escalation choice: %w", err)
		}
		choice := strings.TrimSpace(line)
		for _, opt := range options {
			if choice == opt {
				return choice, nil
			}
		}
		fmt.Println(yellow("unrecognized choice, try again"))
	}
}
