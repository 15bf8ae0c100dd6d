package reviewer

import (
	"context"
	"errors"
	"time"

	"cycleforge/internal/external/reviewercli"
	"cycleforge/internal/logging"
)

// Config configures a Driver's timeout and dialogue-loop bounds
// (spec.md §4.5).
type Config struct {
	InvocationTimeout time.Duration
	MaxDialogueRounds int
	RecurrenceLimit   int
}

// DefaultConfig returns spec.md §4.5's exact defaults.
func DefaultConfig() Config {
	return Config{
		InvocationTimeout: reviewercli.DefaultTimeout,
		MaxDialogueRounds: 5,
		RecurrenceLimit:   2,
	}
}

// Driver wraps an external reviewercli.Client with the retry
// classification and dialogue-loop logic spec.md §4.5 and §9 describe.
type Driver struct {
	client reviewercli.Client
	cfg    Config
	logger *logging.Logger
}

// NewDriver builds a Driver invoking client with cfg.
func NewDriver(client reviewercli.Client, cfg Config) *Driver {
	return &Driver{client: client, cfg: cfg, logger: logging.NewComponentLogger("reviewer")}
}

// attemptOutcome is the internal classification of a single invoke+parse
// attempt, used to drive the two-attempt retry state machine.
type attemptOutcome int

const (
	outcomeReal attemptOutcome = iota
	outcomeUnparseable
	outcomeExecutionError
	outcomeToolNotFound
)

func (d *Driver) attempt(ctx context.Context, prompt string, files []string) (*Result, attemptOutcome) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.InvocationTimeout)
	defer cancel()

	raw, err := d.client.Invoke(ctx, prompt, files)
	if err != nil {
		if errors.Is(err, reviewercli.ErrToolNotFound) {
			return nil, outcomeToolNotFound
		}
		return nil, outcomeExecutionError
	}

	result, err := ParseVerdict(raw)
	if err != nil {
		return nil, outcomeUnparseable
	}
	return result, outcomeReal
}

// Review implements spec.md §4.5's two-attempt retry classification:
//   - if either attempt yields a real verdict, return it immediately.
//   - tool-not-found is never retried.
//   - if the second attempt fails by execution error, the outcome is
//     RATE_LIMITED (the tool stopped responding persistently).
//   - if the second attempt produces output but it's unparseable, the
//     outcome is ERROR, not RATE_LIMITED.
func (d *Driver) Review(ctx context.Context, prompt string, files []string) (Verdict, *Result) {
	result, outcome := d.attempt(ctx, prompt, files)
	if outcome == outcomeReal {
		return result.Verdict, result
	}
	if outcome == outcomeToolNotFound {
		return VerdictError, nil
	}

	result, outcome = d.attempt(ctx, prompt, files)
	switch outcome {
	case outcomeReal:
		return result.Verdict, result
	case outcomeToolNotFound:
		return VerdictError, nil
	case outcomeExecutionError:
		return RateLimited, nil
	default: // outcomeUnparseable
		return VerdictError, nil
	}
}
