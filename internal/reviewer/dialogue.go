package reviewer

import (
	"context"
	"strconv"
	"strings"
)

// Investigator produces a response document addressing the reviewer's
// issues, fed back into the next round's prompt (spec.md §4.5's
// "investigator is invoked to produce a response document").
type Investigator func(ctx context.Context, issues []Issue) (string, error)

// Escalation names an issue that recurred past the configured limit,
// keyed on its first 80 chars (spec.md §4.5).
type Escalation struct {
	Key   string
	Issue Issue
	Count int
}

// DialogueOutcome is one dialogue loop's final result.
type DialogueOutcome struct {
	Verdict    Verdict
	Rounds     int
	LastResult *Result
	Escalated  []Escalation
}

func recurrenceKey(description string) string {
	lower := strings.ToLower(strings.TrimSpace(description))
	if len(lower) > 80 {
		lower = lower[:80]
	}
	return lower
}

// RunDialogue drives spec.md §4.8 steps 1/3's plan/code review loop: invoke
// the reviewer, and while the verdict is not APPROVE, ERROR or RATE_LIMITED, invoke
// investigate to produce a response document appended to the prompt for
// the next round, up to cfg.MaxDialogueRounds. A per-issue recurrence
// counter (keyed on the issue's first 80 chars) escalates once an issue
// recurs cfg.RecurrenceLimit times across rounds.
func (d *Driver) RunDialogue(ctx context.Context, initialPrompt string, files []string, investigate Investigator) DialogueOutcome {
	prompt := initialPrompt
	recurrence := make(map[string]int)
	var escalations []Escalation
	var lastResult *Result
	var verdict Verdict

	maxRounds := d.cfg.MaxDialogueRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}

	for round := 1; round <= maxRounds; round++ {
		verdict, lastResult = d.Review(ctx, prompt, files)

		if lastResult != nil {
			for _, issue := range lastResult.Issues {
				key := recurrenceKey(issue.Description)
				recurrence[key]++
				if recurrence[key] == d.cfg.RecurrenceLimit+1 {
					escalations = append(escalations, Escalation{Key: key, Issue: issue, Count: recurrence[key]})
				}
			}
		}

		if verdict == Approve || verdict == VerdictError || verdict == RateLimited {
			return DialogueOutcome{Verdict: verdict, Rounds: round, LastResult: lastResult, Escalated: escalations}
		}

		if round == maxRounds || investigate == nil {
			break
		}

		var issues []Issue
		if lastResult != nil {
			issues = lastResult.Issues
		}
		response, err := investigate(ctx, issues)
		if err != nil {
			return DialogueOutcome{Verdict: VerdictError, Rounds: round, LastResult: lastResult, Escalated: escalations}
		}
		prompt = initialPrompt + "\n\n--- investigator response (round " + strconv.Itoa(round) + ") ---\n" + response
	}

	return DialogueOutcome{Verdict: verdict, Rounds: maxRounds, LastResult: lastResult, Escalated: escalations}
}
