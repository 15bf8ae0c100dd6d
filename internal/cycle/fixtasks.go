package cycle

import (
	"fmt"

	"cycleforge/internal/store"
)

// SynthesizeFixTasks implements spec.md §4.8 step 6: for every finding with
// severity critical or high, derive a task of type security with a risk
// level proportional to the finding's severity and a single acceptance
// criterion that the finding is resolved. nextID mints each new task's id
// (monotone across the run, supplied by the caller so numbering stays
// consistent with however task ids are allocated elsewhere).
func SynthesizeFixTasks(findings []store.FlowFinding, nextID func() string) []store.Task {
	var tasks []store.Task
	for _, f := range findings {
		if f.Severity != store.SeverityCritical && f.Severity != store.SeverityHigh {
			continue
		}
		risk := store.RiskMedium
		if f.Severity == store.SeverityCritical {
			risk = store.RiskHigh
		}
		tasks = append(tasks, store.Task{
			ID:                 nextID(),
			Subject:            fmt.Sprintf("Fix: %s", f.Title),
			Description:        f.Description,
			TaskType:           store.TaskSecurity,
			RiskLevel:          risk,
			AcceptanceCriteria: []string{"the finding is resolved"},
		})
	}
	return tasks
}
