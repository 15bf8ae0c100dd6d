package cycle

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"cycleforge/internal/store"
)

func TestSynthesizeFixTasksOnlyCriticalAndHigh(t *testing.T) {
	findings := []store.FlowFinding{
		{Title: "sql injection", Description: "unsanitized input", Severity: store.SeverityCritical},
		{Title: "leaked header", Description: "cross-boundary leak", Severity: store.SeverityHigh},
		{Title: "minor nit", Description: "cosmetic", Severity: store.SeverityLow},
	}

	n := 0
	nextID := func() string {
		n++
		return "fix-" + strconv.Itoa(n)
	}

	tasks := SynthesizeFixTasks(findings, nextID)
	require.Len(t, tasks, 2)
	require.Equal(t, store.TaskSecurity, tasks[0].TaskType)
	require.Equal(t, store.RiskHigh, tasks[0].RiskLevel)
	require.Equal(t, store.RiskMedium, tasks[1].RiskLevel)
	for _, task := range tasks {
		require.Equal(t, []string{"the finding is resolved"}, task.AcceptanceCriteria)
	}
}
