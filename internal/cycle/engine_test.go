package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cycleforge/internal/budget"
	"cycleforge/internal/coordination"
	"cycleforge/internal/external/planner"
	"cycleforge/internal/external/usage"
	"cycleforge/internal/knownissues"
	"cycleforge/internal/reviewer"
	"cycleforge/internal/store"
	"cycleforge/internal/tracer"
	"cycleforge/internal/worker"
)

type fakePlanner struct {
	tasks []planner.PlannedTask
}

func (f *fakePlanner) Plan(ctx context.Context, req planner.PlanRequest) (planner.PlanResponse, error) {
	return planner.PlanResponse{PlanText: "plan for " + req.Feature, Tasks: f.tasks}, nil
}

type fakeVCS struct {
	changedFiles []string
	diff         string
}

func (f *fakeVCS) DiffFiles(ctx context.Context, baseRef string) ([]string, error) {
	return f.changedFiles, nil
}
func (f *fakeVCS) Diff(ctx context.Context, baseRef string) (string, error) { return f.diff, nil }
func (f *fakeVCS) Checkpoint(ctx context.Context, message string) (string, error) {
	return "deadbeef", nil
}

type approvingReviewerClient struct{}

func (approvingReviewerClient) Invoke(ctx context.Context, prompt string, files []string) (string, error) {
	return "```json\n{\"review_performed\":true,\"verdict\":\"APPROVE\",\"issues\":[],\"summary\":\"looks good\"}\n```", nil
}

type fakeUsageClient struct{}

func (fakeUsageClient) Fetch(ctx context.Context) (usage.Snapshot, error) {
	return usage.Snapshot{FiveHourFraction: 0.1, SevenDayFraction: 0.1, ObservedAt: time.Now().UTC()}, nil
}

type fakeTestRunner struct{}

func (fakeTestRunner) Run(files []string, timeout time.Duration) (bool, string, error) {
	return true, "", nil
}

func noopReviewer() *reviewer.Driver {
	return reviewer.NewDriver(approvingReviewerClient{}, reviewer.DefaultConfig())
}

func newTestEngine(t *testing.T, plannedTasks []planner.PlannedTask, changedFiles []string) (*Engine, *store.Store) {
	t.Helper()
	projectDir := t.TempDir()
	st, err := store.Init(projectDir, "add search", "main", "base-commit", 10, 2)
	require.NoError(t, err)

	coord := coordination.NewService(st, fakeTestRunner{})
	sup := worker.NewSupervisor(st, func() worker.Config {
		c := worker.DefaultConfig()
		c.WindDownGrace = time.Second
		return c
	}(), func(projectDir, coordinationAddr, sessionID string, role worker.Role) (string, []string, map[string]string) {
		return "true", nil, nil
	})
	mon := budget.NewMonitor(fakeUsageClient{}, budget.DefaultConfig())
	tr := tracer.NewTracer(func(ctx context.Context, f tracer.Flow) ([]store.FlowFinding, error) {
		return nil, nil
	})
	issues := knownissues.NewRegistry(st.KnownIssuesPath())

	cfg := DefaultConfig()
	cfg.Concurrency = 2
	cfg.ExecutePollInterval = 20 * time.Millisecond
	cfg.OrphanSweepInterval = 50 * time.Millisecond

	eng := New(Deps{
		Store:       st,
		Coordinator: coord,
		Supervisor:  sup,
		Budget:      mon,
		PlanReview:  noopReviewer(),
		CodeReview:  noopReviewer(),
		Tracer:      tr,
		Issues:      issues,
		Planner:     &fakePlanner{tasks: plannedTasks},
		VCS:         &fakeVCS{changedFiles: changedFiles},
	}, projectDir, cfg)
	return eng, st
}

func TestRunCycleCompletesWhenNoTasksPlanned(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := eng.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, DecisionComplete, outcome.Decision)
	require.True(t, outcome.Record.PlanApproved)
	require.True(t, outcome.Record.CodeApproved)
}

func TestPlanCreatesTasksAndDropsUnresolvedDependency(t *testing.T) {
	planned := []planner.PlannedTask{
		{Subject: "build api", Description: "d1"},
		{Subject: "write tests", Description: "d2", DependsOnSubjects: []string{"build api"}},
		{Subject: "deploy", Description: "d3", DependsOnSubjects: []string{"nonexistent subject"}},
	}
	eng, st := newTestEngine(t, planned, nil)

	state, err := st.GetRunState()
	require.NoError(t, err)

	rounds, approved, err := eng.plan(context.Background(), state)
	require.NoError(t, err)
	require.True(t, approved)
	require.Equal(t, 1, rounds)

	tasks, err := st.ListTasks("")
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	var writeTests, deploy store.Task
	for _, tk := range tasks {
		switch tk.Subject {
		case "write tests":
			writeTests = tk
		case "deploy":
			deploy = tk
		}
	}
	require.Len(t, writeTests.DependsOn, 1)
	require.Empty(t, deploy.DependsOn)
}

func TestEscalateWritesEscalationRecord(t *testing.T) {
	eng, st := newTestEngine(t, nil, nil)
	state, err := st.GetRunState()
	require.NoError(t, err)
	state.CurrentCycle = 9
	state.CycleCap = 10

	require.NoError(t, eng.escalate(state, "cycle cap reached without completion", "current_cycle=9 cycle_cap=10"))

	esc, err := st.GetEscalation()
	require.NoError(t, err)
	require.NotNil(t, esc)
	require.Equal(t, []string{"continue", "redirect", "stop"}, esc.Options)

	got, err := st.GetRunState()
	require.NoError(t, err)
	require.Equal(t, store.RunEscalated, got.Status)
}
