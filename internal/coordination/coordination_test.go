package coordination

import (
	"testing"
	"time"

	"cycleforge/internal/store"
)

type fakeRunner struct {
	passed bool
	output string
}

func (f *fakeRunner) Run(files []string, timeout time.Duration) (bool, string, error) {
	return f.passed, f.output, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Init(t.TempDir(), "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	return NewService(st, &fakeRunner{passed: true, output: "ok"})
}

func TestClaimTaskRejectsUnresolvedDependency(t *testing.T) {
	svc := newTestService(t)
	if err := svc.store.CreateTask(store.Task{ID: "base"}); err != nil {
		t.Fatalf("CreateTask base: %v", err)
	}
	if err := svc.store.CreateTask(store.Task{ID: "dependent", DependsOn: []string{"base"}}); err != nil {
		t.Fatalf("CreateTask dependent: %v", err)
	}

	_, err := svc.ClaimTask("dependent", "session-1")
	if err == nil {
		t.Fatal("expected claim to fail while base is still pending")
	}
	ce, ok := err.(*ClaimError)
	if !ok || ce.UnresolvedDepID != "base" {
		t.Fatalf("err = %v, want ClaimError with UnresolvedDepID=base", err)
	}
}

func TestClaimTaskSucceedsAfterDependencyCompletes(t *testing.T) {
	svc := newTestService(t)
	if err := svc.store.CreateTask(store.Task{ID: "base"}); err != nil {
		t.Fatalf("CreateTask base: %v", err)
	}
	if err := svc.store.CreateTask(store.Task{ID: "dependent", DependsOn: []string{"base"}}); err != nil {
		t.Fatalf("CreateTask dependent: %v", err)
	}

	if _, err := svc.ClaimTask("base", "session-1"); err != nil {
		t.Fatalf("ClaimTask base: %v", err)
	}
	if _, err := svc.CompleteTask("base", "session-1", "done", []string{"a.go"}); err != nil {
		t.Fatalf("CompleteTask base: %v", err)
	}

	result, err := svc.ClaimTask("dependent", "session-2")
	if err != nil {
		t.Fatalf("ClaimTask dependent: %v", err)
	}
	if len(result.DependencyContext) != 1 || result.DependencyContext[0].TaskID != "base" {
		t.Fatalf("dependency context = %+v", result.DependencyContext)
	}
	if result.Task.Status != store.TaskInProgress || result.Task.Owner != "session-2" {
		t.Fatalf("claimed task = %+v", result.Task)
	}
}

func TestClaimTaskRejectsDoubleClaimRace(t *testing.T) {
	svc := newTestService(t)
	if err := svc.store.CreateTask(store.Task{ID: "solo"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := svc.ClaimTask("solo", "session-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := svc.ClaimTask("solo", "session-2")
	if err == nil {
		t.Fatal("second claim should fail: task no longer pending")
	}
	ce, ok := err.(*ClaimError)
	if !ok || ce.CurrentStatus != store.TaskInProgress {
		t.Fatalf("err = %v, want ClaimError with CurrentStatus=in_progress", err)
	}
}

func TestClaimTaskAbsent(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ClaimTask("nope", "session-1")
	if err == nil {
		t.Fatal("expected error for missing task")
	}
	ce, ok := err.(*ClaimError)
	if !ok || !ce.TaskAbsent {
		t.Fatalf("err = %v, want ClaimError with TaskAbsent=true", err)
	}
}

func TestCompleteTaskRejectsNonOwner(t *testing.T) {
	svc := newTestService(t)
	if err := svc.store.CreateTask(store.Task{ID: "t1"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := svc.ClaimTask("t1", "session-1"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	_, err := svc.CompleteTask("t1", "session-2", "done", nil)
	if err == nil {
		t.Fatal("expected error: session-2 is not the owner")
	}
}

func TestReadUpdatesFiltersByRecipient(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.PostUpdate("session-1", store.MessageStatus, "broadcast to all", ""); err != nil {
		t.Fatalf("PostUpdate: %v", err)
	}
	if _, err := svc.PostUpdate("session-1", store.MessageAnswer, "just for session-2", "session-2"); err != nil {
		t.Fatalf("PostUpdate: %v", err)
	}
	if _, err := svc.PostUpdate("session-1", store.MessageAnswer, "just for session-3", "session-3"); err != nil {
		t.Fatalf("PostUpdate: %v", err)
	}

	msgs, err := svc.ReadUpdates("session-2", 0)
	if err != nil {
		t.Fatalf("ReadUpdates: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected broadcast + session-2 message, got %d: %+v", len(msgs), msgs)
	}
}

func TestRunTestsTruncatesOutput(t *testing.T) {
	st, err := store.Init(t.TempDir(), "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	longOutput := make([]byte, testOutputTailLimit+500)
	for i := range longOutput {
		longOutput[i] = 'x'
	}
	svc := NewService(st, &fakeRunner{passed: false, output: string(longOutput)})

	result, err := svc.RunTests(nil, time.Second)
	if err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if len(result.Output) != testOutputTailLimit {
		t.Fatalf("output len = %d, want %d", len(result.Output), testOutputTailLimit)
	}
	if result.Passed {
		t.Error("expected passed=false")
	}
}
