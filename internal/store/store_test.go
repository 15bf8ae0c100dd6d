package store

import (
	"testing"
)

func TestInitAndLoad(t *testing.T) {
	dir := t.TempDir()

	s, err := Init(dir, "add-search", "feature/add-search", "abc123", 10, 3)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	state, err := s.GetRunState()
	if err != nil {
		t.Fatalf("GetRunState: %v", err)
	}
	if state.Status != RunInitializing {
		t.Errorf("status = %q, want %q", state.Status, RunInitializing)
	}
	if state.CycleCap != 10 || state.ConcurrencyCap != 3 {
		t.Errorf("caps = %d/%d, want 10/3", state.CycleCap, state.ConcurrencyCap)
	}

	if _, err := Init(dir, "add-search", "feature/add-search", "abc123", 10, 3); err == nil {
		t.Error("second Init on same project should fail")
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := loaded.GetRunState(); err != nil {
		t.Fatalf("GetRunState after Load: %v", err)
	}
}

func TestLoadWithoutRunFails(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Error("Load on uninitialized project should fail")
	}
}

func TestUpdateRunStateRejectsInvariantViolation(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	err = s.UpdateRunState(func(rs *RunState) error {
		rs.CurrentCycle = 6
		return nil
	})
	if err == nil {
		t.Error("update exceeding cycle_cap should fail")
	}

	state, err := s.GetRunState()
	if err != nil {
		t.Fatalf("GetRunState: %v", err)
	}
	if state.CurrentCycle != 0 {
		t.Errorf("rejected update must not persist, got current_cycle=%d", state.CurrentCycle)
	}
}

func TestCreateTaskRejectsUnknownDependency(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	err = s.CreateTask(Task{ID: "t1", Subject: "x", DependsOn: []string{"missing"}})
	if err == nil {
		t.Error("expected error for unresolved dependency")
	}
}

func TestCreateTaskRejectsCycle(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := s.CreateTask(Task{ID: "a"}); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := s.CreateTask(Task{ID: "b", DependsOn: []string{"a"}}); err != nil {
		t.Fatalf("create b: %v", err)
	}
	if err := s.CreateTask(Task{ID: "c", DependsOn: []string{"b"}}); err != nil {
		t.Fatalf("create c: %v", err)
	}

	// a is forced to depend on c would close the loop a->c->b->a.
	err = s.UpdateTask("a", func(tsk *Task) error {
		tsk.DependsOn = []string{"c"}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateTask should not itself check cycles, only CreateTask does: %v", err)
	}

	// A brand-new task whose dependency sits on that loop is rejected.
	if err := s.CreateTask(Task{ID: "d", DependsOn: []string{"a"}}); err == nil {
		t.Error("expected CreateTask to reject d, whose dependency a is on the a->c->b->a cycle")
	}
	graph := map[string][]string{"a": {"c"}, "b": {"a"}, "c": {"b"}}
	if !detectCycle(graph, "d", []string{"a"}) {
		t.Error("expected detectCycle to report the existing a->c->b->a cycle reachable from d")
	}
}

func TestCreateTaskMaintainsBlocksEdge(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := s.CreateTask(Task{ID: "base"}); err != nil {
		t.Fatalf("create base: %v", err)
	}
	if err := s.CreateTask(Task{ID: "dependent", DependsOn: []string{"base"}}); err != nil {
		t.Fatalf("create dependent: %v", err)
	}

	base, err := s.GetTask("base")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(base.Blocks) != 1 || base.Blocks[0] != "dependent" {
		t.Errorf("blocks = %v, want [dependent]", base.Blocks)
	}
}

func TestResetOrphans(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := s.CreateTask(Task{ID: "t1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err = s.UpdateTask("t1", func(tsk *Task) error {
		tsk.Status = TaskInProgress
		tsk.Owner = "session-dead"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	reset, err := s.ResetOrphans(map[string]bool{"session-alive": true})
	if err != nil {
		t.Fatalf("ResetOrphans: %v", err)
	}
	if len(reset) != 1 || reset[0] != "t1" {
		t.Fatalf("reset = %v, want [t1]", reset)
	}

	task, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != TaskPending || task.Owner != "" {
		t.Errorf("task after reset = %+v, want pending with no owner", task)
	}
}

func TestKnownIssuesPathUnderRoot(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if s.KnownIssuesPath() == "" {
		t.Fatal("KnownIssuesPath must not be empty")
	}
}

func TestPauseSignal(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if s.PauseSignalPresent() {
		t.Fatal("pause signal should not be present before WritePauseSignal")
	}
	if err := s.WritePauseSignal("operator"); err != nil {
		t.Fatalf("WritePauseSignal: %v", err)
	}
	if !s.PauseSignalPresent() {
		t.Fatal("pause signal should be present after WritePauseSignal")
	}
	if err := s.ClearPauseSignal(); err != nil {
		t.Fatalf("ClearPauseSignal: %v", err)
	}
	if s.PauseSignalPresent() {
		t.Fatal("pause signal should be gone after ClearPauseSignal")
	}
}

func TestMessagesAppendAndReadSince(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := s.PostMessage(Message{ID: "m1", From: "session-1", Type: MessageStatus, Content: "started"}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if err := s.PostMessage(Message{ID: "m2", From: "session-1", Type: MessageTaskCompleted, Content: "done"}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	all, err := s.ReadMessages(0)
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(all))
	}

	since, err := s.ReadMessages(1)
	if err != nil {
		t.Fatalf("ReadMessages(1): %v", err)
	}
	if len(since) != 1 || since[0].ID != "m2" {
		t.Fatalf("expected only m2, got %+v", since)
	}
}

func TestContractsLastWriterWins(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "f", "b", "c", 5, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := s.RegisterContract(Contract{ID: "c1", ContractType: ContractAPIEndpoint, Specification: "v1"}); err != nil {
		t.Fatalf("RegisterContract: %v", err)
	}
	if err := s.RegisterContract(Contract{ID: "c1", ContractType: ContractAPIEndpoint, Specification: "v2"}); err != nil {
		t.Fatalf("RegisterContract overwrite: %v", err)
	}

	contracts, err := s.GetContracts()
	if err != nil {
		t.Fatalf("GetContracts: %v", err)
	}
	if len(contracts) != 1 || contracts[0].Specification != "v2" {
		t.Fatalf("contracts = %+v, want single v2", contracts)
	}
}
