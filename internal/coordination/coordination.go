// Package coordination is the Coordination Service: the one-request-one-
// response verb surface workers call against a shared store.Store, per
// spec.md §4.2. Every verb is stateless aside from the store handle; no
// cross-request state is kept here.
package coordination

import (
	"fmt"
	"sort"
	"strings"
	"time"

	cferrors "cycleforge/internal/errors"
	"cycleforge/internal/external/testrunner"
	"cycleforge/internal/logging"
	"cycleforge/internal/store"

	"github.com/google/uuid"
)

// Service implements every verb in spec.md §4.2's table.
type Service struct {
	store   *store.Store
	tests   testrunner.Runner
	logger  *logging.Logger
}

// NewService builds a Service over st, proxying run_tests to runner.
func NewService(st *store.Store, runner testrunner.Runner) *Service {
	return &Service{store: st, tests: runner, logger: logging.NewComponentLogger("coordination")}
}

// ListTasks returns tasks ordered by id, optionally filtered by status.
func (s *Service) ListTasks(status store.TaskStatus) ([]store.Task, error) {
	return s.store.ListTasks(status)
}

// DependencyContext summarizes one completed dependency for ClaimTask's
// result (spec.md §4.2's claim_task success result).
type DependencyContext struct {
	TaskID        string   `json:"task_id"`
	ResultSummary string   `json:"result_summary"`
	FilesChanged  []string `json:"files_changed"`
}

// ClaimResult is claim_task's full success payload.
type ClaimResult struct {
	Task               store.Task                        `json:"task"`
	DependencyContext  []DependencyContext                `json:"dependency_context"`
	InProgressSiblings []string                           `json:"in_progress_siblings"`
	Contracts          []store.Contract                   `json:"contracts"`
	Decisions          []store.ArchitecturalDecision       `json:"decisions"`
	Warnings           []string                           `json:"warnings,omitempty"`
}

// ClaimError distinguishes the three documented claim_task failure causes
// (spec.md §4.2: "task-absent, wrong-status-with-current-status,
// blocked-by-unresolved-dep-with-id").
type ClaimError struct {
	TaskAbsent        bool
	CurrentStatus     store.TaskStatus
	UnresolvedDepID   string
	message           string
}

func (e *ClaimError) Error() string { return e.message }

func claimErrTaskAbsent(id string) *ClaimError {
	return &ClaimError{TaskAbsent: true, message: fmt.Sprintf("task %s not found", id)}
}

func claimErrWrongStatus(id string, status store.TaskStatus) *ClaimError {
	return &ClaimError{CurrentStatus: status, message: fmt.Sprintf("task %s is not pending (status=%s)", id, status)}
}

func claimErrUnresolvedDep(id, depID string) *ClaimError {
	return &ClaimError{UnresolvedDepID: depID, message: fmt.Sprintf("task %s blocked on unresolved dependency %s", id, depID)}
}

// ClaimTask implements the atomic claim contract from spec.md §4.2: under
// the task's exclusive lock, reread, verify pending, verify every
// dependency completed (rereading each on the same flight), then mutate
// and persist before releasing the lock. Generalizes
// task.Store.TryClaimTask's lease-claim from a single lease renewal to a
// DAG-dependency-gated claim.
func (s *Service) ClaimTask(taskID, caller string) (*ClaimResult, error) {
	var result *ClaimResult
	err := s.store.UpdateTaskAtomic(taskID, func(t *store.Task) (bool, error) {
		if t.Status != store.TaskPending {
			return false, claimErrWrongStatus(taskID, t.Status)
		}

		deps := make([]DependencyContext, 0, len(t.DependsOn))
		for _, depID := range t.DependsOn {
			dep, err := s.store.GetTask(depID)
			if err != nil {
				return false, claimErrUnresolvedDep(taskID, depID)
			}
			if dep.Status != store.TaskCompleted {
				return false, claimErrUnresolvedDep(taskID, depID)
			}
			deps = append(deps, DependencyContext{
				TaskID:        dep.ID,
				ResultSummary: dep.ResultSummary,
				FilesChanged:  dep.FilesChanged,
			})
		}

		now := time.Now().UTC()
		t.Status = store.TaskInProgress
		t.Owner = caller
		t.StartedAt = &now

		siblings, err := s.inProgressSiblings(taskID)
		if err != nil {
			return false, err
		}
		contracts, err := s.store.GetContracts()
		if err != nil {
			return false, err
		}
		decisions, err := s.store.GetDecisions()
		if err != nil {
			return false, err
		}

		result = &ClaimResult{
			Task:               *t,
			DependencyContext:  deps,
			InProgressSiblings: siblings,
			Contracts:          contracts,
			Decisions:          decisions,
		}
		return true, nil
	})
	if err != nil {
		if ce, ok := err.(*ClaimError); ok {
			return nil, ce
		}
		if _, ok := err.(*store.NotFoundError); ok {
			return nil, claimErrTaskAbsent(taskID)
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) inProgressSiblings(excludeID string) ([]string, error) {
	tasks, err := s.store.ListTasks(store.TaskInProgress)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != excludeID {
			out = append(out, t.ID)
		}
	}
	return out, nil
}

// CompleteTask implements complete_task: only the current owner may
// complete a task.
func (s *Service) CompleteTask(taskID, caller, summary string, filesChanged []string) (store.Task, error) {
	var updated store.Task
	err := s.store.UpdateTask(taskID, func(t *store.Task) error {
		if t.Owner != caller {
			return cferrors.NewPermanentError(
				fmt.Errorf("caller %s is not owner %s of task %s", caller, t.Owner, taskID),
				"caller is not the task's current owner")
		}
		now := time.Now().UTC()
		t.Status = store.TaskCompleted
		t.ResultSummary = summary
		t.FilesChanged = filesChanged
		t.CompletedAt = &now
		updated = *t
		return nil
	})
	return updated, err
}

// ReadUpdates implements read_updates: messages addressed to me or
// unaddressed, posted after since, ascending.
func (s *Service) ReadUpdates(me string, sinceSeq int) ([]store.Message, error) {
	all, err := s.store.ReadMessages(sinceSeq)
	if err != nil {
		return nil, err
	}
	out := make([]store.Message, 0, len(all))
	for _, m := range all {
		if m.To == "" || m.To == me {
			out = append(out, m)
		}
	}
	return out, nil
}

// PostUpdate implements post_update.
func (s *Service) PostUpdate(from string, msgType store.MessageType, content, to string) (store.Message, error) {
	m := store.Message{
		ID:      uuid.NewString(),
		From:    from,
		To:      to,
		Type:    msgType,
		Content: content,
	}
	if err := s.store.PostMessage(m); err != nil {
		return store.Message{}, err
	}
	return m, nil
}

// GetSessionStatus implements get_session_status.
func (s *Service) GetSessionStatus(sessionID string) (store.SessionStatus, bool, error) {
	status, err := s.store.GetSessionStatus(sessionID)
	if err != nil {
		return store.SessionStatus{}, false, nil
	}
	return status, true, nil
}

// RegisterContract implements register_contract (overwrites by id).
func (s *Service) RegisterContract(contractType store.ContractType, id, spec, owningTask string) (store.Contract, error) {
	c := store.Contract{ID: id, ContractType: contractType, Specification: spec, OwningTask: owningTask}
	if err := s.store.RegisterContract(c); err != nil {
		return store.Contract{}, err
	}
	return c, nil
}

// GetContracts implements get_contracts, optionally filtering by type and
// an id substring, registration-time ordered.
func (s *Service) GetContracts(contractType store.ContractType, idSubstring string) ([]store.Contract, error) {
	contracts, err := s.store.GetContracts()
	if err != nil {
		return nil, err
	}
	sort.Slice(contracts, func(i, j int) bool { return contracts[i].RegisteredAt.Before(contracts[j].RegisteredAt) })
	out := make([]store.Contract, 0, len(contracts))
	for _, c := range contracts {
		if contractType != "" && c.ContractType != contractType {
			continue
		}
		if idSubstring != "" && !strings.Contains(c.ID, idSubstring) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// RecordDecision implements record_decision.
func (s *Service) RecordDecision(sessionID string, category store.DecisionCategory, decision, rationale, originatingTask string) (store.ArchitecturalDecision, error) {
	d := store.ArchitecturalDecision{
		ID:              uuid.NewString(),
		OriginatingTask: originatingTask,
		SessionID:       sessionID,
		Category:        category,
		Decision:        decision,
		Rationale:       rationale,
	}
	if err := s.store.RecordDecision(d); err != nil {
		return store.ArchitecturalDecision{}, err
	}
	return d, nil
}

// GetDecisions implements get_decisions, time-ordered, optionally filtered
// by category.
func (s *Service) GetDecisions(category store.DecisionCategory) ([]store.ArchitecturalDecision, error) {
	decisions, err := s.store.GetDecisions()
	if err != nil {
		return nil, err
	}
	if category == "" {
		return decisions, nil
	}
	out := make([]store.ArchitecturalDecision, 0, len(decisions))
	for _, d := range decisions {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out, nil
}

// TestResult is run_tests's success result.
type TestResult struct {
	Passed bool   `json:"passed"`
	Output string `json:"output"`
}

const testOutputTailLimit = 5000

// RunTests implements run_tests, proxying to the external test-runner
// adapter and truncating combined output to its last 5000 chars.
func (s *Service) RunTests(files []string, timeout time.Duration) (TestResult, error) {
	passed, output, err := s.tests.Run(files, timeout)
	if err != nil {
		return TestResult{}, cferrors.NewTransientError(err, "test runner timed out or crashed")
	}
	if len(output) > testOutputTailLimit {
		output = output[len(output)-testOutputTailLimit:]
	}
	return TestResult{Passed: passed, Output: output}, nil
}
