// Package store is the Durable Store: the single source of truth for run
// state, tasks, sessions, messages, contracts, decisions, known issues, and
// escalations, persisted under <project>/.cycleforge/ as one JSON file or
// directory of JSON files per record, protected by the per-record advisory
// locks in lock.go and written atomically via atomic.go.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	cferrors "cycleforge/internal/errors"
)

const rootDirName = ".cycleforge"

// Store is the filesystem-backed Durable Store rooted at a project
// directory, mirroring the on-disk layout from spec.md §6.
type Store struct {
	root string
}

func layout(projectDir string) string {
	return filepath.Join(projectDir, rootDirName)
}

func (s *Store) statePath() string          { return filepath.Join(s.root, "state.json") }
func (s *Store) tasksDir() string            { return filepath.Join(s.root, "tasks") }
func (s *Store) taskPath(id string) string   { return filepath.Join(s.tasksDir(), id+".json") }
func (s *Store) sessionsDir() string         { return filepath.Join(s.root, "sessions") }
func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+".json")
}
func (s *Store) messagesPath() string     { return filepath.Join(s.root, "messages.jsonl") }
func (s *Store) contractsDir() string     { return filepath.Join(s.root, "contracts") }
func (s *Store) contractPath(id string) string {
	return filepath.Join(s.contractsDir(), id+".json")
}
func (s *Store) decisionsPath() string    { return filepath.Join(s.root, "decisions.jsonl") }
func (s *Store) knownIssuesPath() string  { return filepath.Join(s.root, "known-issues.json") }
func (s *Store) escalationPath() string   { return filepath.Join(s.root, "escalation.json") }
func (s *Store) pauseSignalPath() string  { return filepath.Join(s.root, "pause.signal") }
func (s *Store) flowTracingDir() string   { return filepath.Join(s.root, "flow-tracing") }
func (s *Store) logsDir() string          { return filepath.Join(s.root, "logs") }
func (s *Store) planPath() string         { return filepath.Join(s.root, "plan.md") }

// Init creates a fresh run under projectDir, writing the initial RunState.
// It fails if a run already exists; callers resuming an existing run should
// call Load instead.
func Init(projectDir, feature, branch, baseCommit string, cycleCap, concurrencyCap int) (*Store, error) {
	s := &Store{root: layout(projectDir)}
	if _, err := os.Stat(s.statePath()); err == nil {
		return nil, cferrors.NewPermanentError(
			fmt.Errorf("run already initialized at %s", s.root), "run already exists; use resume")
	}

	for _, dir := range []string{s.root, s.tasksDir(), s.sessionsDir(), s.contractsDir(), s.flowTracingDir(), s.logsDir()} {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	state := RunState{
		Feature:        feature,
		Branch:         branch,
		BaseCommit:     baseCommit,
		CurrentCycle:   0,
		CycleCap:       cycleCap,
		ConcurrencyCap: concurrencyCap,
		Status:         RunInitializing,
		CreatedAt:      now,
		UpdatedAt:      now,
		PlanVersion:    0,
	}
	if err := state.Invariant(); err != nil {
		return nil, cferrors.NewPermanentError(err, "initial run state violates invariant")
	}
	if err := atomicWriteJSON(s.statePath(), state); err != nil {
		return nil, err
	}
	return s, nil
}

// Load opens an existing run under projectDir.
func Load(projectDir string) (*Store, error) {
	s := &Store{root: layout(projectDir)}
	if _, err := os.Stat(s.statePath()); err != nil {
		return nil, cferrors.NewPermanentError(err, "no run found; use start to initialize one")
	}
	return s, nil
}

// GetRunState reads the current RunState.
func (s *Store) GetRunState() (RunState, error) {
	var state RunState
	data, err := readFileOrEmpty(s.statePath())
	if err != nil {
		return state, err
	}
	if data == nil {
		return state, cferrors.NewPermanentError(fmt.Errorf("state.json missing"), "run state not found")
	}
	if err := unmarshalJSON(data, &state); err != nil {
		return state, err
	}
	return state, nil
}

// UpdateRunState performs a locked read-modify-write of the RunState.
func (s *Store) UpdateRunState(mutate func(*RunState) error) error {
	return withLock(s.statePath(), func() error {
		state, err := s.GetRunState()
		if err != nil {
			return err
		}
		if err := mutate(&state); err != nil {
			return err
		}
		state.UpdatedAt = time.Now().UTC()
		if err := state.Invariant(); err != nil {
			return cferrors.NewPermanentError(err, "run state update violates invariant")
		}
		return atomicWriteJSON(s.statePath(), state)
	})
}

// CreateTask persists a new task, rejecting it if its dependencies are
// unknown or if adding it would introduce a dependency cycle (spec.md §3's
// acyclicity invariant, checked via detectCycle in dag.go). On success the
// reverse Blocks edges on each dependency are updated too.
func (s *Store) CreateTask(t Task) error {
	return withLock(s.tasksDir(), func() error {
		existing, err := s.listTasksLocked()
		if err != nil {
			return err
		}

		edges := make(map[string][]string, len(existing))
		byID := make(map[string]Task, len(existing))
		for _, et := range existing {
			edges[et.ID] = et.DependsOn
			byID[et.ID] = et
		}
		if _, ok := byID[t.ID]; ok {
			return cferrors.NewPermanentError(fmt.Errorf("task %s already exists", t.ID), "duplicate task id")
		}
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return cferrors.NewPermanentError(fmt.Errorf("task %s depends on unknown task %s", t.ID, dep),
					"unresolved dependency")
			}
		}
		if detectCycle(edges, t.ID, t.DependsOn) {
			return cferrors.NewPermanentError(fmt.Errorf("creating task %s would introduce a dependency cycle", t.ID),
				"dependency cycle rejected")
		}

		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		if t.Status == "" {
			t.Status = TaskPending
		}
		if err := atomicWriteJSON(s.taskPath(t.ID), t); err != nil {
			return err
		}

		for _, dep := range t.DependsOn {
			depTask := byID[dep]
			depTask.Blocks = appendUnique(depTask.Blocks, t.ID)
			if err := atomicWriteJSON(s.taskPath(depTask.ID), depTask); err != nil {
				return err
			}
		}
		return nil
	})
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// NotFoundError signals that a requested record does not exist, distinct
// from a PermanentError so callers (e.g. coordination.ClaimTask) can tell
// "task absent" apart from "task exists but the operation is invalid".
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

// GetTask reads a single task by id.
func (s *Store) GetTask(id string) (Task, error) {
	var t Task
	data, err := readFileOrEmpty(s.taskPath(id))
	if err != nil {
		return t, err
	}
	if data == nil {
		return t, &NotFoundError{Kind: "task", ID: id}
	}
	return t, unmarshalJSON(data, &t)
}

// ListTasks returns all tasks, optionally filtered by status, sorted by id
// for deterministic iteration order.
func (s *Store) ListTasks(status TaskStatus) ([]Task, error) {
	tasks, err := s.listTasksLocked()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return tasks, nil
	}
	filtered := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == status {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (s *Store) listTasksLocked() ([]Task, error) {
	entries, err := os.ReadDir(s.tasksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	tasks := make([]Task, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.tasksDir(), e.Name()))
		if err != nil {
			return nil, err
		}
		var t Task
		if err := unmarshalJSON(data, &t); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// UpdateTask performs a locked read-modify-write of a single task record.
func (s *Store) UpdateTask(id string, mutate func(*Task) error) error {
	return withLock(s.taskPath(id), func() error {
		t, err := s.GetTask(id)
		if err != nil {
			return err
		}
		if err := mutate(&t); err != nil {
			return err
		}
		return atomicWriteJSON(s.taskPath(id), t)
	})
}

// UpdateTaskAtomic performs a locked read-modify-write like UpdateTask, but
// lets mutate veto the write: returning (false, err) leaves the on-disk
// task untouched and surfaces err to the caller, while (true, nil) persists
// the mutated task. This is the shape the Coordination Service's ClaimTask
// needs: many preconditions must be checked under the same lock before any
// mutation is allowed to happen.
func (s *Store) UpdateTaskAtomic(id string, mutate func(*Task) (bool, error)) error {
	return withLock(s.taskPath(id), func() error {
		t, err := s.GetTask(id)
		if err != nil {
			return err
		}
		ok, err := mutate(&t)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return atomicWriteJSON(s.taskPath(id), t)
	})
}

// ResetOrphans reverts any in_progress task whose owning session is not in
// activeSessionIDs back to pending, clearing its owner. Called at worker
// supervisor startup and periodically to recover from crashed sessions.
func (s *Store) ResetOrphans(activeSessionIDs map[string]bool) ([]string, error) {
	tasks, err := s.ListTasks(TaskInProgress)
	if err != nil {
		return nil, err
	}
	var reset []string
	for _, t := range tasks {
		if activeSessionIDs[t.Owner] {
			continue
		}
		id := t.ID
		if err := s.UpdateTask(id, func(task *Task) error {
			task.Status = TaskPending
			task.Owner = ""
			task.StartedAt = nil
			return nil
		}); err != nil {
			return reset, err
		}
		reset = append(reset, id)
	}
	return reset, nil
}
