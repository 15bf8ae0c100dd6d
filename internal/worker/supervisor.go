// Package worker is the Worker Supervisor: it spawns N concurrent worker
// subprocesses plus one read-only sentinel against the Coordination
// Service, tracks their liveness, delivers broadcast messages, waits for
// them to drain, and forces orphan recovery (spec.md §4.3).
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cycleforge/internal/async"
	"cycleforge/internal/external/subprocess"
	"cycleforge/internal/logging"
	"cycleforge/internal/store"
)

// Config holds the supervisor's concurrency and timing knobs
// (spec.md §4.3/§5).
type Config struct {
	Concurrency      int
	HeartbeatTimeout time.Duration
	WindDownGrace    time.Duration
}

// DefaultConfig returns SPEC_FULL.md §9's chosen defaults (≈2 min
// heartbeat timeout, ≈2 min wind-down grace, matching spec.md §4.3's
// "grace window ≈ 2 min").
func DefaultConfig() Config {
	return Config{
		Concurrency:      3,
		HeartbeatTimeout: 2 * time.Minute,
		WindDownGrace:    2 * time.Minute,
	}
}

// Role distinguishes an execution worker from the read-only sentinel.
type Role string

const (
	RoleWorker   Role = "worker"
	RoleSentinel Role = "sentinel"
)

// LaunchSpec builds the command and args to launch one session's
// subprocess. Kept as an injectable function rather than a concrete LLM
// client because the worker subprocess's actual agent is an external
// collaborator out of this module's scope (spec.md §1).
type LaunchSpec func(projectDir, coordinationAddr, sessionID string, role Role) (command string, args []string, env map[string]string)

// event is one newline-delimited JSON line a worker subprocess emits on
// stdout. Only "result" and "error" events are surfaced to the
// supervisor; everything else (e.g. "tool_use") is logged at debug only
// (spec.md §4.3 step 4).
type event struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type runningSession struct {
	id      string
	role    Role
	proc    *subprocess.Subprocess
	cancel  context.CancelFunc
	done    chan struct{}
}

// Supervisor implements spec.md §4.3.
type Supervisor struct {
	st     *store.Store
	cfg    Config
	launch LaunchSpec
	logger *logging.Logger

	mu      sync.Mutex
	active  map[string]*runningSession
	nextSeq int64
}

// NewSupervisor builds a Supervisor persisting session state to st and
// launching subprocesses via launch.
func NewSupervisor(st *store.Store, cfg Config, launch LaunchSpec) *Supervisor {
	return &Supervisor{
		st:     st,
		cfg:    cfg,
		launch: launch,
		logger: logging.NewComponentLogger("worker"),
		active: make(map[string]*runningSession),
	}
}

// AllocateSessionID returns a fresh, monotone, run-unique session id.
func (s *Supervisor) AllocateSessionID() string {
	n := atomic.AddInt64(&s.nextSeq, 1)
	return fmt.Sprintf("session-%d", n)
}

// ActiveCount returns the number of currently tracked sessions.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// SpawnWorker allocates a session id, writes its initial `starting`
// status, launches its subprocess, and begins consuming its event stream
// in the background (spec.md §4.3 steps 1-4).
func (s *Supervisor) SpawnWorker(ctx context.Context, projectDir, coordinationAddr string, role Role) (string, error) {
	sessionID := s.AllocateSessionID()
	if err := s.st.UpsertSession(store.SessionStatus{SessionID: sessionID, State: store.SessionStarting}); err != nil {
		return "", err
	}

	command, args, env := s.launch(projectDir, coordinationAddr, sessionID, role)
	sessionCtx, cancel := context.WithCancel(ctx)
	proc := subprocess.New(subprocess.Config{
		Command:    command,
		Args:       args,
		Env:        env,
		WorkingDir: projectDir,
	})

	if err := proc.Start(sessionCtx); err != nil {
		cancel()
		_ = s.st.UpsertSession(store.SessionStatus{SessionID: sessionID, State: store.SessionFailed, ProgressNote: err.Error()})
		return "", err
	}

	rs := &runningSession{id: sessionID, role: role, proc: proc, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.active[sessionID] = rs
	s.mu.Unlock()

	if err := s.st.UpsertSession(store.SessionStatus{SessionID: sessionID, State: store.SessionWorking}); err != nil {
		s.logger.Warn("session %s: failed to persist working status: %v", sessionID, err)
	}

	async.Go(s.logger, "worker:"+sessionID, func() {
		s.consume(rs)
	})

	return sessionID, nil
}

// consume reads newline-delimited JSON events from the session's
// subprocess stdout, surfacing only result/error events and logging
// everything else at debug (spec.md §4.3 step 4), then marks the session
// done or failed on stream end (step 5).
func (s *Supervisor) consume(rs *runningSession) {
	defer close(rs.done)
	defer func() {
		s.mu.Lock()
		delete(s.active, rs.id)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(rs.proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var streamErr error
	for scanner.Scan() {
		var ev event
		line := scanner.Bytes()
		if err := json.Unmarshal(line, &ev); err != nil {
			s.logger.Debug("session %s: unparseable event: %s", rs.id, line)
			continue
		}
		switch ev.Type {
		case "result":
			s.logger.Info("session %s: result: %s", rs.id, ev.Message)
		case "error":
			s.logger.Error("session %s: error: %s", rs.id, ev.Message)
			streamErr = fmt.Errorf("%s", ev.Message)
		default:
			s.logger.Debug("session %s: %s event: %s", rs.id, ev.Type, ev.Message)
		}
	}

	waitErr := rs.proc.Wait()
	if streamErr == nil {
		streamErr = waitErr
	}

	if streamErr != nil {
		_ = s.st.UpsertSession(store.SessionStatus{SessionID: rs.id, State: store.SessionFailed, ProgressNote: streamErr.Error()})
	} else {
		_ = s.st.UpsertSession(store.SessionStatus{SessionID: rs.id, State: store.SessionDone})
	}
}

// BroadcastWindDown posts a wind_down Message with reason (and optional
// resetsAt), which every worker observes on its next read_updates poll
// (spec.md §4.3's wind-down protocol).
func (s *Supervisor) BroadcastWindDown(reason store.WindDownReason, resetsAt *time.Time) error {
	metadata := map[string]any{"reason": string(reason)}
	if resetsAt != nil {
		metadata["resets_at"] = resetsAt.Format(time.RFC3339)
	}
	return s.st.PostMessage(store.Message{
		From:     "supervisor",
		Type:     store.MessageWindDown,
		Content:  fmt.Sprintf("winding down: %s", reason),
		Metadata: metadata,
	})
}

// WaitForDrain waits up to the configured grace window for every active
// session to finish, returning the ids of any sessions still active on
// timeout (these become orphans for the next ResetOrphans sweep).
func (s *Supervisor) WaitForDrain(ctx context.Context) []string {
	deadline := time.After(s.cfg.WindDownGrace)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return s.activeIDs()
		case <-deadline:
			return s.activeIDs()
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) activeIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// ActiveSessionSet returns the current active session ids as a set, used
// by store.ResetOrphans to distinguish live owners from crashed ones.
func (s *Supervisor) ActiveSessionSet() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.active))
	for id := range s.active {
		out[id] = true
	}
	return out
}

// Stop force-terminates every active session's subprocess (used on
// grace-window timeout or shutdown).
func (s *Supervisor) Stop() {
	s.mu.Lock()
	sessions := make([]*runningSession, 0, len(s.active))
	for _, rs := range s.active {
		sessions = append(sessions, rs)
	}
	s.mu.Unlock()

	for _, rs := range sessions {
		_ = rs.proc.Stop()
		rs.cancel()
	}
}
