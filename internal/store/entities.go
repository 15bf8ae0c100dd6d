package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cferrors "cycleforge/internal/errors"
)

// UpsertSession writes a session's current status, creating its record on
// first write (spec.md §4.3 session allocation).
func (s *Store) UpsertSession(status SessionStatus) error {
	return withLock(s.sessionPath(status.SessionID), func() error {
		status.UpdatedAt = time.Now().UTC()
		return atomicWriteJSON(s.sessionPath(status.SessionID), status)
	})
}

// GetSessionStatus reads one session's status.
func (s *Store) GetSessionStatus(sessionID string) (SessionStatus, error) {
	var status SessionStatus
	data, err := readFileOrEmpty(s.sessionPath(sessionID))
	if err != nil {
		return status, err
	}
	if data == nil {
		return status, cferrors.NewPermanentError(fmt.Errorf("session %s not found", sessionID), "session not found")
	}
	return status, unmarshalJSON(data, &status)
}

// ListSessions returns every known session, sorted by id.
func (s *Store) ListSessions() ([]SessionStatus, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sessions := make([]SessionStatus, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.sessionsDir(), e.Name()))
		if err != nil {
			return nil, err
		}
		var st SessionStatus
		if err := unmarshalJSON(data, &st); err != nil {
			return nil, err
		}
		sessions = append(sessions, st)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].SessionID < sessions[j].SessionID })
	return sessions, nil
}

// PostMessage appends one message to the append-only message log
// (spec.md §4.2's post_update/read_updates verbs).
func (s *Store) PostMessage(m Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return appendJSONLine(s.messagesPath(), m)
}

// ReadMessages returns the messages from 0-based index sinceSeq of the
// append-only log onward (it skips the first sinceSeq messages), used by
// read_updates for incremental polling.
func (s *Store) ReadMessages(sinceSeq int) ([]Message, error) {
	data, err := readFileOrEmpty(s.messagesPath())
	if err != nil {
		return nil, err
	}
	lines := splitNonEmptyLines(string(data))
	if sinceSeq >= len(lines) {
		return nil, nil
	}
	out := make([]Message, 0, len(lines)-sinceSeq)
	for _, line := range lines[sinceSeq:] {
		var m Message
		if err := unmarshalJSON([]byte(line), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func splitNonEmptyLines(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// RegisterContract writes a shared-interface contract, last-writer-wins on
// its id (spec.md §3).
func (s *Store) RegisterContract(c Contract) error {
	return withLock(s.contractPath(c.ID), func() error {
		if c.RegisteredAt.IsZero() {
			c.RegisteredAt = time.Now().UTC()
		}
		return atomicWriteJSON(s.contractPath(c.ID), c)
	})
}

// GetContracts returns every registered contract, sorted by id.
func (s *Store) GetContracts() ([]Contract, error) {
	entries, err := os.ReadDir(s.contractsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	contracts := make([]Contract, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.contractsDir(), e.Name()))
		if err != nil {
			return nil, err
		}
		var c Contract
		if err := unmarshalJSON(data, &c); err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	sort.Slice(contracts, func(i, j int) bool { return contracts[i].ID < contracts[j].ID })
	return contracts, nil
}

// RecordDecision appends an architectural decision to the append-only
// decision log (spec.md §3/§4.2).
func (s *Store) RecordDecision(d ArchitecturalDecision) error {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	return appendJSONLine(s.decisionsPath(), d)
}

// GetDecisions returns every recorded decision in append order.
func (s *Store) GetDecisions() ([]ArchitecturalDecision, error) {
	data, err := readFileOrEmpty(s.decisionsPath())
	if err != nil {
		return nil, err
	}
	lines := splitNonEmptyLines(string(data))
	out := make([]ArchitecturalDecision, 0, len(lines))
	for _, line := range lines {
		var d ArchitecturalDecision
		if err := unmarshalJSON([]byte(line), &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// KnownIssuesPath exposes the known-issues.json path so the
// internal/knownissues registry (its own package, with its own
// single-process mutex rather than this package's cross-process lock,
// since known issues are only ever read/written by the Cycle Engine
// itself) can own that file directly.
func (s *Store) KnownIssuesPath() string { return s.knownIssuesPath() }

// WriteEscalation records the terminal escalation for a run (spec.md §4.8
// step 7); exactly one escalation exists per run.
func (s *Store) WriteEscalation(e Escalation) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return atomicWriteJSON(s.escalationPath(), e)
}

// GetEscalation reads the run's escalation record, if any.
func (s *Store) GetEscalation() (*Escalation, error) {
	data, err := readFileOrEmpty(s.escalationPath())
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var e Escalation
	if err := unmarshalJSON(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// WritePauseSignal creates the pause signal file the worker supervisor
// polls for, recording who asked and when (spec.md §6, `pause` CLI
// command).
func (s *Store) WritePauseSignal(requestedBy string) error {
	content := fmt.Sprintf("requested_by=%s requested_at=%s\n", requestedBy, time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(s.pauseSignalPath(), []byte(content), 0o644)
}

// PauseSignalPresent reports whether a pause has been requested.
func (s *Store) PauseSignalPresent() bool {
	_, err := os.Stat(s.pauseSignalPath())
	return err == nil
}

// ClearPauseSignal removes the pause signal file once the run has fully
// wound down and transitioned to paused.
func (s *Store) ClearPauseSignal() error {
	err := os.Remove(s.pauseSignalPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// FlowTracingDir returns the directory the Flow Tracer writes its per-cycle
// report JSON into (spec.md §6).
func (s *Store) FlowTracingDir() string { return s.flowTracingDir() }

// LogsDir returns the directory worker session transcripts are written
// into (spec.md §6).
func (s *Store) LogsDir() string { return s.logsDir() }

// WritePlan persists the latest plan text, overwriting any previous plan
// (spec.md §4.8 step 1's "persist the plan").
func (s *Store) WritePlan(text string) error {
	return os.WriteFile(s.planPath(), []byte(text), 0o644)
}

// ReadPlan reads the most recently persisted plan text, returning "" if
// none has been written yet.
func (s *Store) ReadPlan() (string, error) {
	data, err := readFileOrEmpty(s.planPath())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
