// Package store is the cycle engine's Durable Store: a filesystem-backed
// repository of the task graph, session status, contracts, decisions,
// messages, and the top-level run state, with per-record advisory locking
// so the Coordination Service and Worker Supervisor — separate processes —
// never observe a torn write or a double claim.
package store

import "time"

// RunStatus is RunState's lifecycle stage.
type RunStatus string

const (
	RunInitializing RunStatus = "initializing"
	RunQuestioning  RunStatus = "questioning"
	RunPlanning     RunStatus = "planning"
	RunExecuting    RunStatus = "executing"
	RunReviewing    RunStatus = "reviewing"
	RunFlowTracing  RunStatus = "flow_tracing"
	RunCheckpoint   RunStatus = "checkpointing"
	RunCompleted    RunStatus = "completed"
	RunEscalated    RunStatus = "escalated"
	RunPaused       RunStatus = "paused"
	RunFailed       RunStatus = "failed"
)

// ReviewerMetrics are cumulative counters the Cycle Engine increments and
// the CLI's status command prints (SPEC_FULL.md §3, supplementing spec.md).
type ReviewerMetrics struct {
	PlanRoundsTotal    int `json:"plan_rounds_total"`
	CodeRoundsTotal    int `json:"code_rounds_total"`
	PresumedRateLimits int `json:"presumed_rate_limits"`
	NoVerdictCount     int `json:"no_verdict_count"`
	ApprovalsTotal     int `json:"approvals_total"`
}

// CycleRecord is appended to RunState.CycleHistory at the end of every
// cycle (spec.md §4.8 step 5).
type CycleRecord struct {
	Index          int        `json:"index"`
	PlanVersion    int        `json:"plan_version"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksFailed    int        `json:"tasks_failed"`
	PlanApproved   bool       `json:"plan_approved"`
	CodeApproved   bool       `json:"code_approved"`
	PlanRounds     int        `json:"plan_rounds"`
	CodeRounds     int        `json:"code_rounds"`
	Duration       string     `json:"duration"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        time.Time  `json:"ended_at"`
	FlowSummary    *FlowSummary `json:"flow_summary,omitempty"`
}

// RunState is the single per-project top-level record.
type RunState struct {
	Feature         string          `json:"feature"`
	Branch          string          `json:"branch"`
	BaseCommit      string          `json:"base_commit"`
	CurrentCycle    int             `json:"current_cycle"`
	CycleCap        int             `json:"cycle_cap"`
	ConcurrencyCap  int             `json:"concurrency_cap"`
	Status          RunStatus       `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	PausedAt        *time.Time      `json:"paused_at,omitempty"`
	ResumeAfter     *time.Time      `json:"resume_after,omitempty"`
	LastUsage       *UsageSnapshot  `json:"last_usage,omitempty"`
	ReviewerMetrics ReviewerMetrics `json:"reviewer_metrics"`
	ActiveSessions  []string        `json:"active_sessions"`
	CycleHistory    []CycleRecord   `json:"cycle_history"`
	PlanVersion     int             `json:"plan_version"`
}

// Invariant validates RunState.Invariant (SPEC_FULL.md §3): current_cycle <=
// cycle cap; status == paused iff paused_at != nil.
func (r RunState) Invariant() error {
	if r.CurrentCycle > r.CycleCap {
		return errInvariant("current_cycle exceeds cycle_cap")
	}
	if (r.Status == RunPaused) != (r.PausedAt != nil) {
		return errInvariant("status==paused must hold iff paused_at is set")
	}
	return nil
}

// UsageSnapshot is the Budget Monitor's last observed utilization.
type UsageSnapshot struct {
	FiveHourFraction  float64   `json:"five_hour_fraction"`
	FiveHourResetsAt  time.Time `json:"five_hour_resets_at"`
	SevenDayFraction  float64   `json:"seven_day_fraction"`
	SevenDayResetsAt  time.Time `json:"seven_day_resets_at"`
	ObservedAt        time.Time `json:"observed_at"`
}

// TaskStatus is Task's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskType classifies a task for planning and fix-task synthesis.
type TaskType string

const (
	TaskBackendAPI      TaskType = "backend_api"
	TaskFrontendUI      TaskType = "frontend_ui"
	TaskDatabase        TaskType = "database"
	TaskSecurity        TaskType = "security"
	TaskTesting         TaskType = "testing"
	TaskInfrastructure  TaskType = "infrastructure"
	TaskGeneral         TaskType = "general"
)

// RiskLevel is a task's estimated risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Task is one unit of work in the project's DAG (spec.md §3).
type Task struct {
	ID                       string     `json:"id"`
	Subject                  string     `json:"subject"`
	Description              string     `json:"description"`
	Status                   TaskStatus `json:"status"`
	Owner                    string     `json:"owner,omitempty"`
	DependsOn                []string   `json:"depends_on,omitempty"`
	Blocks                   []string   `json:"blocks,omitempty"`
	ResultSummary            string     `json:"result_summary,omitempty"`
	FilesChanged             []string   `json:"files_changed,omitempty"`
	TaskType                 TaskType   `json:"task_type"`
	SecurityRequirements     string     `json:"security_requirements,omitempty"`
	PerformanceRequirements  string     `json:"performance_requirements,omitempty"`
	AcceptanceCriteria       []string   `json:"acceptance_criteria,omitempty"`
	RiskLevel                RiskLevel  `json:"risk_level"`
	CreatedAt                time.Time  `json:"created_at"`
	StartedAt                *time.Time `json:"started_at,omitempty"`
	CompletedAt              *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the task has reached a final state for this
// attempt (failed tasks can still be reset to pending by recovery).
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// SessionState is SessionStatus's lifecycle state.
type SessionState string

const (
	SessionStarting SessionState = "starting"
	SessionWorking  SessionState = "working"
	SessionIdle     SessionState = "idle"
	SessionPausing  SessionState = "pausing"
	SessionPaused   SessionState = "paused"
	SessionDone     SessionState = "done"
	SessionFailed   SessionState = "failed"
)

// SessionStatus tracks one worker's liveness and progress (spec.md §3).
type SessionStatus struct {
	SessionID      string       `json:"session_id"`
	State          SessionState `json:"state"`
	CurrentTask    string       `json:"current_task,omitempty"`
	CompletedTasks []string     `json:"completed_tasks,omitempty"`
	ProgressNote   string       `json:"progress_note,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// MessageType is a Message's category.
type MessageType string

const (
	MessageStatus        MessageType = "status"
	MessageQuestion       MessageType = "question"
	MessageAnswer         MessageType = "answer"
	MessageBroadcast      MessageType = "broadcast"
	MessageWindDown       MessageType = "wind_down"
	MessageTaskCompleted  MessageType = "task_completed"
	MessageError          MessageType = "error"
	MessageEscalation     MessageType = "escalation"
)

// Message is an append-only event from a session or the engine (spec.md §3).
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to,omitempty"`
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WindDownReason is the metadata reason carried by a wind_down broadcast.
type WindDownReason string

const (
	WindDownUsageLimit    WindDownReason = "usage_limit"
	WindDownCycleLimit    WindDownReason = "cycle_limit"
	WindDownUserRequested WindDownReason = "user_requested"
)

// ContractType classifies a shared-interface Contract.
type ContractType string

const (
	ContractAPIEndpoint    ContractType = "api_endpoint"
	ContractTypeDefinition ContractType = "type_definition"
	ContractEventSchema    ContractType = "event_schema"
	ContractDatabaseSchema ContractType = "database_schema"
)

// Contract is one shared interface definition, last-writer-wins (spec.md §3).
type Contract struct {
	ID             string       `json:"id"`
	ContractType   ContractType `json:"contract_type"`
	Specification  string       `json:"specification"`
	OwningTask     string       `json:"owning_task,omitempty"`
	RegisteredAt   time.Time    `json:"registered_at"`
}

// DecisionCategory classifies an ArchitecturalDecision.
type DecisionCategory string

const (
	DecisionNaming        DecisionCategory = "naming"
	DecisionAuth          DecisionCategory = "auth"
	DecisionDataModel     DecisionCategory = "data_model"
	DecisionErrorHandling DecisionCategory = "error_handling"
	DecisionAPIDesign     DecisionCategory = "api_design"
	DecisionTesting       DecisionCategory = "testing"
	DecisionPerformance   DecisionCategory = "performance"
	DecisionOther         DecisionCategory = "other"
)

// ArchitecturalDecision is an append-only record (spec.md §3).
type ArchitecturalDecision struct {
	ID            string           `json:"id"`
	OriginatingTask string         `json:"originating_task,omitempty"`
	SessionID     string           `json:"session_id"`
	Category      DecisionCategory `json:"category"`
	Decision      string           `json:"decision"`
	Rationale     string           `json:"rationale,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Severity is a FlowFinding's or KnownIssue's severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityUnknown  Severity = "unknown"
)

// severityRank orders severities for dedup/ranking (spec.md §4.6): higher
// value wins.
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityUnknown:  0,
}

// Rank returns s's relative severity; higher is more severe.
func (s Severity) Rank() int { return severityRank[s] }

// FlowFinding is one finding from the Flow Tracer (spec.md §3).
type FlowFinding struct {
	Severity       Severity `json:"severity"`
	Actor          string   `json:"actor"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	FilePath       string   `json:"file_path"`
	Line           *int     `json:"line,omitempty"`
	CrossBoundary  bool     `json:"cross_boundary"`
	EdgeCase       string   `json:"edge_case,omitempty"`
	FlowID         string   `json:"flow_id"`
}

// FlowSummary aggregates a flow-tracing report's counts per severity and
// cross-boundary findings (spec.md §4.6).
type FlowSummary struct {
	BySeverity     map[Severity]int `json:"by_severity"`
	CrossBoundary  int              `json:"cross_boundary"`
	Total          int              `json:"total"`
}

// KnownIssueSource is where a KnownIssue originated.
type KnownIssueSource string

const (
	SourceCodexReview      KnownIssueSource = "codex_review"
	SourceFlowTracing      KnownIssueSource = "flow_tracing"
	SourceSemgrep          KnownIssueSource = "semgrep"
	SourceIncrementalReview KnownIssueSource = "incremental_review"
	SourceSentinel         KnownIssueSource = "sentinel"
)

// KnownIssue is a deduplicated, append-only finding tracked across cycles
// (spec.md §3/§4.7).
type KnownIssue struct {
	ID               string           `json:"id"`
	Description      string           `json:"description"`
	Severity         Severity         `json:"severity"`
	Source           KnownIssueSource `json:"source"`
	FilePath         string           `json:"file_path,omitempty"`
	CycleFound       int              `json:"cycle_found"`
	CycleAddressed   *int             `json:"cycle_addressed,omitempty"`
	Addressed        bool             `json:"addressed"`
}

// Escalation is written when the engine cannot make forward progress
// without a human (spec.md §4.8 step 7).
type Escalation struct {
	Reason    string    `json:"reason"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
	Options   []string  `json:"options"`
}

func errInvariant(msg string) error { return invariantError(msg) }

type invariantError string

func (e invariantError) Error() string { return "store: invariant violated: " + string(e) }
