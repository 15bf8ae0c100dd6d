package cycle

// Decision is the Cycle Engine's checkpoint outcome (spec.md §4.8 step 4).
type Decision string

const (
	DecisionPause    Decision = "pause"
	DecisionContinue Decision = "continue"
	DecisionComplete Decision = "complete"
	DecisionEscalate Decision = "escalate"
)

// CheckpointInputs are the facts the checkpoint decision table reads.
type CheckpointInputs struct {
	UserPauseRequested       bool
	BudgetCriticalOrWindDown bool
	FlowHasCriticalOrHigh    bool
	CodeApproved             bool
	RemainingTasks           int
	FailedTasks              int
	CurrentCycle             int
	CycleCap                 int
}

// DecideCheckpoint implements spec.md §4.8 step 4's decision table exactly,
// first matching row wins.
func DecideCheckpoint(in CheckpointInputs) Decision {
	switch {
	case in.UserPauseRequested:
		return DecisionPause
	case in.BudgetCriticalOrWindDown:
		return DecisionPause
	case in.FlowHasCriticalOrHigh:
		return DecisionContinue
	case !in.CodeApproved:
		return DecisionContinue
	case in.RemainingTasks == 0 && in.FailedTasks == 0:
		return DecisionComplete
	case in.CurrentCycle+1 >= in.CycleCap:
		return DecisionEscalate
	case in.RemainingTasks > 0 || in.FailedTasks > 0:
		return DecisionContinue
	default:
		return DecisionComplete
	}
}
