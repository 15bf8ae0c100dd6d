// Package planner is the planning-LLM adapter the Cycle Engine's plan
// phase calls (spec.md §4.8 step 1): invoke the external tool with a
// planning prompt built from the feature and accumulated context, then
// parse a fenced JSON "task block" from its output. Grounded on the same
// fenced-JSON-then-raw-JSON-object parsing idiom as the Reviewer Driver's
// ParseVerdict, since spec.md §7 names "planner produced no task block" as
// its own fatal-for-the-cycle error case, the same shape as an unparseable
// reviewer verdict.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoTaskBlock is returned when the planner's output contains no
// parseable task block (spec.md §7: "fatal for that cycle; raise to the
// engine; the engine records the failure and escalates").
var ErrNoTaskBlock = errors.New("planner: no parseable task block in output")

// PlanRequest carries everything the plan phase has accumulated for one
// planning or replanning call (spec.md §4.8 step 1).
type PlanRequest struct {
	Feature          string
	QandA            []string
	PreviousPlan     string
	CompletedTasks   []string
	FailedTasks      []string
	ReviewerFeedback []string
	UnresolvedIssues []string
}

// PlannedTask is one task as declared by the planner, before dependency
// subjects are resolved to ids.
type PlannedTask struct {
	Subject                 string   `json:"subject"`
	Description             string   `json:"description"`
	DependsOnSubjects       []string `json:"depends_on_subjects"`
	TaskType                string   `json:"task_type"`
	SecurityRequirements    string   `json:"security_requirements"`
	PerformanceRequirements string   `json:"performance_requirements"`
	AcceptanceCriteria      []string `json:"acceptance_criteria"`
	RiskLevel               string   `json:"risk_level"`
}

// PlanResponse is the planner's output for one plan or replan.
type PlanResponse struct {
	PlanText string
	Tasks    []PlannedTask
}

// Client is the narrow interface the Cycle Engine's plan phase depends on.
type Client interface {
	Plan(ctx context.Context, req PlanRequest) (PlanResponse, error)
}

type wireResponse struct {
	PlanText string        `json:"plan_text"`
	Tasks    []PlannedTask `json:"tasks"`
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// ParsePlanResponse extracts a fenced JSON block first, falling back to the
// first raw JSON object containing "tasks", mirroring
// internal/reviewer.ParseVerdict's extraction strategy. Returns
// ErrNoTaskBlock if neither candidate parses.
func ParsePlanResponse(raw string) (PlanResponse, error) {
	candidates := make([]string, 0, 2)
	if m := fencedJSONPattern.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	if obj := firstRawJSONObject(raw); obj != "" {
		candidates = append(candidates, obj)
	}

	for _, candidate := range candidates {
		var wire wireResponse
		if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
			repaired, repairErr := jsonrepair.JSONRepair(candidate)
			if repairErr != nil {
				continue
			}
			if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
				continue
			}
		}
		return PlanResponse{PlanText: wire.PlanText, Tasks: wire.Tasks}, nil
	}
	return PlanResponse{}, ErrNoTaskBlock
}

func firstRawJSONObject(raw string) string {
	idx := strings.Index(raw, `"tasks"`)
	if idx == -1 {
		return ""
	}
	start := strings.LastIndex(raw[:idx], "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

// buildPrompt renders req into the planning prompt sent to the external
// tool on stdin.
func buildPrompt(req PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan the implementation of: %s\n\n", req.Feature)
	if req.PreviousPlan != "" {
		fmt.Fprintf(&b, "Previous plan:\n%s\n\n", req.PreviousPlan)
	}
	writeList(&b, "Completed tasks", req.CompletedTasks)
	writeList(&b, "Failed tasks", req.FailedTasks)
	writeList(&b, "Reviewer feedback", req.ReviewerFeedback)
	writeList(&b, "Unresolved known issues", req.UnresolvedIssues)
	writeList(&b, "Accumulated Q&A", req.QandA)
	b.WriteString("Respond with a fenced JSON block: {\"plan_text\": \"...\", \"tasks\": [{\"subject\": \"...\", \"description\": \"...\", \"depends_on_subjects\": [...], \"task_type\": \"...\", \"risk_level\": \"...\", \"acceptance_criteria\": [...]}]}\n")
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

// CommandClient shells out to a configured planning tool binary, the same
// one-shot exec-with-timeout shape as reviewercli.CommandClient.
type CommandClient struct {
	Command string
	Args    []string
}

// NewCommandClient builds a CommandClient invoking command with baseArgs,
// the prompt passed on stdin.
func NewCommandClient(command string, baseArgs []string) *CommandClient {
	return &CommandClient{Command: command, Args: baseArgs}
}

// Plan implements Client.
func (c *CommandClient) Plan(ctx context.Context, req PlanRequest) (PlanResponse, error) {
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = bytes.NewBufferString(buildPrompt(req))

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout

	if err := cmd.Run(); err != nil {
		return PlanResponse{}, fmt.Errorf("planner command failed: %w", err)
	}
	return ParsePlanResponse(stdout.String())
}
