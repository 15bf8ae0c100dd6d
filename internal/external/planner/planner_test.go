package planner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePlanResponseFencedJSON(t *testing.T) {
	raw := "Here is my plan.\n```json\n{\"plan_text\": \"build the search feature\", \"tasks\": [{\"subject\": \"build api\", \"description\": \"d1\"}]}\n```\nDone."
	resp, err := ParsePlanResponse(raw)
	require.NoError(t, err)
	require.Equal(t, "build the search feature", resp.PlanText)
	require.Len(t, resp.Tasks, 1)
	require.Equal(t, "build api", resp.Tasks[0].Subject)
}

func TestParsePlanResponseRawJSONFallback(t *testing.T) {
	raw := `some log noise {"plan_text": "plan", "tasks": [{"subject": "write tests", "depends_on_subjects": ["build api"]}]} trailing`
	resp, err := ParsePlanResponse(raw)
	require.NoError(t, err)
	require.Len(t, resp.Tasks, 1)
	require.Equal(t, []string{"build api"}, resp.Tasks[0].DependsOnSubjects)
}

func TestParsePlanResponseNoTaskBlockIsErrNoTaskBlock(t *testing.T) {
	_, err := ParsePlanResponse("nothing parseable here")
	require.ErrorIs(t, err, ErrNoTaskBlock)
}

func TestParsePlanResponseRepairsTrailingComma(t *testing.T) {
	raw := "```json\n{\"plan_text\": \"plan\", \"tasks\": [{\"subject\": \"build api\",}],}\n```"
	resp, err := ParsePlanResponse(raw)
	require.NoError(t, err)
	require.Equal(t, "plan", resp.PlanText)
	require.Len(t, resp.Tasks, 1)
}

func TestBuildPromptIncludesAccumulatedContext(t *testing.T) {
	req := PlanRequest{
		Feature:          "add search",
		PreviousPlan:     "v1 plan text",
		CompletedTasks:   []string{"build api"},
		FailedTasks:      []string{"deploy"},
		ReviewerFeedback: []string{"missing input validation"},
		UnresolvedIssues: []string{"known-issue-1"},
		QandA:            []string{"Q: auth? A: none needed"},
	}
	prompt := buildPrompt(req)
	require.Contains(t, prompt, "add search")
	require.Contains(t, prompt, "v1 plan text")
	require.Contains(t, prompt, "build api")
	require.Contains(t, prompt, "deploy")
	require.Contains(t, prompt, "missing input validation")
	require.Contains(t, prompt, "known-issue-1")
	require.Contains(t, prompt, "Q: auth? A: none needed")
}
