package reviewer

import (
	"context"
	"testing"

	"cycleforge/internal/external/reviewercli"

	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	output string
	err    error
}

func (c *scriptedClient) Invoke(ctx context.Context, prompt string, files []string) (string, error) {
	r := c.responses[c.calls]
	c.calls++
	return r.output, r.err
}

const approveDoc = `{"review_performed": true, "verdict": "APPROVE", "issues": [], "summary": "fine"}`

func TestReviewReturnsImmediatelyOnFirstRealVerdict(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{{output: approveDoc}}}
	d := NewDriver(client, DefaultConfig())

	verdict, result := d.Review(context.Background(), "review this", nil)
	require.Equal(t, Approve, verdict)
	require.NotNil(t, result)
	require.Equal(t, 1, client.calls)
}

func TestReviewSecondAttemptExecutionErrorIsRateLimited(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{output: "garbled, no json"},
		{err: context.DeadlineExceeded},
	}}
	d := NewDriver(client, DefaultConfig())

	verdict, result := d.Review(context.Background(), "review this", nil)
	require.Equal(t, RateLimited, verdict)
	require.Nil(t, result)
	require.Equal(t, 2, client.calls)
}

func TestReviewSecondAttemptUnparseableIsError(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{output: "garbled, no json"},
		{output: "still garbled"},
	}}
	d := NewDriver(client, DefaultConfig())

	verdict, result := d.Review(context.Background(), "review this", nil)
	require.Equal(t, VerdictError, verdict)
	require.Nil(t, result)
}

func TestReviewToolNotFoundIsNeverRetried(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{{err: reviewercli.ErrToolNotFound}}}
	d := NewDriver(client, DefaultConfig())

	verdict, _ := d.Review(context.Background(), "review this", nil)
	require.Equal(t, VerdictError, verdict)
	require.Equal(t, 1, client.calls, "tool-not-found must not trigger a second attempt")
}

func TestRunDialogueEscalatesRecurringIssue(t *testing.T) {
	needsFixesDoc := `{"review_performed": true, "verdict": "NEEDS_FIXES", "issues": [{"description": "missing input validation on handler", "severity": "major"}]}`
	client := &scriptedClient{responses: []scriptedResponse{
		{output: needsFixesDoc},
		{output: needsFixesDoc},
		{output: needsFixesDoc},
		{output: approveDoc},
	}}
	cfg := DefaultConfig()
	cfg.RecurrenceLimit = 2
	cfg.MaxDialogueRounds = 5
	d := NewDriver(client, cfg)

	calls := 0
	investigate := func(ctx context.Context, issues []Issue) (string, error) {
		calls++
		return "addressed", nil
	}

	outcome := d.RunDialogue(context.Background(), "review this", nil, investigate)
	require.Equal(t, Approve, outcome.Verdict)
	require.Len(t, outcome.Escalated, 1)
	require.Equal(t, 3, outcome.Escalated[0].Count)
}
