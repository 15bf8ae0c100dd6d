package budget

import (
	"context"
	"testing"
	"time"

	"cycleforge/internal/external/usage"

	"github.com/stretchr/testify/require"
)

type fakeUsageClient struct {
	snapshots []usage.Snapshot
	idx       int
}

func (f *fakeUsageClient) Fetch(ctx context.Context) (usage.Snapshot, error) {
	if f.idx >= len(f.snapshots) {
		return f.snapshots[len(f.snapshots)-1], nil
	}
	s := f.snapshots[f.idx]
	f.idx++
	return s, nil
}

func TestIsWindDownAndCritical(t *testing.T) {
	client := &fakeUsageClient{snapshots: []usage.Snapshot{{FiveHourFraction: 0.85}}}
	m := NewMonitor(client, DefaultConfig())

	_, err := m.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, m.IsWindDown())
	require.False(t, m.IsCritical())
}

func TestThresholdCrossingCallbackFiresEveryPoll(t *testing.T) {
	client := &fakeUsageClient{snapshots: []usage.Snapshot{
		{FiveHourFraction: 0.95},
		{FiveHourFraction: 0.95},
	}}
	m := NewMonitor(client, DefaultConfig())

	fired := 0
	m.OnThresholdCrossing(func(usage.Snapshot) { fired++ })

	_, err := m.Poll(context.Background())
	require.NoError(t, err)
	_, err = m.Poll(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, fired, "callback must fire on every qualifying poll, not once")
}

func TestWaitForResetReturnsOnceBelowResumeThreshold(t *testing.T) {
	client := &fakeUsageClient{snapshots: []usage.Snapshot{
		{FiveHourFraction: 0.95, FiveHourResetsAt: time.Now().Add(-time.Minute)},
		{FiveHourFraction: 0.40},
	}}
	cfg := DefaultConfig()
	cfg.ResumeSleepStep = time.Millisecond
	m := NewMonitor(client, cfg)
	m.last = client.snapshots[0]

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.WaitForReset(ctx)
	require.NoError(t, err)
	require.False(t, m.IsWindDown())
}
