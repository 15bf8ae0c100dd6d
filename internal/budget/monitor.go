// Package budget is the Budget Monitor: it tracks the external
// resource-utilization budget as an opaque fraction with a reset
// timestamp, polls it on a fixed interval, and reports threshold
// crossings without making control decisions itself (spec.md §4.4).
package budget

import (
	"context"
	"time"

	"cycleforge/internal/external/usage"
	"cycleforge/internal/logging"
)

// Config holds the Monitor's thresholds and polling cadence, with spec.md
// §4.4's defaults.
type Config struct {
	WindDownThreshold float64
	CriticalThreshold float64
	ResumeThreshold   float64
	PollInterval      time.Duration
	ResumeSleepStep   time.Duration
}

// DefaultConfig returns spec.md §4.4's exact default thresholds.
func DefaultConfig() Config {
	return Config{
		WindDownThreshold: 0.80,
		CriticalThreshold: 0.90,
		ResumeThreshold:   0.50,
		PollInterval:      30 * time.Second,
		ResumeSleepStep:   60 * time.Second,
	}
}

// Monitor polls an external usage.Client and reports wind-down/critical
// crossings. Utilization is the worse (higher) of the five-hour and
// seven-day fractions reported by the endpoint; the nearer-term five-hour
// reset timestamp is what WaitForReset waits against, since that is the
// window that actually unblocks work sooner.
type Monitor struct {
	client    usage.Client
	cfg       Config
	logger    *logging.Logger
	callbacks []func(usage.Snapshot)

	last usage.Snapshot
}

// NewMonitor builds a Monitor polling client with cfg.
func NewMonitor(client usage.Client, cfg Config) *Monitor {
	return &Monitor{client: client, cfg: cfg, logger: logging.NewComponentLogger("budget")}
}

// OnThresholdCrossing registers a callback invoked on every poll where the
// observed utilization is at or above the wind-down threshold, mirroring
// the OnStateChange callback-registration idiom in CircuitBreakerConfig —
// it fires on every qualifying poll, not once.
func (m *Monitor) OnThresholdCrossing(fn func(usage.Snapshot)) {
	m.callbacks = append(m.callbacks, fn)
}

func (m *Monitor) utilization(s usage.Snapshot) float64 {
	if s.SevenDayFraction > s.FiveHourFraction {
		return s.SevenDayFraction
	}
	return s.FiveHourFraction
}

// Poll fetches a fresh snapshot, stores it, and fires registered callbacks
// if the wind-down threshold is met.
func (m *Monitor) Poll(ctx context.Context) (usage.Snapshot, error) {
	snap, err := m.client.Fetch(ctx)
	if err != nil {
		return usage.Snapshot{}, err
	}
	m.last = snap

	if m.utilization(snap) >= m.cfg.WindDownThreshold {
		for _, cb := range m.callbacks {
			cb(snap)
		}
	}
	return snap, nil
}

// Run polls on cfg.PollInterval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Poll(ctx); err != nil {
				m.logger.Warn("usage poll failed: %v", err)
			}
		}
	}
}

// IsWindDown reports whether the last observed utilization is at or above
// the wind-down threshold.
func (m *Monitor) IsWindDown() bool { return m.utilization(m.last) >= m.cfg.WindDownThreshold }

// IsCritical reports whether the last observed utilization is at or above
// the critical threshold.
func (m *Monitor) IsCritical() bool { return m.utilization(m.last) >= m.cfg.CriticalThreshold }

// Last returns the most recently observed snapshot.
func (m *Monitor) Last() usage.Snapshot { return m.last }

// WaitForReset blocks until the current time exceeds the reported reset
// timestamp and a fresh poll shows utilization below the resume threshold,
// sleeping in ResumeSleepStep increments if the first wake-up still shows
// too-high utilization (spec.md §4.4).
func (m *Monitor) WaitForReset(ctx context.Context) error {
	resetsAt := m.last.FiveHourResetsAt
	if !resetsAt.IsZero() {
		if d := time.Until(resetsAt); d > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
	}

	for {
		snap, err := m.Poll(ctx)
		if err != nil {
			return err
		}
		if m.utilization(snap) < m.cfg.ResumeThreshold {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.ResumeSleepStep):
		}
	}
}
