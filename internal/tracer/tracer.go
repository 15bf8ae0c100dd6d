// Package tracer is the Flow Tracer: it derives a small set of end-to-end
// user flows from a diff and changed-file list, runs one read-only tracing
// subtask per flow in bounded parallel, then deduplicates and ranks the
// resulting findings (spec.md §4.6).
package tracer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cycleforge/internal/logging"
	"cycleforge/internal/store"

	"golang.org/x/sync/errgroup"
)

// Flow is one derived end-to-end user flow.
type Flow struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	EntryPoints []string `json:"entry_points"`
	Actors      []string `json:"actors"`
	EdgeCases   []string `json:"edge_cases"`
}

// MaxFlows is spec.md §4.6's cap on derived flows per cycle.
const MaxFlows = 8

// MaxConcurrentFlows is spec.md §4.6's bound on simultaneous tracing
// subtasks.
const MaxConcurrentFlows = 3

// Tracer derives flows from a diff and runs bounded-parallel tracing
// subtasks over them.
type Tracer struct {
	trace func(ctx context.Context, flow Flow) ([]store.FlowFinding, error)
}

// NewTracer builds a Tracer whose per-flow tracing subtask is trace — an
// opaque callback so this package stays agnostic of how a flow is actually
// traced (an LLM subagent call, a static heuristic, or a test double).
func NewTracer(trace func(ctx context.Context, flow Flow) ([]store.FlowFinding, error)) *Tracer {
	return &Tracer{trace: trace}
}

// Run traces every flow (truncated to MaxFlows, logged if dropped) in
// bounded parallel (golang.org/x/sync/errgroup with SetLimit, the same
// bounded fan-out idiom SubAgentOrchestrator.ExecuteParallel uses), then
// deduplicates and builds the cycle's FlowSummary.
func (t *Tracer) Run(ctx context.Context, flows []Flow) ([]store.FlowFinding, store.FlowSummary, error) {
	if len(flows) > MaxFlows {
		logging.NewComponentLogger("tracer").Warn("dropping %d of %d flows beyond MaxFlows=%d", len(flows)-MaxFlows, len(flows), MaxFlows)
		flows = flows[:MaxFlows]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentFlows)

	perFlow := make([][]store.FlowFinding, len(flows))
	for i, flow := range flows {
		i, flow := i, flow
		g.Go(func() error {
			findings, err := t.trace(gctx, flow)
			if err != nil {
				return fmt.Errorf("flow %s: %w", flow.ID, err)
			}
			perFlow[i] = findings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, store.FlowSummary{}, err
	}

	var all []store.FlowFinding
	for _, findings := range perFlow {
		all = append(all, findings...)
	}

	deduped := Dedup(all)
	return deduped, Summarize(deduped), nil
}

// dedupKey is spec.md §4.6's key: file_path + "::" + lowercase first-60
// chars of title.
func dedupKey(f store.FlowFinding) string {
	title := strings.ToLower(f.Title)
	if len(title) > 60 {
		title = title[:60]
	}
	return f.FilePath + "::" + title
}

// Dedup collapses findings sharing a dedupKey, keeping the higher-severity
// one on collision (spec.md §4.6).
func Dedup(findings []store.FlowFinding) []store.FlowFinding {
	best := make(map[string]store.FlowFinding, len(findings))
	var order []string
	for _, f := range findings {
		key := dedupKey(f)
		existing, ok := best[key]
		if !ok {
			best[key] = f
			order = append(order, key)
			continue
		}
		if f.Severity.Rank() > existing.Severity.Rank() {
			best[key] = f
		}
	}
	out := make([]store.FlowFinding, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out
}

// Summarize aggregates counts per severity and the cross-boundary count
// (spec.md §4.6).
func Summarize(findings []store.FlowFinding) store.FlowSummary {
	summary := store.FlowSummary{BySeverity: make(map[store.Severity]int), Total: len(findings)}
	for _, f := range findings {
		summary.BySeverity[f.Severity]++
		if f.CrossBoundary {
			summary.CrossBoundary++
		}
	}
	return summary
}
