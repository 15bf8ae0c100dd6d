package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cycleforge/internal/async"
	"cycleforge/internal/budget"
	"cycleforge/internal/config"
	"cycleforge/internal/coordination"
	"cycleforge/internal/cycle"
	"cycleforge/internal/external/planner"
	"cycleforge/internal/external/reviewercli"
	"cycleforge/internal/external/staticanalysis"
	"cycleforge/internal/external/testrunner"
	"cycleforge/internal/external/usage"
	"cycleforge/internal/external/vcs"
	"cycleforge/internal/knownissues"
	"cycleforge/internal/logging"
	"cycleforge/internal/metrics"
	"cycleforge/internal/reviewer"
	"cycleforge/internal/store"
	"cycleforge/internal/tracer"
	"cycleforge/internal/worker"
)

// runtime bundles the wired engine with the store and config that
// runEngine reads once the engine stops (start and resume).
type runtime struct {
	engine *cycle.Engine
	store  *store.Store
	cfg    config.Config
}

// buildRuntime wires every component the cycle engine needs from cfg,
// mirroring the Worker Supervisor's LaunchSpec contract (spec.md §6) for
// the subprocess command line and the external tool contracts for the
// reviewer, test runner, and semgrep adapters.
func buildRuntime(st *store.Store, cfg config.Config) *runtime {
	logging.Configure(os.Stderr, logLevel(cfg), false)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	serveMetrics(cfg.MetricsAddr, reg)

	reviewerClient := reviewercli.NewCommandClient(cfg.External.ReviewerCommand, []string{
		"exec", "--full-auto", "--sandbox", "read-only", "-C", cfg.ProjectDir,
	})
	reviewerCfg := reviewer.Config{
		InvocationTimeout: cfg.Reviewer.InvocationTimeout,
		MaxDialogueRounds: cfg.Reviewer.MaxDialogueRounds,
		RecurrenceLimit:   cfg.Reviewer.RecurrenceLimit,
	}

	testRunner := testrunner.NewCommandRunner(cfg.External.TestCommand, []string{"test", "./..."}, cfg.ProjectDir)
	coord := coordination.NewService(st, testRunner)

	launch := func(projectDir, coordinationAddr, sessionID string, role worker.Role) (string, []string, map[string]string) {
		return cfg.External.ReviewerCommand, []string{"exec", "--full-auto", "-C", projectDir}, map[string]string{
			"CYCLEFORGE_PROJECT_DIR":  projectDir,
			"CYCLEFORGE_COORDINATION": coordinationAddr,
			"CYCLEFORGE_SESSION_ID":   sessionID,
			"CYCLEFORGE_ROLE":         string(role),
		}
	}
	sup := worker.NewSupervisor(st, worker.Config{
		Concurrency:      cfg.Concurrency,
		HeartbeatTimeout: cfg.Worker.HeartbeatTimeout,
		WindDownGrace:    cfg.Worker.WindDownGrace,
	}, launch)

	usageToken := os.Getenv("CYCLEFORGE_EXTERNAL_USAGE_TOKEN")
	usageClient := usage.NewHTTPClient(cfg.External.UsageURL, usageToken)
	windDown := cfg.Budget.WindDownThreshold
	if cfg.UsageThreshold > 0 {
		windDown = cfg.UsageThreshold
	}
	budgetMon := budget.NewMonitor(usageClient, budget.Config{
		WindDownThreshold: windDown,
		CriticalThreshold: cfg.Budget.CriticalThreshold,
		ResumeThreshold:   cfg.Budget.ResumeThreshold,
		PollInterval:      cfg.Budget.PollInterval,
		ResumeSleepStep:   cfg.Budget.ResumeSleepStep,
	})

	// Tracing a derived flow is itself an LLM judgment call the same way
	// planning is (spec.md §1 places the worker agent's reasoning out of
	// this module's scope); this trace function reports no findings so the
	// Tracer's dedup/summary machinery still runs end to end without one.
	flowTracer := tracer.NewTracer(func(ctx context.Context, flow tracer.Flow) ([]store.FlowFinding, error) {
		return nil, nil
	})

	var scanner staticanalysis.Scanner
	if cfg.External.SemgrepCommand != "" {
		scanner = &staticanalysis.SemgrepClient{
			Command: cfg.External.SemgrepCommand,
			Config:  cfg.External.SemgrepConfig,
			Timeout: 2 * time.Minute,
		}
	}

	issues := knownissues.NewRegistry(st.KnownIssuesPath())
	vcsFacade := vcs.NewGit(cfg.ProjectDir)

	eng := cycle.New(cycle.Deps{
		Store:       st,
		Coordinator: coord,
		Supervisor:  sup,
		Budget:      budgetMon,
		PlanReview:  reviewer.NewDriver(reviewerClient, reviewerCfg),
		CodeReview:  reviewer.NewDriver(reviewerClient, reviewerCfg),
		Tracer:      flowTracer,
		Issues:      issues,
		Planner: planner.NewCommandClient(cfg.External.ReviewerCommand, []string{
			"exec", "--full-auto", "--sandbox", "read-only", "-C", cfg.ProjectDir,
		}),
		VCS:     vcsFacade,
		Scanner: scanner,
		Metrics: collector,
	}, cfg.ProjectDir, cycle.Config{
		Concurrency:         cfg.Concurrency,
		CycleCap:            cfg.MaxCycles,
		ExecutePollInterval: cfg.Budget.PollInterval,
		OrphanSweepInterval: cfg.Worker.HeartbeatTimeout,
	})

	return &runtime{engine: eng, store: st, cfg: cfg}
}

// serveMetrics exposes reg's collectors over /metrics in a background
// goroutine, the same promhttp.Handler pattern the pack's gateway/marble
// commands use. A blank addr disables the endpoint entirely.
func serveMetrics(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	logger := logging.NewComponentLogger("metrics")
	async.Go(logger, "metrics-server", func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped: %v", err)
		}
	})
}

func logLevel(cfg config.Config) slog.Level {
	if cfg.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func loadConfig(projectDir string, flags config.Config) (config.Config, error) {
	cfg, err := config.Load(projectDir, flags)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
