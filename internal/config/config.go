// Package config loads cycleforge's project configuration: a YAML file
// (cycleforge.yaml) layered under environment variables and CLI flags, the
// same precedence order as the internal/config layered loader this is
// built from, scaled down to the cycle engine's much smaller knob set.
package config

import (
	"fmt"
	"time"
)

// Config holds every tunable the cycle engine reads at startup. Field names
// mirror the CLI flags in spec.md §6 so cmd/cycleforge can bind them
// directly with viper.
type Config struct {
	ProjectDir     string  `yaml:"project_dir" mapstructure:"project_dir"`
	Feature        string  `yaml:"feature" mapstructure:"feature"`
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxCycles      int     `yaml:"max_cycles" mapstructure:"max_cycles"`
	UsageThreshold float64 `yaml:"usage_threshold" mapstructure:"usage_threshold"`
	SkipCodex      bool    `yaml:"skip_codex" mapstructure:"skip_codex"`
	SkipFlowReview bool    `yaml:"skip_flow_review" mapstructure:"skip_flow_review"`
	DryRun         bool    `yaml:"dry_run" mapstructure:"dry_run"`
	ContextFile    string  `yaml:"context_file" mapstructure:"context_file"`
	CurrentBranch  bool    `yaml:"current_branch" mapstructure:"current_branch"`
	Verbose        bool    `yaml:"verbose" mapstructure:"verbose"`
	NonInteractive bool    `yaml:"non_interactive" mapstructure:"non_interactive"`
	MetricsAddr    string  `yaml:"metrics_addr" mapstructure:"metrics_addr"`

	Budget   BudgetConfig   `yaml:"budget" mapstructure:"budget"`
	Reviewer ReviewerConfig `yaml:"reviewer" mapstructure:"reviewer"`
	Worker   WorkerConfig   `yaml:"worker" mapstructure:"worker"`
	Tracer   TracerConfig   `yaml:"tracer" mapstructure:"tracer"`
	External ExternalConfig `yaml:"external" mapstructure:"external"`
}

// ExternalConfig names the external tool binaries and endpoints the
// adapters in internal/external shell out to or call (spec.md §6). The
// usage endpoint's bearer token is read from the CYCLEFORGE_EXTERNAL_USAGE_TOKEN
// environment variable rather than accepted here, so it never lands in the
// YAML file or a process listing.
type ExternalConfig struct {
	ReviewerCommand string `yaml:"reviewer_command" mapstructure:"reviewer_command"`
	TestCommand     string `yaml:"test_command" mapstructure:"test_command"`
	SemgrepCommand  string `yaml:"semgrep_command" mapstructure:"semgrep_command"`
	SemgrepConfig   string `yaml:"semgrep_config" mapstructure:"semgrep_config"`
	UsageURL        string `yaml:"usage_url" mapstructure:"usage_url"`
}

// BudgetConfig matches spec.md §4.4's default thresholds and poll interval.
type BudgetConfig struct {
	WindDownThreshold float64       `yaml:"wind_down_threshold" mapstructure:"wind_down_threshold"`
	CriticalThreshold float64       `yaml:"critical_threshold" mapstructure:"critical_threshold"`
	ResumeThreshold   float64       `yaml:"resume_threshold" mapstructure:"resume_threshold"`
	PollInterval      time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	ResumeSleepStep   time.Duration `yaml:"resume_sleep_step" mapstructure:"resume_sleep_step"`
}

// ReviewerConfig matches spec.md §4.5's timeout and dialogue round bounds.
type ReviewerConfig struct {
	InvocationTimeout time.Duration `yaml:"invocation_timeout" mapstructure:"invocation_timeout"`
	MaxDialogueRounds int           `yaml:"max_dialogue_rounds" mapstructure:"max_dialogue_rounds"`
	RecurrenceLimit   int           `yaml:"recurrence_limit" mapstructure:"recurrence_limit"`
}

// WorkerConfig matches spec.md §4.3/§5's orphan grace window.
type WorkerConfig struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`
	WindDownGrace    time.Duration `yaml:"wind_down_grace" mapstructure:"wind_down_grace"`
}

// TracerConfig matches spec.md §4.6's bounded-parallel dispatch.
type TracerConfig struct {
	MaxConcurrentFlows int `yaml:"max_concurrent_flows" mapstructure:"max_concurrent_flows"`
	MaxFlows           int `yaml:"max_flows" mapstructure:"max_flows"`
}

// Default returns the config with every default value spec.md names
// explicitly, so a caller can override just the fields it needs.
func Default() Config {
	return Config{
		Concurrency:    3,
		MaxCycles:      0,
		UsageThreshold: 0,
		MetricsAddr:    ":9090",
		Budget: BudgetConfig{
			WindDownThreshold: 0.80,
			CriticalThreshold: 0.90,
			ResumeThreshold:   0.50,
			PollInterval:      30 * time.Second,
			ResumeSleepStep:   60 * time.Second,
		},
		Reviewer: ReviewerConfig{
			InvocationTimeout: 5 * time.Minute,
			MaxDialogueRounds: 5,
			RecurrenceLimit:   2,
		},
		Worker: WorkerConfig{
			HeartbeatTimeout: 2 * time.Minute,
			WindDownGrace:    2 * time.Minute,
		},
		Tracer: TracerConfig{
			MaxConcurrentFlows: 3,
			MaxFlows:           8,
		},
		External: ExternalConfig{
			ReviewerCommand: "codex",
			TestCommand:     "go",
			SemgrepCommand:  "semgrep",
		},
	}
}

// Validate checks invariants the cycle engine relies on at startup.
func (c Config) Validate() error {
	if c.ProjectDir == "" {
		return fmt.Errorf("project_dir is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.Budget.WindDownThreshold <= 0 || c.Budget.WindDownThreshold >= 1 {
		return fmt.Errorf("budget.wind_down_threshold must be in (0,1), got %f", c.Budget.WindDownThreshold)
	}
	if c.Budget.CriticalThreshold <= c.Budget.WindDownThreshold || c.Budget.CriticalThreshold >= 1 {
		return fmt.Errorf("budget.critical_threshold must be in (wind_down_threshold,1), got %f", c.Budget.CriticalThreshold)
	}
	if c.Budget.ResumeThreshold <= 0 || c.Budget.ResumeThreshold >= c.Budget.WindDownThreshold {
		return fmt.Errorf("budget.resume_threshold must be in (0,wind_down_threshold), got %f", c.Budget.ResumeThreshold)
	}
	if c.Tracer.MaxConcurrentFlows < 1 {
		return fmt.Errorf("tracer.max_concurrent_flows must be >= 1, got %d", c.Tracer.MaxConcurrentFlows)
	}
	return nil
}
