package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load builds a Config from cycleforge.yaml (discovered in projectDir, then
// the working directory, then $HOME), environment variables prefixed
// CYCLEFORGE_, and finally the supplied flags, in ascending precedence.
//
// flags may be the zero Config; any non-zero-value field in it overrides both the file
// and the environment, mirroring viper's BindPFlag precedence without
// requiring callers to wire a *pflag.FlagSet through this package.
func Load(projectDir string, flags Config) (Config, error) {
	v := viper.New()
	v.SetConfigName("cycleforge")
	v.SetConfigType("yaml")
	if projectDir != "" {
		v.AddConfigPath(projectDir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")

	v.SetEnvPrefix("cycleforge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read cycleforge config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode cycleforge config: %w", err)
	}

	cfg = applyFlagOverrides(cfg, flags)
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = projectDir
	}

	return cfg, nil
}

func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("concurrency", cfg.Concurrency)
	v.SetDefault("usage_threshold", cfg.UsageThreshold)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("budget.wind_down_threshold", cfg.Budget.WindDownThreshold)
	v.SetDefault("budget.critical_threshold", cfg.Budget.CriticalThreshold)
	v.SetDefault("budget.resume_threshold", cfg.Budget.ResumeThreshold)
	v.SetDefault("budget.poll_interval", cfg.Budget.PollInterval)
	v.SetDefault("budget.resume_sleep_step", cfg.Budget.ResumeSleepStep)
	v.SetDefault("reviewer.invocation_timeout", cfg.Reviewer.InvocationTimeout)
	v.SetDefault("reviewer.max_dialogue_rounds", cfg.Reviewer.MaxDialogueRounds)
	v.SetDefault("reviewer.recurrence_limit", cfg.Reviewer.RecurrenceLimit)
	v.SetDefault("worker.heartbeat_timeout", cfg.Worker.HeartbeatTimeout)
	v.SetDefault("worker.wind_down_grace", cfg.Worker.WindDownGrace)
	v.SetDefault("tracer.max_concurrent_flows", cfg.Tracer.MaxConcurrentFlows)
	v.SetDefault("tracer.max_flows", cfg.Tracer.MaxFlows)
	v.SetDefault("external.reviewer_command", cfg.External.ReviewerCommand)
	v.SetDefault("external.test_command", cfg.External.TestCommand)
	v.SetDefault("external.semgrep_command", cfg.External.SemgrepCommand)
	v.SetDefault("external.semgrep_config", cfg.External.SemgrepConfig)
	v.SetDefault("external.usage_url", cfg.External.UsageURL)
}

// applyFlagOverrides layers CLI flag values over cfg for every field a flag
// actually set (the CLI only fills in fields the user passed, leaving the
// rest at their Go zero value, so a zero value here means "not provided").
func applyFlagOverrides(cfg Config, flags Config) Config {
	if flags.Feature != "" {
		cfg.Feature = flags.Feature
	}
	if flags.ProjectDir != "" {
		cfg.ProjectDir = flags.ProjectDir
	}
	if flags.Concurrency != 0 {
		cfg.Concurrency = flags.Concurrency
	}
	if flags.MaxCycles != 0 {
		cfg.MaxCycles = flags.MaxCycles
	}
	if flags.UsageThreshold != 0 {
		cfg.UsageThreshold = flags.UsageThreshold
	}
	if flags.ContextFile != "" {
		cfg.ContextFile = flags.ContextFile
	}
	if flags.MetricsAddr != "" {
		cfg.MetricsAddr = flags.MetricsAddr
	}
	cfg.SkipCodex = cfg.SkipCodex || flags.SkipCodex
	cfg.SkipFlowReview = cfg.SkipFlowReview || flags.SkipFlowReview
	cfg.DryRun = cfg.DryRun || flags.DryRun
	cfg.CurrentBranch = cfg.CurrentBranch || flags.CurrentBranch
	cfg.Verbose = cfg.Verbose || flags.Verbose
	cfg.NonInteractive = cfg.NonInteractive || flags.NonInteractive

	return cfg
}
