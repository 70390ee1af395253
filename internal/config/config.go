// Package config holds the ticketflow configuration, loaded through viper
// from a YAML file, environment variables, and flag bindings. Configuration
// is always passed into components explicitly; nothing in this package is
// consulted as ambient state after startup.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete ticketflow configuration
type Config struct {
	Agent      AgentConfig      `mapstructure:"agent"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Branch     BranchConfig     `mapstructure:"branch"`
	Validation ValidationConfig `mapstructure:"validation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Docs       DocsConfig       `mapstructure:"docs"`
}

// AgentConfig controls how the external code-generation agent is invoked
type AgentConfig struct {
	// Command is the agent CLI binary to spawn for each task
	Command string `mapstructure:"command"`
	// Model is the model name passed to the agent (empty uses the agent default)
	Model string `mapstructure:"model"`
	// PlanModel is the model used for the plan and task-list phases
	// (empty falls back to Model)
	PlanModel string `mapstructure:"plan_model"`
	// TaskTimeoutMinutes is the maximum runtime per task in minutes (0 = unlimited)
	TaskTimeoutMinutes int `mapstructure:"task_timeout_minutes"`
}

// ExecutionConfig controls the scheduler
type ExecutionConfig struct {
	// MaxParallel is the worker cap for the independent pool (default: 3)
	MaxParallel int `mapstructure:"max_parallel"`
	// FailFast aborts the whole run on the first fundamental task failure
	FailFast bool `mapstructure:"fail_fast"`
	// TaskDocument is the path of the approved task document, relative to the
	// repository root
	TaskDocument string `mapstructure:"task_document"`
}

// BranchConfig controls branch naming conventions
type BranchConfig struct {
	// Prefix is the branch name prefix (default: "ticketflow")
	// The run branch is <prefix>/<ticket-id>-<slug>
	Prefix string `mapstructure:"prefix"`
}

// ValidationConfig controls the file-collision validator
type ValidationConfig struct {
	// ExemptPaths lists glob patterns excluded from collision checking.
	// Files that many tasks legitimately touch (lockfiles, generated code)
	// go here. Glob syntax follows gobwas/glob.
	ExemptPaths []string `mapstructure:"exempt_paths"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (default: INFO)
	Level string `mapstructure:"level"`
}

// PathsConfig controls where run state lives
type PathsConfig struct {
	// StateDir is the directory for persisted workflow state and run logs.
	// Relative paths resolve against the repository root (default: ".ticketflow")
	StateDir string `mapstructure:"state_dir"`
}

// DocsConfig controls the documentation-sync phase
type DocsConfig struct {
	// Targets lists documentation files the UpdateDocs phase refreshes
	Targets []string `mapstructure:"targets"`
	// ShowDiff prints a diff preview before writing updated docs (default: true)
	ShowDiff bool `mapstructure:"show_diff"`
}

// TaskTimeout returns the per-task timeout as a duration, zero when unlimited.
func (a *AgentConfig) TaskTimeout() time.Duration {
	return time.Duration(a.TaskTimeoutMinutes) * time.Minute
}

// ResolveStateDir resolves the state directory against a repository root.
func (p *PathsConfig) ResolveStateDir(repoRoot string) string {
	if filepath.IsAbs(p.StateDir) {
		return p.StateDir
	}
	return filepath.Join(repoRoot, p.StateDir)
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Command:            "claude",
			Model:              "",
			PlanModel:          "",
			TaskTimeoutMinutes: 0,
		},
		Execution: ExecutionConfig{
			MaxParallel:  3,
			FailFast:     false,
			TaskDocument: "TASKS.md",
		},
		Branch: BranchConfig{
			Prefix: "ticketflow",
		},
		Validation: ValidationConfig{
			ExemptPaths: []string{"go.sum", "**/*.lock"},
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Paths: PathsConfig{
			StateDir: ".ticketflow",
		},
		Docs: DocsConfig{
			Targets:  []string{"README.md"},
			ShowDiff: true,
		},
	}
}

// SetDefaults pushes default values into viper so they are available even
// without a config file.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("agent.command", defaults.Agent.Command)
	viper.SetDefault("agent.model", defaults.Agent.Model)
	viper.SetDefault("agent.plan_model", defaults.Agent.PlanModel)
	viper.SetDefault("agent.task_timeout_minutes", defaults.Agent.TaskTimeoutMinutes)

	viper.SetDefault("execution.max_parallel", defaults.Execution.MaxParallel)
	viper.SetDefault("execution.fail_fast", defaults.Execution.FailFast)
	viper.SetDefault("execution.task_document", defaults.Execution.TaskDocument)

	viper.SetDefault("branch.prefix", defaults.Branch.Prefix)

	viper.SetDefault("validation.exempt_paths", defaults.Validation.ExemptPaths)

	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)

	viper.SetDefault("docs.targets", defaults.Docs.Targets)
	viper.SetDefault("docs.show_diff", defaults.Docs.ShowDiff)
}

// Load unmarshals the current viper state into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the directory where the config file lives.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ticketflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ticketflow"
	}
	return filepath.Join(home, ".config", "ticketflow")
}

// ConfigFile returns the full path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
