package config

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors aggregates all configuration problems found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "invalid configuration:\n  " + strings.Join(msgs, "\n  ")
}

// ValidLogLevels returns the accepted logging levels.
func ValidLogLevels() []string {
	return []string{"DEBUG", "INFO", "WARN", "ERROR"}
}

// Validate checks the configuration for out-of-range or malformed values.
// It returns all problems found rather than stopping at the first.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateExecution()...)
	errs = append(errs, c.validateValidation()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateAgent() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.Agent.Command) == "" {
		errs = append(errs, ValidationError{
			Field:   "agent.command",
			Value:   c.Agent.Command,
			Message: "must not be empty",
		})
	}
	if c.Agent.TaskTimeoutMinutes < 0 {
		errs = append(errs, ValidationError{
			Field:   "agent.task_timeout_minutes",
			Value:   c.Agent.TaskTimeoutMinutes,
			Message: "must be >= 0",
		})
	}

	return errs
}

func (c *Config) validateExecution() []ValidationError {
	var errs []ValidationError

	if c.Execution.MaxParallel < 1 {
		errs = append(errs, ValidationError{
			Field:   "execution.max_parallel",
			Value:   c.Execution.MaxParallel,
			Message: "must be >= 1",
		})
	}
	if c.Execution.MaxParallel > 32 {
		errs = append(errs, ValidationError{
			Field:   "execution.max_parallel",
			Value:   c.Execution.MaxParallel,
			Message: "must be <= 32",
		})
	}
	if strings.TrimSpace(c.Execution.TaskDocument) == "" {
		errs = append(errs, ValidationError{
			Field:   "execution.task_document",
			Value:   c.Execution.TaskDocument,
			Message: "must not be empty",
		})
	}

	return errs
}

func (c *Config) validateValidation() []ValidationError {
	var errs []ValidationError

	for _, pattern := range c.Validation.ExemptPaths {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errs = append(errs, ValidationError{
				Field:   "validation.exempt_paths",
				Value:   pattern,
				Message: "invalid glob pattern",
			})
		}
	}

	return errs
}

func (c *Config) validateLogging() []ValidationError {
	level := strings.ToUpper(c.Logging.Level)
	for _, valid := range ValidLogLevels() {
		if level == valid {
			return nil
		}
	}
	return []ValidationError{{
		Field:   "logging.level",
		Value:   c.Logging.Level,
		Message: fmt.Sprintf("must be one of %s", strings.Join(ValidLogLevels(), ", ")),
	}}
}
