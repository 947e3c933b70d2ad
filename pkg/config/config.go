package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides,
	// e.g. REGRESSOOR_RUNNER_PARALLEL_TESTS.
	EnvPrefix = "REGRESSOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the default log output format.
	DefaultLogFormat = "text"

	// DefaultWarmupRuns is the default number of discarded executions per pair.
	DefaultWarmupRuns = 2

	// DefaultMeasurementRuns is the default number of measured executions per pair.
	DefaultMeasurementRuns = 5

	// DefaultParallelTests is the default number of suites run concurrently
	// within one environment.
	DefaultParallelTests = 3

	// DefaultRetryAttempts is the default number of retries after a hard failure.
	DefaultRetryAttempts = 2

	// DefaultRetryBackoff is the backoff unit between attempts.
	DefaultRetryBackoff = time.Second

	// DefaultRunTimeout bounds a whole run.
	DefaultRunTimeout = 30 * time.Minute

	// DefaultFailOn is the severity at which `run` exits non-zero.
	DefaultFailOn = FailOnCritical

	// DefaultReportDir is the default directory for rendered reports.
	DefaultReportDir = "./reports"
)

// Fail-on levels for the run command exit code.
const (
	FailOnCritical = "critical"
	FailOnWarning  = "warning"
	FailOnNever    = "never"
)

// Suite kinds that can be declared in configuration.
const (
	SuiteKindHTTP    = "http"
	SuiteKindCommand = "command"
)

// Config is the root configuration for regressoor.
type Config struct {
	Global       GlobalConfig        `yaml:"global" mapstructure:"global"`
	Runner       RunnerConfig        `yaml:"runner" mapstructure:"runner"`
	Thresholds   Thresholds          `yaml:"thresholds" mapstructure:"thresholds"`
	Baseline     BaselineConfig      `yaml:"baseline" mapstructure:"baseline"`
	Environments []EnvironmentConfig `yaml:"environments" mapstructure:"environments"`
	Suites       []SuiteConfig       `yaml:"suites" mapstructure:"suites"`
	Alerts       AlertsConfig        `yaml:"alerts,omitempty" mapstructure:"alerts"`
	Report       ReportConfig        `yaml:"report,omitempty" mapstructure:"report"`
	History      *HistoryConfig      `yaml:"history,omitempty" mapstructure:"history"`
	API          *APIConfig          `yaml:"api,omitempty" mapstructure:"api"`
	Schedule     ScheduleConfig      `yaml:"schedule,omitempty" mapstructure:"schedule"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format,omitempty" mapstructure:"log_format"`
}

// RunnerConfig controls how suites are executed.
type RunnerConfig struct {
	WarmupRuns           int           `yaml:"warmup_runs" mapstructure:"warmup_runs"`
	MeasurementRuns      int           `yaml:"measurement_runs" mapstructure:"measurement_runs"`
	ParallelTests        int           `yaml:"parallel_tests" mapstructure:"parallel_tests"`
	ParallelEnvironments bool          `yaml:"parallel_environments" mapstructure:"parallel_environments"`
	RetryAttempts        *int          `yaml:"retry_attempts,omitempty" mapstructure:"retry_attempts"`
	RetryBackoff         time.Duration `yaml:"retry_backoff,omitempty" mapstructure:"retry_backoff"`
	RunTimeout           time.Duration `yaml:"run_timeout,omitempty" mapstructure:"run_timeout"`
	// ExecutionsPerSecond caps test function invocations per environment.
	// Zero disables the limit.
	ExecutionsPerSecond float64 `yaml:"executions_per_second,omitempty" mapstructure:"executions_per_second"`
	FailOn              string  `yaml:"fail_on" mapstructure:"fail_on"`
}

// Retries returns the configured retry count.
func (r *RunnerConfig) Retries() int {
	if r.RetryAttempts == nil {
		return DefaultRetryAttempts
	}

	return *r.RetryAttempts
}

// EnvironmentConfig names a target environment. Variables are exposed to
// suites through their execution options.
type EnvironmentConfig struct {
	Name      string            `yaml:"name" mapstructure:"name"`
	BaseURL   string            `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Variables map[string]string `yaml:"variables,omitempty" mapstructure:"variables"`
}

// SuiteConfig declares a suite built from one of the built-in kinds.
type SuiteConfig struct {
	Name         string         `yaml:"name" mapstructure:"name"`
	Kind         string         `yaml:"kind" mapstructure:"kind"`
	Environments []string       `yaml:"environments" mapstructure:"environments"`
	Category     string         `yaml:"category,omitempty" mapstructure:"category"`
	Priority     string         `yaml:"priority,omitempty" mapstructure:"priority"`
	Tags         []string       `yaml:"tags,omitempty" mapstructure:"tags"`
	Thresholds   *Thresholds    `yaml:"thresholds,omitempty" mapstructure:"thresholds"`
	Options      map[string]any `yaml:"options,omitempty" mapstructure:"options"`
}

// ScheduleConfig enables periodic runs while serving the API.
type ScheduleConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval     time.Duration `yaml:"interval,omitempty" mapstructure:"interval"`
	Environments []string      `yaml:"environments,omitempty" mapstructure:"environments"`
}

// Load reads a configuration file, applies REGRESSOOR_* environment
// overrides and defaults. It does not validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers defaults for counts where zero is a meaningful,
// validated value and so cannot mark an unset field.
func setDefaults(v *viper.Viper) {
	v.SetDefault("runner.warmup_runs", DefaultWarmupRuns)
	v.SetDefault("runner.measurement_runs", DefaultMeasurementRuns)
	v.SetDefault("runner.parallel_tests", DefaultParallelTests)
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.LogFormat == "" {
		c.Global.LogFormat = DefaultLogFormat
	}

	if c.Runner.RetryBackoff == 0 {
		c.Runner.RetryBackoff = DefaultRetryBackoff
	}

	if c.Runner.RunTimeout == 0 {
		c.Runner.RunTimeout = DefaultRunTimeout
	}

	if c.Runner.FailOn == "" {
		c.Runner.FailOn = DefaultFailOn
	}

	c.Thresholds.applyDefaults(DefaultThresholds())
	c.Baseline.applyDefaults()
	c.Report.applyDefaults()

	if c.History != nil {
		c.History.Database.applyDefaults("history.db")
	}

	if c.API != nil {
		c.API.applyDefaults()
	}

	for i := range c.Suites {
		if c.Suites[i].Options == nil {
			c.Suites[i].Options = make(map[string]any)
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, ok := validLogFormats[c.Global.LogFormat]; !ok {
		return fmt.Errorf("global.log_format: unknown format %q", c.Global.LogFormat)
	}

	if err := c.Runner.validate(); err != nil {
		return fmt.Errorf("runner: %w", err)
	}

	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}

	if err := c.Baseline.validate(); err != nil {
		return fmt.Errorf("baseline: %w", err)
	}

	envs := make(map[string]struct{}, len(c.Environments))

	for i, env := range c.Environments {
		if env.Name == "" {
			return fmt.Errorf("environment %d: name is required", i)
		}

		if _, exists := envs[env.Name]; exists {
			return fmt.Errorf("environment %d: duplicate name %q", i, env.Name)
		}

		envs[env.Name] = struct{}{}
	}

	if err := c.validateSuites(envs); err != nil {
		return err
	}

	if err := c.Alerts.validate(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}

	if err := c.Report.validate(); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if c.History != nil && c.History.Enabled {
		if err := c.History.Database.validate(); err != nil {
			return fmt.Errorf("history.database: %w", err)
		}
	}

	if c.API != nil {
		if err := c.API.validate(); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	if c.Schedule.Enabled {
		if c.Schedule.Interval <= 0 {
			return fmt.Errorf("schedule.interval must be positive when schedule is enabled")
		}

		for _, name := range c.Schedule.Environments {
			if _, ok := envs[name]; !ok {
				return fmt.Errorf("schedule: unknown environment %q", name)
			}
		}
	}

	return nil
}

func (c *Config) validateSuites(envs map[string]struct{}) error {
	seen := make(map[string]struct{}, len(c.Suites))

	for i, s := range c.Suites {
		if s.Name == "" {
			return fmt.Errorf("suite %d: name is required", i)
		}

		if _, exists := seen[s.Name]; exists {
			return fmt.Errorf("suite %d: duplicate name %q", i, s.Name)
		}

		seen[s.Name] = struct{}{}

		if !slices.Contains([]string{SuiteKindHTTP, SuiteKindCommand}, s.Kind) {
			return fmt.Errorf("suite %q: unknown kind %q", s.Name, s.Kind)
		}

		if len(s.Environments) == 0 {
			return fmt.Errorf("suite %q: at least one environment is required", s.Name)
		}

		for _, env := range s.Environments {
			if _, ok := envs[env]; !ok {
				return fmt.Errorf("suite %q: unknown environment %q", s.Name, env)
			}
		}

		if s.Thresholds != nil {
			if err := s.Thresholds.Validate(); err != nil {
				return fmt.Errorf("suite %q: thresholds: %w", s.Name, err)
			}
		}
	}

	return nil
}

func (r *RunnerConfig) validate() error {
	if r.WarmupRuns < 0 {
		return fmt.Errorf("warmup_runs must not be negative")
	}

	if r.MeasurementRuns < 1 {
		return fmt.Errorf("measurement_runs must be at least 1")
	}

	if r.ParallelTests < 1 {
		return fmt.Errorf("parallel_tests must be at least 1")
	}

	if r.Retries() < 0 {
		return fmt.Errorf("retry_attempts must not be negative")
	}

	if r.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must not be negative")
	}

	if r.ExecutionsPerSecond < 0 {
		return fmt.Errorf("executions_per_second must not be negative")
	}

	if err := ValidateFailOn(r.FailOn); err != nil {
		return fmt.Errorf("fail_on: %w", err)
	}

	return nil
}

// ValidateFailOn checks that level is a known fail_on level.
func ValidateFailOn(level string) error {
	if _, ok := validFailOn[level]; !ok {
		return fmt.Errorf("unknown level %q (supported: %s, %s, %s)",
			level, FailOnCritical, FailOnWarning, FailOnNever)
	}

	return nil
}

// Environment returns the named environment, if configured.
func (c *Config) Environment(name string) (EnvironmentConfig, bool) {
	for _, env := range c.Environments {
		if env.Name == name {
			return env, true
		}
	}

	return EnvironmentConfig{}, false
}

var validLogFormats = map[string]struct{}{
	"text": {},
	"json": {},
}

var validFailOn = map[string]struct{}{
	FailOnCritical: {},
	FailOnWarning:  {},
	FailOnNever:    {},
}
