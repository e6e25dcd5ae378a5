// Package config handles configuration loading and management for relay.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for relay.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// GatewayConfig holds the LLM gateway retry and model settings.
type GatewayConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
	DefaultModel string        `mapstructure:"default_model"`
	// Models maps a prompt name to the model used for it.
	Models      map[string]string `mapstructure:"models"`
	MaxTokens   int64             `mapstructure:"max_tokens"`
	Temperature *float64          `mapstructure:"temperature"`
	// PromptsFile is an optional YAML file with prompt overrides.
	PromptsFile string `mapstructure:"prompts_file"`
}

// PlannerConfig holds planning settings.
type PlannerConfig struct {
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold"`
	DisabledTeams       []string `mapstructure:"disabled_teams"`
}

// SupervisorConfig holds run execution defaults.
type SupervisorConfig struct {
	StepTimeout      time.Duration `mapstructure:"step_timeout"`
	RecursionLimit   int           `mapstructure:"recursion_limit"`
	MaxParallel      int           `mapstructure:"max_parallel"`
	SynthesizeAnswer bool          `mapstructure:"synthesize_answer"`
	Language         string        `mapstructure:"language"`
	Debug            bool          `mapstructure:"debug"`
	Trace            bool          `mapstructure:"trace"`
}

// TimeoutSeconds returns StepTimeout rounded up to whole seconds.
func (s SupervisorConfig) TimeoutSeconds() int {
	if s.StepTimeout <= 0 {
		return 0
	}
	return int((s.StepTimeout + time.Second - 1) / time.Second)
}

// JournalConfig holds run journal settings.
type JournalConfig struct {
	// Path is the SQLite file. Empty means the XDG data directory.
	Path string `mapstructure:"path"`
	// Retention is how long finished runs are kept by purge.
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File is an optional log file. Empty logs to stderr.
	File string `mapstructure:"file"`
}

// EnvPrefix prefixes environment overrides, e.g. RELAY_SUPERVISOR_MAX_PARALLEL.
const EnvPrefix = "RELAY"

// ProjectConfigName is the project-level override file.
const ProjectConfigName = ".relay.yaml"

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (RELAY_*, ANTHROPIC_API_KEY)
// 2. Project config (.relay.yaml in current directory or parent)
// 3. User config (~/.config/relay/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific path. Environment
// overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Journal.Path = expandEnv(cfg.Journal.Path)
	cfg.Logging.File = expandEnv(cfg.Logging.File)
	cfg.Gateway.PromptsFile = expandEnv(cfg.Gateway.PromptsFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("gateway.max_attempts must be at least 1, got %d", c.Gateway.MaxAttempts))
	}
	if c.Gateway.BackoffBase < 0 || c.Gateway.BackoffMax < 0 {
		errs = append(errs, errors.New("gateway backoff durations must not be negative"))
	}
	if t := c.Planner.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("planner.confidence_threshold must be within [0, 1], got %g", t))
	}
	if c.Supervisor.StepTimeout <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.step_timeout must be positive, got %s", c.Supervisor.StepTimeout))
	}
	if c.Supervisor.RecursionLimit < 1 {
		errs = append(errs, fmt.Errorf("supervisor.recursion_limit must be at least 1, got %d", c.Supervisor.RecursionLimit))
	}
	if c.Supervisor.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("supervisor.max_parallel must be at least 1, got %d", c.Supervisor.MaxParallel))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Save writes the configuration to the user config file. The API key is
// only written when it is a ${VAR} reference.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	if strings.HasPrefix(cfg.Anthropic.APIKey, "${") {
		v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	}
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)

	v.Set("gateway.max_attempts", cfg.Gateway.MaxAttempts)
	v.Set("gateway.backoff_base", cfg.Gateway.BackoffBase.String())
	v.Set("gateway.backoff_max", cfg.Gateway.BackoffMax.String())
	v.Set("gateway.default_model", cfg.Gateway.DefaultModel)
	if len(cfg.Gateway.Models) > 0 {
		v.Set("gateway.models", cfg.Gateway.Models)
	}
	v.Set("gateway.max_tokens", cfg.Gateway.MaxTokens)
	if cfg.Gateway.Temperature != nil {
		v.Set("gateway.temperature", *cfg.Gateway.Temperature)
	}
	v.Set("gateway.prompts_file", cfg.Gateway.PromptsFile)

	v.Set("planner.confidence_threshold", cfg.Planner.ConfidenceThreshold)
	v.Set("planner.disabled_teams", cfg.Planner.DisabledTeams)

	v.Set("supervisor.step_timeout", cfg.Supervisor.StepTimeout.String())
	v.Set("supervisor.recursion_limit", cfg.Supervisor.RecursionLimit)
	v.Set("supervisor.max_parallel", cfg.Supervisor.MaxParallel)
	v.Set("supervisor.synthesize_answer", cfg.Supervisor.SynthesizeAnswer)
	v.Set("supervisor.language", cfg.Supervisor.Language)
	v.Set("supervisor.debug", cfg.Supervisor.Debug)
	v.Set("supervisor.trace", cfg.Supervisor.Trace)

	v.Set("journal.path", cfg.Journal.Path)
	v.Set("journal.retention", cfg.Journal.Retention.String())

	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.format", cfg.Logging.Format)
	v.Set("logging.file", cfg.Logging.File)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults mirrors Default so viper knows every key for env binding.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", d.Anthropic.UseBedrock)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("gateway.max_attempts", d.Gateway.MaxAttempts)
	v.SetDefault("gateway.backoff_base", d.Gateway.BackoffBase.String())
	v.SetDefault("gateway.backoff_max", d.Gateway.BackoffMax.String())
	v.SetDefault("gateway.default_model", d.Gateway.DefaultModel)
	v.SetDefault("gateway.max_tokens", d.Gateway.MaxTokens)
	v.SetDefault("gateway.prompts_file", "")

	v.SetDefault("planner.confidence_threshold", d.Planner.ConfidenceThreshold)
	v.SetDefault("planner.disabled_teams", []string{})

	v.SetDefault("supervisor.step_timeout", d.Supervisor.StepTimeout.String())
	v.SetDefault("supervisor.recursion_limit", d.Supervisor.RecursionLimit)
	v.SetDefault("supervisor.max_parallel", d.Supervisor.MaxParallel)
	v.SetDefault("supervisor.synthesize_answer", d.Supervisor.SynthesizeAnswer)
	v.SetDefault("supervisor.language", d.Supervisor.Language)
	v.SetDefault("supervisor.debug", false)
	v.SetDefault("supervisor.trace", false)

	v.SetDefault("journal.path", "")
	v.SetDefault("journal.retention", d.Journal.Retention.String())

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")
}

// getUserConfigDir returns the XDG config directory for relay.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "relay")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "relay")
	}
	return filepath.Join(home, ".config", "relay")
}

// findProjectConfig searches for .relay.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			AWSRegion: "us-west-2",
		},
		Gateway: GatewayConfig{
			MaxAttempts:  3,
			BackoffBase:  500 * time.Millisecond,
			BackoffMax:   8 * time.Second,
			DefaultModel: "claude-sonnet-4-20250514",
			MaxTokens:    4096,
		},
		Planner: PlannerConfig{
			ConfidenceThreshold: 0.6,
		},
		Supervisor: SupervisorConfig{
			StepTimeout:      30 * time.Second,
			RecursionLimit:   25,
			MaxParallel:      4,
			SynthesizeAnswer: true,
			Language:         "en",
		},
		Journal: JournalConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
