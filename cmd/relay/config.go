package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify relay configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/relay/config.yaml
Project-specific overrides can be placed in .relay.yaml
Any key can be overridden with RELAY_<SECTION>_<KEY>, e.g. RELAY_SUPERVISOR_MAX_PARALLEL.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			displayAllConfig(out, cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Fprintf(out, "Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

// configKey is one settable configuration entry.
type configKey struct {
	name string
	get  func(*config.Config) string
	set  func(*config.Config, string) error
}

var configKeys = []configKey{
	{
		name: "anthropic.api_key",
		get: func(c *config.Config) string {
			key, _ := config.GetAPIKey(c)
			return fmt.Sprintf("%s (%s)", config.MaskAPIKey(key), config.GetAPIKeySource(c))
		},
		set: func(c *config.Config, v string) error {
			if !strings.HasPrefix(v, "${") {
				return fmt.Errorf("anthropic.api_key must be an environment reference such as ${ANTHROPIC_API_KEY}")
			}
			c.Anthropic.APIKey = v
			return nil
		},
	},
	boolKey("anthropic.use_bedrock", func(c *config.Config) *bool { return &c.Anthropic.UseBedrock }),
	stringKey("anthropic.aws_region", func(c *config.Config) *string { return &c.Anthropic.AWSRegion }),
	stringKey("anthropic.aws_profile", func(c *config.Config) *string { return &c.Anthropic.AWSProfile }),
	intKey("gateway.max_attempts", func(c *config.Config) *int { return &c.Gateway.MaxAttempts }),
	durationKey("gateway.backoff_base", func(c *config.Config) *time.Duration { return &c.Gateway.BackoffBase }),
	durationKey("gateway.backoff_max", func(c *config.Config) *time.Duration { return &c.Gateway.BackoffMax }),
	stringKey("gateway.default_model", func(c *config.Config) *string { return &c.Gateway.DefaultModel }),
	{
		name: "gateway.max_tokens",
		get:  func(c *config.Config) string { return strconv.FormatInt(c.Gateway.MaxTokens, 10) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for gateway.max_tokens: %w", err)
			}
			c.Gateway.MaxTokens = n
			return nil
		},
	},
	{
		name: "gateway.temperature",
		get: func(c *config.Config) string {
			if c.Gateway.Temperature == nil {
				return "(model default)"
			}
			return strconv.FormatFloat(*c.Gateway.Temperature, 'g', -1, 64)
		},
		set: func(c *config.Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for gateway.temperature: %w", err)
			}
			c.Gateway.Temperature = &f
			return nil
		},
	},
	stringKey("gateway.prompts_file", func(c *config.Config) *string { return &c.Gateway.PromptsFile }),
	{
		name: "planner.confidence_threshold",
		get:  func(c *config.Config) string { return strconv.FormatFloat(c.Planner.ConfidenceThreshold, 'g', -1, 64) },
		set: func(c *config.Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for planner.confidence_threshold: %w", err)
			}
			c.Planner.ConfidenceThreshold = f
			return nil
		},
	},
	{
		name: "planner.disabled_teams",
		get:  func(c *config.Config) string { return strings.Join(c.Planner.DisabledTeams, ",") },
		set: func(c *config.Config, v string) error {
			c.Planner.DisabledTeams = nil
			for _, name := range strings.Split(v, ",") {
				if name = strings.TrimSpace(name); name != "" {
					c.Planner.DisabledTeams = append(c.Planner.DisabledTeams, name)
				}
			}
			return nil
		},
	},
	durationKey("supervisor.step_timeout", func(c *config.Config) *time.Duration { return &c.Supervisor.StepTimeout }),
	intKey("supervisor.recursion_limit", func(c *config.Config) *int { return &c.Supervisor.RecursionLimit }),
	intKey("supervisor.max_parallel", func(c *config.Config) *int { return &c.Supervisor.MaxParallel }),
	boolKey("supervisor.synthesize_answer", func(c *config.Config) *bool { return &c.Supervisor.SynthesizeAnswer }),
	stringKey("supervisor.language", func(c *config.Config) *string { return &c.Supervisor.Language }),
	boolKey("supervisor.debug", func(c *config.Config) *bool { return &c.Supervisor.Debug }),
	boolKey("supervisor.trace", func(c *config.Config) *bool { return &c.Supervisor.Trace }),
	stringKey("journal.path", func(c *config.Config) *string { return &c.Journal.Path }),
	durationKey("journal.retention", func(c *config.Config) *time.Duration { return &c.Journal.Retention }),
	stringKey("logging.level", func(c *config.Config) *string { return &c.Logging.Level }),
	stringKey("logging.format", func(c *config.Config) *string { return &c.Logging.Format }),
	stringKey("logging.file", func(c *config.Config) *string { return &c.Logging.File }),
}

func stringKey(name string, field func(*config.Config) *string) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return *field(c) },
		set:  func(c *config.Config, v string) error { *field(c) = v; return nil },
	}
}

func intKey(name string, field func(*config.Config) *int) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

func boolKey(name string, field func(*config.Config) *bool) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func durationKey(name string, field func(*config.Config) *time.Duration) configKey {
	return configKey{
		name: name,
		get:  func(c *config.Config) string { return field(c).String() },
		set: func(c *config.Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", name, err)
			}
			*field(c) = d
			return nil
		},
	}
}

func findConfigKey(key string) (configKey, error) {
	key = strings.ToLower(key)
	for _, k := range configKeys {
		if k.name == key {
			return k, nil
		}
	}
	return configKey{}, fmt.Errorf("unknown configuration key: %s", key)
}

// displayAllConfig prints all configuration values.
func displayAllConfig(w io.Writer, c *config.Config) {
	for _, k := range configKeys {
		fmt.Fprintf(w, "%s: %s\n", k.name, k.get(c))
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(c *config.Config, key string) (string, error) {
	k, err := findConfigKey(key)
	if err != nil {
		return "", err
	}
	return k.get(c), nil
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(c *config.Config, key, value string) error {
	k, err := findConfigKey(key)
	if err != nil {
		return err
	}
	return k.set(c, value)
}
