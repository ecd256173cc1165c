// Package config loads the pipeline configuration from defaults, an optional
// YAML file and environment-variable overrides, in that priority order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("finstudio.yaml").
//	    WithEnvPrefix("FINSTUDIO").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChaosChain/fin-studio-go/audit"
	"github.com/ChaosChain/fin-studio-go/internal/telemetry"
	"github.com/ChaosChain/fin-studio-go/orchestrator"
	"github.com/ChaosChain/fin-studio-go/relay"
	"github.com/ChaosChain/fin-studio-go/reputation"
	"github.com/ChaosChain/fin-studio-go/verification"
)

// Config is the complete pipeline configuration.
type Config struct {
	Log          LogConfig               `yaml:"log"`
	Relay        relay.Config            `yaml:"relay"`
	Orchestrator orchestrator.Config     `yaml:"orchestrator"`
	Verification verification.PoolConfig `yaml:"verification"`
	Reputation   ReputationConfig        `yaml:"reputation"`
	Audit        audit.Config            `yaml:"audit"`
	Telemetry    telemetry.Config        `yaml:"telemetry"`
	Agent        AgentConfig             `yaml:"agent"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
	// OutputPaths are zap output sinks.
	OutputPaths []string `yaml:"output_paths"`
}

// ReputationConfig wraps the tracker tuning and the optional Redis backend.
type ReputationConfig struct {
	Tuning reputation.Config `yaml:"tuning"`
	// RedisEnabled switches the tracker from the in-memory store to Redis.
	RedisEnabled bool                   `yaml:"redis_enabled"`
	Redis        reputation.RedisConfig `yaml:"redis"`
}

// AgentConfig describes how the binary announces itself on the relay network.
type AgentConfig struct {
	Name        string   `yaml:"name"`
	Specialties []string `yaml:"specialties"`
	Cost        string   `yaml:"cost"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Relay:        relay.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Verification: verification.DefaultPoolConfig(),
		Reputation: ReputationConfig{
			Tuning: reputation.DefaultConfig(),
			Redis:  reputation.RedisConfig{Addr: "localhost:6379"},
		},
		Audit:     audit.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Agent: AgentConfig{
			Name: "finstudio-orchestrator",
			Cost: "0",
		},
	}
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the FINSTUDIO env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "FINSTUDIO"}
}

// WithConfigPath sets the YAML file path. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then YAML, then env overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.applyEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

// applyEnv walks the config struct and overrides fields from environment
// variables. The variable name is the prefix joined with the uppercased yaml
// tag path, e.g. FINSTUDIO_RELAY_REQUEST_TIMEOUT.
func (l *Loader) applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + strings.ToUpper(tag)

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := l.applyEnv(field, key); err != nil {
				return err
			}
			continue
		}
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		// Comma-separated values for string-kinded slices.
		elem := field.Type().Elem()
		if elem.Kind() != reflect.String {
			return nil
		}
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, part := range parts {
			out = reflect.Append(out, reflect.ValueOf(strings.TrimSpace(part)).Convert(elem))
		}
		field.Set(out)
	}
	return nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []string
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Orchestrator.Redundancy <= 0 {
		errs = append(errs, "orchestrator redundancy must be positive")
	}
	if c.Orchestrator.MinMeanScore < 0 || c.Orchestrator.MinMeanScore > 1 {
		errs = append(errs, "min_mean_score must lie in [0,1]")
	}
	if c.Verification.Size <= 0 {
		errs = append(errs, "verification pool size must be positive")
	}
	if c.Reputation.RedisEnabled && c.Reputation.Redis.Addr == "" {
		errs = append(errs, "redis reputation store needs an address")
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, "audit archive needs a path")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MustLoad loads the configuration from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}
