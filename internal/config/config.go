// Package config loads application configuration with multi-source
// priority: environment variables over the config file
// (~/.loremap/config.yaml) over defaults. Loading validates immediately, so
// a *Config in hand is always usable.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/koopa0/loremap/internal/log"
)

// Sentinel errors for configuration validation. Check with errors.Is().
var (
	// ErrInvalidDatabasePath indicates an empty or unusable database path.
	ErrInvalidDatabasePath = errors.New("invalid database path")

	// ErrInvalidModelName indicates an empty classifier model name.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTimeout indicates a classifier timeout out of range.
	ErrInvalidTimeout = errors.New("invalid classifier timeout")

	// ErrInvalidRateLimit indicates a non-positive classifier rate limit.
	ErrInvalidRateLimit = errors.New("invalid classifier rate limit")

	// ErrInvalidLogLevel indicates an unknown log level string.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

const (
	// DefaultModelName is the classifier/extractor model.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultClassifierTimeout bounds one classifier or extractor call.
	DefaultClassifierTimeout = 8 * time.Second

	// MaxClassifierTimeout keeps a misconfigured timeout from stalling
	// turns indefinitely.
	MaxClassifierTimeout = 2 * time.Minute

	// DefaultClassifierRate is the model-call budget in requests/second.
	DefaultClassifierRate = 2.0

	providerGoogleAI = "googleai"
)

// Config stores application configuration.
type Config struct {
	// DatabasePath is the SQLite file holding the lore map.
	DatabasePath string `mapstructure:"database_path" json:"database_path"`

	// ModelName is the classifier/extractor model identifier.
	ModelName string `mapstructure:"model_name" json:"model_name"`

	// ClassifierTimeout bounds one classifier or extractor call.
	ClassifierTimeout time.Duration `mapstructure:"classifier_timeout" json:"classifier_timeout"`

	// ClassifierRate caps model calls in requests per second.
	ClassifierRate float64 `mapstructure:"classifier_rate" json:"classifier_rate"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" json:"log_level"`

	// LogJSON switches log output from text to JSON.
	LogJSON bool `mapstructure:"log_json" json:"log_json"`
}

// Load reads configuration from ~/.loremap/config.yaml, applies environment
// overrides, and validates. A missing config file is not an error.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".loremap")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("database_path", filepath.Join(configDir, "loremap.db"))
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("classifier_timeout", DefaultClassifierTimeout)
	v.SetDefault("classifier_rate", DefaultClassifierRate)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds the environment overrides explicitly.
// GEMINI_API_KEY is read directly by genkit, not through here.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("database_path", "LOREMAP_DATABASE_PATH")
	mustBind("model_name", "LOREMAP_MODEL_NAME")
	mustBind("classifier_timeout", "LOREMAP_CLASSIFIER_TIMEOUT")
	mustBind("classifier_rate", "LOREMAP_CLASSIFIER_RATE")
	mustBind("log_level", "LOREMAP_LOG_LEVEL")
	mustBind("log_json", "LOREMAP_LOG_JSON")
}

// Validate fails fast on unusable values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("%w: path is empty", ErrInvalidDatabasePath)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidModelName)
	}
	if c.ClassifierTimeout <= 0 || c.ClassifierTimeout > MaxClassifierTimeout {
		return fmt.Errorf("%w: %s (must be in (0, %s])",
			ErrInvalidTimeout, c.ClassifierTimeout, MaxClassifierTimeout)
	}
	if c.ClassifierRate <= 0 {
		return fmt.Errorf("%w: %v (must be positive)", ErrInvalidRateLimit, c.ClassifierRate)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}

// FullModelName returns the provider-qualified model name for genkit, e.g.
// "googleai/gemini-2.5-flash". A name already containing "/" passes through.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return providerGoogleAI + "/" + c.ModelName
}
