// Package config loads pipeline settings from a config file and environment
// variables via viper. Every knob has a default so the zero configuration is
// runnable against a local OpenAI-compatible endpoint.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface of the translation pipeline.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`

	// Remote endpoint.
	Endpoint    string        `mapstructure:"endpoint"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"apiKey"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Credentials string        `mapstructure:"credentials"` // Google fallback
	ProjectID   string        `mapstructure:"projectId"`

	// Resilient client.
	MaxRetries            int           `mapstructure:"maxRetries"`
	RetryDelay            time.Duration `mapstructure:"retryDelay"`
	MaxRetryDelay         time.Duration `mapstructure:"maxRetryDelay"`
	UseExponentialBackoff bool          `mapstructure:"useExponentialBackoff"`
	CacheTTL              time.Duration `mapstructure:"cacheTTL"`
	MaxEntries            int           `mapstructure:"maxEntries"`
	MaxInFlight           int           `mapstructure:"maxInFlight"`

	// Strategy selection.
	LongTextThreshold int               `mapstructure:"longTextThreshold"`
	ChunkSize         int               `mapstructure:"chunkSize"`
	BrandWords        []string          `mapstructure:"brandWords"`
	FallbackText      string            `mapstructure:"fallbackText"`
	Glossary          map[string]string `mapstructure:"glossary"`

	// API monitor.
	Operations    []string      `mapstructure:"operations"`
	MinSample     int           `mapstructure:"minSample"`
	FailureWarn   float64       `mapstructure:"failureWarn"`
	FailureError  float64       `mapstructure:"failureError"`
	P95WarnRatio  float64       `mapstructure:"p95WarnRatio"`
	P95ErrorRatio float64       `mapstructure:"p95ErrorRatio"`
	P95Baseline   time.Duration `mapstructure:"p95Baseline"`

	// Metrics persistence.
	FlushIntervalMS  int64         `mapstructure:"intervalMs"` // milliseconds between flushes
	FlushMaxRetries  int           `mapstructure:"flushMaxRetries"`
	DumpDir          string        `mapstructure:"dumpDir"`
	DBPath           string        `mapstructure:"dbPath"`
	DisableMemory    bool          `mapstructure:"disableMemory"`
	ChunkParallelism int           `mapstructure:"chunkParallelism"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "local")
	v.SetDefault("logLevel", "info")

	v.SetDefault("endpoint", "http://localhost:11434/v1")
	v.SetDefault("model", "llama3.2")
	v.SetDefault("timeout", 120*time.Second)

	v.SetDefault("maxRetries", 3)
	v.SetDefault("retryDelay", 500*time.Millisecond)
	v.SetDefault("maxRetryDelay", 10*time.Second)
	v.SetDefault("useExponentialBackoff", true)
	v.SetDefault("cacheTTL", 30*time.Minute)
	v.SetDefault("maxEntries", 1000)
	v.SetDefault("maxInFlight", 64)

	v.SetDefault("longTextThreshold", 1500)
	v.SetDefault("chunkSize", 1000)
	v.SetDefault("fallbackText", "")

	v.SetDefault("operations", []string{"translate"})
	v.SetDefault("minSample", 5)
	v.SetDefault("failureWarn", 0.1)
	v.SetDefault("failureError", 0.2)
	v.SetDefault("p95WarnRatio", 1.5)
	v.SetDefault("p95ErrorRatio", 3.0)
	v.SetDefault("p95Baseline", 2*time.Second)

	v.SetDefault("intervalMs", int64(60000))
	v.SetDefault("flushMaxRetries", 3)
	v.SetDefault("dumpDir", "./data/metric-dumps")
	v.SetDefault("dbPath", "./data/shoplingo.db")
	v.SetDefault("chunkParallelism", 4)
}

// Load reads configuration from the given file (optional), SHOPLINGO_*
// environment variables, and built-in defaults, in that order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SHOPLINGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching disk.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults always validate; an error here is a programmer error.
		panic(err)
	}
	return cfg
}

// FlushInterval returns the metrics flush period derived from intervalMs.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retryDelay must be positive")
	}
	if c.MaxRetryDelay < c.RetryDelay {
		return fmt.Errorf("maxRetryDelay (%s) cannot be below retryDelay (%s)", c.MaxRetryDelay, c.RetryDelay)
	}
	if c.MaxEntries < 1 {
		return fmt.Errorf("maxEntries must be >= 1")
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("maxInFlight must be >= 1")
	}
	if c.LongTextThreshold < 1 {
		return fmt.Errorf("longTextThreshold must be >= 1")
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunkSize must be >= 1")
	}
	if c.FailureWarn < 0 || c.FailureWarn > 1 || c.FailureError < 0 || c.FailureError > 1 {
		return fmt.Errorf("failure thresholds must be within [0, 1]")
	}
	if c.FailureError < c.FailureWarn {
		return fmt.Errorf("failureError (%.2f) cannot be below failureWarn (%.2f)", c.FailureError, c.FailureWarn)
	}
	if c.P95ErrorRatio < c.P95WarnRatio {
		return fmt.Errorf("p95ErrorRatio (%.2f) cannot be below p95WarnRatio (%.2f)", c.P95ErrorRatio, c.P95WarnRatio)
	}
	if c.FlushIntervalMS <= 0 {
		return fmt.Errorf("intervalMs must be positive")
	}
	if c.ChunkParallelism < 1 {
		return fmt.Errorf("chunkParallelism must be >= 1")
	}
	return nil
}
