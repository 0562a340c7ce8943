// =============================================================================
// 📦 visionflow configuration loader
// =============================================================================
// Unified configuration loading: YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("VISIONFLOW").
//	    Load()
//
// Precedence: defaults → YAML file → environment variables.
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete visionflow configuration.
type Config struct {
	// Server holds HTTP server settings.
	Server ServerConfig `yaml:"server"`

	// Providers is the nested provider map keyed by provider name
	// (google_cloud, aws_rekognition, azure_vision, apple_fastvlm).
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Log holds logging settings.
	Log LogConfig `yaml:"log"`

	// Telemetry holds OpenTelemetry settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	MetricsPort     int           `yaml:"metrics_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProviderConfig is one block of the nested provider map. Only the fields
// relevant to a given provider are read by its constructor; unknown fields
// are ignored so a single shape serves every backend.
type ProviderConfig struct {
	// Enabled gates construction. A disabled provider is never instantiated.
	Enabled bool `yaml:"enabled"`

	// Google Cloud
	ProjectID  string `yaml:"project_id,omitempty"`
	LocationID string `yaml:"location_id,omitempty"`

	// AWS Rekognition
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	Region          string `yaml:"region,omitempty"`

	// Azure Vision
	SubscriptionKey string `yaml:"subscription_key,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`

	// Apple FastVLM (self-hosted, OpenAI-compatible endpoint)
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`

	// Timeout bounds every network call made by the provider.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level"`
	// Format: json, console
	Format string `yaml:"format"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// =============================================================================
// 🎯 Loader
// =============================================================================

// Loader loads configuration with the precedence defaults → YAML → env.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a Loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "VISIONFLOW"}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the final configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", l.configPath, err)
		}
	}

	l.applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides config fields from <PREFIX>_* environment variables.
// Provider credentials are overridable so secrets can stay out of the YAML.
func (l *Loader) applyEnv(cfg *Config) {
	l.envInt("HTTP_PORT", &cfg.Server.HTTPPort)
	l.envInt("METRICS_PORT", &cfg.Server.MetricsPort)
	l.envString("LOG_LEVEL", &cfg.Log.Level)
	l.envString("LOG_FORMAT", &cfg.Log.Format)
	l.envBool("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	l.envString("OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	overrideProvider := func(name string, apply func(*ProviderConfig)) {
		p := cfg.Providers[name]
		apply(&p)
		cfg.Providers[name] = p
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	overrideProvider("google_cloud", func(p *ProviderConfig) {
		l.envBool("GOOGLE_ENABLED", &p.Enabled)
		l.envString("GOOGLE_PROJECT_ID", &p.ProjectID)
		l.envString("GOOGLE_LOCATION_ID", &p.LocationID)
	})
	overrideProvider("aws_rekognition", func(p *ProviderConfig) {
		l.envBool("AWS_ENABLED", &p.Enabled)
		l.envString("AWS_ACCESS_KEY_ID", &p.AccessKeyID)
		l.envString("AWS_SECRET_ACCESS_KEY", &p.SecretAccessKey)
		l.envString("AWS_REGION", &p.Region)
	})
	overrideProvider("azure_vision", func(p *ProviderConfig) {
		l.envBool("AZURE_ENABLED", &p.Enabled)
		l.envString("AZURE_SUBSCRIPTION_KEY", &p.SubscriptionKey)
		l.envString("AZURE_ENDPOINT", &p.Endpoint)
	})
	overrideProvider("apple_fastvlm", func(p *ProviderConfig) {
		l.envBool("FASTVLM_ENABLED", &p.Enabled)
		l.envString("FASTVLM_BASE_URL", &p.BaseURL)
		l.envString("FASTVLM_MODEL", &p.Model)
	})
}

func (l *Loader) envString(key string, dst *string) {
	if v, ok := os.LookupEnv(l.envPrefix + "_" + key); ok {
		*dst = v
	}
}

func (l *Loader) envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(l.envPrefix + "_" + key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (l *Loader) envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(l.envPrefix + "_" + key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
