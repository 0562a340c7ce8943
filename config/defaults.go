package config

import "time"

// Default returns the built-in configuration. Every provider block exists
// but is disabled, so a zero-config start serves only health and metrics.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Providers: map[string]ProviderConfig{
			"google_cloud":    {Timeout: 300 * time.Second},
			"aws_rekognition": {Timeout: 300 * time.Second},
			"azure_vision":    {Timeout: 60 * time.Second},
			"apple_fastvlm":   {Timeout: 120 * time.Second, BaseURL: "http://localhost:8000"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "visionflow",
			Insecure:    true,
		},
	}
}
