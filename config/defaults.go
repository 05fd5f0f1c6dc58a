package config

import "time"

// DefaultConfig returns the baseline configuration. Every value here can
// be overridden by the YAML file and environment variables.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Name:    "researchflow.db",
			Host:    "localhost",
			Port:    5432,
			User:    "researchflow",
			SSLMode: "disable",
		},
		LLM: LLMConfig{
			Provider:   "claude",
			BaseURL:    "https://api.anthropic.com",
			Model:      "claude-sonnet-4-20250514",
			Timeout:    120 * time.Second,
			MaxRetries: 3,
		},
		Tools: ToolsConfig{
			MaxResults:       5,
			MaxConcurrent:    4,
			FailureThreshold: 2,
			Timeout:          20 * time.Second,
			CacheTTL:         15 * time.Minute,
		},
		Workflow: WorkflowConfig{
			MaxResearchIterations: 3,
			MaxRevisionIterations: 3,
			OutputDir:             "reports",
		},
		Redis: RedisConfig{
			Addr: "",
			DB:   0,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "researchflow",
			SampleRate:   1.0,
		},
	}
}
