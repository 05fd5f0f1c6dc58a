// Package config loads the ResearchFlow configuration.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RESEARCHFLOW").
//	    Load()
//
// Precedence: defaults → YAML file → environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration.
type Config struct {
	// Server holds the HTTP boundary configuration.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Database holds the persistence store configuration.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// LLM holds the provider configuration used by the agent invoker.
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Tools holds the tool adapter configuration.
	Tools ToolsConfig `yaml:"tools" env:"TOOLS"`

	// Workflow holds the orchestration policy.
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Redis configures the optional tool-result cache backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log holds the logging configuration.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry holds the tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP boundary shim.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// APIKeys protects mutating endpoints; empty disables auth.
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// RateLimitRPS bounds requests per second per client.
	RateLimitRPS   int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// DatabaseConfig configures persistence. SQLite is the default driver;
// postgres is supported for shared deployments.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// Name is the database name, or the file path for SQLite.
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
}

// LLMConfig configures the LLM provider behind the agent invoker.
type LLMConfig struct {
	Provider   string        `yaml:"provider" env:"PROVIDER"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Model      string        `yaml:"model" env:"MODEL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// ToolsConfig configures tool adapters used during the Research stage.
type ToolsConfig struct {
	TavilyAPIKey string `yaml:"tavily_api_key" env:"TAVILY_API_KEY"`
	// MaxResults bounds results per adapter call.
	MaxResults int `yaml:"max_results" env:"MAX_RESULTS"`
	// MaxConcurrent bounds parallel adapter calls within one stage.
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// FailureThreshold is the number of failed adapter calls a research
	// pass tolerates before the stage itself fails.
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// CacheTTL is the lifetime of memoized tool results; zero disables
	// memoization.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// WorkflowConfig holds the orchestration policy.
type WorkflowConfig struct {
	// MaxResearchIterations bounds the research-completeness loop.
	MaxResearchIterations int `yaml:"max_research_iterations" env:"MAX_RESEARCH_ITERATIONS"`
	// MaxRevisionIterations bounds the review/revision loop.
	MaxRevisionIterations int `yaml:"max_revision_iterations" env:"MAX_REVISION_ITERATIONS"`
	// AutoApprove approves plan and escalation gates automatically.
	// Intended for headless API deployments; every auto decision is still
	// appended to the approval log.
	AutoApprove bool `yaml:"auto_approve" env:"AUTO_APPROVE"`
	// OutputDir is where rendered report documents are written.
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
}

// RedisConfig configures the optional Redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string   `yaml:"level" env:"LEVEL"`
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RESEARCHFLOW",
		validators: make([]func(*Config) error, 0),
	}
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

// WithValidator registers an additional validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults → YAML file → env.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
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
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
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
		// time.Duration is an int64 under the hood but parses differently.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

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
		// Comma-separated string slices (api_keys, output_paths).
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Workflow.MaxResearchIterations <= 0 {
		errs = append(errs, "max_research_iterations must be positive")
	}
	if c.Workflow.MaxRevisionIterations <= 0 {
		errs = append(errs, "max_revision_iterations must be positive")
	}
	if c.Tools.FailureThreshold < 0 {
		errs = append(errs, "failure_threshold must not be negative")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		errs = append(errs, fmt.Sprintf("unsupported database driver: %s", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
