// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Cache         CacheConfig         `yaml:"cache"`
	Connectors    ConnectorsConfig    `yaml:"connectors"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	AI            AIConfig            `yaml:"ai"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
	Auth            AuthConfig    `yaml:"auth"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// AuthConfig describes bearer token verification for the HTTP API. Tokens
// are HMAC-signed JWTs; auth is off when the secret variable is unset.
type AuthConfig struct {
	SecretEnv  string   `yaml:"secret_env"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	Algorithms []string `yaml:"algorithms"`
}

// Secret returns the signing secret from the environment.
func (a AuthConfig) Secret() string {
	if a.SecretEnv == "" {
		return ""
	}
	return os.Getenv(a.SecretEnv)
}

// WorkspaceConfig describes the workspace connectors operate in.
type WorkspaceConfig struct {
	// Root is the working directory for cli connectors and the base for
	// relative file paths. Empty means the process working directory.
	Root string `yaml:"root"`
}

// DefinitionsConfig describes where to find connector and workflow files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
	// SecretsFiles are dotenv files consulted by ${secret:NAME} before the
	// process environment.
	SecretsFiles []string `yaml:"secrets_files"`
}

// CacheConfig describes the response cache.
type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig describes a Redis connection.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	AddrEnv     string `yaml:"addr_env"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
}

// ConnectorsConfig describes connector execution defaults.
type ConnectorsConfig struct {
	Timeouts       TimeoutsConfig       `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutsConfig holds the per-type timeout used when a connector sets none.
type TimeoutsConfig struct {
	API      time.Duration `yaml:"api"`
	CLI      time.Duration `yaml:"cli"`
	File     time.Duration `yaml:"file"`
	Database time.Duration `yaml:"database"`
	Webhook  time.Duration `yaml:"webhook"`
}

// RetryConfig describes backoff between retries of network connectors.
type RetryConfig struct {
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// CircuitBreakerConfig describes per-connector circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// WorkflowConfig describes workflow engine settings.
type WorkflowConfig struct {
	StepLimit int                 `yaml:"step_limit"`
	Store     WorkflowStoreConfig `yaml:"store"`
	Approval  ApprovalConfig      `yaml:"approval"`
	Scheduler SchedulerConfig     `yaml:"scheduler"`
	// IdempotencyTTL is how long a keyed run's result is replayed.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// WorkflowStoreConfig describes workflow run persistence.
type WorkflowStoreConfig struct {
	Driver   string `yaml:"driver"`
	DSNEnv   string `yaml:"dsn_env"`
	MaxConns int32  `yaml:"max_conns"`
}

// ApprovalConfig describes how user steps are resolved.
type ApprovalConfig struct {
	// Mode is "auto" (approve immediately) or "pending" (wait for a
	// decision through the API until the step timeout).
	Mode    string        `yaml:"mode"`
	Timeout time.Duration `yaml:"timeout"`
}

// SchedulerConfig describes cron-triggered workflows.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AIConfig describes the language model used by ai steps.
type AIConfig struct {
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	MaxTokens int64         `yaml:"max_tokens"`
	System    string        `yaml:"system"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			HandlerTimeout:  4 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
			Auth: AuthConfig{
				SecretEnv:  "SWITCHBOARD_AUTH_SECRET",
				Algorithms: []string{"HS256"},
			},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{".switchboard"},
		},
		Cache: CacheConfig{
			Backend:       "memory",
			TTL:           60 * time.Second,
			MaxAge:        5 * time.Minute,
			SweepInterval: 60 * time.Second,
			Redis: RedisConfig{
				AddrEnv: "SWITCHBOARD_REDIS_ADDR",
			},
		},
		Connectors: ConnectorsConfig{
			Timeouts: TimeoutsConfig{
				API:      30 * time.Second,
				CLI:      60 * time.Second,
				File:     10 * time.Second,
				Database: 30 * time.Second,
				Webhook:  10 * time.Second,
			},
			Retry: RetryConfig{
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Workflow: WorkflowConfig{
			StepLimit: 100,
			Store: WorkflowStoreConfig{
				Driver:   "memory",
				DSNEnv:   "SWITCHBOARD_DATABASE_URL",
				MaxConns: 10,
			},
			Approval: ApprovalConfig{
				Mode:    "auto",
				Timeout: 5 * time.Minute,
			},
			IdempotencyTTL: 24 * time.Hour,
		},
		AI: AIConfig{
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Model:     "claude-3-5-haiku-latest",
			MaxTokens: 1024,
			Timeout:   2 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result. An empty path yields the defaults with
// overrides applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all fields hold usable values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	for _, alg := range c.Server.Auth.Algorithms {
		switch alg {
		case "HS256", "HS384", "HS512":
		default:
			errs = append(errs, fmt.Sprintf("server.auth.algorithms: %q is not an HMAC algorithm", alg))
		}
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("cache.backend %q is not one of memory, redis", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, "cache.ttl must be positive")
	}
	if c.Cache.MaxAge < c.Cache.TTL {
		errs = append(errs, "cache.max_age must not be shorter than cache.ttl")
	}
	switch c.Workflow.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("workflow.store.driver %q is not one of memory, postgres", c.Workflow.Store.Driver))
	}
	switch c.Workflow.Approval.Mode {
	case "auto", "pending":
	default:
		errs = append(errs, fmt.Sprintf("workflow.approval.mode %q is not one of auto, pending", c.Workflow.Approval.Mode))
	}
	if c.Workflow.StepLimit < 1 {
		errs = append(errs, "workflow.step_limit must be at least 1")
	}
	if c.Observability.Tracing.Enabled {
		switch c.Observability.Tracing.Exporter {
		case "otlp", "stdout":
		default:
			errs = append(errs, fmt.Sprintf("observability.tracing.exporter %q is not one of otlp, stdout", c.Observability.Tracing.Exporter))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads SWITCHBOARD_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWITCHBOARD_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SWITCHBOARD_WORKSPACE_ROOT"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("SWITCHBOARD_DEFINITIONS_DIRS"); v != "" {
		cfg.Definitions.Directories = splitList(v)
	}
	if v := os.Getenv("SWITCHBOARD_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("SWITCHBOARD_WORKFLOW_STORE_DRIVER"); v != "" {
		cfg.Workflow.Store.Driver = v
	}
	if v := os.Getenv("SWITCHBOARD_APPROVAL_MODE"); v != "" {
		cfg.Workflow.Approval.Mode = v
	}
	if v := os.Getenv("SWITCHBOARD_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("SWITCHBOARD_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RedisAddr returns the configured Redis address, preferring the variable
// named by AddrEnv.
func (r RedisConfig) RedisAddr() string {
	if r.AddrEnv != "" {
		if v := os.Getenv(r.AddrEnv); v != "" {
			return v
		}
	}
	return r.Addr
}
