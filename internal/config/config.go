// Package config handles loading and validating NextVibe configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for NextVibe.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.nextvibe/data. Override: NEXTVIBE_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	RateLimit     RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
	Classifier    ClassifierConfig     `json:"classifier" yaml:"classifier"`
	Engine        EngineConfig         `json:"engine" yaml:"engine"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Transcription *TranscriptionConfig `json:"transcription,omitempty" yaml:"transcription,omitempty"` // nil = voice messages rejected
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Janitor       *JanitorConfig       `json:"janitor,omitempty" yaml:"janitor,omitempty"`             // nil = background sweeps disabled
}

// StorageConfig configures the persistence backend for execution history.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
// DSN can be overridden by the NEXTVIBE_DB_DSN env var.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// RateLimitConfig configures per-identity admission control.
type RateLimitConfig struct {
	RequestsPerWindow int `json:"requests_per_window" yaml:"requests_per_window"` // 0 = unlimited.
	WindowSeconds     int `json:"window_seconds" yaml:"window_seconds"`           // Default: 60.
}

// Window returns the admission window with a default of 60s.
func (r RateLimitConfig) Window() time.Duration {
	if r.WindowSeconds > 0 {
		return time.Duration(r.WindowSeconds) * time.Second
	}
	return time.Minute
}

// ClassifierConfig tunes the rule-based classification stage and the
// collaborator fallback. Zero values select package defaults.
type ClassifierConfig struct {
	KeywordWeight      float64 `json:"keyword_weight" yaml:"keyword_weight"`           // Default: 0.3
	StackTraceWeight   float64 `json:"stack_trace_weight" yaml:"stack_trace_weight"`   // Default: 0.4
	CodeBlockWeight    float64 `json:"code_block_weight" yaml:"code_block_weight"`     // Default: 0.15
	MinConfidence      float64 `json:"min_confidence" yaml:"min_confidence"`           // Rule floor. Default: 0.55
	UncertaintyPenalty float64 `json:"uncertainty_penalty" yaml:"uncertainty_penalty"` // Subtracted from LLM verdicts. Default: 0.2
}

// EngineConfig controls per-request orchestration.
type EngineConfig struct {
	TaskTimeoutSeconds  int `json:"task_timeout_seconds" yaml:"task_timeout_seconds"`     // Whole-pipeline deadline. Default: 180.
	RetryBackoffSeconds int `json:"retry_backoff_seconds" yaml:"retry_backoff_seconds"`   // Collaborator retry backoff. Default: 2.
	MaxInputBytes       int `json:"max_input_bytes,omitempty" yaml:"max_input_bytes,omitempty"` // Raw request cap. 0 = 65536.
}

// TaskTimeout returns the whole-pipeline deadline with a default of 3m.
func (e EngineConfig) TaskTimeout() time.Duration {
	if e.TaskTimeoutSeconds > 0 {
		return time.Duration(e.TaskTimeoutSeconds) * time.Second
	}
	return 3 * time.Minute
}

// RetryBackoff returns the collaborator retry backoff with a default of 2s.
func (e EngineConfig) RetryBackoff() time.Duration {
	if e.RetryBackoffSeconds > 0 {
		return time.Duration(e.RetryBackoffSeconds) * time.Second
	}
	return 2 * time.Second
}

// MaxInput returns the raw input cap with a default of 64 KB.
func (e EngineConfig) MaxInput() int {
	if e.MaxInputBytes > 0 {
		return e.MaxInputBytes
	}
	return 64 * 1024
}

// SandboxConfig configures the execution backend.
type SandboxConfig struct {
	Type                string              `json:"type" yaml:"type"` // "process" (default) or "docker"
	MaxMemoryMB         int                 `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxExecutionSeconds int                 `json:"max_execution_seconds" yaml:"max_execution_seconds"`
	MaxOutputBytes      int                 `json:"max_output_bytes" yaml:"max_output_bytes"`
	MaxCPUSeconds       int                 `json:"max_cpu_seconds" yaml:"max_cpu_seconds"` // Process backend only.
	AllowedLanguages    []string            `json:"allowed_languages" yaml:"allowed_languages"` // Empty = all built-ins.
	Docker              DockerSandboxConfig `json:"docker" yaml:"docker"`
}

// Backend returns the sandbox type with a default of "process".
func (s SandboxConfig) Backend() string {
	if s.Type != "" {
		return s.Type
	}
	return "process"
}

// ExecutionTimeout returns the per-execution wall clock limit. 0 = sandbox default.
func (s SandboxConfig) ExecutionTimeout() time.Duration {
	if s.MaxExecutionSeconds > 0 {
		return time.Duration(s.MaxExecutionSeconds) * time.Second
	}
	return 0
}

// DockerSandboxConfig holds Docker-specific sandbox settings.
type DockerSandboxConfig struct {
	CPUCores  float64 `json:"cpu_cores" yaml:"cpu_cores"`   // Docker --cpus flag (e.g. 0.5). 0 = 1.0 default.
	PIDsLimit int     `json:"pids_limit" yaml:"pids_limit"` // Docker --pids-limit flag. 0 = 64 default.
}

// TranscriptionConfig configures the speech-to-text client for voice messages.
// API key can be set here or via NEXTVIBE_TRANSCRIPTION_API_KEY env var.
type TranscriptionConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	BaseURL string `json:"base_url" yaml:"base_url"` // OpenAI-compatible audio endpoint. Default: https://api.openai.com.
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model   string `json:"model" yaml:"model"` // Default: "whisper-1".
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "nextvibe"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	DenialThreshold    int     `json:"denial_threshold" yaml:"denial_threshold"`         // Admission denials per identity per window before flagging. Default: 20.
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// JanitorConfig configures periodic background maintenance sweeps.
type JanitorConfig struct {
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	Schedule             string `json:"schedule" yaml:"schedule"`                             // Cron expression. Default: "@every 5m".
	IdleEvictSeconds     int    `json:"idle_evict_seconds" yaml:"idle_evict_seconds"`         // Rate-limit window eviction age. Default: 3600.
	HistoryRetentionDays int    `json:"history_retention_days" yaml:"history_retention_days"` // Execution history retention. Default: 30. 0 = keep forever.
}

// CronSchedule returns the sweep schedule with a default of every 5 minutes.
func (j *JanitorConfig) CronSchedule() string {
	if j != nil && j.Schedule != "" {
		return j.Schedule
	}
	return "@every 5m"
}

// IdleEvictAge returns the limiter eviction age with a default of 1h.
func (j *JanitorConfig) IdleEvictAge() time.Duration {
	if j != nil && j.IdleEvictSeconds > 0 {
		return time.Duration(j.IdleEvictSeconds) * time.Second
	}
	return time.Hour
}

// HistoryRetention returns the record retention period. 0 = keep forever.
func (j *JanitorConfig) HistoryRetention() time.Duration {
	if j == nil {
		return 0
	}
	if j.HistoryRetentionDays > 0 {
		return time.Duration(j.HistoryRetentionDays) * 24 * time.Hour
	}
	if j.HistoryRetentionDays == 0 {
		return 30 * 24 * time.Hour
	}
	return 0
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured. If the entire section
// is absent, the CLI gateway is enabled by default.
type GatewaysConfig struct {
	CLI       *CLIGatewayConfig       `json:"cli,omitempty" yaml:"cli,omitempty"`
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	Telegram  *TelegramGatewayConfig  `json:"telegram,omitempty" yaml:"telegram,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// CLIGatewayConfig configures the interactive CLI gateway.
type CLIGatewayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	EnableDocs          bool   `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	MaxRequestSizeBytes int64  `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// TelegramGatewayConfig configures the Telegram gateway.
// Bot token can be set here or via TELEGRAM_BOT_TOKEN env var.
// Environment variable takes precedence over config value.
type TelegramGatewayConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	BotToken           string  `json:"bot_token,omitempty" yaml:"bot_token,omitempty"` // Override: TELEGRAM_BOT_TOKEN env var.
	WebhookURL         string  `json:"webhook_url" yaml:"webhook_url"`                 // Empty = long polling.
	ListenAddr         string  `json:"listen_addr" yaml:"listen_addr"`                 // Webhook listen address.
	AllowedUsers       []int64 `json:"allowed_users" yaml:"allowed_users"`             // Telegram user IDs. Empty = deny all.
	PollTimeoutSeconds int     `json:"poll_timeout_seconds" yaml:"poll_timeout_seconds"`
}

// PollTimeout returns the long-poll timeout with a default of 30s.
func (t *TelegramGatewayConfig) PollTimeout() time.Duration {
	if t != nil && t.PollTimeoutSeconds > 0 {
		return time.Duration(t.PollTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// WebSocketGatewayConfig configures the WebSocket task stream endpoint.
type WebSocketGatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/ws/tasks".
}

// WSPath returns the WebSocket path with a default of "/ws/tasks".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/ws/tasks"
}

// ProvidersConfig selects the LLM collaborator backends.
type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"`                       // "anthropic", "openai", "gemini", "ollama". Empty = "anthropic".
	Fallback  []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Gemini    GeminiConfig    `json:"gemini" yaml:"gemini"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
	Model  string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type GeminiConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://generativelanguage.googleapis.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// DefaultConfigPath returns the default config file path (~/.nextvibe/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/nextvibe.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".nextvibe", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Provider API keys and gateway tokens can be set in the file
// or overridden by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".nextvibe", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides layers environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		cfg.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		cfg.Providers.OpenAI.APIKey = envKey
	}
	if envKey := os.Getenv("GEMINI_API_KEY"); envKey != "" {
		cfg.Providers.Gemini.APIKey = envKey
	}
	if envDD := os.Getenv("NEXTVIBE_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envDSN := os.Getenv("NEXTVIBE_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = envDSN
	}
	if envKey := os.Getenv("TELEGRAM_BOT_TOKEN"); envKey != "" {
		if cfg.Gateways.Telegram == nil {
			cfg.Gateways.Telegram = &TelegramGatewayConfig{}
		}
		cfg.Gateways.Telegram.BotToken = envKey
	}
	if envKey := os.Getenv("NEXTVIBE_TRANSCRIPTION_API_KEY"); envKey != "" {
		if cfg.Transcription == nil {
			cfg.Transcription = &TranscriptionConfig{Enabled: true}
		}
		cfg.Transcription.APIKey = envKey
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".nextvibe", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "nextvibe.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if c.RateLimit.RequestsPerWindow < 0 {
		return fmt.Errorf("rate_limit.requests_per_window must not be negative")
	}
	if c.RateLimit.WindowSeconds < 0 {
		return fmt.Errorf("rate_limit.window_seconds must not be negative")
	}
	for name, v := range map[string]float64{
		"classifier.keyword_weight":      c.Classifier.KeywordWeight,
		"classifier.stack_trace_weight":  c.Classifier.StackTraceWeight,
		"classifier.code_block_weight":   c.Classifier.CodeBlockWeight,
		"classifier.min_confidence":      c.Classifier.MinConfidence,
		"classifier.uncertainty_penalty": c.Classifier.UncertaintyPenalty,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1]", name)
		}
	}
	switch c.Sandbox.Backend() {
	case "process", "docker":
	default:
		return fmt.Errorf("sandbox.type %q is not supported (use process or docker)", c.Sandbox.Type)
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("sandbox.max_memory_mb must not be negative")
	}
	if c.Sandbox.MaxExecutionSeconds < 0 {
		return fmt.Errorf("sandbox.max_execution_seconds must not be negative")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
		if c.Storage.Driver == "postgres" && (c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "") {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (or set NEXTVIBE_DB_DSN)")
		}
	}
	if c.Gateways.Telegram != nil && c.Gateways.Telegram.Enabled && c.Gateways.Telegram.BotToken == "" {
		return fmt.Errorf("gateways.telegram.bot_token is required (set TELEGRAM_BOT_TOKEN env var)")
	}
	if c.Transcription != nil && c.Transcription.Enabled && c.Transcription.APIKey == "" {
		return fmt.Errorf("transcription.api_key is required when transcription is enabled (set NEXTVIBE_TRANSCRIPTION_API_KEY)")
	}
	return nil
}

// validateProvider checks that the selected LLM provider has the required fields.
func (c *Config) validateProvider() error {
	switch c.Providers.Default {
	case "anthropic":
		if c.Providers.Anthropic.Model == "" {
			return fmt.Errorf("providers.anthropic.model is required")
		}
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "openai":
		if c.Providers.OpenAI.Model == "" {
			return fmt.Errorf("providers.openai.model is required")
		}
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "gemini":
		if c.Providers.Gemini.Model == "" {
			return fmt.Errorf("providers.gemini.model is required")
		}
		if c.Providers.Gemini.APIKey == "" {
			return fmt.Errorf("providers.gemini.api_key is required (set GEMINI_API_KEY env var)")
		}
	case "ollama":
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("providers.ollama.model is required")
		}
	default:
		return fmt.Errorf("providers.default %q is not supported (use anthropic, openai, gemini, or ollama)", c.Providers.Default)
	}
	return nil
}
