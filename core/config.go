package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for betpilot.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithRemote("https://xyz.supabase.co", key),
//	    WithMaxRetries(5),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	Name string `json:"name" yaml:"name" env:"BETPILOT_NAME" default:"betpilot"`

	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Knowledge  KnowledgeConfig  `json:"knowledge" yaml:"knowledge"`
	Discovery  DiscoveryConfig  `json:"discovery" yaml:"discovery"`
	Healing    HealingConfig    `json:"healing" yaml:"healing"`
	Remote     RemoteConfig     `json:"remote" yaml:"remote"`
	Local      LocalConfig      `json:"local" yaml:"local"`
	Sync       SyncConfig       `json:"sync" yaml:"sync"`
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Events     EventsConfig     `json:"events" yaml:"events"`
	Browser    BrowserConfig    `json:"browser" yaml:"browser"`
}

// LoggingConfig contains logging configuration.
// Supports structured (JSON) and human-readable (text) formats.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"BETPILOT_LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" env:"BETPILOT_LOG_FORMAT" default:"text"`
	Output string `json:"output" yaml:"output" env:"BETPILOT_LOG_OUTPUT" default:"stdout"`
}

// KnowledgeConfig selects where locator mappings are persisted between runs.
// The in-memory store is always authoritative for reads; the provider only
// decides how it is hydrated and where discovery results are written back.
type KnowledgeConfig struct {
	Provider  string `json:"provider" yaml:"provider" env:"BETPILOT_KNOWLEDGE_PROVIDER" default:"file"`
	RedisURL  string `json:"redis_url" yaml:"redis_url" env:"BETPILOT_REDIS_URL,REDIS_URL"`
	Namespace string `json:"namespace" yaml:"namespace" env:"BETPILOT_KNOWLEDGE_NAMESPACE" default:"betpilot"`
	FilePath  string `json:"file_path" yaml:"file_path" env:"BETPILOT_KNOWLEDGE_FILE" default:"Data/knowledge.json"`
}

// DiscoveryConfig points at the selector-discovery oracle.
type DiscoveryConfig struct {
	Provider     string        `json:"provider" yaml:"provider" env:"BETPILOT_DISCOVERY_PROVIDER" default:"http"`
	Endpoint     string        `json:"endpoint" yaml:"endpoint" env:"BETPILOT_DISCOVERY_ENDPOINT"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout" env:"BETPILOT_DISCOVERY_TIMEOUT" default:"60s"`
	StaticFile   string        `json:"static_file" yaml:"static_file" env:"BETPILOT_DISCOVERY_STATIC_FILE"`
	SendSnapshot bool          `json:"send_snapshot" yaml:"send_snapshot" env:"BETPILOT_DISCOVERY_SNAPSHOT" default:"true"`
}

// HealingConfig bounds the self-healing action executor.
type HealingConfig struct {
	MaxRetries  int           `json:"max_retries" yaml:"max_retries" env:"BETPILOT_HEAL_MAX_RETRIES" default:"3"`
	SettleDelay time.Duration `json:"settle_delay" yaml:"settle_delay" env:"BETPILOT_HEAL_SETTLE_DELAY" default:"1s"`
}

// RemoteConfig configures the remote record store (PostgREST / Supabase).
type RemoteConfig struct {
	URL               string        `json:"url" yaml:"url" env:"BETPILOT_REMOTE_URL,SUPABASE_URL"`
	APIKey            string        `json:"-" yaml:"-" env:"BETPILOT_REMOTE_KEY,SUPABASE_KEY"`
	Schema            string        `json:"schema" yaml:"schema" env:"BETPILOT_REMOTE_SCHEMA" default:"public"`
	MetadataBatchSize int           `json:"metadata_batch_size" yaml:"metadata_batch_size" env:"BETPILOT_REMOTE_META_BATCH" default:"1000"`
	PullBatchSize     int           `json:"pull_batch_size" yaml:"pull_batch_size" env:"BETPILOT_REMOTE_PULL_BATCH" default:"200"`
	MaxPages          int           `json:"max_pages" yaml:"max_pages" env:"BETPILOT_REMOTE_MAX_PAGES" default:"10000"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout" env:"BETPILOT_REMOTE_TIMEOUT" default:"30s"`
}

// LocalConfig configures the local tabular store.
type LocalConfig struct {
	Provider   string `json:"provider" yaml:"provider" env:"BETPILOT_LOCAL_PROVIDER" default:"csv"`
	DataDir    string `json:"data_dir" yaml:"data_dir" env:"BETPILOT_DATA_DIR" default:"Data/Store"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path" env:"BETPILOT_SQLITE_PATH" default:"Data/store.db"`
}

// SyncConfig controls reconciliation passes.
type SyncConfig struct {
	Concurrency     int    `json:"concurrency" yaml:"concurrency" env:"BETPILOT_SYNC_CONCURRENCY" default:"1"`
	Schedule        string `json:"schedule" yaml:"schedule" env:"BETPILOT_SYNC_SCHEDULE"`
	CollectionsFile string `json:"collections_file" yaml:"collections_file" env:"BETPILOT_COLLECTIONS_FILE"`
}

// ResilienceConfig contains fault tolerance settings for remote store calls.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry" yaml:"retry"`
}

// CircuitBreakerConfig defines circuit breaker pattern settings.
// The circuit breaker fails fast once Threshold consecutive failures were
// observed and lets HalfOpenRequests probes through after Timeout.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled" env:"BETPILOT_CB_ENABLED" default:"true"`
	Threshold        int           `json:"threshold" yaml:"threshold" env:"BETPILOT_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" env:"BETPILOT_CB_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `json:"half_open_requests" yaml:"half_open_requests" env:"BETPILOT_CB_HALF_OPEN" default:"1"`
}

// RetryConfig defines retry pattern settings with exponential backoff.
// Formula: interval = min(InitialInterval * (Multiplier ^ attempt), MaxInterval)
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts" env:"BETPILOT_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval" env:"BETPILOT_RETRY_INITIAL_INTERVAL" default:"500ms"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval" env:"BETPILOT_RETRY_MAX_INTERVAL" default:"5s"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier" env:"BETPILOT_RETRY_MULTIPLIER" default:"2.0"`
}

// TelemetryConfig contains observability configuration for metrics and tracing.
// Exporter is one of "stdout", "otlp-grpc" or "otlp-http".
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"BETPILOT_TELEMETRY_ENABLED" default:"false"`
	Exporter    string `json:"exporter" yaml:"exporter" env:"BETPILOT_TELEMETRY_EXPORTER" default:"stdout"`
	Endpoint    string `json:"endpoint" yaml:"endpoint" env:"BETPILOT_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"BETPILOT_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	Insecure    bool   `json:"insecure" yaml:"insecure" env:"BETPILOT_TELEMETRY_INSECURE" default:"true"`
}

// EventsConfig selects where executor and reconciliation events are published.
type EventsConfig struct {
	Provider string `json:"provider" yaml:"provider" env:"BETPILOT_EVENTS_PROVIDER" default:"log"`
	NATSURL  string `json:"nats_url" yaml:"nats_url" env:"BETPILOT_NATS_URL,NATS_URL"`
	Subject  string `json:"subject" yaml:"subject" env:"BETPILOT_EVENTS_SUBJECT" default:"betpilot.events"`
}

// BrowserConfig configures the automated surface.
type BrowserConfig struct {
	Headless          bool          `json:"headless" yaml:"headless" env:"BETPILOT_BROWSER_HEADLESS" default:"true"`
	NavigationTimeout time.Duration `json:"navigation_timeout" yaml:"navigation_timeout" env:"BETPILOT_BROWSER_NAV_TIMEOUT" default:"60s"`
	ActionTimeout     time.Duration `json:"action_timeout" yaml:"action_timeout" env:"BETPILOT_BROWSER_ACTION_TIMEOUT" default:"15s"`
}

// Option is a functional option for configuring betpilot.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name: "betpilot",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Knowledge: KnowledgeConfig{
			Provider:  "file",
			Namespace: "betpilot",
			FilePath:  filepath.Join("Data", "knowledge.json"),
		},
		Discovery: DiscoveryConfig{
			Provider:     "http",
			Timeout:      60 * time.Second,
			SendSnapshot: true,
		},
		Healing: HealingConfig{
			MaxRetries:  3,
			SettleDelay: 1 * time.Second,
		},
		Remote: RemoteConfig{
			Schema:            "public",
			MetadataBatchSize: 1000,
			PullBatchSize:     200,
			MaxPages:          10000,
			Timeout:           30 * time.Second,
		},
		Local: LocalConfig{
			Provider:   "csv",
			DataDir:    filepath.Join("Data", "Store"),
			SQLitePath: filepath.Join("Data", "store.db"),
		},
		Sync: SyncConfig{
			Concurrency: 1,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				Threshold:        5,
				Timeout:          30 * time.Second,
				HalfOpenRequests: 1,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
				Multiplier:      2.0,
			},
		},
		Telemetry: TelemetryConfig{
			Exporter: "stdout",
			Insecure: true,
		},
		Events: EventsConfig{
			Provider: "log",
			Subject:  "betpilot.events",
		},
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: 60 * time.Second,
			ActionTimeout:     15 * time.Second,
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over defaults but are overridden by functional options.
//
// Variable naming convention:
//   - Project-specific: BETPILOT_<SETTING>
//   - Standard variables: SUPABASE_URL, SUPABASE_KEY, REDIS_URL, NATS_URL, OTEL_EXPORTER_OTLP_ENDPOINT
//
// Returns an error if environment variables contain invalid values.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("BETPILOT_NAME"); v != "" {
		c.Name = v
	}

	// Logging
	if v := os.Getenv("BETPILOT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BETPILOT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("BETPILOT_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}

	// Knowledge store
	if v := os.Getenv("BETPILOT_KNOWLEDGE_PROVIDER"); v != "" {
		c.Knowledge.Provider = v
	}
	if v := firstEnv("BETPILOT_REDIS_URL", "REDIS_URL"); v != "" {
		c.Knowledge.RedisURL = v
	}
	if v := os.Getenv("BETPILOT_KNOWLEDGE_NAMESPACE"); v != "" {
		c.Knowledge.Namespace = v
	}
	if v := os.Getenv("BETPILOT_KNOWLEDGE_FILE"); v != "" {
		c.Knowledge.FilePath = v
	}

	// Discovery
	if v := os.Getenv("BETPILOT_DISCOVERY_PROVIDER"); v != "" {
		c.Discovery.Provider = v
	}
	if v := os.Getenv("BETPILOT_DISCOVERY_ENDPOINT"); v != "" {
		c.Discovery.Endpoint = v
	}
	if err := envDuration("BETPILOT_DISCOVERY_TIMEOUT", &c.Discovery.Timeout); err != nil {
		return err
	}
	if v := os.Getenv("BETPILOT_DISCOVERY_STATIC_FILE"); v != "" {
		c.Discovery.StaticFile = v
	}
	if v := os.Getenv("BETPILOT_DISCOVERY_SNAPSHOT"); v != "" {
		c.Discovery.SendSnapshot = parseBool(v)
	}

	// Healing
	if err := envInt("BETPILOT_HEAL_MAX_RETRIES", &c.Healing.MaxRetries); err != nil {
		return err
	}
	if err := envDuration("BETPILOT_HEAL_SETTLE_DELAY", &c.Healing.SettleDelay); err != nil {
		return err
	}

	// Remote store
	if v := firstEnv("BETPILOT_REMOTE_URL", "SUPABASE_URL"); v != "" {
		c.Remote.URL = v
	}
	if v := firstEnv("BETPILOT_REMOTE_KEY", "SUPABASE_KEY"); v != "" {
		c.Remote.APIKey = v
	}
	if v := os.Getenv("BETPILOT_REMOTE_SCHEMA"); v != "" {
		c.Remote.Schema = v
	}
	if err := envInt("BETPILOT_REMOTE_META_BATCH", &c.Remote.MetadataBatchSize); err != nil {
		return err
	}
	if err := envInt("BETPILOT_REMOTE_PULL_BATCH", &c.Remote.PullBatchSize); err != nil {
		return err
	}
	if err := envInt("BETPILOT_REMOTE_MAX_PAGES", &c.Remote.MaxPages); err != nil {
		return err
	}
	if err := envDuration("BETPILOT_REMOTE_TIMEOUT", &c.Remote.Timeout); err != nil {
		return err
	}

	// Local store
	if v := os.Getenv("BETPILOT_LOCAL_PROVIDER"); v != "" {
		c.Local.Provider = v
	}
	if v := os.Getenv("BETPILOT_DATA_DIR"); v != "" {
		c.Local.DataDir = v
	}
	if v := os.Getenv("BETPILOT_SQLITE_PATH"); v != "" {
		c.Local.SQLitePath = v
	}

	// Sync
	if err := envInt("BETPILOT_SYNC_CONCURRENCY", &c.Sync.Concurrency); err != nil {
		return err
	}
	if v := os.Getenv("BETPILOT_SYNC_SCHEDULE"); v != "" {
		c.Sync.Schedule = v
	}
	if v := os.Getenv("BETPILOT_COLLECTIONS_FILE"); v != "" {
		c.Sync.CollectionsFile = v
	}

	// Resilience
	if v := os.Getenv("BETPILOT_CB_ENABLED"); v != "" {
		c.Resilience.CircuitBreaker.Enabled = parseBool(v)
	}
	if err := envInt("BETPILOT_CB_THRESHOLD", &c.Resilience.CircuitBreaker.Threshold); err != nil {
		return err
	}
	if err := envDuration("BETPILOT_CB_TIMEOUT", &c.Resilience.CircuitBreaker.Timeout); err != nil {
		return err
	}
	if err := envInt("BETPILOT_CB_HALF_OPEN", &c.Resilience.CircuitBreaker.HalfOpenRequests); err != nil {
		return err
	}
	if err := envInt("BETPILOT_RETRY_MAX_ATTEMPTS", &c.Resilience.Retry.MaxAttempts); err != nil {
		return err
	}
	if err := envDuration("BETPILOT_RETRY_INITIAL_INTERVAL", &c.Resilience.Retry.InitialInterval); err != nil {
		return err
	}
	if err := envDuration("BETPILOT_RETRY_MAX_INTERVAL", &c.Resilience.Retry.MaxInterval); err != nil {
		return err
	}
	if v := os.Getenv("BETPILOT_RETRY_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("BETPILOT_RETRY_MULTIPLIER", v)
		}
		c.Resilience.Retry.Multiplier = f
	}

	// Telemetry
	if v := os.Getenv("BETPILOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("BETPILOT_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := firstEnv("BETPILOT_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := firstEnv("BETPILOT_TELEMETRY_SERVICE_NAME", "OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := os.Getenv("BETPILOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = parseBool(v)
	}

	// Events
	if v := os.Getenv("BETPILOT_EVENTS_PROVIDER"); v != "" {
		c.Events.Provider = v
	}
	if v := firstEnv("BETPILOT_NATS_URL", "NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("BETPILOT_EVENTS_SUBJECT"); v != "" {
		c.Events.Subject = v
	}

	// Browser
	if v := os.Getenv("BETPILOT_BROWSER_HEADLESS"); v != "" {
		c.Browser.Headless = parseBool(v)
	}
	if err := envDuration("BETPILOT_BROWSER_NAV_TIMEOUT", &c.Browser.NavigationTimeout); err != nil {
		return err
	}
	if err := envDuration("BETPILOT_BROWSER_ACTION_TIMEOUT", &c.Browser.ActionTimeout); err != nil {
		return err
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file.
// Values present in the file override the current configuration; absent
// values are left untouched.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %v: %w", err, ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %v: %w", err, ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
// This method is called automatically by NewConfig().
func (c *Config) Validate() error {
	if c.Healing.MaxRetries < 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("max retries must not be negative: %d", c.Healing.MaxRetries),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Remote.MetadataBatchSize <= 0 || c.Remote.PullBatchSize <= 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "remote batch sizes must be positive",
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Sync.Concurrency < 1 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("sync concurrency must be at least 1: %d", c.Sync.Concurrency),
			Err:     ErrInvalidConfiguration,
		}
	}

	switch c.Knowledge.Provider {
	case "memory", "file":
	case "redis":
		if c.Knowledge.RedisURL == "" {
			return &FrameworkError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: "redis URL is required for the redis knowledge provider",
				Err:     ErrMissingConfiguration,
			}
		}
	default:
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown knowledge provider: %s", c.Knowledge.Provider),
			Err:     ErrInvalidConfiguration,
		}
	}

	switch c.Local.Provider {
	case "csv", "sqlite":
	default:
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown local store provider: %s", c.Local.Provider),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Events.Provider == "nats" && c.Events.NATSURL == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "NATS URL is required when events provider is nats",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Exporter != "stdout" && c.Telemetry.Endpoint == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required for OTLP exporters",
			Err:     ErrMissingConfiguration,
		}
	}

	return nil
}

// RemoteConfigured reports whether a remote record store was configured.
// Reconciliation is skipped entirely when it is not.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.URL != "" && c.Remote.APIKey != ""
}

// Helper functions

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return envError(name, v)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return envError(name, v)
	}
	*dst = d
	return nil
}

func envError(name, value string) error {
	return &FrameworkError{
		Op:      "Config.LoadFromEnv",
		Kind:    "config",
		Message: fmt.Sprintf("invalid value for %s: %q", name, value),
		Err:     ErrInvalidConfiguration,
	}
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// Everything else is false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the service name used in logs and telemetry.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithLogLevel sets the minimum log level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the log output format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithRemote sets the remote record store URL and API key.
func WithRemote(url, apiKey string) Option {
	return func(c *Config) error {
		c.Remote.URL = url
		c.Remote.APIKey = apiKey
		return nil
	}
}

// WithDataDir sets the directory holding the local CSV snapshots.
func WithDataDir(dir string) Option {
	return func(c *Config) error {
		c.Local.DataDir = dir
		return nil
	}
}

// WithLocalProvider selects the local store backend ("csv" or "sqlite").
func WithLocalProvider(provider string) Option {
	return func(c *Config) error {
		c.Local.Provider = provider
		return nil
	}
}

// WithKnowledgeProvider selects where locator mappings persist.
func WithKnowledgeProvider(provider string) Option {
	return func(c *Config) error {
		c.Knowledge.Provider = provider
		return nil
	}
}

// WithRedisURL sets the Redis URL used by the knowledge persister.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Knowledge.RedisURL = url
		return nil
	}
}

// WithDiscoveryEndpoint sets the HTTP discovery oracle endpoint.
func WithDiscoveryEndpoint(endpoint string) Option {
	return func(c *Config) error {
		c.Discovery.Provider = "http"
		c.Discovery.Endpoint = endpoint
		return nil
	}
}

// WithMaxRetries sets the number of healing cycles the executor may run.
func WithMaxRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return &FrameworkError{
				Op:      "WithMaxRetries",
				Kind:    "config",
				Message: fmt.Sprintf("invalid max retries: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Healing.MaxRetries = n
		return nil
	}
}

// WithSettleDelay sets the pause after each healing cycle.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) error {
		c.Healing.SettleDelay = d
		return nil
	}
}

// WithSyncConcurrency bounds how many collections reconcile in parallel.
func WithSyncConcurrency(n int) Option {
	return func(c *Config) error {
		c.Sync.Concurrency = n
		return nil
	}
}

// WithTelemetry enables telemetry with the given exporter and endpoint.
func WithTelemetry(exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = exporter
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithNATSEvents publishes events to NATS.
func WithNATSEvents(url, subject string) Option {
	return func(c *Config) error {
		c.Events.Provider = "nats"
		c.Events.NATSURL = url
		if subject != "" {
			c.Events.Subject = subject
		}
		return nil
	}
}

// WithConfigFile loads a JSON or YAML config file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// NewConfig creates a new configuration with the given options.
// Configuration is loaded in this order (later overrides earlier):
//  1. Defaults
//  2. Environment variables
//  3. Functional options
//
// Example:
//
//	cfg, err := NewConfig(
//	    WithDataDir("Data/Store"),
//	    WithRemote(os.Getenv("SUPABASE_URL"), os.Getenv("SUPABASE_KEY")),
//	)
//	if err != nil {
//	    return err
//	}
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
