// Package config provides configuration management for feedplay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/jmylchreest/feedplay/internal/urlutil"
)

// EnvPrefix prefixes environment variable overrides, e.g. FEEDPLAY_POOL_MAX_CAPACITY.
const EnvPrefix = "FEEDPLAY"

// Default configuration values.
const (
	defaultServerPort       = 8090
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultPoolIdentifier   = "default"
	defaultMaxCapacity      = 4
	defaultMaxPerIdentifier = 2
	defaultReplenishThresh  = 0.5
	defaultPreRenderCount   = 3
	defaultPreRenderTimeout = 10 * time.Second
	defaultPrefetchWorkers  = 2
	defaultPrefetchBytes    = "512KB"
	defaultPrefetchWindow   = 2
	defaultTrackedURLs      = 10
	defaultProbeBytes       = "64KB"
	defaultHTTPTimeout      = 30 * time.Second
	defaultCircuitThreshold = 5
	defaultCircuitTimeout   = 30 * time.Second
	defaultMemoryInterval   = 15 * time.Second
	defaultMemoryThreshold  = 90.0
	defaultReporterSchedule = "0 * * * * *"
	minPreRenderTimeout     = time.Second
	maxReplenishThreshold   = 1.0
	maxMemoryThreshold      = 100.0
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Pool       PoolConfig       `mapstructure:"pool" yaml:"pool"`
	PreRender  PreRenderConfig  `mapstructure:"prerender" yaml:"prerender"`
	Prefetch   PrefetchConfig   `mapstructure:"prefetch" yaml:"prefetch"`
	Probe      ProbeConfig      `mapstructure:"probe" yaml:"probe"`
	Proxy      ProxyConfig      `mapstructure:"proxy" yaml:"proxy"`
	HTTPClient HTTPClientConfig `mapstructure:"httpclient" yaml:"httpclient"`
	Memory     MemoryConfig     `mapstructure:"memory" yaml:"memory"`
	Reporter   ReporterConfig   `mapstructure:"reporter" yaml:"reporter"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// PoolConfig holds engine pool configuration.
type PoolConfig struct {
	MaxCapacity            int           `mapstructure:"max_capacity" yaml:"max_capacity"`
	MaxPerIdentifier       int           `mapstructure:"max_per_identifier" yaml:"max_per_identifier"`
	AutoReplenish          bool          `mapstructure:"auto_replenish" yaml:"auto_replenish"`
	AutoReplenishThreshold float64       `mapstructure:"auto_replenish_threshold" yaml:"auto_replenish_threshold"`
	IdleTimeout            time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"` // 0 disables idle cleanup
	Warm                   int           `mapstructure:"warm" yaml:"warm"`                 // engines created at startup
}

// PreRenderConfig holds pre-render manager configuration.
type PreRenderConfig struct {
	MaxCount       int           `mapstructure:"max_count" yaml:"max_count"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PoolIdentifier string        `mapstructure:"pool_identifier" yaml:"pool_identifier"`
}

// PrefetchConfig holds prefetch scheduler configuration.
type PrefetchConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	// BytesPerURL caps each prefetch. Zero fetches whole items.
	// Supports human-readable values like "512KB".
	BytesPerURL    ByteSize `mapstructure:"bytes_per_url" yaml:"bytes_per_url"`
	WindowAhead    int      `mapstructure:"window_ahead" yaml:"window_ahead"`
	WindowBehind   int      `mapstructure:"window_behind" yaml:"window_behind"`
	MaxTrackedURLs int      `mapstructure:"max_tracked_urls" yaml:"max_tracked_urls"`
}

// ProbeConfig holds configuration for the headless probe engine.
type ProbeConfig struct {
	Bytes ByteSize `mapstructure:"bytes" yaml:"bytes"`
}

// ProxyConfig holds the local byte-cache proxy configuration.
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// HealthCheck confirms the proxy answers before URLs are rewritten.
	HealthCheck bool `mapstructure:"health_check" yaml:"health_check"`
}

// HTTPClientConfig holds outbound HTTP client configuration.
type HTTPClientConfig struct {
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	CircuitThreshold int           `mapstructure:"circuit_threshold" yaml:"circuit_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout" yaml:"circuit_timeout"`
}

// MemoryConfig holds memory pressure monitoring configuration.
type MemoryConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Threshold float64       `mapstructure:"threshold" yaml:"threshold"` // used memory percent
}

// ReporterConfig holds periodic statistics reporting configuration.
type ReporterConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Schedule string `mapstructure:"schedule" yaml:"schedule"` // 6-field cron expression
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FEEDPLAY_ and use underscores for nesting.
// Example: FEEDPLAY_SERVER_PORT=8090.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/feedplay")
		v.AddConfigPath("$HOME/.feedplay")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals v into a validated Config.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook parses sizes and durations from strings, and splits
// comma-separated environment values into slices.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Pool defaults
	v.SetDefault("pool.max_capacity", defaultMaxCapacity)
	v.SetDefault("pool.max_per_identifier", defaultMaxPerIdentifier)
	v.SetDefault("pool.auto_replenish", false)
	v.SetDefault("pool.auto_replenish_threshold", defaultReplenishThresh)
	v.SetDefault("pool.idle_timeout", time.Duration(0))
	v.SetDefault("pool.warm", 0)

	// Pre-render defaults
	v.SetDefault("prerender.max_count", defaultPreRenderCount)
	v.SetDefault("prerender.timeout", defaultPreRenderTimeout)
	v.SetDefault("prerender.pool_identifier", defaultPoolIdentifier)

	// Prefetch defaults
	v.SetDefault("prefetch.max_concurrent", defaultPrefetchWorkers)
	v.SetDefault("prefetch.bytes_per_url", defaultPrefetchBytes)
	v.SetDefault("prefetch.window_ahead", defaultPrefetchWindow)
	v.SetDefault("prefetch.window_behind", defaultPrefetchWindow)
	v.SetDefault("prefetch.max_tracked_urls", defaultTrackedURLs)

	// Probe engine defaults
	v.SetDefault("probe.bytes", defaultProbeBytes)

	// Proxy defaults
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.base_url", "")
	v.SetDefault("proxy.health_check", true)

	// HTTP client defaults
	v.SetDefault("httpclient.timeout", defaultHTTPTimeout)
	v.SetDefault("httpclient.retry_attempts", 0)
	v.SetDefault("httpclient.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("httpclient.circuit_timeout", defaultCircuitTimeout)

	// Memory monitor defaults
	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.interval", defaultMemoryInterval)
	v.SetDefault("memory.threshold", defaultMemoryThreshold)

	// Reporter defaults
	v.SetDefault("reporter.enabled", true)
	v.SetDefault("reporter.schedule", defaultReporterSchedule) // every minute (6-field cron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Pool validation
	if c.Pool.MaxCapacity < 1 {
		return fmt.Errorf("pool.max_capacity must be at least 1")
	}
	if c.Pool.MaxPerIdentifier < 1 {
		return fmt.Errorf("pool.max_per_identifier must be at least 1")
	}
	if c.Pool.AutoReplenishThreshold < 0 || c.Pool.AutoReplenishThreshold > maxReplenishThreshold {
		return fmt.Errorf("pool.auto_replenish_threshold must be between 0 and 1")
	}
	if c.Pool.IdleTimeout < 0 {
		return fmt.Errorf("pool.idle_timeout must not be negative")
	}
	if c.Pool.Warm < 0 {
		return fmt.Errorf("pool.warm must not be negative")
	}

	// Pre-render validation
	if c.PreRender.MaxCount < 1 {
		return fmt.Errorf("prerender.max_count must be at least 1")
	}
	if c.PreRender.Timeout < minPreRenderTimeout {
		return fmt.Errorf("prerender.timeout must be at least %s", minPreRenderTimeout)
	}
	if c.PreRender.PoolIdentifier == "" {
		return fmt.Errorf("prerender.pool_identifier is required")
	}

	// Prefetch validation
	if c.Prefetch.MaxConcurrent < 1 {
		return fmt.Errorf("prefetch.max_concurrent must be at least 1")
	}
	if c.Prefetch.BytesPerURL < 0 {
		return fmt.Errorf("prefetch.bytes_per_url must not be negative")
	}
	if c.Prefetch.WindowAhead < 0 || c.Prefetch.WindowBehind < 0 {
		return fmt.Errorf("prefetch window sizes must not be negative")
	}

	// Proxy validation
	if c.Proxy.Enabled {
		if err := urlutil.ValidateRemote(urlutil.NormalizeBaseURL(c.Proxy.BaseURL)); err != nil {
			return fmt.Errorf("proxy.base_url must be an http(s) URL when the proxy is enabled: %w", err)
		}
	}

	// Memory validation
	if c.Memory.Enabled {
		if c.Memory.Interval <= 0 {
			return fmt.Errorf("memory.interval must be positive")
		}
		if c.Memory.Threshold <= 0 || c.Memory.Threshold > maxMemoryThreshold {
			return fmt.Errorf("memory.threshold must be between 0 and 100")
		}
	}

	// Reporter validation
	if c.Reporter.Enabled {
		if _, err := cron.NewParser(CronFields).Parse(c.Reporter.Schedule); err != nil {
			return fmt.Errorf("reporter.schedule is invalid: %w", err)
		}
	}

	return nil
}

// CronFields is the cron parser layout used for schedules: six fields with
// seconds, plus descriptors such as "@every 30s".
const CronFields = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
