package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server:    ServerConfig{Port: 8090},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Pool:      PoolConfig{MaxCapacity: 4, MaxPerIdentifier: 2, AutoReplenishThreshold: 0.5},
		PreRender: PreRenderConfig{MaxCount: 3, Timeout: 10 * time.Second, PoolIdentifier: "default"},
		Prefetch:  PrefetchConfig{MaxConcurrent: 2, BytesPerURL: 512 * 1024, WindowAhead: 2, WindowBehind: 2},
		Memory:    MemoryConfig{Enabled: true, Interval: 15 * time.Second, Threshold: 90},
		Reporter:  ReporterConfig{Enabled: true, Schedule: "0 * * * * *"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Pool defaults
	assert.Equal(t, 4, cfg.Pool.MaxCapacity)
	assert.Equal(t, 2, cfg.Pool.MaxPerIdentifier)
	assert.False(t, cfg.Pool.AutoReplenish)
	assert.InDelta(t, 0.5, cfg.Pool.AutoReplenishThreshold, 1e-9)
	assert.Zero(t, cfg.Pool.IdleTimeout)

	// Pre-render defaults
	assert.Equal(t, 3, cfg.PreRender.MaxCount)
	assert.Equal(t, 10*time.Second, cfg.PreRender.Timeout)
	assert.Equal(t, "default", cfg.PreRender.PoolIdentifier)

	// Prefetch defaults
	assert.Equal(t, 2, cfg.Prefetch.MaxConcurrent)
	assert.Equal(t, ByteSize(512*1024), cfg.Prefetch.BytesPerURL)
	assert.Equal(t, 2, cfg.Prefetch.WindowAhead)
	assert.Equal(t, 2, cfg.Prefetch.WindowBehind)
	assert.Equal(t, 10, cfg.Prefetch.MaxTrackedURLs)
	assert.Equal(t, ByteSize(64*1024), cfg.Probe.Bytes)

	assert.False(t, cfg.Proxy.Enabled)
	assert.True(t, cfg.Memory.Enabled)
	assert.Equal(t, "0 * * * * *", cfg.Reporter.Schedule)
}

func TestLoad_FromFile(t *testing.T) {
	configContent := `
server:
  port: 9000
pool:
  max_capacity: 8
  idle_timeout: 2m
  auto_replenish: true
prerender:
  timeout: 5s
prefetch:
  bytes_per_url: 1MB
  window_ahead: 4
proxy:
  enabled: true
  base_url: http://127.0.0.1:9080/cache
logging:
  level: debug
  format: text
`
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Pool.MaxCapacity)
	assert.Equal(t, 2*time.Minute, cfg.Pool.IdleTimeout)
	assert.True(t, cfg.Pool.AutoReplenish)
	assert.Equal(t, 5*time.Second, cfg.PreRender.Timeout)
	assert.Equal(t, ByteSize(1024*1024), cfg.Prefetch.BytesPerURL)
	assert.Equal(t, 4, cfg.Prefetch.WindowAhead)
	assert.True(t, cfg.Proxy.Enabled)
	assert.Equal(t, "http://127.0.0.1:9080/cache", cfg.Proxy.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FEEDPLAY_SERVER_PORT", "3000")
	t.Setenv("FEEDPLAY_POOL_MAX_PER_IDENTIFIER", "3")
	t.Setenv("FEEDPLAY_PREFETCH_BYTES_PER_URL", "256KB")
	t.Setenv("FEEDPLAY_PRERENDER_TIMEOUT", "20s")
	t.Setenv("FEEDPLAY_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Pool.MaxPerIdentifier)
	assert.Equal(t, ByteSize(256*1024), cfg.Prefetch.BytesPerURL)
	assert.Equal(t, 20*time.Second, cfg.PreRender.Timeout)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9000\n"), 0o600))

	t.Setenv("FEEDPLAY_SERVER_PORT", "9100")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: [not valid"), 0o600))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoad_InvalidByteSize(t *testing.T) {
	t.Setenv("FEEDPLAY_PREFETCH_BYTES_PER_URL", "lots")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "logging.level"},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "pool capacity", mutate: func(c *Config) { c.Pool.MaxCapacity = 0 }, wantErr: "pool.max_capacity"},
		{name: "pool per identifier", mutate: func(c *Config) { c.Pool.MaxPerIdentifier = 0 }, wantErr: "pool.max_per_identifier"},
		{name: "replenish threshold", mutate: func(c *Config) { c.Pool.AutoReplenishThreshold = 1.5 }, wantErr: "auto_replenish_threshold"},
		{name: "idle timeout", mutate: func(c *Config) { c.Pool.IdleTimeout = -time.Second }, wantErr: "pool.idle_timeout"},
		{name: "prerender count", mutate: func(c *Config) { c.PreRender.MaxCount = 0 }, wantErr: "prerender.max_count"},
		{name: "prerender timeout", mutate: func(c *Config) { c.PreRender.Timeout = 500 * time.Millisecond }, wantErr: "prerender.timeout"},
		{name: "prerender pool", mutate: func(c *Config) { c.PreRender.PoolIdentifier = "" }, wantErr: "prerender.pool_identifier"},
		{name: "prefetch workers", mutate: func(c *Config) { c.Prefetch.MaxConcurrent = 0 }, wantErr: "prefetch.max_concurrent"},
		{name: "prefetch window", mutate: func(c *Config) { c.Prefetch.WindowBehind = -1 }, wantErr: "window"},
		{name: "proxy url", mutate: func(c *Config) { c.Proxy = ProxyConfig{Enabled: true, BaseURL: "ftp://x"} }, wantErr: "proxy.base_url"},
		{name: "proxy disabled ignores url", mutate: func(c *Config) { c.Proxy = ProxyConfig{BaseURL: "ftp://x"} }},
		{name: "memory threshold", mutate: func(c *Config) { c.Memory.Threshold = 120 }, wantErr: "memory.threshold"},
		{name: "memory disabled", mutate: func(c *Config) { c.Memory = MemoryConfig{} }},
		{name: "reporter schedule", mutate: func(c *Config) { c.Reporter.Schedule = "every minute" }, wantErr: "reporter.schedule"},
		{name: "reporter descriptor", mutate: func(c *Config) { c.Reporter.Schedule = "@every 30s" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 8090}
	assert.Equal(t, "0.0.0.0:8090", cfg.Address())
}

func TestByteSize(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("64KB")))
	assert.Equal(t, int64(64*1024), b.Bytes())
	assert.Equal(t, "64KB", b.String())

	require.NoError(t, b.UnmarshalText([]byte("2048")))
	assert.Equal(t, ByteSize(2048), b)
	assert.Error(t, b.UnmarshalText([]byte("-1KB")))
	assert.Error(t, b.UnmarshalText([]byte("lots")))
	assert.Equal(t, ByteSize(2048), b)

	text, err := b.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2KB", string(text))

	out, err := b.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "2KB", out)
}
