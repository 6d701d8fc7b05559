package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netdiag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Probes.PortTimeout)
	assert.Equal(t, 5*time.Second, cfg.Probes.PingTimeout)
	assert.Equal(t, 30*time.Second, cfg.Trace.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Vendor.Timeout)
	assert.Equal(t, "icmp", cfg.Probes.PingBackend)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().Server, cfg.Server)
	assert.Equal(t, DefaultConfig().Probes, cfg.Probes)
	assert.Equal(t, DefaultConfig().Vendor, cfg.Vendor)
	assert.NotNil(t, cfg.Aliases)
	assert.Empty(t, cfg.Source)
}

func TestLoadFrom_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:8080"
probes:
  port_timeout: 1500ms
  ping_backend: goping
trace:
  binary: mtr
  args: ["-r", "-c", "1"]
aliases:
  dns: 8.8.8.8
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, 1500*time.Millisecond, cfg.Probes.PortTimeout)
	assert.Equal(t, "goping", cfg.Probes.PingBackend)
	assert.Equal(t, "mtr", cfg.Trace.Binary)
	assert.Equal(t, []string{"-r", "-c", "1"}, cfg.Trace.Args)
	assert.Equal(t, "8.8.8.8", cfg.Resolve("dns"))

	// Untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Probes.PingTimeout)
	assert.Equal(t, "https://api.macvendors.com", cfg.Vendor.BaseURL)
}

func TestLoadFrom_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
probes:
  port_timeout: 1s
log:
  level: warn
`)
	t.Setenv("NETDIAG_PROBES__PORT_TIMEOUT", "2s")
	t.Setenv("NETDIAG_SERVER__ADDR", ":9090")
	t.Setenv("NETDIAG_PROBES__PRIVILEGED", "true")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Probes.PortTimeout)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Probes.Privileged)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFrom_Errors(t *testing.T) {
	_, err := LoadFrom("")
	assert.Error(t, err)

	_, err = LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadFrom(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"port timeout too short", func(c *Config) { c.Probes.PortTimeout = 10 * time.Millisecond }, ErrInvalidTimeout},
		{"trace timeout zero", func(c *Config) { c.Trace.Timeout = 0 }, ErrInvalidTimeout},
		{"vendor timeout too short", func(c *Config) { c.Vendor.Timeout = time.Millisecond }, ErrInvalidTimeout},
		{"stream write timeout zero", func(c *Config) { c.Server.StreamWriteTimeout = 0 }, ErrInvalidTimeout},
		{"unknown backend", func(c *Config) { c.Probes.PingBackend = "fping" }, ErrInvalidBackend},
		{"goping backend", func(c *Config) { c.Probes.PingBackend = "goping" }, nil},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, ErrInvalidLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Aliases["gw"] = "192.168.1.1"

	assert.Equal(t, "192.168.1.1", cfg.Resolve("gw"))
	assert.Equal(t, "example.com", cfg.Resolve("example.com"))

	var nilConfig *Config
	assert.Equal(t, "gw", nilConfig.Resolve("gw"))
}

func TestSaveTo_LoadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Probes.PortTimeout = 750 * time.Millisecond
	cfg.Aliases["cf"] = "1.1.1.1"
	require.NoError(t, cfg.SaveTo(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "port_timeout: 750ms")

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, loaded.Probes.PortTimeout)
	assert.Equal(t, "1.1.1.1", loaded.Resolve("cf"))
}

func TestGenerateExample_IsLoadable(t *testing.T) {
	example := GenerateExample()
	assert.True(t, strings.Contains(example, "netdiag"))

	cfg, err := LoadFrom(writeConfig(t, example))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "8.8.8.8", cfg.Resolve("dns"))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "probes.port_timeout", envKey("NETDIAG_PROBES__PORT_TIMEOUT"))
	assert.Equal(t, "server.addr", envKey("NETDIAG_SERVER__ADDR"))
	assert.Equal(t, "log.level", envKey("NETDIAG_LOG__LEVEL"))
}

func TestGetConfigPath_XDG(t *testing.T) {
	if os.Getenv("APPDATA") != "" {
		t.Skip("Skipping: Windows config location")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "netdiag", "config.yaml"), GetConfigPath())
}
