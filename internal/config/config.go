// Package config provides layered configuration for netdiag.
//
// Values are merged in increasing priority: built-in defaults, the YAML
// config file, then NETDIAG_* environment variables. Command-line flags are
// applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates sections: NETDIAG_PROBES__PORT_TIMEOUT=2s sets probes.port_timeout.
const EnvPrefix = "NETDIAG_"

// Configuration errors.
var (
	ErrInvalidTimeout = errors.New("timeout must be at least 100ms")
	ErrInvalidBackend = errors.New("ping backend must be icmp or goping")
	ErrInvalidLog     = errors.New("invalid log setting")
)

// minTimeout is the smallest deadline any probe accepts.
const minTimeout = 100 * time.Millisecond

// Config represents the netdiag configuration file structure.
type Config struct {
	// Defaults are applied when output flags are not specified
	Defaults Defaults `yaml:"defaults" koanf:"defaults"`

	Server ServerConfig `yaml:"server" koanf:"server"`
	Probes ProbeConfig  `yaml:"probes" koanf:"probes"`
	Trace  TraceConfig  `yaml:"trace" koanf:"trace"`
	Vendor VendorConfig `yaml:"vendor" koanf:"vendor"`
	Log    LogConfig    `yaml:"log" koanf:"log"`

	// Aliases for common targets
	Aliases map[string]string `yaml:"aliases,omitempty" koanf:"aliases"`

	// Source is the file the configuration was read from, if any
	Source string `yaml:"-" koanf:"-"`
}

// Defaults holds default values for CLI output.
type Defaults struct {
	TUI     bool `yaml:"tui" koanf:"tui"`
	Verbose bool `yaml:"verbose" koanf:"verbose"`
	JSON    bool `yaml:"json" koanf:"json"`
	NoColor bool `yaml:"no_color" koanf:"no_color"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr" koanf:"addr"`
	AllowOrigin       string        `yaml:"allow_origin" koanf:"allow_origin"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" koanf:"shutdown_timeout"`

	// StreamWriteTimeout bounds each write of a streamed trace
	StreamWriteTimeout time.Duration `yaml:"stream_write_timeout" koanf:"stream_write_timeout"`
}

// ProbeConfig holds port and ping probe settings.
type ProbeConfig struct {
	PortTimeout time.Duration `yaml:"port_timeout" koanf:"port_timeout"`
	PingTimeout time.Duration `yaml:"ping_timeout" koanf:"ping_timeout"`

	// PingBackend is icmp or goping
	PingBackend string `yaml:"ping_backend" koanf:"ping_backend"`
	Privileged  bool   `yaml:"privileged" koanf:"privileged"`
}

// TraceConfig holds route tracer settings.
type TraceConfig struct {
	Timeout     time.Duration `yaml:"timeout" koanf:"timeout"`
	Binary      string        `yaml:"binary,omitempty" koanf:"binary"`
	Args        []string      `yaml:"args,omitempty" koanf:"args"`
	ReapTimeout time.Duration `yaml:"reap_timeout" koanf:"reap_timeout"`
}

// VendorConfig holds MAC vendor lookup settings.
type VendorConfig struct {
	BaseURL string        `yaml:"base_url" koanf:"base_url"`
	Timeout time.Duration `yaml:"timeout" koanf:"timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"` // console or json
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":3000",
			AllowOrigin:       "*",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   35 * time.Second,

			StreamWriteTimeout: 10 * time.Second,
		},
		Probes: ProbeConfig{
			PortTimeout: 3 * time.Second,
			PingTimeout: 5 * time.Second,
			PingBackend: "icmp",
		},
		Trace: TraceConfig{
			Timeout:     30 * time.Second,
			ReapTimeout: 5 * time.Second,
		},
		Vendor: VendorConfig{
			BaseURL: "https://api.macvendors.com",
			Timeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Aliases: make(map[string]string),
	}
}

// defaultsMap flattens DefaultConfig for the confmap provider so that every
// key is known before the file and environment layers are merged.
func defaultsMap() map[string]any {
	def := DefaultConfig()
	return map[string]any{
		"defaults.tui":      def.Defaults.TUI,
		"defaults.verbose":  def.Defaults.Verbose,
		"defaults.json":     def.Defaults.JSON,
		"defaults.no_color": def.Defaults.NoColor,

		"server.addr":                 def.Server.Addr,
		"server.allow_origin":         def.Server.AllowOrigin,
		"server.read_header_timeout":  def.Server.ReadHeaderTimeout,
		"server.shutdown_timeout":     def.Server.ShutdownTimeout,
		"server.stream_write_timeout": def.Server.StreamWriteTimeout,

		"probes.port_timeout": def.Probes.PortTimeout,
		"probes.ping_timeout": def.Probes.PingTimeout,
		"probes.ping_backend": def.Probes.PingBackend,
		"probes.privileged":   def.Probes.Privileged,

		"trace.timeout":      def.Trace.Timeout,
		"trace.binary":       def.Trace.Binary,
		"trace.reap_timeout": def.Trace.ReapTimeout,

		"vendor.base_url": def.Vendor.BaseURL,
		"vendor.timeout":  def.Vendor.Timeout,

		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,
	}
}

// Load reads configuration from the default config file locations.
// It searches in order:
//  1. ./netdiag.yaml (current directory)
//  2. $XDG_CONFIG_HOME/netdiag/config.yaml or ~/.config/netdiag/config.yaml (Linux/macOS)
//  3. %APPDATA%\netdiag\config.yaml (Windows)
//
// If no config file is found, defaults and environment overrides are used.
func Load() (*Config, error) {
	for _, path := range getConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			return LoadFrom(path)
		}
	}
	return load("")
}

// LoadFrom reads configuration from a specific file path.
func LoadFrom(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	return load(path)
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(confmap.Provider(values, ""), nil); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	config := &Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if config.Aliases == nil {
		config.Aliases = make(map[string]string)
	}
	config.Source = path

	return config, nil
}

// readFile parses a YAML config file into a nested map.
func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return values, nil
}

// envKey maps NETDIAG_PROBES__PORT_TIMEOUT to probes.port_timeout.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	timeouts := map[string]time.Duration{
		"probes.port_timeout": c.Probes.PortTimeout,
		"probes.ping_timeout": c.Probes.PingTimeout,
		"trace.timeout":       c.Trace.Timeout,
		"vendor.timeout":      c.Vendor.Timeout,

		"server.stream_write_timeout": c.Server.StreamWriteTimeout,
	}
	for key, d := range timeouts {
		if d < minTimeout {
			return fmt.Errorf("%s: %w", key, ErrInvalidTimeout)
		}
	}

	switch c.Probes.PingBackend {
	case "icmp", "goping":
	default:
		return fmt.Errorf("probes.ping_backend %q: %w", c.Probes.PingBackend, ErrInvalidBackend)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q: %w", c.Log.Format, ErrInvalidLog)
	}

	return nil
}

// Resolve returns the target an alias points to, or target itself.
func (c *Config) Resolve(target string) string {
	if c == nil || c.Aliases == nil {
		return target
	}
	if alias, ok := c.Aliases[target]; ok {
		return alias
	}
	return target
}

// Save writes the configuration to the default user config path.
func (c *Config) Save() error {
	return c.SaveTo(getUserConfigPath())
}

// SaveTo writes the configuration to a specific file path.
func (c *Config) SaveTo(path string) error {
	if path == "" {
		return errors.New("no config path available")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// getConfigPaths returns the list of config file paths to search.
func getConfigPaths() []string {
	paths := []string{
		"netdiag.yaml",
		"netdiag.yml",
		".netdiag.yaml",
		".netdiag.yml",
	}

	userPath := getUserConfigPath()
	if userPath != "" {
		paths = append(paths, userPath)
	}

	return paths
}

// getUserConfigPath returns the user-specific config file path.
func getUserConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "netdiag", "config.yaml")
		}
	default:
		xdgConfig := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfig != "" {
			return filepath.Join(xdgConfig, "netdiag", "config.yaml")
		}
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, ".config", "netdiag", "config.yaml")
		}
	}
	return ""
}

// GetConfigPath returns the path where user config would be saved.
func GetConfigPath() string {
	return getUserConfigPath()
}

// GenerateExample generates an example configuration file content.
func GenerateExample() string {
	return `# netdiag configuration file
# Location: ~/.config/netdiag/config.yaml (Linux/macOS)
#           %APPDATA%\netdiag\config.yaml (Windows)
#           ./netdiag.yaml (current directory)
#
# Any key can be overridden from the environment, e.g.
#   NETDIAG_PROBES__PORT_TIMEOUT=2s  NETDIAG_SERVER__ADDR=:8080

defaults:
  tui: false              # Interactive TUI for traces
  verbose: false          # Table output
  json: false             # JSON envelope output
  no_color: false         # Disable colors

server:
  addr: ":3000"           # Listen address for 'netdiag serve'
  allow_origin: "*"       # Access-Control-Allow-Origin
  read_header_timeout: 10s
  shutdown_timeout: 35s   # Should exceed trace.timeout
  stream_write_timeout: 10s # Per-write bound for streamed traces

probes:
  port_timeout: 3s        # TCP connect deadline
  ping_timeout: 5s        # Echo reply deadline
  ping_backend: icmp      # icmp or goping
  privileged: false       # Prefer raw sockets (requires root)

trace:
  timeout: 30s            # Hard kill deadline
  reap_timeout: 5s        # Wait for a killed process to exit
  # binary: traceroute    # Default: tracert on Windows, traceroute elsewhere
  # args: ["-n", "-q", "1"]

vendor:
  base_url: https://api.macvendors.com
  timeout: 5s

log:
  level: info             # debug, info, warn, error
  format: console         # console or json

# Target aliases (optional)
aliases:
  dns: 8.8.8.8
  cf: 1.1.1.1
`
}
