package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// Config is the packsync configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Client   ClientConfig   `yaml:"client"`
	Packages PackagesConfig `yaml:"packages"`
	Gate     GateConfig     `yaml:"gate"`
	History  HistoryConfig  `yaml:"history"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	NATS     NATSConfig     `yaml:"nats"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig describes the update server endpoint.
type ServerConfig struct {
	Address       string        `yaml:"address"`
	Port          int           `yaml:"port"`
	Transport     TransportKind `yaml:"transport"`      // tcp|websocket
	WebSocketPath string        `yaml:"websocket_path"` // only used by the websocket transport
	RetryGrace    string        `yaml:"retry_grace"`    // delay before reconnecting after Retry
	MaxFrameSize  int           `yaml:"max_frame_size"`
}

// ClientConfig identifies this installation to the server.
type ClientConfig struct {
	Version         string `yaml:"version,omitempty"`          // overrides the build version
	FingerprintFile string `yaml:"fingerprint_file,omitempty"` // hash this file instead of the package summary
}

// PackagesConfig controls where packages live and how they are synchronized.
type PackagesConfig struct {
	Dir                 string      `yaml:"dir"`
	Registry            string      `yaml:"registry"`
	CleanUntracked      bool        `yaml:"clean_untracked"`
	AbortOnResetFailure bool        `yaml:"abort_on_reset_failure"`
	Retry               RetryConfig `yaml:"retry"`
	Auth                *AuthConfig `yaml:"auth,omitempty"`
}

// RetryConfig configures retries of clone and fetch on transient failures.
type RetryConfig struct {
	MaxRetries   int              `yaml:"max_retries"`
	InitialDelay string           `yaml:"initial_delay"`
	MaxDelay     string           `yaml:"max_delay"`
	Backoff      RetryBackoffMode `yaml:"backoff"`
}

// GateConfig selects the package and baseline commit behind the extended feature gate.
type GateConfig struct {
	Package  string `yaml:"package"`
	Baseline string `yaml:"baseline"`
}

// HistoryConfig configures the SQLite sync history. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig configures the Prometheus endpoint served by the daemon.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// NATSConfig configures event fan-out. An empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// DaemonConfig configures periodic update checks.
type DaemonConfig struct {
	CheckInterval string `yaml:"check_interval"`
	CheckTimeout  string `yaml:"check_timeout"` // bounds one check including its download
	AutoDownload  *bool  `yaml:"auto_download,omitempty"`
}

// Load reads, expands, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	envFiles, err := loadEnvFiles(configPath)
	if err != nil {
		return nil, err
	}
	if len(envFiles) > 0 {
		slog.Debug("Loaded env files", slog.Any("files", envFiles))
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigError("configuration file not found").
				WithContext("path", configPath).
				Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).
			Build()
	}
	return Parse(data)
}

// Parse decodes configuration from YAML bytes with ${VAR} expansion.
func Parse(data []byte) (*Config, error) {
	expandedData := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Fatal().Build()
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = applyDefaults(cfg)
	return cfg
}

// RetryGraceDuration returns the reconnect delay used by Retry.
func (s ServerConfig) RetryGraceDuration() time.Duration {
	d, err := time.ParseDuration(s.RetryGrace)
	if err != nil || d < 0 {
		return defaultRetryGrace
	}
	return d
}

// Delays returns the parsed initial and maximum retry delays.
func (r RetryConfig) Delays() (time.Duration, time.Duration) {
	initial, _ := time.ParseDuration(r.InitialDelay)
	maxDelay, _ := time.ParseDuration(r.MaxDelay)
	return initial, maxDelay
}

// Interval returns the parsed check interval.
func (d DaemonConfig) Interval() time.Duration {
	v, err := time.ParseDuration(d.CheckInterval)
	if err != nil || v <= 0 {
		return defaultCheckInterval
	}
	return v
}

// Timeout returns the parsed per-check timeout.
func (d DaemonConfig) Timeout() time.Duration {
	v, err := time.ParseDuration(d.CheckTimeout)
	if err != nil || v <= 0 {
		return defaultCheckTimeout
	}
	return v
}

// ShouldAutoDownload reports whether the daemon starts a download on NeedUpdate.
func (d DaemonConfig) ShouldAutoDownload() bool {
	return d.AutoDownload == nil || *d.AutoDownload
}

// RegistryPath returns the registry file, resolved against the packages directory.
func (p PackagesConfig) RegistryPath() string {
	if filepath.IsAbs(p.Registry) || filepath.Dir(p.Registry) != "." {
		return p.Registry
	}
	return filepath.Join(p.Dir, p.Registry)
}

const exampleConfig = `# packsync configuration

server:
  address: 127.0.0.1
  port: 9527
  # tcp or websocket
  transport: tcp
  websocket_path: /ws
  retry_grace: 100ms

client:
  # version: "1.4.0"
  # fingerprint_file: ./resources.pak

packages:
  dir: packages
  registry: packages.json
  clean_untracked: false
  # stop a package when resetting its dirty working copy fails
  abort_on_reset_failure: false
  retry:
    max_retries: 0
    initial_delay: 1s
    max_delay: 30s
    backoff: linear
  # auth:
  #   type: token
  #   token: ${PACKSYNC_GIT_TOKEN}

gate:
  package: herokill-core
  baseline: b57d89fa4c1a1ae5a0711b97598747b8cbc7428e

history:
  path: packages/history.db

metrics:
  listen: 127.0.0.1:9464
  path: /metrics

nats:
  # url: nats://127.0.0.1:4222
  subject: packsync.events

daemon:
  check_interval: 1h
  check_timeout: 10m
  auto_download: true

logging:
  level: info
  format: text
`

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.NewError(errors.CategoryAlreadyExists, "configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).
			Build()
	}
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.WrapError(err, errors.CategoryFileSystem, "failed to create config directory").Build()
		}
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write config file").
			WithContext("path", configPath).
			Build()
	}
	return nil
}
