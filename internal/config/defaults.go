package config

import "time"

const (
	DefaultServerAddress = "127.0.0.1"
	DefaultServerPort    = 9527
	DefaultPackagesDir   = "packages"
	DefaultRegistryFile  = "packages.json"
	DefaultGatePackage   = "herokill-core"
	DefaultGateBaseline  = "b57d89fa4c1a1ae5a0711b97598747b8cbc7428e"
	DefaultNATSSubject   = "packsync.events"
	DefaultMaxFrameSize  = 4 << 20

	defaultRetryGrace    = 100 * time.Millisecond
	defaultCheckInterval = time.Hour
	defaultCheckTimeout  = 10 * time.Minute
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// ServerDefaultApplier handles Server configuration defaults.
type ServerDefaultApplier struct{}

func (s *ServerDefaultApplier) Domain() string { return "server" }

func (s *ServerDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Server.Address == "" {
		cfg.Server.Address = DefaultServerAddress
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = TransportTCP
	} else if k := NormalizeTransport(string(cfg.Server.Transport)); k != "" {
		cfg.Server.Transport = k
	}
	if cfg.Server.WebSocketPath == "" {
		cfg.Server.WebSocketPath = "/ws"
	}
	if cfg.Server.RetryGrace == "" {
		cfg.Server.RetryGrace = defaultRetryGrace.String()
	}
	if cfg.Server.MaxFrameSize <= 0 {
		cfg.Server.MaxFrameSize = DefaultMaxFrameSize
	}
	return nil
}

// PackagesDefaultApplier handles Packages configuration defaults.
type PackagesDefaultApplier struct{}

func (p *PackagesDefaultApplier) Domain() string { return "packages" }

func (p *PackagesDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Packages.Dir == "" {
		cfg.Packages.Dir = DefaultPackagesDir
	}
	if cfg.Packages.Registry == "" {
		cfg.Packages.Registry = DefaultRegistryFile
	}
	if a := cfg.Packages.Auth; a != nil {
		if t := NormalizeAuthType(string(a.Type)); t != "" {
			a.Type = t
		}
	}
	r := &cfg.Packages.Retry
	if r.Backoff == "" {
		r.Backoff = RetryBackoffLinear
	} else if m := NormalizeRetryBackoff(string(r.Backoff)); m != "" {
		r.Backoff = m
	}
	if r.InitialDelay == "" {
		r.InitialDelay = "1s"
	}
	if r.MaxDelay == "" {
		r.MaxDelay = "30s"
	}
	return nil
}

// GateDefaultApplier handles Gate configuration defaults.
type GateDefaultApplier struct{}

func (g *GateDefaultApplier) Domain() string { return "gate" }

func (g *GateDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Gate.Package == "" {
		cfg.Gate.Package = DefaultGatePackage
	}
	if cfg.Gate.Baseline == "" {
		cfg.Gate.Baseline = DefaultGateBaseline
	}
	return nil
}

// ObservabilityDefaultApplier handles History, Metrics, NATS and Logging defaults.
type ObservabilityDefaultApplier struct{}

func (o *ObservabilityDefaultApplier) Domain() string { return "observability" }

func (o *ObservabilityDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = DefaultNATSSubject
	}
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	return nil
}

// DaemonDefaultApplier handles Daemon configuration defaults.
type DaemonDefaultApplier struct{}

func (d *DaemonDefaultApplier) Domain() string { return "daemon" }

func (d *DaemonDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Daemon.CheckInterval == "" {
		cfg.Daemon.CheckInterval = defaultCheckInterval.String()
	}
	if cfg.Daemon.CheckTimeout == "" {
		cfg.Daemon.CheckTimeout = defaultCheckTimeout.String()
	}
	return nil
}

// DefaultApplierRegistry runs every domain applier in order.
type DefaultApplierRegistry struct {
	appliers []DefaultApplier
}

// NewDefaultApplier returns the registry with all packsync appliers.
func NewDefaultApplier() *DefaultApplierRegistry {
	return &DefaultApplierRegistry{appliers: []DefaultApplier{
		&ServerDefaultApplier{},
		&PackagesDefaultApplier{},
		&GateDefaultApplier{},
		&ObservabilityDefaultApplier{},
		&DaemonDefaultApplier{},
	}}
}

// ApplyDefaults applies every registered domain.
func (r *DefaultApplierRegistry) ApplyDefaults(cfg *Config) error {
	for _, a := range r.appliers {
		if err := a.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(cfg *Config) error {
	return NewDefaultApplier().ApplyDefaults(cfg)
}
