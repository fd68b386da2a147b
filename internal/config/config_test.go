package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "packsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  address: updates.example.com
  port: 7000
  transport: WS
  retry_grace: 250ms
packages:
  dir: /var/lib/app/packages
  retry:
    max_retries: 3
    backoff: Exponential
gate:
  package: core
  baseline: 0123456789abcdef0123456789abcdef01234567
daemon:
  check_interval: 15m
  auto_download: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "updates.example.com", cfg.Server.Address)
	require.Equal(t, 7000, cfg.Server.Port)
	require.Equal(t, TransportWebSocket, cfg.Server.Transport)
	require.Equal(t, 250*time.Millisecond, cfg.Server.RetryGraceDuration())
	require.Equal(t, "/var/lib/app/packages/packages.json", cfg.Packages.RegistryPath())
	require.Equal(t, RetryBackoffExponential, cfg.Packages.Retry.Backoff)
	require.Equal(t, 3, cfg.Packages.Retry.MaxRetries)
	require.Equal(t, "core", cfg.Gate.Package)
	require.Equal(t, 15*time.Minute, cfg.Daemon.Interval())
	require.False(t, cfg.Daemon.ShouldAutoDownload())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Default()

	require.Equal(t, DefaultServerAddress, cfg.Server.Address)
	require.Equal(t, DefaultServerPort, cfg.Server.Port)
	require.Equal(t, TransportTCP, cfg.Server.Transport)
	require.Equal(t, 100*time.Millisecond, cfg.Server.RetryGraceDuration())
	require.Equal(t, filepath.Join("packages", "packages.json"), cfg.Packages.RegistryPath())
	require.Equal(t, 0, cfg.Packages.Retry.MaxRetries)
	require.False(t, cfg.Packages.AbortOnResetFailure)
	require.Equal(t, DefaultGatePackage, cfg.Gate.Package)
	require.Equal(t, DefaultGateBaseline, cfg.Gate.Baseline)
	require.Equal(t, DefaultNATSSubject, cfg.NATS.Subject)
	require.Empty(t, cfg.History.Path)
	require.True(t, cfg.Daemon.ShouldAutoDownload())
	require.Equal(t, time.Hour, cfg.Daemon.Interval())
	require.Equal(t, LogLevelInfo, cfg.Logging.Level)
	require.NoError(t, ValidateConfig(cfg))
}

func TestRegistryPathKeepsExplicitLocation(t *testing.T) {
	p := PackagesConfig{Dir: "packages", Registry: "state/registry.json"}
	require.Equal(t, "state/registry.json", p.RegistryPath())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"unknown transport", "server:\n  transport: quic\n"},
		{"bad grace", "server:\n  retry_grace: soon\n"},
		{"unknown backoff", "packages:\n  retry:\n    backoff: random\n"},
		{"negative retries", "packages:\n  retry:\n    max_retries: -1\n"},
		{"max below initial", "packages:\n  retry:\n    initial_delay: 10s\n    max_delay: 1s\n"},
		{"short baseline", "gate:\n  baseline: abc123\n"},
		{"bad interval", "daemon:\n  check_interval: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			require.True(t, errors.HasCategory(err, errors.CategoryValidation), "got %v", err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "packsync.yaml")

	require.NoError(t, Init(path, false))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "packages/history.db", cfg.History.Path)
	require.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)

	err = Init(path, false)
	require.True(t, errors.HasCategory(err, errors.CategoryAlreadyExists))
	require.NoError(t, Init(path, true))
}

func TestEnvironmentVariableExpansion(t *testing.T) {
	t.Setenv("PACKSYNC_TEST_HOST", "mirror.internal")
	cfg, err := Parse([]byte("server:\n  address: ${PACKSYNC_TEST_HOST}\n"))
	require.NoError(t, err)
	require.Equal(t, "mirror.internal", cfg.Server.Address)
}

func TestNormalizeRetryBackoff(t *testing.T) {
	require.Equal(t, RetryBackoffFixed, NormalizeRetryBackoff(" FIXED "))
	require.Equal(t, RetryBackoffMode(""), NormalizeRetryBackoff("jitter"))
}

func TestLoadReadsEnvFileNextToConfig(t *testing.T) {
	const key = "PACKSYNC_DOTENV_HOST"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=dotenv.example\n"), 0o600))
	path := filepath.Join(dir, "packsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: ${"+key+"}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "dotenv.example", cfg.Server.Address)
}
