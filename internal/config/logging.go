package config

import (
	"io"
	"log/slog"

	"git.home.luguber.info/inful/packsync/internal/foundation/normalization"
)

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

type (
	LogLevel  string
	LogFormat string
)

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

var slogLevels = map[LogLevel]slog.Level{
	LogLevelDebug: slog.LevelDebug,
	LogLevelInfo:  slog.LevelInfo,
	LogLevelWarn:  slog.LevelWarn,
	LogLevelError: slog.LevelError,
}

var (
	logLevelNormalizer = normalization.NewNormalizer(map[string]LogLevel{
		"debug":   LogLevelDebug,
		"info":    LogLevelInfo,
		"warn":    LogLevelWarn,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
	}, LogLevelInfo)
	logFormatNormalizer = normalization.NewNormalizer(map[string]LogFormat{
		"json": LogFormatJSON,
		"text": LogFormatText,
	}, LogFormatText)
)

// NormalizeLogLevel folds case and falls back to info.
func NormalizeLogLevel(raw string) LogLevel { return logLevelNormalizer.Normalize(raw) }

// NormalizeLogFormat folds case and falls back to text.
func NormalizeLogFormat(raw string) LogFormat { return logFormatNormalizer.Normalize(raw) }

// SlogLevel maps l onto slog; unknown levels log at info.
func (l LogLevel) SlogLevel() slog.Level {
	if lvl, ok := slogLevels[l]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// NewHandler builds the handler the configuration asks for, writing to w.
func (lc LoggingConfig) NewHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: lc.Level.SlogLevel()}
	if lc.Format == LogFormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
