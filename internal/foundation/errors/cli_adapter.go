package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Exit codes returned by the packsync CLI.
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitUsage      = 2
	ExitNotFound   = 3
	ExitAuth       = 5
	ExitConfig     = 7
	ExitRemote     = 8
	ExitInternal   = 10
	ExitLocalState = 11
	ExitRuntime    = 12
)

var exitCodes = map[ErrorCategory]int{
	CategoryValidation: ExitUsage,
	CategoryConfig:     ExitConfig,
	CategoryAuth:       ExitAuth,
	CategoryNotFound:   ExitNotFound,
	CategoryNetwork:    ExitRemote,
	CategoryProtocol:   ExitRemote,
	CategoryGit:        ExitRemote,
	CategoryRegistry:   ExitLocalState,
	CategoryFileSystem: ExitLocalState,
	CategoryEventStore: ExitLocalState,
	CategoryDaemon:     ExitRuntime,
	CategoryRuntime:    ExitRuntime,
	CategoryInternal:   ExitInternal,
}

// CLIErrorAdapter prints an error for a terminal user and picks the exit code.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	stderr  io.Writer
	exit    func(int)
}

func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger, stderr: os.Stderr, exit: os.Exit}
}

// ExitCodeFor maps the error category to an exit code. Unclassified errors exit 1.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	c, ok := AsClassified(err)
	if !ok {
		return ExitGeneral
	}
	if code, ok := exitCodes[c.Category()]; ok {
		return code
	}
	return ExitGeneral
}

// FormatError returns the one-line message shown to the user. Internal and
// runtime failures are only spelled out with -v.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	c, ok := AsClassified(err)
	switch {
	case !ok:
		return "Error: " + err.Error()
	case a.verbose:
		return c.Error()
	case c.Category() == CategoryInternal || c.Category() == CategoryRuntime:
		return "Internal error occurred (use -v for details)"
	default:
		return "Error: " + c.Message()
	}
}

// HandleError logs err when it is fatal, unclassified or -v is set, prints the
// message and exits.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	c, classified := AsClassified(err)
	switch {
	case !classified:
		a.logger.Error("Unclassified error", "error", err)
	case a.verbose || c.IsFatal():
		attrs := []slog.Attr{slog.String("category", string(c.Category()))}
		if c.CanRetry() {
			attrs = append(attrs, slog.Bool("retryable", true))
		}
		for k, v := range c.Context() {
			attrs = append(attrs, slog.Any(k, v))
		}
		a.logger.LogAttrs(context.Background(), levelFor(c.Severity()), c.Message(), attrs...)
	}
	fmt.Fprintln(a.stderr, a.FormatError(err))
	a.exit(a.ExitCodeFor(err))
}

func levelFor(s ErrorSeverity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
