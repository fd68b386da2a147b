package errors

import "maps"

// ErrorCategory groups errors by the subsystem that failed. The CLI maps it to
// an exit code and the daemon's HTTP endpoints map it to a status code.
type ErrorCategory string

const (
	// User input and local configuration.
	CategoryConfig        ErrorCategory = "config"
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryAlreadyExists ErrorCategory = "already_exists"

	// The update server and package remotes.
	CategoryNetwork  ErrorCategory = "network"
	CategoryProtocol ErrorCategory = "protocol"
	CategoryGit      ErrorCategory = "git"

	// Local package state and sync history.
	CategoryRegistry   ErrorCategory = "registry"
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryEventStore ErrorCategory = "eventstore"

	CategoryRuntime  ErrorCategory = "runtime"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // the command cannot continue
	SeverityError   ErrorSeverity = "error"   // the current operation failed
	SeverityWarning ErrorSeverity = "warning" // degraded, work continues
	SeverityInfo    ErrorSeverity = "info"
)

// RetryStrategy hints whether repeating the operation can succeed.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryImmediate  RetryStrategy = "immediate"
	RetryBackoff    RetryStrategy = "backoff"
	RetryRateLimit  RetryStrategy = "rate_limit"
	RetryUserAction RetryStrategy = "user"
)

// ErrorContext holds structured fields logged and returned with an error.
type ErrorContext map[string]any

// Set stores value under key, allocating the map when c is nil.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = ErrorContext{}
	}
	c[key] = value
	return c
}

func (c ErrorContext) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

func (c ErrorContext) GetString(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}

// Merge returns a new context with other's values taking precedence. When
// either side is empty the other is returned as is.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	if len(other) == 0 {
		return c
	}
	if len(c) == 0 {
		return other
	}
	out := make(ErrorContext, len(c)+len(other))
	maps.Copy(out, c)
	maps.Copy(out, other)
	return out
}
