package config

import "git.home.luguber.info/inful/packsync/internal/foundation/normalization"

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var retryBackoffNormalizer = normalization.NewNormalizer(map[string]RetryBackoffMode{
	"fixed":       RetryBackoffFixed,
	"linear":      RetryBackoffLinear,
	"exponential": RetryBackoffExponential,
}, "")

// NormalizeRetryBackoff converts user input (case-insensitive) into a typed mode, returning empty string for unknown.
func NormalizeRetryBackoff(raw string) RetryBackoffMode {
	return retryBackoffNormalizer.Normalize(raw)
}

// TransportKind selects how the session reaches the update server.
type TransportKind string

const (
	TransportTCP       TransportKind = "tcp"
	TransportWebSocket TransportKind = "websocket"
)

var transportNormalizer = normalization.NewNormalizer(map[string]TransportKind{
	"tcp":       TransportTCP,
	"websocket": TransportWebSocket,
	"ws":        TransportWebSocket,
}, "")

// NormalizeTransport returns the canonical transport kind or empty string for unknown input.
func NormalizeTransport(raw string) TransportKind {
	return transportNormalizer.Normalize(raw)
}
