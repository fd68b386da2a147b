package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyPackage    = "package"
	KeyURL        = "url"
	KeyHash       = "hash"
	KeyPath       = "path"
	KeyName       = "name"
	KeyBatchID    = "batch_id"
	KeyState      = "state"
	KeyCommand    = "command"
	KeyAddress    = "address"
	KeyOperation  = "operation"
	KeyDurationMS = "duration_ms"
	KeyScheduleID = "schedule_id"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Package(name string) slog.Attr   { return slog.String(KeyPackage, name) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Name(n string) slog.Attr         { return slog.String(KeyName, n) }
func BatchID(id string) slog.Attr     { return slog.String(KeyBatchID, id) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func Command(c string) slog.Attr      { return slog.String(KeyCommand, c) }
func Address(a string) slog.Attr      { return slog.String(KeyAddress, a) }
func Operation(op string) slog.Attr   { return slog.String(KeyOperation, op) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func ScheduleID(id string) slog.Attr  { return slog.String(KeyScheduleID, id) }

// Hash logs a commit identifier shortened to 8 characters.
func Hash(h string) slog.Attr {
	if len(h) > 8 {
		h = h[:8]
	}
	return slog.String(KeyHash, h)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
