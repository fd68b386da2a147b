package update

import "git.home.luguber.info/inful/packsync/internal/wire"

// Observer receives session notifications on the session goroutine.
// Callbacks must not block and must not call back into the session synchronously.
type Observer struct {
	OnStateChanged func(from, to State, message string)
	OnPublicKey    func(key string)
	OnUpdateInfo   func(v wire.Verdict)
	OnError        func(message string)
}

// Snapshot is a consistent copy of the session's observable fields.
type Snapshot struct {
	State     State
	Error     string
	PublicKey string
	Verdict   *wire.Verdict
	Address   string
}
