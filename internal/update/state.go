package update

import "fmt"

// State is the update session state.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Checking
	UpToDate
	NeedUpdate
	Downloading
	NeedRestart
	VersionTooOld
	Error
)

var stateNames = [...]string{
	Idle:          "Idle",
	Connecting:    "Connecting",
	Connected:     "Connected",
	Checking:      "Checking",
	UpToDate:      "UpToDate",
	NeedUpdate:    "NeedUpdate",
	Downloading:   "Downloading",
	NeedRestart:   "NeedRestart",
	VersionTooOld: "VersionTooOld",
	Error:         "Error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the session has reached a final verdict.
func (s State) Terminal() bool {
	return s == UpToDate || s == NeedRestart || s == VersionTooOld
}
