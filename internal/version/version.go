package version

// Version is the client version reported to the update server in CheckUpdate.
// Release builds set it through ldflags:
// go build -ldflags "-X git.home.luguber.info/inful/packsync/internal/version.Version=v0.5.2".
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version with commit metadata for `packsync --version`.
func String() string {
	if GitCommit == "unknown" || GitCommit == "" {
		return Version
	}
	short := GitCommit
	if len(short) > 8 {
		short = short[:8]
	}
	return Version + " (" + short + ")"
}
