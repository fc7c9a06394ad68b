package version

import "fmt"

// Build metadata, set with -ldflags "-X fxvol/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the metadata for the version command.
func String() string {
	return fmt.Sprintf("fxvol %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
}

// UserAgent identifies outbound HTTP requests.
func UserAgent() string {
	return "fxvol/" + Version
}
