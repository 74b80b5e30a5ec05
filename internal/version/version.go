// Package version holds build metadata injected via ldflags.
package version

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// UserAgent is the value the Go SDK sends in the User-Agent header.
func UserAgent() string {
	return "zoomdex-go/" + Version
}
