package core

// Build metadata, injected with:
//
//	go build -ldflags "-X github.com/jaypaulb/sdbridge/core.Version=$(git describe --tags --always) \
//	  -X github.com/jaypaulb/sdbridge/core.GitCommit=$(git rev-parse --short HEAD) \
//	  -X github.com/jaypaulb/sdbridge/core.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/sdgen
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const modulePath = "github.com/jaypaulb/sdbridge"

// GetVersionInfo returns a formatted version information string, e.g.
// "v1.0.0 (built 2024-01-15T10:30:00Z, commit abc1234)".
func GetVersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}

// BuildLdflags returns the -ldflags value that injects the given metadata.
// Empty arguments are skipped.
func BuildLdflags(version, buildTime, gitCommit string) string {
	var flags string
	add := func(name, value string) {
		if value == "" {
			return
		}
		if flags != "" {
			flags += " "
		}
		flags += "-X " + modulePath + "/core." + name + "=" + value
	}
	add("Version", version)
	add("BuildTime", buildTime)
	add("GitCommit", gitCommit)
	return flags
}
