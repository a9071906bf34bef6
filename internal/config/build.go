package config

// Linker-injected build metadata, for example:
//
//	go build -ldflags "-X dispatch/internal/config.version=1.2.3 \
//	    -X dispatch/internal/config.commit=$(git rev-parse --short HEAD)" ./cmd/dispatch
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
