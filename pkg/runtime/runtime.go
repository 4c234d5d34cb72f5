package runtime

var (
	// Version, GitCommit and Timestamp are filled at build time via ldflags.
	Version   = "0.0.0-dev"
	GitCommit = "unknown"
	Timestamp = "unknown"
)
