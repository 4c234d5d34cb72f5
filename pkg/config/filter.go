package config

type FilterConfiguration struct {
	// Ignore holds expressions evaluated against every scanned file.
	// A file matching any of them is excluded from deduplication.
	Ignore []string `koanf:"ignore"`
}
