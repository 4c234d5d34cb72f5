package config

type NotificationsConfig struct {
	// Detailed switches run summaries to one notification field per
	// merged group instead of a single totals embed.
	Detailed     bool                `koanf:"detailed"`
	SkipEmptyRun bool                `yaml:"skip_empty_run" koanf:"skip_empty_run"`
	Service      NotificationService `koanf:"service"`
}

type NotificationService struct {
	Discord string `koanf:"discord"`
}
