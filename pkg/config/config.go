package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
)

type Configuration struct {
	// MinimumSize is the byte floor for duplicate candidates. Groups of
	// files at or below this size are never merged.
	MinimumSize int64 `koanf:"minimum_size"`
	// Workers bounds parallel content hashing during a merge pass.
	Workers int `koanf:"workers"`
	// RateLimit caps relink operations per second. 0 means unlimited.
	RateLimit int `koanf:"rate_limit"`
	// CacheName is the per-subdirectory record cache filename used by the
	// scan, batch and consolidate commands.
	CacheName string `koanf:"cache_name"`

	Filters       FilterConfiguration `koanf:"filters"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

/* Vars */

var (
	Delimiter = "."

	K      = koanf.New(Delimiter)
	Config *Configuration

	cfgPath = ""
)

/* Public */

func Init(configFilePath string) error {
	cfgPath = configFilePath

	// defaults
	if err := K.Load(confmap.Provider(map[string]interface{}{
		"minimum_size": 0,
		"workers":      4,
		"rate_limit":   0,
		"cache_name":   "files",
		"notifications": map[string]interface{}{
			"detailed":       false,
			"skip_empty_run": true,
		},
	}, Delimiter), nil); err != nil {
		return fmt.Errorf("load config defaults: %w", err)
	}

	// config file is optional, defaults apply without one
	if _, err := os.Stat(configFilePath); err == nil {
		if err := K.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load config file %q: %w", configFilePath, err)
		}
	}

	if err := K.Unmarshal("", &Config); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	return nil
}

// GetDefaultConfigDirectory prefers a config file in the working directory,
// falling back to ~/.config/<app>.
func GetDefaultConfigDirectory(appName string, configFile string) string {
	if _, err := os.Stat(configFile); err == nil {
		if dir, err := os.Getwd(); err == nil {
			return dir
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", appName)
}
