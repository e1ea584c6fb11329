package config

import (
	"fmt"
	"os"
	"path/filepath"

	"patchsync/internal/core/types"

	"github.com/goccy/go-yaml"
)

// Config is the local client configuration. Everything here can also be set
// from the command line; flags win over the file.
type Config struct {
	// ConfigURL is the base URL of the launcher config service.
	ConfigURL string `yaml:"config_url"`
	// Environment selects the server environment to query.
	Environment string `yaml:"environment"`
	// Universe preselects a universe by name, skipping the prompt.
	Universe string `yaml:"universe"`
	// InstallDir overrides the patcher config's default install path.
	InstallDir string `yaml:"install_dir"`
	// Manifest selects the content manifest: default, minimal or hotfix.
	Manifest string `yaml:"manifest"`
	// RateLimit caps download throughput. Zero means unlimited.
	RateLimit types.Bytes `yaml:"rate_limit"`
	Debug     bool        `yaml:"debug"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Environment: "live",
		Manifest:    "default",
	}
}

// LoadConfig loads configuration from a YAML file and applies defaults. A
// missing file yields the defaults.
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" && fileExists(configFile) {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		loaded := &Config{}
		if err := yaml.Unmarshal(data, loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
		config = mergeConfig(loaded, config)
	}

	return config, nil
}

// mergeConfig merges a loaded config with defaults, with loaded values taking precedence.
func mergeConfig(loaded, defaults *Config) *Config {
	return &Config{
		ConfigURL:   coalesce(loaded.ConfigURL, defaults.ConfigURL),
		Environment: coalesce(loaded.Environment, defaults.Environment),
		Universe:    coalesce(loaded.Universe, defaults.Universe),
		InstallDir:  coalesce(loaded.InstallDir, defaults.InstallDir),
		Manifest:    coalesce(loaded.Manifest, defaults.Manifest),
		RateLimit:   coalesce(loaded.RateLimit, defaults.RateLimit),
		Debug:       loaded.Debug || defaults.Debug,
	}
}

func coalesce[T comparable](loaded, defaultVal T) T {
	var zero T
	if loaded != zero {
		return loaded
	}
	return defaultVal
}

// ResolveConfigPath resolves a config file path, checking common locations.
func ResolveConfigPath(configFile string) string {
	if configFile != "" {
		if filepath.IsAbs(configFile) || fileExists(configFile) {
			return configFile
		}
	}

	commonPaths := []string{
		"patchsync.yaml",
		"patchsync.yml",
		"/etc/patchsync/config.yaml",
		"/etc/patchsync/config.yml",
	}

	for _, path := range commonPaths {
		if fileExists(path) {
			return path
		}
	}

	return configFile
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
