// Package config loads the service's YAML configuration file and expands
// environment variables in it, the way daemon/config.go does for the
// teacher's daemon process. CLI flag overrides are applied on top by the
// cli package's serve command.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the service's full runtime configuration.
type Config struct {
	Port         int    `yaml:"port"`
	StoreDSN     string `yaml:"storeDsn"`
	CORSOrigin   string `yaml:"corsOrigin"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
	ReapSchedule string `yaml:"reapSchedule"`
	LogFormat    string `yaml:"logFormat"` // "json" or "text"
}

// Defaults returns the configuration used when no file is found and no
// flags override it.
func Defaults() Config {
	return Config{
		Port:         8080,
		StoreDSN:     "sselane.db",
		CORSOrigin:   "*",
		ServiceName:  "sselane",
		ReapSchedule: "*/10 * * * *",
		LogFormat:    "json",
	}
}

// Load discovers and parses the YAML config file. Discovery order, matching
// the teacher's daemon/config.go: an explicit path if given and non-empty,
// then ./sselane.yaml in the working directory, then
// ~/.sselane/config.yaml. If none of these exist, Load returns Defaults()
// with no error: an absent config file is not a failure.
func Load(explicitPath string) (Config, error) {
	cfg := Defaults()

	path, err := resolvePath(explicitPath)
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

func resolvePath(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config: explicit path %s: %w", explicitPath, err)
		}
		return explicitPath, nil
	}

	if _, err := os.Stat("sselane.yaml"); err == nil {
		return "sselane.yaml", nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		candidate := filepath.Join(home, ".sselane", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", nil
}
