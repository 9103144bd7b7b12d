package config

import (
	"fmt"
	"os"
	"path/filepath"

	"aide/pkg/protocol"
)

// Paths holds all resolved aide state file paths.
type Paths struct {
	Home       string // ~/.aide or AIDE_HOME
	StateDB    string // state.db or AIDE_DB_PATH
	ConfigFile string // config.yaml, config.toml or AIDE_CONFIG
	EnvFile    string // .env beside the config
}

// ResolvePaths returns aide's paths, respecting env var overrides:
//   - AIDE_HOME: base directory (default ~/.aide)
//   - AIDE_DB_PATH: state database (default $AIDE_HOME/state.db)
//   - AIDE_CONFIG: config file (default $AIDE_HOME/config.yaml, or
//     config.toml when only that exists)
func ResolvePaths() (Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		Home:       home,
		StateDB:    resolvePathWithEnv("AIDE_DB_PATH", home, protocol.StateDBName),
		ConfigFile: resolveConfigFile(home),
		EnvFile:    filepath.Join(home, ".env"),
	}, nil
}

func resolveHome() (string, error) {
	if v := os.Getenv("AIDE_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.AideDir), nil
}

func resolveConfigFile(home string) string {
	if v := os.Getenv("AIDE_CONFIG"); v != "" {
		return v
	}
	yamlPath := filepath.Join(home, "config.yaml")
	tomlPath := filepath.Join(home, "config.toml")
	if _, err := os.Stat(yamlPath); err != nil {
		if _, err := os.Stat(tomlPath); err == nil {
			return tomlPath
		}
	}
	return yamlPath
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
