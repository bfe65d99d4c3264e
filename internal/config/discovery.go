package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Discover finds the config file by checking standard locations.
// Priority order: $MQBRIDGE_CONFIG, ~/.config/mqbridge/config.yaml,
// /etc/mqbridge/config.yaml, ./config.yaml.
func Discover() (string, error) {
	if path := os.Getenv("MQBRIDGE_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "mqbridge", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/mqbridge/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	legacyConfig := "./config.yaml"
	if _, err := os.Stat(legacyConfig); err == nil {
		return legacyConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $MQBRIDGE_CONFIG, ~/.config/mqbridge, /etc/mqbridge, ./config.yaml)")
}
