package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/compresr/session-gateway/internal/config"
)

// resolveConfig finds config data by name or path.
// A name is looked up in ~/.config/session-gateway/configs, then ./configs.
// Returns raw bytes and where they came from.
func resolveConfig(userConfig string) ([]byte, string, error) {
	if strings.Contains(userConfig, "/") || strings.Contains(userConfig, "\\") || strings.HasSuffix(userConfig, ".yaml") {
		// #nosec G304 -- path provided by CLI user (intentional)
		data, err := os.ReadFile(userConfig)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return data, userConfig, nil
	}

	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "session-gateway", "configs"))
	}
	dirs = append(dirs, "configs")

	for _, dir := range dirs {
		path := filepath.Join(dir, userConfig+".yaml")
		// #nosec G304 -- trusted config path
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}
	return nil, "", fmt.Errorf("config '%s' not found", userConfig)
}

// loadConfig resolves and parses the --config flag.
func loadConfig() (*config.Config, string, error) {
	data, source, err := resolveConfig(configFlag)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", source, err)
	}
	return cfg, source, nil
}
