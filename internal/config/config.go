package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DBPath string `json:"db_path"`
	// UndoDepth bounds each history stack; the oldest entry is evicted.
	UndoDepth int `json:"undo_depth"`
	// Retry bounds for lock contention between processes.
	RetryAttempts  int `json:"retry_attempts"`
	RetryInitialMS int `json:"retry_initial_ms"`
}

func Default() Config {
	return Config{UndoDepth: 100, RetryAttempts: 5, RetryInitialMS: 50}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "trellis", "config.json"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return Config{}, err
	}

	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if config.UndoDepth <= 0 {
		config.UndoDepth = Default().UndoDepth
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = Default().RetryAttempts
	}
	if config.RetryInitialMS <= 0 {
		config.RetryInitialMS = Default().RetryInitialMS
	}
	return config, nil
}

func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
