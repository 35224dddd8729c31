// Package config loads and persists agentty's on-disk JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentty-dev/agentty/internal/alog"
)

const configFileName = "config.json"

// Config holds the tunables for the session orchestration core.
type Config struct {
	DefaultAgent                string `json:"default_agent"`
	DefaultModel                string `json:"default_model"`
	DefaultPermissionMode       string `json:"default_permission_mode"`
	GitStatusIntervalMs         int    `json:"git_status_interval_ms"`
	RefreshWatchdogIntervalMs   int    `json:"refresh_watchdog_interval_ms"`
	PRPollIntervalMs            int    `json:"pr_poll_interval_ms"`
	AutoCommitMaxAssistAttempts int    `json:"auto_commit_max_assist_attempts"`
}

// DefaultConfig returns agentty's factory-default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultAgent:                "claude",
		DefaultModel:                "",
		DefaultPermissionMode:       "AutoEdit",
		GitStatusIntervalMs:         int(30 * time.Second / time.Millisecond),
		RefreshWatchdogIntervalMs:   int(2 * time.Second / time.Millisecond),
		PRPollIntervalMs:            int(10 * time.Second / time.Millisecond),
		AutoCommitMaxAssistAttempts: 3,
	}
}

// StateDir returns ~/.agentty, creating it if necessary.
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".agentty")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// Load reads the config file, creating a default one if absent.
func Load() *Config {
	dir, err := StateDir()
	if err != nil {
		alog.Error.Printf("failed to resolve state dir: %v", err)
		return DefaultConfig()
	}

	path := filepath.Join(dir, configFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			def := DefaultConfig()
			if saveErr := Save(def); saveErr != nil {
				alog.Warning.Printf("failed to save default config: %v", saveErr)
			}
			return def
		}
		alog.Warning.Printf("failed to read config file: %v", err)
		return DefaultConfig()
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		alog.Error.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}

	return &cfg
}

// Save persists cfg to the config file under the state directory.
func Save(cfg *Config) error {
	dir, err := StateDir()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, configFileName), data, 0644)
}
