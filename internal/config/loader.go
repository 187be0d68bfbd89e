package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(homeDir(), ".muster", "config.json")
}

// DataDir returns the muster data directory, creating it if needed.
func DataDir() string {
	dir := filepath.Join(homeDir(), ".muster")
	os.MkdirAll(dir, 0o755)
	return dir
}

// Load reads configuration from the default path.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads configuration from a specific path, falling back to
// defaults for a missing file and for zero values. Environment variables
// override file values for secrets, so tokens need never live on disk.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if unknown := CheckUnknownFields(raw); len(unknown) > 0 {
		return cfg, fmt.Errorf("unknown config fields: %v", unknown)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("apply config: %w", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// Save writes configuration to the default path.
func Save(cfg *Config) error {
	return SaveTo(cfg, ConfigPath())
}

// SaveTo writes configuration to a specific path.
func SaveTo(cfg *Config, path string) error {
	os.MkdirAll(filepath.Dir(path), 0o755)
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// Upgrade reads the existing config file, deep-merges it on top of
// DefaultConfig (local values win), and saves the result. New fields gain
// their defaults; existing user values are preserved.
func Upgrade() (*Config, error) {
	path := ConfigPath()

	defaultData, _ := json.Marshal(DefaultConfig())
	var defaultMap map[string]any
	json.Unmarshal(defaultData, &defaultMap)

	localData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var localMap map[string]any
	if err := json.Unmarshal(localData, &localMap); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	merged := deepMerge(defaultMap, localMap)

	cfg := DefaultConfig()
	mergedData, _ := json.Marshal(merged)
	if err := json.Unmarshal(mergedData, cfg); err != nil {
		return nil, fmt.Errorf("apply merged config: %w", err)
	}
	applyDefaults(cfg)

	if err := SaveTo(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Command.Trigger == "" {
		cfg.Command.Trigger = "/all"
	}
	if cfg.Command.ReplyTimeoutS <= 0 {
		cfg.Command.ReplyTimeoutS = 10
	}
	if cfg.Channels.Telegram.PollTimeoutS <= 0 {
		cfg.Channels.Telegram.PollTimeoutS = 50
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Heartbeat.IntervalS <= 0 {
		cfg.Heartbeat.IntervalS = 1800
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MUSTER_TELEGRAM_TOKEN"); v != "" {
		cfg.Channels.Telegram.Token = v
	}
	if v := os.Getenv("MUSTER_DISCORD_TOKEN"); v != "" {
		cfg.Channels.Discord.Token = v
	}
	if v := os.Getenv("MUSTER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// deepMerge recursively merges src into dst. Values from src take priority;
// nested maps merge key by key.
func deepMerge(dst, src map[string]any) map[string]any {
	result := make(map[string]any, len(dst))
	for k, v := range dst {
		result[k] = v
	}
	for k, srcVal := range src {
		dstVal, exists := result[k]
		if !exists {
			result[k] = srcVal
			continue
		}
		dstMap, dstOK := dstVal.(map[string]any)
		srcMap, srcOK := srcVal.(map[string]any)
		if dstOK && srcOK {
			result[k] = deepMerge(dstMap, srcMap)
		} else {
			result[k] = srcVal
		}
	}
	return result
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}
	return home
}
