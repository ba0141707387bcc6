// Package config manages the model registry at <home>/config.json: a map of
// shortnames to provider/model configurations.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/viper"

	"github.com/xlr8harder/mq/internal/mqerr"
	"github.com/xlr8harder/mq/internal/store"
)

const configVersion = 1

// ModelConfig is one registry entry.
type ModelConfig struct {
	Provider    string   `json:"provider" mapstructure:"provider"`
	Model       string   `json:"model" mapstructure:"model"`
	Sysprompt   string   `json:"sysprompt,omitempty" mapstructure:"sysprompt"`
	Temperature *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	TopP        *float64 `json:"top_p,omitempty" mapstructure:"top_p"`
	TopK        *int     `json:"top_k,omitempty" mapstructure:"top_k"`
}

// Config is the full registry document.
type Config struct {
	Version int                    `json:"version" mapstructure:"version"`
	Models  map[string]ModelConfig `json:"models" mapstructure:"models"`
}

// Path returns the registry file under home.
func Path(home string) string {
	return filepath.Join(home, "config.json")
}

// Load reads the registry. A missing file yields an empty registry; a
// malformed one is a config error.
func Load(home string) (*Config, error) {
	path := Path(home)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{Version: configVersion, Models: map[string]ModelConfig{}}, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("MQ")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, mqerr.Config("invalid config in %s: %v", path, err).Wrap(err)
	}

	cfg := &Config{Version: configVersion}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, mqerr.Config("invalid config in %s: %v", path, err).Wrap(err)
	}
	if cfg.Models == nil {
		cfg.Models = map[string]ModelConfig{}
	}
	return cfg, nil
}

// Save writes the registry through the atomic file store so a crash never
// leaves a torn config.json.
func Save(home string, cfg *Config) error {
	cfg.Version = configVersion
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return mqerr.Config("failed to marshal config: %v", err).Wrap(err)
	}
	return store.WriteAtomic(Path(home), append(data, '\n'))
}

// Get looks up one shortname.
func Get(home, shortname string) (*ModelConfig, error) {
	cfg, err := Load(home)
	if err != nil {
		return nil, err
	}
	entry, ok := cfg.Models[shortname]
	if !ok {
		return nil, mqerr.NotFound("unknown model shortname: %q", shortname)
	}
	if err := ValidateEntry(shortname, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Upsert adds or replaces a registry entry after validating it.
func Upsert(home, shortname string, entry ModelConfig) error {
	if shortname == "" {
		return mqerr.User("shortname must be non-empty")
	}
	if err := ValidateEntry(shortname, entry); err != nil {
		return err
	}
	cfg, err := Load(home)
	if err != nil {
		return err
	}
	cfg.Models[shortname] = entry
	return Save(home, cfg)
}

// Remove deletes a registry entry.
func Remove(home, shortname string) error {
	cfg, err := Load(home)
	if err != nil {
		return err
	}
	if _, ok := cfg.Models[shortname]; !ok {
		return mqerr.NotFound("unknown model shortname: %q", shortname)
	}
	delete(cfg.Models, shortname)
	return Save(home, cfg)
}

// List returns all shortnames in sorted order with their entries.
func List(home string) ([]string, map[string]ModelConfig, error) {
	cfg, err := Load(home)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(cfg.Models))
	for name := range cfg.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, cfg.Models, nil
}
