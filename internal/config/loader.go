package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a hub config file. ${VAR} references in the YAML are expanded
// from the environment before parsing, so secrets like the presence API key
// and the journal password stay out of the file itself.
func Load(path string) (*HubConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hub config %s: %w", path, err)
	}

	var cfg HubConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse hub config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads a config file and fills unset fields with defaults.
func LoadWithDefaults(path string) (*HubConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate is the entrypoint used by the server binary: load, apply
// defaults, then validate.
func LoadAndValidate(path string) (*HubConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate hub config %s: %w", path, err)
	}
	return cfg, nil
}
