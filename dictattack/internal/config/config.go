package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultProgressEvery = 50

type Config struct {
	Keys    KeysConfig    `yaml:"keys"`
	Session SessionConfig `yaml:"session"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

type KeysConfig struct {
	KeyDir      string `yaml:"key_dir,omitempty"`
	SkipBuiltin bool   `yaml:"skip_builtin,omitempty"`
}

type SessionConfig struct {
	ApplicationID *int `yaml:"application_id"`
	KeyIndex      *int `yaml:"key_index,omitempty"`
}

type RuntimeConfig struct {
	ReaderIndex   *int `yaml:"reader_index"`
	ProgressEvery int  `yaml:"progress_every,omitempty"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if cfg.Runtime.ProgressEvery == 0 {
		cfg.Runtime.ProgressEvery = defaultProgressEvery
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Keys.KeyDir != "" {
		if err := validateDir(c.Keys.KeyDir, "config.keys.key_dir"); err != nil {
			return err
		}
	}
	if c.Keys.SkipBuiltin && c.Keys.KeyDir == "" {
		return fmt.Errorf("config.keys.key_dir is required when skip_builtin is set")
	}

	if c.Session.ApplicationID == nil {
		return fmt.Errorf("config.session.application_id is required")
	}
	if *c.Session.ApplicationID < 0 || *c.Session.ApplicationID > 0xFF {
		return fmt.Errorf("config.session.application_id must be 0..255")
	}
	if c.Session.KeyIndex != nil && (*c.Session.KeyIndex < 0 || *c.Session.KeyIndex > 0xFF) {
		return fmt.Errorf("config.session.key_index must be 0..255")
	}

	if c.Runtime.ReaderIndex == nil {
		return fmt.Errorf("config.runtime.reader_index is required")
	}
	if *c.Runtime.ReaderIndex < 0 {
		return fmt.Errorf("config.runtime.reader_index must be >= 0")
	}
	if c.Runtime.ProgressEvery < 0 {
		return fmt.Errorf("config.runtime.progress_every must be >= 0")
	}

	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Keys.KeyDir = resolvePath(configDir, c.Keys.KeyDir)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateDir(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s must point to a directory", field)
	}
	return nil
}
