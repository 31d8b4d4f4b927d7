package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/barnettlynn/calypsotools/pkg/calypso"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Keys    KeysConfig    `yaml:"keys"`
	Session SessionConfig `yaml:"session"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

type KeysConfig struct {
	IssuerKeyFile string `yaml:"issuer_key_file"`
}

type SessionConfig struct {
	ApplicationID *int   `yaml:"application_id"`
	KeyIndex      *int   `yaml:"key_index"`
	Security      string `yaml:"security,omitempty"`
}

type RuntimeConfig struct {
	ReaderIndex *int `yaml:"reader_index"`
	Counter     int  `yaml:"counter,omitempty"`
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
	if cfg.Runtime.Counter == 0 {
		cfg.Runtime.Counter = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Keys.IssuerKeyFile) == "" {
		return fmt.Errorf("config.keys.issuer_key_file is required")
	}
	if err := validateReadableFile(c.Keys.IssuerKeyFile, "config.keys.issuer_key_file"); err != nil {
		return err
	}

	if c.Session.ApplicationID == nil {
		return fmt.Errorf("config.session.application_id is required")
	}
	if *c.Session.ApplicationID < 0 || *c.Session.ApplicationID > 0xFF {
		return fmt.Errorf("config.session.application_id must be 0..255")
	}
	if c.Session.KeyIndex == nil {
		return fmt.Errorf("config.session.key_index is required")
	}
	if *c.Session.KeyIndex < 0 || *c.Session.KeyIndex > 0xFF {
		return fmt.Errorf("config.session.key_index must be 0..255")
	}
	if _, _, err := c.Session.SecurityOverride(); err != nil {
		return err
	}

	if c.Runtime.ReaderIndex == nil {
		return fmt.Errorf("config.runtime.reader_index is required")
	}
	if *c.Runtime.ReaderIndex < 0 {
		return fmt.Errorf("config.runtime.reader_index must be >= 0")
	}
	if c.Runtime.Counter < 1 || c.Runtime.Counter > calypso.RecordSize/3 {
		return fmt.Errorf("config.runtime.counter must be 1..%d", calypso.RecordSize/3)
	}

	return nil
}

// SecurityOverride returns the configured security level. ok is false when
// the level should come from card detection.
func (s SessionConfig) SecurityOverride() (level calypso.SecurityLevel, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s.Security)) {
	case "":
		return calypso.SecurityNone, false, nil
	case "des":
		return calypso.SecurityDES, true, nil
	case "3des":
		return calypso.Security3DES, true, nil
	case "aes", "aes128":
		return calypso.SecurityAES128, true, nil
	default:
		return calypso.SecurityNone, false, fmt.Errorf("config.session.security must be one of des, 3des, aes (got %q)", s.Security)
	}
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Keys.IssuerKeyFile = resolvePath(configDir, c.Keys.IssuerKeyFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
