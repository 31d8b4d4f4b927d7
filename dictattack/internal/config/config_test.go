package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadValidConfigResolvesKeyDir(t *testing.T) {
	tmp := t.TempDir()
	keyDir := filepath.Join(tmp, "keys")
	if err := os.Mkdir(keyDir, 0o755); err != nil {
		t.Fatalf("mkdir keys: %v", err)
	}
	cfgPath := filepath.Join(tmp, "config.yaml")
	content := `
keys:
  key_dir: "keys"
session:
  application_id: 1
  key_index: 3
runtime:
  reader_index: 0
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Keys.KeyDir != keyDir {
		t.Fatalf("expected key dir %q, got %q", keyDir, cfg.Keys.KeyDir)
	}
	if cfg.Session.KeyIndex == nil || *cfg.Session.KeyIndex != 3 {
		t.Fatalf("expected key index 3, got %v", cfg.Session.KeyIndex)
	}
	if cfg.Runtime.ProgressEvery != defaultProgressEvery {
		t.Fatalf("expected default progress interval, got %d", cfg.Runtime.ProgressEvery)
	}
}

func TestLoadWithoutKeyDirUsesBuiltinKeys(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	content := `
session:
  application_id: 1
runtime:
  reader_index: 1
  progress_every: 10
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Keys.KeyDir != "" || cfg.Session.KeyIndex != nil {
		t.Fatalf("unexpected optional fields: %+v", cfg)
	}
	if cfg.Runtime.ProgressEvery != 10 {
		t.Fatalf("expected progress interval 10, got %d", cfg.Runtime.ProgressEvery)
	}
}

func TestLoadRejectsSkipBuiltinWithoutKeyDir(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	content := `
keys:
  skip_builtin: true
session:
  application_id: 1
runtime:
  reader_index: 0
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.keys.key_dir is required") {
		t.Fatalf("expected key_dir error, got %v", err)
	}
}

func TestLoadRejectsKeyDirThatIsAFile(t *testing.T) {
	tmp := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmp, "keys"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	cfgPath := filepath.Join(tmp, "config.yaml")
	content := `
keys:
  key_dir: "keys"
session:
  application_id: 1
runtime:
  reader_index: 0
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "must point to a directory") {
		t.Fatalf("expected directory error, got %v", err)
	}
}

func TestLoadRejectsMissingApplication(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	content := `
runtime:
  reader_index: 0
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.session.application_id is required") {
		t.Fatalf("expected application_id error, got %v", err)
	}
}
