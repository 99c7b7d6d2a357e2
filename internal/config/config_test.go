package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/factudesk/factudesk/pkg/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Backend.Host != "127.0.0.1" {
		t.Errorf("Expected backend host 127.0.0.1, got %s", cfg.Backend.Host)
	}
	if cfg.Backend.Port != 8000 {
		t.Errorf("Expected backend port 8000, got %d", cfg.Backend.Port)
	}
	if cfg.Probe.MaxAttempts != 30 {
		t.Errorf("Expected 30 probe attempts, got %d", cfg.Probe.MaxAttempts)
	}
	if len(cfg.Backend.Interpreters) == 0 {
		t.Error("Expected a non-empty interpreter candidate list")
	}
	if cfg.Backend.Interpreters[0] != "python3" {
		t.Errorf("Expected python3 as first candidate, got %s", cfg.Backend.Interpreters[0])
	}
	if cfg.BackendURL() != "http://127.0.0.1:8000/" {
		t.Errorf("Unexpected backend URL: %s", cfg.BackendURL())
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "factudesk-config-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	yamlContent := `
backend:
  host: 127.0.0.1
  port: 9000
  work_dir: backend
  settings_module: slr_project.settings
  marker_settle: 250ms
probe:
  max_attempts: 5
  interval: 100ms
launcher:
  store_path: state/launches.json
`
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Backend.Port)
	}
	if cfg.Backend.MarkerSettle != models.Duration(250*time.Millisecond) {
		t.Errorf("Expected marker settle 250ms, got %v", time.Duration(cfg.Backend.MarkerSettle))
	}
	if cfg.Probe.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", cfg.Probe.MaxAttempts)
	}

	// Relative paths resolve against the config directory.
	wantWorkDir := filepath.Join(tmpDir, "backend")
	if cfg.Backend.WorkDir != wantWorkDir {
		t.Errorf("Expected work dir %s, got %s", wantWorkDir, cfg.Backend.WorkDir)
	}
	wantStore := filepath.Join(tmpDir, "state", "launches.json")
	if cfg.Launcher.StorePath != wantStore {
		t.Errorf("Expected store path %s, got %s", wantStore, cfg.Launcher.StorePath)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "factudesk-config-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg, err := Load(filepath.Join(tmpDir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got error: %v", err)
	}
	if cfg.Backend.Port != 8000 {
		t.Errorf("Expected default port 8000, got %d", cfg.Backend.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "factudesk-config-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	t.Setenv("FACTUDESK_BACKEND_PORT", "9100")
	t.Setenv("FACTUDESK_BACKEND_SETTINGS_MODULE", "slr_project.settings")
	t.Setenv("FACTUDESK_PROBE_MAX_ATTEMPTS", "3")
	t.Setenv("FACTUDESK_LAUNCHER_GRACE_PERIOD", "1s")

	cfg, err := Load(filepath.Join(tmpDir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.Port != 9100 {
		t.Errorf("Expected env-overridden port 9100, got %d", cfg.Backend.Port)
	}
	if cfg.Backend.SettingsModule != "slr_project.settings" {
		t.Errorf("Expected env-overridden settings module, got %s", cfg.Backend.SettingsModule)
	}
	if cfg.Probe.MaxAttempts != 3 {
		t.Errorf("Expected env-overridden attempts 3, got %d", cfg.Probe.MaxAttempts)
	}
	if cfg.Launcher.GracePeriod != models.Duration(time.Second) {
		t.Errorf("Expected grace period 1s, got %v", time.Duration(cfg.Launcher.GracePeriod))
	}
}

func TestEnvOverridesIgnoreBareNames(t *testing.T) {
	// Generic variables that happen to exist in the environment must not leak
	// into the configuration; only FACTUDESK_-prefixed keys apply.
	t.Setenv("PORT", "1234")
	t.Setenv("HOST", "10.0.0.1")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Backend.Port != 8000 {
		t.Errorf("Bare PORT leaked into config: %d", cfg.Backend.Port)
	}
	if cfg.Backend.Host != "127.0.0.1" {
		t.Errorf("Bare HOST leaked into config: %s", cfg.Backend.Host)
	}
}

func TestSaveAndReload(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "factudesk-config-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := DefaultConfig()
	cfg.Backend.Port = 8123

	path := filepath.Join(tmpDir, "config.json")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if loaded.Backend.Port != 8123 {
		t.Errorf("Expected port 8123 after reload, got %d", loaded.Backend.Port)
	}
}
