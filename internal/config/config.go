// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/factudesk/factudesk/pkg/models"
)

const envPrefix = "factudesk"

// Config holds the application configuration.
type Config struct {
	Backend  BackendConfig  `json:"backend" yaml:"backend"`
	Probe    ProbeConfig    `json:"probe" yaml:"probe"`
	Shell    ShellConfig    `json:"shell" yaml:"shell"`
	Launcher LauncherConfig `json:"launcher" yaml:"launcher"`
}

// BackendConfig describes how to locate and spawn the billing backend.
// Environment override keys follow the struct nesting, so Host here is
// FACTUDESK_BACKEND_HOST.
type BackendConfig struct {
	Host           string          `json:"host" yaml:"host"`
	Port           int             `json:"port" yaml:"port"`
	WorkDir        string          `json:"work_dir" yaml:"work_dir" split_words:"true"`
	SettingsModule string          `json:"settings_module" yaml:"settings_module" split_words:"true"`
	// Interpreter, when set, is used as-is and candidate probing is skipped.
	Interpreter  string   `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	Interpreters []string `json:"interpreters" yaml:"interpreters"`
	// Args replaces the standard manage.py runserver command line.
	Args           []string        `json:"args,omitempty" yaml:"args,omitempty"`
	VersionTimeout models.Duration `json:"version_timeout" yaml:"version_timeout" split_words:"true"`
	MarkerSettle   models.Duration `json:"marker_settle" yaml:"marker_settle" split_words:"true"`
	SpawnTimeout   models.Duration `json:"spawn_timeout" yaml:"spawn_timeout" split_words:"true"`
}

// ProbeConfig describes the readiness polling budget.
type ProbeConfig struct {
	MaxAttempts    int             `json:"max_attempts" yaml:"max_attempts" split_words:"true"`
	Interval       models.Duration `json:"interval" yaml:"interval"`
	RequestTimeout models.Duration `json:"request_timeout" yaml:"request_timeout" split_words:"true"`
	PostReadyDelay models.Duration `json:"post_ready_delay" yaml:"post_ready_delay" split_words:"true"`
}

// ShellConfig describes the local shell surface (splash/status server).
type ShellConfig struct {
	Host        string          `json:"host" yaml:"host"`
	Port        int             `json:"port" yaml:"port"`
	RevealDelay models.Duration `json:"reveal_delay" yaml:"reveal_delay" split_words:"true"`
}

// LauncherConfig holds coordinator configuration.
type LauncherConfig struct {
	StorePath    string          `json:"store_path" yaml:"store_path" split_words:"true"`
	LogDir       string          `json:"log_dir" yaml:"log_dir" split_words:"true"`
	GracePeriod  models.Duration `json:"grace_period" yaml:"grace_period" split_words:"true"`
	HistoryLimit int             `json:"history_limit" yaml:"history_limit" split_words:"true"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	appDir := filepath.Join(home, ".factudesk")

	return &Config{
		Backend: BackendConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			WorkDir:        ".",
			SettingsModule: "slr_project.settings_desktop",
			Interpreters: []string{
				"python3",
				"python",
				"/usr/local/bin/python3",
				"/usr/bin/python3",
				"/opt/homebrew/bin/python3",
			},
			VersionTimeout: models.Duration(2 * time.Second),
			MarkerSettle:   models.Duration(1 * time.Second),
			SpawnTimeout:   models.Duration(30 * time.Second),
		},
		Probe: ProbeConfig{
			MaxAttempts:    30,
			Interval:       models.Duration(1 * time.Second),
			RequestTimeout: models.Duration(2 * time.Second),
			PostReadyDelay: models.Duration(2 * time.Second),
		},
		Shell: ShellConfig{
			Host:        "127.0.0.1",
			Port:        8765,
			RevealDelay: models.Duration(800 * time.Millisecond),
		},
		Launcher: LauncherConfig{
			StorePath:    filepath.Join(appDir, "launches.json"),
			LogDir:       filepath.Join(appDir, "logs"),
			GracePeriod:  models.Duration(5 * time.Second),
			HistoryLimit: 50,
		},
	}
}

// Load loads configuration from a file (supports JSON and YAML), then applies
// FACTUDESK_* environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	baseDir := ""

	if path == "" {
		home, _ := os.UserHomeDir()
		// Try YAML first, then JSON
		yamlPath := filepath.Join(home, ".factudesk", "config.yaml")
		jsonPath := filepath.Join(home, ".factudesk", "config.json")

		if _, err := os.Stat(yamlPath); err == nil {
			path = yamlPath
			baseDir = filepath.Dir(path)
		} else if _, err := os.Stat(jsonPath); err == nil {
			path = jsonPath
			baseDir = filepath.Dir(path)
		} else {
			// No config file found, apply env overrides to the defaults.
			return applyEnv(cfg)
		}
	} else {
		baseDir = filepath.Dir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(cfg)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Detect format by extension
	isYAML := strings.HasSuffix(strings.ToLower(path), ".yaml") || strings.HasSuffix(strings.ToLower(path), ".yml")

	if isYAML {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	// Expand/resolve paths from config file relative to the config directory.
	cfg.Backend.WorkDir = resolvePath(cfg.Backend.WorkDir, baseDir)
	cfg.Launcher.StorePath = resolvePath(cfg.Launcher.StorePath, baseDir)
	cfg.Launcher.LogDir = resolvePath(cfg.Launcher.LogDir, baseDir)

	return applyEnv(cfg)
}

func applyEnv(cfg *Config) (*Config, error) {
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return cfg, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".factudesk", "config.json")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// BackendURL returns the root URL of the backend, used both as the navigation
// target and as the readiness probe target.
func (c *Config) BackendURL() string {
	return fmt.Sprintf("http://%s:%d/", c.Backend.Host, c.Backend.Port)
}

// ShellAddress returns the listen address of the shell surface server.
func (c *Config) ShellAddress() string {
	return fmt.Sprintf("%s:%d", c.Shell.Host, c.Shell.Port)
}

// expandHome expands ~ to home directory in paths.
func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	// Support "~/..." (and Windows separators just in case)
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~\\") {
		home, _ := os.UserHomeDir()
		rest := path[2:]
		return filepath.Join(home, rest)
	}
	// We intentionally don't expand "~user/..." forms.
	return path
}

// resolvePath expands ~ and resolves relative paths against baseDir.
// If baseDir is empty, relative paths are returned unchanged.
func resolvePath(value, baseDir string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	p := expandHome(value)
	if filepath.IsAbs(p) {
		return p
	}
	if baseDir == "" {
		return p
	}
	return filepath.Clean(filepath.Join(baseDir, p))
}
