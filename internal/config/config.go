// Package config loads and saves the runner's YAML configuration file: a
// typed struct tree decoded with the YAML library, flags and env vars
// layered on top in cmd/fyn-runner.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel is one of the levels accepted by the logging section.
type LogLevel string

const (
	LogLevelDebug    LogLevel = "DEBUG"
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARNING"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
)

func (l LogLevel) valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical:
		return true
	}
	return false
}

// Logging configures the runner's logger.
type Logging struct {
	Level         LogLevel `yaml:"level"`
	Develop       bool     `yaml:"develop"`
	RetentionDays int      `yaml:"retention_days"`
}

// FileManager configures the runner's on-disk working directories. This
// section only carries the configuration the file manager is constructed
// from.
type FileManager struct {
	WorkingDirectory    string `yaml:"working_directory"`
	SimulationDirectory string `yaml:"simulation_directory"`
}

// resolve makes SimulationDirectory absolute, relative to WorkingDirectory.
func (f *FileManager) resolve() {
	if f.SimulationDirectory == "" {
		f.SimulationDirectory = "simulations"
	}
	if !filepath.IsAbs(f.SimulationDirectory) {
		f.SimulationDirectory = filepath.Join(f.WorkingDirectory, f.SimulationDirectory)
	}
}

// ServerProxy configures the connection to the control plane.
type ServerProxy struct {
	Name           string `yaml:"name"`
	ID             string `yaml:"id"`
	Token          string `yaml:"token"`
	APIURL         string `yaml:"api_url"`
	APIPort        int    `yaml:"api_port"`
	ReportInterval int    `yaml:"report_interval"` // seconds
}

// ReportIntervalDuration returns ReportInterval as a time.Duration.
func (s ServerProxy) ReportIntervalDuration() time.Duration {
	return time.Duration(s.ReportInterval) * time.Second
}

// Config is the root of the runner's YAML configuration file.
type Config struct {
	Logging     Logging     `yaml:"logging"`
	FileManager FileManager `yaml:"file_manager"`
	ServerProxy ServerProxy `yaml:"server_proxy"`
}

// Default returns a Config populated with the runner's defaults.
func Default() Config {
	return Config{
		Logging: Logging{
			Level:         LogLevelInfo,
			Develop:       false,
			RetentionDays: 30,
		},
		FileManager: FileManager{
			WorkingDirectory:    defaultWorkingDirectory(),
			SimulationDirectory: "simulations",
		},
		ServerProxy: ServerProxy{
			Name:           "unnamed_runner",
			APIURL:         "https://api.fyn-tech.com",
			APIPort:        443,
			ReportInterval: 600,
		},
	}
}

func defaultWorkingDirectory() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".fyn-runner")
	}
	return ".fyn-runner"
}

// Load reads and validates the YAML config file at path. Unknown top-level
// or nested keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid %s: %w", path, err)
	}

	cfg.FileManager.resolve()
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("config: failed to create directory for %s: %w", path, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: failed to marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return nil
}

// Validate checks invariants not expressible as YAML schema constraints.
func (c Config) Validate() error {
	if !c.Logging.Level.valid() {
		return fmt.Errorf("logging.level %q is not one of DEBUG, INFO, WARNING, ERROR, CRITICAL", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days must be >= 0")
	}
	if c.ServerProxy.ID == "" {
		return fmt.Errorf("server_proxy.id is required")
	}
	if c.ServerProxy.Token == "" {
		return fmt.Errorf("server_proxy.token is required")
	}
	if c.ServerProxy.APIPort < 1 || c.ServerProxy.APIPort > 65535 {
		return fmt.Errorf("server_proxy.api_port must be in [1, 65535]")
	}
	if len(c.ServerProxy.APIURL) < 8 || c.ServerProxy.APIURL[:8] != "https://" {
		return fmt.Errorf("server_proxy.api_url must use https")
	}
	return nil
}
