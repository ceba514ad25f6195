// Package filemanager is the default, concrete implementation of
// config.FileManagerService: the runner/cache/config/log/simulation
// directory tree, the per-job working directories under it, and the
// default-config pointer file.
//
// Per-platform base directories come from os.UserConfigDir and
// os.UserCacheDir, plus an XDG-aware helper for the data directory.
package filemanager

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appName = "fyn-runner"

// defaultConfigPathFilename is the pointer file recording the default
// config path for subsequent `run` invocations.
const defaultConfigPathFilename = "default_config_path"

// Manager creates and resolves the runner's on-disk directory structure:
// a runner data directory, a cache directory, a config directory, a log
// directory, and a simulation directory that holds one working directory
// per job.
type Manager struct {
	RunnerDir     string
	CacheDir      string
	ConfigDir     string
	LogDir        string
	SimulationDir string
}

// New creates a Manager. If workingDirectory is empty, per-platform
// default directories are used; otherwise cache/config/logs are created as
// subdirectories of workingDirectory. If simulationDirectory is empty, it
// defaults to "simulations" under the runner directory.
func New(workingDirectory, simulationDirectory string) (*Manager, error) {
	m := &Manager{}

	if workingDirectory == "" {
		runnerDir, err := userDataDir(appName)
		if err != nil {
			return nil, fmt.Errorf("filemanager: resolving default runner directory: %w", err)
		}
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("filemanager: resolving default cache directory: %w", err)
		}
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("filemanager: resolving default config directory: %w", err)
		}
		m.RunnerDir = runnerDir
		m.CacheDir = filepath.Join(cacheDir, appName)
		m.ConfigDir = filepath.Join(configDir, appName)
		m.LogDir = filepath.Join(runnerDir, "logs")
	} else {
		m.RunnerDir = workingDirectory
		m.CacheDir = filepath.Join(workingDirectory, "cache")
		m.ConfigDir = filepath.Join(workingDirectory, "config")
		m.LogDir = filepath.Join(workingDirectory, "logs")
	}

	if simulationDirectory == "" || simulationDirectory == "simulations" {
		m.SimulationDir = filepath.Join(m.RunnerDir, "simulations")
	} else {
		m.SimulationDir = simulationDirectory
	}

	return m, nil
}

// userDataDir resolves the per-platform user data directory, following the
// same XDG/AppData convention os.UserConfigDir uses for the config half of
// the pair.
func userDataDir(name string) (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch {
	case os.Getenv("APPDATA") != "":
		return filepath.Join(os.Getenv("APPDATA"), name), nil
	default:
		return filepath.Join(home, ".local", "share", name), nil
	}
}

// InitDirectories creates the runner's directory tree. When runnerExistsOK
// or simExistsOK is false, the corresponding directory must not already
// exist — install rejects reinstalling over a live runner, while the
// simulation directory tolerates reuse.
func (m *Manager) InitDirectories(runnerExistsOK, simExistsOK bool) error {
	for _, dir := range []string{m.RunnerDir, m.CacheDir, m.ConfigDir, m.LogDir} {
		if err := mkdir(dir, runnerExistsOK); err != nil {
			return err
		}
	}
	return mkdir(m.SimulationDir, simExistsOK)
}

func mkdir(dir string, existsOK bool) error {
	if !existsOK {
		if _, err := os.Stat(dir); err == nil {
			return fmt.Errorf("filemanager: %s already exists", dir)
		}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("filemanager: creating %s: %w", dir, err)
	}
	return nil
}

// RemoveDirectories deletes the runner, cache, config, and log directories,
// and the simulation directory when simDelete is true or it is already
// empty (nothing is lost by tidying an empty one away).
func (m *Manager) RemoveDirectories(simDelete bool) error {
	for _, dir := range []string{m.RunnerDir, m.CacheDir, m.ConfigDir, m.LogDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("filemanager: removing %s: %w", dir, err)
		}
	}

	if simDelete {
		return os.RemoveAll(m.SimulationDir)
	}
	entries, err := os.ReadDir(m.SimulationDir)
	if err == nil && len(entries) == 0 {
		return os.RemoveAll(m.SimulationDir)
	}
	return nil
}

// WorkingDirectoryFor returns the absolute working directory for jobID,
// creating it if necessary. Rejects ids containing path separators before
// doing any directory I/O.
func (m *Manager) WorkingDirectoryFor(jobID string) (string, error) {
	if strings.ContainsAny(jobID, "/\\") {
		return "", fmt.Errorf("filemanager: job id %q must not contain a path separator", jobID)
	}

	dir := filepath.Join(m.SimulationDir, jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("filemanager: creating working directory for job %s: %w", jobID, err)
	}
	return dir, nil
}

// WriteDefaultConfigPath records path as the default config path file under
// the per-platform user config directory (the one DefaultConfigPath reads),
// consulted by subsequent `run` invocations that omit -c.
func (m *Manager) WriteDefaultConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("filemanager: resolving absolute path for %s: %w", path, err)
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("filemanager: resolving config directory: %w", err)
	}
	pointerDir := filepath.Join(configDir, appName)
	if err := os.MkdirAll(pointerDir, 0o750); err != nil {
		return fmt.Errorf("filemanager: creating config directory: %w", err)
	}
	pointer := filepath.Join(pointerDir, defaultConfigPathFilename)
	if err := os.WriteFile(pointer, []byte(abs), 0o640); err != nil {
		return fmt.Errorf("filemanager: writing default config path file: %w", err)
	}
	return nil
}

// DeleteDefaultConfigPath removes the pointer file written by
// WriteDefaultConfigPath, if present.
func (m *Manager) DeleteDefaultConfigPath() error {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("filemanager: resolving config directory: %w", err)
	}
	pointer := filepath.Join(configDir, appName, defaultConfigPathFilename)
	if err := os.Remove(pointer); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filemanager: removing default config path file: %w", err)
	}
	return nil
}

// DefaultConfigPath reads the pointer file written by WriteDefaultConfigPath
// and returns the config path it records, searching the same per-platform
// config directory a zero-value-workingDirectory Manager would use. Returns
// ("", nil) if no pointer file has ever been written.
func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("filemanager: resolving config directory: %w", err)
	}
	pointer := filepath.Join(configDir, appName, defaultConfigPathFilename)
	data, err := os.ReadFile(pointer)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("filemanager: reading default config path file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
