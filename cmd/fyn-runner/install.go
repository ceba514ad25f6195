package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/config"
	"github.com/fyn-tech/fyn-runner/internal/filemanager"
	"github.com/fyn-tech/fyn-runner/internal/rlog"
	"github.com/fyn-tech/fyn-runner/internal/serverproxy"
)

// install drives the interactive setup sequence: name the runner,
// bootstrap directories, register with the server, save the config,
// optionally enable auto-start.
func newInstallCmd() *cobra.Command {
	var useDefaults bool
	var apiURL string
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Interactively configure and register a new runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), os.Stdin, useDefaults, apiURL, autoStart)
		},
	}

	cmd.Flags().BoolVar(&useDefaults, "use-defaults", false, "skip interactive prompts and accept defaults")
	cmd.Flags().StringVar(&apiURL, "api-url", envOrDefault("FYN_RUNNER_API_URL", "https://api.fyn-tech.com"), "control plane base URL")
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "register the runner to start automatically on login")

	return cmd
}

func runInstall(ctx context.Context, stdin *os.File, useDefaults bool, apiURL string, autoStart bool) error {
	fmt.Println("Welcome to the Fynbos Technologies Runner, Fyn-Runner, installation!")
	fmt.Println("Beginning setup...")

	reader := bufio.NewReader(stdin)

	name := "unnamed_runner"
	if !useDefaults {
		fmt.Print("Enter name of this runner (recommended to use registration name): ")
		line, _ := reader.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			name = trimmed
		}
	}

	cfg := config.Default()
	cfg.ServerProxy.Name = name
	cfg.ServerProxy.ID = uuid.NewString()
	cfg.ServerProxy.Token = uuid.NewString()
	cfg.ServerProxy.APIURL = apiURL

	fmt.Println("Setting up runner install directory...")
	files, err := filemanager.New(cfg.FileManager.WorkingDirectory, cfg.FileManager.SimulationDirectory)
	if err != nil {
		return fmt.Errorf("resolving install directories: %w", err)
	}
	if err := files.InitDirectories(false, true); err != nil {
		return fmt.Errorf("creating install directories: %w\naborting setup", err)
	}
	fmt.Println("completed")

	logger, err := rlog.Build(files.LogDir, cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	fmt.Println("Attempting to contact Fyn-Tech server and register runner...")
	proxy := serverproxy.New(serverproxy.Config{
		APIURL:         cfg.ServerProxy.APIURL,
		APIPort:        cfg.ServerProxy.APIPort,
		RunnerID:       cfg.ServerProxy.ID,
		Token:          cfg.ServerProxy.Token,
		ReportInterval: cfg.ServerProxy.ReportIntervalDuration(),
	}, logger, nil)

	go proxy.Run(ctx)
	registerCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	reg, err := proxy.RunnerAPI().Register(registerCtx, name)
	cancel()
	if err != nil {
		_ = files.RemoveDirectories(true)
		return fmt.Errorf("registering with remote server: %w\naborting setup", err)
	}
	if reg.Name != "" {
		cfg.ServerProxy.Name = reg.Name
	}
	if reg.Token != "" {
		cfg.ServerProxy.Token = reg.Token
	}
	fmt.Println("completed")

	configPath := filepath.Join(files.ConfigDir, cfg.ServerProxy.Name+".yaml")
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	if err := files.WriteDefaultConfigPath(configPath); err != nil {
		return fmt.Errorf("recording default config path: %w", err)
	}

	if !useDefaults && !autoStart {
		fmt.Print("Add Fyn-Runner to startup apps [y/n]: ")
		line, _ := reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		autoStart = answer == "y" || answer == "yes"
	}

	if autoStart {
		if err := setupAutoStart(); err != nil {
			fmt.Printf("Warning: could not enable auto-start: %v\n", err)
			fmt.Println("You can manually enable auto-start later.")
		} else {
			fmt.Println("Auto-start enabled successfully.")
		}
	}

	fmt.Println("Setup completed successfully.")
	logger.Info("install completed", zap.String("config_path", configPath))
	return nil
}

func newUninstallCmd() *cobra.Command {
	var configPath string
	var removeSimulations bool

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Deregister this runner and remove its local state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUninstall(cmd.Context(), configPath, removeSimulations)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the runner's YAML config file")
	cmd.Flags().BoolVar(&removeSimulations, "remove-simulations", false, "also delete the simulation directory (potential to lose data!)")

	return cmd
}

// runUninstall reverses runInstall: deregister from the server, remove the
// directory tree, and drop the default-config pointer file. Each step is
// best-effort — a failed deregistration must not strand the local state, and
// vice versa.
func runUninstall(ctx context.Context, configPath string, removeSimulations bool) error {
	if configPath == "" {
		discovered, err := filemanager.DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("resolving default config path: %w", err)
		}
		if discovered == "" {
			return fmt.Errorf("no configuration file found: pass -c")
		}
		configPath = discovered
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}

	files, err := filemanager.New(cfg.FileManager.WorkingDirectory, cfg.FileManager.SimulationDirectory)
	if err != nil {
		return fmt.Errorf("resolving runner directories: %w", err)
	}

	logger, err := rlog.Build(files.LogDir, cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	fmt.Println("Beginning uninstall...")

	fmt.Println("Attempting to deregister runner with Fyn-Tech server...")
	proxy := serverproxy.New(serverproxy.Config{
		APIURL:         cfg.ServerProxy.APIURL,
		APIPort:        cfg.ServerProxy.APIPort,
		RunnerID:       cfg.ServerProxy.ID,
		Token:          cfg.ServerProxy.Token,
		ReportInterval: cfg.ServerProxy.ReportIntervalDuration(),
	}, logger, nil)

	proxyCtx, cancelProxy := context.WithCancel(ctx)
	go proxy.Run(proxyCtx)
	deregCtx, cancelDereg := context.WithTimeout(ctx, 10*time.Second)
	err = proxy.RunnerAPI().Deregister(deregCtx)
	cancelDereg()
	cancelProxy()
	if err != nil {
		fmt.Printf("Error deregistering with remote server: %v\n", err)
		fmt.Println("Manual removal of the remote runner, through the web UI, is required.")
		logger.Warn("deregistration failed", zap.Error(err))
	} else {
		fmt.Println("completed")
	}

	fmt.Println("Removing runner directories...")
	if err := files.RemoveDirectories(removeSimulations); err != nil {
		fmt.Printf("Error while removing runner directories: %v\n", err)
		fmt.Println("Manual removal of directories required.")
	} else if err := files.DeleteDefaultConfigPath(); err != nil {
		fmt.Printf("Error while removing default config pointer: %v\n", err)
	} else {
		fmt.Println("completed")
	}

	fmt.Println("Uninstall completed.")
	return nil
}

// setupAutoStart registers fyn-runner to start on login. The concrete
// per-platform mechanism (systemd/launchd/Task Scheduler) is not shipped in
// this build; only the dispatch-by-platform shape is here.
func setupAutoStart() error {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		return fmt.Errorf("auto-start registration for %s is not implemented by this build", runtime.GOOS)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}
