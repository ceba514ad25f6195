package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyn-tech/fyn-runner/internal/activity"
	"github.com/fyn-tech/fyn-runner/internal/config"
	"github.com/fyn-tech/fyn-runner/internal/domain"
	"github.com/fyn-tech/fyn-runner/internal/filemanager"
	"github.com/fyn-tech/fyn-runner/internal/jobmanager"
	"github.com/fyn-tech/fyn-runner/internal/metrics"
	"github.com/fyn-tech/fyn-runner/internal/observer"
	"github.com/fyn-tech/fyn-runner/internal/process"
	"github.com/fyn-tech/fyn-runner/internal/rlog"
	"github.com/fyn-tech/fyn-runner/internal/serverproxy"
)

// defaultMaxConcurrentJobs bounds job manager concurrency; the config file
// schema has no job_manager section of its own, so this is a fixed default
// rather than a YAML-tunable value.
const defaultMaxConcurrentJobs = 4

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the runner daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the runner's YAML config file")
	return cmd
}

func runDaemon(ctx context.Context, configPath string) error {
	if configPath == "" {
		discovered, err := filemanager.DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("resolving default config path: %w", err)
		}
		if discovered == "" {
			return fmt.Errorf("no configuration file found: install the runner or pass -c")
		}
		configPath = discovered
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}

	files, err := filemanager.New(cfg.FileManager.WorkingDirectory, cfg.FileManager.SimulationDirectory)
	if err != nil {
		return fmt.Errorf("resolving file manager directories: %w", err)
	}
	if err := files.InitDirectories(true, true); err != nil {
		return fmt.Errorf("creating runner directories: %w", err)
	}

	logger, err := rlog.Build(files.LogDir, cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("fyn-runner starting",
		zap.String("version", version),
		zap.String("config", configPath),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metricsCollector := metrics.NewCollector(files.RunnerDir, logger)

	proxy := serverproxy.New(serverproxy.Config{
		APIURL:         cfg.ServerProxy.APIURL,
		APIPort:        cfg.ServerProxy.APIPort,
		RunnerID:       cfg.ServerProxy.ID,
		Token:          cfg.ServerProxy.Token,
		ReportInterval: cfg.ServerProxy.ReportIntervalDuration(),
	}, logger, metricsCollector.Collect)

	// The proxy's sender worker must be running before anything issues a
	// request through it — the job manager's construction fetches the job
	// backlog over this pipeline.
	go proxy.Run(ctx)

	startupCtx, cancelStartup := context.WithTimeout(ctx, 30*time.Second)
	err = proxy.RunnerAPI().ReportStatus(startupCtx, "idle")
	cancelStartup()
	if err != nil {
		logger.Error("cannot reach control plane", zap.Error(err))
		return fmt.Errorf("contacting control plane: %w", err)
	}

	tracker := activity.New()
	manager := jobmanager.New(ctx, proxy.JobManagerAPI(), proxy.ExecutorAPI(), files, tracker, process.NewRunner(0), logger, jobmanager.Config{
		MaxConcurrentJobs: defaultMaxConcurrentJobs,
		MaxCPU:            runtime.NumCPU(),
	})

	registerObservers(proxy.Observers(), manager, logger)

	manager.Run(ctx)

	logger.Info("fyn-runner terminating")
	return nil
}

// registerObservers installs the handlers for the server-initiated frame
// types: job termination and newly-available pending work. Both route to
// the job manager.
func registerObservers(reg *observer.Registry, manager *jobmanager.Manager, logger *zap.Logger) {
	terminate := func(_ context.Context, frame observer.Frame) (json.RawMessage, error) {
		var req struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return nil, fmt.Errorf("decoding terminate request: %w", err)
		}
		found := manager.Terminate(req.JobID)
		logger.Info("received terminate request", zap.String("job_id", req.JobID), zap.Bool("found", found))
		return json.Marshal(map[string]bool{"terminated": found})
	}
	if err := reg.Register("terminate", terminate); err != nil {
		logger.Error("failed to register terminate observer", zap.Error(err))
	}

	newJob := func(_ context.Context, frame observer.Frame) (json.RawMessage, error) {
		var job domain.Job
		if err := json.Unmarshal(frame.Data, &job); err != nil {
			return nil, fmt.Errorf("decoding new-job-available payload: %w", err)
		}
		manager.HandleNewJob(job)
		return nil, nil
	}
	if err := reg.Register("new_job_available", newJob); err != nil {
		logger.Error("failed to register new_job_available observer", zap.Error(err))
	}
}
