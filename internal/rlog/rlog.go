// Package rlog builds the runner's zap logger: a timestamped per-session
// log file under the configured log directory, an optional console sink in
// develop mode, and time-based retention cleanup on startup. Log files
// rotate by time only.
package rlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyn-tech/fyn-runner/internal/config"
)

const filePrefix = "fyn_runner_"

// Build creates a *zap.Logger that writes to a new timestamped file in
// logDir, tees to stderr when cfg.Develop is set, and deletes files older
// than cfg.RetentionDays before returning. The number of files removed is
// logged at info level on the returned logger itself.
func Build(logDir string, cfg config.Logging) (*zap.Logger, error) {
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("rlog: creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("%s%s.log", filePrefix, time.Now().Format("2006-01-02_150405")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("rlog: opening log file: %w", err)
	}

	level := zapLevel(cfg.Level)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(file), level),
	}
	if cfg.Develop {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...))

	logger.Info("logger initialized", zap.String("log_path", logPath), zap.String("level", string(cfg.Level)))
	if cfg.Develop {
		logger.Info("logging in development mode")
	}

	removed, cleanupErr := cleanupOldLogs(logDir, cfg.RetentionDays)
	if cleanupErr != nil {
		logger.Error("failed to clean up old logs", zap.Error(cleanupErr))
	} else {
		logger.Info("cleaned up old log files", zap.Int("removed", removed), zap.Int("retention_days", cfg.RetentionDays))
	}

	return logger, nil
}

// cleanupOldLogs deletes every fyn_runner_*.log file in logDir whose
// modification time is older than retentionDays.
func cleanupOldLogs(logDir string, retentionDays int) (int, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return 0, fmt.Errorf("rlog: reading log directory: %w", err)
	}

	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) < len(filePrefix) || name[:len(filePrefix)] != filePrefix {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(logDir, name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func zapLevel(l config.LogLevel) zapcore.Level {
	switch l {
	case config.LogLevelDebug:
		return zapcore.DebugLevel
	case config.LogLevelInfo:
		return zapcore.InfoLevel
	case config.LogLevelWarning:
		return zapcore.WarnLevel
	case config.LogLevelError:
		return zapcore.ErrorLevel
	case config.LogLevelCritical:
		// zap has no distinct "critical" severity; map to DPanic, the level
		// above Error that does not exit via Fatal. Only DPanic and higher
		// entries are emitted; zap.Error calls are dropped.
		return zapcore.DPanicLevel
	default:
		return zapcore.InfoLevel
	}
}
