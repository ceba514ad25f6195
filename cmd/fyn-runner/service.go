package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"

	"github.com/fyn-tech/fyn-runner/internal/config"
	"github.com/fyn-tech/fyn-runner/internal/hardware"
)

// stopWait bounds how long `service stop` waits for the daemon to exit
// after signalling it.
const stopWait = 5 * time.Second

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service {start|stop|status}",
		Short: "Manage the runner daemon process",
		Args:  cobra.MinimumNArgs(1),
		// Trailing arguments after the action are forwarded to the spawned
		// `run` invocation rather than rejected.
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "start":
				return serviceStart(args[1:])
			case "stop":
				return serviceStop()
			case "status":
				return serviceStatus()
			default:
				return fmt.Errorf("unknown service action %q (want start, stop, or status)", args[0])
			}
		},
	}
	return cmd
}

// serviceStart detaches a new session running `fyn-runner run`.
func serviceStart(passthrough []string) error {
	if proc := findRunnerProcess(); proc != nil {
		fmt.Println("Daemon service is already running")
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable path: %w", err)
	}

	cmd := exec.Command(self, append([]string{"run"}, passthrough...)...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	fmt.Println("Daemon service started.")
	return nil
}

func serviceStop() error {
	proc := findRunnerProcess()
	if proc == nil {
		fmt.Println("Daemon service is not running")
		return nil
	}

	if err := proc.Terminate(); err != nil {
		return fmt.Errorf("signalling daemon: %w", err)
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if running, _ := proc.IsRunning(); !running {
			fmt.Println("Daemon service stopped.")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", stopWait)
}

func serviceStatus() error {
	proc := findRunnerProcess()
	if proc == nil {
		fmt.Println("Daemon service is not running")
		return nil
	}

	fmt.Printf("Daemon is running (PID: %d)\n", proc.Pid)
	if createTime, err := proc.CreateTime(); err == nil {
		fmt.Printf("  Started: %s\n", time.UnixMilli(createTime).Format(time.RFC3339))
	}

	var hw config.HardwareInventory = hardware.New()
	if cpuPct, err := hw.ProcessCPUPercent(int(proc.Pid)); err == nil {
		fmt.Printf("  CPU: %.1f%%\n", cpuPct)
	}
	if rss, err := hw.ProcessRSSBytes(int(proc.Pid)); err == nil {
		fmt.Printf("  Memory: %.1f MB\n", float64(rss)/1024/1024)
	}
	return nil
}

// findRunnerProcess scans live processes for a fyn-runner daemon invoked as
// `fyn-runner run`.
func findRunnerProcess() *process.Process {
	pids, err := process.Pids()
	if err != nil {
		return nil
	}
	for _, pid := range pids {
		if int(pid) == os.Getpid() {
			continue
		}
		p, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		cmdline, err := p.CmdlineSlice()
		if err != nil || len(cmdline) < 2 {
			continue
		}
		joined := strings.Join(cmdline, " ")
		if strings.Contains(joined, "fyn-runner") && containsArg(cmdline, "run") {
			return p
		}
	}
	return nil
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
