// Package main is the entry point for the fyn-runner daemon. It wires the
// config, logging, file manager, server proxy, and job manager packages
// together behind the install, uninstall, run, and service subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fyn-runner",
		Short: "Fyn-Runner — compute runner agent for the Fyn-Tech control plane",
		Long: `Fyn-Runner is a long-running daemon that registers with the Fyn-Tech
control plane, accepts simulation jobs, executes them as local subprocesses,
uploads results, and stays responsive to control commands streamed from the
server.`,
		SilenceUsage: true,
	}

	root.AddCommand(newInstallCmd())
	root.AddCommand(newUninstallCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newServiceCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fyn-runner %s (commit: %s)\n", version, commit)
		},
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
