package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the telbilld daemon",
	}

	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))

	return daemonCmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch telbilld in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if status, err := client.Status(cmd.Context()); err == nil && status.Running {
				fmt.Fprintln(stdout, "Daemon already running")
				return nil
			}

			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			launch := exec.Command(exe)
			launch.Stdout = nil
			launch.Stderr = nil
			if err := launch.Start(); err != nil {
				return fmt.Errorf("launch %s: %w", exe, err)
			}
			if err := launch.Process.Release(); err != nil {
				return fmt.Errorf("detach daemon process: %w", err)
			}
			fmt.Fprintln(stdout, "Daemon launching...")

			deadline := time.Now().Add(10 * time.Second)
			for time.Now().Before(deadline) {
				if status, err := client.Status(cmd.Context()); err == nil && status.Running {
					fmt.Fprintf(stdout, "Daemon started (pid %d)\n", status.PID)
					return nil
				}
				time.Sleep(250 * time.Millisecond)
			}
			fmt.Fprintln(stdout, "Start requested; daemon did not report ready within 10s")
			return nil
		},
	}
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if errors.Is(err, errDaemonUnreachable) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if status.PID <= 0 {
				return errors.New("daemon did not report a pid; stop it manually")
			}

			proc, err := os.FindProcess(status.PID)
			if err != nil {
				return fmt.Errorf("find daemon process %d: %w", status.PID, err)
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal daemon process %d: %w", status.PID, err)
			}
			fmt.Fprintf(stdout, "Stop signal sent to pid %d\n", status.PID)
			return nil
		},
	}
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if errors.Is(err, errDaemonUnreachable) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if status.Running {
				fmt.Fprintf(stdout, "Daemon running (pid %d)\n", status.PID)
			} else {
				fmt.Fprintln(stdout, "Daemon reachable but not started")
			}
			return nil
		},
	}
}

// daemonExecutable locates telbilld next to the CLI binary, falling back to
// PATH lookup.
func daemonExecutable() (string, error) {
	self, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(self), "telbilld")
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath("telbilld")
	if err != nil {
		return "", fmt.Errorf("telbilld binary not found next to %s or on PATH", strings.TrimSpace(self))
	}
	return path, nil
}
