package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ada-ai/ada/internal/client"
	"github.com/ada-ai/ada/internal/config"
	"github.com/ada-ai/ada/internal/procutil"
	adaversion "github.com/ada-ai/ada/internal/version"
)

func newDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:           "daemon",
		Short:         "Daemon management commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	daemonStatusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Get daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}

	daemonStopCmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop the daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStop,
	}

	daemonCmd.AddCommand(daemonStatusCmd, daemonStopCmd)
	return daemonCmd
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newDaemonClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	status, err := c.Status(cmd.Context())
	if err != nil {
		return out.Error("Failed to get daemon status", err)
	}

	if out.jsonMode {
		return out.Print(status)
	}

	fmt.Printf("Daemon: %s (version %s, port %d)\n", status.Status, adaversion.FormatVersion(status.Version), status.Port)
	fmt.Printf("Uptime: %s\n", formatUptime(status.Uptime))

	if len(status.Modules) > 0 {
		fmt.Println("Modules:")
		for _, mod := range status.Modules {
			line := fmt.Sprintf("  %-14s %s", mod.Name, mod.State)
			if mod.Error != "" {
				line += " (" + mod.Error + ")"
			}
			fmt.Println(line)
		}
	}

	if status.Conversation != nil {
		fmt.Printf("Conversation queue: %d pending\n", status.Conversation.QueueDepth)
	}
	if status.Bus != nil {
		fmt.Printf("Bus: %d published, %d delivered, %d handler failures\n",
			status.Bus.Published, status.Bus.Delivered, status.Bus.HandlerFailures)
	}
	fmt.Printf("Websocket clients: %d\n", status.WebsocketClients)

	if warning := adaversion.CheckVersionMismatch(status.Version); warning != "" {
		fmt.Println(warning)
	}

	return nil
}

// formatUptime renders whole seconds as a duration string.
func formatUptime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return (time.Duration(seconds) * time.Second).String()
}

func daemonStop(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	var (
		apiErr      error
		apiAttempt  bool
		apiFallback bool
	)

	if c, err := newDaemonClient(); err == nil {
		apiAttempt = true
		if err := c.ShutdownDaemon(cmd.Context()); err == nil {
			return out.Success("Shutdown request sent to daemon", map[string]interface{}{
				"method": "api",
			})
		} else {
			apiErr = err
			if errors.Is(err, client.ErrShutdownUnavailable) {
				apiFallback = true
			}
		}
	} else {
		apiErr = err
	}

	// No reachable API, fall back to signalling the recorded PID.
	paths := config.GetInstancePaths(flagHome)
	data, err := os.ReadFile(paths.PID)
	if err != nil {
		if apiAttempt {
			return out.Error("Failed to stop daemon via API and local fallback", fmt.Errorf("%v; %w", apiErr, err))
		}
		return out.Error("Failed to read daemon PID", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return out.Error("Invalid daemon PID file", err)
	}

	if err := procutil.TerminateByPID(pid); err != nil {
		return out.Error("Failed to signal daemon", err)
	}

	return out.Success("Sent termination signal to daemon", map[string]interface{}{
		"pid":          pid,
		"method":       "signal",
		"api_fallback": apiFallback || apiErr != nil,
	})
}
