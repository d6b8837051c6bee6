package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ada-ai/ada/internal/config"
	configstore "github.com/ada-ai/ada/internal/config/store"
	"github.com/ada-ai/ada/internal/daemon"
	adaversion "github.com/ada-ai/ada/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagHome      string
	flagLogFile   string
	flagHTTPPort  int
	flagNoGateway bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "adad",
		Short:         "Ada daemon - runs the assistant modules and the HTTP gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = adaversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.Flags().StringVar(&flagHome, "home", "", "instance directory (default ~/.ada, env "+config.EnvHome+")")
	rootCmd.Flags().StringVar(&flagLogFile, "log-file", "", "log file path (default <home>/logs/daemon.log)")
	rootCmd.Flags().IntVar(&flagHTTPPort, "http", 0, "gateway port override (0 uses the stored setting)")
	rootCmd.Flags().BoolVar(&flagNoGateway, "no-gateway", false, "run without the HTTP gateway")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := setupLogging(flagHome, flagLogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	if running, pid := daemon.IsRunning(flagHome); running {
		return fmt.Errorf("daemon is already running (pid %d)", pid)
	}

	paths, err := config.EnsureInstanceDirs(flagHome)
	if err != nil {
		return fmt.Errorf("failed to prepare instance directories: %w", err)
	}

	store, err := configstore.Open(cmd.Context(), configstore.Options{DBPath: paths.ConfigDB})
	if err != nil {
		return fmt.Errorf("failed to open config store: %w", err)
	}

	a, err := daemon.New(daemon.Options{
		Store:           store,
		Home:            flagHome,
		GatewayDisabled: flagNoGateway,
		GatewayPort:     flagHTTPPort,
	})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create assistant: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Run closes the store on every path.
	errChan := make(chan error, 1)
	go func() {
		errChan <- a.Run(context.Background())
	}()

	log.Printf("Ada daemon started (PID: %d)", os.Getpid())
	log.Printf("Home: %s", paths.Home)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %s, shutting down...", sig)
		a.Shutdown()
		if err := <-errChan; err != nil {
			log.Printf("Error during shutdown: %v", err)
			return err
		}
	case err := <-errChan:
		if err != nil {
			log.Printf("Daemon error: %v", err)
			return err
		}
	}

	log.Println("Daemon stopped")
	return nil
}

func setupLogging(home, logPath string) error {
	paths, err := config.EnsureInstanceDirs(home)
	if err != nil {
		return fmt.Errorf("initialise instance directories: %w", err)
	}

	if logPath == "" {
		logPath = filepath.Join(paths.Logs, "daemon.log")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("=== Ada Daemon Starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", logPath)
	return nil
}
