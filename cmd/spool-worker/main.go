// spool-worker runs colocated with the shell it manages. It owns the
// host's pseudo-terminals and one-shot child processes and serves the
// execution + streaming HTTP surface the gateway consumes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justinmoon/spool/internal/config"
	"github.com/justinmoon/spool/internal/events"
	"github.com/justinmoon/spool/internal/worker"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "spool-worker",
		Short: "Worker host for spool remote execution",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("spool-worker version %s\n", version)
		},
	}

	var serveHost string
	var servePort int
	var sandboxRoot string
	var natsURL string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Override with flags if provided
			if serveHost != "" {
				cfg.Worker.Host = serveHost
			}
			if servePort != 0 {
				cfg.Worker.Port = servePort
			}
			if sandboxRoot != "" {
				cfg.Worker.SandboxRoot = sandboxRoot
			}
			if natsURL != "" {
				cfg.Worker.NatsURL = natsURL
			}

			bus, err := events.Connect(cfg.Worker.NatsURL)
			if err != nil {
				return fmt.Errorf("failed to connect event bus: %w", err)
			}

			srv, err := worker.NewServer(cfg, bus)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			// Wait for interrupt in goroutine
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				<-sigCh
				fmt.Println("\nshutting down...")
				srv.Shutdown(context.Background())
			}()

			if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
				return fmt.Errorf("server error: %w", err)
			}

			return nil
		},
	}

	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to bind (default from config)")
	serveCmd.Flags().StringVar(&sandboxRoot, "sandbox-root", "", "root of the file surface (default from config)")
	serveCmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS URL for lifecycle events (default from config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
