// spool-gateway is the HTTP front-end: it authenticates callers with
// opaque bearer tokens, maps each token to its worker host, and serves
// the long-poll terminal facade.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justinmoon/spool/internal/config"
	"github.com/justinmoon/spool/internal/gateway"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "spool-gateway",
		Short: "API gateway for spool remote execution",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("spool-gateway version %s\n", version)
		},
	}

	var serveHost string
	var servePort int

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if serveHost != "" {
				cfg.Gateway.Host = serveHost
			}
			if servePort != 0 {
				cfg.Gateway.Port = servePort
			}

			if len(cfg.Gateway.Tokens) == 0 {
				fmt.Fprintln(os.Stderr, "warning: no tokens configured; all requests will be rejected")
			}

			srv := gateway.NewServer(cfg)

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

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
