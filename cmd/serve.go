package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"manifest/internal/config"
	"manifest/internal/logger"
	"manifest/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Manifest HTTP API server",
	Long: `Start the HTTP server exposing ingest, search and pack endpoints.

Example:
  manifest serve
  manifest serve --port 9090`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Get()
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}

		srv := server.New(newPipeline(), cfg.Server)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if err != nil {
				logger.Error("Server failed", err)
				os.Exit(1)
			}
		case sig := <-sigCh:
			logger.Info("Received shutdown signal", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("Shutdown failed", err)
				os.Exit(1)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "Override the configured listen port")
}
