package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bimmerbailey/prompthakcer/internal/server"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the optimizer and DLP scanner over HTTP",
	Long: `Run an HTTP API exposing optimization, DLP scanning, rule management
and stats under /v1, plus /health and Prometheus /metrics.

Set server.token_hash to a bcrypt hash to require a bearer token, and
server.rate_limit to cap requests per second. Changes to
compression_level in the config file are applied without a restart.

Examples:
  prompthakcer serve
  prompthakcer serve --addr 127.0.0.1:9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sink, err := a.historySink()
	if err != nil {
		a.logger.Warn("stats disabled", "error", err)
	}

	srv := server.New(a.cfg.Server, server.Deps{
		Store:    a.store,
		Sink:     sink,
		Loader:   a.loader,
		Settings: a.settings,
		Logger:   a.logger,
	})

	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			cfg, err := loadConfig()
			if err != nil {
				a.logger.Error("ignoring config change", "file", e.Name, "error", err)
				return
			}
			if cfg.CompressionLevel == "" || cfg.CompressionLevel == a.store.Level() {
				return
			}
			if err := a.store.SetCompressionLevel(cfg.CompressionLevel); err != nil {
				a.logger.Error("ignoring config change", "file", e.Name, "error", err)
				return
			}
			if err := a.save(context.Background()); err != nil {
				a.logger.Error("failed to save settings", "error", err)
			}
			a.logger.Info("compression level reloaded", "level", cfg.CompressionLevel)
		})
		viper.WatchConfig()
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()
	fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s\n", a.cfg.Server.Addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		a.logger.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			return fmt.Errorf("failed to shut down gracefully: %w", err)
		}
		return nil
	}
}
