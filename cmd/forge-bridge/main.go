// Command forge-bridge runs the pipeline coordination server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/forgeworks/forge-bridge/internal/config"
	"github.com/forgeworks/forge-bridge/internal/server"
	"github.com/forgeworks/forge-bridge/internal/storage"
	"github.com/forgeworks/forge-bridge/internal/storage/memory"
	"github.com/forgeworks/forge-bridge/internal/storage/postgres"
	"github.com/forgeworks/forge-bridge/internal/telemetry"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "forge-bridge",
		Short: "Coordination server for VFX pipeline tools",
		Long: `forge-bridge keeps DCC integrations in sync: one WebSocket server
holding the entity graph, the rename-safe vocabulary registry, and the
append-only event log that clients replay after reconnecting.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: environment only)")

	root.AddCommand(serveCmd(&configFile))
	root.AddCommand(versionCmd())
	return root
}

func serveCmd(configFile *string) *cobra.Command {
	var (
		host  string
		port  int
		dbURL string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("db-url") {
				cfg.DatabaseURL = dbURL
			}

			log, err := buildLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := telemetry.Init(ctx, "forge-bridge", config.Version); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				telemetry.Shutdown(shutdownCtx)
			}()

			var store storage.Store
			if cfg.DatabaseURL == "" {
				log.Warn("no database URL configured, using in-memory storage")
				store = memory.New()
			} else {
				pg, err := postgres.Open(ctx, cfg.DatabaseURL)
				if err != nil {
					return err
				}
				store = pg
			}
			defer store.Close()

			srv, err := server.New(cfg, store, log)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", config.DefaultHost, "listen address")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "listen port")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "PostgreSQL URL (empty: in-memory storage)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("forge-bridge", config.Version)
		},
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
