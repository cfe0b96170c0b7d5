package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/gochat-relay/internal/logging"
	"github.com/Tyrowin/gochat-relay/internal/server"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "gochat",
	Short: "GoChat relay: token auth and cross-instance chat fan-out",
	Long: `GoChat issues signed session tokens and relays chat messages between
WebSocket clients connected to any number of instances sharing one broker.

Available commands:
  auth      Run the registration and login service
  chat      Run the WebSocket chat service
  all       Run both services on one listener
  migrate   Apply database migrations`,
	SilenceUsage: true,
}

func serveCmd(mode server.Mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode),
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			app, err := server.NewApp(*cfg, mode, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting gochat", "mode", mode, "addr", app.Addr())
			return app.Run(ctx)
		},
	}
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations to DATABASE_URL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := load()
		if err != nil {
			return err
		}
		return server.Migrate(cmd.Context(), *cfg, logger)
	},
}

func load() (*server.Config, *slog.Logger, error) {
	if err := server.LoadDotEnv(envFiles()...); err != nil {
		return nil, nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := server.NewConfigFromEnv()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func envFiles() []string {
	if envFile == "" {
		return nil
	}
	return []string{envFile}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (default ./.env)")
	rootCmd.AddCommand(
		serveCmd(server.ModeAuth, "Run the registration and login service"),
		serveCmd(server.ModeChat, "Run the WebSocket chat service"),
		serveCmd(server.ModeAll, "Run both services on one listener"),
		migrateCmd,
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
