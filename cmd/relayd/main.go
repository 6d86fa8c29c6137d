package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/realmkit/relayd/internal/app"
	"github.com/realmkit/relayd/internal/config"
	"github.com/realmkit/relayd/internal/log"
)

const version = "1.2.0"

func main() {
	var (
		configPath string
		logLevel   string
		logFile    string
		addr       string
		port       int
	)

	root := &cobra.Command{
		Use:     "relayd",
		Short:   "Authoritative relay server for a shared multiplayer realm",
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger, _, err := log.New(logLevel, "")
			if err != nil {
				return err
			}

			cfg, err := config.Load(bootLogger, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("addr") {
				cfg.Address = addr
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("log-file") {
				cfg.LogFile = logFile
			}

			logger, closeLog, err := log.New(logLevel, cfg.LogFile)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, version, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("version", version).Msg("starting relayd")
			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to the key=value config file")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&logFile, "log-file", "", "log file path (overrides config)")
	root.Flags().StringVar(&addr, "addr", "", "bind address (overrides config)")
	root.Flags().IntVar(&port, "port", config.DefaultPort, "listen port (overrides config)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
