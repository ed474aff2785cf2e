package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tonewire/tonewire/internal/app"
	"github.com/tonewire/tonewire/internal/config"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var storageDir string
	var debug bool

	cmd := &cobra.Command{
		Use:   "tonewired",
		Short: "Tonewire - pedalboard session daemon",
		Long: `Tonewired is the control daemon of the Tonewire pedalboard host. It
bridges the native audio engine, manages plugin instances and their
connections, keeps the current pedalboard, and serves every operation
over the service bus.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, storageDir, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to tonewire.yml (defaults apply when omitted)")
	cmd.Flags().StringVar(&storageDir, "storage-dir", "pedalboards", "pedalboard directory when no config file is given")
	cmd.Flags().BoolVar(&debug, "debug", false, "log at debug level with console output")
	return cmd
}

// buildLogger returns a production logger, or the human-readable
// development logger at debug level when debug is set.
func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(configPath, storageDir string, debug bool) error {
	logger, err := buildLogger(debug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.Default(storageDir)
	}
	if err != nil {
		return err
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	application.Shutdown(context.Background())
	return nil
}
