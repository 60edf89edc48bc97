package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/z-galaxy/busd/internal/bus"
	"github.com/z-galaxy/busd/internal/config"
	"github.com/z-galaxy/busd/internal/logger"
)

var (
	flagAddress  string
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:          `busd`,
	Long:         `busd is a message bus daemon speaking a D-Bus style protocol`,
	SilenceUsage: true,
	RunE:         run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagAddress != "" {
		cfg.Address = flagAddress
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	log := logger.New(cfg.LogLevel)

	b, err := bus.New(bus.Config{
		Address: cfg.Address,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithField("address", b.Address()).Info("Bus started")

	runErr := b.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		log.Info("Shutting down")
		runErr = nil
	}

	// Cleanup is the last shutdown step; it is never implicit.
	if err := b.Cleanup(); err != nil {
		log.WithError(err).Warn("Cleanup failed")
		if runErr == nil {
			runErr = err
		}
	}

	return runErr
}

func init() {
	rootCmd.Flags().StringVarP(&flagAddress, "address", "a", "", "bus address specification to listen on")
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
	rootCmd.Flags().StringVarP(&flagLogLevel, "log-level", "l", "", "log level (trace, debug, info, warning, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "busd: %s\n", err)
		os.Exit(1)
	}
}
