package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"wabridge/pkg/config"
	"wabridge/pkg/gateway"
	"wabridge/pkg/logger"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge and its control surface",
	Long:  "Connects the WhatsApp session, answers incoming messages and serves the HTTP control surface until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		cmd.SilenceUsage = true

		cfg, log, err := loadRuntime("cmd.serve")
		if err != nil {
			return err
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.New(runCtx, cfg, version, os.Stdout, log)
		if err != nil {
			log.Error("Failed to initialize bridge", "error", err)
			return err
		}

		log.Info("Bridge started",
			"model", cfg.Completion.Model,
			"port", cfg.Gateway.Port,
			"workers", cfg.Dispatch.Workers,
			"store", cfg.WhatsApp.StorePath,
		)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Bridge runtime failed", "error", err)
			return err
		}

		log.Info("Bridge stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadRuntime loads configuration and installs the process logger.
func loadRuntime(component string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return cfg, slog.Default().With("component", component), nil
}
