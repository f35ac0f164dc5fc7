package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/config"
	"carbon-scribe/vericarbon-engine/internal/engine"
	"carbon-scribe/vericarbon-engine/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start engine", zap.Error(err))
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Warn("Engine shutdown reported errors", zap.Error(err))
		}
		logger.Info("Server exiting")
	}()

	if err := e.Start(); err != nil {
		return fmt.Errorf("failed to start background workers: %w", err)
	}

	router := server.NewRouter(e, server.NewResolver(cfg.Security), logger)
	srv := server.New(cfg.Server, router)

	return server.Run(ctx, srv, cfg.Server.ShutdownTimeout, logger)
}
