// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/access"
	"carbon-scribe/vericarbon-engine/internal/auth"
	"carbon-scribe/vericarbon-engine/internal/certification"
	"carbon-scribe/vericarbon-engine/internal/config"
	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/internal/engine"
	"carbon-scribe/vericarbon-engine/internal/httpx"
	"carbon-scribe/vericarbon-engine/internal/ledger"
	"carbon-scribe/vericarbon-engine/internal/market"
)

// NewResolver picks the caller resolver for the configured auth mode.
func NewResolver(cfg config.SecurityConfig) auth.Resolver {
	if cfg.AuthMode == config.AuthModeHeader {
		return auth.HeaderResolver{}
	}
	return auth.NewJWTResolver(cfg.JWTSecret)
}

// NewRouter builds the gin engine with every API route registered.
func NewRouter(e *engine.Engine, resolver auth.Resolver, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"timestamp":      time.Now().UTC(),
			"dropped_events": e.DroppedEvents(),
			"ws_connections": e.Events.ConnectionCount(),
		})
	})

	api := router.Group("/api/v1")
	api.Use(auth.Middleware(resolver, logger))
	{
		auth.NewHandler(func(a domain.Account) any { return e.Registry.Describe(a) }).RegisterRoutes(api)
		access.NewHandler(e.Registry, logger).RegisterRoutes(api)
		ledger.NewHandler(e.Ledger, e.Stable, e.CanDeposit, logger).RegisterRoutes(api)
		certification.NewHandler(e.Certification, logger).RegisterRoutes(api)
		market.NewHandler(e.Market, logger).RegisterRoutes(api)

		api.GET("/events/ws", func(c *gin.Context) {
			caller, ok := httpx.RequireCaller(c)
			if !ok {
				return
			}
			if _, err := e.Events.HandleConnection(c.Writer, c.Request, caller); err != nil {
				logger.Warn("Websocket upgrade failed", zap.String("account", caller.String()), zap.Error(err))
			}
		})
	}

	return router
}

// New wraps handler in an http.Server using the configured address and timeouts.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Run serves until ctx is cancelled, then shuts the server down within
// shutdownTimeout.
func Run(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Account, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
