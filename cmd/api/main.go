package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/app"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/config"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/middleware"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()
	a.StartMetrics()

	// Generate once so the first request does not pay for discovery
	tests, err := a.Manager.ListTests(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to generate tests")
	}
	logger.Infof("Generated %d tests", len(tests))

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(newAPI(a), logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	{
		// Generated matrix
		v1.GET("/tests", api.listTests)
		v1.GET("/tests/:classname", api.getTest)
		v1.GET("/assets", api.listAssets)
		v1.GET("/generators", api.listGenerators)

		// Known issues
		v1.GET("/blacklist", api.listBlacklist)
		v1.GET("/pending", api.listPending)

		// Published runs
		v1.POST("/runs", api.publishRun)
		v1.GET("/runs", api.listRuns)
		v1.GET("/runs/:id", api.getRun)
		v1.GET("/runs/:id/tests", api.getRunTests)
		v1.GET("/runs/:id/tests/:classname", api.getRunTest)
		v1.DELETE("/runs/:id", api.deleteRun)
	}

	return router
}
