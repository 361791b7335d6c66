package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slateboard/internal/core/board"
	"slateboard/internal/core/ports"
	httphandlers "slateboard/internal/handlers/http"
	"slateboard/internal/infrastructure/identity"
	"slateboard/internal/infrastructure/middleware"
	"slateboard/internal/infrastructure/monitoring"
	"slateboard/internal/infrastructure/repositories"
	"slateboard/internal/infrastructure/signal"
	"slateboard/pkg/config"
	"slateboard/pkg/logger"
	"slateboard/pkg/tracing"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/slateboard/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Storage
	storeFactory, err := repositories.NewStoreFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create store factory", "error", err)
	}
	defer storeFactory.Close()

	boardStore := storeFactory.CreateBoardStore()
	historyStore := storeFactory.CreateHistoryStore()

	// Identity
	var identityProvider ports.IdentityProvider
	var googleProvider *identity.GoogleProvider
	switch cfg.Identity.Mode {
	case "google":
		googleProvider = identity.NewGoogleProvider(
			cfg.Identity.UserinfoURL,
			cfg.Identity.Timeout,
			cfg.Identity.CacheTTL,
			log,
		)
		identityProvider = googleProvider
	default:
		identityProvider = identity.NewLocalProvider(cfg.Identity.JWTSecret, 0)
	}

	// Metrics
	var metrics ports.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	} else {
		metrics = board.NopMetrics()
	}

	// Engine
	registry := board.NewRegistry(boardStore, historyStore, log, metrics)
	wsServer := signal.NewWebSocketServer(registry, identityProvider, metrics, cfg, log)

	flushCtx, flushCancel := context.WithCancel(context.Background())
	defer flushCancel()
	registry.StartFlusher(flushCtx, cfg.Storage.FlushInterval)

	// Health checks
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddStoreCheck(boardStore, 30*time.Second, 5*time.Second)
	healthChecker.StartBackgroundChecks(context.Background())

	// HTTP surface
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	boardHandler := httphandlers.NewBoardHandler(registry, boardStore, historyStore, identityProvider, log)
	boardHandler.SetupRoutes(router)

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/healthz", gin.WrapF(wsServer.HealthCheck))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if !healthChecker.IsReady(ctx) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"timestamp": time.Now(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now(),
		})
	})

	// Prometheus metrics on a dedicated port
	var metricsSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler: metricsMux,
		}
		go func() {
			log.Infow("prometheus metrics listening", "port", cfg.Monitoring.PrometheusPort)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting slateboard server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down slateboard server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error shutting down metrics server", "error", err)
		}
	}

	flushCancel()
	registry.FlushAll(shutdownCtx)

	if googleProvider != nil {
		googleProvider.Stop()
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}
	if err := storeFactory.Close(); err != nil {
		log.Errorw("Error closing store factory", "error", err)
	}

	log.Info("slateboard server stopped")
}
