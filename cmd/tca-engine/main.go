package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torsightlabs/torsight-tca/internal/api"
	"github.com/torsightlabs/torsight-tca/internal/cache"
	"github.com/torsightlabs/torsight-tca/internal/config"
	"github.com/torsightlabs/torsight-tca/internal/engine"
	"github.com/torsightlabs/torsight-tca/internal/metrics"
	"github.com/torsightlabs/torsight-tca/internal/services"
	"github.com/torsightlabs/torsight-tca/internal/store"
	"github.com/torsightlabs/torsight-tca/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting torsight-tca", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyOptions{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, continuing without it", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	db, err := store.Open(cfg.Storage.Path, logger)
	if err != nil {
		logger.Error("failed to open storage", slog.String("path", cfg.Storage.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	db.AttachCache(cacheProvider, cfg.Cache.CatalogTTL, cfg.Cache.StatsTTL)

	policy, err := engine.LoadSelectionPolicy(cfg.Policy.Path, logger)
	if err != nil {
		logger.Error("failed to load selection policy", slog.Any("error", err))
		os.Exit(1)
	}

	pipeline := engine.NewPipeline(logger, db, db, engine.NewCircuitReconstructor(policy, logger))

	analysisService := services.NewAnalysisService(logger, pipeline, db, services.WindowBounds{
		Default: cfg.Engine.DefaultTimeWindowSeconds,
		Min:     cfg.Engine.MinTimeWindowSeconds,
		Max:     cfg.Engine.MaxTimeWindowSeconds,
	})
	inventoryService := services.NewInventoryService(logger, db)

	handler := api.NewHandler(logger, analysisService, inventoryService, db)
	server, err := api.NewServer(cfg.Server.Address, handler.Routes(), logger)
	if err != nil {
		logger.Error("failed to bind listener", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	time.Sleep(100 * time.Millisecond)
	logger.Info("torsight-tca stopped")
}
