package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"passpredict/config"
	"passpredict/db"
	phttp "passpredict/http"
	"passpredict/inference"
	"passpredict/logger"
	"passpredict/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Load config
	path := config.ResolvePath(flag.CommandLine, "config")
	cfg, err := config.Load(path)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log, level := logger.New(cfg.Log)
	defer log.Sync()
	if path == "" {
		log.Info("config file not found, using defaults and environment", zap.String("path", *configPath))
	}

	// 2. Load schema and model
	schema, model, err := inference.LoadModel(cfg)
	if err != nil {
		log.Fatal("failed to load model", zap.Error(err))
	}
	log.Info("model loaded",
		zap.String("type", model.Kind()),
		zap.String("path", cfg.Model.Path),
		zap.Int("features", schema.Len()))

	// 3. Optional prediction audit log
	opts := []inference.Option{
		inference.WithCache(cfg.Cache.Size),
		inference.WithLogger(log),
	}
	var store *db.Store
	if cfg.Database.Path != "" {
		store, err = db.Open(cfg.Database.Path)
		if err != nil {
			log.Fatal("failed to open database", zap.Error(err))
		}
		opts = append(opts, inference.WithRecorder(store))
		log.Info("prediction audit enabled", zap.String("path", cfg.Database.Path))
	}

	predictor, err := inference.NewPredictor(schema, model, opts...)
	if err != nil {
		log.Fatal("failed to create predictor", zap.Error(err))
	}

	metrics := monitoring.NewMetricsCollector()
	var meterProvider *sdkmetric.MeterProvider
	if cfg.Metrics.ExportInterval > 0 {
		meterProvider, err = monitoring.NewMeterProvider("passpredict", cfg.Metrics.ExportInterval, os.Stdout)
		if err != nil {
			log.Fatal("failed to create meter provider", zap.Error(err))
		}
		otel.SetMeterProvider(meterProvider)
		if err := metrics.InstallMeter(meterProvider.Meter("passpredict/monitoring")); err != nil {
			log.Fatal("failed to install metrics", zap.Error(err))
		}
	}

	api := &phttp.API{
		Predictor: predictor,
		Metrics:   metrics,
		Logger:    log,
	}
	if store != nil {
		api.Audit = store
	}

	// 4. Start HTTP server
	server := phttp.NewServer(phttp.ServerConfig{
		Port:           cfg.Http.Port,
		ReadTimeout:    cfg.Http.ReadTimeout,
		WriteTimeout:   cfg.Http.WriteTimeout,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, api, log)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if path != "" {
		err := config.Watch(ctx, path, log, func(updated *config.Config) {
			level.SetLevel(logger.ParseLevel(updated.Log.Level))
		})
		if err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	err = server.Stop()
	if store != nil {
		err = multierr.Append(err, store.Close())
	}
	if meterProvider != nil {
		err = multierr.Append(err, meterProvider.Shutdown(context.Background()))
	}
	err = multierr.Append(err, model.Close())
	if err != nil {
		log.Error("shutdown finished with errors", zap.Error(err))
	}

	log.Info("exiting")
}
