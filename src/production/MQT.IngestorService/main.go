package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/health"
	container "github.com/cornellpepper/CuWatch-server/src/production/MQT.Container"
	mqtingestor "github.com/cornellpepper/CuWatch-server/src/production/MQT.Ingestor"
	mqtmetrics "github.com/cornellpepper/CuWatch-server/src/production/MQT.Metrics"
	telemetry "github.com/cornellpepper/CuWatch-server/src/production/MQT.Telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewIngestorContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting MQTT Ingestor Service")

	// Get configuration
	config := ctr.GetConfig()

	// Open storage and bootstrap its schema
	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := ctr.GetStore(initCtx)
	cancel()
	if err != nil {
		logger.FatalWithError(err, "Failed to open storage")
	}

	registry := ctr.GetRegistry()
	obs := mqtmetrics.NewPromObs(registry)

	engine := telemetry.NewEngine(store, clockwork.NewRealClock(), logger)
	engine.AddRateReporter(obs)

	influx := mqtmetrics.NewInfluxReporter(config.Influx, logger)
	if influx.Enabled() {
		engine.AddRateReporter(influx)
		ctr.AddCleanupFunc(func() error {
			influx.Close()
			return nil
		})
		logger.Info("Mirroring device rates to InfluxDB")
	}

	ing := mqtingestor.New(config, engine, logger)
	ing.SetObserver(obs)

	checker := ctr.GetHealthChecker()
	checker.Register("mqtt", health.ConnectedCheck("mqtt", ing.IsConnected))

	srv := &http.Server{
		Addr:         ":" + config.Server.Port,
		Handler:      healthMux(checker, registry),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Workers drain with their own context so queued messages still get stored on shutdown
	if err := ing.Start(context.WithoutCancel(ctx)); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT ingestor")
	}

	g.Go(func() error {
		logger.Info("Health server starting on port " + config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		ing.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("MQTT ingestor running... press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		logger.ErrorWithError(err, "Ingestor stopped with error")
	}
}

// healthMux serves /health and /metrics for the ingestor
func healthMux(checker *health.HealthChecker, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := checker.GetHealthStatus(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status["status"] == "ok" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
