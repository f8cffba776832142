package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/controllers"
	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/health"
	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/middleware"
	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/publisher"
	container "github.com/cornellpepper/CuWatch-server/src/production/MQT.Container"
	livestream "github.com/cornellpepper/CuWatch-server/src/production/MQT.LiveStream"
	mqtmetrics "github.com/cornellpepper/CuWatch-server/src/production/MQT.Metrics"
	telemetry "github.com/cornellpepper/CuWatch-server/src/production/MQT.Telemetry"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewApiContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting API Service")

	// Get configuration
	config := ctr.GetConfig()

	// Open storage
	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := ctr.GetStore(initCtx)
	cancel()
	if err != nil {
		logger.FatalWithError(err, "Failed to open storage")
	}

	query := telemetry.NewQueryService(store, nil, config.Query)

	// Live feed from the broker
	stream := livestream.NewStream(config.Query.LiveBuffer)
	subscriber := livestream.NewSubscriber(config.MQTT, stream, logger)
	if err := subscriber.Start(); err != nil {
		logger.FatalWithError(err, "Failed to start live stream")
	}
	ctr.AddCleanupFunc(func() error {
		subscriber.Stop()
		return nil
	})

	// Control messages to devices
	controlPublisher, err := publisher.NewControlPublisher(config.MQTT, logger)
	if err != nil {
		logger.FatalWithError(err, "Failed to create control publisher")
	}
	ctr.AddCleanupFunc(func() error {
		controlPublisher.Close()
		return nil
	})

	checker := ctr.GetHealthChecker()
	checker.Register("mqtt", health.ConnectedCheck("mqtt", controlPublisher.IsConnected))

	registry := ctr.GetRegistry()
	httpMetrics := mqtmetrics.NewHTTPMetrics(registry)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(httpMetrics.Middleware())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		ExposeHeaders:    config.CORS.ExposedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// Create controllers and register routes
	controllers.NewDeviceController(query, logger).RegisterRoutes(router)
	controllers.NewSampleController(query, logger).RegisterRoutes(router)
	controllers.NewRateController(query, logger).RegisterRoutes(router)
	controllers.NewControlController(controlPublisher, logger).RegisterRoutes(router)
	controllers.NewHealthController(checker, registry).RegisterRoutes(router)
	controllers.NewLiveController(livestream.NewHandler(stream, logger)).RegisterRoutes(router)

	// Get port from configuration
	port := config.Server.Port

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")

		// Graceful shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("API service running... press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}
}
