package main

import (
	"context"
	"log"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	"github.com/cornellpepper/CuWatch-server/src/production/MQT.Startup/health"
)

// Bootstraps the configured storage backend (tables, indexes) and exits.
// The services do the same on start; this lets deployments run it as a
// one-shot init step before scaling them out.
func main() {
	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewLogger(&cfg.Logging).WithService("startup")
	defer appLogger.Close()

	store, closeStore, err := health.OpenStore(context.Background(), &cfg.Storage)
	if err != nil {
		appLogger.FatalWithError(err, "Failed to bootstrap storage")
	}
	defer closeStore()

	if store.Ping != nil {
		if err := store.Ping(context.Background()); err != nil {
			appLogger.FatalWithError(err, "Storage is not reachable")
		}
	}

	appLogger.Logger.Info().
		Str("driver", cfg.Storage.Driver).
		Msg("Storage schema is ready")
}
