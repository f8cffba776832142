package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/health"
	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
	bootstrap "github.com/cornellpepper/CuWatch-server/src/production/MQT.Startup/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Container manages dependencies and their lifecycle
type Container struct {
	storageCfg config.StorageConfig
	logger     *logger.Logger

	store      *interfaces.Store
	closeStore func()

	healthChecker *health.HealthChecker
	registry      *prometheus.Registry

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions
	cleanupFuncs []func() error
}

// IngestorContainer manages dependencies for the MQTT Ingestor service
type IngestorContainer struct {
	*Container
	config *config.IngestorConfig
}

// ApiContainer manages dependencies for the API service
type ApiContainer struct {
	*Container
	config *config.ApiConfig
}

func newContainer(storage config.StorageConfig, log *logger.Logger) *Container {
	return &Container{
		storageCfg: storage,
		logger:     log,
	}
}

// NewIngestorContainer creates a new container for the MQTT Ingestor service
func NewIngestorContainer() (*IngestorContainer, error) {
	// Load ingestor-specific configuration
	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load ingestor configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("ingestor")

	return &IngestorContainer{
		Container: newContainer(cfg.Storage, log),
		config:    cfg,
	}, nil
}

// NewApiContainer creates a new container for the API service
func NewApiContainer() (*ApiContainer, error) {
	// Load API-specific configuration
	cfg, err := config.LoadApiConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load API configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("api")

	return &ApiContainer{
		Container: newContainer(cfg.Storage, log),
		config:    cfg,
	}, nil
}

// GetConfig returns the ingestor configuration
func (c *IngestorContainer) GetConfig() *config.IngestorConfig {
	return c.config
}

// GetConfig returns the API configuration
func (c *ApiContainer) GetConfig() *config.ApiConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetStore opens the configured storage backend on first use
func (c *Container) GetStore(ctx context.Context) (interfaces.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		store, closeFn, err := bootstrap.OpenStore(ctx, &c.storageCfg)
		if err != nil {
			return interfaces.Store{}, fmt.Errorf("failed to open %s storage: %w", c.storageCfg.Driver, err)
		}
		c.store = &store
		c.closeStore = closeFn
		c.logger.Logger.Info().Str("driver", c.storageCfg.Driver).Msg("Storage initialized successfully")
	}

	return *c.store, nil
}

// GetHealthChecker returns the health checker, with the storage check
// registered once the store is open
func (c *Container) GetHealthChecker() *health.HealthChecker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthChecker == nil {
		c.healthChecker = health.NewHealthChecker()
	}
	if c.store != nil {
		c.healthChecker.Register("storage", c.store.Ping)
	}
	return c.healthChecker
}

// GetRegistry returns the prometheus registry shared by the service's collectors
func (c *Container) GetRegistry() *prometheus.Registry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry == nil {
		c.registry = prometheus.NewRegistry()
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c.registry
}

// HealthCheck performs a comprehensive health check
func (c *Container) HealthCheck(ctx context.Context) map[string]interface{} {
	return c.GetHealthChecker().GetHealthStatus(ctx)
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	closeStore := c.closeStore
	c.closeStore = nil
	c.mu.Unlock()

	// Execute cleanup functions in reverse order
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	// Storage goes last; cleanups may still flush through it
	if closeStore != nil {
		closeStore()
	}

	c.logger.Info("Container shutdown complete")
	return c.logger.Close()
}
