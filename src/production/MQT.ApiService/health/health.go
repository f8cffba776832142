package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Check probes one dependency; a nil error means healthy
type Check func(ctx context.Context) error

// HealthChecker aggregates dependency checks into one status document
type HealthChecker struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Check
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]Check)}
}

// Register adds a named check; a nil check is skipped
func (h *HealthChecker) Register(name string, check Check) {
	if check == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

// ConnectedCheck adapts a connection flag such as an MQTT client's
func ConnectedCheck(what string, connected func() bool) Check {
	return func(context.Context) error {
		if !connected() {
			return fmt.Errorf("%s not connected", what)
		}
		return nil
	}
}

// Healthy runs every check and reports whether all passed
func (h *HealthChecker) Healthy(ctx context.Context) bool {
	return h.GetHealthStatus(ctx)["status"] == "ok"
}

// GetHealthStatus returns the current health status
func (h *HealthChecker) GetHealthStatus(ctx context.Context) map[string]interface{} {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h.mu.RLock()
	names := append([]string(nil), h.names...)
	checks := make(map[string]Check, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()

	results := make(map[string]interface{}, len(names))
	overallStatus := "ok"
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			overallStatus = "degraded"
			results[name] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
			continue
		}
		results[name] = map[string]interface{}{"status": "ok"}
	}

	return map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    overallStatus,
		"checks":    results,
	}
}
