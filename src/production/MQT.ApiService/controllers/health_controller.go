package controllers

import (
	"net/http"

	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/health"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthController handles health and metrics requests
type HealthController struct {
	checker  *health.HealthChecker
	gatherer prometheus.Gatherer
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.HealthChecker, gatherer prometheus.Gatherer) *HealthController {
	return &HealthController{
		checker:  checker,
		gatherer: gatherer,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	if c.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})))
	}
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (c *HealthController) HealthReady(ctx *gin.Context) {
	status := c.checker.GetHealthStatus(ctx)
	code := http.StatusOK
	if status["status"] != "ok" {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, status)
}
