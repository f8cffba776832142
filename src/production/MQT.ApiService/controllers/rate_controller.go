package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/middleware"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
	telemetry "github.com/cornellpepper/CuWatch-server/src/production/MQT.Telemetry"
	"github.com/gin-gonic/gin"
)

// RateController serves historical rate series computed at query time
type RateController struct {
	query  *telemetry.QueryService
	logger *logger.Logger
}

// NewRateController creates a new rate controller
func NewRateController(query *telemetry.QueryService, logger *logger.Logger) *RateController {
	return &RateController{
		query:  query,
		logger: logger,
	}
}

// RegisterRoutes registers the rate routes with Gin
func (c *RateController) RegisterRoutes(router *gin.Engine) {
	rates := router.Group("/api/rates/:device_id")
	{
		rates.GET("/boxcar", c.Boxcar)
		rates.GET("/instant", c.Instant)
	}
}

// Boxcar query: window (seconds), limit, start, end
func (c *RateController) Boxcar(ctx *gin.Context) {
	var window time.Duration
	if raw := ctx.Query("window"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive number of seconds"})
			return
		}
		window = time.Duration(secs * float64(time.Second))
	}

	points, err := c.query.Boxcar(ctx, windowFrom(ctx, ctx.Param("device_id")), window, limitFrom(ctx))
	if err != nil {
		middleware.LoggerFrom(ctx, c.logger).ErrorWithError(err, "Boxcar rates failed")
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, points)
}

// Instant query: n (rolling window), order (asc|desc, default asc), limit, start, end
func (c *RateController) Instant(ctx *gin.Context) {
	n := 0
	if raw := ctx.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "n must be a positive integer"})
			return
		}
		n = v
	}

	points, err := c.query.Instant(ctx,
		windowFrom(ctx, ctx.Param("device_id")),
		orderFrom(ctx, interfaces.Ascending),
		limitFrom(ctx),
		n)
	if err != nil {
		middleware.LoggerFrom(ctx, c.logger).ErrorWithError(err, "Instant rates failed")
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, points)
}
