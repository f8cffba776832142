package controllers

import (
	"net/http"

	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/middleware"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	telemetry "github.com/cornellpepper/CuWatch-server/src/production/MQT.Telemetry"
	"github.com/gin-gonic/gin"
)

// DeviceController serves device and run lookups
type DeviceController struct {
	query  *telemetry.QueryService
	logger *logger.Logger
}

// NewDeviceController creates a new device controller
func NewDeviceController(query *telemetry.QueryService, logger *logger.Logger) *DeviceController {
	return &DeviceController{
		query:  query,
		logger: logger,
	}
}

// RegisterRoutes registers the device routes with Gin
func (c *DeviceController) RegisterRoutes(router *gin.Engine) {
	devices := router.Group("/api/devices")
	{
		devices.GET("", c.ListDevices)
		devices.GET("/:device_id", c.GetDevice)
		devices.GET("/:device_id/runs", c.ListRuns)
	}
}

func (c *DeviceController) ListDevices(ctx *gin.Context) {
	devices, err := c.query.ListDevices(ctx)
	if err != nil {
		middleware.LoggerFrom(ctx, c.logger).ErrorWithError(err, "List devices failed")
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, devices)
}

func (c *DeviceController) GetDevice(ctx *gin.Context) {
	device, err := c.query.Device(ctx, ctx.Param("device_id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, device)
}

func (c *DeviceController) ListRuns(ctx *gin.Context) {
	runs, err := c.query.Runs(ctx, ctx.Param("device_id"))
	if err != nil {
		middleware.LoggerFrom(ctx, c.logger).ErrorWithError(err, "List runs failed")
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, runs)
}
