package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/middleware"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	"github.com/gin-gonic/gin"
)

const maxControlBody = 64 << 10

// Publisher delivers a control payload to a device
type Publisher interface {
	PublishControl(deviceID string, payload []byte) error
}

// ControlController forwards control payloads to devices
type ControlController struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewControlController creates a new control controller
func NewControlController(publisher Publisher, logger *logger.Logger) *ControlController {
	return &ControlController{
		publisher: publisher,
		logger:    logger,
	}
}

// RegisterRoutes registers the control routes with Gin
func (c *ControlController) RegisterRoutes(router *gin.Engine) {
	router.POST("/api/control/:device_id", c.SendControl)
}

// SendControl publishes the JSON object body to control/<device_id>/set
func (c *ControlController) SendControl(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxControlBody))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deviceID := ctx.Param("device_id")
	if err := c.publisher.PublishControl(deviceID, compact.Bytes()); err != nil {
		middleware.LoggerFrom(ctx, c.logger).WithDevice(deviceID).ErrorWithError(err, "Control publish failed")
		ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}
