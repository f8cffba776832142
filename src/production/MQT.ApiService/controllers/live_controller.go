package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LiveController exposes the live WebSocket feed
type LiveController struct {
	handler http.Handler
}

func NewLiveController(handler http.Handler) *LiveController {
	return &LiveController{handler: handler}
}

// RegisterRoutes registers the live feed route with Gin
func (c *LiveController) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", gin.WrapH(c.handler))
}
