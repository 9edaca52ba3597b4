package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(router *gin.Engine, h *handlers) {
	router.GET("/status", h.status)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	pga := router.Group("/pga")
	{
		pga.POST("", h.create)
		pga.GET("", h.list)
		pga.GET("/:id", h.get)
		pga.PUT("/:id/start", h.start)
		pga.PUT("/:id/stop", h.stop)
		pga.PUT("/:id/scale", h.scale)
		pga.DELETE("/:id", h.remove)
	}
}
