package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stocksight/internal/syncer"
)

// InitRoutes registers the sale capture, sync trigger, and status endpoints
// on the given Gin engine.
func InitRoutes(e *gin.Engine, engine *syncer.Engine, scheduler *syncer.Scheduler, logger *zap.Logger) {
	salesHandler := NewSalesHandler(engine, scheduler, logger)

	e.POST("/sales", salesHandler.handleRecordSale)
	e.POST("/sync", salesHandler.handleTriggerSync)
	e.GET("/sales/pending/count", salesHandler.handlePendingCount)

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
}
