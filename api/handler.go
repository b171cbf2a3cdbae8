package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stocksight/internal/queue"
	"stocksight/internal/syncer"
)

// salesHandler holds the sync engine and scheduler and implements the HTTP
// surface for sale capture, sync triggering, and pending-count status.
type salesHandler struct {
	engine    *syncer.Engine
	scheduler *syncer.Scheduler
	logger    *zap.Logger
}

// NewSalesHandler creates a new sales handler.
func NewSalesHandler(engine *syncer.Engine, scheduler *syncer.Scheduler, logger *zap.Logger) *salesHandler {
	return &salesHandler{
		engine:    engine,
		scheduler: scheduler,
		logger:    logger,
	}
}

// handleRecordSale handles the POST /sales endpoint. A remote failure is not
// an error here: the sale is already durably queued, and the response says
// whether the immediate sync attempt got through.
func (h *salesHandler) handleRecordSale(ctx *gin.Context) {
	var req struct {
		ProductID   string          `json:"product_id"`
		ProductName string          `json:"product_name"`
		UserID      string          `json:"user_id"`
		Quantity    int             `json:"quantity"`
		UnitPrice   decimal.Decimal `json:"unit_price"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	result, err := h.engine.RecordSale(ctx.Request.Context(), syncer.CaptureRequest{
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		UserID:      req.UserID,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
	})
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrInvalidQuantity), errors.Is(err, queue.ErrNegativePrice):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			// Local storage fault: the one case where a capture is lost.
			h.logger.Error("failed to save sale locally",
				zap.Error(err),
				zap.String("product_id", req.ProductID),
				zap.String("user_id", req.UserID),
			)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save sale"})
		}
		return
	}

	ctx.JSON(http.StatusCreated, result)
}

// handleTriggerSync handles the POST /sync endpoint. Fire-and-forget.
func (h *salesHandler) handleTriggerSync(ctx *gin.Context) {
	h.scheduler.TriggerSync()
	ctx.JSON(http.StatusAccepted, gin.H{"status": "sync scheduled"})
}

// handlePendingCount handles the GET /sales/pending/count endpoint, polled by
// the UI to show a "N pending" badge.
func (h *salesHandler) handlePendingCount(ctx *gin.Context) {
	n, err := h.engine.PendingCount(ctx.Request.Context())
	if err != nil {
		h.logger.Error("failed to count pending sales", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count pending sales"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"pending": n})
}
