package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/veilnet-io/veilnet/internal/application/traffic"
	"github.com/veilnet-io/veilnet/internal/domain/subscriber"
	"github.com/veilnet-io/veilnet/internal/shared/errors"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
	"github.com/veilnet-io/veilnet/internal/shared/utils"
)

// TrafficService is the ledger surface exposed over the internal API.
type TrafficService interface {
	Usage(ctx context.Context, subscriberID uint, pool subscriber.Pool) (*traffic.UsageReport, error)
	Reset(ctx context.Context, subscriberID uint, pool subscriber.Pool) (*traffic.Event, error)
}

type TrafficHandler struct {
	ledger TrafficService
	logger logger.Interface
}

func NewTrafficHandler(ledger TrafficService, logger logger.Interface) *TrafficHandler {
	return &TrafficHandler{ledger: ledger, logger: logger}
}

// Usage handles GET /api/traffic/:id?pool=primary|bypass.
func (h *TrafficHandler) Usage(c *gin.Context) {
	subscriberID, err := parseSubscriberID(c)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	pool := subscriber.Pool(c.DefaultQuery("pool", subscriber.PoolPrimary.String()))
	if !pool.IsValid() {
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid pool parameter"))
		return
	}

	report, err := h.ledger.Usage(c.Request.Context(), subscriberID, pool)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	utils.OKResponse(c, report)
}

// Reset handles POST /api/traffic/:id/reset?pool=primary|bypass.
func (h *TrafficHandler) Reset(c *gin.Context) {
	subscriberID, err := parseSubscriberID(c)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	pool := subscriber.Pool(c.DefaultQuery("pool", subscriber.PoolPrimary.String()))
	if !pool.IsValid() {
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid pool parameter"))
		return
	}

	event, err := h.ledger.Reset(c.Request.Context(), subscriberID, pool)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	h.logger.Infow("billing period reset by operator", "subscriber_id", subscriberID, "pool", pool)
	utils.OKResponse(c, event)
}
