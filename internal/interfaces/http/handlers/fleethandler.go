package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veilnet-io/veilnet/internal/application/fleet"
	"github.com/veilnet-io/veilnet/internal/shared/errors"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
	"github.com/veilnet-io/veilnet/internal/shared/utils"
)

// FleetService is the reconciler surface exposed over the internal API.
type FleetService interface {
	Activate(ctx context.Context, subscriberID uint, expiresAt *time.Time) (*fleet.ActivateResult, error)
	Expire(ctx context.Context, subscriberID uint) (*fleet.ExpireResult, error)
	Status(ctx context.Context, subscriberID uint) (*fleet.SubscriberStatus, error)
}

type FleetHandler struct {
	reconciler FleetService
	logger     logger.Interface
}

func NewFleetHandler(reconciler FleetService, logger logger.Interface) *FleetHandler {
	return &FleetHandler{reconciler: reconciler, logger: logger}
}

type ActivateRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

// Activate handles POST /api/fleet/:id/activate.
func (h *FleetHandler) Activate(c *gin.Context) {
	subscriberID, err := parseSubscriberID(c)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		h.logger.Warnw("invalid activate request body", "subscriber_id", subscriberID, "error", err)
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid request body"))
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		utc := req.ExpiresAt.UTC()
		expiresAt = &utc
	}

	result, err := h.reconciler.Activate(c.Request.Context(), subscriberID, expiresAt)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	utils.OKResponse(c, result)
}

// Expire handles POST /api/fleet/:id/expire.
func (h *FleetHandler) Expire(c *gin.Context) {
	subscriberID, err := parseSubscriberID(c)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	result, err := h.reconciler.Expire(c.Request.Context(), subscriberID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	utils.OKResponse(c, result)
}

// Status handles GET /api/fleet/:id/status.
func (h *FleetHandler) Status(c *gin.Context) {
	subscriberID, err := parseSubscriberID(c)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	status, err := h.reconciler.Status(c.Request.Context(), subscriberID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	utils.OKResponse(c, status)
}

func parseSubscriberID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, errors.NewValidationError("invalid subscriber ID")
	}
	return uint(id), nil
}
