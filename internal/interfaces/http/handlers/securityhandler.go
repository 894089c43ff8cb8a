package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/veilnet-io/veilnet/internal/infrastructure/security"
	"github.com/veilnet-io/veilnet/internal/shared/errors"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
	"github.com/veilnet-io/veilnet/internal/shared/utils"
)

// SecurityService is the guard surface exposed over the internal API.
type SecurityService interface {
	SnapshotStats(addr string) security.Stats
	Unban(addr string) bool
}

type SecurityHandler struct {
	guard  SecurityService
	logger logger.Interface
}

func NewSecurityHandler(guard SecurityService, logger logger.Interface) *SecurityHandler {
	return &SecurityHandler{guard: guard, logger: logger}
}

// Stats handles GET /api/security/stats?address=. Without an address it
// returns the aggregate view, which lists only currently banned addresses.
func (h *SecurityHandler) Stats(c *gin.Context) {
	utils.OKResponse(c, h.guard.SnapshotStats(c.Query("address")))
}

type UnbanRequest struct {
	Address string `json:"address" binding:"required"`
}

// Unban handles POST /api/security/unban.
func (h *SecurityHandler) Unban(c *gin.Context) {
	var req UnbanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid request body"))
		return
	}

	if !h.guard.Unban(req.Address) {
		utils.ErrorResponseWithError(c, errors.NewNotFoundError("address is not banned"))
		return
	}

	h.logger.Infow("address unbanned by operator", "address", req.Address)
	utils.OKResponse(c, gin.H{"address": req.Address, "unbanned": true})
}
