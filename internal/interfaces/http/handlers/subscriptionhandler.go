package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veilnet-io/veilnet/internal/application/subscription"
	"github.com/veilnet-io/veilnet/internal/shared/errors"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
	"github.com/veilnet-io/veilnet/internal/shared/utils"
)

// SubscriptionFetcher is the application surface the public endpoint needs.
type SubscriptionFetcher interface {
	Fetch(ctx context.Context, token, sourceIP, clientSig string) (*subscription.Result, error)
	ProfileTitle() string
	UpdateIntervalHours() int
}

// SubscriptionHandler serves the public plain-text config endpoint. Responses
// deliberately carry no JSON envelope: the consumers are proxy clients that
// expect a newline-joined list of connection URIs in the body.
type SubscriptionHandler struct {
	service SubscriptionFetcher
	logger  logger.Interface
}

func NewSubscriptionHandler(service SubscriptionFetcher, logger logger.Interface) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, logger: logger}
}

// Fetch handles GET /sub/:token.
func (h *SubscriptionHandler) Fetch(c *gin.Context) {
	token := c.Param("token")
	sourceIP := c.ClientIP()
	clientSig := c.GetHeader("User-Agent")

	result, err := h.service.Fetch(c.Request.Context(), token, sourceIP, clientSig)
	if err != nil {
		if appErr := errors.GetAppError(err); appErr != nil && appErr.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(appErr.RetryAfter)))
		}
		c.String(statusForFetchError(err), "")
		return
	}

	c.Header("Profile-Title", h.service.ProfileTitle())
	c.Header("Profile-Update-Interval", fmt.Sprintf("%d", h.service.UpdateIntervalHours()))
	c.String(http.StatusOK, result.Body)
}

// CacheInvalidator drops a subscriber's cached config response.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context, subscriberID uint) error
}

// SubscriptionAdminHandler exposes cache control on the internal API.
type SubscriptionAdminHandler struct {
	invalidator CacheInvalidator
	logger      logger.Interface
}

func NewSubscriptionAdminHandler(invalidator CacheInvalidator, logger logger.Interface) *SubscriptionAdminHandler {
	return &SubscriptionAdminHandler{invalidator: invalidator, logger: logger}
}

// InvalidateCache handles POST /api/subscription/:id/invalidate-cache.
func (h *SubscriptionAdminHandler) InvalidateCache(c *gin.Context) {
	subscriberID, err := parseSubscriberID(c)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	if err := h.invalidator.InvalidateCache(c.Request.Context(), subscriberID); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	h.logger.Infow("subscription cache invalidated", "subscriber_id", subscriberID)
	utils.OKResponse(c, gin.H{"subscriber_id": subscriberID, "invalidated": true})
}

// retryAfterSeconds rounds the hint up so a client honoring it never retries
// inside the window.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// statusForFetchError keeps the public surface terse: status code only, no
// body that would help probers distinguish failure causes beyond the class.
func statusForFetchError(err error) int {
	switch {
	case errors.IsTooManyRequestsError(err):
		return http.StatusTooManyRequests
	case errors.IsForbiddenError(err):
		return http.StatusForbidden
	case errors.IsUnauthorizedError(err), errors.IsNotFoundError(err):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
