package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/services"
)

// ErrorResponse is the envelope for every non-2xx answer.
type ErrorResponse struct {
	// Echo of X-Request-ID, for correlating with server logs
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"conversation not found"`
}

// QuotaErrorResponse is ErrorResponse plus what a client needs to show an
// upgrade prompt.
type QuotaErrorResponse struct {
	ErrorResponse
	UpgradeHint string    `json:"upgrade_hint" example:"Upgrade to premium for unlimited messages, or wait until tomorrow."`
	ResetsAt    time.Time `json:"resets_at" example:"2025-03-11T00:00:00Z"`
	Limit       int       `json:"limit" example:"5"`
}

func envelope(c *gin.Context, code, msg string) ErrorResponse {
	return ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
}

// fail aborts with the error envelope. 5xx answers are logged together with
// the last error attached via c.Error.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg)
		if last := c.Errors.Last(); last != nil {
			ev = ev.Err(last.Err)
		}
		ev.Msg("api error")
	}
	c.AbortWithStatusJSON(status, envelope(c, code, msg))
}

// Fail is fail for callers outside this package (the router's fallbacks).
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func failQuota(c *gin.Context, q *services.QuotaExceededError) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, QuotaErrorResponse{
		ErrorResponse: envelope(c, ErrCodeQuotaExceeded, services.ErrQuotaExceeded.Error()),
		UpgradeHint:   q.UpgradeHint,
		ResetsAt:      q.ResetsAt,
		Limit:         q.Limit,
	})
}

var badRequestErrs = []error{
	services.ErrInvalidMessageType,
	services.ErrEmptyContent,
	services.ErrMissingMediaURL,
	services.ErrUnexpectedMediaURL,
	services.ErrInvalidMediaURL,
	services.ErrTooLong,
	services.ErrInvalidDisplayName,
	services.ErrSelfConversation,
	services.ErrMissingPeer,
	services.ErrEmptyQuery,
	services.ErrMissingPurchase,
	services.ErrInvalidPurchase,
}

// respondErr maps a service error onto status and code. Anything it does not
// recognise is a 500 whose detail stays in the log.
func respondErr(c *gin.Context, err error) {
	var quota *services.QuotaExceededError
	switch {
	case errors.As(err, &quota):
		failQuota(c, quota)
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrConversationNotFound),
		errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrVerifierUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, err.Error())
	case isBadRequest(err):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

func isBadRequest(err error) bool {
	for _, target := range badRequestErrs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
