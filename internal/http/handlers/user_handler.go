package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-chat/internal/services"
)

// RegisterRequest creates a user.
type RegisterRequest struct {
	DisplayName string `json:"display_name" binding:"required" example:"Ada"`
}

// ApplySubscriptionRequest carries a store purchase to verify.
type ApplySubscriptionRequest struct {
	Platform      string `json:"platform" binding:"required" example:"ios"`
	PurchaseToken string `json:"purchase_token" binding:"required" example:"1000000123456789"`
}

// Register godoc
// @ID          registerUser
// @Summary     Register a user
// @Description Creates a free-tier user. The returned id is what the auth layer later sends as X-User-ID.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterRequest  true  "Display name"
// @Success     201   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "display_name required")
		return
	}
	u, err := h.users.Register(c.Request.Context(), req.DisplayName)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusCreated, u)
}

// Me godoc
// @ID          getMe
// @Summary     Current user
// @Tags        Users
// @Produce     json
// @Param       X-User-ID  header    string  true  "Caller id"
// @Success     200        {object}  domain.User
// @Failure     401        {object}  handlers.ErrorResponse  "Unknown caller"
// @Router      /users/me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), currentUser(c))
	if err != nil {
		respondErr(c, unknownCaller(err))
		return
	}
	ok(c, http.StatusOK, u)
}

// GetSubscription godoc
// @ID          getSubscription
// @Summary     Subscription and quota status
// @Description Reports the plan, whether premium is active, and for free users how many messages remain today.
// @Tags        Subscription
// @Produce     json
// @Param       X-User-ID  header    string  true  "Caller id"
// @Success     200        {object}  services.SubscriptionStatus
// @Failure     401        {object}  handlers.ErrorResponse  "Unknown caller"
// @Failure     500        {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/me/subscription [get]
func (h *Handlers) GetSubscription(c *gin.Context) {
	st, err := h.subs.Status(c.Request.Context(), currentUser(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// ApplySubscription godoc
// @ID          applySubscription
// @Summary     Apply a purchase
// @Description Verifies a Google Play or App Store purchase token and upgrades the caller to premium until the verified expiry.
// @Tags        Subscription
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header    string                               true  "Caller id"
// @Param       body       body      handlers.ApplySubscriptionRequest    true  "Purchase"
// @Success     200        {object}  domain.User
// @Failure     400        {object}  handlers.ErrorResponse  "Missing or invalid purchase"
// @Failure     401        {object}  handlers.ErrorResponse  "Unknown caller"
// @Failure     503        {object}  handlers.ErrorResponse  "Verification not configured"
// @Router      /users/me/subscription [post]
func (h *Handlers) ApplySubscription(c *gin.Context) {
	var req ApplySubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "platform and purchase_token are required")
		return
	}
	u, err := h.subs.Apply(c.Request.Context(), currentUser(c), req.Platform, req.PurchaseToken)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// unknownCaller reports a caller id that resolves to no user as 401.
func unknownCaller(err error) error {
	if errors.Is(err, services.ErrUserNotFound) {
		return services.ErrUnauthorized
	}
	return err
}
