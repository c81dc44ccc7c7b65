package handler

import (
	"context"
	"net/http"
	"strconv"

	"lipa/internal/apperr"
	"lipa/internal/middleware"
	"lipa/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	initiator *service.Initiator
	status    *service.StatusService
	logger    *zap.Logger
}

func NewPaymentHandler(initiator *service.Initiator, status *service.StatusService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{initiator: initiator, status: status, logger: logger}
}

type initiateRequest struct {
	PhoneNumber   string          `json:"phoneNumber" binding:"required,msisdn"`
	Amount        decimal.Decimal `json:"amount"`
	OrderID       uint            `json:"orderId" binding:"required"`
	UserID        uint            `json:"userId"`
	CustomerEmail string          `json:"customerEmail" binding:"omitempty,email"`
	CustomerName  string          `json:"customerName" binding:"max=255"`
}

// Initiate sends an STK push for an existing order. The response only means the
// prompt was sent; the outcome is learned by polling status.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": bindingMessage(err)})
		return
	}
	if uid := middleware.GetUserID(c); uid != 0 {
		if req.UserID != 0 && req.UserID != uid {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "userId does not match the authenticated user"})
			return
		}
		req.UserID = uid
	}

	// Once the provider accepts the push the customer gets a prompt, so the
	// intent must be committed even if the client hangs up. The gateway's own
	// timeouts bound this call.
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := h.initiator.Initiate(ctx, service.InitiateInput{
		PhoneNumber:   req.PhoneNumber,
		Amount:        req.Amount,
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	msg := res.CustomerMessage
	if msg == "" {
		msg = "STK push sent. Check your phone to complete the payment."
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": msg,
		"data": gin.H{
			"checkoutRequestId": res.CheckoutRequestID,
			"merchantRequestId": res.MerchantRequestID,
			"intentId":          res.IntentID,
			"phoneNumber":       res.PhoneNumber,
			"amount":            res.Amount,
		},
	})
}

// Status looks up by ?intentId= or ?checkoutRequestId=.
func (h *PaymentHandler) Status(c *gin.Context) {
	q := service.Lookup{CheckoutRequestID: c.Query("checkoutRequestId")}
	if raw := c.Query("intentId"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			respondError(c, err)
			return
		}
		q.IntentID = id
	}
	h.respondStatus(c, q)
}

func (h *PaymentHandler) StatusByID(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondStatus(c, service.Lookup{IntentID: id})
}

func (h *PaymentHandler) respondStatus(c *gin.Context, q service.Lookup) {
	v, err := h.status.Get(c.Request.Context(), q)
	if err == nil && !ownedBy(c, v) {
		err = apperr.NotFoundErr("Payment not found")
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": v})
}

// ownedBy hides other users' intents when the route is behind AuthRequired.
func ownedBy(c *gin.Context, v *service.View) bool {
	uid := middleware.GetUserID(c)
	return uid == 0 || v.UserID == uid
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.InvalidErr("Invalid intent id")
	}
	return uint(id), nil
}
