package handler

import (
	"context"
	"io"
	"net/http"

	"lipa/internal/domain"
	"lipa/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCallbackBody = 64 << 10

type MpesaWebhookHandler struct {
	callbacks *service.CallbackService
	logger    *zap.Logger
}

func NewMpesaWebhookHandler(callbacks *service.CallbackService, logger *zap.Logger) *MpesaWebhookHandler {
	return &MpesaWebhookHandler{callbacks: callbacks, logger: logger}
}

// Handle always answers 200 with {ResultCode, ResultDesc} so the provider stops retrying.
func (h *MpesaWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		h.logger.Warn("mpesa callback read body failed", zap.Error(err))
		c.JSON(http.StatusOK, service.Ack{ResultCode: domain.AckRejected, ResultDesc: domain.AckDescInvalid})
		return
	}
	h.logger.Debug("mpesa callback received", zap.ByteString("body", body))
	// The transition and order update must finish even if the provider hangs up.
	ctx := context.WithoutCancel(c.Request.Context())
	c.JSON(http.StatusOK, h.callbacks.Handle(ctx, body))
}
