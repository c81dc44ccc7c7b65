package service

import (
	"context"
	"errors"

	"lipa/internal/domain"
	"lipa/internal/models"
	"lipa/internal/repository"
	"lipa/pkg/payment"

	"go.uber.org/zap"
)

// Ack is the body returned to the provider. ResultCode 0 means the callback
// was taken for processing, not that the payment succeeded.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var (
	ackAccepted = Ack{ResultCode: domain.AckAccepted, ResultDesc: domain.AckDescAccepted}
	ackInvalid  = Ack{ResultCode: domain.AckRejected, ResultDesc: domain.AckDescInvalid}
	ackNotFound = Ack{ResultCode: domain.AckRejected, ResultDesc: domain.AckDescNotFound}
)

type CallbackService struct {
	intents repository.IntentStore
	settler *Settler
	logger  *zap.Logger
}

func NewCallbackService(intents repository.IntentStore, settler *Settler, logger *zap.Logger) *CallbackService {
	return &CallbackService{intents: intents, settler: settler, logger: logger}
}

// Handle never returns an error: every outcome maps to an Ack so the provider
// stops redelivering. Internal failures are logged for the reconciler.
func (s *CallbackService) Handle(ctx context.Context, raw []byte) Ack {
	cb, err := payment.ParseCallback(raw)
	if err != nil {
		callbacksReceived.WithLabelValues("malformed").Inc()
		s.logger.Warn("mpesa callback rejected", zap.Error(err), zap.ByteString("body", raw))
		return ackInvalid
	}
	log := s.logger.With(
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.String("merchant_request_id", cb.MerchantRequestID),
		zap.Int("result_code", cb.ResultCode),
	)

	intent, err := s.intents.GetByCorrelationID(ctx, cb.CheckoutRequestID, cb.MerchantRequestID)
	if errors.Is(err, repository.ErrNotFound) {
		callbacksReceived.WithLabelValues("unknown").Inc()
		log.Warn("mpesa callback for unknown intent")
		return ackNotFound
	}
	if err != nil {
		callbacksReceived.WithLabelValues("error").Inc()
		log.Error("mpesa callback lookup failed", zap.Error(err))
		return ackAccepted
	}
	log = log.With(zap.Uint("intent_id", intent.ID))

	if domain.IsTerminal(intent.Status) {
		if fillsReceipt(intent, cb) {
			s.fillReceipt(ctx, log, intent.ID, cb.ReceiptNumber, raw)
			return ackAccepted
		}
		callbacksReceived.WithLabelValues("duplicate").Inc()
		log.Info("mpesa callback duplicate ignored", zap.String("status", intent.Status))
		return ackAccepted
	}

	changed, err := s.settler.Apply(ctx, intent, repository.Transition{
		Status:            domain.Outcome(cb.ResultCode),
		ResultCode:        cb.ResultCode,
		ResultDescription: cb.ResultDesc,
		ReceiptNumber:     cb.ReceiptNumber,
		RawPayload:        raw,
	}, "callback")
	switch {
	case err != nil:
		callbacksReceived.WithLabelValues("error").Inc()
		log.Error("mpesa callback transition failed", zap.Error(err))
	case !changed:
		callbacksReceived.WithLabelValues("duplicate").Inc()
		log.Info("mpesa callback lost race to concurrent delivery")
	default:
		callbacksReceived.WithLabelValues("applied").Inc()
	}
	return ackAccepted
}

// fillsReceipt reports whether a late success callback carries the receipt of
// an intent the reconciler already settled from a provider query.
func fillsReceipt(intent *models.PaymentIntent, cb *payment.STKCallback) bool {
	return intent.Status == domain.IntentSucceeded && intent.ReceiptNumber == "" &&
		domain.Outcome(cb.ResultCode) == domain.IntentSucceeded && cb.ReceiptNumber != ""
}

// fillReceipt leaves the order alone: it was synced when the intent settled.
func (s *CallbackService) fillReceipt(ctx context.Context, log *zap.Logger, id uint, receipt string, raw []byte) {
	filled, err := s.intents.FillReceipt(ctx, id, receipt, raw)
	switch {
	case err != nil:
		callbacksReceived.WithLabelValues("error").Inc()
		log.Error("mpesa receipt backfill failed", zap.Error(err))
	case !filled:
		callbacksReceived.WithLabelValues("duplicate").Inc()
		log.Info("mpesa callback duplicate ignored", zap.String("status", domain.IntentSucceeded))
	default:
		callbacksReceived.WithLabelValues("receipt_filled").Inc()
		log.Info("mpesa receipt backfilled", zap.String("receipt_number", receipt))
	}
}
