package service

import (
	"context"
	"time"

	"lipa/internal/domain"
	"lipa/internal/events"
	"lipa/internal/models"
	"lipa/internal/repository"

	"go.uber.org/zap"
)

// Settler applies a terminal outcome to a pending intent and, only if that
// write won, propagates it to the order and the event stream. Callbacks and
// the reconciler both go through it.
type Settler struct {
	intents   repository.IntentStore
	orders    repository.Orders
	publisher events.Publisher
	logger    *zap.Logger
}

func NewSettler(intents repository.IntentStore, orders repository.Orders, publisher events.Publisher, logger *zap.Logger) *Settler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Settler{intents: intents, orders: orders, publisher: publisher, logger: logger}
}

// Apply reports whether this call performed the transition. Order and publish
// failures are logged and left for the reconciler; they never fail Apply.
func (s *Settler) Apply(ctx context.Context, p *models.PaymentIntent, t repository.Transition, source string) (bool, error) {
	changed, err := s.intents.TransitionFromPending(ctx, p.ID, t)
	if err != nil || !changed {
		return false, err
	}
	intentTransitions.WithLabelValues(t.Status, source).Inc()
	s.logger.Info("payment intent settled",
		zap.Uint("intent_id", p.ID),
		zap.Uint("order_id", p.OrderID),
		zap.String("status", t.Status),
		zap.Int("result_code", t.ResultCode),
		zap.String("receipt", t.ReceiptNumber),
		zap.String("source", source),
	)

	if t.Status == domain.IntentSucceeded {
		s.SyncOrder(ctx, p)
	}

	eventType := events.TypePaymentFailed
	if t.Status == domain.IntentSucceeded {
		eventType = events.TypePaymentSucceeded
	}
	if err := s.publisher.PublishPayment(ctx, events.PaymentEvent{
		EventType:         eventType,
		IntentID:          p.ID,
		OrderID:           p.OrderID,
		UserID:            p.UserID,
		Status:            t.Status,
		Amount:            p.Amount.String(),
		Currency:          p.Currency,
		CheckoutRequestID: p.CheckoutID(),
		ReceiptNumber:     t.ReceiptNumber,
		ResultCode:        t.ResultCode,
		OccurredAt:        time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("payment event publish failed", zap.Uint("intent_id", p.ID), zap.Error(err))
	}
	return true, nil
}

// SyncOrder marks the order paid and records that it was done. A no-op update
// (order already moved) still counts as synced.
func (s *Settler) SyncOrder(ctx context.Context, p *models.PaymentIntent) bool {
	changed, err := s.orders.SetOrderStatus(ctx, p.OrderID, domain.OrderPaymentCompleted, domain.OrderStatusProcessing)
	if err != nil {
		orderSyncFailures.Inc()
		s.logger.Error("order update after payment failed",
			zap.Uint("intent_id", p.ID), zap.Uint("order_id", p.OrderID), zap.Error(err))
		return false
	}
	if !changed {
		s.logger.Warn("order was not awaiting payment", zap.Uint("intent_id", p.ID), zap.Uint("order_id", p.OrderID))
	}
	if err := s.intents.MarkOrderSynced(ctx, p.ID); err != nil {
		s.logger.Error("mark order synced failed", zap.Uint("intent_id", p.ID), zap.Error(err))
		return false
	}
	return true
}
