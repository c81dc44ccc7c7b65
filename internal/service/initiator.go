package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lipa/internal/apperr"
	"lipa/internal/domain"
	"lipa/internal/models"
	"lipa/internal/repository"
	"lipa/pkg/payment"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const msgInitiateFailed = "Failed to initiate payment. Please try again."

type InitiateInput struct {
	PhoneNumber   string
	Amount        decimal.Decimal
	OrderID       uint
	UserID        uint
	CustomerEmail string
	CustomerName  string
}

type InitiateResult struct {
	IntentID          uint
	CheckoutRequestID string
	MerchantRequestID string
	PhoneNumber       string
	Amount            decimal.Decimal
	CustomerMessage   string
}

type Initiator struct {
	intents    repository.IntentStore
	orders     repository.Orders
	gateway    payment.Gateway
	logger     *zap.Logger
	accountRef string
}

func NewInitiator(intents repository.IntentStore, orders repository.Orders, gateway payment.Gateway, accountRef string, logger *zap.Logger) *Initiator {
	return &Initiator{intents: intents, orders: orders, gateway: gateway, accountRef: accountRef, logger: logger}
}

// Initiate records a pending intent and asks the provider to push a payment
// prompt to the customer. Provider auth failures, rejections and timeouts are
// committed as initiation_failed; anything else rolls the insert back.
func (s *Initiator) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	phone, err := s.validate(in)
	if err != nil {
		intentsInitiated.WithLabelValues("invalid").Inc()
		return nil, err
	}

	order, err := s.orders.GetOrder(ctx, in.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		intentsInitiated.WithLabelValues("invalid").Inc()
		return nil, apperr.InvalidErr("Order not found")
	}
	if err != nil {
		return nil, apperr.Wrap(fmt.Errorf("load order %d: %w", in.OrderID, err))
	}
	if order.PaymentStatus == domain.OrderPaymentCompleted {
		intentsInitiated.WithLabelValues("conflict").Inc()
		return nil, apperr.ConflictErr("Order is already paid")
	}

	intent := &models.PaymentIntent{
		OrderID:       in.OrderID,
		UserID:        in.UserID,
		Amount:        in.Amount,
		Currency:      domain.CurrencyKES,
		Method:        domain.MethodMpesaSTK,
		Status:        domain.IntentPending,
		PhoneNumber:   phone,
		CustomerEmail: in.CustomerEmail,
		CustomerName:  in.CustomerName,
	}

	var (
		accepted *payment.PushResult
		gwErr    error
	)
	err = s.intents.Transaction(ctx, func(tx repository.IntentStore) error {
		if err := tx.Create(ctx, intent); err != nil {
			return err
		}
		res, err := s.gateway.RequestPush(ctx, payment.PushRequest{
			Amount:      in.Amount.IntPart(),
			PhoneNumber: phone,
			OrderRef:    fmt.Sprintf("%s%d", s.accountRef, in.OrderID),
			Description: fmt.Sprintf("Order %d", in.OrderID),
		})
		if err != nil {
			if !payment.IsRecordable(err) {
				return err
			}
			gwErr = err
			desc, raw := failureDetail(err)
			return tx.MarkInitiationFailed(ctx, intent.ID, desc, raw)
		}
		accepted = res
		return tx.MarkCorrelated(ctx, intent.ID, res.CheckoutRequestID, res.MerchantRequestID, res.Raw)
	})

	switch {
	case errors.Is(err, repository.ErrPendingExists):
		intentsInitiated.WithLabelValues("conflict").Inc()
		return nil, apperr.ConflictErr("A payment for this order is already in progress")
	case err != nil:
		intentsInitiated.WithLabelValues("internal").Inc()
		s.logger.Error("mpesa initiate rolled back",
			zap.Uint("order_id", in.OrderID), zap.Uint("user_id", in.UserID), zap.Error(err))
		return nil, apperr.Wrap(err)
	case gwErr != nil:
		intentsInitiated.WithLabelValues("initiation_failed").Inc()
		s.logger.Warn("mpesa initiate failed at gateway",
			zap.Uint("intent_id", intent.ID), zap.Uint("order_id", in.OrderID), zap.Error(gwErr))
		return nil, apperr.GatewayErr(msgInitiateFailed, gwErr)
	}

	intentsInitiated.WithLabelValues("pending").Inc()
	s.logger.Info("mpesa stk push sent",
		zap.Uint("intent_id", intent.ID),
		zap.Uint("order_id", in.OrderID),
		zap.String("checkout_request_id", accepted.CheckoutRequestID),
	)
	return &InitiateResult{
		IntentID:          intent.ID,
		CheckoutRequestID: accepted.CheckoutRequestID,
		MerchantRequestID: accepted.MerchantRequestID,
		PhoneNumber:       phone,
		Amount:            in.Amount,
		CustomerMessage:   accepted.CustomerMessage,
	}, nil
}

// failureDetail is what gets stored and shown by status for a recorded gateway
// failure: the provider's own code and description, or just the failure kind.
// Transport errors, URLs and wrapped causes stay in the logs.
func failureDetail(err error) (string, []byte) {
	var ge *payment.GatewayError
	if !errors.As(err, &ge) {
		return "gateway failure", nil
	}
	desc := strings.TrimSpace(ge.Code + " " + ge.Description)
	if desc == "" && ge.Kind != nil {
		desc = ge.Kind.Error()
	}
	return desc, ge.Raw
}

func (s *Initiator) validate(in InitiateInput) (string, error) {
	if in.PhoneNumber == "" || in.OrderID == 0 || in.UserID == 0 {
		return "", apperr.InvalidErr("phoneNumber, amount, orderId and userId are required")
	}
	if !in.Amount.IsPositive() {
		return "", apperr.InvalidErr("Amount must be greater than zero")
	}
	if !in.Amount.Equal(in.Amount.Truncate(0)) {
		return "", apperr.InvalidErr("Amount must be a whole number of KES")
	}
	phone, err := payment.NormalizePhone(in.PhoneNumber)
	if err != nil {
		return "", apperr.InvalidErr("Invalid phone number. Use 07XXXXXXXX or 2547XXXXXXXX")
	}
	return phone, nil
}
