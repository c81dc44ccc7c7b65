package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lipa/internal/apperr"
	"lipa/internal/domain"
	"lipa/internal/models"
	"lipa/internal/repository"
	"lipa/pkg/poll"

	"github.com/shopspring/decimal"
)

// View is what a polling client sees. Final is true for every status except pending.
type View struct {
	IntentID          uint            `json:"intentId"`
	CheckoutRequestID string          `json:"checkoutRequestId"`
	MerchantRequestID string          `json:"merchantRequestId"`
	OrderID           uint            `json:"orderId"`
	UserID            uint            `json:"-"`
	Status            string          `json:"status"`
	Final             bool            `json:"final"`
	ResultCode        *int            `json:"resultCode"`
	ResultDescription string          `json:"resultDescription"`
	ReceiptNumber     string          `json:"receiptNumber"`
	PhoneNumber       string          `json:"phoneNumber"`
	Amount            decimal.Decimal `json:"amount"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func NewView(p *models.PaymentIntent) *View {
	return &View{
		IntentID:          p.ID,
		CheckoutRequestID: p.CheckoutID(),
		MerchantRequestID: p.MerchantID(),
		OrderID:           p.OrderID,
		UserID:            p.UserID,
		Status:            p.Status,
		Final:             p.Status != domain.IntentPending,
		ResultCode:        p.ResultCode,
		ResultDescription: p.ResultDescription,
		ReceiptNumber:     p.ReceiptNumber,
		PhoneNumber:       p.PhoneNumber,
		Amount:            p.Amount,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// Lookup selects an intent by internal id or by CheckoutRequestID.
type Lookup struct {
	IntentID          uint
	CheckoutRequestID string
}

// StatusService is read-only and reads straight from the store on every call.
type StatusService struct {
	intents repository.IntentStore
	poller  poll.Poller
}

func NewStatusService(intents repository.IntentStore, poller poll.Poller) *StatusService {
	return &StatusService{intents: intents, poller: poller}
}

func (s *StatusService) Get(ctx context.Context, q Lookup) (*View, error) {
	var (
		p   *models.PaymentIntent
		err error
	)
	switch {
	case q.IntentID != 0:
		p, err = s.intents.GetByID(ctx, q.IntentID)
	case q.CheckoutRequestID != "":
		p, err = s.intents.GetByCheckoutID(ctx, q.CheckoutRequestID)
	default:
		return nil, apperr.InvalidErr("intentId or checkoutRequestId is required")
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFoundErr("Payment not found")
	}
	if err != nil {
		return nil, apperr.Wrap(fmt.Errorf("status lookup: %w", err))
	}
	return NewView(p), nil
}

// WatchOutcome ends a Watch. Outcome is the final status, or "pending" with
// poll.StillPendingMessage when attempts ran out.
type WatchOutcome struct {
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
	View    *View  `json:"data,omitempty"`
}

// Watch polls an intent on the configured interval, calling onUpdate with each
// observation, until it leaves pending or attempts run out.
func (s *StatusService) Watch(ctx context.Context, q Lookup, onUpdate func(*View) error) (*WatchOutcome, error) {
	res, err := poll.Until(ctx, s.poller, func(ctx context.Context) (*View, bool, error) {
		v, err := s.Get(ctx, q)
		if err != nil {
			if apperr.IsKind(err, apperr.Internal) {
				return nil, false, fmt.Errorf("%w: %v", poll.ErrTransient, err)
			}
			return nil, false, err
		}
		if onUpdate != nil {
			if err := onUpdate(v); err != nil {
				return nil, false, err
			}
		}
		return v, v.Final, nil
	})
	if err != nil {
		return nil, err
	}
	if !res.Terminal {
		return &WatchOutcome{Outcome: domain.IntentPending, Message: poll.StillPendingMessage, View: res.Value}, nil
	}
	return &WatchOutcome{Outcome: res.Value.Status, View: res.Value}, nil
}
