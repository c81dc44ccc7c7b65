package service

import (
	"context"
	"sync"
	"time"

	"lipa/internal/domain"
	"lipa/internal/events"
	"lipa/internal/models"
	"lipa/internal/repository"
	"lipa/pkg/payment"

	"github.com/shopspring/decimal"
)

// memStore is an IntentStore over a map, with snapshot rollback for Transaction.
type memStore struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]models.PaymentIntent
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uint]models.PaymentIntent)}
}

func (m *memStore) Transaction(ctx context.Context, fn func(tx repository.IntentStore) error) error {
	m.mu.Lock()
	snapshot := make(map[uint]models.PaymentIntent, len(m.rows))
	for k, v := range m.rows {
		snapshot[k] = v
	}
	nextID := m.nextID
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.rows, m.nextID = snapshot, nextID
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) Create(_ context.Context, p *models.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == domain.IntentPending {
		for _, r := range m.rows {
			if r.PendingOrderID != nil && *r.PendingOrderID == p.OrderID {
				return repository.ErrPendingExists
			}
		}
		id := p.OrderID
		p.PendingOrderID = &id
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	m.rows[p.ID] = *p
	return nil
}

func (m *memStore) get(match func(models.PaymentIntent) bool) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if match(r) {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetByID(_ context.Context, id uint) (*models.PaymentIntent, error) {
	return m.get(func(r models.PaymentIntent) bool { return r.ID == id })
}

func (m *memStore) GetByCheckoutID(_ context.Context, checkoutID string) (*models.PaymentIntent, error) {
	return m.get(func(r models.PaymentIntent) bool { return checkoutID != "" && r.CheckoutID() == checkoutID })
}

func (m *memStore) GetByCorrelationID(_ context.Context, checkoutID, merchantID string) (*models.PaymentIntent, error) {
	return m.get(func(r models.PaymentIntent) bool {
		return (checkoutID != "" && r.CheckoutID() == checkoutID) || (merchantID != "" && r.MerchantID() == merchantID)
	})
}

func (m *memStore) updatePending(id uint, fn func(r *models.PaymentIntent)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != domain.IntentPending {
		return false
	}
	fn(&r)
	m.rows[id] = r
	return true
}

func (m *memStore) MarkCorrelated(_ context.Context, id uint, checkoutID, merchantID string, raw []byte) error {
	if !m.updatePending(id, func(r *models.PaymentIntent) {
		r.CheckoutRequestID, r.MerchantRequestID = &checkoutID, &merchantID
		r.RawInitResponse = raw
	}) {
		return repository.ErrNotFound
	}
	return nil
}

func (m *memStore) MarkInitiationFailed(_ context.Context, id uint, desc string, raw []byte) error {
	if !m.updatePending(id, func(r *models.PaymentIntent) {
		r.Status = domain.IntentInitiationFailed
		r.ResultDescription = desc
		r.RawInitResponse = raw
		r.PendingOrderID = nil
		r.UpdatedAt = time.Now()
	}) {
		return repository.ErrNotFound
	}
	return nil
}

func (m *memStore) TransitionFromPending(_ context.Context, id uint, t repository.Transition) (bool, error) {
	return m.updatePending(id, func(r *models.PaymentIntent) {
		code := t.ResultCode
		r.Status = t.Status
		r.ResultCode = &code
		r.ResultDescription = t.ResultDescription
		r.ReceiptNumber = t.ReceiptNumber
		r.RawCallbackPayload = t.RawPayload
		r.PendingOrderID = nil
		r.UpdatedAt = time.Now()
	}), nil
}

func (m *memStore) FillReceipt(_ context.Context, id uint, receipt string, raw []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != domain.IntentSucceeded || r.ReceiptNumber != "" {
		return false, nil
	}
	r.ReceiptNumber = receipt
	r.RawCallbackPayload = raw
	r.UpdatedAt = time.Now()
	m.rows[id] = r
	return true, nil
}

func (m *memStore) ListStalePending(_ context.Context, before time.Time, limit int) ([]models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentIntent
	for _, r := range m.rows {
		if r.Status == domain.IntentPending && r.CheckoutRequestID != nil && r.UpdatedAt.Before(before) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ListUnsyncedSucceeded(_ context.Context, limit int) ([]models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentIntent
	for _, r := range m.rows {
		if r.Status == domain.IntentSucceeded && r.OrderSyncedAt == nil && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) MarkOrderSynced(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	now := time.Now()
	r.OrderSyncedAt = &now
	m.rows[id] = r
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memStore) row(id uint) models.PaymentIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

// backdate makes an intent look stale to the reconciler.
func (m *memStore) backdate(id uint, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.UpdatedAt = r.UpdatedAt.Add(-d)
	m.rows[id] = r
}

type memOrders struct {
	mu     sync.Mutex
	orders map[uint]*models.Order
	setErr error
	sets   int
}

func newMemOrders(ids ...uint) *memOrders {
	o := &memOrders{orders: make(map[uint]*models.Order)}
	for _, id := range ids {
		o.orders[id] = &models.Order{ID: id, Total: decimal.NewFromInt(1000), Status: domain.OrderStatusPending, PaymentStatus: domain.OrderPaymentAwaiting}
	}
	return o
}

func (o *memOrders) GetOrder(_ context.Context, id uint) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, ok := o.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ord
	return &cp, nil
}

func (o *memOrders) SetOrderStatus(_ context.Context, id uint, paymentStatus, status string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sets++
	if o.setErr != nil {
		return false, o.setErr
	}
	ord, ok := o.orders[id]
	if !ok || ord.PaymentStatus != domain.OrderPaymentAwaiting {
		return false, nil
	}
	ord.PaymentStatus, ord.Status = paymentStatus, status
	return true, nil
}

func (o *memOrders) paymentStatus(id uint) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.orders[id].PaymentStatus
}

func (o *memOrders) setCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sets
}

type fakeGateway struct {
	push  func(ctx context.Context, req payment.PushRequest) (*payment.PushResult, error)
	query func(ctx context.Context, id string) (*payment.QueryResult, error)
	calls int
}

func (g *fakeGateway) RequestPush(ctx context.Context, req payment.PushRequest) (*payment.PushResult, error) {
	g.calls++
	return g.push(ctx, req)
}

func (g *fakeGateway) QueryPush(ctx context.Context, id string) (*payment.QueryResult, error) {
	return g.query(ctx, id)
}

func acceptingGateway() *fakeGateway {
	return &fakeGateway{push: func(_ context.Context, req payment.PushRequest) (*payment.PushResult, error) {
		return &payment.PushResult{
			Accepted:          true,
			CheckoutRequestID: "ws_CO_191220191020363925",
			MerchantRequestID: "29115-34620561-1",
			ResponseCode:      "0",
			CustomerMessage:   "Success. Request accepted for processing",
			Raw:               []byte(`{"ResponseCode":"0"}`),
		}, nil
	}}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentEvent
}

func (p *recordingPublisher) PublishPayment(_ context.Context, e events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
