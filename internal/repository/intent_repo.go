package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"lipa/internal/domain"
	"lipa/internal/models"

	"github.com/go-sql-driver/mysql"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrPendingExists = errors.New("order already has a pending payment intent")
)

// Transition is the callback outcome written by TransitionFromPending.
type Transition struct {
	Status            string
	ResultCode        int
	ResultDescription string
	ReceiptNumber     string
	RawPayload        []byte
}

// IntentStore is the persistence contract the payment services depend on.
type IntentStore interface {
	Transaction(ctx context.Context, fn func(tx IntentStore) error) error
	Create(ctx context.Context, p *models.PaymentIntent) error
	GetByID(ctx context.Context, id uint) (*models.PaymentIntent, error)
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.PaymentIntent, error)
	GetByCorrelationID(ctx context.Context, checkoutRequestID, merchantRequestID string) (*models.PaymentIntent, error)
	MarkCorrelated(ctx context.Context, id uint, checkoutRequestID, merchantRequestID string, raw []byte) error
	MarkInitiationFailed(ctx context.Context, id uint, description string, raw []byte) error
	TransitionFromPending(ctx context.Context, id uint, t Transition) (bool, error)
	FillReceipt(ctx context.Context, id uint, receipt string, raw []byte) (bool, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.PaymentIntent, error)
	ListUnsyncedSucceeded(ctx context.Context, limit int) ([]models.PaymentIntent, error)
	MarkOrderSynced(ctx context.Context, id uint) error
}

type IntentRepository struct {
	db *gorm.DB
}

func NewIntentRepository(db *gorm.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

var _ IntentStore = (*IntentRepository)(nil)

func (r *IntentRepository) Transaction(ctx context.Context, fn func(tx IntentStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&IntentRepository{db: tx})
	})
}

// Create inserts a pending intent. A second pending intent for the same order
// trips the pending_order_id unique index and returns ErrPendingExists.
func (r *IntentRepository) Create(ctx context.Context, p *models.PaymentIntent) error {
	if p.Status == domain.IntentPending && p.PendingOrderID == nil {
		orderID := p.OrderID
		p.PendingOrderID = &orderID
	}
	err := r.db.WithContext(ctx).Create(p).Error
	if isDuplicate(err) {
		return ErrPendingExists
	}
	return err
}

func (r *IntentRepository) GetByID(ctx context.Context, id uint) (*models.PaymentIntent, error) {
	var p models.PaymentIntent
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *IntentRepository) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.PaymentIntent, error) {
	if checkoutRequestID == "" {
		return nil, ErrNotFound
	}
	var p models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("checkout_request_id = ?", checkoutRequestID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// GetByCorrelationID matches either provider id; empty ids are ignored.
func (r *IntentRepository) GetByCorrelationID(ctx context.Context, checkoutRequestID, merchantRequestID string) (*models.PaymentIntent, error) {
	q := r.db.WithContext(ctx)
	switch {
	case checkoutRequestID != "" && merchantRequestID != "":
		q = q.Where("checkout_request_id = ? OR merchant_request_id = ?", checkoutRequestID, merchantRequestID)
	case checkoutRequestID != "":
		q = q.Where("checkout_request_id = ?", checkoutRequestID)
	case merchantRequestID != "":
		q = q.Where("merchant_request_id = ?", merchantRequestID)
	default:
		return nil, ErrNotFound
	}
	var p models.PaymentIntent
	if err := q.First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *IntentRepository) MarkCorrelated(ctx context.Context, id uint, checkoutRequestID, merchantRequestID string, raw []byte) error {
	updates := map[string]any{
		"checkout_request_id": checkoutRequestID,
		"raw_init_response":   jsonOrNil(raw),
	}
	if merchantRequestID != "" {
		updates["merchant_request_id"] = merchantRequestID
	}
	return r.updatePending(ctx, id, updates)
}

func (r *IntentRepository) MarkInitiationFailed(ctx context.Context, id uint, description string, raw []byte) error {
	return r.updatePending(ctx, id, map[string]any{
		"status":             domain.IntentInitiationFailed,
		"result_description": truncate(description, 255),
		"raw_init_response":  jsonOrNil(raw),
		"pending_order_id":   nil,
		"updated_at":         time.Now(),
	})
}

// TransitionFromPending applies a callback outcome as one conditional UPDATE.
// It reports false when the row was no longer pending, i.e. another delivery won.
func (r *IntentRepository) TransitionFromPending(ctx context.Context, id uint, t Transition) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, domain.IntentPending).
		Updates(map[string]any{
			"status":               t.Status,
			"result_code":          t.ResultCode,
			"result_description":   truncate(t.ResultDescription, 255),
			"receipt_number":       t.ReceiptNumber,
			"raw_callback_payload": jsonOrNil(t.RawPayload),
			"pending_order_id":     nil,
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FillReceipt records the receipt of a success that was settled without one,
// as happens when the provider query resolves an intent before its callback
// arrives. Only the receipt and raw payload change.
func (r *IntentRepository) FillReceipt(ctx context.Context, id uint, receipt string, raw []byte) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ? AND receipt_number = ?", id, domain.IntentSucceeded, "").
		Updates(map[string]any{
			"receipt_number":       receipt,
			"raw_callback_payload": jsonOrNil(raw),
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStalePending returns correlated intents still pending since before.
func (r *IntentRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.PaymentIntent, error) {
	var out []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND checkout_request_id IS NOT NULL AND updated_at < ?", domain.IntentPending, before).
		Order("id").Limit(limit).Find(&out).Error
	return out, err
}

// ListUnsyncedSucceeded returns succeeded intents whose order was never marked paid.
func (r *IntentRepository) ListUnsyncedSucceeded(ctx context.Context, limit int) ([]models.PaymentIntent, error) {
	var out []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND order_synced_at IS NULL", domain.IntentSucceeded).
		Order("id").Limit(limit).Find(&out).Error
	return out, err
}

func (r *IntentRepository) MarkOrderSynced(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND order_synced_at IS NULL", id).
		UpdateColumn("order_synced_at", time.Now()).Error
}

func (r *IntentRepository) updatePending(ctx context.Context, id uint, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, domain.IntentPending).
		Updates(updates)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return ErrPendingExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// jsonOrNil stores non-JSON provider bodies (HTML error pages) as a JSON string.
func jsonOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		quoted, _ := json.Marshal(string(raw))
		return datatypes.JSON(quoted)
	}
	return datatypes.JSON(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
