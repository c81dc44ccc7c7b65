package repository

import (
	"context"
	"time"

	"lipa/internal/domain"
	"lipa/internal/models"

	"gorm.io/gorm"
)

// Orders is the slice of the order service the payment flow is allowed to use.
type Orders interface {
	GetOrder(ctx context.Context, id uint) (*models.Order, error)
	SetOrderStatus(ctx context.Context, id uint, paymentStatus, status string) (bool, error)
}

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

var _ Orders = (*OrderRepository)(nil)

func (r *OrderRepository) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	var o models.Order
	if err := r.db.WithContext(ctx).First(&o, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// SetOrderStatus moves payment_status out of awaiting_payment. It reports false
// when the order had already left that state, so repeated calls are harmless.
func (r *OrderRepository) SetOrderStatus(ctx context.Context, id uint, paymentStatus, status string) (bool, error) {
	updates := map[string]any{"payment_status": paymentStatus}
	if status != "" {
		updates["status"] = status
	}
	if paymentStatus == domain.OrderPaymentCompleted {
		updates["paid_at"] = time.Now()
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", id, domain.OrderPaymentAwaiting).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
