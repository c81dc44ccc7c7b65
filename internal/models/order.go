package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is owned by the storefront. This service only reads it and moves
// PaymentStatus out of awaiting_payment.
type Order struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"not null;index" json:"user_id"`
	Total         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	Status        string          `gorm:"size:20;not null;default:'pending'" json:"status"`
	PaymentStatus string          `gorm:"size:20;not null;default:'awaiting_payment';index" json:"payment_status"`
	PaidAt        *time.Time      `json:"paid_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}
