package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentIntent is one attempt to collect payment for an order. Rows are never deleted.
// CheckoutRequestID and MerchantRequestID stay NULL until the provider accepts the push.
// PendingOrderID mirrors OrderID only while Status is pending, so the unique index
// allows at most one pending intent per order.
type PaymentIntent struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	CheckoutRequestID  *string         `gorm:"size:64;uniqueIndex" json:"checkout_request_id"`
	MerchantRequestID  *string         `gorm:"size:64;uniqueIndex" json:"merchant_request_id"`
	OrderID            uint            `gorm:"not null;index" json:"order_id"`
	PendingOrderID     *uint           `gorm:"uniqueIndex" json:"-"`
	UserID             uint            `gorm:"not null;index" json:"user_id"`
	Amount             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency           string          `gorm:"size:3;not null;default:'KES'" json:"currency"`
	Method             string          `gorm:"size:20;not null" json:"method"`
	Status             string          `gorm:"size:20;not null;index" json:"status"` // pending, succeeded, failed, initiation_failed
	PhoneNumber        string          `gorm:"size:20;not null" json:"phone_number"`
	CustomerEmail      string          `gorm:"size:255" json:"customer_email,omitempty"`
	CustomerName       string          `gorm:"size:255" json:"customer_name,omitempty"`
	ResultCode         *int            `json:"result_code"`
	ResultDescription  string          `gorm:"size:255" json:"result_description"`
	ReceiptNumber      string          `gorm:"size:32" json:"receipt_number"`
	RawInitResponse    datatypes.JSON  `json:"-"`
	RawCallbackPayload datatypes.JSON  `json:"-"`
	OrderSyncedAt      *time.Time      `json:"order_synced_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

func (p *PaymentIntent) CheckoutID() string {
	if p.CheckoutRequestID == nil {
		return ""
	}
	return *p.CheckoutRequestID
}

func (p *PaymentIntent) MerchantID() string {
	if p.MerchantRequestID == nil {
		return ""
	}
	return *p.MerchantRequestID
}
