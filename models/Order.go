package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderPending       = "Pending"
	OrderProcessing    = "Processing"
	OrderPaymentFailed = "Payment Failed"
	OrderCancelled     = "Cancelled"
	OrderShipped       = "Shipped"
	OrderDelivered     = "Delivered"
	OrderRefunded      = "Refunded"
)

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

var orderTransitions = map[string][]string{
	OrderPending:       {OrderProcessing, OrderPaymentFailed, OrderCancelled},
	OrderPaymentFailed: {OrderPending, OrderProcessing, OrderCancelled},
	OrderProcessing:    {OrderShipped, OrderCancelled, OrderRefunded},
	OrderShipped:       {OrderDelivered, OrderRefunded},
	OrderDelivered:     {OrderRefunded},
}

var paymentTransitions = map[string][]string{
	PaymentPending:   {PaymentCompleted, PaymentFailed},
	PaymentCompleted: {PaymentRefunded},
	PaymentFailed:    {PaymentRefunded},
}

// CanTransitionOrder reports whether from -> to is a forward move of the order lifecycle.
func CanTransitionOrder(from, to string) bool {
	return contains(orderTransitions[from], to)
}

// CanTransitionPayment reports whether from -> to is a forward move of the payment lifecycle.
func CanTransitionPayment(from, to string) bool {
	return contains(paymentTransitions[from], to)
}

// OrderStatusForPayment is the order status that follows a payment status, or "" when none does.
func OrderStatusForPayment(paymentStatus string) string {
	switch paymentStatus {
	case PaymentCompleted:
		return OrderProcessing
	case PaymentFailed:
		return OrderCancelled
	case PaymentPending:
		return OrderPending
	case PaymentRefunded:
		return OrderRefunded
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Order is a purchase. StockAdjusted flips to true exactly once, in the transaction that
// decrements stock for its items.
type Order struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"index" json:"userId"`
	AddressID     uint            `json:"addressId"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(12,2)" json:"totalAmount"`
	Status        string          `gorm:"size:32;index;default:Pending" json:"status"`
	PaymentID     *uint           `json:"paymentId,omitempty"`
	StockAdjusted bool            `json:"stockAdjusted"`
	Notes         string          `json:"notes,omitempty"`
	Items         []OrderItem     `json:"items,omitempty"`
	Payment       *Payment        `gorm:"foreignKey:PaymentID" json:"payment,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type OrderItem struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	OrderID          uint            `gorm:"index" json:"orderId"`
	ProductVariantID uint            `json:"productVariantId"`
	Quantity         int             `json:"quantity"`
	PriceAtPurchase  decimal.Decimal `gorm:"type:decimal(12,2)" json:"priceAtPurchase"`
}

type Payment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	OrderID       *uint           `gorm:"index" json:"orderId,omitempty"`
	PaymentMethod string          `gorm:"size:32" json:"paymentMethod"`
	ProviderRef   string          `gorm:"size:128" json:"providerRef"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	Currency      string          `gorm:"size:8" json:"currency"`
	Status        string          `gorm:"size:16;index" json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type ProductVariant struct {
	ID        uint   `gorm:"primaryKey"`
	ProductID uint   `gorm:"index"`
	SKU       string `gorm:"size:64"`
	Stock     int
	Price     decimal.Decimal `gorm:"type:decimal(12,2)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Cart struct {
	ID               uint `gorm:"primaryKey"`
	UserID           uint `gorm:"index"`
	ProductVariantID uint
	Quantity         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// WebhookEvent remembers provider event ids whose side effects are committed.
type WebhookEvent struct {
	ID          uint   `gorm:"primaryKey"`
	EventID     string `gorm:"size:128;uniqueIndex"`
	Type        string `gorm:"size:64"`
	OrderID     uint   `gorm:"index"`
	ProcessedAt time.Time
}
