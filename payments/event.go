package payments

import (
	"github.com/shopspring/decimal"
)

// Provider event types this service reacts to.
const (
	TypeSessionCompleted          = "checkout.session.completed"
	TypeSessionAsyncPaymentPassed = "checkout.session.async_payment_succeeded"
	TypeSessionAsyncPaymentFailed = "checkout.session.async_payment_failed"
	TypeChargeSucceeded           = "charge.succeeded"
	TypeChargeUpdated             = "charge.updated"
	TypeChargeFailed              = "charge.failed"
	TypeChargeRefunded            = "charge.refunded"
)

// Event is one verified provider event. The concrete type is one of SessionCompleted,
// AsyncPaymentFailed, ChargeStatusChanged or Unhandled.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

type envelope struct {
	ID   string
	Type string
}

func (e envelope) EventID() string   { return e.ID }
func (e envelope) EventType() string { return e.Type }
func (envelope) isEvent()            {}

// SessionCompleted is a checkout session that finished, possibly after an async payment.
type SessionCompleted struct {
	envelope
	OrderID       uint
	SessionID     string
	PaymentStatus string
	CustomerEmail string
	PaymentMethod string
	PaymentIntent string
	Amount        decimal.Decimal
	Currency      string
}

// Paid reports whether the provider considers the session paid.
func (e SessionCompleted) Paid() bool {
	return e.PaymentStatus == "paid"
}

type AsyncPaymentFailed struct {
	envelope
	OrderID   uint
	SessionID string
}

// ChargeStatusChanged carries a charge whose status has already been mapped to a payment status.
type ChargeStatusChanged struct {
	envelope
	OrderID       uint
	ChargeID      string
	PaymentStatus string
	Amount        decimal.Decimal
	Currency      string
}

// Unhandled is any event type without side effects here. It is acknowledged and dropped.
type Unhandled struct {
	envelope
}
