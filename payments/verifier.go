package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/config"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/models"
)

var (
	ErrSecretNotConfigured = errors.New("webhook endpoint secret is not configured")
	ErrInvalidSignature    = errors.New("webhook signature verification failed")
	ErrMalformedEvent      = errors.New("malformed webhook event")
	ErrMissingOrderID      = errors.New("webhook event carries no order id")
)

const orderIDMetadataKey = "order_id"

// Currencies the provider charges in whole units.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(cfg config.PaymentSettings) *Verifier {
	tolerance := cfg.SignatureTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: cfg.WebhookSecret, tolerance: tolerance}
}

func (v *Verifier) Configured() bool {
	return v != nil && v.secret != ""
}

// Verify checks the signature header against the exact payload bytes and decodes the event.
func (v *Verifier) Verify(payload []byte, header string) (Event, error) {
	if !v.Configured() {
		return nil, ErrSecretNotConfigured
	}
	evt, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return Decode(evt)
}

// Decode converts a provider event into an Event.
func Decode(evt stripe.Event) (Event, error) {
	env := envelope{ID: evt.ID, Type: string(evt.Type)}
	switch env.Type {
	case TypeSessionCompleted, TypeSessionAsyncPaymentPassed, TypeSessionAsyncPaymentFailed:
		var session stripe.CheckoutSession
		if err := unmarshalObject(evt, &session); err != nil {
			return nil, err
		}
		orderID, err := orderIDFrom(session.Metadata, session.ClientReferenceID)
		if err != nil {
			return nil, err
		}
		if env.Type == TypeSessionAsyncPaymentFailed {
			return AsyncPaymentFailed{envelope: env, OrderID: orderID, SessionID: session.ID}, nil
		}
		return sessionCompleted(env, orderID, &session), nil

	case TypeChargeSucceeded, TypeChargeUpdated, TypeChargeFailed, TypeChargeRefunded:
		var charge stripe.Charge
		if err := unmarshalObject(evt, &charge); err != nil {
			return nil, err
		}
		orderID, err := orderIDFrom(charge.Metadata, "")
		if err != nil {
			return nil, err
		}
		status := ChargePaymentStatus(&charge)
		if status == "" {
			return nil, fmt.Errorf("%w: charge %s has status %q", ErrMalformedEvent, charge.ID, charge.Status)
		}
		return ChargeStatusChanged{
			envelope:      env,
			OrderID:       orderID,
			ChargeID:      charge.ID,
			PaymentStatus: status,
			Amount:        MinorUnits(charge.Amount, string(charge.Currency)),
			Currency:      string(charge.Currency),
		}, nil
	}
	return Unhandled{envelope: env}, nil
}

// ChargePaymentStatus maps a charge onto the payment lifecycle. A refunded charge is refunded
// whatever its status says.
func ChargePaymentStatus(charge *stripe.Charge) string {
	if charge.Refunded {
		return models.PaymentRefunded
	}
	switch charge.Status {
	case stripe.ChargeStatusSucceeded:
		return models.PaymentCompleted
	case stripe.ChargeStatusFailed:
		return models.PaymentFailed
	case stripe.ChargeStatusPending:
		return models.PaymentPending
	}
	return ""
}

// MinorUnits converts a provider amount in the currency's smallest unit into a decimal amount.
func MinorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

func sessionCompleted(env envelope, orderID uint, session *stripe.CheckoutSession) SessionCompleted {
	email := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		email = session.CustomerDetails.Email
	}
	method := "card"
	if len(session.PaymentMethodTypes) > 0 {
		method = session.PaymentMethodTypes[0]
	}
	var intent string
	if session.PaymentIntent != nil {
		intent = session.PaymentIntent.ID
	}
	return SessionCompleted{
		envelope:      env,
		OrderID:       orderID,
		SessionID:     session.ID,
		PaymentStatus: string(session.PaymentStatus),
		CustomerEmail: email,
		PaymentMethod: method,
		PaymentIntent: intent,
		Amount:        MinorUnits(session.AmountTotal, string(session.Currency)),
		Currency:      string(session.Currency),
	}
}

func unmarshalObject(evt stripe.Event, v interface{}) error {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return fmt.Errorf("%w: event %s has no data object", ErrMalformedEvent, evt.ID)
	}
	if err := json.Unmarshal(evt.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func orderIDFrom(metadata map[string]string, fallback string) (uint, error) {
	raw := strings.TrimSpace(metadata[orderIDMetadataKey])
	if raw == "" {
		raw = strings.TrimSpace(fallback)
	}
	if raw == "" {
		return 0, ErrMissingOrderID
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: order id %q", ErrMalformedEvent, raw)
	}
	return uint(id), nil
}
