package payments

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/dbhelper"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/logger"
)

// ErrRetry marks errors the provider should be asked to redeliver (answered with a 5xx).
var ErrRetry = errors.New("retryable webhook failure")

var ErrSessionNotPaid = errors.New("checkout session is not paid")

// ShouldRetry reports whether err carries the retry marker.
func ShouldRetry(err error) bool {
	return errors.Is(err, ErrRetry)
}

// OrderStore is the datastore side of reconciliation.
type OrderStore interface {
	CompleteCheckout(ctx context.Context, p dbhelper.CheckoutPayment) (*dbhelper.ReconcileResult, error)
	ApplyChargeStatus(ctx context.Context, c dbhelper.ChargeUpdate) (*dbhelper.ReconcileResult, error)
	MarkPaymentFailed(ctx context.Context, f dbhelper.PaymentFailure) (*dbhelper.ReconcileResult, error)
	AppendOrderNote(ctx context.Context, orderID uint, note string) error
}

type Reconciler struct {
	store   OrderStore
	log     *zap.Logger
	metrics *Metrics
}

func NewReconciler(store OrderStore, log *zap.Logger, metrics *Metrics) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{store: store, log: log, metrics: metrics}
}

// Reconcile applies one verified event. Errors that do not carry ErrRetry are final: the
// event should be acknowledged and not redelivered.
func (r *Reconciler) Reconcile(ctx context.Context, evt Event) (*dbhelper.ReconcileResult, error) {
	log := logger.FromContext(ctx, r.log).With(
		zap.String("event_id", evt.EventID()),
		zap.String("event_type", evt.EventType()),
	)

	var (
		res *dbhelper.ReconcileResult
		err error
	)
	switch e := evt.(type) {
	case SessionCompleted:
		log = log.With(zap.Uint("order_id", e.OrderID))
		res, err = r.completeSession(ctx, e)
	case AsyncPaymentFailed:
		log = log.With(zap.Uint("order_id", e.OrderID))
		res, err = r.store.MarkPaymentFailed(ctx, dbhelper.PaymentFailure{
			EventID:   e.ID,
			EventType: e.Type,
			OrderID:   e.OrderID,
			Reason:    fmt.Sprintf("async payment failed for checkout session %s", e.SessionID),
		})
	case ChargeStatusChanged:
		log = log.With(zap.Uint("order_id", e.OrderID), zap.String("payment_status", e.PaymentStatus))
		res, err = r.store.ApplyChargeStatus(ctx, dbhelper.ChargeUpdate{
			EventID:       e.ID,
			EventType:     e.Type,
			OrderID:       e.OrderID,
			PaymentStatus: e.PaymentStatus,
			ProviderRef:   e.ChargeID,
			Amount:        e.Amount,
			Currency:      e.Currency,
		})
	case Unhandled:
		log.Debug("ignoring unhandled webhook event")
		r.metrics.observe(evt.EventType(), outcomeUnhandled)
		return &dbhelper.ReconcileResult{Ignored: true}, nil
	default:
		return nil, fmt.Errorf("unknown event %T", evt)
	}

	if err != nil {
		var stockErr *dbhelper.InsufficientStockError
		if errors.As(err, &stockErr) {
			r.noteStockShortfall(ctx, log, stockErr)
		}
		err = classify(err)
		if ShouldRetry(err) {
			log.Error("webhook reconciliation failed, provider will retry", zap.Error(err))
			r.metrics.observe(evt.EventType(), outcomeRetry)
		} else {
			log.Warn("webhook event rejected", zap.Error(err))
			r.metrics.observe(evt.EventType(), outcomeRejected)
		}
		return nil, err
	}

	switch {
	case res.Duplicate:
		log.Info("webhook event already applied")
		r.metrics.observe(evt.EventType(), outcomeDuplicate)
	case res.Ignored:
		log.Info("webhook event did not move order forward", zap.String("order_status", res.OrderStatus))
		r.metrics.observe(evt.EventType(), outcomeIgnored)
	default:
		log.Info("webhook event applied",
			zap.String("order_status", res.OrderStatus),
			zap.Bool("finalized", res.Finalized),
		)
		r.metrics.observe(evt.EventType(), outcomeApplied)
	}
	if res.Finalized {
		r.metrics.finalized()
	}
	return res, nil
}

func (r *Reconciler) completeSession(ctx context.Context, e SessionCompleted) (*dbhelper.ReconcileResult, error) {
	if !e.Paid() {
		return nil, fmt.Errorf("%w: session %s payment_status %q", ErrSessionNotPaid, e.SessionID, e.PaymentStatus)
	}
	ref := e.PaymentIntent
	if ref == "" {
		ref = e.SessionID
	}
	return r.store.CompleteCheckout(ctx, dbhelper.CheckoutPayment{
		EventID:       e.ID,
		EventType:     e.Type,
		OrderID:       e.OrderID,
		CustomerEmail: e.CustomerEmail,
		Method:        e.PaymentMethod,
		ProviderRef:   ref,
		Amount:        e.Amount,
		Currency:      e.Currency,
	})
}

// noteStockShortfall records on the order that a payment arrived for items no longer in
// stock. The finalizing transaction rolled back, so the note is written on its own.
func (r *Reconciler) noteStockShortfall(ctx context.Context, log *zap.Logger, stockErr *dbhelper.InsufficientStockError) {
	note := fmt.Sprintf("payment received but %s", stockErr.Error())
	if err := r.store.AppendOrderNote(ctx, stockErr.OrderID, note); err != nil {
		log.Error("append stock shortfall note", zap.Error(err))
	}
}

// classify adds the retry marker to anything that is not a known final outcome.
func classify(err error) error {
	var stockErr *dbhelper.InsufficientStockError
	switch {
	case errors.Is(err, ErrRetry),
		errors.Is(err, ErrSessionNotPaid),
		errors.Is(err, dbhelper.ErrOrderNotFound),
		errors.Is(err, dbhelper.ErrPaymentNotFound),
		errors.Is(err, dbhelper.ErrEmailMismatch),
		errors.As(err, &stockErr):
		return err
	}
	return fmt.Errorf("%w: %w", ErrRetry, err)
}
