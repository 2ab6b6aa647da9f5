package dbhelper

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/models"
)

func checkout(eventID string, orderID uint) CheckoutPayment {
	return CheckoutPayment{
		EventID:       eventID,
		EventType:     "checkout.session.completed",
		OrderID:       orderID,
		CustomerEmail: "buyer@example.com",
		Method:        "card",
		ProviderRef:   "cs_test_1",
		Amount:        decimal.RequireFromString("45.00"),
		Currency:      "inr",
	}
}

func loadOrder(t *testing.T, s *Store, id uint) models.Order {
	t.Helper()
	var order models.Order
	if err := s.DB().First(&order, id).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	return order
}

func TestCompleteCheckoutFinalizesOrder(t *testing.T) {
	s, _ := newTestStore(t)
	fx := seedOrder(t, s, 42, [2]int{5, 2}, [2]int{3, 1})

	res, err := s.CompleteCheckout(context.Background(), checkout("evt_1", 42))
	if err != nil {
		t.Fatalf("CompleteCheckout: %v", err)
	}
	if !res.Finalized || res.Duplicate || res.OrderStatus != models.OrderProcessing {
		t.Fatalf("unexpected result %+v", res)
	}

	if got := stockOf(t, s, fx.variants[0].ID); got != 3 {
		t.Fatalf("variant 1 stock = %d, want 3", got)
	}
	if got := stockOf(t, s, fx.variants[1].ID); got != 2 {
		t.Fatalf("variant 2 stock = %d, want 2", got)
	}

	order := loadOrder(t, s, 42)
	if order.Status != models.OrderProcessing || !order.StockAdjusted || order.PaymentID == nil {
		t.Fatalf("unexpected order %+v", order)
	}

	var payments []models.Payment
	s.DB().Where("order_id = ?", 42).Find(&payments)
	if len(payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(payments))
	}
	if payments[0].Status != models.PaymentCompleted || !payments[0].Amount.Equal(decimal.RequireFromString("45")) || payments[0].Currency != "inr" {
		t.Fatalf("unexpected payment %+v", payments[0])
	}
	if *order.PaymentID != payments[0].ID {
		t.Fatalf("order not linked to payment")
	}

	if n := countRows(t, s, &models.Cart{}, "user_id = ?", fx.user.ID); n != 0 {
		t.Fatalf("cart rows = %d, want 0", n)
	}
}

func TestCompleteCheckoutIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	fx := seedOrder(t, s, 42, [2]int{5, 2}, [2]int{3, 1})
	ctx := context.Background()

	if _, err := s.CompleteCheckout(ctx, checkout("evt_1", 42)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	res, err := s.CompleteCheckout(ctx, checkout("evt_1", 42))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !res.Duplicate || res.Finalized {
		t.Fatalf("redelivery result %+v", res)
	}

	// a different event for the same purchase must not finalize twice either
	res, err = s.CompleteCheckout(ctx, checkout("evt_2", 42))
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if res.Finalized {
		t.Fatal("order finalized twice")
	}

	if got := stockOf(t, s, fx.variants[0].ID); got != 3 {
		t.Fatalf("variant 1 stock = %d, want 3", got)
	}
	if got := stockOf(t, s, fx.variants[1].ID); got != 2 {
		t.Fatalf("variant 2 stock = %d, want 2", got)
	}
	if n := countRows(t, s, &models.Payment{}, "order_id = ?", 42); n != 1 {
		t.Fatalf("payments = %d, want 1", n)
	}
}

func TestCompleteCheckoutInsufficientStockChangesNothing(t *testing.T) {
	s, _ := newTestStore(t)
	fx := seedOrder(t, s, 7, [2]int{5, 2}, [2]int{1, 2})

	_, err := s.CompleteCheckout(context.Background(), checkout("evt_1", 7))
	var serr *InsufficientStockError
	if !errors.As(err, &serr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if serr.VariantID != fx.variants[1].ID {
		t.Fatalf("short variant = %d, want %d", serr.VariantID, fx.variants[1].ID)
	}

	if got := stockOf(t, s, fx.variants[0].ID); got != 5 {
		t.Fatalf("variant 1 stock = %d, want 5 (untouched)", got)
	}
	if got := stockOf(t, s, fx.variants[1].ID); got != 1 {
		t.Fatalf("variant 2 stock = %d, want 1 (untouched)", got)
	}
	order := loadOrder(t, s, 7)
	if order.Status != models.OrderPending || order.StockAdjusted {
		t.Fatalf("order changed: %+v", order)
	}
	if n := countRows(t, s, &models.Payment{}, ""); n != 0 {
		t.Fatalf("payments = %d, want 0", n)
	}
	if n := countRows(t, s, &models.WebhookEvent{}, ""); n != 0 {
		t.Fatalf("event recorded for an aborted transaction")
	}
	if n := countRows(t, s, &models.Cart{}, "user_id = ?", fx.user.ID); n != 2 {
		t.Fatalf("cart rows = %d, want 2", n)
	}
}

func TestCompleteCheckoutRejectsEmailMismatch(t *testing.T) {
	s, _ := newTestStore(t)
	fx := seedOrder(t, s, 9, [2]int{5, 1})

	p := checkout("evt_1", 9)
	p.CustomerEmail = "someone-else@example.com"
	if _, err := s.CompleteCheckout(context.Background(), p); !errors.Is(err, ErrEmailMismatch) {
		t.Fatalf("expected ErrEmailMismatch, got %v", err)
	}
	if got := stockOf(t, s, fx.variants[0].ID); got != 5 {
		t.Fatalf("stock changed to %d", got)
	}

	p.CustomerEmail = "BUYER@example.com"
	if _, err := s.CompleteCheckout(context.Background(), p); err != nil {
		t.Fatalf("case-insensitive match rejected: %v", err)
	}
}

func TestCompleteCheckoutUnknownOrder(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.CompleteCheckout(context.Background(), checkout("evt_1", 404)); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMarkPaymentFailed(t *testing.T) {
	s, _ := newTestStore(t)
	fx := seedOrder(t, s, 5, [2]int{5, 1})
	ctx := context.Background()

	res, err := s.MarkPaymentFailed(ctx, PaymentFailure{EventID: "evt_f", OrderID: 5, Reason: "async payment failed"})
	if err != nil {
		t.Fatalf("MarkPaymentFailed: %v", err)
	}
	if res.OrderStatus != models.OrderPaymentFailed {
		t.Fatalf("status = %q", res.OrderStatus)
	}
	order := loadOrder(t, s, 5)
	if order.Status != models.OrderPaymentFailed || !strings.Contains(order.Notes, "async payment failed") {
		t.Fatalf("unexpected order %+v", order)
	}
	if got := stockOf(t, s, fx.variants[0].ID); got != 5 {
		t.Fatalf("stock changed to %d", got)
	}
	if n := countRows(t, s, &models.Cart{}, "user_id = ?", fx.user.ID); n != 1 {
		t.Fatal("cart must be kept")
	}

	res, err = s.MarkPaymentFailed(ctx, PaymentFailure{EventID: "evt_f", OrderID: 5, Reason: "async payment failed"})
	if err != nil || !res.Duplicate {
		t.Fatalf("redelivery: %+v %v", res, err)
	}
	if got := loadOrder(t, s, 5).Notes; strings.Count(got, "async payment failed") != 1 {
		t.Fatalf("note appended twice: %q", got)
	}

	if _, err := s.MarkPaymentFailed(ctx, PaymentFailure{OrderID: 999}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func seedPendingPayment(t *testing.T, s *Store, orderID uint) models.Payment {
	t.Helper()
	id := orderID
	p := models.Payment{OrderID: &id, PaymentMethod: "card", Amount: decimal.NewFromInt(1), Currency: "inr", Status: models.PaymentPending}
	if err := s.DB().Create(&p).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}

func TestApplyChargeStatusRequiresPayment(t *testing.T) {
	s, _ := newTestStore(t)
	seedOrder(t, s, 3, [2]int{5, 1})

	_, err := s.ApplyChargeStatus(context.Background(), ChargeUpdate{EventID: "evt_c", OrderID: 3, PaymentStatus: models.PaymentCompleted})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
	if loadOrder(t, s, 3).Status != models.OrderPending {
		t.Fatal("order changed without a payment row")
	}
}

func TestApplyChargeStatusCompletedFinalizesOnce(t *testing.T) {
	s, _ := newTestStore(t)
	fx := seedOrder(t, s, 3, [2]int{5, 2})
	seedPendingPayment(t, s, 3)
	ctx := context.Background()

	charge := ChargeUpdate{
		EventID:       "evt_c1",
		EventType:     "charge.updated",
		OrderID:       3,
		PaymentStatus: models.PaymentCompleted,
		ProviderRef:   "ch_1",
		Amount:        decimal.RequireFromString("30.00"),
		Currency:      "inr",
	}
	res, err := s.ApplyChargeStatus(ctx, charge)
	if err != nil {
		t.Fatalf("ApplyChargeStatus: %v", err)
	}
	if !res.Finalized || res.OrderStatus != models.OrderProcessing || res.PaymentStatus != models.PaymentCompleted {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := stockOf(t, s, fx.variants[0].ID); got != 3 {
		t.Fatalf("stock = %d, want 3", got)
	}

	var payment models.Payment
	s.DB().Where("order_id = ?", 3).First(&payment)
	if !payment.Amount.Equal(decimal.NewFromInt(30)) || payment.ProviderRef != "ch_1" {
		t.Fatalf("payment not updated from charge: %+v", payment)
	}

	// charge.succeeded for the same purchase, then the checkout session itself
	charge.EventID = "evt_c2"
	charge.EventType = "charge.succeeded"
	if res, err := s.ApplyChargeStatus(ctx, charge); err != nil || res.Finalized {
		t.Fatalf("second charge event: %+v %v", res, err)
	}
	if res, err := s.CompleteCheckout(ctx, checkout("evt_s", 3)); err != nil || res.Finalized {
		t.Fatalf("session after charge: %+v %v", res, err)
	}
	if got := stockOf(t, s, fx.variants[0].ID); got != 3 {
		t.Fatalf("stock = %d after redundant events, want 3", got)
	}
	if n := countRows(t, s, &models.Payment{}, "order_id = ?", 3); n != 1 {
		t.Fatalf("payments = %d, want 1", n)
	}
}

func TestApplyChargeStatusFailedCancelsPendingOrder(t *testing.T) {
	s, _ := newTestStore(t)
	fx := seedOrder(t, s, 3, [2]int{5, 2})
	seedPendingPayment(t, s, 3)

	res, err := s.ApplyChargeStatus(context.Background(), ChargeUpdate{EventID: "evt_c", OrderID: 3, PaymentStatus: models.PaymentFailed})
	if err != nil {
		t.Fatalf("ApplyChargeStatus: %v", err)
	}
	if res.PaymentStatus != models.PaymentFailed || res.OrderStatus != models.OrderCancelled {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := stockOf(t, s, fx.variants[0].ID); got != 5 {
		t.Fatalf("stock = %d, want 5", got)
	}
}

func TestApplyChargeStatusIgnoresBackwardsMove(t *testing.T) {
	s, _ := newTestStore(t)
	seedOrder(t, s, 3, [2]int{5, 2})
	ctx := context.Background()
	if _, err := s.CompleteCheckout(ctx, checkout("evt_s", 3)); err != nil {
		t.Fatalf("CompleteCheckout: %v", err)
	}

	res, err := s.ApplyChargeStatus(ctx, ChargeUpdate{EventID: "evt_late", OrderID: 3, PaymentStatus: models.PaymentPending})
	if err != nil {
		t.Fatalf("ApplyChargeStatus: %v", err)
	}
	if !res.Ignored {
		t.Fatalf("expected ignored result, got %+v", res)
	}
	if status := loadOrder(t, s, 3).Status; status != models.OrderProcessing {
		t.Fatalf("order status regressed to %q", status)
	}
}

func TestAppendOrderNoteAndGetOrder(t *testing.T) {
	s, _ := newTestStore(t)
	seedOrder(t, s, 11, [2]int{5, 1}, [2]int{5, 2})
	ctx := context.Background()

	if err := s.AppendOrderNote(ctx, 11, "first"); err != nil {
		t.Fatalf("AppendOrderNote: %v", err)
	}
	if err := s.AppendOrderNote(ctx, 11, "second"); err != nil {
		t.Fatalf("AppendOrderNote: %v", err)
	}

	order, err := s.GetOrder(ctx, 11)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(order.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(order.Items))
	}
	lines := strings.Split(order.Notes, "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[1], "second") {
		t.Fatalf("unexpected notes %q", order.Notes)
	}

	if _, err := s.GetOrder(ctx, 12); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
