package dbhelper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/models"
)

// CheckoutPayment is a paid checkout session reported by the payment provider.
type CheckoutPayment struct {
	EventID       string
	EventType     string
	OrderID       uint
	CustomerEmail string
	Method        string
	ProviderRef   string
	Amount        decimal.Decimal
	Currency      string
}

// ChargeUpdate is a provider charge whose status maps onto a payment status.
type ChargeUpdate struct {
	EventID       string
	EventType     string
	OrderID       uint
	PaymentStatus string
	ProviderRef   string
	Amount        decimal.Decimal
	Currency      string
}

type PaymentFailure struct {
	EventID   string
	EventType string
	OrderID   uint
	Reason    string
}

// ReconcileResult describes what one webhook event changed.
type ReconcileResult struct {
	OrderID uint
	// Duplicate is set when the event id was already applied.
	Duplicate bool
	// Finalized is set when this event decremented stock and cleared the cart.
	Finalized     bool
	OrderStatus   string
	PaymentStatus string
	// Ignored is set when the event asked for a backwards transition.
	Ignored bool
}

// CompleteCheckout records the completed payment of an order and finalizes it. Replaying the
// same event, or finalizing an order a charge event already finalized, changes nothing.
func (s *Store) CompleteCheckout(ctx context.Context, p CheckoutPayment) (*ReconcileResult, error) {
	now := s.now()
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin checkout tx: %w", tx.Error)
	}
	defer tx.Rollback()

	order, err := lockOrder(tx, p.OrderID)
	if err != nil {
		return nil, err
	}

	if p.CustomerEmail != "" {
		var owner models.User
		err := tx.Unscoped().Select("id", "email").First(&owner, order.UserID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lookup order owner: %w", err)
		}
		if owner.Email != "" && !strings.EqualFold(owner.Email, p.CustomerEmail) {
			return nil, ErrEmailMismatch
		}
	}

	result := &ReconcileResult{OrderID: order.ID}
	claimed, err := claimEvent(tx, p.EventID, p.EventType, order.ID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		result.Duplicate = true
		result.OrderStatus = order.Status
		return result, commit(tx, nil)
	}

	payment, err := lockPaymentForOrder(tx, order.ID)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		orderID := order.ID
		payment = &models.Payment{
			OrderID:       &orderID,
			PaymentMethod: p.Method,
			ProviderRef:   p.ProviderRef,
			Amount:        p.Amount,
			Currency:      p.Currency,
			Status:        models.PaymentCompleted,
		}
		if err := tx.Create(payment).Error; err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
	case err != nil:
		return nil, err
	case models.CanTransitionPayment(payment.Status, models.PaymentCompleted):
		payment.Status = models.PaymentCompleted
		payment.Amount = p.Amount
		payment.Currency = p.Currency
		if p.ProviderRef != "" {
			payment.ProviderRef = p.ProviderRef
		}
		if err := tx.Save(payment).Error; err != nil {
			return nil, fmt.Errorf("complete payment: %w", err)
		}
	}
	result.PaymentStatus = payment.Status

	if payment.Status == models.PaymentCompleted {
		finalized, err := finalizeOrder(tx, order, payment.ID)
		if err != nil {
			return nil, err
		}
		result.Finalized = finalized
	} else {
		result.Ignored = true
	}
	if err := linkPayment(tx, order, payment.ID); err != nil {
		return nil, err
	}
	result.OrderStatus = order.Status

	return result, commit(tx, nil)
}

// ApplyChargeStatus mirrors a charge onto the order's existing payment and lets the order follow.
func (s *Store) ApplyChargeStatus(ctx context.Context, c ChargeUpdate) (*ReconcileResult, error) {
	now := s.now()
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin charge tx: %w", tx.Error)
	}
	defer tx.Rollback()

	order, err := lockOrder(tx, c.OrderID)
	if err != nil {
		return nil, err
	}
	payment, err := lockPaymentForOrder(tx, order.ID)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{OrderID: order.ID, OrderStatus: order.Status, PaymentStatus: payment.Status}
	claimed, err := claimEvent(tx, c.EventID, c.EventType, order.ID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		result.Duplicate = true
		return result, commit(tx, nil)
	}

	if payment.Status != c.PaymentStatus {
		if !models.CanTransitionPayment(payment.Status, c.PaymentStatus) {
			result.Ignored = true
			return result, commit(tx, nil)
		}
		payment.Status = c.PaymentStatus
		if c.PaymentStatus == models.PaymentCompleted && !c.Amount.IsZero() {
			payment.Amount = c.Amount
			payment.Currency = c.Currency
		}
		if c.ProviderRef != "" {
			payment.ProviderRef = c.ProviderRef
		}
		if err := tx.Save(payment).Error; err != nil {
			return nil, fmt.Errorf("update payment status: %w", err)
		}
	}
	result.PaymentStatus = payment.Status

	target := models.OrderStatusForPayment(payment.Status)
	switch {
	case target == models.OrderProcessing:
		finalized, err := finalizeOrder(tx, order, payment.ID)
		if err != nil {
			return nil, err
		}
		result.Finalized = finalized
	case target != "" && target != order.Status && models.CanTransitionOrder(order.Status, target):
		if err := transitionOrder(tx, order, target); err != nil {
			return nil, err
		}
	}
	result.OrderStatus = order.Status

	return result, commit(tx, nil)
}

// MarkPaymentFailed moves an order to Payment Failed and appends a note. Stock and cart are untouched.
func (s *Store) MarkPaymentFailed(ctx context.Context, f PaymentFailure) (*ReconcileResult, error) {
	now := s.now()
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin payment failure tx: %w", tx.Error)
	}
	defer tx.Rollback()

	order, err := lockOrder(tx, f.OrderID)
	if err != nil {
		return nil, err
	}
	result := &ReconcileResult{OrderID: order.ID, OrderStatus: order.Status}
	claimed, err := claimEvent(tx, f.EventID, f.EventType, order.ID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		result.Duplicate = true
		return result, commit(tx, nil)
	}

	if err := appendNote(tx, order, noteLine(now, f.Reason)); err != nil {
		return nil, err
	}
	if models.CanTransitionOrder(order.Status, models.OrderPaymentFailed) {
		if err := transitionOrder(tx, order, models.OrderPaymentFailed); err != nil {
			return nil, err
		}
	} else {
		result.Ignored = true
	}
	result.OrderStatus = order.Status

	return result, commit(tx, nil)
}

// AppendOrderNote adds a timestamped line to the order notes.
func (s *Store) AppendOrderNote(ctx context.Context, orderID uint, note string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		return appendNote(tx, order, noteLine(s.now(), note))
	})
}

// GetOrder loads an order with its items and payment.
func (s *Store) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items").Preload("Payment").First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

// finalizeOrder moves the order to Processing, decrements stock for every item and clears the
// owner's cart, all or nothing. The status update is a compare-and-set on the observed prior
// status and the stock flag, so a second call for the same order is a no-op.
func finalizeOrder(tx *gorm.DB, order *models.Order, paymentID uint) (bool, error) {
	if order.StockAdjusted || !models.CanTransitionOrder(order.Status, models.OrderProcessing) {
		return false, nil
	}

	res := tx.Model(&models.Order{}).
		Where("id = ? AND status = ? AND stock_adjusted = ?", order.ID, order.Status, false).
		Updates(map[string]interface{}{
			"status":         models.OrderProcessing,
			"stock_adjusted": true,
			"payment_id":     paymentID,
		})
	if res.Error != nil {
		return false, fmt.Errorf("finalize order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	var items []models.OrderItem
	if err := tx.Where("order_id = ?", order.ID).Order("id").Find(&items).Error; err != nil {
		return false, fmt.Errorf("load order items: %w", err)
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		res := tx.Model(&models.ProductVariant{}).
			Where("id = ? AND stock >= ?", item.ProductVariantID, item.Quantity).
			UpdateColumn("stock", gorm.Expr("stock - ?", item.Quantity))
		if res.Error != nil {
			return false, fmt.Errorf("decrement stock for variant %d: %w", item.ProductVariantID, res.Error)
		}
		if res.RowsAffected == 0 {
			return false, &InsufficientStockError{OrderID: order.ID, VariantID: item.ProductVariantID, Requested: item.Quantity}
		}
	}

	if err := tx.Where("user_id = ?", order.UserID).Delete(&models.Cart{}).Error; err != nil {
		return false, fmt.Errorf("clear cart: %w", err)
	}

	order.Status = models.OrderProcessing
	order.StockAdjusted = true
	order.PaymentID = &paymentID
	return true, nil
}

func transitionOrder(tx *gorm.DB, order *models.Order, to string) error {
	res := tx.Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, order.Status).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("update order status: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		order.Status = to
	}
	return nil
}

func linkPayment(tx *gorm.DB, order *models.Order, paymentID uint) error {
	if order.PaymentID != nil && *order.PaymentID == paymentID {
		return nil
	}
	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Update("payment_id", paymentID).Error; err != nil {
		return fmt.Errorf("link payment: %w", err)
	}
	order.PaymentID = &paymentID
	return nil
}

func appendNote(tx *gorm.DB, order *models.Order, line string) error {
	notes := line
	if order.Notes != "" {
		notes = order.Notes + "\n" + line
	}
	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Update("notes", notes).Error; err != nil {
		return fmt.Errorf("append order note: %w", err)
	}
	order.Notes = notes
	return nil
}

func noteLine(now time.Time, note string) string {
	return fmt.Sprintf("[%s] %s", now.UTC().Format(time.RFC3339), note)
}

func lockOrder(tx *gorm.DB, id uint) (*models.Order, error) {
	var order models.Order
	err := forUpdate(tx).First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup order: %w", err)
	}
	return &order, nil
}

func lockPaymentForOrder(tx *gorm.DB, orderID uint) (*models.Payment, error) {
	var payment models.Payment
	err := forUpdate(tx).Where("order_id = ?", orderID).Order("id").First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup payment: %w", err)
	}
	return &payment, nil
}

// claimEvent records a provider event id. It reports false when the id was already recorded.
func claimEvent(tx *gorm.DB, eventID, eventType string, orderID uint, now time.Time) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	evt := models.WebhookEvent{EventID: eventID, Type: eventType, OrderID: orderID, ProcessedAt: now}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&evt)
	if res.Error != nil {
		return false, fmt.Errorf("record webhook event: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
