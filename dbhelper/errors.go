package dbhelper

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownEmail         = errors.New("no account with that email")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountPending       = errors.New("account pending verification")
	ErrRoleNotAllowed       = errors.New("account role cannot sign in on this path")
	ErrInvalidOTP           = errors.New("invalid or expired otp")
	ErrEmailTaken           = errors.New("email already registered")
	ErrRegistrationNotFound = errors.New("registration not found")

	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found for order")
	ErrEmailMismatch   = errors.New("customer email does not match order owner")
)

// AccountLockedError is returned while an account lock has not elapsed.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// InvalidPasswordError is a wrong password that did not lock the account.
type InvalidPasswordError struct {
	Remaining int
}

func (e *InvalidPasswordError) Error() string {
	return fmt.Sprintf("invalid password, %d attempts remaining", e.Remaining)
}

// RegistrationOTPError is a wrong or expired registration code. Remaining 0 means the
// pending account was deleted.
type RegistrationOTPError struct {
	Remaining int
}

func (e *RegistrationOTPError) Error() string {
	if e.Remaining == 0 {
		return "invalid registration otp, registration cancelled"
	}
	return fmt.Sprintf("invalid registration otp, %d attempts remaining", e.Remaining)
}

func (e *RegistrationOTPError) Cancelled() bool {
	return e.Remaining == 0
}

// InsufficientStockError aborts order finalization.
type InsufficientStockError struct {
	OrderID   uint
	VariantID uint
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d (order %d, requested %d)", e.VariantID, e.OrderID, e.Requested)
}
