package dbhelper

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/models"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

type RegisterRequest struct {
	Name string
	// Email must already be normalized; PasswordHash must already be hashed.
	Email        string
	PasswordHash string
	OTPTTL       time.Duration
}

type VerifyRegistrationRequest struct {
	UserID      uint
	Code        string
	MaxAttempts int
	Meta        RequestMeta
}

// CreatePendingUser creates an unverified account and its registration code. An earlier
// registration of the same email whose code expired unverified is purged first.
func (s *Store) CreatePendingUser(ctx context.Context, req RegisterRequest) (*models.User, string, error) {
	now := s.now()
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, "", fmt.Errorf("begin registration tx: %w", tx.Error)
	}
	defer tx.Rollback()

	var existing models.User
	err := forUpdate(tx.Unscoped()).Where("email = ?", req.Email).First(&existing).Error
	switch {
	case err == nil:
		stale, err := isStaleRegistration(tx, &existing, now)
		if err != nil {
			return nil, "", err
		}
		if !stale {
			return nil, "", ErrEmailTaken
		}
		if err := deletePendingUser(tx, existing.ID); err != nil {
			return nil, "", err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}

	user := models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: req.PasswordHash,
		Role:         models.RoleUser,
		Verified:     false,
	}
	if err := tx.Create(&user).Error; err != nil {
		return nil, "", fmt.Errorf("create pending user: %w", err)
	}

	code := utils.GenerateOTP()
	regCode := models.RegistrationCode{
		UserID:    user.ID,
		Code:      code,
		ExpiresAt: now.Add(req.OTPTTL),
	}
	if err := tx.Create(&regCode).Error; err != nil {
		return nil, "", fmt.Errorf("create registration code: %w", err)
	}

	if err := commit(tx, nil); err != nil {
		return nil, "", err
	}
	return &user, code, nil
}

// VerifyRegistration finalizes a pending account. The MaxAttempts-th wrong code deletes the
// pending account and its code outright; later calls see ErrRegistrationNotFound.
func (s *Store) VerifyRegistration(ctx context.Context, req VerifyRegistrationRequest, sign SignFunc) (*models.User, string, error) {
	now := s.now()
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, "", fmt.Errorf("begin registration tx: %w", tx.Error)
	}
	defer tx.Rollback()

	var user models.User
	err := forUpdate(tx).Where("id = ? AND verified = ?", req.UserID, false).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", ErrRegistrationNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup pending user: %w", err)
	}

	var regCode models.RegistrationCode
	err = forUpdate(tx).Where("user_id = ?", user.ID).First(&regCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", ErrRegistrationNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup registration code: %w", err)
	}

	valid := now.Before(regCode.ExpiresAt) &&
		req.Code != "" &&
		subtle.ConstantTimeCompare([]byte(regCode.Code), []byte(req.Code)) == 1
	if !valid {
		regCode.Attempts++
		remaining := req.MaxAttempts - regCode.Attempts
		if remaining <= 0 {
			if err := recordAttempt(tx, &user, user.Email, utils.USER_PATH, models.AttemptFailed, utils.REASON_REGISTRATION_CANCELLED, req.Meta, now); err != nil {
				return nil, "", err
			}
			if err := deletePendingUser(tx, user.ID); err != nil {
				return nil, "", err
			}
			return nil, "", commit(tx, &RegistrationOTPError{Remaining: 0})
		}
		if err := tx.Save(&regCode).Error; err != nil {
			return nil, "", fmt.Errorf("save registration attempts: %w", err)
		}
		if err := recordAttempt(tx, &user, user.Email, utils.USER_PATH, models.AttemptFailed, utils.REASON_REGISTRATION_OTP_INVALID, req.Meta, now); err != nil {
			return nil, "", err
		}
		return nil, "", commit(tx, &RegistrationOTPError{Remaining: remaining})
	}

	token, err := sign(&user)
	if err != nil {
		return nil, "", err
	}

	user.Verified = true
	user.OTP = nil
	user.OTPExpires = nil
	if err := tx.Save(&user).Error; err != nil {
		return nil, "", fmt.Errorf("verify user: %w", err)
	}
	if err := tx.Delete(&regCode).Error; err != nil {
		return nil, "", fmt.Errorf("delete registration code: %w", err)
	}
	if err := recordAttempt(tx, &user, user.Email, utils.USER_PATH, models.AttemptSuccess, "registration verified", req.Meta, now); err != nil {
		return nil, "", err
	}
	if err := commit(tx, nil); err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

func isStaleRegistration(tx *gorm.DB, user *models.User, now time.Time) (bool, error) {
	if user.Verified || user.DeletedAt.Valid {
		return false, nil
	}
	var regCode models.RegistrationCode
	err := tx.Where("user_id = ?", user.ID).First(&regCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup registration code: %w", err)
	}
	return !now.Before(regCode.ExpiresAt), nil
}

// deletePendingUser hard-deletes a never-verified account; verified accounts only soft-delete.
func deletePendingUser(tx *gorm.DB, userID uint) error {
	if err := tx.Where("user_id = ?", userID).Delete(&models.RegistrationCode{}).Error; err != nil {
		return fmt.Errorf("delete registration code: %w", err)
	}
	if err := tx.Unscoped().Where("id = ? AND verified = ?", userID, false).Delete(&models.User{}).Error; err != nil {
		return fmt.Errorf("delete pending user: %w", err)
	}
	return nil
}
