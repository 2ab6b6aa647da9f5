package dbhelper

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/config"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/models"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

// RequestMeta is the client context written to the audit log.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type LoginRequest struct {
	Email    string
	Password string
	Path     string
	// PolicyFor picks the lockout budget from the account's role.
	PolicyFor func(role string) config.LockoutPolicy
	// RequireRole rejects verified credentials of any other role when set.
	RequireRole string
	OTPTTL      time.Duration
	Meta        RequestMeta
}

// LoginChallenge is the second factor issued after a correct password.
type LoginChallenge struct {
	User      models.User
	Code      string
	ExpiresAt time.Time
}

type OTPRequest struct {
	Email string
	Code  string
	Path  string
	// MaxAttempts wrong codes revoke the outstanding OTP.
	MaxAttempts int
	RequireRole string
	Meta        RequestMeta
}

// SignFunc issues the session token of a user that just authenticated.
type SignFunc func(user *models.User) (string, error)

// LoginWithPassword runs the first factor: lock checks, failure counting, OTP issue. The
// counter update and its audit row share one transaction.
func (s *Store) LoginWithPassword(ctx context.Context, req LoginRequest) (*LoginChallenge, error) {
	now := s.now()
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin login tx: %w", tx.Error)
	}
	defer tx.Rollback()

	user, err := lockUserByEmail(tx, req.Email)
	if errors.Is(err, ErrAccountNotFound) {
		if err := recordAttempt(tx, nil, req.Email, req.Path, models.AttemptFailed, utils.REASON_UNKNOWN_EMAIL, req.Meta, now); err != nil {
			return nil, err
		}
		return nil, commit(tx, ErrUnknownEmail)
	}
	if err != nil {
		return nil, err
	}

	if !user.Verified {
		if err := recordAttempt(tx, user, req.Email, req.Path, models.AttemptFailed, utils.REASON_ACCOUNT_PENDING, req.Meta, now); err != nil {
			return nil, err
		}
		return nil, commit(tx, ErrAccountPending)
	}

	if user.IsLocked(now) {
		if err := recordAttempt(tx, user, req.Email, req.Path, models.AttemptFailed, utils.REASON_ACCOUNT_LOCKED, req.Meta, now); err != nil {
			return nil, err
		}
		return nil, commit(tx, &AccountLockedError{Until: *user.AccountLockedUntil})
	}
	if user.AccountLockedUntil != nil {
		// the lock elapsed: start a fresh budget
		user.AccountLockedUntil = nil
		user.FailedLoginAttempts = 0
	}

	if utils.ComparePasswords(user.PasswordHash, req.Password) != nil {
		policy := req.PolicyFor(user.Role)
		user.FailedLoginAttempts++
		var result error
		var reason string
		if user.FailedLoginAttempts >= policy.MaxAttempts {
			until := now.Add(policy.LockDuration)
			user.AccountLockedUntil = &until
			reason = fmt.Sprintf("invalid password, account locked after %d failed attempts", user.FailedLoginAttempts)
			result = &AccountLockedError{Until: until}
		} else {
			remaining := policy.MaxAttempts - user.FailedLoginAttempts
			reason = fmt.Sprintf("invalid password, %d attempts remaining", remaining)
			result = &InvalidPasswordError{Remaining: remaining}
		}
		if err := tx.Save(user).Error; err != nil {
			return nil, fmt.Errorf("save failed login counter: %w", err)
		}
		if err := recordAttempt(tx, user, req.Email, req.Path, models.AttemptFailed, reason, req.Meta, now); err != nil {
			return nil, err
		}
		return nil, commit(tx, result)
	}

	if req.RequireRole != "" && user.Role != req.RequireRole {
		if err := recordAttempt(tx, user, req.Email, req.Path, models.AttemptFailed, utils.REASON_ROLE_NOT_ALLOWED, req.Meta, now); err != nil {
			return nil, err
		}
		return nil, commit(tx, ErrRoleNotAllowed)
	}

	code := utils.GenerateOTP()
	expires := now.Add(req.OTPTTL)
	user.FailedLoginAttempts = 0
	user.AccountLockedUntil = nil
	user.OTP = &code
	user.OTPExpires = &expires
	user.OTPAttempts = 0
	if err := tx.Save(user).Error; err != nil {
		return nil, fmt.Errorf("save login otp: %w", err)
	}
	if err := recordAttempt(tx, user, req.Email, req.Path, models.AttemptPending, utils.REASON_OTP_SENT, req.Meta, now); err != nil {
		return nil, err
	}
	if err := commit(tx, nil); err != nil {
		return nil, err
	}
	return &LoginChallenge{User: *user, Code: code, ExpiresAt: expires}, nil
}

// VerifyLoginOTP completes a login. Mismatched, expired and absent codes are indistinguishable
// to the caller; a consumed code is cleared so it cannot be replayed.
func (s *Store) VerifyLoginOTP(ctx context.Context, req OTPRequest, sign SignFunc) (*models.User, string, error) {
	now := s.now()
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, "", fmt.Errorf("begin otp tx: %w", tx.Error)
	}
	defer tx.Rollback()

	user, err := lockUserByEmail(tx, req.Email)
	if errors.Is(err, ErrAccountNotFound) {
		if err := recordAttempt(tx, nil, req.Email, req.Path, models.AttemptFailed, utils.REASON_UNKNOWN_EMAIL, req.Meta, now); err != nil {
			return nil, "", err
		}
		return nil, "", commit(tx, ErrAccountNotFound)
	}
	if err != nil {
		return nil, "", err
	}

	if user.IsLocked(now) {
		if err := recordAttempt(tx, user, req.Email, req.Path, models.AttemptFailed, utils.REASON_ACCOUNT_LOCKED, req.Meta, now); err != nil {
			return nil, "", err
		}
		return nil, "", commit(tx, &AccountLockedError{Until: *user.AccountLockedUntil})
	}

	if !otpMatches(user.OTP, user.OTPExpires, req.Code, now) {
		reason := utils.REASON_OTP_INVALID
		if user.OTP != nil {
			maxAttempts := req.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = utils.OTP_MAX_ATTEMPTS
			}
			user.OTPAttempts++
			if user.OTPAttempts >= maxAttempts {
				user.OTP = nil
				user.OTPExpires = nil
				user.OTPAttempts = 0
				reason = utils.REASON_OTP_EXHAUSTED
			}
			if err := tx.Save(user).Error; err != nil {
				return nil, "", fmt.Errorf("save otp attempts: %w", err)
			}
		}
		if err := recordAttempt(tx, user, req.Email, req.Path, models.AttemptFailed, reason, req.Meta, now); err != nil {
			return nil, "", err
		}
		return nil, "", commit(tx, ErrInvalidOTP)
	}

	if req.RequireRole != "" && user.Role != req.RequireRole {
		if err := recordAttempt(tx, user, req.Email, req.Path, models.AttemptFailed, utils.REASON_ROLE_NOT_ALLOWED, req.Meta, now); err != nil {
			return nil, "", err
		}
		return nil, "", commit(tx, ErrRoleNotAllowed)
	}

	token, err := sign(user)
	if err != nil {
		return nil, "", err
	}

	user.OTP = nil
	user.OTPExpires = nil
	user.OTPAttempts = 0
	user.FailedLoginAttempts = 0
	if err := tx.Save(user).Error; err != nil {
		return nil, "", fmt.Errorf("clear login otp: %w", err)
	}
	if err := recordAttempt(tx, user, req.Email, req.Path, models.AttemptSuccess, utils.REASON_OTP_VERIFIED, req.Meta, now); err != nil {
		return nil, "", err
	}
	if err := commit(tx, nil); err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// RecordLogout writes the logout audit row and revokes the presented token id.
func (s *Store) RecordLogout(ctx context.Context, userID uint, email, path, tokenID string, tokenExpires time.Time, meta RequestMeta) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := &models.User{}
		user.ID = userID
		if err := recordAttempt(tx, user, email, path, models.AttemptLogout, utils.REASON_LOGOUT, meta, now); err != nil {
			return err
		}
		if tokenID == "" {
			return nil
		}
		revoked := models.RevokedToken{TokenID: tokenID, UserID: userID, ExpiresAt: tokenExpires}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&revoked).Error; err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
		return nil
	})
}

func (s *Store) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.RevokedToken{}).Where("token_id = ?", tokenID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup revoked token: %w", err)
	}
	return count > 0, nil
}

// PurgeRevokedTokens drops denylist rows whose tokens have expired on their own.
func (s *Store) PurgeRevokedTokens(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", s.now()).Delete(&models.RevokedToken{})
	return res.RowsAffected, res.Error
}

func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// ListLoginAttempts pages through the audit log, newest first.
func (s *Store) ListLoginAttempts(ctx context.Context, page, limit int, status string) ([]models.LoginAttempt, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	q := s.db.WithContext(ctx).Model(&models.LoginAttempt{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count login attempts: %w", err)
	}
	var attempts []models.LoginAttempt
	err := q.Order("created_at DESC").Order("id DESC").Offset((page - 1) * limit).Limit(limit).Find(&attempts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list login attempts: %w", err)
	}
	return attempts, total, nil
}

func lockUserByEmail(tx *gorm.DB, email string) (*models.User, error) {
	var user models.User
	err := forUpdate(tx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &user, nil
}

func otpMatches(stored *string, expires *time.Time, submitted string, now time.Time) bool {
	if stored == nil || expires == nil || submitted == "" {
		return false
	}
	if !now.Before(*expires) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(submitted)) == 1
}

func recordAttempt(tx *gorm.DB, user *models.User, email, path, status, reason string, meta RequestMeta, now time.Time) error {
	attempt := models.LoginAttempt{
		Subject:   models.UnknownSubject,
		Email:     email,
		Path:      path,
		Status:    status,
		Reason:    reason,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}
	if user != nil && user.ID != 0 {
		id := user.ID
		attempt.UserID = &id
		attempt.Subject = models.SubjectFor(id)
	}
	if err := tx.Create(&attempt).Error; err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}
