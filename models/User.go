package models

import (
	"strconv"
	"time"

	"gorm.io/gorm"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Login attempt statuses.
const (
	AttemptFailed  = "failed"
	AttemptPending = "pending"
	AttemptSuccess = "success"
	AttemptLogout  = "logout"
)

// UnknownSubject is recorded when the submitted email matches no account.
const UnknownSubject = "unknown"

// User is an account. Verified is false while a self-registration waits for its OTP.
type User struct {
	gorm.Model
	Name                string
	Email               string `gorm:"size:191;uniqueIndex"`
	PasswordHash        string
	Role                string `gorm:"size:32;default:user"`
	Verified            bool
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time
	OTP                 *string `gorm:"size:16"`
	OTPExpires          *time.Time
	// OTPAttempts counts wrong codes against the current OTP.
	OTPAttempts int
}

// IsLocked reports whether the lock timestamp is still in the future.
func (u *User) IsLocked(now time.Time) bool {
	return u.AccountLockedUntil != nil && u.AccountLockedUntil.After(now)
}

// Profile is the public view of an account.
type Profile struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// LoginAttempt is an append-only audit row for every authentication event.
type LoginAttempt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    *uint     `gorm:"index" json:"userId,omitempty"`
	Subject   string    `gorm:"size:64;index" json:"subject"`
	Email     string    `gorm:"size:191" json:"email"`
	Path      string    `gorm:"size:16" json:"path"`
	Status    string    `gorm:"size:16;index" json:"status"`
	Reason    string    `json:"reason"`
	IP        string    `gorm:"size:64" json:"ip"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// SubjectFor returns the audit subject of an account id.
func SubjectFor(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

// RegistrationCode holds the pending OTP of a self-registration.
type RegistrationCode struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"uniqueIndex"`
	Code      string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RevokedToken denies a session token id until the token would have expired anyway.
type RevokedToken struct {
	ID        uint   `gorm:"primaryKey"`
	TokenID   string `gorm:"size:64;uniqueIndex"`
	UserID    uint
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}
