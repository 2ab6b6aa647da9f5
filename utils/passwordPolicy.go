package utils

import (
	"fmt"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// PasswordError is a single password policy violation.
type PasswordError struct {
	Code    string
	Message string
}

func (e *PasswordError) Error() string {
	return e.Message
}

// PasswordRule validates one aspect of a password.
type PasswordRule func(password string) error

// PasswordPolicy applies its rules in order and reports the first violation.
type PasswordPolicy struct {
	rules []PasswordRule
}

func NewPasswordPolicy(rules ...PasswordRule) *PasswordPolicy {
	return &PasswordPolicy{rules: append([]PasswordRule(nil), rules...)}
}

// DefaultPasswordPolicy is the policy applied to self-registration.
func DefaultPasswordPolicy() *PasswordPolicy {
	return NewPasswordPolicy(
		MinLengthRule(MIN_PASSWORD_LENGTH),
		CharacterClassesRule(3),
		StrengthRule(MIN_PASSWORD_SCORE),
	)
}

func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	for _, rule := range p.rules {
		if err := rule(password); err != nil {
			return err
		}
	}
	if len(userInputs) > 0 {
		for _, input := range userInputs {
			if input != "" && input == password {
				return &PasswordError{Code: "personal", Message: "password must not match your name or email"}
			}
		}
	}
	return nil
}

func MinLengthRule(min int) PasswordRule {
	return func(password string) error {
		if len([]rune(password)) < min {
			return &PasswordError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	}
}

// CharacterClassesRule requires characters from at least min of upper, lower, digit and symbol.
func CharacterClassesRule(min int) PasswordRule {
	return func(password string) error {
		var upper, lower, digit, symbol bool
		for _, r := range password {
			switch {
			case unicode.IsUpper(r):
				upper = true
			case unicode.IsLower(r):
				lower = true
			case unicode.IsDigit(r):
				digit = true
			case unicode.IsSymbol(r) || unicode.IsPunct(r):
				symbol = true
			}
		}
		classes := 0
		for _, ok := range []bool{upper, lower, digit, symbol} {
			if ok {
				classes++
			}
		}
		if classes < min {
			return &PasswordError{
				Code:    "character_classes",
				Message: fmt.Sprintf("password must include at least %d of: uppercase, lowercase, digit, symbol", min),
			}
		}
		return nil
	}
}

// StrengthRule rejects passwords whose zxcvbn score is below minScore.
func StrengthRule(minScore int) PasswordRule {
	return func(password string) error {
		if zxcvbn.PasswordStrength(password, nil).Score < minScore {
			return &PasswordError{Code: "weak", Message: "password is too easy to guess"}
		}
		return nil
	}
}
