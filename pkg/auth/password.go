package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 12
	MinPasswordLen = 8
)

// PasswordValidationError carries the first violated strength rule. The
// message is safe to show to the client.
type PasswordValidationError struct {
	Message string
}

func (e *PasswordValidationError) Error() string {
	return e.Message
}

// Common weak passwords to reject (case-insensitive)
var commonPasswords = map[string]bool{
	"12345678":    true,
	"password":    true,
	"password123": true,
	"admin123":    true,
	"qwerty123":   true,
	"123456789":   true,
	"abc123456":   true,
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateSecureToken returns n random bytes hex-encoded. Used for refresh
// token values and password reset tokens.
func GenerateSecureToken(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// ValidatePassword enforces the password strength rules. It fails fast and
// reports only the first violated rule.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return &PasswordValidationError{Message: fmt.Sprintf("password must be at least %d characters", MinPasswordLen)}
	}

	hasUpper := false
	hasLower := false
	hasDigit := false
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasUpper {
		return &PasswordValidationError{Message: "password must contain at least one uppercase letter"}
	}
	if !hasLower {
		return &PasswordValidationError{Message: "password must contain at least one lowercase letter"}
	}
	if !hasDigit {
		return &PasswordValidationError{Message: "password must contain at least one digit"}
	}

	if commonPasswords[strings.ToLower(password)] {
		return &PasswordValidationError{Message: "password is too common, please choose a more unique password"}
	}

	return nil
}
