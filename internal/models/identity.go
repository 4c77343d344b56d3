package models

import (
	"time"

	"github.com/clinsuite/auth-service/pkg/auth"
)

// Identity roles
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleDentist    = "dentist"
	RoleAssistant  = "assistant"
)

// MaxPasswordHistory bounds the retained password history per identity
const MaxPasswordHistory = 5

// PasswordHistoryEntry records a previously used password hash. Entries are
// kept newest first.
type PasswordHistoryEntry struct {
	Hash      string    `json:"hash"`
	ChangedAt time.Time `json:"changed_at"`
}

// Identity represents a staff user of the clinic platform. The password hash
// and reset token hash never leave the repository boundary in responses.
type Identity struct {
	ID                  string
	Name                string
	Email               string // stored lowercase, unique
	PasswordHash        string
	Role                string
	ClinicID            *string
	Active              bool
	FailedLoginCount    int
	LockUntil           *time.Time
	LastLogin           *time.Time
	PasswordHistory     []PasswordHistoryEntry // newest first, max 5 entries
	PasswordChangedAt   *time.Time
	PasswordExpiresAt   *time.Time
	ForcePasswordChange bool
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CredentialVerifiable is the capability an identity exposes to the session
// layer for credential checks. Identity implements it directly; nothing is
// attached at runtime.
type CredentialVerifiable interface {
	ComparePassword(plaintext string) bool
	IsLocked() bool
}

// SetPassword hashes plaintext and assigns the result to PasswordHash.
// Hashing happens here, synchronously; callers persist the identity
// afterwards. There is no implicit hash-on-save anywhere else.
func (i *Identity) SetPassword(plaintext string) error {
	hash, err := auth.HashPassword(plaintext)
	if err != nil {
		return err
	}
	i.PasswordHash = hash
	return nil
}

// ComparePassword reports whether plaintext matches the stored hash
func (i *Identity) ComparePassword(plaintext string) bool {
	return auth.ComparePassword(i.PasswordHash, plaintext) == nil
}

// IsLocked reports whether the identity is under a temporary lockout
func (i *Identity) IsLocked() bool {
	return i.LockUntil != nil && i.LockUntil.After(time.Now())
}

// PasswordIsExpired reports whether the password is past its expiry date
func (i *Identity) PasswordIsExpired() bool {
	return i.PasswordExpiresAt != nil && time.Now().After(*i.PasswordExpiresAt)
}
