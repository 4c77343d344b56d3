package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/clinsuite/auth-service/internal/models"
	pkgauth "github.com/clinsuite/auth-service/pkg/auth"
	pkglogger "github.com/clinsuite/auth-service/pkg/logger"
)

// resetTokenBytes is the entropy of a password reset token before hex encoding
const resetTokenBytes = 32

// PasswordService handles the password lifecycle: authenticated changes,
// forgot-password reset flows and expiry status.
type PasswordService struct {
	identities     IdentityRepository
	tokens         *RefreshTokenStore
	email          EmailSender
	timing         TimingWaiter
	auditLogger    *pkglogger.AuditLogger
	resetTokenTTL  time.Duration
	passwordExpiry time.Duration
	logger         *slog.Logger
}

func NewPasswordService(
	identities IdentityRepository,
	tokens *RefreshTokenStore,
	email EmailSender,
	timing TimingWaiter,
	auditLogger *pkglogger.AuditLogger,
	resetTokenTTL time.Duration,
	passwordExpiry time.Duration,
	logger *slog.Logger,
) *PasswordService {
	return &PasswordService{
		identities:     identities,
		tokens:         tokens,
		email:          email,
		timing:         timing,
		auditLogger:    auditLogger,
		resetTokenTTL:  resetTokenTTL,
		passwordExpiry: passwordExpiry,
		logger:         logger,
	}
}

// PasswordStatus reports where an identity's password sits in its lifecycle
type PasswordStatus struct {
	ChangedAt     *string `json:"changed_at,omitempty"`
	ExpiresAt     *string `json:"expires_at,omitempty"`
	Expired       bool    `json:"expired"`
	ChangeForced  bool    `json:"change_forced"`
	DaysRemaining int     `json:"days_remaining"`
}

// ChangePassword replaces the identity's password after verifying the current
// one. All refresh tokens are revoked so other devices must log in again.
func (s *PasswordService) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to load identity for password change",
			slog.String("identity_id", identityID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !identity.ComparePassword(currentPassword) {
		s.logger.Info("password change rejected: current password mismatch",
			slog.String("identity_id", identity.ID))
		s.auditLogger.LogPasswordChange(identity.ID, "", false)
		return models.ErrUnauthorized
	}

	if err := s.applyPasswordChange(ctx, identity, newPassword); err != nil {
		return err
	}

	s.logger.Info("password changed", slog.String("identity_id", identity.ID))
	s.auditLogger.LogPasswordChange(identity.ID, "", true)
	return nil
}

// RequestReset starts the forgot-password flow. The response is identical
// whether or not the email maps to an identity, and the timing delay keeps
// the two cases indistinguishable on the wire. Only the SHA-256 hash of the
// token is stored; the plaintext goes out in the email and is never logged.
func (s *PasswordService) RequestReset(ctx context.Context, email string) error {
	err := s.requestReset(ctx, email)
	s.timing.Wait(false)
	return err
}

func (s *PasswordService) requestReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		s.logger.Error("failed to look up identity for reset", slog.Any("error", err))
		return nil
	}

	if !identity.Active {
		s.logger.Info("password reset requested for inactive identity",
			slog.String("identity_id", identity.ID))
		return nil
	}

	token, err := pkgauth.GenerateSecureToken(resetTokenBytes)
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return nil
	}

	expiresAt := time.Now().Add(s.resetTokenTTL)
	if err := s.identities.SetResetToken(ctx, identity.ID, hashResetToken(token), expiresAt); err != nil {
		s.logger.Error("failed to store reset token",
			slog.String("identity_id", identity.ID), slog.Any("error", err))
		return nil
	}

	if err := s.email.SendPasswordResetEmail(ctx, identity.Email, token, expiresAt); err != nil {
		s.logger.Error("failed to send password reset email",
			slog.String("identity_id", identity.ID), slog.Any("error", err))
		return nil
	}

	s.auditLogger.LogAccountAction("password_reset_requested", identity.ID, "", nil)
	return nil
}

// ConsumeReset completes the forgot-password flow. The token is single use:
// the repository clears it as part of the password update, so a second
// presentation fails.
func (s *PasswordService) ConsumeReset(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.ErrInvalidResetToken
	}

	identity, err := s.identities.GetByResetTokenHash(ctx, hashResetToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset rejected: unknown or expired token")
			return models.ErrInvalidResetToken
		}
		s.logger.Error("failed to look up reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.applyPasswordChange(ctx, identity, newPassword); err != nil {
		return err
	}

	s.logger.Info("password reset completed", slog.String("identity_id", identity.ID))
	s.auditLogger.LogAccountAction("password_reset_completed", identity.ID, "", nil)
	return nil
}

// Status returns the password lifecycle state for the identity
func (s *PasswordService) Status(ctx context.Context, identityID string) (*PasswordStatus, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to load identity for password status",
			slog.String("identity_id", identityID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	status := &PasswordStatus{
		Expired:      identity.PasswordIsExpired(),
		ChangeForced: identity.ForcePasswordChange,
	}
	if identity.PasswordChangedAt != nil {
		changed := identity.PasswordChangedAt.Format(time.RFC3339)
		status.ChangedAt = &changed
	}
	if identity.PasswordExpiresAt != nil {
		expires := identity.PasswordExpiresAt.Format(time.RFC3339)
		status.ExpiresAt = &expires
		if remaining := time.Until(*identity.PasswordExpiresAt); remaining > 0 {
			status.DaysRemaining = int(remaining.Hours() / 24)
		}
	}
	return status, nil
}

// applyPasswordChange validates the new password, enforces the reuse policy
// against the current hash and the retained history, and persists the change.
// The previous hash is pushed onto the history before being replaced.
func (s *PasswordService) applyPasswordChange(ctx context.Context, identity *models.Identity, newPassword string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return models.NewValidationError(err.Error())
	}

	if identity.ComparePassword(newPassword) {
		return models.NewValidationError("new password must be different from the current password")
	}
	for _, entry := range identity.PasswordHistory {
		if pkgauth.ComparePassword(entry.Hash, newPassword) == nil {
			return models.ErrPasswordReused
		}
	}

	now := time.Now()
	history := append([]models.PasswordHistoryEntry{{
		Hash:      identity.PasswordHash,
		ChangedAt: now,
	}}, identity.PasswordHistory...)
	if len(history) > models.MaxPasswordHistory {
		history = history[:models.MaxPasswordHistory]
	}

	if err := identity.SetPassword(newPassword); err != nil {
		s.logger.Error("failed to hash new password",
			slog.String("identity_id", identity.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	expiresAt := now.Add(s.passwordExpiry)
	identity.PasswordHistory = history
	identity.PasswordChangedAt = &now
	identity.PasswordExpiresAt = &expiresAt
	identity.ForcePasswordChange = false

	if err := s.identities.UpdatePassword(ctx, identity); err != nil {
		s.logger.Error("failed to persist password change",
			slog.String("identity_id", identity.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	// Existing sessions die with the old password
	if err := s.tokens.RevokeAll(ctx, identity.ID); err != nil {
		s.logger.Error("failed to revoke sessions after password change",
			slog.String("identity_id", identity.ID), slog.Any("error", err))
	}

	return nil
}

// hashResetToken derives the stored form of a reset token
func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
