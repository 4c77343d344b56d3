package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinsuite/auth-service/internal/models"
	pkgauth "github.com/clinsuite/auth-service/pkg/auth"
	pkglogger "github.com/clinsuite/auth-service/pkg/logger"
)

// refreshTokenBytes is the entropy of an opaque refresh token before hex
// encoding. 48 bytes encodes to a 96 character string.
const refreshTokenBytes = 48

// RefreshTokenRepository defines the persistence operations for refresh tokens
type RefreshTokenRepository interface {
	Store(ctx context.Context, token *models.RefreshToken) error
	GetActive(ctx context.Context, tokenValue string) (*models.RefreshToken, error)
	MarkRevoked(ctx context.Context, tokenValue string) (bool, error)
	RevokeAllForIdentity(ctx context.Context, identityID string) (int64, error)
	TrimActive(ctx context.Context, identityID string, keep int) (int64, error)
}

// RefreshTokenStore manages the lifecycle of opaque refresh tokens: issuance
// under the per-identity cap, single-use rotation, and revocation.
type RefreshTokenStore struct {
	repo       RefreshTokenRepository
	identities IdentityRepository
	ttl        time.Duration
	maxActive  int
	logger     *slog.Logger
}

func NewRefreshTokenStore(repo RefreshTokenRepository, identities IdentityRepository, ttl time.Duration, maxActive int, logger *slog.Logger) *RefreshTokenStore {
	return &RefreshTokenStore{
		repo:       repo,
		identities: identities,
		ttl:        ttl,
		maxActive:  maxActive,
		logger:     logger,
	}
}

// Issue mints a new refresh token for the identity and stores it. When the
// identity exceeds the active-token cap, the oldest tokens are revoked so at
// most maxActive remain, the new token included.
func (s *RefreshTokenStore) Issue(ctx context.Context, identityID string, device models.DeviceInfo) (*models.RefreshToken, error) {
	value, err := pkgauth.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	token := &models.RefreshToken{
		ID:         uuid.New().String(),
		Token:      value,
		IdentityID: identityID,
		ExpiresAt:  time.Now().Add(s.ttl),
		Revoked:    false,
		Device:     device,
		CreatedAt:  time.Now(),
	}

	if err := s.repo.Store(ctx, token); err != nil {
		s.logger.Error("failed to store refresh token", slog.String("identity_id", identityID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Enforcing the cap is best effort; a failed trim never blocks login
	trimmed, err := s.repo.TrimActive(ctx, identityID, s.maxActive)
	if err != nil {
		s.logger.Error("failed to trim active refresh tokens",
			slog.String("identity_id", identityID), slog.Any("error", err))
	} else if trimmed > 0 {
		s.logger.Info("trimmed refresh tokens over cap",
			slog.String("identity_id", identityID), slog.Int64("revoked", trimmed))
	}

	return token, nil
}

// Rotate exchanges an active refresh token for a fresh one. The presented
// token is revoked first via a conditional update; if another request rotated
// it concurrently, exactly one caller wins and the rest get
// ErrInvalidRefreshToken. Returns the owning identity alongside the new token.
func (s *RefreshTokenStore) Rotate(ctx context.Context, tokenValue string) (*models.Identity, *models.RefreshToken, error) {
	current, err := s.repo.GetActive(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("rejected unknown or spent refresh token",
				slog.String("token", pkglogger.SanitizedToken(tokenValue)))
			return nil, nil, models.ErrInvalidRefreshToken
		}
		s.logger.Error("failed to look up refresh token", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	identity, err := s.identities.GetByID(ctx, current.IdentityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Orphaned token; revoke it so it cannot be replayed
			if _, revokeErr := s.repo.MarkRevoked(ctx, tokenValue); revokeErr != nil {
				s.logger.Error("failed to revoke orphaned refresh token", slog.Any("error", revokeErr))
			}
			return nil, nil, models.ErrInvalidRefreshToken
		}
		s.logger.Error("failed to load identity for rotation",
			slog.String("identity_id", current.IdentityID), slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	if !identity.Active {
		if _, revokeErr := s.repo.MarkRevoked(ctx, tokenValue); revokeErr != nil {
			s.logger.Error("failed to revoke refresh token of inactive identity",
				slog.String("identity_id", identity.ID), slog.Any("error", revokeErr))
			return nil, nil, models.ErrInternalServer
		}
		return nil, nil, models.ErrAccountInactive
	}

	revoked, err := s.repo.MarkRevoked(ctx, tokenValue)
	if err != nil {
		s.logger.Error("failed to revoke refresh token during rotation",
			slog.String("identity_id", identity.ID), slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}
	if !revoked {
		// Lost the race against a concurrent rotation of the same token
		s.logger.Warn("refresh token rotation race detected", slog.String("identity_id", identity.ID))
		return nil, nil, models.ErrInvalidRefreshToken
	}

	next, err := s.Issue(ctx, identity.ID, current.Device)
	if err != nil {
		return nil, nil, err
	}

	return identity, next, nil
}

// Revoke marks the token revoked. Revoking an already-revoked or unknown
// token is a no-op; logout must be idempotent.
func (s *RefreshTokenStore) Revoke(ctx context.Context, tokenValue string) error {
	if tokenValue == "" {
		return nil
	}
	if _, err := s.repo.MarkRevoked(ctx, tokenValue); err != nil {
		s.logger.Error("failed to revoke refresh token", slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// RevokeAll revokes every active refresh token of the identity
func (s *RefreshTokenStore) RevokeAll(ctx context.Context, identityID string) error {
	count, err := s.repo.RevokeAllForIdentity(ctx, identityID)
	if err != nil {
		s.logger.Error("failed to revoke all refresh tokens",
			slog.String("identity_id", identityID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.logger.Info("revoked all refresh tokens",
		slog.String("identity_id", identityID), slog.Int64("count", count))
	return nil
}
