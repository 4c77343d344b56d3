package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsuite/auth-service/internal/models"
	pkgauth "github.com/clinsuite/auth-service/pkg/auth"
	pkglogger "github.com/clinsuite/auth-service/pkg/logger"
)

type passwordFixture struct {
	svc        *PasswordService
	identities *MockIdentityRepository
	refresh    *FakeRefreshTokenRepository
	email      *MockEmailSender
}

func newPasswordFixture(identities *MockIdentityRepository) *passwordFixture {
	logger := newTestLogger()
	refresh := NewFakeRefreshTokenRepository()
	store := NewRefreshTokenStore(refresh, identities, 7*24*time.Hour, 5, logger)
	email := &MockEmailSender{}

	svc := NewPasswordService(
		identities,
		store,
		email,
		NoDelay{},
		pkglogger.NewAuditLogger(logger),
		10*time.Minute,
		90*24*time.Hour,
		logger,
	)
	return &passwordFixture{svc: svc, identities: identities, refresh: refresh, email: email}
}

func TestPasswordService_ChangePassword(t *testing.T) {
	t.Run("valid change rehashes, updates lifecycle and revokes sessions", func(t *testing.T) {
		identity := NewTestIdentityWithPassword("identity_1", "dentist@clinic.test", "Dr. Personne", "Old1password")
		oldHash := identity.PasswordHash
		repo := identityRepoFor(identity)
		var persisted *models.Identity
		repo.UpdatePasswordFunc = func(ctx context.Context, id *models.Identity) error {
			persisted = id
			return nil
		}
		f := newPasswordFixture(repo)

		_, err := f.svc.tokens.Issue(context.Background(), identity.ID, models.DeviceInfo{})
		require.NoError(t, err)

		err = f.svc.ChangePassword(context.Background(), identity.ID, "Old1password", "New1password")
		require.NoError(t, err)

		require.NotNil(t, persisted)
		assert.NotEqual(t, oldHash, persisted.PasswordHash)
		assert.NoError(t, pkgauth.ComparePassword(persisted.PasswordHash, "New1password"))

		// Old hash moved into history
		require.NotEmpty(t, persisted.PasswordHistory)
		assert.Equal(t, oldHash, persisted.PasswordHistory[0].Hash)
		assert.False(t, persisted.ForcePasswordChange)
		assert.True(t, persisted.PasswordExpiresAt.After(time.Now().Add(89*24*time.Hour)))

		// Other sessions died with the old password
		assert.Equal(t, 0, f.refresh.ActiveCount(identity.ID))
	})

	t.Run("wrong current password is unauthorized", func(t *testing.T) {
		identity := NewTestIdentityWithPassword("identity_1", "dentist@clinic.test", "Dr. Personne", "Old1password")
		f := newPasswordFixture(identityRepoFor(identity))

		err := f.svc.ChangePassword(context.Background(), identity.ID, "Not1thepassword", "New1password")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("keeping the current password is a validation error", func(t *testing.T) {
		identity := NewTestIdentityWithPassword("identity_1", "dentist@clinic.test", "Dr. Personne", "Old1password")
		f := newPasswordFixture(identityRepoFor(identity))

		err := f.svc.ChangePassword(context.Background(), identity.ID, "Old1password", "Old1password")
		assert.True(t, models.IsValidation(err))
		assert.Contains(t, err.Error(), "different from the current password")
	})

	t.Run("reusing a password from the history is rejected", func(t *testing.T) {
		identity := NewTestIdentityWithPassword("identity_1", "dentist@clinic.test", "Dr. Personne", "Old1password")
		historicHash, err := pkgauth.HashPassword("Ancient1password")
		require.NoError(t, err)
		identity.PasswordHistory = []models.PasswordHistoryEntry{
			{Hash: historicHash, ChangedAt: time.Now().Add(-30 * 24 * time.Hour)},
		}
		f := newPasswordFixture(identityRepoFor(identity))

		err = f.svc.ChangePassword(context.Background(), identity.ID, "Old1password", "Ancient1password")
		assert.ErrorIs(t, err, models.ErrPasswordReused)
	})

	t.Run("history is capped at five entries", func(t *testing.T) {
		identity := NewTestIdentityWithPassword("identity_1", "dentist@clinic.test", "Dr. Personne", "Old1password")
		for i := 0; i < models.MaxPasswordHistory; i++ {
			identity.PasswordHistory = append(identity.PasswordHistory, models.PasswordHistoryEntry{
				Hash:      "$2a$12$placeholderplaceholderplaceholderplaceholderplacehold",
				ChangedAt: time.Now().Add(-time.Duration(i+1) * 24 * time.Hour),
			})
		}
		repo := identityRepoFor(identity)
		var persisted *models.Identity
		repo.UpdatePasswordFunc = func(ctx context.Context, id *models.Identity) error {
			persisted = id
			return nil
		}
		f := newPasswordFixture(repo)

		err := f.svc.ChangePassword(context.Background(), identity.ID, "Old1password", "New1password")
		require.NoError(t, err)
		assert.Len(t, persisted.PasswordHistory, models.MaxPasswordHistory)
	})

	t.Run("a password evicted from the history can be used again", func(t *testing.T) {
		identity := NewTestIdentityWithPassword("identity_1", "dentist@clinic.test", "Dr. Personne", "Current1pass")
		ancientHash, err := pkgauth.HashPassword("Ancient1pass")
		require.NoError(t, err)
		// Four newer fillers, the real ancient hash as the oldest entry
		for i := 0; i < models.MaxPasswordHistory-1; i++ {
			identity.PasswordHistory = append(identity.PasswordHistory, models.PasswordHistoryEntry{
				Hash:      "$2a$12$placeholderplaceholderplaceholderplaceholderplacehold",
				ChangedAt: time.Now().Add(-time.Duration(i+1) * 24 * time.Hour),
			})
		}
		identity.PasswordHistory = append(identity.PasswordHistory, models.PasswordHistoryEntry{
			Hash:      ancientHash,
			ChangedAt: time.Now().Add(-150 * 24 * time.Hour),
		})
		f := newPasswordFixture(identityRepoFor(identity))

		// Full history: changing back is still a reuse
		err = f.svc.ChangePassword(context.Background(), identity.ID, "Current1pass", "Ancient1pass")
		assert.ErrorIs(t, err, models.ErrPasswordReused)

		// One change pushes the ancient hash out the far end
		err = f.svc.ChangePassword(context.Background(), identity.ID, "Current1pass", "Fresh1password")
		require.NoError(t, err)
		require.Len(t, identity.PasswordHistory, models.MaxPasswordHistory)
		for _, entry := range identity.PasswordHistory {
			assert.NotEqual(t, ancientHash, entry.Hash)
		}

		err = f.svc.ChangePassword(context.Background(), identity.ID, "Fresh1password", "Ancient1pass")
		assert.NoError(t, err)
	})

	t.Run("weak replacement is a validation error", func(t *testing.T) {
		identity := NewTestIdentityWithPassword("identity_1", "dentist@clinic.test", "Dr. Personne", "Old1password")
		f := newPasswordFixture(identityRepoFor(identity))

		err := f.svc.ChangePassword(context.Background(), identity.ID, "Old1password", "short")
		assert.True(t, models.IsValidation(err))
	})
}

func TestPasswordService_RequestReset(t *testing.T) {
	t.Run("known email stores the token hash and sends the email", func(t *testing.T) {
		identity := NewTestIdentity("identity_1", "dentist@clinic.test", "Dr. Personne")
		repo := identityRepoFor(identity)
		var storedHash string
		var storedExpiry time.Time
		repo.SetResetTokenFunc = func(ctx context.Context, identityID, tokenHash string, expiresAt time.Time) error {
			storedHash = tokenHash
			storedExpiry = expiresAt
			return nil
		}
		f := newPasswordFixture(repo)

		err := f.svc.RequestReset(context.Background(), "Dentist@Clinic.Test")
		require.NoError(t, err)

		require.Len(t, f.email.SentTokens, 1)
		plaintext := f.email.SentTokens[0]
		assert.Len(t, plaintext, 64)

		// Only the SHA-256 of the token is at rest
		assert.Equal(t, hashResetToken(plaintext), storedHash)
		assert.NotEqual(t, plaintext, storedHash)
		assert.WithinDuration(t, time.Now().Add(10*time.Minute), storedExpiry, time.Minute)
	})

	t.Run("unknown email succeeds without sending", func(t *testing.T) {
		f := newPasswordFixture(&MockIdentityRepository{})

		err := f.svc.RequestReset(context.Background(), "nobody@clinic.test")
		require.NoError(t, err)
		assert.Empty(t, f.email.SentTo)
	})

	t.Run("inactive identity succeeds without sending", func(t *testing.T) {
		identity := NewTestIdentityInactive("identity_1", "dentist@clinic.test", "Dr. Personne")
		f := newPasswordFixture(identityRepoFor(identity))

		err := f.svc.RequestReset(context.Background(), "dentist@clinic.test")
		require.NoError(t, err)
		assert.Empty(t, f.email.SentTo)
	})

	t.Run("delivery failure is swallowed", func(t *testing.T) {
		identity := NewTestIdentity("identity_1", "dentist@clinic.test", "Dr. Personne")
		f := newPasswordFixture(identityRepoFor(identity))
		f.email.SendPasswordResetEmailFunc = func(ctx context.Context, email, token string, expiresAt time.Time) error {
			return models.ErrInternalServer
		}

		err := f.svc.RequestReset(context.Background(), "dentist@clinic.test")
		assert.NoError(t, err)
	})
}

func TestPasswordService_ConsumeReset(t *testing.T) {
	t.Run("valid token sets the new password and revokes sessions", func(t *testing.T) {
		identity := NewTestIdentityWithPassword("identity_1", "dentist@clinic.test", "Dr. Personne", "Old1password")
		plaintext := "a-reset-token"
		hash := hashResetToken(plaintext)
		repo := identityRepoFor(identity)
		repo.GetByResetTokenHashFunc = func(ctx context.Context, tokenHash string) (*models.Identity, error) {
			if tokenHash == hash {
				return identity, nil
			}
			return nil, models.ErrNotFound
		}
		var persisted *models.Identity
		repo.UpdatePasswordFunc = func(ctx context.Context, id *models.Identity) error {
			persisted = id
			return nil
		}
		f := newPasswordFixture(repo)

		_, err := f.svc.tokens.Issue(context.Background(), identity.ID, models.DeviceInfo{})
		require.NoError(t, err)

		err = f.svc.ConsumeReset(context.Background(), plaintext, "New1password")
		require.NoError(t, err)

		require.NotNil(t, persisted)
		assert.NoError(t, pkgauth.ComparePassword(persisted.PasswordHash, "New1password"))
		assert.Equal(t, 0, f.refresh.ActiveCount(identity.ID))
	})

	t.Run("unknown or expired token is rejected", func(t *testing.T) {
		f := newPasswordFixture(&MockIdentityRepository{})

		err := f.svc.ConsumeReset(context.Background(), "never-issued", "New1password")
		assert.ErrorIs(t, err, models.ErrInvalidResetToken)

		err = f.svc.ConsumeReset(context.Background(), "", "New1password")
		assert.ErrorIs(t, err, models.ErrInvalidResetToken)
	})

	t.Run("weak replacement leaves the token unspent", func(t *testing.T) {
		identity := NewTestIdentityWithPassword("identity_1", "dentist@clinic.test", "Dr. Personne", "Old1password")
		plaintext := "a-reset-token"
		hash := hashResetToken(plaintext)
		repo := identityRepoFor(identity)
		repo.GetByResetTokenHashFunc = func(ctx context.Context, tokenHash string) (*models.Identity, error) {
			if tokenHash == hash {
				return identity, nil
			}
			return nil, models.ErrNotFound
		}
		updates := 0
		repo.UpdatePasswordFunc = func(ctx context.Context, id *models.Identity) error {
			updates++
			return nil
		}
		f := newPasswordFixture(repo)

		err := f.svc.ConsumeReset(context.Background(), plaintext, "short")
		assert.True(t, models.IsValidation(err))
		assert.Zero(t, updates)
	})
}

func TestPasswordService_Status(t *testing.T) {
	t.Run("reports lifecycle state", func(t *testing.T) {
		identity := NewTestIdentity("identity_1", "dentist@clinic.test", "Dr. Personne")
		f := newPasswordFixture(identityRepoFor(identity))

		status, err := f.svc.Status(context.Background(), identity.ID)
		require.NoError(t, err)
		assert.False(t, status.Expired)
		assert.False(t, status.ChangeForced)
		assert.Greater(t, status.DaysRemaining, 0)
		assert.NotNil(t, status.ChangedAt)
		assert.NotNil(t, status.ExpiresAt)
	})

	t.Run("expired password is flagged with zero days remaining", func(t *testing.T) {
		identity := NewTestIdentity("identity_1", "dentist@clinic.test", "Dr. Personne")
		expired := time.Now().Add(-time.Hour)
		identity.PasswordExpiresAt = &expired
		f := newPasswordFixture(identityRepoFor(identity))

		status, err := f.svc.Status(context.Background(), identity.ID)
		require.NoError(t, err)
		assert.True(t, status.Expired)
		assert.Zero(t, status.DaysRemaining)
	})
}
