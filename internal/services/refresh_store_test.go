package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsuite/auth-service/internal/models"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(repo RefreshTokenRepository, identities IdentityRepository) *RefreshTokenStore {
	return NewRefreshTokenStore(repo, identities, 7*24*time.Hour, 5, newTestLogger())
}

func TestRefreshTokenStore_Issue(t *testing.T) {
	t.Run("generates opaque token and stores it", func(t *testing.T) {
		repo := NewFakeRefreshTokenRepository()
		identities := &MockIdentityRepository{}
		store := newTestStore(repo, identities)

		token, err := store.Issue(context.Background(), "identity_1", models.DeviceInfo{UserAgent: "test-agent"})
		require.NoError(t, err)

		// 48 random bytes hex encoded
		assert.Len(t, token.Token, 96)
		assert.Equal(t, "identity_1", token.IdentityID)
		assert.False(t, token.Revoked)
		assert.Equal(t, "test-agent", token.Device.UserAgent)

		stored, err := repo.GetActive(context.Background(), token.Token)
		require.NoError(t, err)
		assert.Equal(t, token.ID, stored.ID)
	})

	t.Run("enforces active token cap by revoking oldest", func(t *testing.T) {
		repo := NewFakeRefreshTokenRepository()
		identities := &MockIdentityRepository{}
		store := newTestStore(repo, identities)

		var first *models.RefreshToken
		for i := 0; i < 7; i++ {
			token, err := store.Issue(context.Background(), "identity_1", models.DeviceInfo{})
			require.NoError(t, err)
			if i == 0 {
				first = token
			}
			// Distinct creation times so the trim ordering is deterministic
			time.Sleep(2 * time.Millisecond)
		}

		assert.Equal(t, 5, repo.ActiveCount("identity_1"))

		_, err := repo.GetActive(context.Background(), first.Token)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("cap applies per identity", func(t *testing.T) {
		repo := NewFakeRefreshTokenRepository()
		identities := &MockIdentityRepository{}
		store := newTestStore(repo, identities)

		for i := 0; i < 6; i++ {
			_, err := store.Issue(context.Background(), "identity_1", models.DeviceInfo{})
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
		}
		for i := 0; i < 3; i++ {
			_, err := store.Issue(context.Background(), "identity_2", models.DeviceInfo{})
			require.NoError(t, err)
		}

		assert.Equal(t, 5, repo.ActiveCount("identity_1"))
		assert.Equal(t, 3, repo.ActiveCount("identity_2"))
	})

	t.Run("trim failure does not block issuance", func(t *testing.T) {
		repo := &MockRefreshTokenRepository{
			TrimActiveFunc: func(ctx context.Context, identityID string, keep int) (int64, error) {
				return 0, models.ErrInternalServer
			},
		}
		store := newTestStore(repo, &MockIdentityRepository{})

		token, err := store.Issue(context.Background(), "identity_1", models.DeviceInfo{})
		require.NoError(t, err)
		assert.NotEmpty(t, token.Token)
	})
}

func TestRefreshTokenStore_Rotate(t *testing.T) {
	identity := NewTestIdentity("identity_1", "dentist@clinic.test", "Dr. Personne")
	identities := &MockIdentityRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Identity, error) {
			if id == identity.ID {
				return identity, nil
			}
			return nil, models.ErrNotFound
		},
	}

	t.Run("rotation revokes old token and issues a new one", func(t *testing.T) {
		repo := NewFakeRefreshTokenRepository()
		store := newTestStore(repo, identities)

		original, err := store.Issue(context.Background(), identity.ID, models.DeviceInfo{DeviceID: "device_a"})
		require.NoError(t, err)

		got, next, err := store.Rotate(context.Background(), original.Token)
		require.NoError(t, err)
		assert.Equal(t, identity.ID, got.ID)
		assert.NotEqual(t, original.Token, next.Token)
		assert.Equal(t, "device_a", next.Device.DeviceID)

		// Old token is gone, new one is live
		_, err = repo.GetActive(context.Background(), original.Token)
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = repo.GetActive(context.Background(), next.Token)
		assert.NoError(t, err)
	})

	t.Run("a rotated token cannot be used again", func(t *testing.T) {
		repo := NewFakeRefreshTokenRepository()
		store := newTestStore(repo, identities)

		original, err := store.Issue(context.Background(), identity.ID, models.DeviceInfo{})
		require.NoError(t, err)

		_, _, err = store.Rotate(context.Background(), original.Token)
		require.NoError(t, err)

		_, _, err = store.Rotate(context.Background(), original.Token)
		assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)
	})

	t.Run("unknown token is rejected", func(t *testing.T) {
		store := newTestStore(NewFakeRefreshTokenRepository(), identities)

		_, _, err := store.Rotate(context.Background(), "never-issued")
		assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)
	})

	t.Run("losing the conditional revoke race is rejected", func(t *testing.T) {
		token := NewTestRefreshToken("contested", identity.ID)
		repo := &MockRefreshTokenRepository{
			GetActiveFunc: func(ctx context.Context, tokenValue string) (*models.RefreshToken, error) {
				return token, nil
			},
			MarkRevokedFunc: func(ctx context.Context, tokenValue string) (bool, error) {
				// Another request already flipped the revoked flag
				return false, nil
			},
		}
		store := newTestStore(repo, identities)

		_, _, err := store.Rotate(context.Background(), "contested")
		assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)
	})

	t.Run("inactive identity revokes the token and rejects", func(t *testing.T) {
		inactive := NewTestIdentityInactive("identity_2", "gone@clinic.test", "Gone")
		repo := NewFakeRefreshTokenRepository()
		store := newTestStore(repo, &MockIdentityRepository{
			GetByIDFunc: func(ctx context.Context, id string) (*models.Identity, error) {
				return inactive, nil
			},
		})

		token, err := store.Issue(context.Background(), inactive.ID, models.DeviceInfo{})
		require.NoError(t, err)

		_, _, err = store.Rotate(context.Background(), token.Token)
		assert.ErrorIs(t, err, models.ErrAccountInactive)

		_, err = repo.GetActive(context.Background(), token.Token)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("token of a deleted identity is revoked and rejected", func(t *testing.T) {
		repo := NewFakeRefreshTokenRepository()
		store := newTestStore(repo, &MockIdentityRepository{})

		token, err := store.Issue(context.Background(), "deleted_identity", models.DeviceInfo{})
		require.NoError(t, err)

		_, _, err = store.Rotate(context.Background(), token.Token)
		assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)

		_, err = repo.GetActive(context.Background(), token.Token)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestRefreshTokenStore_Revoke(t *testing.T) {
	t.Run("revoke is idempotent", func(t *testing.T) {
		repo := NewFakeRefreshTokenRepository()
		store := newTestStore(repo, &MockIdentityRepository{})

		token, err := store.Issue(context.Background(), "identity_1", models.DeviceInfo{})
		require.NoError(t, err)

		require.NoError(t, store.Revoke(context.Background(), token.Token))
		require.NoError(t, store.Revoke(context.Background(), token.Token))
		require.NoError(t, store.Revoke(context.Background(), "never-issued"))
		require.NoError(t, store.Revoke(context.Background(), ""))
	})

	t.Run("revoke all kills every session of the identity", func(t *testing.T) {
		repo := NewFakeRefreshTokenRepository()
		store := newTestStore(repo, &MockIdentityRepository{})

		for i := 0; i < 3; i++ {
			_, err := store.Issue(context.Background(), "identity_1", models.DeviceInfo{})
			require.NoError(t, err)
		}
		_, err := store.Issue(context.Background(), "identity_2", models.DeviceInfo{})
		require.NoError(t, err)

		require.NoError(t, store.RevokeAll(context.Background(), "identity_1"))

		assert.Equal(t, 0, repo.ActiveCount("identity_1"))
		assert.Equal(t, 1, repo.ActiveCount("identity_2"))
	})
}
