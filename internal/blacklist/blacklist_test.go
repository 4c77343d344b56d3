package blacklist

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlacklist(t *testing.T) (*Blacklist, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, slog.Default()), mr
}

func TestBlacklist_AddAndIsRevoked(t *testing.T) {
	bl, _ := newTestBlacklist(t)
	ctx := context.Background()

	err := bl.Add(ctx, "token-a", time.Now().Add(60*time.Second))
	require.NoError(t, err)

	revoked, err := bl.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = bl.IsRevoked(ctx, "token-b")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestBlacklist_AddPastExpiryIsNoop(t *testing.T) {
	bl, _ := newTestBlacklist(t)
	ctx := context.Background()

	err := bl.Add(ctx, "expired-token", time.Now().Add(-time.Second))
	require.NoError(t, err)

	revoked, err := bl.IsRevoked(ctx, "expired-token")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestBlacklist_EntryExpiresWithToken(t *testing.T) {
	bl, mr := newTestBlacklist(t)
	ctx := context.Background()

	require.NoError(t, bl.Add(ctx, "token-a", time.Now().Add(60*time.Second)))

	revoked, err := bl.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Once the token's natural expiry passes, the entry is gone
	mr.FastForward(61 * time.Second)

	revoked, err = bl.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestBlacklist_Clear(t *testing.T) {
	bl, _ := newTestBlacklist(t)
	ctx := context.Background()

	require.NoError(t, bl.Add(ctx, "token-a", time.Now().Add(time.Minute)))
	require.NoError(t, bl.Add(ctx, "token-b", time.Now().Add(time.Minute)))

	require.NoError(t, bl.Clear(ctx))

	revoked, err := bl.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestBlacklist_IsRevokedReturnsCacheError(t *testing.T) {
	bl, mr := newTestBlacklist(t)
	ctx := context.Background()

	mr.Close()

	_, err := bl.IsRevoked(ctx, "token-a")
	assert.Error(t, err)
}
