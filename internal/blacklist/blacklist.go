package blacklist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces revocation entries away from unrelated cache usage
const keyPrefix = "revoked:access:"

// Blacklist records access tokens that must be rejected before their natural
// expiry. Entries carry a TTL equal to the token's remaining lifetime, so the
// cache forgets a token exactly when it would have expired anyway.
type Blacklist struct {
	client *redis.Client
	logger *slog.Logger
}

func New(client *redis.Client, logger *slog.Logger) *Blacklist {
	return &Blacklist{client: client, logger: logger}
}

// tokenKey derives the cache key from the token string. Hashing keeps key
// size bounded and avoids storing the raw credential in the cache.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Add records the token until naturalExpiry. A token already past its natural
// expiry is a no-op; there is nothing left to revoke.
func (b *Blacklist) Add(ctx context.Context, token string, naturalExpiry time.Time) error {
	ttl := time.Until(naturalExpiry)
	if ttl <= 0 {
		return nil
	}

	if err := b.client.Set(ctx, tokenKey(token), "1", ttl).Err(); err != nil {
		return err
	}
	return nil
}

// IsRevoked reports whether the token has been revoked. Cache errors are
// returned to the caller; the token issuer treats them as "not revoked"
// (fail open) and logs the outage, accepting a bounded exposure window of at
// most the access token TTL.
func (b *Blacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := b.client.Exists(ctx, tokenKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear removes every revocation entry. Test and maintenance use only.
func (b *Blacklist) Clear(ctx context.Context) error {
	iter := b.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	b.logger.Info("blacklist cleared", slog.Int("entries", len(keys)))
	return nil
}
