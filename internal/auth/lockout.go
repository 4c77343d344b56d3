package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinsuite/auth-service/internal/models"
)

// Lockout thresholds. Five consecutive failures lock the account for an
// hour; ten lock it for a day. A successful login resets the counter.
const (
	ShortLockThreshold = 5
	LongLockThreshold  = 10
	ShortLockDuration  = 1 * time.Hour
	LongLockDuration   = 24 * time.Hour
)

// LockoutPersister persists the lockout fields of an identity. Each
// transition is written immediately so concurrent attempts observe a
// monotonically non-decreasing lockout.
type LockoutPersister interface {
	UpdateLockout(ctx context.Context, identityID string, failedCount int, lockUntil *time.Time) error
}

// LockoutTracker is the state machine over an identity's failed-login count
// and lock-until timestamp.
type LockoutTracker struct {
	repo   LockoutPersister
	logger *slog.Logger
}

func NewLockoutTracker(repo LockoutPersister, logger *slog.Logger) *LockoutTracker {
	return &LockoutTracker{repo: repo, logger: logger}
}

// RecordFailure applies the failed-attempt transition and persists it. The
// identity is mutated in place so the caller sees the new state.
func (t *LockoutTracker) RecordFailure(ctx context.Context, identity *models.Identity) error {
	now := time.Now()

	// An expired lock resets the counter before the new failure counts
	if identity.LockUntil != nil && identity.LockUntil.Before(now) {
		identity.FailedLoginCount = 0
		identity.LockUntil = nil
	}

	identity.FailedLoginCount++

	switch {
	case identity.FailedLoginCount >= LongLockThreshold:
		until := now.Add(LongLockDuration)
		identity.LockUntil = &until
	case identity.FailedLoginCount >= ShortLockThreshold:
		until := now.Add(ShortLockDuration)
		identity.LockUntil = &until
	}

	if identity.LockUntil != nil {
		t.logger.Warn("identity locked out",
			slog.String("identity_id", identity.ID),
			slog.Int("failed_attempts", identity.FailedLoginCount),
			slog.Time("lock_until", *identity.LockUntil))
	}

	return t.repo.UpdateLockout(ctx, identity.ID, identity.FailedLoginCount, identity.LockUntil)
}

// RecordSuccess clears the counter and any lock after a successful
// authentication.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, identity *models.Identity) error {
	identity.FailedLoginCount = 0
	identity.LockUntil = nil

	return t.repo.UpdateLockout(ctx, identity.ID, 0, nil)
}
