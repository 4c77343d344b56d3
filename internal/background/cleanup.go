package background

import (
	"context"
	"log/slog"
	"time"
)

// revokedRetention is how long revoked refresh tokens are kept for audit
// purposes before the cleanup pass deletes them.
const revokedRetention = 30 * 24 * time.Hour

// RefreshTokenCleaner deletes refresh tokens that are no longer usable
type RefreshTokenCleaner interface {
	DeleteExpired(ctx context.Context, revokedBefore time.Time) (int64, error)
}

// ResetTokenCleaner clears reset tokens whose window has passed
type ResetTokenCleaner interface {
	ClearExpiredResetTokens(ctx context.Context) (int64, error)
}

// CleanupManager periodically removes expired refresh tokens and stale
// password-reset tokens from the database.
type CleanupManager struct {
	refreshTokens RefreshTokenCleaner
	resetTokens   ResetTokenCleaner
	logger        *slog.Logger
	interval      time.Duration
	stopCh        chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	refreshTokens RefreshTokenCleaner,
	resetTokens ResetTokenCleaner,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		refreshTokens: refreshTokens,
		resetTokens:   resetTokens,
		logger:        logger,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup removes expired token rows from the database
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	revokedBefore := time.Now().Add(-revokedRetention)
	refreshDeleted, err := cm.refreshTokens.DeleteExpired(cleanupCtx, revokedBefore)
	if err != nil {
		cm.logger.Error("failed to cleanup refresh tokens", slog.Any("error", err))
	} else if refreshDeleted > 0 {
		cm.logger.Info("refresh token cleanup completed", slog.Int64("rows_deleted", refreshDeleted))
	}

	resetsCleared, err := cm.resetTokens.ClearExpiredResetTokens(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to clear expired reset tokens", slog.Any("error", err))
	} else if resetsCleared > 0 {
		cm.logger.Info("reset token cleanup completed", slog.Int64("rows_cleared", resetsCleared))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
