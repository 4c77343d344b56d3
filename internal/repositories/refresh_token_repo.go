package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinsuite/auth-service/internal/database"
	"github.com/clinsuite/auth-service/internal/models"
)

type RefreshTokenRepository struct {
	pool *pgxpool.Pool
}

func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: db.Pool}
}

func (r *RefreshTokenRepository) Store(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, token, identity_id, expires_at, revoked,
			user_agent, ip_address, device_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		token.ID, token.Token, token.IdentityID, token.ExpiresAt, token.Revoked,
		token.Device.UserAgent, token.Device.IPAddress, token.Device.DeviceID,
		token.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// GetActive returns the non-revoked, non-expired row matching the token
// value, or ErrNotFound.
func (r *RefreshTokenRepository) GetActive(ctx context.Context, tokenValue string) (*models.RefreshToken, error) {
	query := `
		SELECT id, token, identity_id, expires_at, revoked, user_agent, ip_address, device_id, created_at
		FROM refresh_tokens
		WHERE token = $1 AND revoked = false AND expires_at > now()
	`

	var token models.RefreshToken
	err := r.pool.QueryRow(ctx, query, tokenValue).Scan(
		&token.ID, &token.Token, &token.IdentityID, &token.ExpiresAt, &token.Revoked,
		&token.Device.UserAgent, &token.Device.IPAddress, &token.Device.DeviceID,
		&token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &token, nil
}

// MarkRevoked revokes the token only if it is still active. The conditional
// update is the linearization point for rotation: given concurrent rotations
// of the same token, exactly one caller sees revoked=true here.
func (r *RefreshTokenRepository) MarkRevoked(ctx context.Context, tokenValue string) (bool, error) {
	query := `
		UPDATE refresh_tokens SET revoked = true
		WHERE token = $1 AND revoked = false
	`

	result, err := r.pool.Exec(ctx, query, tokenValue)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// RevokeAllForIdentity revokes every active token of the identity in one batch
func (r *RefreshTokenRepository) RevokeAllForIdentity(ctx context.Context, identityID string) (int64, error) {
	query := `
		UPDATE refresh_tokens SET revoked = true
		WHERE identity_id = $1 AND revoked = false
	`

	result, err := r.pool.Exec(ctx, query, identityID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// CountActive returns the number of live tokens held by the identity
func (r *RefreshTokenRepository) CountActive(ctx context.Context, identityID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM refresh_tokens
		WHERE identity_id = $1 AND revoked = false AND expires_at > now()
	`

	var count int
	err := r.pool.QueryRow(ctx, query, identityID).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// TrimActive revokes the identity's oldest active tokens, keeping at most
// `keep` newest by creation time.
func (r *RefreshTokenRepository) TrimActive(ctx context.Context, identityID string, keep int) (int64, error) {
	query := `
		UPDATE refresh_tokens SET revoked = true
		WHERE id IN (
			SELECT id FROM refresh_tokens
			WHERE identity_id = $1 AND revoked = false AND expires_at > now()
			ORDER BY created_at DESC
			OFFSET $2
		)
	`

	result, err := r.pool.Exec(ctx, query, identityID, keep)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes rows past expiry plus revoked rows older than the
// cutoff; called by the background cleanup loop.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, revokedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at <= now() OR (revoked = true AND created_at < $1)
	`

	result, err := r.pool.Exec(ctx, query, revokedBefore)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
