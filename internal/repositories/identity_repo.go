package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinsuite/auth-service/internal/database"
	"github.com/clinsuite/auth-service/internal/models"
)

const identityColumns = `id, name, email, password_hash, role, clinic_id, active,
	failed_login_count, lock_until, last_login, password_history,
	password_changed_at, password_expires_at, force_password_change,
	reset_token_hash, reset_token_expires_at, created_at, updated_at`

type IdentityRepository struct {
	pool *pgxpool.Pool
}

func NewIdentityRepository(db *database.DB) *IdentityRepository {
	return &IdentityRepository{pool: db.Pool}
}

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIdentityRow(scanner rowScanner) (*models.Identity, error) {
	var identity models.Identity
	var historyJSON []byte

	err := scanner.Scan(
		&identity.ID, &identity.Name, &identity.Email, &identity.PasswordHash,
		&identity.Role, &identity.ClinicID, &identity.Active,
		&identity.FailedLoginCount, &identity.LockUntil, &identity.LastLogin,
		&historyJSON,
		&identity.PasswordChangedAt, &identity.PasswordExpiresAt, &identity.ForcePasswordChange,
		&identity.ResetTokenHash, &identity.ResetTokenExpiresAt,
		&identity.CreatedAt, &identity.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &identity.PasswordHistory); err != nil {
			return nil, fmt.Errorf("failed to decode password history: %w", err)
		}
	}

	return &identity, nil
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	query := fmt.Sprintf(`SELECT %s FROM identities WHERE id = $1`, identityColumns)
	return scanIdentityRow(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail looks up an identity by email, case-insensitively
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	query := fmt.Sprintf(`SELECT %s FROM identities WHERE lower(email) = lower($1)`, identityColumns)
	return scanIdentityRow(r.pool.QueryRow(ctx, query, email))
}

func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	identity.ID = uuid.New().String()
	identity.Email = strings.ToLower(strings.TrimSpace(identity.Email))

	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	if identity.Role == "" {
		identity.Role = models.RoleAdmin
	}

	historyJSON, err := json.Marshal(identity.PasswordHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to encode password history: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO identities (id, name, email, password_hash, role, clinic_id, active,
			failed_login_count, password_history, password_changed_at, password_expires_at,
			force_password_change, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING %s
	`, identityColumns)

	return scanIdentityRow(r.pool.QueryRow(ctx, query,
		identity.ID, identity.Name, identity.Email, identity.PasswordHash,
		identity.Role, identity.ClinicID, identity.Active,
		identity.FailedLoginCount, historyJSON,
		identity.PasswordChangedAt, identity.PasswordExpiresAt, identity.ForcePasswordChange,
		identity.CreatedAt, identity.UpdatedAt,
	))
}

// UpdateLockout writes the lockout fields in a single-row update. Called on
// every transition so concurrent attempts observe the latest state.
func (r *IdentityRepository) UpdateLockout(ctx context.Context, identityID string, failedCount int, lockUntil *time.Time) error {
	query := `
		UPDATE identities SET failed_login_count = $1, lock_until = $2, updated_at = now()
		WHERE id = $3
	`

	result, err := r.pool.Exec(ctx, query, failedCount, lockUntil, identityID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdatePassword persists a completed password change: the new hash, the
// bounded history, the refreshed lifecycle timestamps, and clears any
// pending reset token.
func (r *IdentityRepository) UpdatePassword(ctx context.Context, identity *models.Identity) error {
	historyJSON, err := json.Marshal(identity.PasswordHistory)
	if err != nil {
		return fmt.Errorf("failed to encode password history: %w", err)
	}

	query := `
		UPDATE identities
		SET password_hash = $1, password_history = $2, password_changed_at = $3,
			password_expires_at = $4, force_password_change = $5,
			reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
		WHERE id = $6
	`

	result, err := r.pool.Exec(ctx, query,
		identity.PasswordHash, historyJSON, identity.PasswordChangedAt,
		identity.PasswordExpiresAt, identity.ForcePasswordChange, identity.ID,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetResetToken stores the hashed reset token and its expiry, overwriting any
// previous token so at most one is effective at a time.
func (r *IdentityRepository) SetResetToken(ctx context.Context, identityID, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE identities SET reset_token_hash = $1, reset_token_expires_at = $2, updated_at = now()
		WHERE id = $3
	`

	result, err := r.pool.Exec(ctx, query, tokenHash, expiresAt, identityID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetByResetTokenHash returns the identity holding a live reset token with
// the given hash; expired tokens do not match.
func (r *IdentityRepository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*models.Identity, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM identities
		WHERE reset_token_hash = $1 AND reset_token_expires_at > now()
	`, identityColumns)

	return scanIdentityRow(r.pool.QueryRow(ctx, query, tokenHash))
}

// UpdateLastLogin stamps the most recent successful authentication
func (r *IdentityRepository) UpdateLastLogin(ctx context.Context, identityID string, at time.Time) error {
	query := `UPDATE identities SET last_login = $1, updated_at = now() WHERE id = $2`

	_, err := r.pool.Exec(ctx, query, at, identityID)
	return database.MapPostgresError(err)
}

// ClearExpiredResetTokens removes reset token hashes whose window has passed
func (r *IdentityRepository) ClearExpiredResetTokens(ctx context.Context) (int64, error) {
	query := `
		UPDATE identities SET reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
		WHERE reset_token_expires_at IS NOT NULL AND reset_token_expires_at <= now()
	`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
