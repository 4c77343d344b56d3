package services

import (
	"context"
	"time"

	"github.com/clinsuite/auth-service/internal/models"
	pkgauth "github.com/clinsuite/auth-service/pkg/auth"
)

// MockIdentityRepository implements IdentityRepository for testing
type MockIdentityRepository struct {
	GetByIDFunc             func(ctx context.Context, id string) (*models.Identity, error)
	GetByEmailFunc          func(ctx context.Context, email string) (*models.Identity, error)
	CreateFunc              func(ctx context.Context, identity *models.Identity) (*models.Identity, error)
	UpdateLockoutFunc       func(ctx context.Context, identityID string, failedCount int, lockUntil *time.Time) error
	UpdatePasswordFunc      func(ctx context.Context, identity *models.Identity) error
	SetResetTokenFunc       func(ctx context.Context, identityID, tokenHash string, expiresAt time.Time) error
	GetByResetTokenHashFunc func(ctx context.Context, tokenHash string) (*models.Identity, error)
	UpdateLastLoginFunc     func(ctx context.Context, identityID string, at time.Time) error
}

func (m *MockIdentityRepository) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockIdentityRepository) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockIdentityRepository) Create(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, identity)
	}
	identity.ID = "identity_test"
	identity.CreatedAt = time.Now()
	identity.UpdatedAt = time.Now()
	return identity, nil
}

func (m *MockIdentityRepository) UpdateLockout(ctx context.Context, identityID string, failedCount int, lockUntil *time.Time) error {
	if m.UpdateLockoutFunc != nil {
		return m.UpdateLockoutFunc(ctx, identityID, failedCount, lockUntil)
	}
	return nil
}

func (m *MockIdentityRepository) UpdatePassword(ctx context.Context, identity *models.Identity) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, identity)
	}
	return nil
}

func (m *MockIdentityRepository) SetResetToken(ctx context.Context, identityID, tokenHash string, expiresAt time.Time) error {
	if m.SetResetTokenFunc != nil {
		return m.SetResetTokenFunc(ctx, identityID, tokenHash, expiresAt)
	}
	return nil
}

func (m *MockIdentityRepository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*models.Identity, error) {
	if m.GetByResetTokenHashFunc != nil {
		return m.GetByResetTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockIdentityRepository) UpdateLastLogin(ctx context.Context, identityID string, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, identityID, at)
	}
	return nil
}

// MockRefreshTokenRepository implements RefreshTokenRepository for testing
type MockRefreshTokenRepository struct {
	StoreFunc                func(ctx context.Context, token *models.RefreshToken) error
	GetActiveFunc            func(ctx context.Context, tokenValue string) (*models.RefreshToken, error)
	MarkRevokedFunc          func(ctx context.Context, tokenValue string) (bool, error)
	RevokeAllForIdentityFunc func(ctx context.Context, identityID string) (int64, error)
	TrimActiveFunc           func(ctx context.Context, identityID string, keep int) (int64, error)
}

func (m *MockRefreshTokenRepository) Store(ctx context.Context, token *models.RefreshToken) error {
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, token)
	}
	return nil
}

func (m *MockRefreshTokenRepository) GetActive(ctx context.Context, tokenValue string) (*models.RefreshToken, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, tokenValue)
	}
	return nil, models.ErrNotFound
}

func (m *MockRefreshTokenRepository) MarkRevoked(ctx context.Context, tokenValue string) (bool, error) {
	if m.MarkRevokedFunc != nil {
		return m.MarkRevokedFunc(ctx, tokenValue)
	}
	return true, nil
}

func (m *MockRefreshTokenRepository) RevokeAllForIdentity(ctx context.Context, identityID string) (int64, error) {
	if m.RevokeAllForIdentityFunc != nil {
		return m.RevokeAllForIdentityFunc(ctx, identityID)
	}
	return 0, nil
}

func (m *MockRefreshTokenRepository) TrimActive(ctx context.Context, identityID string, keep int) (int64, error) {
	if m.TrimActiveFunc != nil {
		return m.TrimActiveFunc(ctx, identityID, keep)
	}
	return 0, nil
}

// FakeRefreshTokenRepository is an in-memory RefreshTokenRepository with real
// rotation semantics, for tests that exercise the store end to end.
type FakeRefreshTokenRepository struct {
	tokens map[string]*models.RefreshToken
}

func NewFakeRefreshTokenRepository() *FakeRefreshTokenRepository {
	return &FakeRefreshTokenRepository{tokens: make(map[string]*models.RefreshToken)}
}

func (f *FakeRefreshTokenRepository) Store(ctx context.Context, token *models.RefreshToken) error {
	if _, exists := f.tokens[token.Token]; exists {
		return models.ErrConflict
	}
	copied := *token
	f.tokens[token.Token] = &copied
	return nil
}

func (f *FakeRefreshTokenRepository) GetActive(ctx context.Context, tokenValue string) (*models.RefreshToken, error) {
	token, ok := f.tokens[tokenValue]
	if !ok || token.Revoked || token.IsExpired() {
		return nil, models.ErrNotFound
	}
	copied := *token
	return &copied, nil
}

func (f *FakeRefreshTokenRepository) MarkRevoked(ctx context.Context, tokenValue string) (bool, error) {
	token, ok := f.tokens[tokenValue]
	if !ok || token.Revoked {
		return false, nil
	}
	token.Revoked = true
	return true, nil
}

func (f *FakeRefreshTokenRepository) RevokeAllForIdentity(ctx context.Context, identityID string) (int64, error) {
	var count int64
	for _, token := range f.tokens {
		if token.IdentityID == identityID && !token.Revoked {
			token.Revoked = true
			count++
		}
	}
	return count, nil
}

func (f *FakeRefreshTokenRepository) TrimActive(ctx context.Context, identityID string, keep int) (int64, error) {
	var active []*models.RefreshToken
	for _, token := range f.tokens {
		if token.IdentityID == identityID && !token.Revoked && !token.IsExpired() {
			active = append(active, token)
		}
	}
	if len(active) <= keep {
		return 0, nil
	}
	// Oldest first
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			if active[j].CreatedAt.Before(active[i].CreatedAt) {
				active[i], active[j] = active[j], active[i]
			}
		}
	}
	var trimmed int64
	for _, token := range active[:len(active)-keep] {
		token.Revoked = true
		trimmed++
	}
	return trimmed, nil
}

// ActiveCount returns the number of live tokens for assertions
func (f *FakeRefreshTokenRepository) ActiveCount(identityID string) int {
	count := 0
	for _, token := range f.tokens {
		if token.IdentityID == identityID && !token.Revoked && !token.IsExpired() {
			count++
		}
	}
	return count
}

// MockAccessTokenIssuer implements AccessTokenIssuer for testing
type MockAccessTokenIssuer struct {
	IssueAccessTokenFunc func(identityID, email, role string, clinicID *string) (string, error)
	TTL                  time.Duration
}

func (m *MockAccessTokenIssuer) IssueAccessToken(identityID, email, role string, clinicID *string) (string, error) {
	if m.IssueAccessTokenFunc != nil {
		return m.IssueAccessTokenFunc(identityID, email, role, clinicID)
	}
	return "access_token_" + identityID, nil
}

func (m *MockAccessTokenIssuer) AccessTokenTTL() time.Duration {
	if m.TTL != 0 {
		return m.TTL
	}
	return 15 * time.Minute
}

// MockRevocationStore implements RevocationStore for testing
type MockRevocationStore struct {
	AddFunc func(ctx context.Context, token string, expiresAt time.Time) error
	Added   []string
}

func (m *MockRevocationStore) Add(ctx context.Context, token string, expiresAt time.Time) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, token, expiresAt)
	}
	m.Added = append(m.Added, token)
	return nil
}

// MockLockoutRecorder implements LockoutRecorder for testing
type MockLockoutRecorder struct {
	RecordFailureFunc func(ctx context.Context, identity *models.Identity) error
	RecordSuccessFunc func(ctx context.Context, identity *models.Identity) error
	Failures          int
	Successes         int
}

func (m *MockLockoutRecorder) RecordFailure(ctx context.Context, identity *models.Identity) error {
	m.Failures++
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, identity)
	}
	identity.FailedLoginCount++
	return nil
}

func (m *MockLockoutRecorder) RecordSuccess(ctx context.Context, identity *models.Identity) error {
	m.Successes++
	if m.RecordSuccessFunc != nil {
		return m.RecordSuccessFunc(ctx, identity)
	}
	identity.FailedLoginCount = 0
	identity.LockUntil = nil
	return nil
}

// MockEmailSender implements EmailSender for testing
type MockEmailSender struct {
	SendPasswordResetEmailFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
	SentTo                     []string
	SentTokens                 []string
}

func (m *MockEmailSender) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.SentTo = append(m.SentTo, email)
	m.SentTokens = append(m.SentTokens, token)
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

// NoDelay is a TimingWaiter that returns immediately
type NoDelay struct{}

func (NoDelay) Wait(success bool) {}

// NewTestIdentity creates an active identity for tests
func NewTestIdentity(id, email, name string) *models.Identity {
	now := time.Now()
	changed := now.Add(-24 * time.Hour)
	expires := now.Add(60 * 24 * time.Hour)
	return &models.Identity{
		ID:                id,
		Email:             email,
		Name:              name,
		Role:              models.RoleAdmin,
		Active:            true,
		PasswordChangedAt: &changed,
		PasswordExpiresAt: &expires,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// NewTestIdentityWithPassword creates an identity whose hash matches password
func NewTestIdentityWithPassword(id, email, name, password string) *models.Identity {
	identity := NewTestIdentity(id, email, name)
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	identity.PasswordHash = hash
	return identity
}

// NewTestIdentityLocked creates an identity under an active lockout
func NewTestIdentityLocked(id, email, name string) *models.Identity {
	identity := NewTestIdentity(id, email, name)
	until := time.Now().Add(30 * time.Minute)
	identity.FailedLoginCount = 5
	identity.LockUntil = &until
	return identity
}

// NewTestIdentityInactive creates a deactivated identity
func NewTestIdentityInactive(id, email, name string) *models.Identity {
	identity := NewTestIdentity(id, email, name)
	identity.Active = false
	return identity
}

// NewTestRefreshToken creates an active refresh token row
func NewTestRefreshToken(value, identityID string) *models.RefreshToken {
	return &models.RefreshToken{
		ID:         "rt_" + value,
		Token:      value,
		IdentityID: identityID,
		ExpiresAt:  time.Now().Add(7 * 24 * time.Hour),
		CreatedAt:  time.Now(),
	}
}
