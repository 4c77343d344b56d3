package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinsuite/auth-service/internal/auth"
	"github.com/clinsuite/auth-service/internal/models"
	"github.com/clinsuite/auth-service/internal/services"
)

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	RegisterFunc        func(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error)
	LoginFunc           func(ctx context.Context, email, password string, device models.DeviceInfo) (*services.AuthResponse, error)
	RefreshFunc         func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	LogoutFunc          func(ctx context.Context, identityID, accessToken string, accessExpiry time.Time, refreshToken string)
	LogoutAllFunc       func(ctx context.Context, identityID, accessToken string, accessExpiry time.Time) error
	CurrentIdentityFunc func(ctx context.Context, identityID string) (*services.IdentityResponse, error)
}

func (m *MockSessionService) Register(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, req)
	}
	return NewTestAuthResponse("identity_test"), nil
}

func (m *MockSessionService) Login(ctx context.Context, email, password string, device models.DeviceInfo) (*services.AuthResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password, device)
	}
	return NewTestAuthResponse("identity_test"), nil
}

func (m *MockSessionService) Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return NewTestAuthResponse("identity_test"), nil
}

func (m *MockSessionService) Logout(ctx context.Context, identityID, accessToken string, accessExpiry time.Time, refreshToken string) {
	if m.LogoutFunc != nil {
		m.LogoutFunc(ctx, identityID, accessToken, accessExpiry, refreshToken)
	}
}

func (m *MockSessionService) LogoutAll(ctx context.Context, identityID, accessToken string, accessExpiry time.Time) error {
	if m.LogoutAllFunc != nil {
		return m.LogoutAllFunc(ctx, identityID, accessToken, accessExpiry)
	}
	return nil
}

func (m *MockSessionService) CurrentIdentity(ctx context.Context, identityID string) (*services.IdentityResponse, error) {
	if m.CurrentIdentityFunc != nil {
		return m.CurrentIdentityFunc(ctx, identityID)
	}
	return &services.IdentityResponse{ID: identityID, Email: "test@clinic.test"}, nil
}

// MockPasswordService implements PasswordServiceInterface for testing
type MockPasswordService struct {
	ChangePasswordFunc func(ctx context.Context, identityID, currentPassword, newPassword string) error
	RequestResetFunc   func(ctx context.Context, email string) error
	ConsumeResetFunc   func(ctx context.Context, token, newPassword string) error
	StatusFunc         func(ctx context.Context, identityID string) (*services.PasswordStatus, error)
}

func (m *MockPasswordService) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, identityID, currentPassword, newPassword)
	}
	return nil
}

func (m *MockPasswordService) RequestReset(ctx context.Context, email string) error {
	if m.RequestResetFunc != nil {
		return m.RequestResetFunc(ctx, email)
	}
	return nil
}

func (m *MockPasswordService) ConsumeReset(ctx context.Context, token, newPassword string) error {
	if m.ConsumeResetFunc != nil {
		return m.ConsumeResetFunc(ctx, token, newPassword)
	}
	return nil
}

func (m *MockPasswordService) Status(ctx context.Context, identityID string) (*services.PasswordStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, identityID)
	}
	return &services.PasswordStatus{}, nil
}

// NewTestAuthResponse builds a minimal successful auth response
func NewTestAuthResponse(identityID string) *services.AuthResponse {
	return &services.AuthResponse{
		AccessToken:  "access_token_" + identityID,
		RefreshToken: "refresh_token_" + identityID,
		ExpiresIn:    900,
		Identity: &services.IdentityResponse{
			ID:    identityID,
			Email: "test@clinic.test",
			Role:  models.RoleAdmin,
		},
	}
}

// WithTestClaims injects verified claims and a raw token into the request
// context the way the auth middleware does.
func WithTestClaims(r *http.Request, identityID string) *http.Request {
	claims := &models.AccessClaims{
		IdentityID: identityID,
		Email:      "test@clinic.test",
		Role:       models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	ctx := context.WithValue(r.Context(), auth.ClaimsContextKey, claims)
	ctx = context.WithValue(ctx, auth.AccessTokenContextKey, "raw_access_token")
	return r.WithContext(ctx)
}
