package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsuite/auth-service/internal/models"
	"github.com/clinsuite/auth-service/internal/services"
	pkghttp "github.com/clinsuite/auth-service/pkg/http"
)

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authenticated {
		req = WithTestClaims(req, "identity_test")
	}

	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestAuthHandler_Login(t *testing.T) {
	t.Run("success returns token pair", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{}, nil)

		rec := postJSON(t, h.Login, "/auth/login", LoginRequest{
			Email:    "dentist@clinic.test",
			Password: "Correct1horse",
		}, false)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp services.AuthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)
	})

	t.Run("unknown email and wrong password produce the same body", func(t *testing.T) {
		unknown := NewAuthHandler(&MockSessionService{
			LoginFunc: func(ctx context.Context, email, password string, device models.DeviceInfo) (*services.AuthResponse, error) {
				return nil, models.ErrUnauthorized
			},
		}, nil)

		recUnknown := postJSON(t, unknown.Login, "/auth/login", LoginRequest{
			Email: "nobody@clinic.test", Password: "whatever1A",
		}, false)
		recWrong := postJSON(t, unknown.Login, "/auth/login", LoginRequest{
			Email: "dentist@clinic.test", Password: "whatever1A",
		}, false)

		assert.Equal(t, http.StatusUnauthorized, recUnknown.Code)
		assert.Equal(t, http.StatusUnauthorized, recWrong.Code)
		assert.Equal(t, recUnknown.Body.String(), recWrong.Body.String())
	})

	t.Run("locked account is reported", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{
			LoginFunc: func(ctx context.Context, email, password string, device models.DeviceInfo) (*services.AuthResponse, error) {
				return nil, models.ErrAccountLocked
			},
		}, nil)

		rec := postJSON(t, h.Login, "/auth/login", LoginRequest{
			Email: "dentist@clinic.test", Password: "whatever1A",
		}, false)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "locked")
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{}, nil)

		req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString("{not-json"))
		rec := httptest.NewRecorder()
		h.Login(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing fields are rejected before the service runs", func(t *testing.T) {
		called := false
		h := NewAuthHandler(&MockSessionService{
			LoginFunc: func(ctx context.Context, email, password string, device models.DeviceInfo) (*services.AuthResponse, error) {
				called = true
				return nil, nil
			},
		}, nil)

		rec := postJSON(t, h.Login, "/auth/login", LoginRequest{Email: "not-an-email"}, false)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, called)
	})
}

func TestAuthHandler_Register(t *testing.T) {
	t.Run("success returns 201 with session", func(t *testing.T) {
		var got services.RegisterRequest
		h := NewAuthHandler(&MockSessionService{
			RegisterFunc: func(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error) {
				got = req
				return NewTestAuthResponse("identity_new"), nil
			},
		}, nil)

		rec := postJSON(t, h.Register, "/auth/register", RegisterRequest{
			Name:     "Dr. Nouveau",
			Email:    "nouveau@clinic.test",
			Password: "Fresh1password",
			Role:     models.RoleDentist,
		}, false)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, models.RoleDentist, got.Role)
		assert.Equal(t, "nouveau@clinic.test", got.Email)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{
			RegisterFunc: func(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error) {
				return nil, models.ErrConflict
			},
		}, nil)

		rec := postJSON(t, h.Register, "/auth/register", RegisterRequest{
			Name: "Dr. Nouveau", Email: "nouveau@clinic.test", Password: "Fresh1password",
		}, false)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("weak password is a bad request with the reason", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{
			RegisterFunc: func(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error) {
				return nil, models.NewValidationError("password must contain at least one digit")
			},
		}, nil)

		rec := postJSON(t, h.Register, "/auth/register", RegisterRequest{
			Name: "Dr. Nouveau", Email: "nouveau@clinic.test", Password: "NoDigitsHere",
		}, false)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "digit")
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{}, nil)

		rec := postJSON(t, h.Register, "/auth/register", RegisterRequest{
			Name: "Dr. Nouveau", Email: "nouveau@clinic.test", Password: "Fresh1password", Role: "janitor",
		}, false)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthHandler_Refresh(t *testing.T) {
	t.Run("success returns new pair", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{}, nil)

		rec := postJSON(t, h.Refresh, "/auth/refresh", RefreshRequest{RefreshToken: "some-token"}, false)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("invalid token is unauthorized", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{
			RefreshFunc: func(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
				return nil, models.ErrUnauthorized
			},
		}, nil)

		rec := postJSON(t, h.Refresh, "/auth/refresh", RefreshRequest{RefreshToken: "spent-token"}, false)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing token is a bad request", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{}, nil)

		rec := postJSON(t, h.Refresh, "/auth/refresh", RefreshRequest{}, false)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthHandler_Logout(t *testing.T) {
	t.Run("passes tokens through and returns 204", func(t *testing.T) {
		var gotAccess, gotRefresh, gotIdentity string
		h := NewAuthHandler(&MockSessionService{
			LogoutFunc: func(ctx context.Context, identityID, accessToken string, accessExpiry time.Time, refreshToken string) {
				gotIdentity = identityID
				gotAccess = accessToken
				gotRefresh = refreshToken
			},
		}, nil)

		rec := postJSON(t, h.Logout, "/auth/logout", LogoutRequest{RefreshToken: "the-refresh"}, true)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "identity_test", gotIdentity)
		assert.Equal(t, "raw_access_token", gotAccess)
		assert.Equal(t, "the-refresh", gotRefresh)
	})

	t.Run("works without a body", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{}, nil)

		rec := postJSON(t, h.Logout, "/auth/logout", nil, true)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing claims is unauthorized", func(t *testing.T) {
		h := NewAuthHandler(&MockSessionService{}, nil)

		rec := postJSON(t, h.Logout, "/auth/logout", LogoutRequest{}, false)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthHandler_LogoutAll(t *testing.T) {
	h := NewAuthHandler(&MockSessionService{}, nil)

	rec := postJSON(t, h.LogoutAll, "/auth/logout-all", nil, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = postJSON(t, h.LogoutAll, "/auth/logout-all", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandler_Me(t *testing.T) {
	h := NewAuthHandler(&MockSessionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = WithTestClaims(req, "identity_test")
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp services.IdentityResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "identity_test", resp.ID)
}

func TestAuthHandler_DeviceInfo(t *testing.T) {
	h := NewAuthHandler(&MockSessionService{}, pkghttp.NewIPConfig(nil))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("User-Agent", "test-agent/1.0")
	req.Header.Set("X-Device-ID", "tablet-4")

	device := h.deviceInfo(req)
	assert.Equal(t, "203.0.113.7", device.IPAddress)
	assert.Equal(t, "test-agent/1.0", device.UserAgent)
	assert.Equal(t, "tablet-4", device.DeviceID)
}
