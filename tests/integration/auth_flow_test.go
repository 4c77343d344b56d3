//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsuite/auth-service/internal/models"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		panic("failed to set up test database: " + err.Error())
	}
	testDB = db

	code := m.Run()

	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func newServer(t *testing.T) *TestServer {
	t.Helper()

	require.NoError(t, testDB.CleanupTables(context.Background()))

	ts, err := NewTestServer(testDB.DB)
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return ts
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	ts := newServer(t)
	identityRepo, _ := InitializeRepositories(testDB.DB)

	email, password := TestCredentials("flow")
	_, err := SeedIdentity(context.Background(), identityRepo, email, password, models.RoleDentist)
	require.NoError(t, err)

	// Login
	resp, err := ts.Request("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	accessToken, refreshToken, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	require.NotEmpty(t, accessToken)
	require.Len(t, refreshToken, 96)

	// Authenticated request
	resp, err = ts.RequestWithAuth("GET", "/auth/me", accessToken, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Rotate the refresh token
	resp, err = ts.Request("POST", "/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	newAccess, newRefresh, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	require.NotEmpty(t, newAccess)
	require.NotEqual(t, refreshToken, newRefresh)

	// The spent token is single use
	resp, err = ts.Request("POST", "/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Logout kills both tokens
	resp, err = ts.RequestWithAuth("POST", "/auth/logout", newAccess, map[string]string{
		"refresh_token": newRefresh,
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = ts.RequestWithAuth("GET", "/auth/me", newAccess, nil)
	require.NoError(t, err)
	msg, err := GetErrorMessage(resp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, msg, "revoked")

	resp, err = ts.Request("POST", "/auth/refresh", map[string]string{
		"refresh_token": newRefresh,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProgressiveLockout(t *testing.T) {
	ts := newServer(t)
	identityRepo, _ := InitializeRepositories(testDB.DB)

	email, password := TestCredentials("lockout")
	_, err := SeedIdentity(context.Background(), identityRepo, email, password, models.RoleAssistant)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		resp, err := ts.Request("POST", "/auth/login", map[string]string{
			"email":    email,
			"password": "Wrong-password-1!",
		}, nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// The correct password no longer works while the lock holds
	resp, err := ts.Request("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	msg, err := GetErrorMessage(resp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, msg, "locked")
}

func TestPasswordResetFlow(t *testing.T) {
	ts := newServer(t)
	identityRepo, _ := InitializeRepositories(testDB.DB)

	email, password := TestCredentials("reset")
	_, err := SeedIdentity(context.Background(), identityRepo, email, password, models.RoleManager)
	require.NoError(t, err)

	resp, err := ts.Request("POST", "/auth/forgot-password", map[string]string{
		"email": email,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	sent := ts.EmailSender.GetLastEmail()
	require.NotNil(t, sent)
	assert.Equal(t, email, sent.To)
	require.Len(t, sent.Token, 64)

	newPassword := "Brand-new-password-9!"
	resp, err = ts.Request("POST", "/auth/reset-password", map[string]string{
		"token":        sent.Token,
		"new_password": newPassword,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// A reset token is single use
	resp, err = ts.Request("POST", "/auth/reset-password", map[string]string{
		"token":        sent.Token,
		"new_password": "Another-password-10!",
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Login works with the new password only
	resp, err = ts.Request("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = ts.Request("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": newPassword,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefreshTokenCapTrimsOldest(t *testing.T) {
	ts := newServer(t)
	identityRepo, refreshRepo := InitializeRepositories(testDB.DB)

	email, password := TestCredentials("cap")
	identity, err := SeedIdentity(context.Background(), identityRepo, email, password, models.RoleDentist)
	require.NoError(t, err)

	// Seven logins, seven refresh tokens issued
	var refreshTokens []string
	for i := 0; i < 7; i++ {
		resp, err := ts.Request("POST", "/auth/login", map[string]string{
			"email":    email,
			"password": password,
		}, nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_, refreshToken, err := ExtractTokensFromResponse(resp)
		require.NoError(t, err)
		refreshTokens = append(refreshTokens, refreshToken)
	}

	count, err := refreshRepo.CountActive(context.Background(), identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// The two oldest sessions were trimmed
	for _, stale := range refreshTokens[:2] {
		resp, err := ts.Request("POST", "/auth/refresh", map[string]string{
			"refresh_token": stale,
		}, nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// The newest still rotates
	resp, err := ts.Request("POST", "/auth/refresh", map[string]string{
		"refresh_token": refreshTokens[6],
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminGatedRegistration(t *testing.T) {
	ts := newServer(t)
	identityRepo, _ := InitializeRepositories(testDB.DB)

	adminEmail, adminPassword := TestCredentials("admin")
	_, err := SeedIdentity(context.Background(), identityRepo, adminEmail, adminPassword, models.RoleAdmin)
	require.NoError(t, err)

	resp, err := ts.Request("POST", "/auth/login", map[string]string{
		"email":    adminEmail,
		"password": adminPassword,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accessToken, _, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)

	newEmail, newPassword := TestCredentials("staff")
	resp, err = ts.RequestWithAuth("POST", "/auth/register", accessToken, map[string]string{
		"name":     "New Dentist",
		"email":    newEmail,
		"password": newPassword,
		"role":     models.RoleDentist,
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Unauthenticated registration is rejected
	resp, err = ts.Request("POST", "/auth/register", map[string]string{
		"name":     "Walk-in",
		"email":    "walkin@example.com",
		"password": newPassword,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The new identity can log in
	resp, err = ts.Request("POST", "/auth/login", map[string]string{
		"email":    newEmail,
		"password": newPassword,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
