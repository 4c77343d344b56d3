package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/clinsuite/auth-service/internal/models"
	pkghttp "github.com/clinsuite/auth-service/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing verified claims in context
	ClaimsContextKey contextKey = "claims"
	// AccessTokenContextKey carries the raw bearer token for logout
	AccessTokenContextKey contextKey = "access_token"
)

// IdentityFetcher loads an identity by id for role and password-state checks
type IdentityFetcher interface {
	GetByID(ctx context.Context, id string) (*models.Identity, error)
}

// Middleware verifies the bearer token (including its revocation status) and
// injects the claims into the request context.
func Middleware(issuer *TokenIssuer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			claims, err := issuer.VerifyAccessToken(r.Context(), tokenString)
			if err != nil {
				switch {
				case errors.Is(err, models.ErrTokenExpired):
					pkghttp.WriteUnauthorized(w, "token expired")
				case errors.Is(err, models.ErrTokenRevoked):
					pkghttp.WriteUnauthorized(w, "token revoked")
				default:
					pkghttp.WriteUnauthorized(w, "invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = context.WithValue(ctx, AccessTokenContextKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePasswordCurrent blocks identities whose password is expired or
// flagged for a forced change. Mount after Middleware on routes other than
// the password-change endpoints themselves.
func RequirePasswordCurrent(identities IdentityFetcher) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			identity, err := identities.GetByID(r.Context(), claims.IdentityID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "unauthorized")
					return
				}
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}

			if identity.ForcePasswordChange {
				pkghttp.WriteForbidden(w, "password change required")
				return
			}
			if identity.PasswordIsExpired() {
				pkghttp.WriteForbidden(w, "password expired")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole enforces role-based access. Mount after Middleware.
func RequireRole(identities IdentityFetcher, roles ...string) func(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			// Fetch the identity so role changes take effect before token expiry
			identity, err := identities.GetByID(r.Context(), claims.IdentityID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "unauthorized")
					return
				}
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}

			if !allowed[identity.Role] {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext extracts verified claims from the request context; nil
// when the request did not pass Middleware.
func ClaimsFromContext(ctx context.Context) *models.AccessClaims {
	claims, _ := ctx.Value(ClaimsContextKey).(*models.AccessClaims)
	return claims
}

// AccessTokenFromContext extracts the raw bearer token from the context
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(AccessTokenContextKey).(string)
	return token
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
