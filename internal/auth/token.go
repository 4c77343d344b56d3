package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clinsuite/auth-service/internal/models"
)

// RevocationChecker reports whether an access token was revoked before its
// natural expiry.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// TokenIssuer mints and verifies signed access tokens. It is stateless aside
// from the revocation list consulted on verification.
type TokenIssuer struct {
	secret    []byte
	accessTTL time.Duration
	issuer    string
	audience  string
	revoked   RevocationChecker
	logger    *slog.Logger
}

func NewTokenIssuer(secret string, accessTTL time.Duration, issuer, audience string, revoked RevocationChecker, logger *slog.Logger) *TokenIssuer {
	return &TokenIssuer{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		issuer:    issuer,
		audience:  audience,
		revoked:   revoked,
		logger:    logger,
	}
}

// AccessTokenTTL returns the configured access token lifetime
func (ti *TokenIssuer) AccessTokenTTL() time.Duration {
	return ti.accessTTL
}

// IssueAccessToken mints a short-lived signed token carrying the identity
// claims. clinicID may be nil for identities without a clinic.
func (ti *TokenIssuer) IssueAccessToken(identityID, email, role string, clinicID *string) (string, error) {
	now := time.Now()

	claims := &models.AccessClaims{
		IdentityID: identityID,
		Email:      email,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    ti.issuer,
			Audience:  jwt.ClaimStrings{ti.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if clinicID != nil {
		claims.ClinicID = *clinicID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// VerifyAccessToken checks the revocation list, then verifies the signature,
// issuer, audience, expiry (no leeway) and required claims. A revoked token
// fails before any cryptographic work.
func (ti *TokenIssuer) VerifyAccessToken(ctx context.Context, tokenString string) (*models.AccessClaims, error) {
	if ti.revoked != nil {
		isRevoked, err := ti.revoked.IsRevoked(ctx, tokenString)
		if err != nil {
			// Fail open: a cache outage must not lock everyone out. The
			// exposure window is bounded by the access token TTL.
			ti.logger.Error("revocation check failed, treating token as not revoked", slog.Any("error", err))
		} else if isRevoked {
			return nil, models.ErrTokenRevoked
		}
	}

	claims := &models.AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, models.ErrInvalidToken
			}
			return ti.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithAudience(ti.audience),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrInvalidToken
	}

	if !token.Valid {
		return nil, models.ErrInvalidToken
	}

	if claims.IdentityID == "" || claims.Email == "" || claims.Role == "" {
		return nil, models.ErrInvalidToken
	}

	return claims, nil
}
