package models

import "time"

// DeviceInfo carries opaque client metadata attached to a refresh token.
// The core stores it and echoes it through rotation; it never interprets it.
type DeviceInfo struct {
	UserAgent string
	IPAddress string
	DeviceID  string
}

// RefreshToken is one issued refresh credential. The token value is an opaque
// random string looked up by exact match; rotation marks the row revoked in
// the same operation that issues its replacement.
type RefreshToken struct {
	ID         string
	Token      string
	IdentityID string
	ExpiresAt  time.Time
	Revoked    bool
	Device     DeviceInfo
	CreatedAt  time.Time
}

// IsExpired reports whether the token is past its expiry
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
