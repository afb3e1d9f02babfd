package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailTaken           = errors.New("email already registered")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenReused   = errors.New("refresh token reuse detected")
	ErrSessionRevoked       = errors.New("session revoked")
	ErrSessionNotFound      = errors.New("session not found")
)

// UserRecord is a stored account.
type UserRecord struct {
	ID               string
	Email            string
	PasswordHash     string
	EmailConfirmedAt *time.Time
	CreatedAt        time.Time
}

// RefreshToken is a stored refresh token. Only its hash is kept.
type RefreshToken struct {
	TokenHash string
	SessionID string
	UserID    string
	ExpiresAt time.Time
}

// Store persists accounts, sessions and refresh tokens for the local
// provider.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string, confirmedAt *time.Time) (*UserRecord, error)
	UserByEmail(ctx context.Context, email string) (*UserRecord, error)
	UserByID(ctx context.Context, id string) (*UserRecord, error)
	SetPassword(ctx context.Context, userID, passwordHash string) error
	ConfirmEmail(ctx context.Context, userID string, at time.Time) error

	// CreateSession starts a session whose first refresh token is first.
	CreateSession(ctx context.Context, userID string, first RefreshToken) (sessionID string, err error)
	// SessionActive returns ErrSessionNotFound or ErrSessionRevoked for
	// sessions that cannot be used.
	SessionActive(ctx context.Context, sessionID string) error
	RevokeUserSessions(ctx context.Context, userID string) error

	// RotateRefreshToken marks the presented token used and stores next in
	// the same session. Presenting a used token revokes the whole session
	// and returns ErrRefreshTokenReused.
	RotateRefreshToken(ctx context.Context, presentedHash string, next RefreshToken, now time.Time) (*RefreshToken, error)
}

// HashToken computes the SHA-256 hex digest of a raw token. Raw refresh
// tokens and emailed link tokens are never stored.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
