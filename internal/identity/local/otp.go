package local

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/placelists/placelists/internal/auth"
)

// ErrOTPNotFound is returned for unknown or already used one-time tokens.
var ErrOTPNotFound = errors.New("one-time token not found")

// expiredRetention is how long an expired one-time token is remembered so
// that it can be reported as expired rather than unknown.
const expiredRetention = 24 * time.Hour

// OTPRecord is what an emailed one-time token stands for.
type OTPRecord struct {
	UserID string       `json:"user_id"`
	Type   auth.OTPType `json:"type"`
	// CodeChallenge binds a PKCE code to the browser that started the flow.
	CodeChallenge string    `json:"code_challenge,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// OneTimeTokens stores emailed tokens by hash. Take is single-use: a token
// can be taken at most once.
type OneTimeTokens interface {
	Put(ctx context.Context, hash string, rec OTPRecord) error
	Take(ctx context.Context, hash string) (*OTPRecord, error)
}

func newOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MemoryTokens is an in-process OneTimeTokens.
type MemoryTokens struct {
	mu     sync.Mutex
	tokens map[string]OTPRecord
	now    func() time.Time
}

func NewMemoryTokens(now func() time.Time) *MemoryTokens {
	if now == nil {
		now = time.Now
	}
	return &MemoryTokens{tokens: make(map[string]OTPRecord), now: now}
}

var _ OneTimeTokens = (*MemoryTokens)(nil)

func (m *MemoryTokens) Put(_ context.Context, hash string, rec OTPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-expiredRetention)
	for h, r := range m.tokens {
		if r.ExpiresAt.Before(cutoff) {
			delete(m.tokens, h)
		}
	}
	m.tokens[hash] = rec
	return nil
}

func (m *MemoryTokens) Take(_ context.Context, hash string) (*OTPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tokens[hash]
	if !ok {
		return nil, ErrOTPNotFound
	}
	delete(m.tokens, hash)
	return &rec, nil
}
