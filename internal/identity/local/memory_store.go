package local

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memorySession struct {
	userID    string
	revokedAt *time.Time
}

type memoryRefresh struct {
	RefreshToken
	used bool
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*UserRecord // by id
	emails   map[string]string      // lowercased email -> id
	sessions map[string]*memorySession
	refresh  map[string]*memoryRefresh // by token hash
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*UserRecord),
		emails:   make(map[string]string),
		sessions: make(map[string]*memorySession),
		refresh:  make(map[string]*memoryRefresh),
		now:      time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateUser(_ context.Context, email, passwordHash string, confirmedAt *time.Time) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := s.emails[key]; ok {
		return nil, ErrEmailTaken
	}
	u := &UserRecord{
		ID:               uuid.NewString(),
		Email:            email,
		PasswordHash:     passwordHash,
		EmailConfirmedAt: confirmedAt,
		CreatedAt:        s.now(),
	}
	s.users[u.ID] = u
	s.emails[key] = u.ID
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) SetPassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *MemoryStore) ConfirmEmail(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if u.EmailConfirmedAt == nil {
		u.EmailConfirmedAt = &at
	}
	return nil
}

func (s *MemoryStore) CreateSession(_ context.Context, userID string, first RefreshToken) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return "", ErrUserNotFound
	}
	id := uuid.NewString()
	s.sessions[id] = &memorySession{userID: userID}
	first.SessionID = id
	first.UserID = userID
	s.refresh[first.TokenHash] = &memoryRefresh{RefreshToken: first}
	return id, nil
}

func (s *MemoryStore) SessionActive(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.revokedAt != nil {
		return ErrSessionRevoked
	}
	return nil
}

func (s *MemoryStore) RevokeUserSessions(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, sess := range s.sessions {
		if sess.userID == userID && sess.revokedAt == nil {
			sess.revokedAt = &now
		}
	}
	return nil
}

func (s *MemoryStore) RotateRefreshToken(_ context.Context, presentedHash string, next RefreshToken, now time.Time) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.refresh[presentedHash]
	if !ok || !cur.ExpiresAt.After(now) {
		return nil, ErrRefreshTokenNotFound
	}
	sess := s.sessions[cur.SessionID]
	if sess == nil || sess.revokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if cur.used {
		sess.revokedAt = &now
		return nil, ErrRefreshTokenReused
	}

	cur.used = true
	next.SessionID = cur.SessionID
	next.UserID = cur.UserID
	s.refresh[next.TokenHash] = &memoryRefresh{RefreshToken: next}
	out := next
	return &out, nil
}
