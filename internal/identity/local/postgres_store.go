package local

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/placelists/placelists/internal/platform/database"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema the Postgres store needs.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const uniqueViolation = "23505"

// PostgresStore keeps accounts, sessions and refresh tokens in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Migrate applies the store's schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return database.RunMigrations(ctx, s.pool, Migrations())
}

func (s *PostgresStore) CreateUser(ctx context.Context, email, passwordHash string, confirmedAt *time.Time) (*UserRecord, error) {
	u := UserRecord{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, EmailConfirmedAt: confirmedAt}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO identity_users (id, email, password_hash, email_confirmed_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		u.ID, email, passwordHash, confirmedAt,
	).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	return s.scanUser(ctx,
		`SELECT id, email, password_hash, email_confirmed_at, created_at
		 FROM identity_users WHERE lower(email) = lower($1)`, email)
}

func (s *PostgresStore) UserByID(ctx context.Context, id string) (*UserRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}
	return s.scanUser(ctx,
		`SELECT id, email, password_hash, email_confirmed_at, created_at
		 FROM identity_users WHERE id = $1`, id)
}

func (s *PostgresStore) scanUser(ctx context.Context, sql string, arg string) (*UserRecord, error) {
	var u UserRecord
	err := s.pool.QueryRow(ctx, sql, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.EmailConfirmedAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) SetPassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identity_users SET password_hash = $1, updated_at = now() WHERE id = $2`,
		passwordHash, userID,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) ConfirmEmail(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identity_users
		 SET email_confirmed_at = COALESCE(email_confirmed_at, $1), updated_at = now()
		 WHERE id = $2`,
		at, userID,
	)
	if err != nil {
		return fmt.Errorf("confirming email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID string, first RefreshToken) (string, error) {
	sessionID := uuid.NewString()
	err := database.WithTx(ctx, s.pool, func(ctx context.Context, q database.Querier) error {
		if _, err := q.Exec(ctx,
			`INSERT INTO identity_sessions (id, user_id) VALUES ($1, $2)`,
			sessionID, userID,
		); err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		if _, err := q.Exec(ctx,
			`INSERT INTO identity_refresh_tokens (token_hash, session_id, user_id, expires_at)
			 VALUES ($1, $2, $3, $4)`,
			first.TokenHash, sessionID, userID, first.ExpiresAt,
		); err != nil {
			return fmt.Errorf("storing refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (s *PostgresStore) SessionActive(ctx context.Context, sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return ErrSessionNotFound
	}
	var revokedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT revoked_at FROM identity_sessions WHERE id = $1`, sessionID,
	).Scan(&revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("querying session: %w", err)
	}
	if revokedAt != nil {
		return ErrSessionRevoked
	}
	return nil
}

func (s *PostgresStore) RevokeUserSessions(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE identity_sessions SET revoked_at = now()
		 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("revoking sessions for user: %w", err)
	}
	return nil
}

// RotateRefreshToken validates and rotates inside one transaction. The row
// lock on the presented token serializes concurrent refreshes.
func (s *PostgresStore) RotateRefreshToken(ctx context.Context, presentedHash string, next RefreshToken, now time.Time) (*RefreshToken, error) {
	var out *RefreshToken
	var reused bool
	err := database.WithTx(ctx, s.pool, func(ctx context.Context, q database.Querier) error {
		var (
			cur       RefreshToken
			usedAt    *time.Time
			revokedAt *time.Time
		)
		err := q.QueryRow(ctx,
			`SELECT t.session_id, t.user_id, t.expires_at, t.used_at, s.revoked_at
			 FROM identity_refresh_tokens t
			 JOIN identity_sessions s ON s.id = t.session_id
			 WHERE t.token_hash = $1
			 FOR UPDATE OF t, s`,
			presentedHash,
		).Scan(&cur.SessionID, &cur.UserID, &cur.ExpiresAt, &usedAt, &revokedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRefreshTokenNotFound
			}
			return fmt.Errorf("querying refresh token: %w", err)
		}

		switch {
		case !cur.ExpiresAt.After(now):
			return ErrRefreshTokenNotFound
		case revokedAt != nil:
			return ErrSessionRevoked
		case usedAt != nil:
			// Reuse of a rotated token: revoke the session, and commit that.
			if _, err := q.Exec(ctx,
				`UPDATE identity_sessions SET revoked_at = $1 WHERE id = $2`,
				now, cur.SessionID,
			); err != nil {
				return fmt.Errorf("revoking session after reuse detection: %w", err)
			}
			reused = true
			return nil
		}

		if _, err := q.Exec(ctx,
			`UPDATE identity_refresh_tokens SET used_at = $1 WHERE token_hash = $2`,
			now, presentedHash,
		); err != nil {
			return fmt.Errorf("marking refresh token used: %w", err)
		}
		if _, err := q.Exec(ctx,
			`INSERT INTO identity_refresh_tokens (token_hash, session_id, user_id, expires_at)
			 VALUES ($1, $2, $3, $4)`,
			next.TokenHash, cur.SessionID, cur.UserID, next.ExpiresAt,
		); err != nil {
			return fmt.Errorf("storing refresh token: %w", err)
		}

		next.SessionID = cur.SessionID
		next.UserID = cur.UserID
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reused {
		return nil, ErrRefreshTokenReused
	}
	return out, nil
}
