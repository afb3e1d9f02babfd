// Package audit records account security events: signups, logins, password
// changes and token revocations. Events carry user IDs, never raw emails or
// credentials.
package audit

import "context"

// Event represents a single auditable account action.
type Event struct {
	UserID   string // empty when the account is unknown
	Action   string
	Metadata map[string]any
}

const (
	ActionSignedUp             = "user_signedup"
	ActionRepeatedSignup       = "user_repeated_signup"
	ActionConfirmationSent     = "user_confirmation_requested"
	ActionRecoverySent         = "user_recovery_requested"
	ActionConfirmed            = "user_confirmed"
	ActionLogin                = "login"
	ActionLoginFailed          = "login_failed"
	ActionLogout               = "logout"
	ActionPasswordUpdated      = "user_updated_password"
	ActionTokenRefreshed       = "token_refreshed"
	ActionTokenRevoked         = "token_revoked"
	ActionCodeExchangeRejected = "code_exchange_rejected"
)

const (
	MetadataEmail   = "email" // masked
	MetadataReason  = "reason"
	MetadataFlow    = "flow"
	MetadataOTPType = "otp_type"
	MetadataSession = "session_id"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }
