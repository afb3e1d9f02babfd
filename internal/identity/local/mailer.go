package local

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/placelists/placelists/internal/auth"
)

// Message is an outgoing account email.
type Message struct {
	To   string
	Type auth.OTPType
	Link string
}

func (m Message) Subject() string {
	switch m.Type {
	case auth.OTPRecovery:
		return "Reset your placelists password"
	default:
		return "Confirm your placelists account"
	}
}

// Mailer delivers account emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// WriterMailer prints messages to a writer. It is the outbox of the
// development provider.
type WriterMailer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterMailer(w io.Writer) *WriterMailer {
	return &WriterMailer{w: w}
}

func (m *WriterMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := fmt.Fprintf(m.w, "To: %s\nSubject: %s\n\n%s\n\n", msg.To, msg.Subject(), msg.Link)
	if err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}
