package local_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/placelists/placelists/internal/audit"
	"github.com/placelists/placelists/internal/identity/local"
	"github.com/placelists/placelists/internal/platform/telemetry"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// outbox records sent messages.
type outbox struct {
	mu       sync.Mutex
	messages []local.Message
}

func (o *outbox) Send(_ context.Context, msg local.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

func (o *outbox) last(t *testing.T) (local.Message, url.Values) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.messages, "no email sent")
	msg := o.messages[len(o.messages)-1]
	u, err := url.Parse(msg.Link)
	require.NoError(t, err)
	return msg, u.Query()
}

// auditTrail records audit events in order.
type auditTrail struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *auditTrail) Log(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *auditTrail) Close() error { return nil }

func (a *auditTrail) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Action
	}
	return out
}

func (a *auditTrail) lastEvent(t *testing.T) audit.Event {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.events, "no audit events")
	return a.events[len(a.events)-1]
}

type providerFixture struct {
	provider *local.Provider
	store    local.Store
	outbox   *outbox
	audit    *auditTrail
	clock    *clock
}

func newProviderFixture(t *testing.T, requireEmail bool) *providerFixture {
	t.Helper()
	return newProviderFixtureWith(t, local.NewMemoryStore(), nil, requireEmail)
}

// newProviderFixtureWith builds the one-time token store from the
// fixture's clock; a nil newTokens means in memory.
func newProviderFixtureWith(t *testing.T, store local.Store, newTokens func(now func() time.Time) local.OneTimeTokens, requireEmail bool) *providerFixture {
	t.Helper()
	c := newClock()
	var tokens local.OneTimeTokens = local.NewMemoryTokens(c.Now)
	if newTokens != nil {
		tokens = newTokens(c.Now)
	}
	box := &outbox{}
	trail := &auditTrail{}
	p, err := local.NewProvider(local.Config{
		Store:                    store,
		Tokens:                   tokens,
		Issuer:                   local.NewTokenIssuer(testSigningKey, "placelists", time.Hour, c.Now),
		Mailer:                   box,
		Logger:                   telemetry.NopLogger(),
		Audit:                    trail,
		RefreshTTL:               30 * 24 * time.Hour,
		OTPTTL:                   time.Hour,
		RequireEmailConfirmation: requireEmail,
		PasswordCost:             bcrypt.MinCost,
		Now:                      c.Now,
	})
	require.NoError(t, err)
	return &providerFixture{provider: p, store: store, outbox: box, audit: trail, clock: c}
}
