package services

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/isdelr/access-panel-be/internal/auth"
	"github.com/isdelr/access-panel-be/internal/database"
	"github.com/isdelr/access-panel-be/internal/mail"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestUserService(t *testing.T) *UserService {
	t.Helper()
	svc := NewUserService(openTestDB(t))
	svc.bcryptCost = bcrypt.MinCost
	return svc
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type accountFixture struct {
	svc    *AccountService
	users  *UserService
	events *EventService
	mailer *fakeMailer
	codec  *auth.VerificationCodec
	clock  *fakeClock
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()
	users := newTestUserService(t)
	events := NewEventService(users.db, nil)
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := auth.NewVerificationCodec("test-secret", auth.WithVerificationClock(clock.Now))
	require.NoError(t, err)
	mailer := &fakeMailer{}

	svc := NewAccountService(users, codec, mailer, events, "https://panel.example.com/", auth.DefaultVerificationMaxAge)
	return &accountFixture{svc: svc, users: users, events: events, mailer: mailer, codec: codec, clock: clock}
}

func countUsers(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(1) FROM users").Scan(&n))
	return n
}
