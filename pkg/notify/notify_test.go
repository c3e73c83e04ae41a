package notify

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mail "github.com/go-mail/mail"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/catalog"
	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/observability"
	"github.com/platinummonkey/grants/pkg/storage/storagetest"
)

func TestRender(t *testing.T) {
	msg := Message{
		Kind:             assignments.NotificationVerify,
		To:               Recipient{UserID: 1, Name: "Ada"},
		RoleCode:         catalog.RoleDoctor,
		RoleName:         "Doctor",
		ScopeKey:         "hospital:4",
		AssignmentCode:   "01HASSIGN",
		ConfirmationCode: "SECRET",
		VerifyURL:        VerifyURL("https://grants.example.com/verify", "01HASSIGN", "SECRET"),
	}

	subject, body := Render(msg)
	assert.Equal(t, "Verify your Doctor role", subject)
	assert.Contains(t, body, "Hello Ada")
	assert.Contains(t, body, "Verification code: SECRET")
	assert.Contains(t, body, "https://grants.example.com/verify?assignment_code=01HASSIGN&code=SECRET")

	msg.Kind = assignments.NotificationPending
	msg.ScopeKey = assignments.GlobalScopeKey
	subject, body = Render(msg)
	assert.Equal(t, "Pending Doctor role assignment", subject)
	assert.Contains(t, body, "all organizations")
	assert.NotContains(t, body, "SECRET")

	msg.Kind = assignments.NotificationRegenerated
	_, body = Render(msg)
	assert.NotContains(t, body, "SECRET")

	assert.Empty(t, VerifyURL("", "a", "b"))
	assert.Empty(t, VerifyURL("https://x", "a", ""))
}

type recordingNotifier struct {
	mu       sync.Mutex
	channel  string
	err      error
	messages []Message
}

func (r *recordingNotifier) NotifyAssignment(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.err
}

func (r *recordingNotifier) Channel() string { return r.channel }

func (r *recordingNotifier) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingNotifier) sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	email := &recordingNotifier{channel: "email"}
	sms := &recordingNotifier{channel: "sms"}
	fallback := &recordingNotifier{channel: "log"}

	r := NewRouter(email, sms, fallback)
	require.NoError(t, r.NotifyAssignment(ctx, Message{To: Recipient{Email: "a@example.com", Phone: "+1"}}))
	require.NoError(t, r.NotifyAssignment(ctx, Message{To: Recipient{Phone: "+1"}}))
	require.NoError(t, r.NotifyAssignment(ctx, Message{To: Recipient{}}))

	assert.Len(t, email.sent(), 1)
	assert.Len(t, sms.sent(), 1)
	assert.Len(t, fallback.sent(), 1)
	assert.Equal(t, "sms", r.ChannelFor(Recipient{Phone: "+1"}))

	bare := NewRouter(nil, nil, nil)
	assert.ErrorIs(t, bare.NotifyAssignment(ctx, Message{}), ErrNoChannel)
	assert.Equal(t, "none", bare.ChannelFor(Recipient{}))
}

type fakeMailSender struct {
	messages []*mail.Message
	err      error
}

func (f *fakeMailSender) DialAndSend(m ...*mail.Message) error {
	f.messages = append(f.messages, m...)
	return f.err
}

func TestEmailNotifier(t *testing.T) {
	ctx := context.Background()
	sender := &fakeMailSender{}
	n := NewEmailNotifierWithSender("grants@example.com", sender)

	err := n.NotifyAssignment(ctx, Message{
		Kind:           assignments.NotificationPending,
		To:             Recipient{UserID: 1, Name: "Ada Obi", Email: "ada@example.com"},
		RoleName:       "Nurse",
		AssignmentCode: "01HCODE",
	})
	require.NoError(t, err)
	require.Len(t, sender.messages, 1)

	var buf bytes.Buffer
	_, err = sender.messages[0].WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "ada@example.com")
	assert.Contains(t, raw, "Subject: Pending Nurse role assignment")
	assert.Contains(t, raw, "01HCODE")

	assert.ErrorIs(t, n.NotifyAssignment(ctx, Message{To: Recipient{UserID: 2}}), ErrNoChannel)

	sender.err = errors.New("421 try later")
	err = n.NotifyAssignment(ctx, Message{To: Recipient{Email: "ada@example.com"}})
	assert.ErrorContains(t, err, "421 try later")

	_, err = NewEmailNotifier(SMTPConfig{From: "x@example.com"})
	assert.Error(t, err)
	configured, err := NewEmailNotifier(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "x@example.com", TLSMode: "ssl"})
	require.NoError(t, err)
	assert.Equal(t, "email", configured.Channel())
}

func TestSMSNotifier(t *testing.T) {
	ctx := context.Background()

	var got smsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.To == "+15550000" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n, err := NewSMSNotifier(server.URL, "key-1", server.Client())
	require.NoError(t, err)

	err = n.NotifyAssignment(ctx, Message{
		Kind:             assignments.NotificationVerify,
		To:               Recipient{UserID: 1, Phone: "+15550100"},
		RoleCode:         catalog.RoleNurse,
		AssignmentCode:   "01HCODE",
		ConfirmationCode: "ABC",
	})
	require.NoError(t, err)
	assert.Equal(t, "+15550100", got.To)
	assert.True(t, strings.HasPrefix(got.Body, "Verify your ROLE_NURSE role"))

	err = n.NotifyAssignment(ctx, Message{To: Recipient{Phone: "+15550000"}})
	assert.ErrorContains(t, err, "status 502")

	assert.ErrorIs(t, n.NotifyAssignment(ctx, Message{To: Recipient{UserID: 3}}), ErrNoChannel)

	_, err = NewSMSNotifier("", "", nil)
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 5 * time.Second})

	assert.Equal(t, time.Second, p.NextRetryDelay(0))
	assert.Equal(t, time.Second, p.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, p.NextRetryDelay(2))
	assert.Equal(t, 4*time.Second, p.NextRetryDelay(3))
	assert.Equal(t, 5*time.Second, p.NextRetryDelay(4), "capped at max delay")

	assert.True(t, p.ShouldRetry(2, errors.New("x")))
	assert.False(t, p.ShouldRetry(3, errors.New("x")))
	assert.False(t, p.ShouldRetry(1, nil))

	def := NewRetryPolicy(RetryConfig{})
	assert.Equal(t, 5, def.MaxAttempts())
	assert.Equal(t, 30*time.Second, def.NextRetryDelay(1))
}

type outboxEnv struct {
	db     *sql.DB
	store  *assignments.SQLStore
	userID int64
	roleID int64
	now    time.Time
}

func setupOutbox(t *testing.T) *outboxEnv {
	t.Helper()
	ctx := context.Background()

	db := storagetest.OpenSQLite(t, directory.MigrationSet(), assignments.MigrationSet())
	fx := directory.NewFixtures(db)

	userID, err := fx.User(ctx, "Ada Obi", "ada@example.com", "")
	require.NoError(t, err)
	roleID, err := fx.Role(ctx, catalog.RoleDoctor, "Doctor")
	require.NoError(t, err)

	return &outboxEnv{
		db:     db,
		store:  assignments.NewSQLStore(db),
		userID: userID,
		roleID: roleID,
		now:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (e *outboxEnv) enqueue(t *testing.T, id string, kind assignments.NotificationKind) {
	t.Helper()
	ctx := context.Background()

	a := &assignments.Assignment{
		UserID:         e.userID,
		RoleID:         e.roleID,
		Scope:          assignments.GlobalScope(),
		Active:         true,
		Status:         assignments.StatusConfirmed,
		AssignmentCode: "AC-" + id,
		CreatedAt:      e.now,
		UpdatedAt:      e.now,
	}
	if kind != assignments.NotificationVerify {
		a.RoleID = e.roleID + 1000
	}
	require.NoError(t, e.store.Save(ctx, a))
	require.NoError(t, e.store.EnqueueNotification(ctx, &assignments.Notification{
		ID:               id,
		AssignmentID:     a.ID,
		UserID:           a.UserID,
		RoleID:           a.RoleID,
		ScopeKey:         a.Scope.Key(),
		Kind:             kind,
		AssignmentCode:   a.AssignmentCode,
		ConfirmationCode: "CODE-" + id,
		NextAttemptAt:    e.now,
		CreatedAt:        e.now,
	}))
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	env := setupOutbox(t)
	env.enqueue(t, "n-1", assignments.NotificationVerify)

	notifier := &recordingNotifier{channel: "email"}
	metrics := observability.NewMetrics(nil)
	d := NewDispatcher(DispatcherConfig{
		Outbox:        env.store,
		Contacts:      directory.NewSQLDirectory(env.db),
		Notifier:      notifier,
		Retry:         NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Minute}),
		VerifyBaseURL: "https://grants.example.com/verify",
		Metrics:       metrics,
		Now:           func() time.Time { return env.now },
	})

	notifier.setErr(errors.New("smtp down"))
	err := d.Dispatch(ctx, "n-1")
	assert.ErrorContains(t, err, "smtp down")

	n, err := env.store.FindNotification(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n.Attempts)
	assert.Equal(t, "smtp down", n.LastError)
	assert.True(t, n.NextAttemptAt.Equal(env.now.Add(time.Minute)))
	assert.Nil(t, n.SentAt)

	notifier.setErr(nil)
	require.NoError(t, d.Dispatch(ctx, "n-1"))

	sent := notifier.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "ada@example.com", sent[1].To.Email)
	assert.Equal(t, catalog.RoleDoctor, sent[1].RoleCode)
	assert.Equal(t, "CODE-n-1", sent[1].ConfirmationCode)
	assert.Contains(t, sent[1].VerifyURL, "code=CODE-n-1")

	n, err = env.store.FindNotification(ctx, "n-1")
	require.NoError(t, err)
	assert.NotNil(t, n.SentAt)
	assert.Empty(t, n.ConfirmationCode)

	// already sent rows are not delivered again
	require.NoError(t, d.Dispatch(ctx, "n-1"))
	assert.Len(t, notifier.sent(), 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("email", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("email", "sent")))

	assert.ErrorIs(t, d.Dispatch(ctx, "missing"), assignments.ErrNotFound)
}

func TestRelay(t *testing.T) {
	ctx := context.Background()
	env := setupOutbox(t)
	env.enqueue(t, "r-1", assignments.NotificationVerify)
	env.enqueue(t, "r-2", assignments.NotificationPending)

	clock := env.now
	notifier := &recordingNotifier{channel: "log", err: errors.New("unavailable")}
	metrics := observability.NewMetrics(nil)
	d := NewDispatcher(DispatcherConfig{
		Outbox:   env.store,
		Contacts: directory.NewSQLDirectory(env.db),
		Notifier: notifier,
		Retry:    NewRetryPolicy(RetryConfig{MaxAttempts: 2, InitialDelay: time.Minute}),
		Now:      func() time.Time { return clock },
	})
	relay := NewRelay(d, env.store, RelayConfig{BatchSize: 10, Metrics: metrics})

	delivered, failed, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 2, failed)

	// nothing is due until the backoff elapses
	delivered, failed, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered+failed)

	clock = clock.Add(2 * time.Minute)
	notifier.setErr(nil)
	delivered, failed, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Zero(t, failed)
	assert.Zero(t, testutil.ToFloat64(metrics.OutboxPending))

	// a role that no longer exists still renders with its code blank
	var pending Message
	for _, m := range notifier.sent() {
		if m.Kind == assignments.NotificationPending {
			pending = m
		}
	}
	assert.Empty(t, pending.RoleCode)

	require.NoError(t, relay.Start())
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, relay.Stop(stopCtx))

	bad := NewRelay(d, env.store, RelayConfig{Schedule: "not a schedule"})
	assert.Error(t, bad.Start())
}
