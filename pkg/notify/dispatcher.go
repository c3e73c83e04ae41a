package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/observability"
)

// Outbox is the notification side of the assignment store
type Outbox interface {
	FindNotification(ctx context.Context, id string) (*assignments.Notification, error)
	PendingNotifications(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*assignments.Notification, error)
	CountPendingNotifications(ctx context.Context, maxAttempts int) (int, error)
	MarkNotificationSent(ctx context.Context, id string, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id, reason string, nextAttempt time.Time) error
}

// Contacts resolves recipients and role names
type Contacts interface {
	UserByID(ctx context.Context, id int64) (*directory.User, error)
	RoleByID(ctx context.Context, id int64) (*directory.Role, error)
}

type channelChooser interface {
	ChannelFor(to Recipient) string
}

// Dispatcher turns outbox rows into delivered messages
type Dispatcher struct {
	outbox        Outbox
	contacts      Contacts
	notifier      Notifier
	retry         *RetryPolicy
	verifyBaseURL string
	metrics       *observability.Metrics
	logger        *observability.Logger
	now           func() time.Time
}

// DispatcherConfig wires a Dispatcher
type DispatcherConfig struct {
	Outbox        Outbox
	Contacts      Contacts
	Notifier      Notifier
	Retry         *RetryPolicy
	VerifyBaseURL string
	Metrics       *observability.Metrics
	Logger        *observability.Logger
	Now           func() time.Time
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		outbox:        cfg.Outbox,
		contacts:      cfg.Contacts,
		notifier:      cfg.Notifier,
		retry:         cfg.Retry,
		verifyBaseURL: cfg.VerifyBaseURL,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
	if d.notifier == nil {
		d.notifier = NewLogNotifier(cfg.Logger)
	}
	if d.retry == nil {
		d.retry = NewRetryPolicy(DefaultRetryConfig())
	}
	if d.logger == nil {
		d.logger = observability.NewNopLogger()
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

// Dispatch delivers one outbox row by id. Rows already sent are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, notificationID string) error {
	n, err := d.outbox.FindNotification(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.SentAt != nil {
		return nil
	}
	return d.Deliver(ctx, n)
}

// Deliver sends n and records the outcome on its outbox row
func (d *Dispatcher) Deliver(ctx context.Context, n *assignments.Notification) (err error) {
	ctx, span := observability.StartSpan(ctx, "notify.Deliver")
	defer func() { observability.EndSpan(span, err) }()

	log := d.logger.WithFields(map[string]interface{}{
		"notification_id": n.ID,
		"assignment_id":   n.AssignmentID,
		"kind":            string(n.Kind),
	})

	msg, err := d.message(ctx, n)
	if err != nil {
		log.WithError(err).Warn("Failed to build notification")
		return d.fail(ctx, n, err)
	}

	channel := d.notifier.Channel()
	if c, ok := d.notifier.(channelChooser); ok {
		channel = c.ChannelFor(msg.To)
	}

	sendErr := d.notifier.NotifyAssignment(ctx, msg)
	d.metrics.RecordNotification(channel, sendErr)
	if sendErr != nil {
		log.WithError(sendErr).WithField("channel", channel).Warn("Notification delivery failed")
		return d.fail(ctx, n, sendErr)
	}

	if err := d.outbox.MarkNotificationSent(ctx, n.ID, d.now()); err != nil {
		return err
	}
	log.WithField("channel", channel).Debug("Notification delivered")
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, n *assignments.Notification, cause error) error {
	attempts := n.Attempts + 1
	next := d.now().Add(d.retry.NextRetryDelay(attempts))
	if !d.retry.ShouldRetry(attempts, cause) {
		d.logger.WithError(cause).WithFields(map[string]interface{}{
			"notification_id": n.ID,
			"attempts":        attempts,
		}).Error("Notification abandoned after max attempts")
	}
	if err := d.outbox.MarkNotificationFailed(ctx, n.ID, cause.Error(), next); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (d *Dispatcher) message(ctx context.Context, n *assignments.Notification) (Message, error) {
	user, err := d.contacts.UserByID(ctx, n.UserID)
	if err != nil {
		return Message{}, fmt.Errorf("recipient: %w", err)
	}

	msg := Message{
		Kind:             n.Kind,
		To:               Recipient{UserID: user.ID, Name: user.DisplayName, Email: user.Email, Phone: user.Phone},
		ScopeKey:         n.ScopeKey,
		AssignmentCode:   n.AssignmentCode,
		ConfirmationCode: n.ConfirmationCode,
	}
	if role, err := d.contacts.RoleByID(ctx, n.RoleID); err == nil {
		msg.RoleCode = role.Code
		msg.RoleName = role.DisplayName
	} else if !errors.Is(err, directory.ErrNotFound) {
		return Message{}, fmt.Errorf("role: %w", err)
	}
	if n.Kind == assignments.NotificationVerify {
		msg.VerifyURL = VerifyURL(d.verifyBaseURL, n.AssignmentCode, n.ConfirmationCode)
	}
	return msg, nil
}
