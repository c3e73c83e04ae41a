package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/observability"
)

// ErrNoChannel is returned when a recipient has no address for any
// configured channel
var ErrNoChannel = errors.New("no delivery channel for recipient")

// Recipient is the assignee being notified
type Recipient struct {
	UserID int64
	Name   string
	Email  string
	Phone  string
}

// Message is one assignment notification, ready to render
type Message struct {
	Kind             assignments.NotificationKind
	To               Recipient
	RoleCode         string
	RoleName         string
	ScopeKey         string
	AssignmentCode   string
	ConfirmationCode string
	VerifyURL        string
}

// Notifier delivers assignment notifications over one channel
type Notifier interface {
	NotifyAssignment(ctx context.Context, msg Message) error
	Channel() string
}

// Render returns the subject and plain-text body of msg
func Render(msg Message) (string, string) {
	role := msg.RoleName
	if role == "" {
		role = msg.RoleCode
	}
	scope := msg.ScopeKey
	if scope == "" || scope == assignments.GlobalScopeKey {
		scope = "all organizations"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", nameOrDefault(msg.To.Name))

	var subject string
	switch msg.Kind {
	case assignments.NotificationVerify:
		subject = fmt.Sprintf("Verify your %s role", role)
		fmt.Fprintf(&b, "You have been granted the %s role for %s.\n", role, scope)
		fmt.Fprintf(&b, "Assignment code: %s\nVerification code: %s\n", msg.AssignmentCode, msg.ConfirmationCode)
		if msg.VerifyURL != "" {
			fmt.Fprintf(&b, "\nVerify here: %s\n", msg.VerifyURL)
		}
	case assignments.NotificationRegenerated:
		subject = fmt.Sprintf("Your %s role codes changed", role)
		fmt.Fprintf(&b, "The codes for your %s role for %s were regenerated.\n", role, scope)
		fmt.Fprintf(&b, "Assignment code: %s\n", msg.AssignmentCode)
	default:
		subject = fmt.Sprintf("Pending %s role assignment", role)
		fmt.Fprintf(&b, "A %s role for %s is awaiting confirmation by an administrator.\n", role, scope)
		fmt.Fprintf(&b, "Assignment code: %s\n", msg.AssignmentCode)
	}

	return subject, b.String()
}

// VerifyURL builds the verification link for an assignment
func VerifyURL(base, assignmentCode, code string) string {
	if base == "" || code == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("assignment_code", assignmentCode)
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String()
}

func nameOrDefault(name string) string {
	if name == "" {
		return "there"
	}
	return name
}

// LogNotifier writes notifications to the log instead of sending them.
// Codes are never logged.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogNotifier{logger: logger}
}

// NotifyAssignment logs msg
func (n *LogNotifier) NotifyAssignment(ctx context.Context, msg Message) error {
	subject, _ := Render(msg)
	n.logger.WithFields(map[string]interface{}{
		"user_id":         msg.To.UserID,
		"kind":            string(msg.Kind),
		"role":            msg.RoleCode,
		"scope":           msg.ScopeKey,
		"assignment_code": msg.AssignmentCode,
	}).Info(subject)
	return nil
}

// Channel returns "log"
func (n *LogNotifier) Channel() string { return "log" }

// Router picks the first notifier able to reach the recipient: email when
// the user has an address, then SMS when the user has a phone, then the
// fallback.
type Router struct {
	email    Notifier
	sms      Notifier
	fallback Notifier
}

// NewRouter creates a router. Any notifier may be nil.
func NewRouter(email, sms, fallback Notifier) *Router {
	return &Router{email: email, sms: sms, fallback: fallback}
}

// NotifyAssignment delivers msg on the best channel
func (r *Router) NotifyAssignment(ctx context.Context, msg Message) error {
	n := r.route(msg.To)
	if n == nil {
		return fmt.Errorf("user %d: %w", msg.To.UserID, ErrNoChannel)
	}
	return n.NotifyAssignment(ctx, msg)
}

// ChannelFor names the channel msg would be delivered on
func (r *Router) ChannelFor(to Recipient) string {
	if n := r.route(to); n != nil {
		return n.Channel()
	}
	return "none"
}

// Channel returns "router"
func (r *Router) Channel() string { return "router" }

func (r *Router) route(to Recipient) Notifier {
	switch {
	case r.email != nil && to.Email != "":
		return r.email
	case r.sms != nil && to.Phone != "":
		return r.sms
	default:
		return r.fallback
	}
}
