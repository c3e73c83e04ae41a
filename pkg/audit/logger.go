package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/grants/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events
	Close() error
}

// LogrusLogger writes audit events as structured log lines on a dedicated
// logrus logger. Durable storage of those lines is left to the log pipeline.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger creates an audit logger writing through base.
// A nil base uses a JSON logger on stdout.
func NewLogrusLogger(base *logrus.Logger) *LogrusLogger {
	if base == nil {
		base = logrus.New()
		base.SetFormatter(&logrus.JSONFormatter{})
	}
	return &LogrusLogger{entry: base.WithField("log_type", "audit")}
}

// Log writes event, filling in the timestamp and request id when missing
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return errors.New("audit event is nil")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = observability.GetRequestID(ctx)
	}
	if event.Status == "" {
		event.Status = EventStatusSuccess
	}

	fields := logrus.Fields{
		"event_type": event.EventType,
		"status":     event.Status,
		"event_time": event.Timestamp,
	}
	if event.ActorID != nil {
		fields["actor_id"] = *event.ActorID
	}
	if event.SubjectID != nil {
		fields["subject_user_id"] = *event.SubjectID
	}
	if event.AssignmentID != nil {
		fields["assignment_id"] = *event.AssignmentID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.ErrorMessage != "" {
		fields["error_message"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	l.entry.WithFields(fields).Info(event.Message)
	return nil
}

// Close is a no-op; logrus writes synchronously
func (l *LogrusLogger) Close() error {
	return nil
}

// MemoryLogger keeps events in memory. Used by tests and local tooling.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryLogger creates an empty in-memory audit logger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log appends a copy of event
func (m *MemoryLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return errors.New("audit event is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

// Events returns a snapshot of the recorded events
func (m *MemoryLogger) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfType returns recorded events of one type
func (m *MemoryLogger) OfType(t EventType) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// Close is a no-op
func (m *MemoryLogger) Close() error {
	return nil
}

type noOpLogger struct{}

// NewNoOpLogger returns a logger that discards events
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

func (noOpLogger) Log(context.Context, *Event) error { return nil }
func (noOpLogger) Close() error                      { return nil }

// MultiLogger fans events out to several loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger writing to every non-nil logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log writes to every logger and joins their errors
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every logger and joins their errors
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
