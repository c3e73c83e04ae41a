package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/grants/pkg/observability"
)

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	actor, assignment := int64(3), int64(99)
	ctx := observability.WithRequestID(context.Background(), "req-9")

	l := NewLogrusLogger(base)
	require.NoError(t, l.Log(ctx, &Event{
		EventType:    EventTypeAssignmentRevoke,
		ActorID:      &actor,
		AssignmentID: &assignment,
		Message:      "assignment revoked",
		Metadata:     map[string]interface{}{"scope": "hospital:1"},
	}))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit", line["log_type"])
	assert.Equal(t, "assignment.revoke", line["event_type"])
	assert.Equal(t, "success", line["status"])
	assert.Equal(t, float64(3), line["actor_id"])
	assert.Equal(t, "req-9", line["request_id"])
	assert.Equal(t, "hospital:1", line["meta_scope"])
	assert.Equal(t, "assignment revoked", line["msg"])

	assert.Error(t, l.Log(ctx, nil))
}

type failingLogger struct{}

func (failingLogger) Log(context.Context, *Event) error { return errors.New("sink down") }
func (failingLogger) Close() error                      { return errors.New("close failed") }

func TestMultiLogger(t *testing.T) {
	mem := NewMemoryLogger()
	m := NewMultiLogger(mem, nil, failingLogger{}, NewNoOpLogger())

	err := m.Log(context.Background(), &Event{EventType: EventTypeAssignmentCreate})
	assert.EqualError(t, err, "sink down")
	require.Len(t, mem.Events(), 1)
	assert.Len(t, mem.OfType(EventTypeAssignmentCreate), 1)
	assert.Empty(t, mem.OfType(EventTypeAssignmentPurge))

	assert.EqualError(t, m.Close(), "close failed")
}
