package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeAssignmentCreate     EventType = "assignment.create"
	EventTypeAssignmentConfirm    EventType = "assignment.confirm"
	EventTypeAssignmentVerify     EventType = "assignment.verify"
	EventTypeAssignmentRevoke     EventType = "assignment.revoke"
	EventTypeAssignmentRegenerate EventType = "assignment.regenerate"
	EventTypeAssignmentPurge      EventType = "assignment.purge"
	EventTypeAssignmentBatch      EventType = "assignment.batch"
	EventTypeAssignmentImport     EventType = "assignment.import"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
)

// Event is a single audit record. Codes and other secrets never go in here.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	ActorID      *int64 `json:"actor_id,omitempty"`
	SubjectID    *int64 `json:"subject_user_id,omitempty"`
	AssignmentID *int64 `json:"assignment_id,omitempty"`
	RequestID    string `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
