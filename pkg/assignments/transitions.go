package assignments

import "fmt"

// Event is a lifecycle operation applied to an assignment
type Event string

const (
	EventCreate     Event = "create"
	EventConfirm    Event = "confirm"
	EventVerify     Event = "verify"
	EventRevoke     Event = "revoke"
	EventRegenerate Event = "regenerate"
)

type transitionKey struct {
	from  Status
	event Event
}

// transitions is the only place lifecycle edges are defined. Creation starts
// from the empty status. Nothing moves backward.
var transitions = map[transitionKey]Status{
	{"", EventCreate}: StatusPendingConfirmation,

	{StatusPendingConfirmation, EventConfirm}: StatusConfirmed,
	{StatusConfirmed, EventVerify}:            StatusVerified,

	{StatusPendingConfirmation, EventRevoke}: StatusRevoked,
	{StatusConfirmed, EventRevoke}:           StatusRevoked,
	{StatusVerified, EventRevoke}:            StatusRevoked,

	{StatusPendingConfirmation, EventRegenerate}: StatusPendingConfirmation,
	{StatusConfirmed, EventRegenerate}:           StatusConfirmed,
	{StatusVerified, EventRegenerate}:            StatusVerified,
}

// Next returns the status reached by applying event in state from
func Next(from Status, event Event) (Status, error) {
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		if from == "" {
			from = "NEW"
		}
		return "", fmt.Errorf("%w: cannot %s an assignment in %s", ErrInvalidTransition, event, from)
	}
	return to, nil
}

// CanApply reports whether event is allowed in state from
func CanApply(from Status, event Event) bool {
	_, ok := transitions[transitionKey{from, event}]
	return ok
}
