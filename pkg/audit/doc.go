// Package audit records who changed which assignment and when.
//
// Storage of audit records is out of scope for grantsd: LogrusLogger emits
// each event as a structured log line tagged log_type=audit, for the log
// pipeline to ship and retain.
//
//	auditLog := audit.NewLogrusLogger(nil)
//	auditLog.Log(ctx, &audit.Event{
//		EventType:    audit.EventTypeAssignmentRevoke,
//		ActorID:      &actorID,
//		AssignmentID: &id,
//	})
package audit
