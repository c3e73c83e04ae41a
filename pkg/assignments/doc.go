// Package assignments owns the role assignment lifecycle.
//
// An assignment grants one role to one user within one scope (a hospital, an
// organization, or globally). It moves through a single transition table:
//
//	create                       -> PENDING_CONFIRMATION
//	PENDING_CONFIRMATION confirm -> CONFIRMED
//	CONFIRMED verify             -> VERIFIED
//	any active state revoke      -> REVOKED
//	any active state regenerate  -> same state, new codes
//
// At most one active assignment may exist per (user, role, scope). The store
// enforces this with a partial unique index, so concurrent creators across
// processes race safely: one wins, the others get ErrDuplicateGrant.
//
// Confirmation and verification consume codes with conditional updates inside
// the transition transaction. The creator receives the first confirmation
// code from Create and spends it on Confirm; Confirm issues a fresh code that
// is delivered to the assignee, who spends it on the public Verify.
//
// Every create, confirm and resend writes an outbox row in the same
// transaction. A Dispatcher delivers it after commit; anything it misses is
// picked up by the notify relay.
package assignments
