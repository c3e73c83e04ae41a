// Package notify delivers assignment notifications.
//
// The assignment manager writes an outbox row in the same transaction as the
// transition that needs a message. Dispatcher delivers a row right after
// commit; Relay runs on a cron schedule and retries whatever is still unsent,
// backing off exponentially up to a maximum attempt count. Delivery is
// at-least-once, so recipients may occasionally see a message twice.
//
// Channels: EmailNotifier (SMTP), SMSNotifier (HTTP gateway) and
// LogNotifier. Router picks email, then SMS, then the fallback, based on the
// contact details the recipient has.
package notify
