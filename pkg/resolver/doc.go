// Package resolver turns a user's verified assignments into a
// DashboardConfig: an ordered list of role configs and the union of their
// catalog permissions.
package resolver
