// Package batch fans assignment creation out across scopes and import rows.
//
// Each item runs in its own transaction on a bounded worker pool. Item
// failures become per-item results; only malformed top-level input fails the
// call.
package batch
