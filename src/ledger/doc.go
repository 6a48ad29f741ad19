// Package ledger implements the append-only, hash-chained block ledger that
// every node maintains locally. Blocks link to their predecessor by SHA256
// hash; the chain is strictly linear within one node's view. The package
// exposes the three operations the rest of the system builds on: Append,
// Validate and Diff. Conflicting branches produced during a partition are
// never deleted; reconciliation marks losing blocks superseded and keeps them
// as audit evidence.
package ledger
