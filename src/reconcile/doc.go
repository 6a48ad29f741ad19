// Package reconcile merges divergent ledgers back into a single canonical
// chain after a network partition heals.
//
// Two chains that share a genesis block but disagree at some index have
// forked: each side kept appending while the other was unreachable. The
// reconciler finds the fork point, orders the divergent suffixes by logical
// time, and re-chains them onto the common prefix. Both inputs are validated
// before any merging happens, and no block is ever discarded: blocks
// displaced from the canonical chain are archived as superseded, with a
// conflict record explaining what displaced them.
package reconcile
