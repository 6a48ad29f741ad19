package reconcile

import "time"

// ReasonTotalOrder is the reason attached to conflicts resolved by comparing
// logical timestamps.
const ReasonTotalOrder = "superseded-by-total-order"

// Conflict records one block losing its place in the canonical chain to
// another during reconciliation. The loser is archived, not deleted, so a
// conflict can always be audited after the fact.
type Conflict struct {
	Index         int
	WinnerHash    string
	WinnerCreator uint32
	LoserHash     string
	LoserCreator  uint32
	Reason        string
	ResolvedAt    time.Time
}

// Report summarises one reconciliation exchange.
type Report struct {
	ForkIndex    int
	LocalBlocks  int
	RemoteBlocks int
	Merged       int
	Conflicts    []Conflict
}
