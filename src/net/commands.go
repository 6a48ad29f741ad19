package net

import (
	"github.com/fieldmesh/fieldmesh/src/ledger"
	"github.com/fieldmesh/fieldmesh/src/mesh"
)

// GossipRequest carries one flooded message to a directly reachable peer.
type GossipRequest struct {
	FromID  uint32
	Message mesh.Message
}

// GossipResponse acknowledges a GossipRequest. Seen indicates that the
// receiver had already processed the message, which lets the sender stop
// retrying it.
type GossipResponse struct {
	FromID uint32
	Seen   bool
}

// HeartbeatRequest advertises a node's liveness along with a summary of its
// ledger tip. Receivers compare the tip against their own to detect
// divergence early.
type HeartbeatRequest struct {
	FromID    uint32
	State     string
	Lamport   int
	LastIndex int
	LastHash  string
}

// HeartbeatResponse returns the responder's own tip summary.
type HeartbeatResponse struct {
	FromID    uint32
	State     string
	Lamport   int
	LastIndex int
	LastHash  string
}

// PullRequest asks a peer for its canonical chain starting at FromIndex.
// FromIndex 0 retrieves the full chain back to genesis.
type PullRequest struct {
	FromID    uint32
	FromIndex int
}

// PullResponse returns the requested span of the responder's chain.
type PullResponse struct {
	FromID    uint32
	LastIndex int
	Blocks    []*ledger.Block
}

// AdoptRequest proposes a reconciled canonical chain to a peer. The receiver
// validates the chain before adopting it and reports the outcome.
type AdoptRequest struct {
	FromID    uint32
	ForkIndex int
	Blocks    []*ledger.Block
}

// AdoptResponse indicates whether the proposed chain was adopted.
type AdoptResponse struct {
	FromID   uint32
	Accepted bool
}
