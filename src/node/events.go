package node

import (
	"github.com/fieldmesh/fieldmesh/src/ledger"
	"github.com/fieldmesh/fieldmesh/src/mesh"
	"github.com/fieldmesh/fieldmesh/src/reconcile"
)

// EventKind discriminates the notifications a node emits to its observers.
type EventKind uint8

const (
	// StateChanged is emitted on every connectivity state transition.
	StateChanged EventKind = iota
	// LedgerAppended is emitted when a block is added to the local chain.
	LedgerAppended
	// ConflictDetected is emitted for every conflict recorded during a
	// reconciliation.
	ConflictDetected
	// MessageDelivered is emitted when a message is handed to at least one
	// peer.
	MessageDelivered
	// MessageQueued is emitted when a message is stored for later delivery.
	MessageQueued
	// MessageExpired is emitted when a queued message exceeds its expiry
	// window and is dropped.
	MessageExpired
	// PeerLost is emitted when a peer goes silent past the silence timeout.
	PeerLost
)

// String ...
func (k EventKind) String() string {
	switch k {
	case StateChanged:
		return "StateChanged"
	case LedgerAppended:
		return "LedgerAppended"
	case ConflictDetected:
		return "ConflictDetected"
	case MessageDelivered:
		return "MessageDelivered"
	case MessageQueued:
		return "MessageQueued"
	case MessageExpired:
		return "MessageExpired"
	case PeerLost:
		return "PeerLost"
	default:
		return "Unknown"
	}
}

// Event is one observer notification. Only the fields relevant to the Kind
// are set.
type Event struct {
	Kind     EventKind
	State    State
	Message  *mesh.Message
	Block    *ledger.Block
	Conflict *reconcile.Conflict
	Peer     uint32
}
