// Package node implements the agent that runs on each device in the mesh.
//
// The agent is a state machine reflecting the node's connectivity:
// Centralized while the coordination authority answers heartbeats,
// P2PFallback when traffic has to be flooded peer-to-peer, Degraded when
// fewer peers than the configured minimum remain reachable, and Isolated
// when the node is alone
// and stores messages for later delivery. A Resyncing sub-phase gates
// authority traffic while a ledger reconciliation is in flight.
package node
