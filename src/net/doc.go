// Package net implements the transports that carry mesh traffic between
// nodes. It defines the RPC vocabulary of the protocol (gossip, heartbeat,
// pull, adopt) and provides TCP and in-memory implementations of the
// Transport interface.
package net
