package net

import (
	"net"
	"time"
)

// StreamLayer is the raw connection provider underneath a NetworkTransport.
// TCP is the only production implementation; a radio or serial link would
// slot in here without the transport noticing.
type StreamLayer interface {
	net.Listener

	// Dial opens an outgoing connection to a mesh address.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address other nodes should dial to reach this one,
	// which can differ from the bind address behind NAT.
	AdvertiseAddr() string
}
