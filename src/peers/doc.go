// Package peers defines the representation of the devices that form a
// fieldmesh network, and the sets they are grouped in. A peer is identified
// by a compact uint32 ID derived from its public key.
package peers
