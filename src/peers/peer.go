package peers

import (
	"github.com/fieldmesh/fieldmesh/src/common"
)

// Peer is a device participating in the mesh: a node in the field, or the
// coordinating authority.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string

	id uint32
}

// NewPeer instantiates a Peer.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}
}

// ID returns the peer's canonical ID: the 32-bit hash of its public key.
func (p *Peer) ID() uint32 {
	if p.id == 0 {
		pubKeyBytes, err := common.DecodeFromString(p.PubKeyHex)
		if err != nil {
			return 0
		}
		p.id = common.Hash32(pubKeyBytes)
	}
	return p.id
}

// PubKeyBytes returns the decoded public key.
func (p *Peer) PubKeyBytes() ([]byte, error) {
	return common.DecodeFromString(p.PubKeyHex)
}

// ExcludePeer returns a copy of the list without the peer at the given
// network address, along with its position in the original list (-1 when
// absent).
func ExcludePeer(peers []*Peer, netAddr string) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.NetAddr != netAddr {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
