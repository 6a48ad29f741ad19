package peers

import (
	"bytes"
	"encoding/json"
	"sort"
)

// PeerSet is a set of Peers. The Peers slice is kept sorted by ID so that
// iteration order is deterministic across nodes.
type PeerSet struct {
	Peers    []*Peer          `json:"peers"`
	ByPubKey map[string]*Peer `json:"-"`
	ByID     map[uint32]*Peer `json:"-"`
}

// NewPeerSet creates a PeerSet from a list of Peers.
func NewPeerSet(peers []*Peer) *PeerSet {
	sorted := make([]*Peer, len(peers))
	copy(sorted, peers)
	sort.Sort(ByID(sorted))

	peerSet := &PeerSet{
		Peers:    sorted,
		ByPubKey: make(map[string]*Peer),
		ByID:     make(map[uint32]*Peer),
	}

	for _, peer := range sorted {
		peerSet.ByPubKey[peer.PubKeyHex] = peer
		peerSet.ByID[peer.ID()] = peer
	}

	return peerSet
}

// NewPeerSetFromBytes creates a PeerSet from a JSON-encoded peer slice.
func NewPeerSetFromBytes(peerSliceBytes []byte) (*PeerSet, error) {
	peers := []*Peer{}

	dec := json.NewDecoder(bytes.NewBuffer(peerSliceBytes))
	if err := dec.Decode(&peers); err != nil {
		return nil, err
	}

	return NewPeerSet(peers), nil
}

// WithNewPeer returns a new PeerSet that includes the given peer.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := peerSet.Peers
	if _, ok := peerSet.ByID[peer.ID()]; !ok {
		peers = append(peers, peer)
	}
	return NewPeerSet(peers)
}

// WithRemovedPeer returns a new PeerSet that excludes the given peer.
func (peerSet *PeerSet) WithRemovedPeer(peer *Peer) *PeerSet {
	peers := []*Peer{}
	for _, p := range peerSet.Peers {
		if p.PubKeyHex != peer.PubKeyHex {
			peers = append(peers, p)
		}
	}
	return NewPeerSet(peers)
}

// IDs returns the sorted slice of peer IDs.
func (peerSet *PeerSet) IDs() []uint32 {
	res := []uint32{}
	for _, peer := range peerSet.Peers {
		res = append(res, peer.ID())
	}
	return res
}

// Len returns the number of peers in the set.
func (peerSet *PeerSet) Len() int {
	return len(peerSet.ByPubKey)
}

// Marshal encodes the PeerSet's peer list as JSON.
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	enc := json.NewEncoder(b)
	if err := enc.Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// ByID implements sort.Interface for []*Peer based on ID.
type ByID []*Peer

func (a ByID) Len() int           { return len(a) }
func (a ByID) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByID) Less(i, j int) bool { return a[i].ID() < a[j].ID() }
