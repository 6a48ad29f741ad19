package peers

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/fieldmesh/fieldmesh/src/common"
)

func fakePeer(seed byte) *Peer {
	pub := []byte{seed, seed + 1, seed + 2, seed + 3}
	return NewPeer(common.EncodeToString(pub), fmt.Sprintf("10.0.0.%d:7000", seed), fmt.Sprintf("node%d", seed))
}

func TestPeerSetSorted(t *testing.T) {
	ps := NewPeerSet([]*Peer{fakePeer(3), fakePeer(1), fakePeer(2)})

	ids := ps.IDs()
	if !sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }) {
		t.Fatalf("peer IDs not sorted: %v", ids)
	}

	for _, p := range ps.Peers {
		if ps.ByID[p.ID()] != p {
			t.Fatalf("ByID missing peer %d", p.ID())
		}
		if ps.ByPubKey[p.PubKeyHex] != p {
			t.Fatalf("ByPubKey missing peer %s", p.PubKeyHex)
		}
	}
}

func TestPeerSetWithNewPeer(t *testing.T) {
	base := NewPeerSet([]*Peer{fakePeer(1), fakePeer(2)})

	extra := fakePeer(3)
	grown := base.WithNewPeer(extra)

	if grown.Len() != 3 {
		t.Fatalf("expected 3 peers, got %d", grown.Len())
	}
	if base.Len() != 2 {
		t.Fatal("WithNewPeer must not mutate the receiver")
	}

	// adding an existing peer is a no-op
	same := grown.WithNewPeer(extra)
	if same.Len() != 3 {
		t.Fatalf("expected 3 peers after duplicate add, got %d", same.Len())
	}
}

func TestPeerSetWithRemovedPeer(t *testing.T) {
	victim := fakePeer(2)
	base := NewPeerSet([]*Peer{fakePeer(1), victim, fakePeer(3)})

	shrunk := base.WithRemovedPeer(victim)
	if shrunk.Len() != 2 {
		t.Fatalf("expected 2 peers, got %d", shrunk.Len())
	}
	if _, ok := shrunk.ByID[victim.ID()]; ok {
		t.Fatal("removed peer still present")
	}
}

func TestPeerSetMarshalRoundTrip(t *testing.T) {
	base := NewPeerSet([]*Peer{fakePeer(1), fakePeer(2)})

	raw, err := base.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	back, err := NewPeerSetFromBytes(raw)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(base.IDs(), back.IDs()) {
		t.Fatalf("round trip changed peer IDs: %v != %v", base.IDs(), back.IDs())
	}
}

func TestExcludePeer(t *testing.T) {
	ps := []*Peer{fakePeer(1), fakePeer(2), fakePeer(3)}

	index, rest := ExcludePeer(ps, ps[1].NetAddr)
	if index != 1 {
		t.Fatalf("expected index 1, got %d", index)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining peers, got %d", len(rest))
	}

	index, rest = ExcludePeer(ps, "192.168.0.1:1")
	if index != -1 || len(rest) != 3 {
		t.Fatalf("excluding an unknown address should be a no-op, got %d %d", index, len(rest))
	}
}

func TestJSONPeerSet(t *testing.T) {
	dir, err := ioutil.TempDir("", "fieldmesh")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store := NewJSONPeerSet(dir)

	if _, err := store.PeerSet(); err == nil {
		t.Fatal("reading a missing peers.json should fail")
	}

	base := NewPeerSet([]*Peer{fakePeer(1), fakePeer(2)})
	if err := store.Write(base.Peers); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, jsonPeerSetPath)); err != nil {
		t.Fatal(err)
	}

	back, err := store.PeerSet()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(base.IDs(), back.IDs()) {
		t.Fatalf("peers.json round trip changed peer IDs: %v != %v", base.IDs(), back.IDs())
	}
}
