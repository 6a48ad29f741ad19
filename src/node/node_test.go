package node

import (
	"fmt"
	"testing"
	"time"

	"github.com/fieldmesh/fieldmesh/src/clock"
	cm "github.com/fieldmesh/fieldmesh/src/common"
	"github.com/fieldmesh/fieldmesh/src/crypto/keys"
	"github.com/fieldmesh/fieldmesh/src/ledger"
	"github.com/fieldmesh/fieldmesh/src/mesh"
	"github.com/fieldmesh/fieldmesh/src/net"
	"github.com/fieldmesh/fieldmesh/src/peers"
)

type testNetwork struct {
	nodes      []*Node
	transports []*net.InmemTransport
	addrs      []string
}

// initNetwork builds n nodes over in-memory transports. When connected is
// true all transports are wired to each other; otherwise the nodes start
// partitioned and the test connects them later.
func initNetwork(t *testing.T, n int, connected bool) *testNetwork {
	tn := &testNetwork{
		nodes:      make([]*Node, n),
		transports: make([]*net.InmemTransport, n),
		addrs:      make([]string, n),
	}

	validators := make([]*Validator, n)
	peerList := make([]*peers.Peer, n)

	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		validators[i] = NewValidator(key, fmt.Sprintf("node%d", i))

		addr, trans := net.NewInmemTransport("")
		tn.addrs[i] = addr
		tn.transports[i] = trans

		peerList[i] = peers.NewPeer(validators[i].PublicKeyHex(), addr, validators[i].Moniker)
	}

	if connected {
		tn.connectAll()
	}

	peerSet := peers.NewPeerSet(peerList)

	for i := 0; i < n; i++ {
		conf := TestConfig(t)
		tn.nodes[i] = NewNode(conf, validators[i], peerSet, ledger.NewInmemStore(), tn.transports[i])
		if err := tn.nodes[i].Init(); err != nil {
			t.Fatal(err)
		}
	}

	return tn
}

func (tn *testNetwork) connectAll() {
	for i, trans := range tn.transports {
		for j, addr := range tn.addrs {
			if i != j {
				trans.Connect(addr, tn.transports[j])
			}
		}
	}
}

func (tn *testNetwork) run() {
	for _, n := range tn.nodes {
		n.RunAsync()
	}
}

func (tn *testNetwork) shutdown() {
	for _, n := range tn.nodes {
		n.Shutdown()
	}
}

// waitFor polls the condition until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func tipsEqual(nodes []*Node) bool {
	_, hash0 := nodes[0].core.TipSummary()
	for _, n := range nodes[1:] {
		_, h := n.core.TipSummary()
		if h != hash0 {
			return false
		}
	}
	return true
}

func chainHasPayload(n *Node, payload string) bool {
	chain, err := n.GetChain()
	if err != nil {
		return false
	}
	for _, b := range chain {
		for _, tx := range b.Transactions() {
			var msg mesh.Message
			if err := msg.Unmarshal(tx); err != nil {
				continue
			}
			if string(msg.Payload) == payload {
				return true
			}
		}
	}
	return false
}

func TestMessageFloodsToAllNodes(t *testing.T) {
	tn := initNetwork(t, 3, true)
	tn.run()
	defer tn.shutdown()

	tn.nodes[0].Submit(mesh.Chat, 0, []byte("radio check"))

	waitFor(t, 5*time.Second, "message on every node", func() bool {
		for _, n := range tn.nodes {
			if !chainHasPayload(n, "radio check") {
				return false
			}
		}
		return true
	})
}

func TestLedgersConverge(t *testing.T) {
	tn := initNetwork(t, 3, true)
	tn.run()
	defer tn.shutdown()

	tn.nodes[0].Submit(mesh.Alert, 0, []byte("contact north"))
	tn.nodes[1].Submit(mesh.Status, 0, []byte("holding position"))

	// every node records what it witnesses in its own chain; heartbeat-driven
	// reconciliation must beat them back into one canonical chain
	waitFor(t, 10*time.Second, "identical chain tips", func() bool {
		if !tipsEqual(tn.nodes) {
			return false
		}
		for _, n := range tn.nodes {
			if !chainHasPayload(n, "contact north") || !chainHasPayload(n, "holding position") {
				return false
			}
		}
		return true
	})

	for _, n := range tn.nodes {
		chain, err := n.GetChain()
		if err != nil {
			t.Fatal(err)
		}
		if err := ledger.Validate(chain); err != nil {
			t.Fatalf("node %d: converged chain invalid: %v", n.ID(), err)
		}
	}
}

func TestPartitionReconciliation(t *testing.T) {
	tn := initNetwork(t, 2, false)
	tn.run()
	defer tn.shutdown()

	// both sides append while partitioned
	tn.nodes[0].Submit(mesh.Command, 0, []byte("advance to ridge"))
	tn.nodes[1].Submit(mesh.Status, 0, []byte("low on water"))

	waitFor(t, 5*time.Second, "both local appends", func() bool {
		return chainHasPayload(tn.nodes[0], "advance to ridge") &&
			chainHasPayload(tn.nodes[1], "low on water")
	})

	// partition heals
	tn.connectAll()

	waitFor(t, 10*time.Second, "reconciled chains", func() bool {
		return tipsEqual(tn.nodes) &&
			chainHasPayload(tn.nodes[0], "low on water") &&
			chainHasPayload(tn.nodes[1], "advance to ridge")
	})

	// the displaced branch is archived, not deleted
	archived := 0
	for _, n := range tn.nodes {
		archived += len(n.core.Ledger().Store().SupersededBlocks())
	}
	if archived == 0 {
		t.Fatal("reconciliation should have archived at least one superseded block")
	}
}

func TestNodeBecomesIsolated(t *testing.T) {
	tn := initNetwork(t, 2, false)

	// only node 0 runs; its peer never answers
	tn.nodes[0].RunAsync()
	defer tn.nodes[0].Shutdown()
	defer tn.nodes[1].Shutdown()

	waitFor(t, 5*time.Second, "Isolated state", func() bool {
		return tn.nodes[0].GetState() == Isolated
	})

	// messages submitted while isolated are queued, not lost
	tn.nodes[0].Submit(mesh.Alert, 0, []byte("medevac request"))

	waitFor(t, 5*time.Second, "queued message", func() bool {
		return tn.nodes[0].core.Queue().Len() > 0
	})
}

func TestStateChangeEvents(t *testing.T) {
	tn := initNetwork(t, 2, false)

	tn.nodes[0].RunAsync()
	defer tn.nodes[0].Shutdown()
	defer tn.nodes[1].Shutdown()

	waitFor(t, 5*time.Second, "StateChanged event", func() bool {
		for {
			select {
			case e := <-tn.nodes[0].Events():
				if e.Kind == StateChanged && e.State == Isolated {
					return true
				}
			default:
				return false
			}
		}
	})
}

func TestDegradedBelowMinPeers(t *testing.T) {
	tn := initNetwork(t, 4, false)
	defer tn.shutdown()

	n0 := tn.nodes[0]

	if got := n0.core.Router().PeerCount(); got != 3 {
		t.Fatalf("expected 3 configured peers, got %d", got)
	}

	// 3 live links is below a minimum of 4
	n0.conf.MinPeers = 4
	n0.evaluateConnectivity()
	if got := n0.GetState(); got != Degraded {
		t.Fatalf("expected Degraded below min-peers, got %v", got)
	}

	// and enough again once the minimum drops
	n0.conf.MinPeers = 2
	n0.evaluateConnectivity()
	if got := n0.GetState(); got != P2PFallback {
		t.Fatalf("expected P2PFallback at or above min-peers, got %v", got)
	}
}

func TestAuthorityLossWithNoPeersIsolates(t *testing.T) {
	tn := initNetwork(t, 2, false)
	defer tn.shutdown()

	n0 := tn.nodes[0]
	n0.conf.AuthorityAddr = "192.0.2.1:1337"
	n0.setState(Centralized)

	for _, link := range n0.core.Router().Links() {
		n0.core.Router().RemovePeer(link.Peer.ID())
	}

	// the miss that trips the fallback must notice that no peer link is
	// alive either, and isolate immediately
	n0.authorityMisses = n0.conf.MissedHeartbeats - 1
	n0.heartbeatAuthority()

	if got := n0.GetState(); got != Isolated {
		t.Fatalf("expected Isolated with no live peer link, got %v", got)
	}
}

func TestGossipRejectsUnsignedMessage(t *testing.T) {
	tn := initNetwork(t, 2, true)
	tn.run()
	defer tn.shutdown()

	// a message claiming node 0 as sender, but never signed by node 0's key
	sender := tn.nodes[0].ID()
	msg := mesh.NewMessage(sender, 0, mesh.Command, []byte("spoofed order"), 1,
		clock.VectorClock{sender: 1}, 3)

	args := net.GossipRequest{FromID: sender, Message: *msg}
	var out net.GossipResponse

	if err := tn.transports[0].Gossip(tn.addrs[1], &args, &out); err == nil {
		t.Fatal("a message without a valid signature must be refused")
	}

	if chainHasPayload(tn.nodes[1], "spoofed order") {
		t.Fatal("a refused message must not be recorded")
	}
}

func TestAdoptRejectsUnsignedChain(t *testing.T) {
	tn := initNetwork(t, 2, true)
	tn.run()
	defer tn.shutdown()

	genesis, err := tn.nodes[1].GetBlock(0)
	if err != nil {
		t.Fatal(err)
	}
	genHash, err := genesis.Hash()
	if err != nil {
		t.Fatal(err)
	}

	// well-formed hash links, but no signature from any peer-set key
	forger := tn.nodes[0].ID()
	forged := ledger.NewBlock(1, genHash, forger, 5,
		clock.VectorClock{forger: 5}, [][]byte{[]byte("forged entry")})

	args := net.AdoptRequest{
		FromID:    forger,
		ForkIndex: 1,
		Blocks:    []*ledger.Block{genesis, forged},
	}
	var out net.AdoptResponse

	if err := tn.transports[0].Adopt(tn.addrs[1], &args, &out); err == nil {
		t.Fatal("a chain with unsigned blocks must be refused")
	}

	if chainHasPayload(tn.nodes[1], "forged entry") {
		t.Fatal("a refused chain must not be adopted")
	}
}

func TestSendMessageUnreachablePeer(t *testing.T) {
	_, trans := net.NewInmemTransport("")
	defer trans.Close()

	s := &rpcSender{localID: 1, trans: trans}

	ghost := peers.NewPeer("0XDEADBEEF", "192.0.2.9:1337", "ghost")
	msg := mesh.NewMessage(1, 0, mesh.Chat, []byte("anyone copy"), 1,
		clock.VectorClock{1: 1}, 3)

	err := s.SendMessage(ghost, msg)
	if err == nil {
		t.Fatal("delivery to an unconnected peer must fail")
	}
	if !cm.Is(err, cm.PeerUnreachable) {
		t.Fatalf("expected a PeerUnreachable error, got %v", err)
	}
}
