package node

import (
	"fmt"
	"testing"

	"github.com/fieldmesh/fieldmesh/src/clock"
	"github.com/fieldmesh/fieldmesh/src/crypto/keys"
	"github.com/fieldmesh/fieldmesh/src/ledger"
	"github.com/fieldmesh/fieldmesh/src/mesh"
	"github.com/fieldmesh/fieldmesh/src/peers"
)

// nullSender drops everything; router behaviour is covered by the mesh
// package tests.
type nullSender struct{}

func (nullSender) SendMessage(target *peers.Peer, msg *mesh.Message) error {
	return nil
}

func newTestValidators(t *testing.T, n int) ([]*Validator, *peers.PeerSet) {
	validators := make([]*Validator, n)
	peerList := make([]*peers.Peer, n)

	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		validators[i] = NewValidator(key, fmt.Sprintf("node%d", i))
		peerList[i] = peers.NewPeer(
			validators[i].PublicKeyHex(),
			fmt.Sprintf("127.0.0.1:%d", 7000+i),
			validators[i].Moniker,
		)
	}

	return validators, peers.NewPeerSet(peerList)
}

func newTestCore(t *testing.T, validator *Validator, peerSet *peers.PeerSet) *Core {
	conf := TestConfig(t)
	logger := conf.Logger.WithField("this_id", validator.ID())
	return NewCore(validator, peerSet, ledger.NewInmemStore(), nullSender{}, conf, logger)
}

func TestGenesisBootstrap(t *testing.T) {
	validators, peerSet := newTestValidators(t, 2)

	coreA := newTestCore(t, validators[0], peerSet)
	coreB := newTestCore(t, validators[1], peerSet)

	// both nodes derive the same genesis block from the shared peer set
	genA, err := coreA.Ledger().Store().GetBlock(0)
	if err != nil {
		t.Fatal(err)
	}
	genB, err := coreB.Ledger().Store().GetBlock(0)
	if err != nil {
		t.Fatal(err)
	}

	hashA, err := genA.Hash()
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := genB.Hash()
	if err != nil {
		t.Fatal(err)
	}

	if hashA != hashB {
		t.Fatalf("genesis mismatch: %s != %s", hashA, hashB)
	}
}

func TestCreateMessageRecords(t *testing.T) {
	validators, peerSet := newTestValidators(t, 2)
	core := newTestCore(t, validators[0], peerSet)

	msg, block, err := core.CreateMessage("", mesh.Alert, 0, []byte("contact east"), 3)
	if err != nil {
		t.Fatal(err)
	}

	if block.Index() != 1 {
		t.Fatalf("expected block index 1 after genesis, got %d", block.Index())
	}
	if block.Creator() != validators[0].ID() {
		t.Fatalf("block creator should be the local node")
	}
	if msg.Lamport != block.Lamport()-1 {
		t.Fatalf("block stamp should follow the message stamp: %d vs %d", msg.Lamport, block.Lamport())
	}

	// the block is signed by the validator and verifiable through the peer set
	verifier := NewPeerVerifier(peerSet)
	ok, err := block.Verify(verifier)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("block signature did not verify")
	}

	chain, err := core.Chain()
	if err != nil {
		t.Fatal(err)
	}
	if err := ledger.Validate(chain); err != nil {
		t.Fatal(err)
	}
}

func TestReceiveMessageDedup(t *testing.T) {
	validators, peerSet := newTestValidators(t, 2)
	core := newTestCore(t, validators[0], peerSet)

	sender := validators[1].ID()
	msg := mesh.NewMessage(sender, 0, mesh.Chat, []byte("radio check"), 1,
		clock.VectorClock{sender: 1}, 3)

	_, fresh, block, err := core.ReceiveMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Fatal("first delivery should be fresh")
	}
	if block == nil || block.Index() != 1 {
		t.Fatal("fresh message should be recorded after genesis")
	}

	_, fresh, _, err = core.ReceiveMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if fresh {
		t.Fatal("duplicate delivery must be discarded")
	}

	index, _ := core.TipSummary()
	if index != 1 {
		t.Fatalf("duplicate must not grow the chain, tip at %d", index)
	}
}

func TestRecordedFormNormalized(t *testing.T) {
	validators, peerSet := newTestValidators(t, 2)

	coreA := newTestCore(t, validators[0], peerSet)
	coreB := newTestCore(t, validators[1], peerSet)

	msg, _, err := coreA.CreateMessage("", mesh.Status, 0, []byte("moving out"), 3)
	if err != nil {
		t.Fatal(err)
	}

	// simulate the message arriving at B with a mutated route and hop budget
	hopped := msg.Hop()
	_, _, blockB, err := coreB.ReceiveMessage(hopped)
	if err != nil {
		t.Fatal(err)
	}

	blockA, err := coreA.Ledger().Store().GetBlock(1)
	if err != nil {
		t.Fatal(err)
	}

	payloadA, err := blockA.PayloadHash()
	if err != nil {
		t.Fatal(err)
	}
	payloadB, err := blockB.PayloadHash()
	if err != nil {
		t.Fatal(err)
	}

	if payloadA != payloadB {
		t.Fatalf("the same message must record identical payloads on both nodes (%s != %s)", payloadA, payloadB)
	}
}

func TestClockResumesFromStoredTip(t *testing.T) {
	validators, peerSet := newTestValidators(t, 2)

	conf := TestConfig(t)
	logger := conf.Logger.WithField("this_id", validators[0].ID())
	store := ledger.NewInmemStore()

	before := NewCore(validators[0], peerSet, store, nullSender{}, conf, logger)

	_, blockBefore, err := before.CreateMessage("", mesh.Status, 0, []byte("first sortie"), 3)
	if err != nil {
		t.Fatal(err)
	}

	// same store, fresh process: the clock must resume past the stored tip so
	// the chain never repeats a (Lamport, creator) pair
	after := NewCore(validators[0], peerSet, store, nullSender{}, conf, logger)

	_, blockAfter, err := after.CreateMessage("", mesh.Status, 0, []byte("second sortie"), 3)
	if err != nil {
		t.Fatal(err)
	}

	if blockAfter.Lamport() <= blockBefore.Lamport() {
		t.Fatalf("lamport did not advance across restart: %d then %d",
			blockBefore.Lamport(), blockAfter.Lamport())
	}
}
