package ledger

import (
	"strconv"
	"sync"

	"github.com/fieldmesh/fieldmesh/src/clock"
	cm "github.com/fieldmesh/fieldmesh/src/common"
	"github.com/fieldmesh/fieldmesh/src/crypto"
	"github.com/sirupsen/logrus"
)

// NoFork is returned by Diff when one chain is a prefix of the other.
const NoFork = -1

// Ledger owns one node's chain. It is the single writer: Append holds an
// internal lock for the whole read-tail/stamp/hash/store sequence, so two
// concurrent appends can never claim the same index.
type Ledger struct {
	appendLock sync.Mutex

	creator uint32
	clock   *clock.Clock
	store   Store
	signer  Signer
	logger  *logrus.Entry
}

// NewLedger creates a Ledger for the given creator node.
func NewLedger(creator uint32, cl *clock.Clock, store Store, signer Signer, logger *logrus.Entry) *Ledger {
	return &Ledger{
		creator: creator,
		clock:   cl,
		store:   store,
		signer:  signer,
		logger:  logger.WithField("component", "ledger"),
	}
}

// Store exposes the underlying block store.
func (l *Ledger) Store() Store {
	return l.store
}

// Tip returns the chain tip, or nil for an empty chain.
func (l *Ledger) Tip() *Block {
	tip, err := l.store.LastBlock()
	if err != nil {
		return nil
	}
	return tip
}

// Append creates, signs and stores a new block holding the given message set.
// The previous hash is computed from the current tail and the block is
// stamped with the node's logical clock.
func (l *Ledger) Append(txs [][]byte) (*Block, error) {
	l.appendLock.Lock()
	defer l.appendLock.Unlock()

	prevHash := crypto.ZeroHash
	index := 0

	if tip, err := l.store.LastBlock(); err == nil {
		index = tip.Index() + 1
		prevHash, err = tip.Hash()
		if err != nil {
			return nil, err
		}
	}

	lamport, vector := l.clock.Stamp()

	block := NewBlock(index, prevHash, l.creator, lamport, vector, txs)

	if l.signer != nil {
		if err := block.Sign(l.signer); err != nil {
			return nil, err
		}
	}

	if err := l.store.SetBlock(block); err != nil {
		if cm.Is(err, cm.KeyAlreadyExists) {
			return nil, cm.NewErr("Ledger", cm.Integrity, strconv.Itoa(index))
		}
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"index":   index,
		"lamport": lamport,
		"txs":     len(txs),
	}).Debug("Appended block")

	return block, nil
}

// Adopt replaces the chain from forkIndex onward with the canonical suffix
// produced by reconciliation. The displaced branch is archived in the store,
// never deleted.
func (l *Ledger) Adopt(forkIndex int, canonical []*Block) error {
	l.appendLock.Lock()
	defer l.appendLock.Unlock()

	if err := l.store.Reset(forkIndex, canonical); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"fork_index": forkIndex,
		"blocks":     len(canonical),
	}).Debug("Adopted canonical chain")

	return nil
}

// Blocks returns the chain from index 0 to the tip.
func (l *Ledger) Blocks() ([]*Block, error) {
	return l.store.Blocks(0)
}

// Validate recomputes every block hash in the chain and returns an Integrity
// error naming the first offending index. Each block's hash is checked against
// the value it carries, so tampering the tail fails exactly like tampering the
// middle, and the previous-hash links tie the blocks together. A valid chain
// must also start with the genesis previous-hash.
func Validate(chain []*Block) error {
	prevHash := crypto.ZeroHash

	for i, block := range chain {
		if block.Index() != i {
			return cm.NewErr("Ledger", cm.Integrity, strconv.Itoa(i))
		}

		if block.PrevHash() != prevHash {
			return cm.NewErr("Ledger", cm.Integrity, strconv.Itoa(i))
		}

		recomputed, err := block.RecomputeHash()
		if err != nil {
			return err
		}
		if recomputed != block.BodyHash {
			return cm.NewErr("Ledger", cm.Integrity, strconv.Itoa(i))
		}

		prevHash = recomputed
	}

	return nil
}

// Diff returns the lowest index at which the two chains disagree on block
// hash, or NoFork when one chain is a prefix of the other. Index 0
// disagreement means the chains do not even share a genesis block.
func Diff(chainA, chainB []*Block) (int, error) {
	limit := len(chainA)
	if len(chainB) < limit {
		limit = len(chainB)
	}

	for i := 0; i < limit; i++ {
		hashA, err := chainA[i].Hash()
		if err != nil {
			return 0, err
		}
		hashB, err := chainB[i].Hash()
		if err != nil {
			return 0, err
		}
		if hashA != hashB {
			return i, nil
		}
	}

	return NoFork, nil
}
