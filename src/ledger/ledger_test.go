package ledger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/fieldmesh/fieldmesh/src/clock"
	cm "github.com/fieldmesh/fieldmesh/src/common"
	"github.com/fieldmesh/fieldmesh/src/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T, creator uint32) *Ledger {
	logger := logrus.New()
	logger.Level = logrus.ErrorLevel
	return NewLedger(creator, clock.New(creator), NewInmemStore(), nil, logrus.NewEntry(logger))
}

func TestAppendChainsBlocks(t *testing.T) {
	l := testLedger(t, 1)

	b0, err := l.Append([][]byte{[]byte("first")})
	require.NoError(t, err)
	require.Equal(t, 0, b0.Index())
	require.Equal(t, crypto.ZeroHash, b0.PrevHash())

	b1, err := l.Append([][]byte{[]byte("second")})
	require.NoError(t, err)
	require.Equal(t, 1, b1.Index())

	h0, err := b0.Hash()
	require.NoError(t, err)
	require.Equal(t, h0, b1.PrevHash())

	require.True(t, b1.Lamport() > b0.Lamport(), "lamport must advance per append")

	chain, err := l.Blocks()
	require.NoError(t, err)
	require.NoError(t, Validate(chain))
}

func TestValidateDetectsTampering(t *testing.T) {
	l := testLedger(t, 1)

	for i := 0; i < 5; i++ {
		_, err := l.Append([][]byte{[]byte(fmt.Sprintf("msg %d", i))})
		require.NoError(t, err)
	}

	chain, err := l.Blocks()
	require.NoError(t, err)
	require.NoError(t, Validate(chain))

	// flip a single byte in block 2's payload
	chain[2].Body.Transactions[0][0] ^= 0x01

	err = Validate(chain)
	require.Error(t, err)
	assert.True(t, cm.Is(err, cm.Integrity))
	assert.Contains(t, err.Error(), "2", "the tampered block itself must be named")
}

func TestValidateDetectsTailTampering(t *testing.T) {
	l := testLedger(t, 1)

	for i := 0; i < 3; i++ {
		_, err := l.Append([][]byte{[]byte(fmt.Sprintf("msg %d", i))})
		require.NoError(t, err)
	}

	chain, err := l.Blocks()
	require.NoError(t, err)
	require.NoError(t, Validate(chain))

	// the tail block has no successor linking back to it; its own stored
	// hash is what must catch the tampering
	tail := chain[len(chain)-1]
	tail.Body.Transactions[0][0] ^= 0x01

	err = Validate(chain)
	require.Error(t, err)
	assert.True(t, cm.Is(err, cm.Integrity))
	assert.Contains(t, err.Error(), "2")
}

func TestValidateRejectsBadGenesis(t *testing.T) {
	b := NewBlock(0, "deadbeef", 1, 1, clock.VectorClock{1: 1}, nil)
	err := Validate([]*Block{b})
	require.Error(t, err)
	assert.True(t, cm.Is(err, cm.Integrity))
}

func TestDiff(t *testing.T) {
	a := testLedger(t, 1)
	b := testLedger(t, 2)

	// no shared history at all: fork at genesis
	_, err := a.Append([][]byte{[]byte("a0")})
	require.NoError(t, err)
	_, err = b.Append([][]byte{[]byte("b0")})
	require.NoError(t, err)

	chainA, _ := a.Blocks()
	chainB, _ := b.Blocks()

	fork, err := Diff(chainA, chainB)
	require.NoError(t, err)
	assert.Equal(t, 0, fork)

	// prefix: no fork
	fork, err = Diff(chainA, chainA[:0])
	require.NoError(t, err)
	assert.Equal(t, NoFork, fork)

	fork, err = Diff(chainA, chainA)
	require.NoError(t, err)
	assert.Equal(t, NoFork, fork)
}

func TestSingleWriterPerIndex(t *testing.T) {
	l := testLedger(t, 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append([][]byte{[]byte(fmt.Sprintf("msg %d", i))})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	chain, err := l.Blocks()
	require.NoError(t, err)
	require.Len(t, chain, 20)
	require.NoError(t, Validate(chain), "concurrent appends must still form a single valid chain")
}

func TestStoreRejectsIndexCollision(t *testing.T) {
	s := NewInmemStore()

	b0 := NewBlock(0, crypto.ZeroHash, 1, 1, clock.VectorClock{1: 1}, nil)
	require.NoError(t, s.SetBlock(b0))

	dup := NewBlock(0, crypto.ZeroHash, 2, 1, clock.VectorClock{2: 1}, nil)
	err := s.SetBlock(dup)
	require.Error(t, err)
	assert.True(t, cm.Is(err, cm.KeyAlreadyExists))
}

func TestResetArchivesSupersededBlocks(t *testing.T) {
	l := testLedger(t, 1)

	for i := 0; i < 4; i++ {
		_, err := l.Append([][]byte{[]byte(fmt.Sprintf("msg %d", i))})
		require.NoError(t, err)
	}

	chain, _ := l.Blocks()

	// replace everything from index 2 with a rebuilt branch
	canonical := []*Block{
		NewBlock(2, mustHash(t, chain[1]), 2, 10, clock.VectorClock{2: 1}, [][]byte{[]byte("winner")}),
	}

	require.NoError(t, l.Store().Reset(2, canonical))

	newChain, _ := l.Blocks()
	require.Len(t, newChain, 3)

	superseded := l.Store().SupersededBlocks()
	require.Len(t, superseded, 2)
	for _, b := range superseded {
		assert.True(t, b.Superseded)
	}
}

func mustHash(t *testing.T, b *Block) string {
	h, err := b.Hash()
	require.NoError(t, err)
	return h
}
