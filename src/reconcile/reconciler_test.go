package reconcile

import (
	"fmt"
	"testing"

	"github.com/fieldmesh/fieldmesh/src/clock"
	cm "github.com/fieldmesh/fieldmesh/src/common"
	"github.com/fieldmesh/fieldmesh/src/ledger"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T, creator uint32) *ledger.Ledger {
	logger := cm.NewTestEntry(t, logrus.DebugLevel)
	return ledger.NewLedger(creator, clock.New(creator), ledger.NewInmemStore(), nil, logger)
}

// forkedChains builds two chains sharing `shared` blocks, then appends
// localExtra and remoteExtra divergent blocks on each side.
func forkedChains(t *testing.T, shared, localExtra, remoteExtra int) (local, remote []*ledger.Block) {
	localLedger := testLedger(t, 1)

	for i := 0; i < shared; i++ {
		_, err := localLedger.Append([][]byte{[]byte(fmt.Sprintf("shared-%d", i))})
		require.NoError(t, err)
	}

	prefix, err := localLedger.Blocks()
	require.NoError(t, err)

	remoteStore := ledger.NewInmemStore()
	for _, b := range prefix {
		require.NoError(t, remoteStore.SetBlock(b))
	}
	logger := cm.NewTestEntry(t, logrus.DebugLevel)
	remoteClock := clock.New(2)
	for i := 0; i < shared; i++ {
		remoteClock.Stamp()
	}
	remoteLedger := ledger.NewLedger(2, remoteClock, remoteStore, nil, logger)

	for i := 0; i < localExtra; i++ {
		_, err := localLedger.Append([][]byte{[]byte(fmt.Sprintf("local-%d", i))})
		require.NoError(t, err)
	}
	for i := 0; i < remoteExtra; i++ {
		_, err := remoteLedger.Append([][]byte{[]byte(fmt.Sprintf("remote-%d", i))})
		require.NoError(t, err)
	}

	local, err = localLedger.Blocks()
	require.NoError(t, err)
	remote, err = remoteLedger.Blocks()
	require.NoError(t, err)

	return local, remote
}

func newTestReconciler(t *testing.T) *Reconciler {
	return NewReconciler(1, nil, cm.NewTestEntry(t, logrus.DebugLevel))
}

func TestMergePrefixChains(t *testing.T) {
	local, remote := forkedChains(t, 3, 0, 2)

	canonical, report, err := newTestReconciler(t).Merge(local, remote)
	require.NoError(t, err)

	assert.Equal(t, ledger.NoFork, report.ForkIndex)
	assert.Len(t, canonical, 5)
	assert.Empty(t, report.Conflicts)
	require.NoError(t, ledger.Validate(canonical))
}

func TestMergeForkedChains(t *testing.T) {
	local, remote := forkedChains(t, 2, 2, 3)

	canonical, report, err := newTestReconciler(t).Merge(local, remote)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ForkIndex)
	// common prefix plus every divergent block re-chained
	assert.Len(t, canonical, 7)
	assert.Equal(t, 5, report.Merged)
	require.NoError(t, ledger.Validate(canonical))

	// total order within the re-chained region
	for i := 3; i < len(canonical); i++ {
		prev, cur := canonical[i-1], canonical[i]
		less := clock.TotalOrderLess(prev.Lamport(), prev.Creator(), cur.Lamport(), cur.Creator())
		assert.True(t, less, "blocks %d and %d out of order", i-1, i)
	}

	// attribution survives re-chaining
	creators := map[uint32]int{}
	for _, b := range canonical[2:] {
		creators[b.Creator()]++
	}
	assert.Equal(t, 2, creators[1])
	assert.Equal(t, 3, creators[2])
}

func TestMergeRecordsConflicts(t *testing.T) {
	local, remote := forkedChains(t, 2, 2, 3)

	_, report, err := newTestReconciler(t).Merge(local, remote)
	require.NoError(t, err)

	// indices 2 and 3 were contested on both sides
	require.Len(t, report.Conflicts, 2)
	for i, c := range report.Conflicts {
		assert.Equal(t, 2+i, c.Index)
		assert.Equal(t, ReasonTotalOrder, c.Reason)
		assert.NotEqual(t, c.WinnerHash, c.LoserHash)
	}
}

func TestMergeDeterministic(t *testing.T) {
	local, remote := forkedChains(t, 2, 2, 2)

	r := newTestReconciler(t)

	// merging in either direction must produce the same canonical chain
	ab, _, err := r.Merge(local, remote)
	require.NoError(t, err)
	ba, _, err := r.Merge(remote, local)
	require.NoError(t, err)

	require.Equal(t, len(ab), len(ba))
	for i := range ab {
		hashAB, err := ab[i].Hash()
		require.NoError(t, err)
		hashBA, err := ba[i].Hash()
		require.NoError(t, err)
		assert.Equal(t, hashAB, hashBA, "block %d differs by direction", i)
	}
}

func TestMergeNoCommonGenesis(t *testing.T) {
	localLedger := testLedger(t, 1)
	remoteLedger := testLedger(t, 2)

	_, err := localLedger.Append([][]byte{[]byte("local genesis")})
	require.NoError(t, err)
	_, err = remoteLedger.Append([][]byte{[]byte("remote genesis")})
	require.NoError(t, err)

	local, err := localLedger.Blocks()
	require.NoError(t, err)
	remote, err := remoteLedger.Blocks()
	require.NoError(t, err)

	_, _, err = newTestReconciler(t).Merge(local, remote)
	require.Error(t, err)
	assert.True(t, cm.Is(err, cm.DivergentLedger))
}

func TestMergeEmptySides(t *testing.T) {
	local, _ := forkedChains(t, 2, 1, 0)

	canonical, report, err := newTestReconciler(t).Merge(local, nil)
	require.NoError(t, err)
	assert.Len(t, canonical, 3)
	assert.Equal(t, 0, report.RemoteBlocks)

	canonical, _, err = newTestReconciler(t).Merge(nil, local)
	require.NoError(t, err)
	assert.Len(t, canonical, 3)
}

func TestMergeRejectsTamperedChain(t *testing.T) {
	local, remote := forkedChains(t, 2, 1, 1)

	remote[1].Body.Transactions = [][]byte{[]byte("forged")}

	_, _, err := newTestReconciler(t).Merge(local, remote)
	require.Error(t, err)
	assert.True(t, cm.Is(err, cm.Integrity))
}
