package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStamp(t *testing.T) {
	c := New(1)

	lamport, vector := c.Stamp()
	require.Equal(t, 1, lamport)
	require.Equal(t, 1, vector[1])

	lamport, vector = c.Stamp()
	require.Equal(t, 2, lamport)
	require.Equal(t, 2, vector[1])

	// the returned vector is a snapshot, not an alias
	vector[1] = 99
	require.Equal(t, 2, c.Vector()[1])
}

func TestMerge(t *testing.T) {
	c := New(1)
	c.Stamp() // lamport=1, {1:1}

	inVector := VectorClock{2: 5, 3: 1}
	vector, lamport := c.Merge(inVector, 7)

	require.Equal(t, 8, lamport, "lamport should become max(1,7)+1")
	require.Equal(t, 1, vector[1])
	require.Equal(t, 5, vector[2])
	require.Equal(t, 1, vector[3])

	// merging an older message still advances the local lamport
	_, lamport = c.Merge(VectorClock{2: 2}, 3)
	require.Equal(t, 9, lamport)
}

func TestVectorCompare(t *testing.T) {
	a := VectorClock{1: 2, 2: 1}
	b := VectorClock{1: 3, 2: 1}

	assert.Equal(t, Before, a.Compare(b))
	assert.Equal(t, After, b.Compare(a))

	c := a.Copy()
	assert.Equal(t, Equal, a.Compare(c))

	// a has more of node 1, d has more of node 3
	d := VectorClock{1: 1, 3: 4}
	assert.Equal(t, Concurrent, a.Compare(d))
	assert.True(t, a.ConcurrentWith(d))
}

func TestVectorCompareMissingEntries(t *testing.T) {
	// absent entries count as zero
	a := VectorClock{1: 1}
	b := VectorClock{1: 1, 2: 1}

	assert.Equal(t, Before, a.Compare(b))
	assert.Equal(t, After, b.Compare(a))
}

func TestTotalOrder(t *testing.T) {
	// lamport dominates
	assert.True(t, TotalOrderLess(1, 9, 2, 1))
	assert.False(t, TotalOrderLess(2, 1, 1, 9))

	// equal lamport: lower node ID first
	assert.True(t, TotalOrderLess(5, 1, 5, 2))
	assert.False(t, TotalOrderLess(5, 2, 5, 1))
}

func TestVectorString(t *testing.T) {
	vc := VectorClock{2: 1, 1: 3}
	assert.Equal(t, "{1:3, 2:1}", vc.String())
	assert.Equal(t, "{}", NewVectorClock().String())
}
