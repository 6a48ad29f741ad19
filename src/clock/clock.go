package clock

// Clock holds one node's logical clock state: its Lamport counter and its
// vector clock. A Clock is owned by a single node agent which serializes
// access alongside the ledger append path.
type Clock struct {
	nodeID  uint32
	lamport int
	vector  VectorClock
}

// New creates a Clock for the given node ID, with all counters at zero.
func New(nodeID uint32) *Clock {
	return &Clock{
		nodeID: nodeID,
		vector: NewVectorClock(),
	}
}

// NodeID returns the owning node's ID.
func (c *Clock) NodeID() uint32 {
	return c.nodeID
}

// Lamport returns the current Lamport counter.
func (c *Clock) Lamport() int {
	return c.lamport
}

// Vector returns a snapshot of the vector clock.
func (c *Clock) Vector() VectorClock {
	return c.vector.Copy()
}

// Stamp records a local event: it increments the node's own Lamport counter
// and its own vector entry, and returns a snapshot of both.
func (c *Clock) Stamp() (int, VectorClock) {
	c.lamport++
	c.vector[c.nodeID]++
	return c.lamport, c.vector.Copy()
}

// Merge folds an incoming message's clocks into the local state. The Lamport
// counter becomes max(local, incoming)+1 and the vector clock keeps the
// pairwise maximum for every key present in either input. It returns a
// snapshot of the merged state.
func (c *Clock) Merge(inVector VectorClock, inLamport int) (VectorClock, int) {
	if inLamport > c.lamport {
		c.lamport = inLamport
	}
	c.lamport++

	c.vector.Merge(inVector)

	return c.vector.Copy(), c.lamport
}

// TotalOrderLess is the system-wide total order over events: ascending
// Lamport timestamp, with the lower node ID winning ties. It is deterministic
// across nodes and runs, which is what makes the reconciliation merge
// reproducible.
func TotalOrderLess(lamportA int, nodeA uint32, lamportB int, nodeB uint32) bool {
	if lamportA != lamportB {
		return lamportA < lamportB
	}
	return nodeA < nodeB
}
