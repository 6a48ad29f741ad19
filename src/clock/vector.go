package clock

import (
	"fmt"
	"sort"
	"strings"
)

// VectorClock maps node IDs to counters. Entries exist only for nodes that
// have been observed. Operations are not synchronized; the owning node
// serializes access.
type VectorClock map[uint32]int

// NewVectorClock creates an empty vector clock.
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Copy returns a deep copy of the vector clock.
func (vc VectorClock) Copy() VectorClock {
	res := make(VectorClock, len(vc))
	for k, v := range vc {
		res[k] = v
	}
	return res
}

// Merge folds another vector clock into this one, keeping the maximum counter
// for every node ID present in either input.
func (vc VectorClock) Merge(other VectorClock) {
	for id, counter := range other {
		if vc[id] < counter {
			vc[id] = counter
		}
	}
}

// Relation is the outcome of comparing two vector clocks.
type Relation int

const (
	// Before means this clock causally precedes the other.
	Before Relation = iota
	// After means this clock causally follows the other.
	After
	// Concurrent means neither clock dominates the other.
	Concurrent
	// Equal means all counters match.
	Equal
)

// String returns the string representation of a Relation.
func (r Relation) String() string {
	switch r {
	case Before:
		return "Before"
	case After:
		return "After"
	case Concurrent:
		return "Concurrent"
	case Equal:
		return "Equal"
	default:
		return "Unknown"
	}
}

// Compare returns the causal relationship between two vector clocks.
func (vc VectorClock) Compare(other VectorClock) Relation {
	if vc.Equal(other) {
		return Equal
	}

	allNodes := make(map[uint32]struct{})
	for id := range vc {
		allNodes[id] = struct{}{}
	}
	for id := range other {
		allNodes[id] = struct{}{}
	}

	var less, greater bool
	for id := range allNodes {
		a := vc[id]
		b := other[id]
		if a < b {
			less = true
		} else if a > b {
			greater = true
		}
	}

	if less && !greater {
		return Before
	}
	if greater && !less {
		return After
	}
	return Concurrent
}

// Equal reports whether both clocks hold identical counters.
func (vc VectorClock) Equal(other VectorClock) bool {
	if len(vc) != len(other) {
		return false
	}
	for id, counter := range vc {
		if other[id] != counter {
			return false
		}
	}
	return true
}

// ConcurrentWith reports whether neither clock dominates the other.
func (vc VectorClock) ConcurrentWith(other VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

// String renders the clock with IDs in ascending order so that the output is
// deterministic.
func (vc VectorClock) String() string {
	if len(vc) == 0 {
		return "{}"
	}

	ids := make([]uint32, 0, len(vc))
	for id := range vc {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d:%d", id, vc[id])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
