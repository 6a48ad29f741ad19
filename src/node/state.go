package node

import (
	"sync"
	"sync/atomic"
)

// State captures the connectivity state of a node: Centralized, P2PFallback,
// Degraded, Isolated, or Shutdown
type State uint32

const (
	//Centralized is the initial state: the coordination authority is
	//reachable and relays traffic.
	Centralized State = iota
	//P2PFallback is entered when the authority stops responding; messages
	//are flooded through directly reachable peers.
	P2PFallback
	//Degraded means only one peer is still reachable.
	Degraded
	//Isolated means no peer is reachable; messages are queued locally.
	Isolated
	//Shutdown is shutdown
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Centralized:
		return "Centralized"
	case P2PFallback:
		return "P2PFallback"
	case Degraded:
		return "Degraded"
	case Isolated:
		return "Isolated"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 20

type state struct {
	state     State
	resyncing uint32
	wg        sync.WaitGroup
	wgCount   int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// isResyncing reports whether a ledger reconciliation is in flight. The
// Resyncing sub-phase overlays the connectivity state rather than replacing
// it.
func (b *state) isResyncing() bool {
	return atomic.LoadUint32(&b.resyncing) == 1
}

// tryResync atomically claims the Resyncing sub-phase. It returns false if a
// reconciliation is already in flight.
func (b *state) tryResync() bool {
	return atomic.CompareAndSwapUint32(&b.resyncing, 0, 1)
}

func (b *state) setResyncing(on bool) {
	var v uint32
	if on {
		v = 1
	}
	atomic.StoreUint32(&b.resyncing, v)
}

// Start a goroutine and add it to waitgroup. Reports whether the goroutine
// was actually launched; past WGLIMIT concurrent routines the work is
// dropped.
func (b *state) goFunc(f func()) bool {
	tempWgCount := atomic.LoadInt32(&b.wgCount)
	if tempWgCount < WGLIMIT {
		b.wg.Add(1)
		atomic.AddInt32(&b.wgCount, 1)
		go func() {
			defer b.wg.Done()
			atomic.AddInt32(&b.wgCount, -1)
			f()
		}()
		return true
	}
	return false
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
