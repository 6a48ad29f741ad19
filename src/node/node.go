package node

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/fieldmesh/fieldmesh/src/ledger"
	"github.com/fieldmesh/fieldmesh/src/mesh"
	"github.com/fieldmesh/fieldmesh/src/net"
	"github.com/fieldmesh/fieldmesh/src/peers"
	"github.com/fieldmesh/fieldmesh/src/reconcile"
	"github.com/sirupsen/logrus"
)

// submission is a message handed to the node by the local application. The
// ID is fixed at submission time so the caller can correlate the async
// delivery outcome events.
type submission struct {
	id      string
	mtype   mesh.Type
	target  uint32
	payload []byte
}

//Node defines a fieldmesh node
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	validator *Validator
	verifier  *PeerVerifier

	core     *Core
	coreLock sync.Mutex

	trans net.Transport
	netCh <-chan net.RPC

	reconciler *reconcile.Reconciler

	submitCh chan submission
	eventCh  chan Event

	sigintCh   chan os.Signal
	shutdownCh chan struct{}

	controlTimer *ControlTimer

	start           time.Time
	authorityMisses int
}

//NewNode is a factory method that returns a Node instance
func NewNode(conf *Config,
	validator *Validator,
	peerSet *peers.PeerSet,
	store ledger.Store,
	trans net.Transport,
) *Node {
	//Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	logger := conf.Logger.WithField("this_id", validator.ID())

	sender := &rpcSender{
		localID: validator.ID(),
		trans:   trans,
	}

	node := Node{
		validator:    validator,
		verifier:     NewPeerVerifier(peerSet),
		conf:         conf,
		logger:       logger,
		core:         NewCore(validator, peerSet, store, sender, conf, logger),
		trans:        trans,
		netCh:        trans.Consumer(),
		reconciler:   reconcile.NewReconciler(validator.ID(), validator, logger),
		submitCh:     make(chan submission, 64),
		eventCh:      make(chan Event, 128),
		sigintCh:     sigintCh,
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
	}

	return &node
}

//Init initialises the node
func (n *Node) Init() error {
	n.start = time.Now()

	if n.conf.AuthorityAddr != "" {
		n.logger.Debug("Authority configured => Centralized")
		n.setState(Centralized)
	} else {
		n.logger.Debug("No authority configured => P2PFallback")
		n.setState(P2PFallback)
		n.evaluateConnectivity()
	}

	return nil
}

//RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")

	go n.Run()
}

//Run invokes the main loop of the node
func (n *Node) Run() {
	//The ControlTimer drives the periodic work of every state handler.
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	//Execute some background work regardless of the state of the node.
	go n.doBackgroundWork()

	//Execute Node State Machine
	for {
		//Run different routines depending on node state
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Centralized:
			n.centralized()
		case P2PFallback, Degraded:
			n.fallback()
		case Isolated:
			n.isolated()
		case Shutdown:
			return
		}
	}
}

//ResetTimer
func (n *Node) resetTimer() {
	if !n.controlTimer.set {
		n.controlTimer.resetCh <- n.conf.HeartbeatTimeout
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case rpc := <-n.netCh:
			n.goFunc(func() {
				n.logger.Debug("Processing RPC")
				n.processRPC(rpc)
			})
		case sub := <-n.submitCh:
			n.logger.Debug("Adding Message")
			n.handleSubmission(sub)
		case <-n.shutdownCh:
			return
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT")
			n.Shutdown()
			os.Exit(0)
		}
	}
}

// centralized runs while the authority answers heartbeats. Peers are still
// tracked so the fallback is warm when the authority disappears.
func (n *Node) centralized() {
	n.logger.Debug("CENTRALIZED")

	for {
		select {
		case <-n.controlTimer.tickCh:
			n.heartbeatAuthority()
			n.heartbeatPeers()
			n.sweepSilentPeers()
			n.drainQueue()
			n.logStats()
			n.resetTimer()

			if n.getState() != Centralized {
				return
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// fallback covers both P2PFallback and Degraded: traffic is flooded
// peer-to-peer while the node keeps probing the authority.
func (n *Node) fallback() {
	n.logger.Debug("P2P-FALLBACK")

	for {
		select {
		case <-n.controlTimer.tickCh:
			n.probeAuthority()
			n.heartbeatPeers()
			n.sweepSilentPeers()
			n.evaluateConnectivity()
			n.drainQueue()
			n.logStats()
			n.resetTimer()

			if s := n.getState(); s != P2PFallback && s != Degraded {
				return
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// isolated keeps the node alive with no reachable peers: messages queue up
// locally while the node probes its known peers and the authority for a way
// back in.
func (n *Node) isolated() {
	n.logger.Debug("ISOLATED")

	for {
		select {
		case <-n.controlTimer.tickCh:
			n.probeAuthority()
			n.probeKnownPeers()
			n.evaluateConnectivity()
			n.drainQueue()
			n.logStats()
			n.resetTimer()

			if n.getState() != Isolated {
				return
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// heartbeatAuthority sends a heartbeat to the authority and reacts to the
// outcome: repeated misses trip the fallback, a divergent tip triggers a
// reconciliation.
func (n *Node) heartbeatAuthority() {
	resp, err := n.requestHeartbeat(n.conf.AuthorityAddr)
	if err != nil {
		n.authorityMisses++
		n.logger.WithFields(logrus.Fields{
			"misses": n.authorityMisses,
			"error":  err,
		}).Debug("Authority heartbeat missed")

		if n.authorityMisses >= n.conf.MissedHeartbeats {
			n.logger.Warn("Authority unreachable => P2PFallback")
			n.transition(P2PFallback)
			// falling back with no live peer link is really an isolation
			// event; re-evaluate now rather than a heartbeat later
			n.evaluateConnectivity()
		}
		return
	}

	n.authorityMisses = 0

	if n.tipDiverges(resp.LastIndex, resp.LastHash) {
		n.startResync(n.conf.AuthorityAddr, nil)
	}
}

// startResync claims the Resyncing sub-phase and reconciles with the target
// in the background. It returns false when a reconciliation is already in
// flight or the routine could not be launched.
func (n *Node) startResync(target string, then func(error)) bool {
	if !n.tryResync() {
		return false
	}

	launched := n.goFunc(func() {
		err := n.reconcileWith(target)
		if then != nil {
			then(err)
		}
	})

	if !launched {
		n.setResyncing(false)
	}

	return launched
}

// probeAuthority checks whether the authority has come back. Central
// connectivity is only declared restored once the ledgers are reconciled.
func (n *Node) probeAuthority() {
	if n.conf.AuthorityAddr == "" {
		return
	}

	resp, err := n.requestHeartbeat(n.conf.AuthorityAddr)
	if err != nil {
		return
	}

	n.logger.Debug("Authority reachable again")
	n.authorityMisses = 0

	if n.tipDiverges(resp.LastIndex, resp.LastHash) {
		n.startResync(n.conf.AuthorityAddr, func(err error) {
			if err == nil {
				n.transition(Centralized)
			}
		})
		return
	}

	n.transition(Centralized)
}

// heartbeatPeers exchanges tip summaries with the live peer links and
// triggers at most one reconciliation per round.
func (n *Node) heartbeatPeers() {
	for _, link := range n.core.Router().Links() {
		peer := link.Peer

		resp, err := n.requestHeartbeat(peer.NetAddr)
		if err != nil {
			continue
		}

		n.core.Router().Touch(peer.ID())

		if n.tipDiverges(resp.LastIndex, resp.LastHash) {
			n.startResync(peer.NetAddr, nil)
		}
	}
}

// probeKnownPeers tries every peer from the configuration, not just the live
// links, which is how an isolated node finds its way back into the mesh.
func (n *Node) probeKnownPeers() {
	for _, peer := range n.core.peers.Peers {
		if peer.ID() == n.validator.ID() {
			continue
		}

		resp, err := n.requestHeartbeat(peer.NetAddr)
		if err != nil {
			continue
		}

		n.logger.WithField("peer", peer.ID()).Debug("Peer reachable again")
		n.core.Router().AddPeer(peer)

		if n.tipDiverges(resp.LastIndex, resp.LastHash) {
			n.startResync(peer.NetAddr, nil)
		}
	}
}

func (n *Node) sweepSilentPeers() {
	lost := n.core.Router().SweepSilent(time.Now())
	for _, id := range lost {
		n.emit(Event{Kind: PeerLost, Peer: id})
	}
}

// evaluateConnectivity moves the node between the peer-to-peer states based
// on how many peers are still reachable. Fewer live links than MinPeers is
// Degraded; none at all is Isolated.
func (n *Node) evaluateConnectivity() {
	if n.getState() == Centralized || n.getState() == Shutdown {
		return
	}

	count := n.core.Router().PeerCount()

	switch {
	case count == 0:
		n.transition(Isolated)
	case count < n.conf.MinPeers:
		n.transition(Degraded)
	default:
		n.transition(P2PFallback)
	}
}

// handleSubmission turns an application payload into a stamped, recorded and
// flooded message. With no reachable peer, or while a resync gates outbound
// traffic, the message goes to the offline queue instead.
func (n *Node) handleSubmission(sub submission) {
	n.coreLock.Lock()
	msg, block, err := n.core.CreateMessage(sub.id, sub.mtype, sub.target, sub.payload, n.conf.MaxHops)
	n.coreLock.Unlock()

	if err != nil {
		n.logger.WithError(err).Error("Failed to create message")
		return
	}

	n.emit(Event{Kind: LedgerAppended, Block: block})

	if n.isResyncing() || n.core.Router().PeerCount() == 0 {
		n.core.Queue().Push(msg, time.Now())
		n.emit(Event{Kind: MessageQueued, Message: msg})
		n.logger.WithField("msg_id", msg.ID).Debug("Message queued")
		return
	}

	sent := n.core.Broadcast(msg)
	if len(sent) == 0 {
		n.core.Queue().Push(msg, time.Now())
		n.emit(Event{Kind: MessageQueued, Message: msg})
		return
	}

	n.emit(Event{Kind: MessageDelivered, Message: msg})
}

// drainQueue retries queued messages, highest priority first, and reports
// the ones that expired waiting.
func (n *Node) drainQueue() {
	now := time.Now()

	due, expired := n.core.Queue().Due(now)

	for _, msg := range expired {
		n.logger.WithField("msg_id", msg.ID).Warn("Message expired in queue")
		n.emit(Event{Kind: MessageExpired, Message: msg})
	}

	for _, p := range due {
		if n.isResyncing() || n.core.Router().PeerCount() == 0 {
			n.core.Queue().Requeue(p, now)
			continue
		}

		sent := n.core.Broadcast(p.Message)
		if len(sent) == 0 {
			n.core.Queue().Requeue(p, now)
			continue
		}

		n.emit(Event{Kind: MessageDelivered, Message: p.Message})
	}
}

// reconcileWith pulls the target's chain, merges it with ours, adopts the
// canonical result and proposes it back. The caller must have claimed the
// Resyncing sub-phase with tryResync.
func (n *Node) reconcileWith(target string) error {
	defer n.setResyncing(false)

	n.logger.WithField("target", target).Debug("RESYNCING")

	pull, err := n.requestPull(target, 0)
	if err != nil {
		n.logger.WithError(err).Error("Pull failed")
		return err
	}

	if err := n.verifyChain(pull.Blocks); err != nil {
		n.logger.WithError(err).Error("Pulled chain failed verification")
		return err
	}

	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	local, err := n.core.Chain()
	if err != nil {
		return err
	}

	canonical, report, err := n.reconciler.Merge(local, pull.Blocks)
	if err != nil {
		n.logger.WithError(err).Error("Merge failed")
		return err
	}

	if err := n.adoptCanonical(local, canonical); err != nil {
		n.logger.WithError(err).Error("Adopt failed")
		return err
	}

	n.core.AddConflicts(report.Conflicts)
	for i := range report.Conflicts {
		n.emit(Event{Kind: ConflictDetected, Conflict: &report.Conflicts[i]})
	}

	// propose the canonical chain back so both sides converge
	n.goFunc(func() {
		resp, err := n.requestAdopt(target, report.ForkIndex, canonical)
		if err != nil {
			n.logger.WithError(err).Debug("Adopt proposal failed")
			return
		}
		if !resp.Accepted {
			n.logger.WithField("target", target).Debug("Adopt proposal refused")
		}
	})

	n.logger.WithFields(logrus.Fields{
		"fork_index": report.ForkIndex,
		"merged":     report.Merged,
		"conflicts":  len(report.Conflicts),
	}).Debug("Reconciliation complete")

	return nil
}

// adoptCanonical replaces the local chain with the canonical one from the
// fork point onward and advances the clock past the adopted tip. Caller
// holds coreLock.
func (n *Node) adoptCanonical(local, canonical []*ledger.Block) error {
	forkIndex, err := ledger.Diff(local, canonical)
	if err != nil {
		return err
	}

	if forkIndex == ledger.NoFork {
		if len(canonical) <= len(local) {
			// nothing new
			return nil
		}
		forkIndex = len(local)
	}

	if err := n.core.Ledger().Adopt(forkIndex, canonical[forkIndex:]); err != nil {
		return err
	}

	if tip := n.core.Ledger().Tip(); tip != nil {
		n.core.Clock().Merge(tip.Body.Vector, tip.Lamport())
	}

	return nil
}

// verifyChain checks every block signature of a remote chain against the
// peer set before the chain gets anywhere near a merge. The genesis block is
// deterministic and unsigned; every other block must verify against its
// creator or, for re-chained blocks, its countersigner.
func (n *Node) verifyChain(blocks []*ledger.Block) error {
	for _, b := range blocks {
		if b.Index() == 0 {
			continue
		}

		ok, err := b.Verify(n.verifier)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("block %d: invalid signature", b.Index())
		}
	}

	return nil
}

// tipDiverges reports whether a remote tip summary disagrees with ours.
func (n *Node) tipDiverges(remoteIndex int, remoteHash string) bool {
	index, hash := n.core.TipSummary()

	if remoteIndex < 0 && index < 0 {
		return false
	}

	return remoteIndex != index || remoteHash != hash
}

// transition changes the connectivity state and notifies observers.
func (n *Node) transition(s State) {
	if n.getState() == s {
		return
	}

	n.logger.WithFields(logrus.Fields{
		"from": n.getState().String(),
		"to":   s.String(),
	}).Debug("State transition")

	n.setState(s)
	n.emit(Event{Kind: StateChanged, State: s})
}

// emit delivers an event to the observer channel without ever blocking the
// node; when no one is draining the channel, events are dropped.
func (n *Node) emit(e Event) {
	select {
	case n.eventCh <- e:
	default:
	}
}

//Submit hands an application payload to the node for stamping, recording and
//delivery, and returns the message ID. Target 0 broadcasts to the whole
//mesh. Delivery is asynchronous; the outcome is reported through the event
//channel under the returned ID.
func (n *Node) Submit(mtype mesh.Type, target uint32, payload []byte) string {
	id := mesh.GenerateID()

	n.submitCh <- submission{id: id, mtype: mtype, target: target, payload: payload}

	return id
}

//Events returns the channel of observer notifications.
func (n *Node) Events() <-chan Event {
	return n.eventCh
}

//Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Stop and wait for concurrent operations
		close(n.shutdownCh)

		n.waitRoutines()

		//This needs to be called after closing the shutdownCh
		n.controlTimer.Shutdown()

		//transport and store should only be closed once all concurrent
		//operations are finished otherwise they will panic trying to use
		//closed objects
		n.trans.Close()

		n.core.Ledger().Store().Close()
	}
}

//GetStats returns stats
func (n *Node) GetStats() map[string]string {
	tipIndex, tipHash := n.core.TipSummary()

	s := map[string]string{
		"id":          strconv.FormatUint(uint64(n.validator.ID()), 10),
		"moniker":     n.validator.Moniker,
		"state":       n.getState().String(),
		"resyncing":   strconv.FormatBool(n.isResyncing()),
		"peers":       strconv.Itoa(n.core.Router().PeerCount()),
		"queued":      strconv.Itoa(n.core.Queue().Len()),
		"lamport":     strconv.Itoa(n.core.Clock().Lamport()),
		"tip_index":   strconv.Itoa(tipIndex),
		"tip_hash":    tipHash,
		"conflicts":   strconv.Itoa(len(n.core.Conflicts())),
		"uptime_secs": strconv.FormatFloat(time.Since(n.start).Seconds(), 'f', 0, 64),
	}

	return s
}

func (n *Node) logStats() {
	n.logger.WithFields(n.core.logFields()).Debug("Stats")
}

//ID returns the node's ID
func (n *Node) ID() uint32 {
	return n.validator.ID()
}

//Moniker returns the node's friendly name
func (n *Node) Moniker() string {
	return n.validator.Moniker
}

//GetPeers returns the node's current view of its peers
func (n *Node) GetPeers() []*mesh.PeerLink {
	return n.core.Router().Links()
}

//GetBlock returns a ledger block by index
func (n *Node) GetBlock(blockIndex int) (*ledger.Block, error) {
	return n.core.Ledger().Store().GetBlock(blockIndex)
}

//GetChain returns the full canonical chain
func (n *Node) GetChain() ([]*ledger.Block, error) {
	return n.core.Chain()
}

//GetConflicts returns the conflict records of past reconciliations
func (n *Node) GetConflicts() []reconcile.Conflict {
	return n.core.Conflicts()
}

//GetState returns the node's connectivity state
func (n *Node) GetState() State {
	return n.getState()
}
