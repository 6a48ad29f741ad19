package node

import (
	"sync"

	"github.com/fieldmesh/fieldmesh/src/clock"
	"github.com/fieldmesh/fieldmesh/src/crypto"
	"github.com/fieldmesh/fieldmesh/src/ledger"
	"github.com/fieldmesh/fieldmesh/src/mesh"
	"github.com/fieldmesh/fieldmesh/src/peers"
	"github.com/fieldmesh/fieldmesh/src/reconcile"
	"github.com/sirupsen/logrus"
)

//Core ties together the pieces owned by one node: its logical clock, its
//ledger, the flooding router and the offline queue. All message creation and
//reception funnels through Core so that clock stamping and ledger recording
//stay consistent.
type Core struct {

	// validator is a wrapper around the private-key controlling this node.
	validator *Validator

	// peers is the list of peers that the node knows about; not necessarily
	// all reachable.
	peers *peers.PeerSet

	// clock is the node's logical clock. Every message carries its stamp and
	// every inbound message is merged into it.
	clock *clock.Clock

	// ledger is the node's append-only record of witnessed messages.
	ledger *ledger.Ledger

	// router floods messages across the reachable peers.
	router *mesh.Router

	// queue holds messages awaiting delivery while no peer is reachable.
	queue *OfflineQueue

	// conflicts accumulates the conflict records of past reconciliations.
	conflicts     []reconcile.Conflict
	conflictsLock sync.Mutex

	logger *logrus.Entry
}

// NewCore is a factory method that returns a new Core object
func NewCore(
	validator *Validator,
	peerSet *peers.PeerSet,
	store ledger.Store,
	sender mesh.Sender,
	conf *Config,
	logger *logrus.Entry) *Core {

	cl := clock.New(validator.ID())

	core := &Core{
		validator: validator,
		peers:     peerSet,
		clock:     cl,
		ledger:    ledger.NewLedger(validator.ID(), cl, store, validator, logger),
		router:    mesh.NewRouter(validator.ID(), sender, conf.CacheSize, conf.SilenceTimeout(), logger),
		queue:     NewOfflineQueue(conf.RetryBase, conf.RetryCap, conf.MessageExpiry),
		logger:    logger,
	}

	// A deployment shares one genesis block, derived deterministically from
	// its initial peer set. Chains that do not share it are unrelated and
	// reconciliation refuses to merge them.
	if store.LastIndex() < 0 {
		if err := core.bootstrapGenesis(); err != nil {
			logger.WithError(err).Error("Failed to bootstrap genesis block")
		}
	} else if tip, err := store.LastBlock(); err == nil {
		// a persistent store outlives the process; resume the clock past the
		// stored tip so (Lamport, creator) pairs already in the chain are
		// never reissued
		cl.Merge(tip.Body.Vector, tip.Lamport())
	}

	for _, p := range peerSet.Peers {
		if p.ID() != validator.ID() {
			core.router.AddPeer(p)
		}
	}

	return core
}

func (c *Core) bootstrapGenesis() error {
	raw, err := c.peers.Marshal()
	if err != nil {
		return err
	}

	genesis := ledger.NewBlock(0, crypto.ZeroHash, 0, 0, clock.VectorClock{}, [][]byte{raw})

	return c.ledger.Store().SetBlock(genesis)
}

// CreateMessage stamps the clock, assembles and signs a new message with the
// local node's hop budget, and records it in the ledger. An empty id lets the
// message generate its own. The message ID is witnessed so the node never
// re-processes its own traffic echoed back.
func (c *Core) CreateMessage(id string, mtype mesh.Type, target uint32, payload []byte, maxHops int) (*mesh.Message, *ledger.Block, error) {
	lamport, vector := c.clock.Stamp()

	msg := mesh.NewMessage(c.validator.ID(), target, mtype, payload, lamport, vector, maxHops)
	if id != "" {
		msg.ID = id
	}

	if err := msg.Sign(c.validator); err != nil {
		return nil, nil, err
	}

	c.router.Witness(msg.ID)

	block, err := c.record(msg)
	if err != nil {
		return nil, nil, err
	}

	return msg, block, nil
}

// ReceiveMessage merges the sender's clock into ours and hands the message
// to the router, which floods it onward while its hop budget lasts. A fresh
// message is recorded in the ledger; duplicates are dropped without a trace.
func (c *Core) ReceiveMessage(msg *mesh.Message) (*mesh.Message, bool, *ledger.Block, error) {
	c.clock.Merge(msg.Vector, msg.Lamport)

	local, fresh := c.router.Receive(msg)
	if !fresh {
		return nil, false, nil, nil
	}

	block, err := c.record(local)
	if err != nil {
		return nil, false, nil, err
	}

	return local, true, block, nil
}

// record appends a message to the ledger as a single-transaction block. The
// recorded form strips the route and hop budget, which mutate in transit, so
// every node that witnesses a message records identical bytes. That is what
// lets reconciliation recognise the same message in two diverged chains.
func (c *Core) record(msg *mesh.Message) (*ledger.Block, error) {
	rec := *msg
	rec.TTL = 0
	rec.Route = nil

	raw, err := rec.Marshal()
	if err != nil {
		return nil, err
	}
	return c.ledger.Append([][]byte{raw})
}

// Broadcast floods a message to the reachable peers and returns the IDs of
// the peers it was handed to.
func (c *Core) Broadcast(msg *mesh.Message) []uint32 {
	return c.router.Broadcast(msg)
}

// TipSummary describes the ledger tip for heartbeat exchanges. An empty
// chain reports index -1.
func (c *Core) TipSummary() (index int, hash string) {
	tip := c.ledger.Tip()
	if tip == nil {
		return -1, ""
	}

	h, err := tip.Hash()
	if err != nil {
		return -1, ""
	}

	return tip.Index(), h
}

// Chain returns the full canonical chain.
func (c *Core) Chain() ([]*ledger.Block, error) {
	return c.ledger.Blocks()
}

// Ledger exposes the underlying ledger.
func (c *Core) Ledger() *ledger.Ledger {
	return c.ledger
}

// Clock exposes the node's logical clock.
func (c *Core) Clock() *clock.Clock {
	return c.clock
}

// Router exposes the flooding router.
func (c *Core) Router() *mesh.Router {
	return c.router
}

// Queue exposes the offline queue.
func (c *Core) Queue() *OfflineQueue {
	return c.queue
}

// AddConflicts appends the conflict records of a reconciliation.
func (c *Core) AddConflicts(conflicts []reconcile.Conflict) {
	c.conflictsLock.Lock()
	defer c.conflictsLock.Unlock()

	c.conflicts = append(c.conflicts, conflicts...)
}

// Conflicts returns a snapshot of the accumulated conflict records.
func (c *Core) Conflicts() []reconcile.Conflict {
	c.conflictsLock.Lock()
	defer c.conflictsLock.Unlock()

	res := make([]reconcile.Conflict, len(c.conflicts))
	copy(res, c.conflicts)

	return res
}

func (c *Core) logFields() logrus.Fields {
	index, _ := c.TipSummary()
	return logrus.Fields{
		"id":      c.validator.ID(),
		"lamport": c.clock.Lamport(),
		"tip":     index,
		"peers":   c.router.PeerCount(),
		"queued":  c.queue.Len(),
	}
}
