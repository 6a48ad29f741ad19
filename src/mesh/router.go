package mesh

import (
	"sync"
	"time"

	"github.com/fieldmesh/fieldmesh/src/peers"
	"github.com/sirupsen/logrus"
)

// Sender performs the actual transmission of a message to a directly
// reachable peer. The transport behind it can be TCP, a datagram radio link,
// or an in-memory channel; the router does not care.
type Sender interface {
	SendMessage(target *peers.Peer, msg *Message) error
}

// Router owns a node's adjacency view and floods messages across it. All
// forwarding is fire-and-forget in per-peer goroutines, so one slow or
// unreachable peer never holds up traffic to the others.
type Router struct {
	sync.RWMutex

	localID uint32
	links   map[uint32]*PeerLink
	seen    *SeenWindow
	sender  Sender
	logger  *logrus.Entry

	silenceTimeout time.Duration
}

// NewRouter creates a Router for the given node.
func NewRouter(localID uint32, sender Sender, seenWindowSize int, silenceTimeout time.Duration, logger *logrus.Entry) *Router {
	return &Router{
		localID:        localID,
		links:          make(map[uint32]*PeerLink),
		seen:           NewSeenWindow(seenWindowSize),
		sender:         sender,
		silenceTimeout: silenceTimeout,
		logger:         logger.WithField("component", "router"),
	}
}

// AddPeer registers or refreshes a directly reachable peer.
func (r *Router) AddPeer(peer *peers.Peer) {
	r.Lock()
	defer r.Unlock()

	if link, ok := r.links[peer.ID()]; ok {
		link.LastSeen = time.Now()
		return
	}
	r.links[peer.ID()] = NewPeerLink(peer, time.Now())
}

// RemovePeer drops a peer from the adjacency view.
func (r *Router) RemovePeer(id uint32) {
	r.Lock()
	defer r.Unlock()

	delete(r.links, id)
}

// Touch refreshes a peer's last-seen time, typically on any inbound traffic
// from it.
func (r *Router) Touch(id uint32) {
	r.Lock()
	defer r.Unlock()

	if link, ok := r.links[id]; ok {
		link.LastSeen = time.Now()
	}
}

// PeerCount returns the number of live links.
func (r *Router) PeerCount() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.links)
}

// Links returns a snapshot of the adjacency view. The links are value copies,
// so callers can read them without holding the router lock while the live
// links keep mutating.
func (r *Router) Links() []*PeerLink {
	r.RLock()
	defer r.RUnlock()

	res := make([]*PeerLink, 0, len(r.links))
	for _, link := range r.links {
		cp := *link
		res = append(res, &cp)
	}
	return res
}

// Broadcast forwards the message to every known peer that is not already in
// its route, with the TTL decremented. It returns the IDs of the peers the
// message was handed to. A message whose TTL is already 0 is dropped, not
// forwarded.
func (r *Router) Broadcast(msg *Message) []uint32 {
	if msg.TTL <= 0 {
		r.logger.WithField("msg_id", msg.ID).Debug("TTL exhausted, dropping")
		return nil
	}

	hop := msg.Hop()

	r.RLock()
	targets := make([]*PeerLink, 0, len(r.links))
	for _, link := range r.links {
		if !msg.Routed(link.Peer.ID()) {
			targets = append(targets, link)
		}
	}
	r.RUnlock()

	sent := make([]uint32, 0, len(targets))
	for _, link := range targets {
		sent = append(sent, link.Peer.ID())
		go r.sendTo(link.Peer, hop)
	}

	r.logger.WithFields(logrus.Fields{
		"msg_id":  msg.ID,
		"ttl":     hop.TTL,
		"targets": len(sent),
	}).Debug("Flooding message")

	return sent
}

// sendTo delivers one copy to one peer and folds the outcome into the link
// quality.
func (r *Router) sendTo(peer *peers.Peer, msg *Message) {
	start := time.Now()
	err := r.sender.SendMessage(peer, msg)
	elapsed := time.Since(start)

	r.Lock()
	defer r.Unlock()

	link, ok := r.links[peer.ID()]
	if !ok {
		return
	}

	if err != nil {
		link.RecordFailure()
		r.logger.WithField("peer", peer.ID()).WithError(err).Debug("Message delivery failed")
		return
	}

	link.RecordSuccess(elapsed, time.Now())
}

// Receive handles an inbound message. Duplicates are discarded silently and
// the function reports false. A fresh message has the local node appended to
// its route and, while its TTL allows, is re-flooded to the remaining peers.
// The returned message is the local copy with the updated route.
func (r *Router) Receive(msg *Message) (*Message, bool) {
	if r.seen.Witness(msg.ID) {
		r.logger.WithField("msg_id", msg.ID).Debug("Duplicate message, discarding")
		return nil, false
	}

	r.Touch(msg.Sender)
	if len(msg.Route) > 0 {
		r.Touch(msg.Route[len(msg.Route)-1])
	}

	local := *msg
	local.Route = append(append([]uint32{}, msg.Route...), r.localID)

	if local.TTL > 0 {
		r.Broadcast(&local)
	}

	return &local, true
}

// Witness marks a locally-originated message as seen so the node never
// re-processes its own traffic echoed back by a neighbour.
func (r *Router) Witness(id string) {
	r.seen.Witness(id)
}

// SweepSilent drops links that have been silent past the timeout and returns
// the lost peer IDs. The node agent runs this off its heartbeat timer and
// reacts with state transitions.
func (r *Router) SweepSilent(now time.Time) []uint32 {
	r.Lock()
	defer r.Unlock()

	lost := []uint32{}
	for id, link := range r.links {
		if link.SilentSince(r.silenceTimeout, now) {
			delete(r.links, id)
			lost = append(lost, id)
		}
	}

	if len(lost) > 0 {
		r.logger.WithField("peers", lost).Debug("PeerLost")
	}

	return lost
}
