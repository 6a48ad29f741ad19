package mesh

import (
	"time"

	"github.com/fieldmesh/fieldmesh/src/peers"
)

// PeerLink is one node's directed view of a neighbour: "I can currently
// reach this peer". Each node owns its own outbound links; a link is never
// shared between agents. Quality blends delivery outcomes and latency into a
// score the router reports upward, not a routing input: flooding sends to
// every live link regardless.
type PeerLink struct {
	Peer     *peers.Peer
	LastSeen time.Time

	latencyEWMA time.Duration
	failures    int
	successes   int
}

// NewPeerLink creates a link observed now.
func NewPeerLink(peer *peers.Peer, now time.Time) *PeerLink {
	return &PeerLink{
		Peer:     peer,
		LastSeen: now,
	}
}

// RecordSuccess folds a successful delivery and its latency into the link.
func (pl *PeerLink) RecordSuccess(latency time.Duration, now time.Time) {
	pl.LastSeen = now
	pl.successes++
	if pl.latencyEWMA == 0 {
		pl.latencyEWMA = latency
	} else {
		// standard 1/8 smoothing
		pl.latencyEWMA = pl.latencyEWMA - pl.latencyEWMA/8 + latency/8
	}
}

// RecordFailure registers a failed delivery attempt.
func (pl *PeerLink) RecordFailure() {
	pl.failures++
}

// Quality returns the link's delivery success ratio in [0,1]. A fresh link
// scores 1.
func (pl *PeerLink) Quality() float64 {
	total := pl.successes + pl.failures
	if total == 0 {
		return 1.0
	}
	return float64(pl.successes) / float64(total)
}

// Latency returns the smoothed round-trip estimate.
func (pl *PeerLink) Latency() time.Duration {
	return pl.latencyEWMA
}

// SilentSince reports whether the peer has not been heard from within the
// given window.
func (pl *PeerLink) SilentSince(timeout time.Duration, now time.Time) bool {
	return now.Sub(pl.LastSeen) > timeout
}
