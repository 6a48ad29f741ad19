package node

import (
	"fmt"

	cm "github.com/fieldmesh/fieldmesh/src/common"
	"github.com/fieldmesh/fieldmesh/src/ledger"
	"github.com/fieldmesh/fieldmesh/src/mesh"
	"github.com/fieldmesh/fieldmesh/src/net"
	"github.com/fieldmesh/fieldmesh/src/peers"
	"github.com/sirupsen/logrus"
)

// rpcSender adapts the transport's Gossip RPC to the router's Sender
// interface. Transport failures surface as PeerUnreachable so the queue's
// retry machinery can tell them apart from hard errors.
type rpcSender struct {
	localID uint32
	trans   net.Transport
}

func (s *rpcSender) SendMessage(target *peers.Peer, msg *mesh.Message) error {
	args := net.GossipRequest{
		FromID:  s.localID,
		Message: *msg,
	}

	var out net.GossipResponse

	if err := s.trans.Gossip(target.NetAddr, &args, &out); err != nil {
		return cm.NewErr("sender", cm.PeerUnreachable, target.NetAddr)
	}

	return nil
}

func (n *Node) requestHeartbeat(target string) (net.HeartbeatResponse, error) {
	index, hash := n.core.TipSummary()

	args := net.HeartbeatRequest{
		FromID:    n.validator.ID(),
		State:     n.getState().String(),
		Lamport:   n.core.Clock().Lamport(),
		LastIndex: index,
		LastHash:  hash,
	}

	var out net.HeartbeatResponse

	err := n.trans.Heartbeat(target, &args, &out)

	return out, err
}

func (n *Node) requestPull(target string, fromIndex int) (net.PullResponse, error) {
	n.logger.WithFields(logrus.Fields{
		"target":     target,
		"from_index": fromIndex,
	}).Debug("RequestPull()")

	args := net.PullRequest{
		FromID:    n.validator.ID(),
		FromIndex: fromIndex,
	}

	var out net.PullResponse

	err := n.trans.Pull(target, &args, &out)

	return out, err
}

func (n *Node) requestAdopt(target string, forkIndex int, blocks []*ledger.Block) (net.AdoptResponse, error) {
	n.logger.WithFields(logrus.Fields{
		"target":     target,
		"fork_index": forkIndex,
		"blocks":     len(blocks),
	}).Debug("RequestAdopt()")

	args := net.AdoptRequest{
		FromID:    n.validator.ID(),
		ForkIndex: forkIndex,
		Blocks:    blocks,
	}

	var out net.AdoptResponse

	err := n.trans.Adopt(target, &args, &out)

	return out, err
}

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.GossipRequest:
		n.processGossipRequest(rpc, cmd)
	case *net.HeartbeatRequest:
		n.processHeartbeatRequest(rpc, cmd)
	case *net.PullRequest:
		n.processPullRequest(rpc, cmd)
	case *net.AdoptRequest:
		n.processAdoptRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processGossipRequest(rpc net.RPC, cmd *net.GossipRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"msg_id":  cmd.Message.ID,
	}).Debug("process GossipRequest")

	if ok, err := cmd.Message.Verify(n.verifier); err != nil || !ok {
		n.logger.WithFields(logrus.Fields{
			"msg_id": cmd.Message.ID,
			"sender": cmd.Message.Sender,
		}).Warn("Rejecting message with invalid signature")
		rpc.Respond(&net.GossipResponse{FromID: n.validator.ID()},
			fmt.Errorf("message %s: invalid signature", cmd.Message.ID))
		return
	}

	n.coreLock.Lock()
	_, fresh, block, err := n.core.ReceiveMessage(&cmd.Message)
	n.coreLock.Unlock()

	resp := &net.GossipResponse{
		FromID: n.validator.ID(),
		Seen:   !fresh,
	}

	if err != nil {
		n.logger.WithError(err).Error("Failed to process gossip")
		rpc.Respond(resp, err)
		return
	}

	if fresh {
		n.emit(Event{Kind: LedgerAppended, Block: block})
	}

	rpc.Respond(resp, nil)
}

func (n *Node) processHeartbeatRequest(rpc net.RPC, cmd *net.HeartbeatRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id":    cmd.FromID,
		"last_index": cmd.LastIndex,
	}).Debug("process HeartbeatRequest")

	// inbound traffic from a configured peer revives its link
	if peer, ok := n.core.peers.ByID[cmd.FromID]; ok {
		n.core.Router().AddPeer(peer)
		n.core.Router().Touch(peer.ID())

		if n.tipDiverges(cmd.LastIndex, cmd.LastHash) {
			n.startResync(peer.NetAddr, nil)
		}
	}

	index, hash := n.core.TipSummary()

	resp := &net.HeartbeatResponse{
		FromID:    n.validator.ID(),
		State:     n.getState().String(),
		Lamport:   n.core.Clock().Lamport(),
		LastIndex: index,
		LastHash:  hash,
	}

	rpc.Respond(resp, nil)
}

func (n *Node) processPullRequest(rpc net.RPC, cmd *net.PullRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id":    cmd.FromID,
		"from_index": cmd.FromIndex,
	}).Debug("process PullRequest")

	resp := &net.PullResponse{
		FromID: n.validator.ID(),
	}

	blocks, err := n.core.Ledger().Store().Blocks(cmd.FromIndex)
	if err != nil {
		rpc.Respond(resp, err)
		return
	}

	index, _ := n.core.TipSummary()
	resp.LastIndex = index
	resp.Blocks = blocks

	rpc.Respond(resp, nil)
}

// processAdoptRequest re-runs the merge on the receiving side rather than
// trusting the proposed chain: an honest proposal merges to itself, anything
// else is refused.
func (n *Node) processAdoptRequest(rpc net.RPC, cmd *net.AdoptRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id":    cmd.FromID,
		"fork_index": cmd.ForkIndex,
		"blocks":     len(cmd.Blocks),
	}).Debug("process AdoptRequest")

	resp := &net.AdoptResponse{
		FromID: n.validator.ID(),
	}

	if err := n.verifyChain(cmd.Blocks); err != nil {
		n.logger.WithError(err).Warn("Refusing proposed chain")
		rpc.Respond(resp, err)
		return
	}

	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	local, err := n.core.Chain()
	if err != nil {
		rpc.Respond(resp, err)
		return
	}

	canonical, report, err := n.reconciler.Merge(local, cmd.Blocks)
	if err != nil {
		n.logger.WithError(err).Warn("Refusing proposed chain")
		rpc.Respond(resp, err)
		return
	}

	if err := n.adoptCanonical(local, canonical); err != nil {
		rpc.Respond(resp, err)
		return
	}

	n.core.AddConflicts(report.Conflicts)
	for i := range report.Conflicts {
		n.emit(Event{Kind: ConflictDetected, Conflict: &report.Conflicts[i]})
	}

	resp.Accepted = true
	rpc.Respond(resp, nil)
}
