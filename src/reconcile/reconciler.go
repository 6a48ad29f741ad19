package reconcile

import (
	"sort"
	"time"

	"github.com/fieldmesh/fieldmesh/src/clock"
	cm "github.com/fieldmesh/fieldmesh/src/common"
	"github.com/fieldmesh/fieldmesh/src/crypto"
	"github.com/fieldmesh/fieldmesh/src/ledger"
	"github.com/sirupsen/logrus"
)

// Reconciler merges a local and a remote chain into one canonical chain.
// Re-chained blocks get a new previous-hash and are therefore counter-signed
// by the reconciling node; the Creator field keeps the original attribution.
type Reconciler struct {
	localID uint32
	signer  ledger.Signer
	logger  *logrus.Entry
}

// NewReconciler creates a Reconciler signing re-chained blocks on behalf of
// the given node.
func NewReconciler(localID uint32, signer ledger.Signer, logger *logrus.Entry) *Reconciler {
	return &Reconciler{
		localID: localID,
		signer:  signer,
		logger:  logger.WithField("component", "reconciler"),
	}
}

// Merge validates both chains, locates the fork point and returns the
// canonical chain along with a report of what was decided. The merge is pure:
// neither input is mutated, so a caller can abort at any point before
// adopting the result.
//
// Chains that do not share a genesis block were never the same ledger; they
// cannot be merged and the call fails with a DivergentLedger error.
func (r *Reconciler) Merge(local, remote []*ledger.Block) ([]*ledger.Block, *Report, error) {
	if err := ledger.Validate(local); err != nil {
		return nil, nil, err
	}
	if err := ledger.Validate(remote); err != nil {
		return nil, nil, err
	}

	report := &Report{
		ForkIndex:    ledger.NoFork,
		LocalBlocks:  len(local),
		RemoteBlocks: len(remote),
	}

	// an empty side adopts the other wholesale
	if len(local) == 0 {
		return remote, report, nil
	}
	if len(remote) == 0 {
		return local, report, nil
	}

	forkIndex, err := ledger.Diff(local, remote)
	if err != nil {
		return nil, nil, err
	}

	if forkIndex == 0 {
		return nil, nil, cm.NewErr("Reconcile", cm.DivergentLedger, "genesis")
	}

	if forkIndex == ledger.NoFork {
		// one chain is a prefix of the other: the longer one is canonical
		canonical := local
		if len(remote) > len(local) {
			canonical = remote
		}
		return canonical, report, nil
	}

	report.ForkIndex = forkIndex

	prefix := local[:forkIndex]
	suffixLocal := local[forkIndex:]
	suffixRemote := remote[forkIndex:]

	report.Conflicts = r.recordConflicts(forkIndex, suffixLocal, suffixRemote)

	merged := mergeSuffixes(suffixLocal, suffixRemote)

	rechained, err := r.rechain(prefix, merged)
	if err != nil {
		return nil, nil, err
	}
	report.Merged = len(rechained)

	canonical := make([]*ledger.Block, 0, len(prefix)+len(rechained))
	canonical = append(canonical, prefix...)
	canonical = append(canonical, rechained...)

	if err := ledger.Validate(canonical); err != nil {
		return nil, nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"fork_index": forkIndex,
		"merged":     len(rechained),
		"conflicts":  len(report.Conflicts),
	}).Debug("Merged divergent chains")

	return canonical, report, nil
}

// recordConflicts pairs up the blocks that competed for the same index and
// notes which side the total order favoured.
func (r *Reconciler) recordConflicts(forkIndex int, suffixLocal, suffixRemote []*ledger.Block) []Conflict {
	limit := len(suffixLocal)
	if len(suffixRemote) < limit {
		limit = len(suffixRemote)
	}

	conflicts := make([]Conflict, 0, limit)
	for i := 0; i < limit; i++ {
		winner, loser := suffixLocal[i], suffixRemote[i]
		if !blockLess(winner, loser) {
			winner, loser = loser, winner
		}

		winnerHash, err := winner.Hash()
		if err != nil {
			continue
		}
		loserHash, err := loser.Hash()
		if err != nil {
			continue
		}

		conflicts = append(conflicts, Conflict{
			Index:         forkIndex + i,
			WinnerHash:    winnerHash,
			WinnerCreator: winner.Creator(),
			LoserHash:     loserHash,
			LoserCreator:  loser.Creator(),
			Reason:        ReasonTotalOrder,
			ResolvedAt:    time.Now().UTC(),
		})
	}

	return conflicts
}

// mergeSuffixes interleaves the two divergent suffixes into total order.
// Blocks recording the same payload on both sides are the same logical entry
// witnessed twice; only one survives, and the total order picks which so
// that merging is direction-independent.
func mergeSuffixes(suffixLocal, suffixRemote []*ledger.Block) []*ledger.Block {
	byPayload := make(map[string]*ledger.Block)

	for _, b := range append(append([]*ledger.Block{}, suffixLocal...), suffixRemote...) {
		payload, err := b.PayloadHash()
		if err != nil {
			continue
		}
		if cur, ok := byPayload[payload]; !ok || blockLess(b, cur) {
			byPayload[payload] = b
		}
	}

	merged := make([]*ledger.Block, 0, len(byPayload))
	for _, b := range byPayload {
		merged = append(merged, b)
	}

	sort.Slice(merged, func(i, j int) bool {
		return blockLess(merged[i], merged[j])
	})

	return merged
}

// rechain rebuilds the merged blocks on top of the common prefix. Content,
// attribution and logical timestamps are retained; index and previous-hash
// are reassigned, which invalidates the original signature, so each block is
// counter-signed by the reconciler.
func (r *Reconciler) rechain(prefix, merged []*ledger.Block) ([]*ledger.Block, error) {
	prevHash := crypto.ZeroHash
	index := 0

	if len(prefix) > 0 {
		tip := prefix[len(prefix)-1]
		index = tip.Index() + 1

		var err error
		prevHash, err = tip.Hash()
		if err != nil {
			return nil, err
		}
	}

	rechained := make([]*ledger.Block, 0, len(merged))
	for _, b := range merged {
		nb := ledger.NewBlock(index, prevHash, b.Creator(), b.Lamport(), b.Body.Vector, b.Transactions())

		if r.signer != nil {
			if err := nb.Sign(r.signer); err != nil {
				return nil, err
			}
			nb.SignedBy = r.localID
		}

		var err error
		prevHash, err = nb.Hash()
		if err != nil {
			return nil, err
		}

		rechained = append(rechained, nb)
		index++
	}

	return rechained, nil
}

// blockLess is the total order used during reconciliation: Lamport time
// first, creator ID breaking ties.
func blockLess(a, b *ledger.Block) bool {
	return clock.TotalOrderLess(a.Lamport(), a.Creator(), b.Lamport(), b.Creator())
}
