// Package forkchoice implements LmdGhost, the Latest-Message-Driven
// Greediest-Heaviest-Observed-SubTree fork-choice rule (spec.md §4.3).
// It decorates beacon-chain/tree's BlockTree with attested-weight and
// computes the canonical head from that decoration.
//
// The recursive heaviest-child walk is grounded on lmdGhost in
// beacon-chain/blockchain/fork_choice.go, which walks from a start
// block to a head by repeatedly choosing the heaviest child until a
// leaf is reached. This package departs from that function's per-call
// vote recount (VoteCount walks every attestation target on every
// call) in favor of incremental weight decoration, because spec.md
// §4.3 requires attestedEth to be maintained as a running decoration
// rather than recomputed from scratch on every head query.
package forkchoice

import (
	"github.com/sirupsen/logrus"

	"github.com/ethsim/beaconsim/beacon-chain/tree"
	"github.com/ethsim/beaconsim/beacon-chain/types"
)

var log = logrus.WithField("prefix", "forkchoice")

// stateView is the subset of beacon-chain/state's BeaconState that
// LmdGhost needs: stake lookups for weight attribution. A narrow
// interface (rather than importing the concrete state type) keeps
// this package decoupled from BeaconState's attestation-pool and FFG
// bookkeeping, which LmdGhost never touches.
type stateView interface {
	StakeOf(nodeAddress string) uint64
}

// OnLatestAttestChange moves a validator's weight contribution from
// oldAtt's block to newAtt's block, walking each ancestor chain up to
// the null-root (spec.md §4.3). Either endpoint may be nil (first
// attestation ever seen, or a target not yet in the tree); both walks
// are skipped if their starting hash is unknown in t, since the
// referenced block may arrive later and trigger OnNewBlock instead.
//
// A walk is also skipped when its target node is already invalid: an
// invalidated block's own weight (and whatever it already contributed
// to its ancestors) was zeroed out by MarkNodeInvalid, and attestedEth
// must stay the sum of stakes attributed to the valid subtree only
// (spec.md §4.3 invariant 1), so a vote naming a dead block must never
// add or remove weight anywhere.
func OnLatestAttestChange(s stateView, t *tree.BlockTree, oldAtt, newAtt *types.Attestation) {
	if oldAtt != nil && (newAtt == nil || oldAtt.BlockHash != newAtt.BlockHash) {
		stake := s.StakeOf(oldAtt.ValidatorAddress)
		if idx, ok := t.IndexOf(oldAtt.BlockHash); ok && !t.NodeAt(idx).Metadata.IsInvalid {
			for _, a := range t.Ancestors(idx) {
				t.DecrementWeight(a, stake)
			}
		}
	}
	if newAtt != nil && (oldAtt == nil || oldAtt.BlockHash != newAtt.BlockHash) {
		stake := s.StakeOf(newAtt.ValidatorAddress)
		if idx, ok := t.IndexOf(newAtt.BlockHash); ok && !t.NodeAt(idx).Metadata.IsInvalid {
			for _, a := range t.Ancestors(idx) {
				t.IncrementWeight(a, stake)
			}
		}
	}
}

// OnNewBlock applies pending weight for every validator whose latest
// attestation already names block.Hash() but arrived before the block
// itself did (spec.md §4.3: attestations to unknown blocks are
// retained without weight effect until the block arrives).
func OnNewBlock(block *types.Block, t *tree.BlockTree, s stateView, latestAttestations map[string]*types.Attestation) {
	hash := block.Hash()
	idx, ok := t.IndexOf(hash)
	if !ok {
		return
	}
	ancestors := t.Ancestors(idx)
	for _, att := range latestAttestations {
		if att.BlockHash != hash {
			continue
		}
		stake := s.StakeOf(att.ValidatorAddress)
		for _, a := range ancestors {
			t.IncrementWeight(a, stake)
		}
	}
}

// OnAttestationSetChanged applies a batch of (old, new) attestation
// transitions, then recomputes and installs the ghost head. All three
// steps (weight update, redecoration, head recompute) form a single
// atomic step from the perspective of any observer, per spec.md §4.3.
func OnAttestationSetChanged(s stateView, t *tree.BlockTree, transitions []Transition) {
	for _, tr := range transitions {
		OnLatestAttestChange(s, t, tr.Old, tr.New)
	}
	_ = t.SetGhostHeadIndex(ComputeGhostHead(t))
}

// Transition is one validator's latest-attestation change, passed to
// OnAttestationSetChanged.
type Transition struct {
	Old *types.Attestation
	New *types.Attestation
}

// ComputeGhostHead walks from the null-root, at every step choosing
// the valid child with the greatest attestedEth. A tie among the
// maximum halts the walk at the current (parent) node rather than
// picking arbitrarily, per spec.md §4.3: "GHOST deliberately halts at
// ambiguity to avoid oscillation." A node with no valid children is
// itself the head.
func ComputeGhostHead(t *tree.BlockTree) tree.NodeIndex {
	current := tree.NullRootIndex
	for {
		children := t.ValidChildren(current)
		if len(children) == 0 {
			return current
		}
		best := children[0]
		bestWeight := t.NodeAt(best).Metadata.AttestedEth
		tied := false
		for _, c := range children[1:] {
			w := t.NodeAt(c).Metadata.AttestedEth
			if w > bestWeight {
				best = c
				bestWeight = w
				tied = false
			} else if w == bestWeight {
				tied = true
			}
		}
		if tied {
			return current
		}
		current = best
	}
}

// MarkNodeInvalid marks hash invalid and subtracts its attestedEth
// from every ancestor up to the null-root, preserving the invariant
// that attestedEth equals the sum of stakes of latest attestations in
// the valid subtree (spec.md §4.3). It then recomputes and installs
// the ghost head, since invalidation may move it. It reports whether
// hash was known.
func MarkNodeInvalid(t *tree.BlockTree, hash [32]byte) bool {
	idx, ok := t.IndexOf(hash)
	if !ok {
		return false
	}
	node := t.NodeAt(idx)
	amount := node.Metadata.AttestedEth
	t.SetInvalid(idx)
	if amount > 0 {
		for _, a := range t.Ancestors(idx) {
			if a == idx {
				continue
			}
			t.DecrementWeight(a, amount)
		}
	}
	head := ComputeGhostHead(t)
	if head == tree.NullRootIndex {
		log.Warn("Ghost head computation returned null-root after invalidation")
	}
	_ = t.SetGhostHeadIndex(head)
	return true
}
