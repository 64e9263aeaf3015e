// Package casper implements CasperFFG: checkpoint derivation for
// attestations, and the justification/finalization state machine that
// advances BeaconState's justified/previousJustified/finalized
// checkpoints as blocks include attestations (spec.md §4.4).
//
// The promotion and garbage-collection shape here is a simplified
// 1-finality rule (two consecutive justified epochs finalize the
// older one), grounded on the bitfield-driven justification/
// finalization machinery in
// beacon-chain/core/epoch/epoch_processing.go's
// ProcessJustificationAndFinalization, adapted from that function's
// multi-epoch bitfield scan to a simpler per-vote promotion triggered
// on every block application rather than once per epoch-boundary
// batch.
package casper

import (
	"github.com/sirupsen/logrus"

	"github.com/ethsim/beaconsim/beacon-chain/types"
)

var log = logrus.WithField("prefix", "casper")

// stateView is the subset of beacon-chain/state's BeaconState that
// CasperFFG needs.
type stateView interface {
	JustifiedCheckpoint() types.Checkpoint
	PreviousJustifiedCheckpoint() types.Checkpoint
	FinalizedCheckpoint() types.Checkpoint
	SetCheckpoints(justified, previousJustified, finalized types.Checkpoint)

	LatestIncludedAttestation(validatorAddress string) (*types.Attestation, bool)
	SetLatestIncludedAttestation(att *types.Attestation)

	VoteCount(epoch uint64, targetRoot [32]byte) int
	AddVote(epoch uint64, targetRoot [32]byte, validatorAddress string)
	RemoveVote(epoch uint64, targetRoot [32]byte, validatorAddress string)
	GCVoteCountsThroughEpoch(upToEpoch uint64)

	FFGThreshold() int
}

// checkpointBlockAt returns the highest canonical block whose slot is
// <= checkpointSlot, scanning the chain genesis-first and keeping the
// last match. It returns the
// zero hash if the chain is empty or every block's slot exceeds
// checkpointSlot (spec.md §4.4).
func checkpointBlockAt(canonicalChain []*types.Block, checkpointSlot uint64) [32]byte {
	var best *types.Block
	for _, b := range canonicalChain {
		if b.Header.Slot <= checkpointSlot {
			best = b
		}
	}
	if best == nil {
		return [32]byte{}
	}
	return best.Hash()
}

// ComputeCheckpoints derives the FFG source and target checkpoints an
// attestation at currentSlot should carry, per spec.md §4.4.
func ComputeCheckpoints(currentSlot uint64, canonicalChain []*types.Block, slotsPerEpoch uint64, s stateView) (source, target types.Checkpoint) {
	targetEpoch := currentSlot / slotsPerEpoch
	target = types.Checkpoint{Epoch: targetEpoch, Root: checkpointBlockAt(canonicalChain, targetEpoch*slotsPerEpoch)}

	source = s.JustifiedCheckpoint()
	if source.IsNull() && source.Epoch == 0 {
		source = types.Checkpoint{Epoch: 0, Root: checkpointBlockAt(canonicalChain, 0)}
	}
	return source, target
}

// ApplyAttestationsToBeaconState processes every FFG-carrying
// attestation included in a block: replaces the validator's prior
// included vote, tallies a new vote toward justification if the
// attestation's source matches the current justified checkpoint, and
// attempts promotion (spec.md §4.4).
func ApplyAttestationsToBeaconState(s stateView, attsInBlock []*types.Attestation) {
	for _, att := range attsInBlock {
		if att.FFGSource == nil || att.FFGTarget == nil {
			continue
		}
		if prior, ok := s.LatestIncludedAttestation(att.ValidatorAddress); ok && prior.FFGTarget != nil {
			s.RemoveVote(prior.FFGTarget.Epoch, prior.FFGTarget.Root, att.ValidatorAddress)
		}
		s.SetLatestIncludedAttestation(att)

		if att.FFGSource.Equal(s.JustifiedCheckpoint()) {
			s.AddVote(att.FFGTarget.Epoch, att.FFGTarget.Root, att.ValidatorAddress)
			attemptJustification(s, *att.FFGTarget)
		}
	}
}

// attemptJustification promotes target to justified if its voter set
// has reached threshold and its epoch exceeds the current justified
// epoch (monotonicity). On promotion it checks the 1-finality
// adjacency rule and garbage-collects vote buckets at or below the new
// finalized epoch.
func attemptJustification(s stateView, target types.Checkpoint) {
	justified := s.JustifiedCheckpoint()
	if target.Epoch <= justified.Epoch {
		return
	}
	if s.VoteCount(target.Epoch, target.Root) < s.FFGThreshold() {
		return
	}

	previousJustified := justified
	newJustified := target
	finalized := s.FinalizedCheckpoint()
	if previousJustified.Epoch+1 == newJustified.Epoch {
		finalized = previousJustified
	}
	s.SetCheckpoints(newJustified, previousJustified, finalized)
	log.WithFields(logrus.Fields{
		"justifiedEpoch": newJustified.Epoch,
		"finalizedEpoch": finalized.Epoch,
	}).Info("Checkpoint justified")

	if finalized.Epoch > 0 || finalized.Root != ([32]byte{}) {
		s.GCVoteCountsThroughEpoch(finalized.Epoch)
	}
}
