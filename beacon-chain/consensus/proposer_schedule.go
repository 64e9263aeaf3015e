package consensus

import (
	"github.com/ethsim/beaconsim/beacon-chain/randao"
	"github.com/ethsim/beaconsim/beacon-chain/state"
	"github.com/ethsim/beaconsim/shared/params"
)

// ensureProposerSchedule computes and caches epoch's slot-indexed
// proposer schedule if it is not already cached, per spec.md §4.6
// step 2. It reports false (schedule deferred) when epoch's RANDAO mix
// has not been applied yet, matching spec.md §7's "mismatched RANDAO
// mix ... schedule deferred until the prerequisite block is applied".
func ensureProposerSchedule(s *state.BeaconState, epoch uint64) bool {
	if _, ok := s.ProposerSchedule(epoch); ok {
		return true
	}
	mix, ok := s.RandaoMix(epoch)
	if !ok {
		return false
	}

	validators := s.Validators()
	slotsPerEpoch := params.BeaconConfig().SlotsPerEpoch
	startSlot := state.StartSlot(epoch)

	schedule := make([]string, slotsPerEpoch)
	for i := uint64(0); i < slotsPerEpoch; i++ {
		slot := startSlot + i
		idx := randao.ComputeProposerIndex(mix, slot, len(validators))
		schedule[i] = validators[idx].NodeAddress
	}
	s.SetProposerSchedule(epoch, schedule)
	return true
}

// ProposerForSlot resolves slot's proposer via the epoch schedule,
// computing and caching the schedule first if needed. It returns false
// if the schedule cannot yet be computed (spec.md §4.6, §7).
func ProposerForSlot(s *state.BeaconState, slot uint64) (string, bool) {
	epoch := state.GetEpoch(slot)
	if !ensureProposerSchedule(s, epoch) {
		return "", false
	}
	schedule, _ := s.ProposerSchedule(epoch)
	slotsPerEpoch := params.BeaconConfig().SlotsPerEpoch
	return schedule[slot%slotsPerEpoch], true
}
