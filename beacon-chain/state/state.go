// Package state implements BeaconState: every piece of consensus
// state that does not live inside the BlockTree itself (spec.md
// §4.2). It is the single writer of the attestation pools, RANDAO mix
// history, proposer-schedule cache, and FFG checkpoints; LmdGhost
// writes tree decorations directly on the tree, not here.
//
// The validator-list/threshold shape follows
// beacon-chain/casper/validator.go (InitialValidators,
// ActiveValidatorIndices), generalized from a fixed "Active" status
// enum to this simulator's simpler always-active validator set.
package state

import (
	"sync"
	"time"

	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/mathutil"
	"github.com/ethsim/beaconsim/shared/params"
)

// BeaconState holds the validator set, attestation bookkeeping, RANDAO
// history, proposer schedules, and FFG checkpoints (spec.md §3).
type BeaconState struct {
	mu sync.RWMutex

	validators []*types.Validator

	beaconPool            []*types.Attestation
	processedAttestations map[types.ProcessedKey]struct{}
	latestAttestations    map[string]*types.Attestation

	latestAttestationByValidator map[string]*types.Attestation

	randaoMixes map[uint64][32]byte

	proposerSchedules map[uint64][]string // epoch -> slot-indexed validator address schedule

	justifiedCheckpoint         types.Checkpoint
	previousJustifiedCheckpoint types.Checkpoint
	finalizedCheckpoint         types.Checkpoint

	// ffgVoteCounts[epoch][targetRoot] is the set of validator
	// addresses that have voted for that (epoch, targetRoot) pair with
	// a source matching the justified checkpoint at vote time.
	ffgVoteCounts map[uint64]map[[32]byte]map[string]struct{}
}

// New constructs a BeaconState seeded with the given validator set.
func New(validators []*types.Validator) *BeaconState {
	return &BeaconState{
		validators:                   validators,
		processedAttestations:       make(map[types.ProcessedKey]struct{}),
		latestAttestations:          make(map[string]*types.Attestation),
		latestAttestationByValidator: make(map[string]*types.Attestation),
		randaoMixes:                 make(map[uint64][32]byte),
		proposerSchedules:           make(map[uint64][]string),
		ffgVoteCounts:               make(map[uint64]map[[32]byte]map[string]struct{}),
	}
}

// Validators returns the active validator set.
func (s *BeaconState) Validators() []*types.Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validators
}

// ValidatorCount is |validators|, used by the FFG threshold and by
// RANDAO proposer selection.
func (s *BeaconState) ValidatorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.validators)
}

// StakeOf returns the stake of the named validator, or 0 if unknown.
func (s *BeaconState) StakeOf(nodeAddress string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.validators {
		if v.NodeAddress == nodeAddress {
			return v.StakedEth
		}
	}
	return 0
}

// FFGThreshold returns ceil(2*|validators|/3), the minimum voter-set
// size for justification (spec.md §4.2).
func (s *BeaconState) FFGThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mathutil.CeilDiv(2*len(s.validators), 3)
}

// AddAttestationToPool appends att to the beacon pool unless its
// (blockHash, validatorAddress) pair is already processed. Duplicates
// within the pool itself are harmless since inclusion dedups against
// processedAttestations (spec.md §4.2).
func (s *BeaconState) AddAttestationToPool(att *types.Attestation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.processedAttestations[att.Key()]; done {
		return false
	}
	s.beaconPool = append(s.beaconPool, att)
	return true
}

// BeaconPool returns a snapshot of the unprocessed attestation pool.
func (s *BeaconState) BeaconPool() []*types.Attestation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Attestation, len(s.beaconPool))
	copy(out, s.beaconPool)
	return out
}

// MarkAttestationAsProcessed records that (blockHash, validatorAddress)
// has been included in a block.
func (s *BeaconState) MarkAttestationAsProcessed(blockHash [32]byte, validatorAddress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedAttestations[types.ProcessedKey{BlockHash: blockHash, ValidatorAddress: validatorAddress}] = struct{}{}
}

// RemoveFromPool drops every pool entry matching (blockHash,
// validatorAddress); called once a block including that attestation is
// applied (spec.md §4.5).
func (s *BeaconState) RemoveFromPool(blockHash [32]byte, validatorAddress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.beaconPool[:0]
	for _, att := range s.beaconPool {
		if att.BlockHash == blockHash && att.ValidatorAddress == validatorAddress {
			continue
		}
		filtered = append(filtered, att)
	}
	s.beaconPool = filtered
}

// ClearProcessedAttestations empties the processed-attestation set;
// used during reorg state rebuild (spec.md §4.2, §4.5).
func (s *BeaconState) ClearProcessedAttestations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedAttestations = make(map[types.ProcessedKey]struct{})
}

// ClearRandaoState empties the RANDAO mix history; used during reorg
// state rebuild.
func (s *BeaconState) ClearRandaoState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.randaoMixes = make(map[uint64][32]byte)
}

// LatestAttestation returns the newest attestation observed from
// validatorAddress (from any source, included or not), and whether one
// exists.
func (s *BeaconState) LatestAttestation(validatorAddress string) (*types.Attestation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.latestAttestations[validatorAddress]
	return att, ok
}

// LatestAttestations returns a snapshot of the full latest-attestation
// map, keyed by validator address. LmdGhost reads this map, per the
// Open Question resolution in spec.md §9.
func (s *BeaconState) LatestAttestations() map[string]*types.Attestation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.Attestation, len(s.latestAttestations))
	for k, v := range s.latestAttestations {
		out[k] = v
	}
	return out
}

// SetLatestAttestation records att as validatorAddress's newest
// observed attestation; it is the caller's responsibility (see
// beacon-chain/blockchain) to reject stale attestations before calling
// this.
func (s *BeaconState) SetLatestAttestation(att *types.Attestation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestAttestations[att.ValidatorAddress] = att
}

// LatestIncludedAttestation returns the latest attestation from
// validatorAddress that has actually been included in a block, as
// distinct from LatestAttestation which tracks everything observed
// (spec.md §3).
func (s *BeaconState) LatestIncludedAttestation(validatorAddress string) (*types.Attestation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.latestAttestationByValidator[validatorAddress]
	return att, ok
}

// SetLatestIncludedAttestation records att as validatorAddress's latest
// block-included attestation.
func (s *BeaconState) SetLatestIncludedAttestation(att *types.Attestation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestAttestationByValidator[att.ValidatorAddress] = att
}

// RandaoMix returns the mix recorded for epoch, and whether it has
// been set yet.
func (s *BeaconState) RandaoMix(epoch uint64) ([32]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mix, ok := s.randaoMixes[epoch]
	return mix, ok
}

// SetRandaoMix records the mix for epoch.
func (s *BeaconState) SetRandaoMix(epoch uint64, mix [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.randaoMixes[epoch] = mix
}

// ProposerSchedule returns the cached slot->validator-address schedule
// for epoch, and whether it has been computed yet.
func (s *BeaconState) ProposerSchedule(epoch uint64) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.proposerSchedules[epoch]
	return sched, ok
}

// SetProposerSchedule caches a computed schedule for epoch.
func (s *BeaconState) SetProposerSchedule(epoch uint64, schedule []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposerSchedules[epoch] = schedule
}

// JustifiedCheckpoint returns the current justified checkpoint.
func (s *BeaconState) JustifiedCheckpoint() types.Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.justifiedCheckpoint
}

// PreviousJustifiedCheckpoint returns the checkpoint justified prior to
// the current one.
func (s *BeaconState) PreviousJustifiedCheckpoint() types.Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previousJustifiedCheckpoint
}

// FinalizedCheckpoint returns the current finalized checkpoint.
func (s *BeaconState) FinalizedCheckpoint() types.Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalizedCheckpoint
}

// SetCheckpoints installs the three checkpoints atomically; used by
// beacon-chain/casper after a promotion decision.
func (s *BeaconState) SetCheckpoints(justified, previousJustified, finalized types.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.justifiedCheckpoint = justified
	s.previousJustifiedCheckpoint = previousJustified
	s.finalizedCheckpoint = finalized
}

// VoteCount returns the number of distinct validators that have voted
// for (epoch, targetRoot) with a matching source.
func (s *BeaconState) VoteCount(epoch uint64, targetRoot [32]byte) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTarget, ok := s.ffgVoteCounts[epoch]
	if !ok {
		return 0
	}
	return len(byTarget[targetRoot])
}

// AddVote records validatorAddress's vote for (epoch, targetRoot).
func (s *BeaconState) AddVote(epoch uint64, targetRoot [32]byte, validatorAddress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTarget, ok := s.ffgVoteCounts[epoch]
	if !ok {
		byTarget = make(map[[32]byte]map[string]struct{})
		s.ffgVoteCounts[epoch] = byTarget
	}
	voters, ok := byTarget[targetRoot]
	if !ok {
		voters = make(map[string]struct{})
		byTarget[targetRoot] = voters
	}
	voters[validatorAddress] = struct{}{}
}

// RemoveVote removes validatorAddress's vote for (epoch, targetRoot),
// garbage-collecting the bucket if it becomes empty.
func (s *BeaconState) RemoveVote(epoch uint64, targetRoot [32]byte, validatorAddress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTarget, ok := s.ffgVoteCounts[epoch]
	if !ok {
		return
	}
	voters, ok := byTarget[targetRoot]
	if !ok {
		return
	}
	delete(voters, validatorAddress)
	if len(voters) == 0 {
		delete(byTarget, targetRoot)
	}
	if len(byTarget) == 0 {
		delete(s.ffgVoteCounts, epoch)
	}
}

// GCVoteCountsThroughEpoch deletes every vote-count bucket at or below
// upToEpoch (inclusive), called after finalization advances (spec.md
// §4.4).
func (s *BeaconState) GCVoteCountsThroughEpoch(upToEpoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for epoch := range s.ffgVoteCounts {
		if epoch <= upToEpoch {
			delete(s.ffgVoteCounts, epoch)
		}
	}
}

// GetCurrentSlot computes floor((now-genesisTime)/SECONDS_PER_SLOT).
func GetCurrentSlot(genesisTime, now time.Time) uint64 {
	secondsPerSlot := params.BeaconConfig().SecondsPerSlot
	elapsed := now.Sub(genesisTime)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed.Seconds()) / uint64(secondsPerSlot)
}

// GetEpoch returns floor(slot/SLOTS_PER_EPOCH).
func GetEpoch(slot uint64) uint64 {
	return slot / uint64(params.BeaconConfig().SlotsPerEpoch)
}

// IsFirstSlotOfEpoch reports whether slot starts a new epoch.
func IsFirstSlotOfEpoch(slot uint64) bool {
	return slot%uint64(params.BeaconConfig().SlotsPerEpoch) == 0
}

// StartSlot returns the first slot of epoch.
func StartSlot(epoch uint64) uint64 {
	return epoch * uint64(params.BeaconConfig().SlotsPerEpoch)
}
