package casper

import (
	"testing"

	"github.com/ethsim/beaconsim/beacon-chain/state"
	"github.com/ethsim/beaconsim/beacon-chain/types"
)

func threeValidators() []*types.Validator {
	return []*types.Validator{
		{NodeAddress: "v0", StakedEth: 32},
		{NodeAddress: "v1", StakedEth: 32},
		{NodeAddress: "v2", StakedEth: 32},
	}
}

func attestFor(validator string, source, target types.Checkpoint) *types.Attestation {
	s, tgt := source, target
	return &types.Attestation{ValidatorAddress: validator, FFGSource: &s, FFGTarget: &tgt}
}

// Scenario E (spec.md §8): 3 validators unanimously vote
// source=(0,rootE0) target=(1,rootE1); threshold is ceil(2*3/3)=2, so
// 3 votes justify epoch 1 and, since epoch 0 was the prior justified
// checkpoint, finalize epoch 0 under the 1-finality rule.
func TestScenarioE_JustificationAndFinalization(t *testing.T) {
	s := state.New(threeValidators())

	rootE0 := [32]byte{0xe0}
	rootE1 := [32]byte{0xe1}
	source := types.Checkpoint{Epoch: 0, Root: rootE0}
	target := types.Checkpoint{Epoch: 1, Root: rootE1}

	s.SetCheckpoints(source, types.Checkpoint{}, types.Checkpoint{})

	atts := []*types.Attestation{
		attestFor("v0", source, target),
		attestFor("v1", source, target),
		attestFor("v2", source, target),
	}
	ApplyAttestationsToBeaconState(s, atts)

	if got := s.JustifiedCheckpoint(); !got.Equal(target) {
		t.Fatalf("expected justified checkpoint %+v, got %+v", target, got)
	}
	if got := s.PreviousJustifiedCheckpoint(); !got.Equal(source) {
		t.Fatalf("expected previous justified checkpoint %+v, got %+v", source, got)
	}
	if got := s.FinalizedCheckpoint(); !got.Equal(source) {
		t.Fatalf("expected finalized checkpoint %+v, got %+v", source, got)
	}
}

func TestJustification_BelowThresholdDoesNotJustify(t *testing.T) {
	s := state.New(threeValidators())
	rootE0 := [32]byte{0xe0}
	rootE1 := [32]byte{0xe1}
	source := types.Checkpoint{Epoch: 0, Root: rootE0}
	target := types.Checkpoint{Epoch: 1, Root: rootE1}
	s.SetCheckpoints(source, types.Checkpoint{}, types.Checkpoint{})

	// Only 1 of 3 validators votes; threshold is 2.
	ApplyAttestationsToBeaconState(s, []*types.Attestation{attestFor("v0", source, target)})

	if got := s.JustifiedCheckpoint(); !got.Equal(source) {
		t.Fatalf("expected justified checkpoint to remain %+v, got %+v", source, got)
	}
}

func TestJustification_ExactThresholdJustifies(t *testing.T) {
	s := state.New(threeValidators())
	rootE0 := [32]byte{0xe0}
	rootE1 := [32]byte{0xe1}
	source := types.Checkpoint{Epoch: 0, Root: rootE0}
	target := types.Checkpoint{Epoch: 1, Root: rootE1}
	s.SetCheckpoints(source, types.Checkpoint{}, types.Checkpoint{})

	// Exactly ceil(2*3/3)=2 votes.
	ApplyAttestationsToBeaconState(s, []*types.Attestation{
		attestFor("v0", source, target),
		attestFor("v1", source, target),
	})

	if got := s.JustifiedCheckpoint(); !got.Equal(target) {
		t.Fatalf("expected justification at exact threshold, got %+v", got)
	}
}

func TestApplyAttestations_MismatchedSourceNotCounted(t *testing.T) {
	s := state.New(threeValidators())
	rootE0 := [32]byte{0xe0}
	rootWrong := [32]byte{0xff}
	rootE1 := [32]byte{0xe1}
	justified := types.Checkpoint{Epoch: 0, Root: rootE0}
	s.SetCheckpoints(justified, types.Checkpoint{}, types.Checkpoint{})

	wrongSource := types.Checkpoint{Epoch: 0, Root: rootWrong}
	target := types.Checkpoint{Epoch: 1, Root: rootE1}

	ApplyAttestationsToBeaconState(s, []*types.Attestation{
		attestFor("v0", wrongSource, target),
		attestFor("v1", wrongSource, target),
		attestFor("v2", wrongSource, target),
	})

	if got := s.JustifiedCheckpoint(); !got.Equal(justified) {
		t.Fatalf("expected no justification from mismatched-source votes, got %+v", got)
	}
	// Still recorded as each validator's latest included attestation.
	if _, ok := s.LatestIncludedAttestation("v0"); !ok {
		t.Fatalf("expected mismatched-source attestation to still be recorded as latest included")
	}
}

func TestCheckpointBlockAt_EmptyChainReturnsZeroHash(t *testing.T) {
	got := checkpointBlockAt(nil, 0)
	if got != ([32]byte{}) {
		t.Fatalf("expected zero hash for empty chain, got %x", got)
	}
}
