package consensus

import (
	"testing"

	"github.com/ethsim/beaconsim/beacon-chain/state"
	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/params"
)

func newMinimalState(t *testing.T) *state.BeaconState {
	t.Helper()
	params.OverrideBeaconConfig(params.MinimalConfig())
	t.Cleanup(func() { params.OverrideBeaconConfig(params.MainnetConfig()) })
	s := state.New([]*types.Validator{
		{NodeAddress: "v0", StakedEth: 32},
		{NodeAddress: "v1", StakedEth: 32},
		{NodeAddress: "v2", StakedEth: 32},
	})
	s.SetRandaoMix(0, [32]byte{7})
	return s
}

func TestProposerForSlot_DeferredWithoutRandaoMix(t *testing.T) {
	params.OverrideBeaconConfig(params.MinimalConfig())
	t.Cleanup(func() { params.OverrideBeaconConfig(params.MainnetConfig()) })
	s := state.New([]*types.Validator{{NodeAddress: "v0", StakedEth: 32}})

	if _, ok := ProposerForSlot(s, 0); ok {
		t.Fatal("expected proposer resolution to be deferred without a RANDAO mix")
	}
}

func TestProposerForSlot_DeterministicAndCached(t *testing.T) {
	s := newMinimalState(t)

	first, ok := ProposerForSlot(s, 2)
	if !ok {
		t.Fatal("expected a resolvable proposer")
	}
	second, ok := ProposerForSlot(s, 2)
	if !ok || second != first {
		t.Fatalf("expected the same proposer on repeated calls, got %q then %q", first, second)
	}

	schedule, ok := s.ProposerSchedule(0)
	if !ok || len(schedule) != int(params.BeaconConfig().SlotsPerEpoch) {
		t.Fatalf("expected a cached full-epoch schedule, got %v", schedule)
	}
}

func TestProposerForSlot_DifferentEpochsCanDiffer(t *testing.T) {
	s := newMinimalState(t)
	s.SetRandaoMix(1, [32]byte{9})

	epoch0Proposer, _ := ProposerForSlot(s, 0)
	epoch1Proposer, _ := ProposerForSlot(s, params.BeaconConfig().SlotsPerEpoch)

	if _, ok := s.ProposerSchedule(0); !ok {
		t.Fatal("expected epoch 0 schedule to be cached")
	}
	if _, ok := s.ProposerSchedule(1); !ok {
		t.Fatal("expected epoch 1 schedule to be cached")
	}
	_ = epoch0Proposer
	_ = epoch1Proposer
}
