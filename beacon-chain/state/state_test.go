package state

import (
	"testing"
	"time"

	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/params"
)

func threeValidators() []*types.Validator {
	return []*types.Validator{
		{NodeAddress: "v0", StakedEth: 32},
		{NodeAddress: "v1", StakedEth: 32},
		{NodeAddress: "v2", StakedEth: 32},
	}
}

func TestFFGThreshold_CeilTwoThirds(t *testing.T) {
	s := New(threeValidators())
	if got := s.FFGThreshold(); got != 2 {
		t.Fatalf("expected threshold 2 for 3 validators, got %d", got)
	}
}

func TestAddAttestationToPool_RejectsProcessed(t *testing.T) {
	s := New(threeValidators())
	att := &types.Attestation{ValidatorAddress: "v0", BlockHash: [32]byte{1}}
	if !s.AddAttestationToPool(att) {
		t.Fatalf("expected fresh attestation to be accepted")
	}
	s.MarkAttestationAsProcessed(att.BlockHash, att.ValidatorAddress)
	if s.AddAttestationToPool(att) {
		t.Fatalf("expected processed attestation to be rejected")
	}
}

func TestVoteCounts_AddRemoveGC(t *testing.T) {
	s := New(threeValidators())
	target := [32]byte{9}
	s.AddVote(1, target, "v0")
	s.AddVote(1, target, "v1")
	if got := s.VoteCount(1, target); got != 2 {
		t.Fatalf("expected 2 votes, got %d", got)
	}
	s.RemoveVote(1, target, "v0")
	if got := s.VoteCount(1, target); got != 1 {
		t.Fatalf("expected 1 vote after removal, got %d", got)
	}
	s.GCVoteCountsThroughEpoch(1)
	if got := s.VoteCount(1, target); got != 0 {
		t.Fatalf("expected 0 votes after gc, got %d", got)
	}
}

func TestGetCurrentSlot_FloorDivision(t *testing.T) {
	cfg := params.MinimalConfig() // SecondsPerSlot = 1
	params.OverrideBeaconConfig(cfg)
	defer params.OverrideBeaconConfig(params.MainnetConfig())

	genesis := time.Unix(1000, 0)
	now := genesis.Add(3500 * time.Millisecond)
	if got := GetCurrentSlot(genesis, now); got != 3 {
		t.Fatalf("expected slot 3, got %d", got)
	}
}

func TestGetEpoch_IsFirstSlotOfEpoch(t *testing.T) {
	cfg := params.MinimalConfig() // SlotsPerEpoch = 4
	params.OverrideBeaconConfig(cfg)
	defer params.OverrideBeaconConfig(params.MainnetConfig())

	if GetEpoch(7) != 1 {
		t.Fatalf("expected epoch 1 for slot 7, got %d", GetEpoch(7))
	}
	if !IsFirstSlotOfEpoch(8) {
		t.Fatalf("expected slot 8 to start epoch 2")
	}
	if IsFirstSlotOfEpoch(9) {
		t.Fatalf("expected slot 9 to not start an epoch")
	}
}
