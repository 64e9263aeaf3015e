package forkchoice

import (
	"testing"

	"github.com/ethsim/beaconsim/beacon-chain/tree"
	"github.com/ethsim/beaconsim/beacon-chain/types"
)

type fakeState struct {
	stakes map[string]uint64
}

func (f *fakeState) StakeOf(addr string) uint64 { return f.stakes[addr] }

func threeEqualStakes() *fakeState {
	return &fakeState{stakes: map[string]uint64{"v0": 32, "v1": 32, "v2": 32}}
}

func newBlock(height, slot uint64, parent [32]byte, ts int64) *types.Block {
	return types.NewBlock(height, slot, parent, ts, nil)
}

// Scenario A (spec.md §8): fork at genesis, attestation tips the
// balance toward B.
func TestScenarioA_AttestationTipsBalance(t *testing.T) {
	tr := tree.New()
	s := threeEqualStakes()

	var genesisHash [32]byte
	g := newBlock(0, 0, genesisHash, 1000)
	tr.AddBlock(g)
	a := newBlock(1, 1, g.Hash(), 1001)
	tr.AddBlock(a)
	b := newBlock(1, 1, g.Hash(), 1002)
	tr.AddBlock(b)

	attB0 := &types.Attestation{ValidatorAddress: "v0", BlockHash: b.Hash()}
	attB1 := &types.Attestation{ValidatorAddress: "v1", BlockHash: b.Hash()}
	attA2 := &types.Attestation{ValidatorAddress: "v2", BlockHash: a.Hash()}

	OnAttestationSetChanged(s, tr, []Transition{
		{New: attB0}, {New: attB1}, {New: attA2},
	})

	if tr.GhostHead().Hash != b.Hash() {
		t.Fatalf("expected ghost head B, got different hash")
	}
	chain := tr.GetCanonicalChain()
	if len(chain) != 2 || chain[0].Hash() != g.Hash() || chain[1].Hash() != b.Hash() {
		t.Fatalf("unexpected canonical chain: %+v", chain)
	}
}

// Scenario D (spec.md §8): a tie between A and B halts GHOST at their
// parent, genesis.
func TestScenarioD_TieHaltsAtParent(t *testing.T) {
	tr := tree.New()
	s := threeEqualStakes()

	var genesisHash [32]byte
	g := newBlock(0, 0, genesisHash, 1000)
	tr.AddBlock(g)
	a := newBlock(1, 1, g.Hash(), 1001)
	tr.AddBlock(a)
	b := newBlock(1, 1, g.Hash(), 1002)
	tr.AddBlock(b)

	attA := &types.Attestation{ValidatorAddress: "v0", BlockHash: a.Hash()}
	attB := &types.Attestation{ValidatorAddress: "v1", BlockHash: b.Hash()}

	OnAttestationSetChanged(s, tr, []Transition{{New: attA}, {New: attB}})

	if tr.GhostHead().Hash != g.Hash() {
		t.Fatalf("expected ghost head to remain genesis on tie")
	}
}

// Scenario B (spec.md §8): re-attesting to a newer block on the
// canonical branch moves the head forward.
func TestScenarioB_ReattestationMovesHeadForward(t *testing.T) {
	tr := tree.New()
	s := threeEqualStakes()

	var genesisHash [32]byte
	g := newBlock(0, 0, genesisHash, 1000)
	tr.AddBlock(g)
	b := newBlock(1, 1, g.Hash(), 1002)
	tr.AddBlock(b)
	c := newBlock(2, 2, b.Hash(), 1003)
	tr.AddBlock(c)

	attB0 := &types.Attestation{ValidatorAddress: "v0", BlockHash: b.Hash()}
	attB1 := &types.Attestation{ValidatorAddress: "v1", BlockHash: b.Hash()}
	OnAttestationSetChanged(s, tr, []Transition{{New: attB0}, {New: attB1}})

	attC2Old := &types.Attestation{ValidatorAddress: "v2", BlockHash: b.Hash()}
	attC2New := &types.Attestation{ValidatorAddress: "v2", BlockHash: c.Hash()}
	OnAttestationSetChanged(s, tr, []Transition{{Old: attC2Old, New: attC2New}})

	if tr.GhostHead().Hash != c.Hash() {
		t.Fatalf("expected ghost head C after re-attestation")
	}
}

// Scenario F (spec.md §8): an invalid block is routed around even
// though it carries more raw attested weight.
func TestScenarioF_InvalidBlockRoutedAround(t *testing.T) {
	tr := tree.New()
	s := threeEqualStakes()

	var genesisHash [32]byte
	g := newBlock(0, 0, genesisHash, 1000)
	tr.AddBlock(g)
	a := newBlock(1, 1, g.Hash(), 1001)
	tr.AddBlock(a)
	b := newBlock(1, 1, g.Hash(), 1002)
	tr.AddBlock(b)

	attB0 := &types.Attestation{ValidatorAddress: "v0", BlockHash: b.Hash()}
	attB1 := &types.Attestation{ValidatorAddress: "v1", BlockHash: b.Hash()}
	OnAttestationSetChanged(s, tr, []Transition{{New: attB0}, {New: attB1}})

	if tr.GhostHead().Hash != b.Hash() {
		t.Fatalf("expected ghost head B before invalidation")
	}

	if !MarkNodeInvalid(tr, b.Hash()) {
		t.Fatalf("expected MarkNodeInvalid to find B")
	}

	if tr.GhostHead().Hash != a.Hash() {
		t.Fatalf("expected ghost head A after B invalidated")
	}
}

func TestOnNewBlock_AppliesPendingWeightForEarlyAttestation(t *testing.T) {
	tr := tree.New()
	s := threeEqualStakes()

	var genesisHash [32]byte
	g := newBlock(0, 0, genesisHash, 1000)
	tr.AddBlock(g)

	a := newBlock(1, 1, g.Hash(), 1001)
	// Attestation to `a` observed before `a` itself arrives.
	latest := map[string]*types.Attestation{
		"v0": {ValidatorAddress: "v0", BlockHash: a.Hash()},
	}

	tr.AddBlock(a)
	OnNewBlock(a, tr, s, latest)

	aIdx, _ := tr.IndexOf(a.Hash())
	if tr.NodeAt(aIdx).Metadata.AttestedEth != 32 {
		t.Fatalf("expected pending weight applied once %s arrives", "a")
	}
}
