package tree

import (
	"testing"

	"github.com/ethsim/beaconsim/beacon-chain/types"
)

func genesisHash() [32]byte {
	var h [32]byte
	return h
}

func block(height, slot uint64, parent [32]byte, ts int64) *types.Block {
	return types.NewBlock(height, slot, parent, ts, nil)
}

func TestAddBlock_GenesisAttachesToNullRoot(t *testing.T) {
	tr := New()
	g := block(0, 0, genesisHash(), 1000)
	node, err := tr.AddBlock(g)
	if err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if node.Parent() != NullRootIndex {
		t.Fatalf("expected genesis parent to be null-root, got %v", node.Parent())
	}
	stats := tr.GetStats()
	if stats.TotalBlocks != 1 || stats.Leaves != 1 || stats.Forks != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAddBlock_DuplicateRejected(t *testing.T) {
	tr := New()
	g := block(0, 0, genesisHash(), 1000)
	if _, err := tr.AddBlock(g); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if _, err := tr.AddBlock(g); err != ErrDuplicateBlock {
		t.Fatalf("expected ErrDuplicateBlock, got %v", err)
	}
}

func TestAddBlock_UnknownParentRejected(t *testing.T) {
	tr := New()
	var bogus [32]byte
	bogus[0] = 0xff
	orphan := block(1, 1, bogus, 1000)
	if _, err := tr.AddBlock(orphan); err != ErrUnknownParent {
		t.Fatalf("expected ErrUnknownParent, got %v", err)
	}
}

func TestGetChain_GenesisFirstOrder(t *testing.T) {
	tr := New()
	g := block(0, 0, genesisHash(), 1000)
	tr.AddBlock(g)
	a := block(1, 1, g.Hash(), 1001)
	tr.AddBlock(a)
	b := block(2, 2, a.Hash(), 1002)
	tr.AddBlock(b)

	chain := tr.GetChain(b.Hash())
	if len(chain) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(chain))
	}
	if chain[0].Hash() != g.Hash() || chain[2].Hash() != b.Hash() {
		t.Fatalf("chain not in genesis-first order: %+v", chain)
	}
}

func TestGetChain_UnknownHashIsEmpty(t *testing.T) {
	tr := New()
	var bogus [32]byte
	bogus[0] = 1
	if chain := tr.GetChain(bogus); chain != nil {
		t.Fatalf("expected nil chain for unknown hash, got %v", chain)
	}
}

func TestSetGhostHead_RejectsUnknownHash(t *testing.T) {
	tr := New()
	var bogus [32]byte
	bogus[0] = 1
	if err := tr.SetGhostHead(bogus); err != ErrUnknownHash {
		t.Fatalf("expected ErrUnknownHash, got %v", err)
	}
}

func TestSetGhostHeadIndex_AcceptsNullRoot(t *testing.T) {
	tr := New()
	g := block(0, 0, genesisHash(), 1000)
	tr.AddBlock(g)
	if err := tr.SetGhostHead(g.Hash()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.GhostHeadIndex() == NullRootIndex {
		t.Fatalf("expected ghost head to move off null-root")
	}
	if err := tr.SetGhostHeadIndex(NullRootIndex); err != nil {
		t.Fatalf("unexpected error resetting to null-root: %v", err)
	}
	if tr.GhostHeadIndex() != NullRootIndex {
		t.Fatalf("expected ghost head reset to null-root")
	}
}

func TestForksCountedAsLeavesMinusOne(t *testing.T) {
	tr := New()
	g := block(0, 0, genesisHash(), 1000)
	tr.AddBlock(g)
	a := block(1, 1, g.Hash(), 1001)
	tr.AddBlock(a)
	b := block(1, 1, g.Hash(), 1001)
	b.Header.Timestamp = 1002 // distinguish hash from a
	tr.AddBlock(b)

	stats := tr.GetStats()
	if stats.Leaves != 2 || stats.Forks != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMarkInvalidExcludesFromValidChildren(t *testing.T) {
	tr := New()
	g := block(0, 0, genesisHash(), 1000)
	tr.AddBlock(g)
	a := block(1, 1, g.Hash(), 1001)
	tr.AddBlock(a)
	aIdx, _ := tr.IndexOf(a.Hash())
	tr.SetInvalid(aIdx)

	gIdx, _ := tr.IndexOf(g.Hash())
	if children := tr.ValidChildren(gIdx); len(children) != 0 {
		t.Fatalf("expected no valid children after invalidation, got %v", children)
	}
}
