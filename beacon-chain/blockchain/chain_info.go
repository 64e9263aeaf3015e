package blockchain

import "github.com/ethsim/beaconsim/beacon-chain/types"

// ChainInfo is a point-in-time, copy-on-read snapshot of chain status,
// the supplemented read API a UI or operator tool queries. ChainInfo()
// holds the same mutex as Blockchain's mutating operations while it
// copies, so the caller gets a consistent copy it can read without
// any lock (spec.md §5: "outside readers must use snapshot or
// copy-on-read access").
type ChainInfo struct {
	HeadHash            [32]byte
	HeadHeight          uint64
	HeadSlot            uint64
	JustifiedCheckpoint types.Checkpoint
	FinalizedCheckpoint types.Checkpoint
	TotalBlocks         int
	Leaves              int
	Forks               int
}

// ChainInfo returns the current chain status.
func (bc *Blockchain) ChainInfo() ChainInfo {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	head := bc.tree.GhostHead()
	info := ChainInfo{
		JustifiedCheckpoint: bc.state.JustifiedCheckpoint(),
		FinalizedCheckpoint: bc.state.FinalizedCheckpoint(),
	}
	stats := bc.tree.GetStats()
	info.TotalBlocks = stats.TotalBlocks
	info.Leaves = stats.Leaves
	info.Forks = stats.Forks

	if !head.IsNullRoot {
		info.HeadHash = head.Hash
		info.HeadHeight = head.Block.Header.Height
		info.HeadSlot = head.Block.Header.Slot
	}
	return info
}
