// Package blockchain implements the top-level coordinator described in
// spec.md §4.5: the only component that mutates WorldState, and the
// one that drives validate-and-apply on forward progress or a full
// state rebuild on reorg. Its Service wrapper (lifecycle, feeds,
// logger) is grounded on ChainService's own shape: same
// ctx/cancel/event.Feed/incomingBlockChan fields, generalized from
// ChainService's block-only event loop to one that also serializes
// attestations and chain-sync responses through the same
// single-threaded processor, per spec.md §5's single-logical-executor
// requirement.
package blockchain

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/beaconsim/beacon-chain/casper"
	"github.com/ethsim/beaconsim/beacon-chain/execution"
	"github.com/ethsim/beaconsim/beacon-chain/forkchoice"
	"github.com/ethsim/beaconsim/beacon-chain/state"
	"github.com/ethsim/beaconsim/beacon-chain/tree"
	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/hashutil"
	"github.com/ethsim/beaconsim/shared/params"
	"github.com/ethsim/beaconsim/shared/roughtime"
)

var log = logrus.WithField("prefix", "blockchain")

// validationWindow bounds how far a block's timestamp may drift from
// wall-clock time before it is rejected (spec.md §4.5: "timestamp
// within a broad window (±5 hours)").
const validationWindow = 5 * time.Hour

// Blockchain is the top-level coordinator: it owns the BlockTree and
// WorldState and references BeaconState, serializing every block,
// attestation, and chain-sync mutation through a single mutex per
// spec.md §5's single-logical-executor model.
type Blockchain struct {
	mu sync.Mutex

	tree  *tree.BlockTree
	state *state.BeaconState
	world *execution.WorldState

	protocolNodeID common.Address
	now            func() time.Time // overridable for deterministic tests
}

// New constructs a Blockchain over an existing tree/state/world triple.
func New(t *tree.BlockTree, s *state.BeaconState, w *execution.WorldState) *Blockchain {
	cfg := params.BeaconConfig()
	return &Blockchain{
		tree:           t,
		state:          s,
		world:          w,
		protocolNodeID: common.HexToAddress(cfg.ProtocolNodeID),
		now:            roughtime.Now,
	}
}

// Tree exposes the underlying BlockTree for read-only consumers (sync,
// UI snapshots).
func (bc *Blockchain) Tree() *tree.BlockTree { return bc.tree }

// State exposes the underlying BeaconState.
func (bc *Blockchain) State() *state.BeaconState { return bc.state }

// World exposes the underlying WorldState.
func (bc *Blockchain) World() *execution.WorldState { return bc.world }

// AddBlock ingests a single block per the state machine in spec.md
// §4.5. It returns tree.ErrDuplicateBlock or tree.ErrUnknownParent
// unmodified so callers can distinguish a buffer-and-retry condition
// from a structural failure.
func (bc *Blockchain) AddBlock(block *types.Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.addBlockLocked(block)
}

func (bc *Blockchain) addBlockLocked(block *types.Block) error {
	h0 := bc.tree.GhostHeadIndex()

	if _, err := bc.tree.AddBlock(block); err != nil {
		return err
	}

	bc.redecorateForNewBlock(block)
	h1 := bc.tree.GhostHeadIndex()

	h1Node := bc.tree.NodeAt(h1)
	if h1Node.Parent() == h0 {
		prevHash := bc.hashAt(h0)
		if !bc.validateAndApplyBlock(block, prevHash) {
			forkchoice.MarkNodeInvalid(bc.tree, block.Hash())
		}
		return nil
	}

	// Fork at or below the current head, or a deeper extension still
	// dominated by another branch: insert-only, validation deferred
	// until this branch becomes canonical.
	return nil
}

// redecorateForNewBlock applies any pending weight from attestations
// that named this block before it arrived (spec.md §4.3 OnNewBlock),
// then recomputes and installs the ghost head.
func (bc *Blockchain) redecorateForNewBlock(block *types.Block) {
	forkchoice.OnNewBlock(block, bc.tree, bc.state, bc.state.LatestAttestations())
	_ = bc.tree.SetGhostHeadIndex(forkchoice.ComputeGhostHead(bc.tree))
}

// hashAt returns the block hash identified by idx, or the configured
// genesis sentinel for the null-root.
func (bc *Blockchain) hashAt(idx tree.NodeIndex) [32]byte {
	node := bc.tree.NodeAt(idx)
	if node.IsNullRoot {
		return params.BeaconConfig().GenesisPrevHash
	}
	return node.Hash
}

// OnAttestationReceived applies the attestation-arrival state machine
// of spec.md §4.5: replace the validator's latest attestation if
// newer, let LMD-GHOST update weights and head atomically, then
// reconcile the chain with whatever head results (forward progress or
// reorg).
func (bc *Blockchain) OnAttestationReceived(att *types.Attestation) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	old, hadOld := bc.state.LatestAttestation(att.ValidatorAddress)
	if hadOld && att.Timestamp <= old.Timestamp {
		return nil // stale attestation, silently dropped per spec.md §7.
	}
	bc.state.SetLatestAttestation(att)
	bc.state.AddAttestationToPool(att)

	h0 := bc.tree.GhostHeadIndex()
	var transition forkchoice.Transition
	if hadOld {
		transition = forkchoice.Transition{Old: old, New: att}
	} else {
		transition = forkchoice.Transition{New: att}
	}
	forkchoice.OnAttestationSetChanged(bc.state, bc.tree, []forkchoice.Transition{transition})

	return bc.reconcileHead(h0)
}

// reconcileHead drives the chain forward (or through a reorg) from
// oldHeadIdx to wherever the tree's current ghost head points,
// bounded by ReorgRetryBound retries against repeated invalid blocks
// (spec.md §4.5, §9 "reorg retry bound ... configurable").
func (bc *Blockchain) reconcileHead(oldHeadIdx tree.NodeIndex) error {
	bound := params.BeaconConfig().ReorgRetryBound
	for attempt := 0; attempt < bound; attempt++ {
		newHeadIdx := bc.tree.GhostHeadIndex()
		if newHeadIdx == oldHeadIdx {
			return nil
		}

		var ok bool
		if bc.tree.IsDescendant(newHeadIdx, oldHeadIdx) {
			ok = bc.applyForward(oldHeadIdx, newHeadIdx)
		} else {
			ok = bc.rebuildFromGenesis(newHeadIdx)
		}
		if ok {
			return nil
		}
		// validateAndApplyBlock already invoked MarkNodeInvalid on
		// failure, which recomputed the head; loop to reconcile again.
	}
	log.Warn("Reorg retry bound exceeded; leaving state at partial apply")
	return errors.New("reorg retry bound exceeded")
}

// applyForward validates and applies every block between oldHeadIdx
// (exclusive) and newHeadIdx (inclusive), in genesis-first order. It
// returns false as soon as a block fails validation (having already
// triggered invalidation for it).
func (bc *Blockchain) applyForward(oldHeadIdx, newHeadIdx tree.NodeIndex) bool {
	blocks := blocksBetweenExclusive(bc.tree, oldHeadIdx, newHeadIdx)
	prevHash := bc.hashAt(oldHeadIdx)
	for _, b := range blocks {
		if !bc.validateAndApplyBlock(b, prevHash) {
			forkchoice.MarkNodeInvalid(bc.tree, b.Hash())
			return false
		}
		prevHash = b.Hash()
	}
	return true
}

// rebuildFromGenesis performs the full state-rebuild reorg procedure
// of spec.md §4.5: clear WorldState, processedAttestations, and
// randaoMixes, then replay the new canonical chain from genesis.
func (bc *Blockchain) rebuildFromGenesis(newHeadIdx tree.NodeIndex) bool {
	log.Info("Reorg detected; rebuilding state from genesis")
	bc.world.Reset()
	bc.state.ClearProcessedAttestations()
	bc.state.ClearRandaoState()

	blocks := blocksBetweenExclusive(bc.tree, tree.NullRootIndex, newHeadIdx)
	prevHash := params.BeaconConfig().GenesisPrevHash
	for _, b := range blocks {
		if !bc.validateAndApplyBlock(b, prevHash) {
			forkchoice.MarkNodeInvalid(bc.tree, b.Hash())
			return false
		}
		prevHash = b.Hash()
	}
	return true
}

// blocksBetweenExclusive returns the blocks strictly after fromIdx up
// to and including toIdx, in genesis-first order, by walking toIdx's
// ancestor chain until fromIdx is reached.
func blocksBetweenExclusive(t *tree.BlockTree, fromIdx, toIdx tree.NodeIndex) []*types.Block {
	ancestors := t.Ancestors(toIdx)
	cut := len(ancestors)
	for i, a := range ancestors {
		if a == fromIdx {
			cut = i
			break
		}
	}
	segment := ancestors[:cut]
	blocks := make([]*types.Block, len(segment))
	for i, idx := range segment {
		blocks[len(segment)-1-i] = t.NodeAt(idx).Block
	}
	return blocks
}

// AddChain validates structural linkage only (hashes, monotonic slots,
// genesis previous-hash) across blocks, then inserts them one by one
// via AddBlock, per spec.md §4.6's CHAIN_RESPONSE handling.
func (bc *Blockchain) AddChain(blocks []*types.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	cfg := params.BeaconConfig()
	first := blocks[0]
	if first.Header.Height == 0 && first.Header.PreviousHeaderHash != cfg.GenesisPrevHash {
		return errors.New("malformed chain: genesis block has wrong previous hash")
	}
	for i := 1; i < len(blocks); i++ {
		prev, cur := blocks[i-1], blocks[i]
		if cur.Header.PreviousHeaderHash != prev.Hash() {
			return errors.Errorf("malformed chain: block at index %d does not link to its predecessor", i)
		}
		if cur.Header.Slot <= prev.Header.Slot {
			return errors.Errorf("malformed chain: slot not monotonic at index %d", i)
		}
	}

	for _, b := range blocks {
		if err := bc.AddBlock(b); err != nil && err != tree.ErrDuplicateBlock {
			log.WithError(err).Debug("AddChain: block not added")
		}
	}
	return nil
}

// randaoMixXOR folds a block's RANDAO reveal (an opaque signature
// byte string per spec.md §1) into a 32-byte mix contribution via
// hashutil.Hash before XOR-chaining, since a compressed BLS signature
// is not itself 32 bytes wide.
func randaoMixXOR(mix [32]byte, reveal []byte) [32]byte {
	return hashutil.XOR32(mix, hashutil.Hash(reveal))
}
