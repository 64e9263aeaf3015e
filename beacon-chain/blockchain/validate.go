package blockchain

import (
	"time"

	"github.com/ethsim/beaconsim/beacon-chain/casper"
	"github.com/ethsim/beaconsim/beacon-chain/execution"
	"github.com/ethsim/beaconsim/beacon-chain/forkchoice"
	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/params"
)

// validateAndApplyBlock implements spec.md §4.5's validateAndApplyBlock:
// structural checks, then transaction application against WorldState,
// then the BeaconState/CasperFFG/LmdGhost bookkeeping a successfully
// applied block triggers. It returns false on any failure without
// partially mutating consensus state beyond what execution.ApplyBlock
// itself guarantees (validated against a scratch copy first).
func (bc *Blockchain) validateAndApplyBlock(block *types.Block, prevHash [32]byte) bool {
	if !bc.validateStructure(block, prevHash) {
		log.WithField("slot", block.Header.Slot).Debug("Block failed structural validation")
		return false
	}

	cfg := params.BeaconConfig()
	if err := execution.ApplyBlock(bc.world, block.Hash(), block.Transactions, bc.protocolNodeID, cfg.BlockReward); err != nil {
		log.WithField("slot", block.Header.Slot).WithError(err).Debug("Block failed execution validation")
		return false
	}

	bc.applyRandaoReveal(block)
	bc.seedGenesisCheckpoint(block, prevHash)
	transitions := bc.recordIncludedAttestations(block)
	casper.ApplyAttestationsToBeaconState(bc.state, block.Attestations)
	if len(transitions) > 0 {
		forkchoice.OnAttestationSetChanged(bc.state, bc.tree, transitions)
	}
	return true
}

// seedGenesisCheckpoint installs the genesis block itself as the
// initial justified and previous-justified checkpoint the first time
// genesis is applied. Without this, JustifiedCheckpoint() stays at its
// zero value forever: ComputeCheckpoints derives a virtual source of
// {0, genesisHash} for every attestation in epoch 0, but that virtual
// source never equals a zero-root JustifiedCheckpoint, so
// ApplyAttestationsToBeaconState's source check (ffg.go) never passes
// and CasperFFG can never tally its first vote (spec.md §4.4).
func (bc *Blockchain) seedGenesisCheckpoint(block *types.Block, prevHash [32]byte) {
	cfg := params.BeaconConfig()
	if prevHash != cfg.GenesisPrevHash || block.Header.Height != 0 {
		return
	}
	if !bc.state.JustifiedCheckpoint().IsNull() {
		return
	}
	genesis := types.Checkpoint{Epoch: 0, Root: block.Hash()}
	bc.state.SetCheckpoints(genesis, genesis, bc.state.FinalizedCheckpoint())
}

// validateStructure checks hash linkage to prevHash, height
// contiguity, slot monotonicity, a broad timestamp window, and
// transaction-root integrity (spec.md §4.5, §9 on height vs. slot).
func (bc *Blockchain) validateStructure(block *types.Block, prevHash [32]byte) bool {
	if block.Header.PreviousHeaderHash != prevHash {
		return false
	}

	cfg := params.BeaconConfig()
	if prevHash != cfg.GenesisPrevHash {
		prevNode, ok := bc.tree.GetNode(prevHash)
		if !ok {
			return false
		}
		if block.Header.Height != prevNode.Block.Header.Height+1 {
			return false
		}
		if block.Header.Slot <= prevNode.Block.Header.Slot {
			return false
		}
	} else if block.Header.Height != 0 {
		return false
	}

	now := bc.now()
	delta := now.Sub(time.Unix(block.Header.Timestamp, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > validationWindow {
		return false
	}

	if types.TransactionsRoot(block.Transactions) != block.Header.TransactionHash {
		return false
	}
	return true
}

// applyRandaoReveal folds the proposer's reveal into next epoch's
// RANDAO mix (spec.md §4.5): randaoMixes[epoch+1] = randaoMixes[epoch]
// XOR block.randaoReveal. An epoch with no recorded mix (epoch 0 at
// first) uses the configured genesis mix.
func (bc *Blockchain) applyRandaoReveal(block *types.Block) {
	cfg := params.BeaconConfig()
	slotsPerEpoch := cfg.SlotsPerEpoch
	epoch := block.Header.Slot / slotsPerEpoch

	mix, ok := bc.state.RandaoMix(epoch)
	if !ok {
		mix = cfg.GenesisRandaoMix
	}
	bc.state.SetRandaoMix(epoch+1, randaoMixXOR(mix, block.RandaoReveal))
}

// recordIncludedAttestations updates latestAttestations for each
// attestation this block includes (when newer), marks each processed,
// and removes each from the beacon pool, returning the set of
// latest-attestation transitions LmdGhost still needs to apply.
func (bc *Blockchain) recordIncludedAttestations(block *types.Block) []forkchoice.Transition {
	var transitions []forkchoice.Transition
	for _, att := range block.Attestations {
		old, hadOld := bc.state.LatestAttestation(att.ValidatorAddress)
		if !hadOld || att.Timestamp > old.Timestamp {
			bc.state.SetLatestAttestation(att)
			if hadOld {
				transitions = append(transitions, forkchoice.Transition{Old: old, New: att})
			} else {
				transitions = append(transitions, forkchoice.Transition{New: att})
			}
		}
		bc.state.SetLatestIncludedAttestation(att)
		bc.state.MarkAttestationAsProcessed(att.BlockHash, att.ValidatorAddress)
		bc.state.RemoveFromPool(att.BlockHash, att.ValidatorAddress)
	}
	return transitions
}
