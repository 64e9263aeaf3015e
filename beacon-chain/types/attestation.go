package types

// Attestation is a validator's vote endorsing a block, optionally
// carrying FFG source/target checkpoints (spec.md §3). The attesting
// node fills FFGSource and FFGTarget from casper.ComputeCheckpoints
// when it creates the attestation; they are nil on an attestation
// built without them.
type Attestation struct {
	ValidatorAddress string
	BlockHash        [32]byte
	Timestamp        int64
	FFGSource        *Checkpoint
	FFGTarget        *Checkpoint
}

// ProcessedKey identifies an attestation for the
// processedAttestations de-duplication set: (blockHash,
// validatorAddress), per spec.md §3.
type ProcessedKey struct {
	BlockHash        [32]byte
	ValidatorAddress string
}

// Key returns this attestation's ProcessedKey.
func (a *Attestation) Key() ProcessedKey {
	return ProcessedKey{BlockHash: a.BlockHash, ValidatorAddress: a.ValidatorAddress}
}
