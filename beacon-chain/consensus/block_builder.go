package consensus

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/params"
)

// maxAttestationsPerBlock bounds how many pool attestations a proposer
// bundles into one block. spec.md §4.6 names "a configured cap" without
// giving it a config key (an Open Question this implementation
// resolves; see DESIGN.md). With more than 32 validators (MainnetConfig
// has 64) the pool can exceed the cap; attestations past the first 32
// stay in the beacon pool for a later block.
const maxAttestationsPerBlock = 32

// peerPaymentValue is the fixed amount sent in each per-peer payment
// transaction spec.md §4.6 names without specifying a value.
const peerPaymentValue = 1

// BuildBlockParams collects everything BuildBlock needs to assemble one
// proposed block, per spec.md §4.6's block-construction steps.
type BuildBlockParams struct {
	Height             uint64
	Slot               uint64
	PreviousHeaderHash [32]byte
	Timestamp          int64

	ProtocolNodeID common.Address
	BlockReward    uint64

	ProposerAddress common.Address
	ProposerKey     *ecdsa.PrivateKey
	ProposerNonce   uint64
	ProposerBalance uint64

	Peers           []common.Address
	ContractAddress *common.Address

	MempoolTxs   []*types.Transaction
	Attestations []*types.Attestation
	RandaoReveal []byte
}

// BuildBlock assembles a block from p: a coinbase, up to
// MAX_BLOCK_TRANSACTIONS-1-peerCount mempool transactions (one fewer
// when a contract address is configured), one signed
// peer-payment transaction per peer, and (if a contract address is
// configured) one final distribution transaction sweeping the
// proposer's remaining known balance to it (spec.md §4.6).
func BuildBlock(p BuildBlockParams) *types.Block {
	cfg := params.BeaconConfig()

	txs := make([]*types.Transaction, 0, cfg.MaxBlockTxs)
	txs = append(txs, &types.Transaction{
		From:      p.ProtocolNodeID,
		To:        p.ProposerAddress,
		Value:     p.BlockReward,
		Timestamp: p.Timestamp,
	})

	reserved := 1 + len(p.Peers)
	if p.ContractAddress != nil {
		reserved++
	}
	mempoolBudget := cfg.MaxBlockTxs - reserved
	if mempoolBudget < 0 {
		mempoolBudget = 0
	}
	if mempoolBudget > len(p.MempoolTxs) {
		mempoolBudget = len(p.MempoolTxs)
	}
	txs = append(txs, p.MempoolTxs[:mempoolBudget]...)

	nonce := p.ProposerNonce
	spent := uint64(0)
	for _, peer := range p.Peers {
		tx := signedTransfer(p.ProposerKey, p.ProposerAddress, peer, peerPaymentValue, nonce, p.Timestamp)
		txs = append(txs, tx)
		nonce++
		spent += peerPaymentValue
	}

	if p.ContractAddress != nil && p.ProposerBalance > spent {
		remaining := p.ProposerBalance - spent
		txs = append(txs, signedTransfer(p.ProposerKey, p.ProposerAddress, *p.ContractAddress, remaining, nonce, p.Timestamp))
	}

	attestations := p.Attestations
	if len(attestations) > maxAttestationsPerBlock {
		attestations = attestations[:maxAttestationsPerBlock]
	}

	block := types.NewBlock(p.Height, p.Slot, p.PreviousHeaderHash, p.Timestamp, txs)
	block.Attestations = attestations
	block.RandaoReveal = p.RandaoReveal
	return block
}

// signedTransfer builds and ECDSA-signs a plain value transfer, the way
// beacon-chain/execution's verifySignature expects: an uncompressed
// public key plus a signature over the transaction's ID digest.
func signedTransfer(key *ecdsa.PrivateKey, from, to common.Address, value, nonce uint64, timestamp int64) *types.Transaction {
	tx := &types.Transaction{From: from, To: to, Value: value, Nonce: nonce, Timestamp: timestamp}
	id := tx.ID()
	sig, err := crypto.Sign(id[:], key)
	if err != nil {
		// A signing failure here means the in-process key is malformed;
		// this simulator has no recovery path for that, so the
		// transaction is left unsigned and will fail validation
		// downstream rather than panicking the proposer.
		return tx
	}
	tx.PublicKey = crypto.FromECDSAPub(&key.PublicKey)
	tx.Signature = sig
	return tx
}
