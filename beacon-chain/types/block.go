// Package types defines the wire-level primitives shared across the
// consensus core: Block, Transaction, Attestation, Checkpoint, and
// Validator. The hashing approach (wrap plain field data, expose a
// Hash() computed with blake2b) follows beacon-chain/types/block.go's
// Block.Hash(), which blake2b-hashes the marshaled proto bytes; here
// the "marshal" step is a small deterministic field encoding instead
// of a protobuf, since this simulator has no wire format to be
// compatible with.
package types

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Header is the fixed-size, hashable part of a Block. Field order is
// the canonical ordering used for hashing (spec.md §6) and must not
// change.
type Header struct {
	Height             uint64
	Slot               uint64
	PreviousHeaderHash [32]byte
	TransactionHash    [32]byte
	Timestamp          int64
}

// Block is a proposed beacon chain block: a header plus the payload
// the proposer chose to bundle with it.
type Block struct {
	Header       Header
	Transactions []*Transaction
	Attestations []*Attestation
	RandaoReveal []byte // BLS signature over the epoch number, see beacon-chain/randao.

	hash    [32]byte
	hashSet bool
}

// NewBlock builds a block and computes its transaction root from the
// given transactions. RandaoReveal and Attestations are left empty for
// the caller to set; neither is part of the hashed header.
func NewBlock(height, slot uint64, previousHeaderHash [32]byte, timestamp int64, txs []*Transaction) *Block {
	return &Block{
		Header: Header{
			Height:             height,
			Slot:               slot,
			PreviousHeaderHash: previousHeaderHash,
			TransactionHash:    TransactionsRoot(txs),
			Timestamp:          timestamp,
		},
		Transactions: txs,
	}
}

// Hash computes the block's identity: the digest of its header in
// declared field order. It is cached after first computation since a
// Block's header fields never change post-construction within this
// simulator.
func (b *Block) Hash() [32]byte {
	if b.hashSet {
		return b.hash
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, b.Header.Height)
	_ = binary.Write(&buf, binary.BigEndian, b.Header.Slot)
	buf.Write(b.Header.PreviousHeaderHash[:])
	buf.Write(b.Header.TransactionHash[:])
	_ = binary.Write(&buf, binary.BigEndian, b.Header.Timestamp)
	b.hash = blake2b.Sum256(buf.Bytes())
	b.hashSet = true
	return b.hash
}

// InvalidateHash forces the next Hash() call to recompute; used only
// by tests that mutate a block after construction.
func (b *Block) InvalidateHash() {
	b.hashSet = false
}
