// Package hashutil centralizes the hash primitives used across the
// simulator: one keccak-style general-purpose Hash for arbitrary byte
// payloads (used for RANDAO mix chaining), kept separate
// from the blake2b digest beacon-chain/types uses for block/transaction
// identity so neither hash primitive gets conflated with the other.
package hashutil

import (
	"golang.org/x/crypto/sha3"
)

// Hash returns the Keccak-256 hash of data.
func Hash(data []byte) [32]byte {
	var hash [32]byte
	h := sha3.NewLegacyKeccak256()
	// The hash.Hash interface never returns an error from Write/Sum.
	h.Write(data)
	h.Sum(hash[:0])
	return hash
}

// RepeatHash applies Hash numTimes in sequence. Kept here for symmetry
// even though this simulator's RANDAO model only XORs a single reveal
// per epoch rather than peeling commit layers.
func RepeatHash(data [32]byte, numTimes uint64) [32]byte {
	if numTimes == 0 {
		return data
	}
	return RepeatHash(Hash(data[:]), numTimes-1)
}

// XOR32 combines two 32-byte mixes, used by RANDAO mix chaining:
// mix(e+1) = mix(e) XOR reveal_in_block_at_epoch_e.
func XOR32(a, b [32]byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}
