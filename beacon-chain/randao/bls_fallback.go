// +build !blst_enabled

// This file backs the same SecretKey/PublicKey/Signature API as
// bls_blst.go with a pure-Go Ed25519-based stand-in, so that tests and
// non-Linux/non-amd64/arm64 builds do not require the blst cgo
// bindings. The blst_enabled build mirrors the production path
// (shared/bls/blst); this fallback exists only because this
// simulator's test suite must run portably, and RANDAO signatures are
// specified as an opaque sign/verify capability (spec.md §1) rather
// than a BLS-specific one.
package randao

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/pkg/errors"
)

// SecretKey wraps an Ed25519 private key standing in for a BLS secret
// key in builds without blst_enabled.
type SecretKey struct {
	priv ed25519.PrivateKey
}

// PublicKey wraps an Ed25519 public key.
type PublicKey struct {
	pub ed25519.PublicKey
}

// Signature wraps a raw Ed25519 signature.
type Signature struct {
	raw []byte
}

// GenerateKey derives a secret key deterministically from 32 bytes of
// seed material, matching the blst build's signature.
func GenerateKey(ikm [32]byte) (*SecretKey, error) {
	priv := ed25519.NewKeyFromSeed(ikm[:])
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("could not derive secret key from seed material")
	}
	return &SecretKey{priv: priv}, nil
}

// PublicKey returns the public key corresponding to sk.
func (sk *SecretKey) PublicKey() *PublicKey {
	pub := sk.priv.Public().(ed25519.PublicKey)
	return &PublicKey{pub: pub}
}

func epochMessageFallback(epoch uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, epoch)
	return buf
}

// SignEpoch produces this proposer's RANDAO reveal for epoch.
func (sk *SecretKey) SignEpoch(epoch uint64) *Signature {
	return &Signature{raw: ed25519.Sign(sk.priv, epochMessageFallback(epoch))}
}

// Marshal serializes sig for embedding in a block's randaoReveal
// field.
func (sig *Signature) Marshal() []byte {
	return sig.raw
}

// VerifyEpochReveal reports whether reveal is a valid RANDAO reveal by
// pub over epoch.
func VerifyEpochReveal(pub *PublicKey, epoch uint64, reveal []byte) bool {
	return ed25519.Verify(pub.pub, epochMessageFallback(epoch), reveal)
}
