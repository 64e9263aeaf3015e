// +build linux,amd64 linux,arm64
// +build blst_enabled

// Package randao implements the RANDAO reveal/XOR randomness beacon
// (spec.md §4.6): each proposer contributes a BLS signature over the
// current epoch number, and consecutive epochs' mixes are chained by
// XOR. The key wrapper here follows shared/bls/blst/secret_key.go
// closely: same build-tag gating (blst_enabled, linux/amd64 or
// linux/arm64), same wrapper-struct-around-*blst.SecretKey shape,
// generalized from a general-purpose BLS signing capability to this
// package's single use, signing and verifying an 8-byte big-endian
// epoch number.
package randao

import (
	"encoding/binary"

	"github.com/pkg/errors"
	blst "github.com/supranational/blst/bindings/go"
)

var dst = []byte("BEACONSIM-RANDAO-V1")

// SecretKey wraps a blst secret key for signing epoch-number RANDAO
// reveals.
type SecretKey struct {
	p *blst.SecretKey
}

// PublicKey wraps a blst public key for verifying RANDAO reveals.
type PublicKey struct {
	p *blst.P1Affine
}

// Signature wraps a blst signature.
type Signature struct {
	s *blst.P2Affine
}

// GenerateKey derives a secret key from 32 bytes of caller-supplied
// key material (e.g. from crypto/rand), mirroring blst.KeyGen usage
// in RandKey.
func GenerateKey(ikm [32]byte) (*SecretKey, error) {
	sk := blst.KeyGen(ikm[:])
	if sk == nil {
		return nil, errors.New("could not generate secret key from seed material")
	}
	return &SecretKey{p: sk}, nil
}

// PublicKey returns the public key corresponding to sk.
func (sk *SecretKey) PublicKey() *PublicKey {
	return &PublicKey{p: new(blst.P1Affine).From(sk.p)}
}

// epochMessage returns the 8-byte big-endian encoding of epoch, the
// message RANDAO reveals sign (spec.md §4.6: "BLS signature over the
// current epoch number").
func epochMessage(epoch uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, epoch)
	return buf
}

// SignEpoch produces this proposer's RANDAO reveal for epoch.
func (sk *SecretKey) SignEpoch(epoch uint64) *Signature {
	sig := new(blst.P2Affine).Sign(sk.p, epochMessage(epoch), dst)
	return &Signature{s: sig}
}

// Marshal serializes sig to compressed bytes for embedding in a
// block's randaoReveal field.
func (sig *Signature) Marshal() []byte {
	return sig.s.Compress()
}

// VerifyEpochReveal reports whether reveal is a valid RANDAO reveal by
// pub over epoch.
func VerifyEpochReveal(pub *PublicKey, epoch uint64, reveal []byte) bool {
	sig := new(blst.P2Affine).Uncompress(reveal)
	if sig == nil {
		return false
	}
	return sig.Verify(true, pub.p, true, epochMessage(epoch), dst)
}
