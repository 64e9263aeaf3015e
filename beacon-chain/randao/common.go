package randao

// Signer is the capability a proposer needs to produce a RANDAO
// reveal: both the blst-backed SecretKey and the portable fallback
// SecretKey satisfy it. Mirrors the small interface shared/bls/common
// puts in front of its own blst/herumi backends, so callers in
// beacon-chain/consensus never need a build-tag switch of their own.
type Signer interface {
	SignEpoch(epoch uint64) *Signature
	PublicKey() *PublicKey
}

// Verifier is anything that yields the reveal bytes VerifyEpochReveal
// checks; *Signature satisfies it. The interface only exposes
// Marshal() and performs no verification itself; it exists for callers
// that want to accept a reveal without naming the concrete backend
// type.
type Verifier interface {
	Marshal() []byte
}

var (
	_ Signer   = (*SecretKey)(nil)
	_ Verifier = (*Signature)(nil)
)
