package randao

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
)

// ComputeProposerIndex returns the index into validators (ordered the
// same way as BeaconState.Validators()) chosen to propose slot within
// an epoch whose RANDAO mix is mix. Per spec.md §4.6: "The proposer
// for slot s in epoch e is validators[H(mix || s) mod |validators|],
// where H is SHA-256 interpreted as a big-endian integer."
func ComputeProposerIndex(mix [32]byte, slot uint64, validatorCount int) int {
	if validatorCount == 0 {
		return 0
	}
	buf := make([]byte, 40)
	copy(buf, mix[:])
	binary.BigEndian.PutUint64(buf[32:], slot)
	digest := sha256.Sum256(buf)

	asInt := new(big.Int).SetBytes(digest[:])
	mod := big.NewInt(int64(validatorCount))
	return int(new(big.Int).Mod(asInt, mod).Int64())
}
