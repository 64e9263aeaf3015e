package types

import "github.com/ethsim/beaconsim/shared/bytesutil"

// Checkpoint is an epoch-boundary anchor used by Casper FFG votes:
// spec.md §3 defines it as { epoch, root: blockHash | null }. The
// zero hash stands in for "null" (spec.md §4.4: "If no block exists
// ... the root is the zero hash"), the same way pb.Checkpoint treats
// an empty Root byte slice.
type Checkpoint struct {
	Epoch uint64
	Root  [32]byte
}

// IsNull reports whether this checkpoint carries no root, i.e. it was
// derived from an empty chain.
func (c Checkpoint) IsNull() bool {
	return bytesutil.IsZero(c.Root)
}

// Equal reports whether two checkpoints name the same (epoch, root)
// pair.
func (c Checkpoint) Equal(other Checkpoint) bool {
	return c.Epoch == other.Epoch && c.Root == other.Root
}
