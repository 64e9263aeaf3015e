package network

import (
	"github.com/ethsim/beaconsim/beacon-chain/types"
)

// ProposerBlockBroadcast carries a newly proposed block to every peer
// (spec.md §6 inbound/outbound message set).
type ProposerBlockBroadcast struct {
	Block *types.Block
	Slot  uint64
}

// AttestationMessage carries a single attestation to every peer.
type AttestationMessage struct {
	Attestation *types.Attestation
}

// GhostHeadBroadcast is the periodic head announcement Sync sends
// every SYNC_INTERVAL_MS (spec.md §4.6).
type GhostHeadBroadcast struct {
	GhostHeadHash [32]byte
}

// ChainRequest asks the announcer for the chain leading to
// RequestedHeadHash, sent direct in response to an unknown
// GhostHeadBroadcast.
type ChainRequest struct {
	RequestedHeadHash [32]byte
}

// ChainResponse replies to a ChainRequest with the genesis-first block
// list, or an empty Blocks slice if the requested head is no longer
// known to the responder.
type ChainResponse struct {
	RequestedHeadHash [32]byte
	Blocks            []*types.Block
}
