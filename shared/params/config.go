// Package params holds the tunable constants that drive the simulator.
// The pattern (a package-level config pointer behind a getter/setter
// pair) follows shared/params: tests can swap in a scaled-down config
// for fast, deterministic fixtures via OverrideBeaconConfig without
// touching call sites.
package params

import "math/big"

// BeaconConfig holds every simulator-wide constant driving genesis,
// slot timing, and network simulation.
type BeaconConfig struct {
	BlockReward         uint64 // BlockReward is the coinbase amount paid to a block's proposer.
	NodeCount           int    // NodeCount is the size of the validator set at genesis.
	MinNetworkDelayMS   int64  // MinNetworkDelayMS is the lower bound of simulated message latency.
	MaxNetworkDelayMS   int64  // MaxNetworkDelayMS is the upper bound of simulated message latency.
	SecondsPerSlot      uint64 // SecondsPerSlot is the wall-clock duration of one slot.
	SlotsPerEpoch       uint64 // SlotsPerEpoch is the number of slots per epoch.
	ProposerBufferMS    int64  // ProposerBufferMS is the grace period before a proposer is expected to broadcast.
	SyncIntervalMS      int64  // SyncIntervalMS is the period of LMD_GHOST_BROADCAST gossip.
	MaxEffectiveBalance uint64 // MaxEffectiveBalance caps a single validator's stake-weighted vote.
	MaxBlockTxs         int    // MaxBlockTxs bounds the number of transactions per block.
	GenesisPrevHash     [32]byte
	GenesisRandaoMix    [32]byte
	GenesisRandaoReveal [32]byte
	ProtocolNodeID      string // ProtocolNodeID is the sentinel sender address of coinbase transactions.
	ReorgRetryBound     int    // ReorgRetryBound caps the number of head-recomputation retries during a reorg.
}

// DepositSize is the fixed per-validator deposit used when
// bootstrapping the genesis validator set.
var DepositSize = big.NewInt(32)

var beaconConfig = MainnetConfig()

// BeaconConfig retrieves the simulator config used across every
// component. Call sites must never mutate the returned pointer; use
// OverrideBeaconConfig to install a different config wholesale.
func BeaconConfig() *BeaconConfig {
	return beaconConfig
}

// OverrideBeaconConfig swaps the package-level config. Tests use this
// to install MinimalConfig() for fast, small-validator-set fixtures.
func OverrideBeaconConfig(c *BeaconConfig) {
	beaconConfig = c
}

// MainnetConfig returns sizing suitable for a full simulation run.
func MainnetConfig() *BeaconConfig {
	return &BeaconConfig{
		BlockReward:         5,
		NodeCount:           64,
		MinNetworkDelayMS:   100,
		MaxNetworkDelayMS:   2000,
		SecondsPerSlot:      6,
		SlotsPerEpoch:       8,
		ProposerBufferMS:    500,
		SyncIntervalMS:      3000,
		MaxEffectiveBalance: 32,
		MaxBlockTxs:         64,
		GenesisPrevHash:     [32]byte{},
		GenesisRandaoMix:    [32]byte{},
		GenesisRandaoReveal: [32]byte{},
		ProtocolNodeID:      "0x0000000000000000000000000000000000000000",
		ReorgRetryBound:     10,
	}
}

// MinimalConfig returns a scaled-down config for unit tests: 3
// validators of stake 32 each, 4 slots per epoch.
func MinimalConfig() *BeaconConfig {
	c := MainnetConfig()
	c.NodeCount = 3
	c.SlotsPerEpoch = 4
	c.SecondsPerSlot = 1
	return c
}

// Copy returns a shallow copy safe to mutate independently of the
// package-level config.
func (c *BeaconConfig) Copy() *BeaconConfig {
	copied := *c
	return &copied
}
