package node

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethsim/beaconsim/beacon-chain/execution"
	"github.com/ethsim/beaconsim/beacon-chain/network"
	"github.com/ethsim/beaconsim/beacon-chain/state"
	"github.com/ethsim/beaconsim/beacon-chain/tree"
	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/params"
)

func fastTwoNodeConfig(t *testing.T) {
	t.Helper()
	cfg := params.MinimalConfig()
	cfg.NodeCount = 2
	cfg.SecondsPerSlot = 1
	cfg.MinNetworkDelayMS = 1
	cfg.MaxNetworkDelayMS = 5
	cfg.SyncIntervalMS = 20
	params.OverrideBeaconConfig(cfg)
	t.Cleanup(func() { params.OverrideBeaconConfig(params.MainnetConfig()) })
}

func genesisBlockForTest(genesisTime time.Time) *types.Block {
	cfg := params.BeaconConfig()
	block := types.NewBlock(0, 0, cfg.GenesisPrevHash, genesisTime.Unix(), nil)
	block.RandaoReveal = cfg.GenesisRandaoReveal[:]
	return block
}

func TestNode_TwoNodesConvergeOnAProposedBlock(t *testing.T) {
	fastTwoNodeConfig(t)
	cfg := params.BeaconConfig()

	identities := make([]*ValidatorIdentity, cfg.NodeCount)
	for i := range identities {
		id, err := NewValidatorIdentity(i)
		if err != nil {
			t.Fatalf("could not build validator identity %d: %v", i, err)
		}
		identities[i] = id
	}
	validators := GenesisValidatorSet(identities)
	bus := network.NewBus(1)
	genesisTime := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes := make([]*Node, len(identities))
	for i, id := range identities {
		genesisState := state.New(cloneValidatorsForTest(validators))
		genesisState.SetRandaoMix(0, cfg.GenesisRandaoMix)
		genesisWorld := execution.New()
		genesisWorld.SeedAccount(common.HexToAddress(id.NodeAddress), cfg.MaxEffectiveBalance)

		n, err := New(ctx, &Config{
			Identity:     id,
			GenesisTime:  genesisTime,
			Bus:          bus,
			GenesisTree:  tree.New(),
			GenesisState: genesisState,
			GenesisWorld: genesisWorld,
		})
		if err != nil {
			t.Fatalf("could not construct node %d: %v", i, err)
		}
		if err := n.Chain().AddBlock(genesisBlockForTest(genesisTime)); err != nil {
			t.Fatalf("could not seed genesis for node %d: %v", i, err)
		}
		nodes[i] = n
	}

	for _, n := range nodes {
		n.Start()
	}
	defer func() {
		for _, n := range nodes {
			n.Close()
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		allAdvanced := true
		for _, n := range nodes {
			if n.Chain().ChainInfo().HeadSlot == 0 {
				allAdvanced = false
				break
			}
		}
		if allAdvanced {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("nodes never advanced past genesis: slots = %v", headSlots(nodes))
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func headSlots(nodes []*Node) []uint64 {
	out := make([]uint64, len(nodes))
	for i, n := range nodes {
		out[i] = n.Chain().ChainInfo().HeadSlot
	}
	return out
}

func cloneValidatorsForTest(validators []*types.Validator) []*types.Validator {
	out := make([]*types.Validator, len(validators))
	for i, v := range validators {
		cp := *v
		out[i] = &cp
	}
	return out
}
