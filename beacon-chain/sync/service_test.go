package sync

import (
	"context"
	"testing"
	"time"

	"github.com/ethsim/beaconsim/beacon-chain/blockchain"
	"github.com/ethsim/beaconsim/beacon-chain/execution"
	"github.com/ethsim/beaconsim/beacon-chain/network"
	"github.com/ethsim/beaconsim/beacon-chain/state"
	"github.com/ethsim/beaconsim/beacon-chain/tree"
	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/params"
)

func fastNetworkConfig(t *testing.T) {
	t.Helper()
	cfg := params.BeaconConfig().Copy()
	cfg.MinNetworkDelayMS = 1
	cfg.MaxNetworkDelayMS = 5
	cfg.SyncIntervalMS = 10
	params.OverrideBeaconConfig(cfg)
	t.Cleanup(func() { params.OverrideBeaconConfig(params.MainnetConfig()) })
}

func threeValidators() []*types.Validator {
	return []*types.Validator{
		{NodeAddress: "v0", StakedEth: 32},
		{NodeAddress: "v1", StakedEth: 32},
		{NodeAddress: "v2", StakedEth: 32},
	}
}

func newChainWithGenesis(t *testing.T) (*blockchain.Blockchain, *types.Block) {
	t.Helper()
	bc := blockchain.New(tree.New(), state.New(threeValidators()), execution.New())
	genesis := types.NewBlock(0, 0, params.BeaconConfig().GenesisPrevHash, time.Now().Unix(), nil)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("could not seed genesis: %v", err)
	}
	return bc, genesis
}

func newService(t *testing.T, nodeAddress string, bus *network.Bus, chain *blockchain.Blockchain) (*Service, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	feed := bus.Register(nodeAddress)
	s := New(ctx, &Config{
		NodeAddress: nodeAddress,
		Bus:         bus,
		Chain:       chain,
		InboxFeed:   feed,
		InboxBuf:    8,
	})
	return s, cancel
}

func TestSync_GhostHeadBroadcastTriggersChainRequest(t *testing.T) {
	fastNetworkConfig(t)
	bus := network.NewBus(1)

	behindChain, _ := newChainWithGenesis(t)
	aheadChain, genesis := newChainWithGenesis(t)
	next := types.NewBlock(1, 1, genesis.Hash(), genesis.Header.Timestamp+6, nil)
	if err := aheadChain.AddBlock(next); err != nil {
		t.Fatalf("could not add second block on ahead chain: %v", err)
	}

	behind, cancelBehind := newService(t, "behind", bus, behindChain)
	ahead, cancelAhead := newService(t, "ahead", bus, aheadChain)
	defer cancelBehind()
	defer cancelAhead()
	behind.Start()
	ahead.Start()

	bus.Broadcast("ahead", network.GhostHeadBroadcast{GhostHeadHash: next.Hash()})

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := behindChain.Tree().GetNode(next.Hash()); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("behind node never caught up via sync")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOnChainRequest_RespondsWithEmptyChainWhenHeadUnknown(t *testing.T) {
	fastNetworkConfig(t)
	bus := network.NewBus(1)
	chain, _ := newChainWithGenesis(t)
	s, cancel := newService(t, "node", bus, chain)
	defer cancel()

	var unknown [32]byte
	unknown[0] = 0xFF
	s.onChainRequest("peer", network.ChainRequest{RequestedHeadHash: unknown})
}

func TestOnChainResponse_IgnoresEmptyBlockList(t *testing.T) {
	fastNetworkConfig(t)
	bus := network.NewBus(1)
	chain, _ := newChainWithGenesis(t)
	s, cancel := newService(t, "node", bus, chain)
	defer cancel()

	s.onChainResponse(network.ChainResponse{})

	if chain.ChainInfo().TotalBlocks != 1 {
		t.Fatalf("expected only genesis in chain, got %d blocks", chain.ChainInfo().TotalBlocks)
	}
}
