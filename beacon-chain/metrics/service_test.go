package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ethsim/beaconsim/beacon-chain/blockchain"
	"github.com/ethsim/beaconsim/beacon-chain/execution"
	"github.com/ethsim/beaconsim/beacon-chain/state"
	"github.com/ethsim/beaconsim/beacon-chain/tree"
	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/params"
	"github.com/ethsim/beaconsim/shared/services"
)

func TestSample_UpdatesGaugesAndCountsHeadMoves(t *testing.T) {
	params.OverrideBeaconConfig(params.MinimalConfig())
	t.Cleanup(func() { params.OverrideBeaconConfig(params.MainnetConfig()) })

	validators := []*types.Validator{{NodeAddress: "v0", StakedEth: 32}}
	bc := blockchain.New(tree.New(), state.New(validators), execution.New())
	genesis := types.NewBlock(0, 0, params.BeaconConfig().GenesisPrevHash, time.Now().Unix(), nil)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("could not seed genesis: %v", err)
	}

	registry := services.NewRegistry()
	svc := New("127.0.0.1:0", registry, bc, time.Hour)

	before := testutil.ToFloat64(headMoves)
	svc.sample()
	if got := testutil.ToFloat64(headMoves); got != before+1 {
		t.Fatalf("expected head move counted for the first sample, got delta %v", got-before)
	}
	if got := testutil.ToFloat64(totalBlocks); got != 1 {
		t.Fatalf("expected totalBlocks gauge = 1, got %v", got)
	}

	svc.sample()
	if got := testutil.ToFloat64(headMoves); got != before+1 {
		t.Fatal("expected no additional head move when the head hash is unchanged")
	}
}

func TestStatus_ReportsNilWhenServerNeverFailed(t *testing.T) {
	registry := services.NewRegistry()
	bc := blockchain.New(tree.New(), state.New(nil), execution.New())
	svc := New("127.0.0.1:0", registry, bc, time.Hour)
	if err := svc.Status(); err != nil {
		t.Fatalf("expected nil status before Start, got %v", err)
	}
}
