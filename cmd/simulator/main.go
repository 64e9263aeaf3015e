// Command simulator launches an in-process network of simulated
// Proof-of-Stake validator nodes from a single entrypoint. Its
// cli.App shape (Name/Usage/Version/Action/Flags) follows
// validator/main.go, trimmed to the flags this simulator actually has
// a use for.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ethsim/beaconsim/beacon-chain/execution"
	"github.com/ethsim/beaconsim/beacon-chain/network"
	"github.com/ethsim/beaconsim/beacon-chain/node"
	"github.com/ethsim/beaconsim/beacon-chain/state"
	"github.com/ethsim/beaconsim/beacon-chain/tree"
	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/params"
	"github.com/ethsim/beaconsim/shared/roughtime"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	&cli.IntFlag{
		Name:  "node-count",
		Usage: "number of simulated validator nodes to run",
		Value: params.MainnetConfig().NodeCount,
	},
	&cli.BoolFlag{
		Name:  "minimal-config",
		Usage: "use the scaled-down MinimalConfig instead of MainnetConfig",
	},
	&cli.DurationFlag{
		Name:  "run-for",
		Usage: "duration to run the simulation before shutting down; 0 runs until interrupted",
		Value: 0,
	},
	&cli.Int64Flag{
		Name:  "seed",
		Usage: "seed for the simulated network's message delay distribution",
		Value: 1,
	},
	&cli.StringFlag{
		Name:  "storage-dir",
		Usage: "directory for per-node bbolt checkpoint files; empty disables persistence",
	},
	&cli.StringFlag{
		Name:  "metrics-host",
		Usage: "host:port prefix for each node's metrics server; node index is appended to the port",
		Value: "127.0.0.1:9100",
	},
	&cli.BoolFlag{
		Name:  "disable-metrics",
		Usage: "disable the per-node Prometheus metrics server",
	},
	&cli.StringFlag{
		Name:  "verbosity",
		Usage: "logging verbosity (debug, info, warn, error)",
		Value: "info",
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "simulator"
	app.Usage = "runs an educational Proof-of-Stake beacon chain simulation in a single process"
	app.Flags = appFlags
	app.Action = runSimulation

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runSimulation(cliCtx *cli.Context) error {
	level, err := logrus.ParseLevel(cliCtx.String("verbosity"))
	if err != nil {
		return fmt.Errorf("invalid verbosity: %w", err)
	}
	logrus.SetLevel(level)

	if cliCtx.Bool("minimal-config") {
		params.OverrideBeaconConfig(params.MinimalConfig())
	}
	cfg := params.BeaconConfig().Copy()
	if cliCtx.IsSet("node-count") {
		cfg.NodeCount = cliCtx.Int("node-count")
	}
	params.OverrideBeaconConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes, err := bootstrap(ctx, cliCtx)
	if err != nil {
		return err
	}

	for _, n := range nodes {
		n.Start()
	}
	log.WithField("nodes", len(nodes)).Info("Simulation running")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	if runFor := cliCtx.Duration("run-for"); runFor > 0 {
		select {
		case <-time.After(runFor):
		case <-sigc:
		}
	} else {
		<-sigc
	}

	log.Info("Shutting down simulation")
	for _, n := range nodes {
		n.Close()
	}
	return nil
}

// bootstrap builds one node.Node per validator, each with its own
// genesis tree/state/world, all sharing one network.Bus.
func bootstrap(ctx context.Context, cliCtx *cli.Context) ([]*node.Node, error) {
	cfg := params.BeaconConfig()

	identities := make([]*node.ValidatorIdentity, cfg.NodeCount)
	for i := range identities {
		id, err := node.NewValidatorIdentity(i)
		if err != nil {
			return nil, err
		}
		identities[i] = id
	}
	validators := node.GenesisValidatorSet(identities)

	peerAddresses := make([]common.Address, len(identities))
	for i, id := range identities {
		peerAddresses[i] = common.HexToAddress(id.NodeAddress)
	}

	genesisTime := roughtime.Now()
	bus := network.NewBus(cliCtx.Int64("seed"))

	disableMetrics := cliCtx.Bool("disable-metrics")
	storageDir := cliCtx.String("storage-dir")
	metricsHost := cliCtx.String("metrics-host")

	nodes := make([]*node.Node, 0, len(identities))
	for i, id := range identities {
		genesisWorld := execution.New()
		genesisWorld.SeedAccount(common.HexToAddress(id.NodeAddress), cfg.MaxEffectiveBalance)
		genesisState := state.New(cloneValidators(validators))
		genesisState.SetRandaoMix(0, cfg.GenesisRandaoMix)

		peers := make([]common.Address, 0, len(peerAddresses)-1)
		for j, addr := range peerAddresses {
			if j != i {
				peers = append(peers, addr)
			}
		}

		nodeCfg := &node.Config{
			Identity:     id,
			Peers:        peers,
			GenesisTime:  genesisTime,
			Bus:          bus,
			GenesisTree:  tree.New(),
			GenesisState: genesisState,
			GenesisWorld: genesisWorld,
			StorageDir:   storageSubdir(storageDir, i),
		}
		if !disableMetrics {
			nodeCfg.MetricsAddr = fmt.Sprintf("%s%d", metricsHost, i)
		}

		n, err := node.New(ctx, nodeCfg)
		if err != nil {
			return nil, fmt.Errorf("could not construct node %d: %w", i, err)
		}
		if err := n.Chain().AddBlock(genesisBlock(genesisTime)); err != nil {
			return nil, fmt.Errorf("could not seed genesis block for node %d: %w", i, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func genesisBlock(genesisTime time.Time) *types.Block {
	cfg := params.BeaconConfig()
	block := types.NewBlock(0, 0, cfg.GenesisPrevHash, genesisTime.Unix(), nil)
	block.RandaoReveal = cfg.GenesisRandaoReveal[:]
	return block
}

func cloneValidators(validators []*types.Validator) []*types.Validator {
	out := make([]*types.Validator, len(validators))
	for i, v := range validators {
		cp := *v
		out[i] = &cp
	}
	return out
}

func storageSubdir(base string, index int) string {
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/validator-%d", base, index)
}
