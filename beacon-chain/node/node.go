// Package node wires one simulated validator's full consensus core
// together: BlockTree, BeaconState, WorldState, the Blockchain
// coordinator, the consensus and sync services, and an optional
// storage checkpoint and metrics endpoint, then drives their
// lifecycle through a shared/services.Registry. Its shape (ctx,
// registry, lock, stop channel, registerXService methods) follows
// BeaconNode's own node-wiring shape, generalized from a single
// shared beacon chain to one instance per simulated validator, all
// sharing one network.Bus.
package node

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/beaconsim/beacon-chain/blockchain"
	"github.com/ethsim/beaconsim/beacon-chain/consensus"
	"github.com/ethsim/beaconsim/beacon-chain/execution"
	"github.com/ethsim/beaconsim/beacon-chain/metrics"
	"github.com/ethsim/beaconsim/beacon-chain/network"
	"github.com/ethsim/beaconsim/beacon-chain/randao"
	"github.com/ethsim/beaconsim/beacon-chain/state"
	"github.com/ethsim/beaconsim/beacon-chain/storage"
	"github.com/ethsim/beaconsim/beacon-chain/sync"
	"github.com/ethsim/beaconsim/beacon-chain/tree"
	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/params"
	"github.com/ethsim/beaconsim/shared/services"
)

var log = logrus.WithField("prefix", "node")

const inboxBufferSize = 256

// metricsPollInterval is how often the metrics service re-samples
// ChainInfo to update its gauges.
const metricsPollInterval = 2 * time.Second

// ValidatorIdentity is everything that makes one simulated validator
// distinct: its node address, its ECDSA signing key (for the
// transactions it proposes), and its RANDAO secret key.
type ValidatorIdentity struct {
	NodeAddress string
	ECDSAKey    *ecdsa.PrivateKey
	RandaoKey   *randao.SecretKey
}

// NewValidatorIdentity deterministically derives a validator's keys
// from its ordinal index, so a simulation run is reproducible without
// needing a seed file.
func NewValidatorIdentity(index int) (*ValidatorIdentity, error) {
	ecdsaSeed := sha256.Sum256([]byte(fmt.Sprintf("validator-ecdsa-seed-%d", index)))
	ecdsaKey, err := gethcrypto.ToECDSA(ecdsaSeed[:])
	if err != nil {
		return nil, fmt.Errorf("could not generate ECDSA key for validator %d: %w", index, err)
	}
	var ikm [32]byte
	binarySeed := sha256.Sum256([]byte(fmt.Sprintf("validator-randao-seed-%d", index)))
	copy(ikm[:], binarySeed[:])
	randaoKey, err := randao.GenerateKey(ikm)
	if err != nil {
		return nil, fmt.Errorf("could not generate RANDAO key for validator %d: %w", index, err)
	}
	addr := gethcrypto.PubkeyToAddress(ecdsaKey.PublicKey)
	return &ValidatorIdentity{
		NodeAddress: addr.Hex(),
		ECDSAKey:    ecdsaKey,
		RandaoKey:   randaoKey,
	}, nil
}

// Config describes everything needed to bring one validator node
// online within a shared simulation.
type Config struct {
	Identity        *ValidatorIdentity
	Peers           []common.Address // the other validators' addresses, for per-block payments
	ContractAddress *common.Address  // optional sweep target for the distribution transaction
	GenesisTime     time.Time

	Bus          *network.Bus
	GenesisTree  *tree.BlockTree
	GenesisState *state.BeaconState
	GenesisWorld *execution.WorldState
	StorageDir   string // empty disables checkpoint persistence
	MetricsAddr  string // empty disables the metrics HTTP server
}

// Node is one simulated validator's full consensus core.
type Node struct {
	ctx      context.Context
	cancel   context.CancelFunc
	services *services.Registry
	lock     sync.Mutex
	stop     chan struct{}

	chain *blockchain.Blockchain
	store *storage.Store
}

// New constructs a Node: it builds the chain coordinator, opens the
// checkpoint store if cfg names a storage directory (the store is held
// by the Node, not registered as a service), then registers the
// consensus and sync services, and metrics last since it only
// observes the others.
func New(ctx context.Context, cfg *Config) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)
	n := &Node{
		ctx:      ctx,
		cancel:   cancel,
		services: services.NewRegistry(),
		stop:     make(chan struct{}),
	}

	n.chain = blockchain.New(cfg.GenesisTree, cfg.GenesisState, cfg.GenesisWorld)

	if cfg.StorageDir != "" {
		store, err := storage.Open(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("could not open checkpoint store: %w", err)
		}
		n.store = store
	}

	inboxFeed := cfg.Bus.Register(cfg.Identity.NodeAddress)

	mempool := consensus.NewMempool()
	consensusSvc := consensus.New(ctx, &consensus.Config{
		NodeAddress:     cfg.Identity.NodeAddress,
		ECDSAKey:        cfg.Identity.ECDSAKey,
		RandaoKey:       cfg.Identity.RandaoKey,
		Peers:           cfg.Peers,
		ContractAddress: cfg.ContractAddress,
		Chain:           n.chain,
		Bus:             cfg.Bus,
		Mempool:         mempool,
		InboxFeed:       inboxFeed,
		InboxBuf:        inboxBufferSize,
		GenesisTime:     cfg.GenesisTime,
	})
	if err := n.services.RegisterService(consensusSvc); err != nil {
		return nil, err
	}

	syncSvc := sync.New(ctx, &sync.Config{
		NodeAddress: cfg.Identity.NodeAddress,
		Bus:         cfg.Bus,
		Chain:       n.chain,
		InboxFeed:   inboxFeed,
		InboxBuf:    inboxBufferSize,
	})
	if err := n.services.RegisterService(syncSvc); err != nil {
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		metricsSvc := metrics.New(cfg.MetricsAddr, n.services, n.chain, metricsPollInterval)
		if err := n.services.RegisterService(metricsSvc); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// Start kicks off every registered service.
func (n *Node) Start() {
	n.lock.Lock()
	defer n.lock.Unlock()
	log.WithField("node", "validator").Info("Starting validator node")
	n.services.StartAll()
}

// Close gracefully stops every registered service and the checkpoint
// store, then signals Wait.
func (n *Node) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.services.StopAll()
	n.cancel()
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			log.WithError(err).Error("Could not close checkpoint store")
		}
	}
	close(n.stop)
}

// Wait blocks until Close has been called.
func (n *Node) Wait() {
	<-n.stop
}

// Chain exposes the underlying Blockchain for read-only inspection
// (a UI or test harness polling ChainInfo).
func (n *Node) Chain() *blockchain.Blockchain { return n.chain }

// Checkpoint persists the node's current head hash, FFG checkpoints,
// and the blocks of the canonical chain, if a storage directory was
// configured. World-state accounts are not written.
func (n *Node) Checkpoint() error {
	if n.store == nil {
		return nil
	}
	info := n.chain.ChainInfo()
	previousJustified := n.chain.State().PreviousJustifiedCheckpoint()
	if err := n.store.SaveCheckpoints(info.HeadHash, info.JustifiedCheckpoint, previousJustified, info.FinalizedCheckpoint); err != nil {
		return err
	}
	for _, block := range n.chain.Tree().GetCanonicalChain() {
		if err := n.store.SaveBlock(block); err != nil {
			return err
		}
	}
	return nil
}

// GenesisValidatorSet builds the BeaconState validator list for a
// freshly-generated set of identities, each staked at
// MaxEffectiveBalance, matching spec.md §3's validator bootstrapping.
func GenesisValidatorSet(identities []*ValidatorIdentity) []*types.Validator {
	cfg := params.BeaconConfig()
	out := make([]*types.Validator, len(identities))
	for i, id := range identities {
		out[i] = &types.Validator{NodeAddress: id.NodeAddress, StakedEth: cfg.MaxEffectiveBalance}
	}
	return out
}
