// Package consensus drives the slot timer described in spec.md §4.6:
// on each tick it resolves the slot's proposer via RANDAO, proposes a
// block when this node is the proposer, and emits an attestation for
// any block (its own or a peer's) that lands on the canonical chain.
// Its Service shape mirrors beacon-chain/attestation/service.go; the
// slot-tick source is shared/slotutil.SlotTicker, generalized to drive
// proposer selection instead of a fixed simulator schedule.
package consensus

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/beaconsim/beacon-chain/blockchain"
	"github.com/ethsim/beaconsim/beacon-chain/casper"
	"github.com/ethsim/beaconsim/beacon-chain/network"
	"github.com/ethsim/beaconsim/beacon-chain/randao"
	"github.com/ethsim/beaconsim/beacon-chain/state"
	"github.com/ethsim/beaconsim/beacon-chain/types"
	"github.com/ethsim/beaconsim/shared/params"
	"github.com/ethsim/beaconsim/shared/roughtime"
	"github.com/ethsim/beaconsim/shared/slotutil"
)

var log = logrus.WithField("prefix", "consensus")

// Service runs one validator node's proposal and attestation logic
// against a shared blockchain.Blockchain and network.Bus.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	nodeAddress string
	chain       *blockchain.Blockchain
	bus         *network.Bus
	mempool     *Mempool

	ecdsaKey        *ecdsa.PrivateKey
	ecdsaAddress    common.Address
	randaoKey       *randao.SecretKey
	peers           []common.Address
	contractAddress *common.Address

	genesisTime time.Time
	inbox       chan network.Message
	sub         event.Subscription
	now         func() time.Time
}

// Config wires a Service to its validator identity, keys, chain, and
// bus.
type Config struct {
	NodeAddress     string
	ECDSAKey        *ecdsa.PrivateKey
	RandaoKey       *randao.SecretKey
	Peers           []common.Address
	ContractAddress *common.Address

	Chain       *blockchain.Blockchain
	Bus         *network.Bus
	Mempool     *Mempool
	InboxFeed   *event.Feed
	InboxBuf    int
	GenesisTime time.Time
}

// New constructs a Service subscribed to cfg.InboxFeed.
func New(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		ctx:             ctx,
		cancel:          cancel,
		nodeAddress:     cfg.NodeAddress,
		chain:           cfg.Chain,
		bus:             cfg.Bus,
		mempool:         cfg.Mempool,
		ecdsaKey:        cfg.ECDSAKey,
		ecdsaAddress:    crypto.PubkeyToAddress(cfg.ECDSAKey.PublicKey),
		randaoKey:       cfg.RandaoKey,
		peers:           cfg.Peers,
		contractAddress: cfg.ContractAddress,
		genesisTime:     cfg.GenesisTime,
		inbox:           make(chan network.Message, cfg.InboxBuf),
		now:             roughtime.Now,
	}
	s.sub = cfg.InboxFeed.Subscribe(s.inbox)
	return s
}

// Start launches the slot ticker and the inbound message loop.
func (s *Service) Start() {
	log.WithField("node", s.nodeAddress).Info("Starting consensus service")
	go s.tickLoop()
	go s.receiveLoop()
}

// Stop cancels both background goroutines.
func (s *Service) Stop() error {
	s.cancel()
	s.sub.Unsubscribe()
	return nil
}

// Status always reports healthy; the consensus core has no external
// dependency that can fail independently of the chain it drives.
func (s *Service) Status() error {
	return nil
}

func (s *Service) tickLoop() {
	ticker := slotutil.NewSlotTicker(s.genesisTime)
	defer ticker.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case slot := <-ticker.C():
			s.onSlotTick(slot)
		}
	}
}

func (s *Service) receiveLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			s.handle(msg)
		}
	}
}

func (s *Service) handle(msg network.Message) {
	switch payload := msg.Payload.(type) {
	case network.ProposerBlockBroadcast:
		s.onProposedBlock(payload.Block, payload.Slot)
	case network.AttestationMessage:
		if err := s.chain.OnAttestationReceived(payload.Attestation); err != nil {
			log.WithError(err).Debug("OnAttestationReceived failed")
		}
	}
}

// onSlotTick implements spec.md §4.6 steps 1-4: resolve this slot's
// proposer and, if it names this node, build and broadcast a block.
func (s *Service) onSlotTick(slot uint64) {
	proposer, ok := ProposerForSlot(s.chain.State(), slot)
	if !ok {
		log.WithField("slot", slot).Debug("Proposer schedule deferred: RANDAO mix not yet available")
		return
	}
	if proposer != s.nodeAddress {
		return
	}
	block := s.buildBlockForSlot(slot)
	if err := s.chain.AddBlock(block); err != nil {
		log.WithError(err).WithField("slot", slot).Warn("Self-proposed block rejected")
		return
	}
	s.bus.Broadcast(s.nodeAddress, network.ProposerBlockBroadcast{Block: block, Slot: slot})
	s.attestToHead(slot)
}

func (s *Service) buildBlockForSlot(slot uint64) *types.Block {
	info := s.chain.ChainInfo()
	cfg := params.BeaconConfig()
	epoch := state.GetEpoch(slot)

	acc := s.chain.World().Account(s.ecdsaAddress)
	attestations := filterIncludableAttestations(s.chain.State().BeaconPool())

	return BuildBlock(BuildBlockParams{
		Height:             info.HeadHeight + 1,
		Slot:               slot,
		PreviousHeaderHash: info.HeadHash,
		Timestamp:          s.now().Unix(),
		ProtocolNodeID:     common.HexToAddress(cfg.ProtocolNodeID),
		BlockReward:        cfg.BlockReward,
		ProposerAddress:    s.ecdsaAddress,
		ProposerKey:        s.ecdsaKey,
		ProposerNonce:      acc.Nonce,
		ProposerBalance:    acc.Balance,
		Peers:              s.peers,
		ContractAddress:    s.contractAddress,
		MempoolTxs:         s.mempool.Drain(cfg.MaxBlockTxs),
		Attestations:       attestations,
		RandaoReveal:       s.randaoKey.SignEpoch(epoch).Marshal(),
	})
}

// filterIncludableAttestations is a placeholder for the
// processedAttestations filter spec.md §4.6 names ("drawn from
// beaconPool, filtered by processedAttestations"); BeaconState.BeaconPool
// already excludes anything marked processed (beacon-chain/state's
// AddAttestationToPool checks processedAttestations before admitting an
// entry), so no further filtering is needed here.
func filterIncludableAttestations(pool []*types.Attestation) []*types.Attestation {
	return pool
}

// onProposedBlock implements spec.md §4.6 step 5: insert the block and,
// if it was accepted, attest to the current slot's canonical block.
func (s *Service) onProposedBlock(block *types.Block, slot uint64) {
	if err := s.chain.AddBlock(block); err != nil {
		log.WithError(err).WithField("slot", slot).Debug("Proposed block not added")
		return
	}
	s.attestToHead(slot)
}

// attestToHead emits an attestation to the canonical block whose slot
// equals currentSlot, or the head block if none matches, carrying FFG
// source/target checkpoints (spec.md §4.6 step 5).
func (s *Service) attestToHead(currentSlot uint64) {
	chain := s.chain.Tree().GetCanonicalChain()
	if len(chain) == 0 {
		return
	}
	target := chain[len(chain)-1]
	for _, b := range chain {
		if b.Header.Slot == currentSlot {
			target = b
			break
		}
	}

	cfg := params.BeaconConfig()
	source, ffgTarget := casper.ComputeCheckpoints(currentSlot, chain, cfg.SlotsPerEpoch, s.chain.State())
	att := &types.Attestation{
		ValidatorAddress: s.nodeAddress,
		BlockHash:        target.Hash(),
		Timestamp:        s.now().Unix(),
		FFGSource:        &source,
		FFGTarget:        &ffgTarget,
	}
	if err := s.chain.OnAttestationReceived(att); err != nil {
		log.WithError(err).Debug("local attestation rejected")
		return
	}
	s.bus.Broadcast(s.nodeAddress, network.AttestationMessage{Attestation: att})
}
