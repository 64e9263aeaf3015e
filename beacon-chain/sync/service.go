// Package sync implements the three-message head-gossip protocol of
// spec.md §4.6: periodic LMD_GHOST_BROADCAST, CHAIN_REQUEST on an
// unrecognized head, and CHAIN_RESPONSE walking genesis-first to close
// the gap. Its Service shape (ctx/cancel/feed/chan, a ticker-driven
// goroutine subscribing to inbound messages) follows
// beacon-chain/attestation/service.go and
// beacon-chain/simulator/service.go.
package sync

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/beaconsim/beacon-chain/blockchain"
	"github.com/ethsim/beaconsim/beacon-chain/network"
	"github.com/ethsim/beaconsim/shared/params"
)

var log = logrus.WithField("prefix", "sync")

// Service runs one node's side of the head-gossip protocol against a
// shared network.Bus.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	nodeAddress string
	bus         *network.Bus
	chain       *blockchain.Blockchain

	inbox   chan network.Message
	sub     event.Subscription
	failErr error
}

// Config wires a Service to its node identity, bus, and chain. InboxFeed
// is the node's single bus inbox (shared with beacon-chain/consensus);
// the node wiring layer registers it once via Bus.Register and hands the
// same feed to every per-node service, since Bus addresses messages by
// node, not by service.
type Config struct {
	NodeAddress string
	Bus         *network.Bus
	Chain       *blockchain.Blockchain
	InboxFeed   *event.Feed
	InboxBuf    int
}

// New constructs a Service subscribed to cfg.InboxFeed.
func New(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		ctx:         ctx,
		cancel:      cancel,
		nodeAddress: cfg.NodeAddress,
		bus:         cfg.Bus,
		chain:       cfg.Chain,
		inbox:       make(chan network.Message, cfg.InboxBuf),
	}
	s.sub = cfg.InboxFeed.Subscribe(s.inbox)
	return s
}

// Start launches the broadcast ticker and the inbound message loop.
func (s *Service) Start() {
	log.WithField("node", s.nodeAddress).Info("Starting sync service")
	go s.broadcastLoop()
	go s.receiveLoop()
}

// Stop cancels both background goroutines.
func (s *Service) Stop() error {
	s.cancel()
	s.sub.Unsubscribe()
	return nil
}

// Status reports the last fatal condition observed, if any.
func (s *Service) Status() error {
	return s.failErr
}

// broadcastLoop announces this node's ghost head every
// SYNC_INTERVAL_MS, per spec.md §4.6.
func (s *Service) broadcastLoop() {
	interval := time.Duration(params.BeaconConfig().SyncIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			head := s.chain.ChainInfo().HeadHash
			s.bus.Broadcast(s.nodeAddress, network.GhostHeadBroadcast{GhostHeadHash: head})
		}
	}
}

// receiveLoop dispatches every inbound bus message this node receives
// that the sync protocol cares about (GhostHeadBroadcast, ChainRequest,
// ChainResponse); PROPOSER_BLOCK_BROADCAST and ATTESTATION messages are
// handled by beacon-chain/consensus, not here.
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
	case network.GhostHeadBroadcast:
		s.onGhostHeadBroadcast(msg.From, payload)
	case network.ChainRequest:
		s.onChainRequest(msg.From, payload)
	case network.ChainResponse:
		s.onChainResponse(payload)
	}
}

// onGhostHeadBroadcast requests the branch directly from the announcer
// when the announced head is not yet in the local tree (spec.md §4.6).
func (s *Service) onGhostHeadBroadcast(from string, msg network.GhostHeadBroadcast) {
	if _, ok := s.chain.Tree().GetNode(msg.GhostHeadHash); ok {
		return
	}
	s.bus.SendDirect(s.nodeAddress, from, network.ChainRequest{RequestedHeadHash: msg.GhostHeadHash})
}

// onChainRequest replies with the genesis-first chain leading to the
// requested head, or an empty response if it is no longer known
// locally (spec.md §4.6, §7: "sender has since advanced past it").
func (s *Service) onChainRequest(from string, msg network.ChainRequest) {
	blocks := s.chain.Tree().GetChain(msg.RequestedHeadHash)
	s.bus.SendDirect(s.nodeAddress, from, network.ChainResponse{
		RequestedHeadHash: msg.RequestedHeadHash,
		Blocks:            blocks,
	})
}

// onChainResponse hands the received blocks to Blockchain.AddChain,
// which validates structural linkage before inserting block by block
// (spec.md §4.6).
func (s *Service) onChainResponse(msg network.ChainResponse) {
	if len(msg.Blocks) == 0 {
		return
	}
	if err := s.chain.AddChain(msg.Blocks); err != nil {
		log.WithError(err).Debug("AddChain rejected sync response")
	}
}
