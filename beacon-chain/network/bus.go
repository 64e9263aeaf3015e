// Package network implements the in-process simulated message bus that
// stands in for spec.md §1's "simulated network transport ... assumed"
// external collaborator. It does not put anything on a real wire: every
// node in a single process shares one Bus, and delivery is a goroutine
// plus a randomized delay rather than a socket.
//
// The publish/subscribe wiring (per-node inbox channel, goroutine-per-
// delivery) follows the Service{ctx,cancel,feed,chan} shape used
// throughout beacon-chain/attestation/service.go,
// beacon-chain/operations/service.go, and sharding/simulator/service.go,
// adapted from a single event.Feed per message type to one inbox feed
// per simulated node, since this bus must route some messages to every
// peer (broadcast) and others to exactly one peer (direct request/
// response), per spec.md §4.6 and §6.
package network

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/beaconsim/shared/params"
)

var log = logrus.WithField("prefix", "network")

// Message is one delivery on the bus: an opaque payload tagged with a
// unique ID and the node address that sent it, mirroring how the p2p
// layer tags messages with a peer.Peer. google/uuid gives each
// delivery a traceable identity the way beacon-chain/sync uses it for
// peer/request identifiers.
type Message struct {
	ID      uuid.UUID
	From    string
	Payload interface{}
}

// Bus is a wall-clock simulated message bus shared by every node in the
// process. Each node registers an inbox feed; Broadcast and SendDirect
// deliver to one or more inboxes from a time.AfterFunc goroutine after
// a random delay in [MinNetworkDelayMS, MaxNetworkDelayMS), or exactly
// MinNetworkDelayMS when the maximum is not above the minimum.
type Bus struct {
	mu     sync.RWMutex
	inboxs map[string]*event.Feed
	rng    *rand.Rand
	rngMu  sync.Mutex
}

// NewBus constructs an empty Bus. seed fixes the delay distribution for
// reproducible simulation runs; pass a time-derived seed for a live run.
func NewBus(seed int64) *Bus {
	return &Bus{
		inboxs: make(map[string]*event.Feed),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Register creates nodeAddress's inbox feed and returns it so the
// caller can Subscribe a receiving channel, per the
// IncomingBlockFeed/IncomingAttestationFeed pattern.
func (b *Bus) Register(nodeAddress string) *event.Feed {
	b.mu.Lock()
	defer b.mu.Unlock()
	feed := new(event.Feed)
	b.inboxs[nodeAddress] = feed
	return feed
}

// Unregister removes nodeAddress's inbox; subsequent sends to it are
// silently dropped, modeling a peer that has left the simulation.
func (b *Bus) Unregister(nodeAddress string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inboxs, nodeAddress)
}

// Peers returns every currently registered node address.
func (b *Bus) Peers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.inboxs))
	for addr := range b.inboxs {
		out = append(out, addr)
	}
	return out
}

// Broadcast delivers payload, tagged as coming from "from", to every
// other registered node's inbox (spec.md §4.6's LMD_GHOST_BROADCAST and
// PROPOSER_BLOCK_BROADCAST/ATTESTATION gossip).
func (b *Bus) Broadcast(from string, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for addr, feed := range b.inboxs {
		if addr == from {
			continue
		}
		b.deliver(feed, from, payload)
	}
}

// SendDirect delivers payload to exactly one node, for the
// CHAIN_REQUEST/CHAIN_RESPONSE direct messages of spec.md §4.6.
func (b *Bus) SendDirect(from, to string, payload interface{}) {
	b.mu.RLock()
	feed, ok := b.inboxs[to]
	b.mu.RUnlock()
	if !ok {
		log.WithField("to", to).Debug("SendDirect: unknown peer, message dropped")
		return
	}
	b.deliver(feed, from, payload)
}

// deliver schedules a feed.Send after a random delay within the
// configured network-delay window; each delivery draws its own delay,
// so deliveries from the same call may arrive in any order.
func (b *Bus) deliver(feed *event.Feed, from string, payload interface{}) {
	cfg := params.BeaconConfig()
	delay := b.randomDelay(cfg.MinNetworkDelayMS, cfg.MaxNetworkDelayMS)
	msg := Message{ID: uuid.New(), From: from, Payload: payload}
	time.AfterFunc(delay, func() {
		feed.Send(msg)
	})
}

func (b *Bus) randomDelay(minMS, maxMS int64) time.Duration {
	if maxMS <= minMS {
		return time.Duration(minMS) * time.Millisecond
	}
	b.rngMu.Lock()
	spread := b.rng.Int63n(maxMS - minMS)
	b.rngMu.Unlock()
	return time.Duration(minMS+spread) * time.Millisecond
}
