package consensus

import (
	"sync"

	"github.com/ethsim/beaconsim/beacon-chain/types"
)

// Mempool is a node-local queue of pending transactions awaiting
// inclusion, populated by whatever submits transactions to this node
// (a UI or load generator, both external collaborators per spec.md
// §1). It is not part of consensus state: unlike beaconPool
// (beacon-chain/state), nothing about fork choice or finality depends
// on it.
type Mempool struct {
	mu      sync.Mutex
	pending []*types.Transaction
}

// NewMempool constructs an empty Mempool.
func NewMempool() *Mempool {
	return &Mempool{}
}

// Add appends tx to the pending queue.
func (m *Mempool) Add(tx *types.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, tx)
}

// Len reports the number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Drain removes and returns up to max pending transactions, oldest
// first.
func (m *Mempool) Drain(max int) []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max > len(m.pending) {
		max = len(m.pending)
	}
	out := m.pending[:max]
	m.pending = m.pending[max:]
	return out
}
