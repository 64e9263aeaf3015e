// Package slotutil provides a slot-aligned ticker, adapted from
// beacon-chain/utils.SlotTicker. The channel emits once per
// SecondsPerSlot, phase-locked to genesis time so the wait between
// ticks is always an exact multiple of the slot duration even if the
// caller starts the ticker well after genesis.
package slotutil

import (
	"time"

	"github.com/ethsim/beaconsim/shared/params"
)

// SlotTicker emits the current slot number once per slot boundary.
type SlotTicker struct {
	c    chan uint64
	done chan struct{}
}

// C returns the ticker channel. Call Done afterwards to stop the
// background goroutine cleanly.
func (s *SlotTicker) C() <-chan uint64 {
	return s.c
}

// Done stops the ticker's goroutine.
func (s *SlotTicker) Done() {
	go func() {
		s.done <- struct{}{}
	}()
}

// NewSlotTicker constructs and starts a SlotTicker anchored at
// genesisTime.
func NewSlotTicker(genesisTime time.Time) *SlotTicker {
	t := &SlotTicker{
		c:    make(chan uint64),
		done: make(chan struct{}),
	}
	t.start(genesisTime, params.BeaconConfig().SecondsPerSlot, time.Since, time.Until, time.After)
	return t
}

func (s *SlotTicker) start(
	genesisTime time.Time,
	secondsPerSlot uint64,
	since func(time.Time) time.Duration,
	until func(time.Time) time.Duration,
	after func(time.Duration) <-chan time.Time,
) {
	d := time.Duration(secondsPerSlot) * time.Second

	go func() {
		sinceGenesis := since(genesisTime)

		var nextTickTime time.Time
		var slot uint64
		if sinceGenesis < 0 {
			nextTickTime = genesisTime
			slot = 0
		} else {
			nextTick := sinceGenesis.Truncate(d) + d
			nextTickTime = genesisTime.Add(nextTick)
			slot = uint64(nextTick / d)
		}

		for {
			waitTime := until(nextTickTime)
			select {
			case <-after(waitTime):
				s.c <- slot
				slot++
				nextTickTime = nextTickTime.Add(d)
			case <-s.done:
				return
			}
		}
	}()
}
