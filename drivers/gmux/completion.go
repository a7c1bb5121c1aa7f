package gmux

import (
	"sync"
	"time"
)

// completion is the one-shot, re-armable rendezvous between the power
// sequencer and the interrupt bridge. arm discards any stale fulfilment, so
// the sequencer must arm before issuing the writes that can raise the
// interrupt; that ordering is what prevents a lost wakeup when the interrupt
// fires before the wait starts.
type completion struct {
	mu sync.Mutex
	ch chan struct{}
}

func newCompletion() *completion { return &completion{} }

// arm replaces the channel, discarding any fulfilment of a previous cycle.
func (c *completion) arm() {
	c.mu.Lock()
	c.ch = make(chan struct{}, 1)
	c.mu.Unlock()
}

// complete fulfils the current cycle. Safe to call from the platform event
// goroutine at any time; never blocks, and is a no-op when nothing is armed
// or the cycle is already fulfilled.
func (c *completion) complete() {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// wait blocks until the armed cycle is fulfilled or the bound elapses.
// It reports whether the fulfilment arrived in time.
func (c *completion) wait(bound time.Duration) bool {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	t := time.NewTimer(bound)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
