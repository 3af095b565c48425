package driver

import (
	"github.com/lapesd/faultsolve/internal/checkpoint/buddy"
	"github.com/lapesd/faultsolve/internal/checkpoint/store"
	"github.com/lapesd/faultsolve/internal/stencil"
)

// Checkpoint is the driver's view of either checkpoint backend: when
// to capture, how to capture, and how to restore a field in place.
type Checkpoint interface {
	ShouldCheckpoint(iteration, maxIter int) bool
	// Capture persists f at iteration. worldSize is the current live
	// world size, which the store variant needs to decide whether this
	// call completes the collective dataset.
	Capture(iteration int, f *stencil.Field, worldSize int) error
	// Restore fills f in place if a checkpoint is available, returning
	// ok=false if the driver should instead start from initial
	// conditions (store variant, nothing durable yet) or treat the
	// data as lost and rewind (buddy variant, loss sentinel).
	Restore(f *stencil.Field) (ok bool, iteration int, err error)
}

// StoreCheckpoint adapts the external-store state machine to
// Checkpoint.
type StoreCheckpoint struct {
	Store    *store.Store
	Interval int
	Debug    bool

	// UseStoreDecision delegates the "should I checkpoint now?" choice
	// to the backend's own Newest() state (checkpoint whenever this
	// rank is ahead of the last committed dataset) instead of the
	// modulo-K heuristic, per the --use-scr-need-checkpoint flag.
	UseStoreDecision bool
}

func (c *StoreCheckpoint) ShouldCheckpoint(iteration, maxIter int) bool {
	if iteration == maxIter-1 {
		return false
	}
	if c.UseStoreDecision {
		newest, ok, err := c.Store.HaveRestart()
		if err != nil || !ok {
			return true
		}
		return iteration > newest
	}
	return store.NeedCheckpoint(iteration, c.Interval, maxIter)
}

func (c *StoreCheckpoint) Capture(iteration int, f *stencil.Field, worldSize int) error {
	return c.Store.Checkpoint(iteration, worldSize, store.Payload{Tile: f.Data, HasDebug: c.Debug})
}

func (c *StoreCheckpoint) Restore(f *stencil.Field) (bool, int, error) {
	iteration, ok, err := c.Store.HaveRestart()
	if err != nil || !ok {
		return false, 0, err
	}
	p, err := c.Store.Restore(iteration, len(f.Data))
	if err != nil {
		return false, 0, err
	}
	copy(f.Data, p.Tile)
	return true, iteration, nil
}

// BuddyCheckpoint adapts the circular-buddy ring to Checkpoint. It
// does not track a durable iteration number of its own; the driver's
// own CkptIteration is what the repair protocol allreduces.
type BuddyCheckpoint struct {
	Ring     *buddy.Ring
	Interval int
}

func (c *BuddyCheckpoint) ShouldCheckpoint(iteration, maxIter int) bool {
	return store.NeedCheckpoint(iteration, c.Interval, maxIter)
}

func (c *BuddyCheckpoint) Capture(iteration int, f *stencil.Field, _ int) error {
	return c.Ring.Exchange(iteration, f.Data)
}

func (c *BuddyCheckpoint) Restore(f *stencil.Field) (bool, int, error) {
	data, err := c.Ring.RestoreFromSuccessor(len(f.Data))
	if err != nil {
		return false, 0, err
	}
	if data == nil {
		return false, 0, nil
	}
	copy(f.Data, data)
	return true, 0, nil
}
