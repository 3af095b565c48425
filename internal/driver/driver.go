// Package driver owns the iteration loop's long-lived state record
// and the re-entry point the error handler's non-local unwind targets
// (modeled per the design notes as a tagged Continue/Repair/Fatal
// result the loop matches on, rather than an actual stack jump).
package driver

import (
	"context"
	"fmt"

	"github.com/lapesd/faultsolve/internal/fabric"
	"github.com/lapesd/faultsolve/internal/fault"
	"github.com/lapesd/faultsolve/internal/grid"
	"github.com/lapesd/faultsolve/internal/halo"
	"github.com/lapesd/faultsolve/internal/reduce"
	"github.com/lapesd/faultsolve/internal/repair"
	"github.com/lapesd/faultsolve/internal/stencil"
	"github.com/lapesd/faultsolve/pkg/logging"
	"github.com/lapesd/faultsolve/pkg/metrics"
)

// Kernel selects the local update rule the driver applies each
// iteration.
type Kernel int

const (
	KernelHeat Kernel = iota
	KernelSOR
)

// State is the record that must survive a repair unwind: iteration
// counters, the tile buffer(s), and the current fabric handle. It is
// owned by Driver and never reconstructed from scratch on repair,
// only rebound onto the restored world.
type State struct {
	Iteration     int
	CkptIteration int
	Field         *stencil.Field
	scratch       *stencil.Field // second buffer, heat kernel only
	World         fabric.World
	Handler       *fault.Handler
	NeedsRestore  bool
}

// TestHook lets a caller terminate a named rank at a given iteration,
// modeling the fault-injection hook in spec §4.9 step 7 / §7(f).
type TestHook func(iteration int) error

// Driver runs the fault-tolerant iterative solve for one rank.
type Driver struct {
	Tile       grid.Tile
	Kernel     Kernel
	HeatParams stencil.HeatParams
	SOROmega   float64
	MaxIter    int
	Epsilon    float64

	Checkpoint Checkpoint // nil disables checkpointing entirely
	Metrics    *metrics.Recorder
	Logger     *logging.Logger

	RepairConfig repair.Config
	// DeadRanks returns the ranks currently known to be gone, called
	// when entering repair. Tests and the --simulate harness supply a
	// fixed list for the scenario being driven; a real deployment
	// would derive this from the fabric transport's own liveness
	// tracking.
	DeadRanks func() []int
	TestHook  TestHook
	// Spawner launches replacement processes for dead ranks before the
	// world repair protocol's own Spawn call tries to reach them (a
	// fabric/grpc world only pops already-launched addresses off its
	// PendingSpawnAddrs queue; nothing in fabric itself starts a
	// process). nil disables automatic replacement, which is fine for
	// a world repair that only needs to shrink (fail-stop with no
	// replacement).
	Spawner repair.Spawner

	State State
}

// New builds a Driver and its initial State for a fresh (non-restored)
// start: both buffers are the caller-provided, already-initialized
// field.
func New(world fabric.World, tile grid.Tile, initial *stencil.Field, log *logging.Logger) *Driver {
	scratch := stencil.NewField(tile.Rows, tile.Cols)
	copy(scratch.Data, initial.Data)
	return &Driver{
		Tile:   tile,
		Logger: log,
		State: State{
			Field:   initial,
			scratch: scratch,
			World:   world,
			Handler: fault.NewHandler(world, log),
		},
	}
}

// Run executes the loop described in spec §4.9 until convergence or
// MaxIter, returning the final iteration reached.
func (d *Driver) Run(ctx context.Context) (int, error) {
	for {
		if d.State.NeedsRestore {
			if err := d.restore(); err != nil {
				return d.State.Iteration, err
			}
		}

		if d.State.Iteration >= d.MaxIter {
			return d.State.Iteration, nil
		}

		if ctx.Err() != nil {
			if d.Checkpoint != nil {
				if err := d.Checkpoint.Capture(d.State.Iteration, d.State.Field, d.State.World.Size()); err == nil {
					d.State.CkptIteration = d.State.Iteration
				}
			}
			return d.State.Iteration, ctx.Err()
		}

		if err := halo.Exchange(d.State.World, d.Tile, d.State.Field); err != nil {
			if repaired, rerr := d.handleFault(ctx, err); rerr != nil {
				return d.State.Iteration, rerr
			} else if repaired {
				continue
			}
		}

		diff := d.step()

		red := &reduce.Reducer{World: d.State.World, Epsilon: d.Epsilon}
		done, norm, err := red.Check(diff, d.State.Iteration, d.MaxIter)
		if err != nil {
			if repaired, rerr := d.handleFault(ctx, err); rerr != nil {
				return d.State.Iteration, rerr
			} else if repaired {
				continue
			}
		}
		if d.Metrics != nil {
			d.Metrics.SetIteration(d.State.Iteration)
			d.Metrics.SetDiffNorm(norm)
			d.Metrics.IncHaloRound()
		}

		if d.Checkpoint != nil && d.Checkpoint.ShouldCheckpoint(d.State.Iteration, d.MaxIter) {
			if err := d.Checkpoint.Capture(d.State.Iteration, d.State.Field, d.State.World.Size()); err != nil {
				if repaired, rerr := d.handleFault(ctx, err); rerr != nil {
					return d.State.Iteration, rerr
				} else if repaired {
					continue
				}
			} else {
				d.State.CkptIteration = d.State.Iteration
				if d.Metrics != nil {
					d.Metrics.IncCheckpoint()
				}
			}
		}

		if d.TestHook != nil {
			if err := d.TestHook(d.State.Iteration); err != nil {
				if repaired, rerr := d.handleFault(ctx, err); rerr != nil {
					return d.State.Iteration, rerr
				} else if repaired {
					continue
				}
			}
		}

		d.State.Iteration++
		if done {
			return d.State.Iteration, nil
		}
	}
}

// step applies this iteration's local update and leaves State.Field
// holding the newly computed values (swapping in the scratch buffer
// for the heat kernel's ping-pong, updating in place for SOR).
func (d *Driver) step() float64 {
	switch d.Kernel {
	case KernelHeat:
		diff := stencil.HeatStep(d.State.scratch, d.State.Field, d.HeatParams)
		d.State.Field, d.State.scratch = d.State.scratch, d.State.Field
		return diff
	case KernelSOR:
		return stencil.SORStep(d.State.Field, d.SOROmega)
	default:
		return 0
	}
}

func (d *Driver) restore() error {
	if d.Checkpoint == nil {
		d.State.NeedsRestore = false
		return nil
	}
	ok, iteration, err := d.Checkpoint.Restore(d.State.Field)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if ok {
		d.State.CkptIteration = iteration
		if d.State.Iteration <= iteration {
			d.State.Iteration = iteration + 1
		}
	}
	d.State.NeedsRestore = false
	return nil
}

// handleFault runs the repair protocol when the handler says this
// call is the one that should trigger it, and reports whether the
// caller should re-loop (true) rather than treat the error as fatal.
func (d *Driver) handleFault(ctx context.Context, err error) (repaired bool, fatal error) {
	action, triggered := d.State.Handler.Handle(err)
	if action == fault.ActionFatal {
		return false, err
	}
	if !triggered {
		// Another goroutine/rank already triggered repair for this
		// generation; this call just needs to wait for the caller's
		// own next pass to observe the rearmed world.
		return true, nil
	}

	var deadRanks []int
	if d.DeadRanks != nil {
		deadRanks = d.DeadRanks()
	}

	if len(deadRanks) > 0 && d.Spawner != nil {
		if serr := d.Spawner.SpawnReplacements(ctx, len(deadRanks)); serr != nil {
			return false, fmt.Errorf("spawn replacements: %w", serr)
		}
	}

	res, rerr := repair.Run(ctx, d.Logger, d.State.Handler.Active(), deadRanks, d.State.CkptIteration, d.RepairConfig)
	if rerr != nil {
		return false, fmt.Errorf("world repair failed: %w", rerr)
	}

	d.State.Handler.Rearm(res.World)
	d.State.World = res.World
	d.State.Iteration = res.ResumeIter
	d.State.NeedsRestore = true
	return true, nil
}
