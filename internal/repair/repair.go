// Package repair implements the world repair protocol: an explicit
// state machine driving shrink/spawn/merge/split-reorder with a
// capped-retry loop and exponential backoff, grounded on the
// teacher's orchestrator.TestState (iota enum + String()) and its
// interruptibleSleep backoff helper.
package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/lapesd/faultsolve/internal/fabric"
	"github.com/lapesd/faultsolve/internal/fabric/local"
	"github.com/lapesd/faultsolve/pkg/logging"
)

// State is one phase of the world repair protocol.
type State int

const (
	StateActive State = iota
	StateRevoked
	StateShrinking
	StateSpawning
	StateMerging
	StateReordering
	StateRestored
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateRevoked:
		return "REVOKED"
	case StateShrinking:
		return "SHRINKING"
	case StateSpawning:
		return "SPAWNING"
	case StateMerging:
		return "MERGING"
	case StateReordering:
		return "SPLIT_REORDERING"
	case StateRestored:
		return "RESTORED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Spawner starts replacement processes for dead ranks. The backend
// that actually launches containers (internal/spawner/docker)
// implements this; fabric/local's test harness
// uses a trivial in-process Spawner that just starts new goroutines.
type Spawner interface {
	SpawnReplacements(ctx context.Context, n int) error
}

// Result is the outcome of a completed repair: the restored world (in
// original rank order) and the resume iteration computed from
// min(ckpt_iteration) across survivors, per spec §4.8 step 7.
type Result struct {
	World         fabric.World
	ResumeIter    int
	DeadRanks     []int
	AttemptsTaken int
}

// Config bounds the repair loop's retry behavior.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Run drives one full repair cycle starting from a revoked world,
// retrying the (shrink, spawn, merge, split) sequence up to
// cfg.MaxAttempts times with exponential backoff if any phase returns
// an error (spec §4.8's "retry from step 1" rule
// and the design notes' capped-retry-loop guidance).
//
// deadRanks and ckptIteration are supplied by the caller (the driver,
// via its fault detector) since discovering which ranks are dead and
// what each survivor's last committed checkpoint iteration was is
// outside repair's own responsibility.
func Run(ctx context.Context, log *logging.Logger, world fabric.World, deadRanks []int, ckptIteration int, cfg Config) (Result, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		res, err := attemptRepair(world, deadRanks, ckptIteration)
		if err == nil {
			res.AttemptsTaken = attempt
			if log != nil {
				log.Info("world repair succeeded", "attempt", attempt, "resume_iteration", res.ResumeIter)
			}
			return res, nil
		}
		lastErr = err
		if log != nil {
			log.Warn("world repair attempt failed, retrying", "attempt", attempt, "error", err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if err := interruptibleSleep(ctx, backoff); err != nil {
			return Result{}, fmt.Errorf("repair interrupted during backoff: %w", err)
		}
		backoff *= 2
	}
	return Result{}, fmt.Errorf("world repair exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func attemptRepair(world fabric.World, deadRanks []int, ckptIteration int) (Result, error) {
	// 1. Shrink.
	shrunk, err := world.Shrink(deadRanks)
	if err != nil {
		return Result{}, fmt.Errorf("shrink: %w", err)
	}

	// Survivors may have committed a different number of checkpoints
	// before the fault, so the resume iteration must come from the
	// minimum across all of them, never a single rank's own
	// ckptIteration.
	minCkpt, err := shrunk.AllreduceMin(float64(ckptIteration))
	if err != nil {
		return Result{}, fmt.Errorf("agree on resume iteration: %w", err)
	}

	nd := len(deadRanks)
	merged := shrunk

	// 2. Spawn, only if replacements are needed.
	if nd > 0 {
		spawned, err := shrunk.Spawn(nd)
		if err != nil {
			return Result{}, fmt.Errorf("spawn: %w", err)
		}

		// 4. Merge survivors and spawnees.
		merged, err = shrunk.Merge(spawned)
		if err != nil {
			return Result{}, fmt.Errorf("merge: %w", err)
		}
	}

	// 5. Reorder to original ranks: survivors keep their original
	// rank, spawnees fill the vacated ones in order.
	order := assignOriginalRanks(world.Size(), deadRanks)
	restored, err := merged.SplitByRank(order)
	if err != nil {
		return Result{}, fmt.Errorf("split reorder: %w", err)
	}

	return Result{
		World:      restored,
		ResumeIter: int(minCkpt) + 1,
		DeadRanks:  deadRanks,
	}, nil
}

// AssignOriginalRanks exposes assignOriginalRanks for callers outside
// this package that need to agree on the same merged-position ->
// original-rank mapping without going through a live World — a
// replacement process joining fabric/grpc directly (see
// internal/cliapp) recomputes its own final rank this way from the
// same statically-known deadRanks list every process in the
// deployment is configured with, rather than waiting on a runtime
// rank-assignment message.
func AssignOriginalRanks(oldSize int, deadRanks []int) map[int]int {
	return assignOriginalRanks(oldSize, deadRanks)
}

// assignOriginalRanks computes the SplitByRank order map: a survivor
// (any rank in [0,oldSize) not in deadRanks) is mapped from its
// position among survivors back to its own original rank, and the
// trailing spawned ranks (appended after survivors by Merge) fill the
// vacated original ranks in ascending order. This reproduces
// spec §4.8 step 3: rank 0's survivor computes old_world \ survivors
// to get the vacant list, in order.
func assignOriginalRanks(oldSize int, deadRanks []int) map[int]int {
	dead := make(map[int]bool, len(deadRanks))
	for _, r := range deadRanks {
		dead[r] = true
	}

	var vacancies []int
	for r := 0; r < oldSize; r++ {
		if dead[r] {
			vacancies = append(vacancies, r)
		}
	}

	order := make(map[int]int)
	survivorIdx := 0
	for r := 0; r < oldSize; r++ {
		if !dead[r] {
			order[survivorIdx] = r
			survivorIdx++
		}
	}
	for _, vacant := range vacancies {
		order[len(order)] = vacant
	}
	return order
}

func interruptibleSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LocalSpawner launches replacement ranks as new goroutines against
// an in-process fabric/local world — the harness used by tests and
// --simulate runs. run is the driver entry point each new rank
// executes.
type LocalSpawner struct {
	Spawned fabric.World
	Run     func(w fabric.World)
}

// SpawnReplacements starts n goroutines, one per spawned rank.
func (s *LocalSpawner) SpawnReplacements(ctx context.Context, n int) error {
	ranks := local.SpawnGroup(s.Spawned)
	if len(ranks) != n {
		return fmt.Errorf("spawned group size %d does not match requested %d", len(ranks), n)
	}
	for _, w := range ranks {
		go s.Run(w)
	}
	return nil
}
