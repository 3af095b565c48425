// Package cliapp is the orchestration shared by cmd/heatsolve and
// cmd/jacobisolve: config loading, world construction (in-process
// fabric/local for --simulate, fabric/grpc for a real distributed
// run), per-rank driver wiring, and the fault-plan/cloudctl/spawner
// plumbing that turns a config into a running solve. Grounded on
// cmd/chaos-runner/run.go's single-RunE shape, generalized into a
// reusable entry point since two binaries share it here.
package cliapp

import (
	"context"
	"fmt"

	"github.com/lapesd/faultsolve/internal/checkpoint/store"
	"github.com/lapesd/faultsolve/internal/cloudctl"
	"github.com/lapesd/faultsolve/internal/driver"
	"github.com/lapesd/faultsolve/internal/fabric"
	"github.com/lapesd/faultsolve/internal/faultplan"
	"github.com/lapesd/faultsolve/internal/grid"
	"github.com/lapesd/faultsolve/internal/repair"
	"github.com/lapesd/faultsolve/internal/stencil"
	"github.com/lapesd/faultsolve/pkg/config"
	"github.com/lapesd/faultsolve/pkg/logging"
	"github.com/lapesd/faultsolve/pkg/metrics"
)

// Options bundles every flag both binaries accept. Not every field
// applies to every mode: Ranks is --simulate-only, Rank/Listen/Roster
// and the Spawned* fields are fabric/grpc-only.
type Options struct {
	ConfigPath string
	Kernel     driver.Kernel
	Debug      bool

	// Simulate runs Ranks goroutines against an in-process fabric/local
	// world instead of dialing out over fabric/grpc.
	Simulate bool
	Ranks    int

	// Distributed (fabric/grpc) addressing. Roster[Rank] must equal
	// Listen, or Listen may end in ":0" to bind an ephemeral port.
	Rank   int
	Listen string
	Roster []string

	// Spawned marks this process as a replacement rank bootstrapping
	// itself via ResolveSpareRank rather than joining as an original
	// member of Roster.
	Spawned     bool
	SpawnIndex  int
	SpawnRoster []string
	DeadRanks   []int

	// Docker, when set in distributed mode, wires an
	// internal/spawner/docker.Spawner as the driver's replacement-rank
	// launcher; SpawnRoster is then also set as the grpc world's
	// PendingSpawnAddrs so Spawn() has somewhere to pull addresses
	// from once the spawner has started containers listening there.
	Docker bool

	FaultPlanPath string
	MetricsAddr   string

	// GridP, GridQ, GridNB, GridMB override the config file's process
	// grid and global domain size when non-zero.
	GridP, GridQ, GridNB, GridMB int
}

// rankDeps is everything runOneRank needs beyond the world and rank
// number, factored out so simulate.go and distributed.go only build it
// once per mode instead of duplicating driver wiring.
type rankDeps struct {
	cfg      *config.Config
	pt       *grid.Partitioner
	kernel   driver.Kernel
	backend  store.Backend
	plan     *faultplan.Plan
	ctl      *cloudctl.Controller
	metrics  *metrics.Recorder
	spawner  repair.Spawner
	log      *logging.Logger
	deadList func() []int
}

// runOneRank builds one rank's Driver and runs it to completion.
func runOneRank(ctx context.Context, d rankDeps, world fabric.World, rank int) (int, error) {
	tile := d.pt.TileFor(rank)
	field := InitializeField(tile, d.cfg.Grid.Temp1Init, d.cfg.Grid.Temp2Init)

	drv := driver.New(world, tile, field, d.log)
	drv.Kernel = d.kernel
	drv.HeatParams = stencil.HeatParams{
		DeltaT:    d.cfg.Grid.DeltaT,
		Diffusion: d.cfg.Grid.Diffusion,
		HX:        d.cfg.Grid.HX,
		HY:        d.cfg.Grid.HY,
	}
	drv.SOROmega = stencil.SOROmega(d.cfg.Grid.NB)
	drv.MaxIter = d.cfg.Grid.MaxIter
	drv.Epsilon = d.cfg.Grid.Epsilon
	drv.Metrics = d.metrics
	drv.Spawner = d.spawner
	drv.RepairConfig = repair.Config{
		MaxAttempts: d.cfg.Fault.MaxRepairAttempts,
		Backoff:     d.cfg.Fault.RepairBackoff,
	}
	drv.Checkpoint = BuildCheckpoint(d.cfg, d.backend, world, rank, d.cfg.Framework.Debug)
	if d.deadList != nil {
		drv.DeadRanks = d.deadList
	}
	if d.plan != nil {
		drv.TestHook = d.plan.TestHook(rank, func(ev faultplan.Event) error {
			if d.ctl == nil {
				return nil
			}
			return d.ctl.Terminate(ev.TargetNode)
		})
	}

	return drv.Run(ctx)
}

// Run dispatches to the in-process simulation harness or the
// distributed fabric/grpc path per opts.Simulate.
func Run(ctx context.Context, opts Options) error {
	ctx, cancel := withGracefulShutdown(ctx)
	defer cancel()

	if opts.Simulate {
		return runSimulated(ctx, opts)
	}
	return runDistributed(ctx, opts)
}

func loadAndValidate(opts Options, worldSize int) (*config.Config, *grid.Partitioner, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Debug {
		cfg.Framework.Debug = true
		cfg.Framework.LogLevel = string(logging.LevelDebug)
	}
	if opts.GridP != 0 {
		cfg.Grid.P = opts.GridP
	}
	if opts.GridQ != 0 {
		cfg.Grid.Q = opts.GridQ
	}
	if opts.GridNB != 0 {
		cfg.Grid.NB = opts.GridNB
	}
	if opts.GridMB != 0 {
		cfg.Grid.MB = opts.GridMB
	}
	if err := cfg.Validate(worldSize); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}
	pt, err := grid.NewPartitioner(cfg.Grid.P, cfg.Grid.Q, cfg.Grid.NB, cfg.Grid.MB)
	if err != nil {
		return nil, nil, fmt.Errorf("build partitioner: %w", err)
	}
	return cfg, pt, nil
}

func loadFaultPlan(path string) (*faultplan.Plan, error) {
	if path == "" {
		return nil, nil
	}
	p := faultplan.New(nil)
	plan, err := p.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("load fault plan: %w", err)
	}
	return plan, nil
}

func newLogger(cfg *config.Config, rank int) *logging.Logger {
	level := logging.Level(cfg.Framework.LogLevel)
	format := logging.Format(cfg.Framework.LogFormat)
	return logging.New(logging.Config{Level: level, Format: format, Rank: rank})
}
