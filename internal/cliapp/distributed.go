package cliapp

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"

	"github.com/lapesd/faultsolve/internal/checkpoint/store"
	"github.com/lapesd/faultsolve/internal/cloudctl"
	grpcfabric "github.com/lapesd/faultsolve/internal/fabric/grpc"
	"github.com/lapesd/faultsolve/internal/repair"
	"github.com/lapesd/faultsolve/internal/spawner/docker"
	"github.com/lapesd/faultsolve/pkg/metrics"
)

// runDistributed runs exactly one rank of a fabric/grpc deployment: one
// process, one rank, joining either as an original roster member or as
// a replacement bootstrapping itself via ResolveSpareRank. Grounded on
// fabric/grpc's own design (DESIGN.md's grpc section): nothing here
// needs a runtime handshake because every process is launched with the
// same static roster and fault schedule.
func runDistributed(ctx context.Context, opts Options) error {
	rank := opts.Rank
	roster := opts.Roster

	if opts.Spawned {
		finalRank, finalRoster, err := ResolveSpareRank(opts.Roster, opts.DeadRanks, opts.SpawnIndex, opts.SpawnRoster)
		if err != nil {
			return fmt.Errorf("resolve spare rank: %w", err)
		}
		rank = finalRank
		roster = finalRoster
	}

	cfg, pt, err := loadAndValidate(opts, len(roster))
	if err != nil {
		return err
	}

	world, err := grpcfabric.Listen(opts.Listen, rank, roster)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer world.Close()

	plan, err := loadFaultPlan(opts.FaultPlanPath)
	if err != nil {
		return err
	}

	var backend store.Backend
	if !cfg.Checkpoint.Buddy {
		backend, err = store.NewFSBackend(cfg.Checkpoint.SCRPrefix, cfg.Checkpoint.KeepLastN)
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
	}

	log := newLogger(cfg, rank)
	ctl := &cloudctl.Controller{Dir: cfg.Checkpoint.SCRPrefix, Logger: log}

	var spawner repair.Spawner
	if opts.Docker {
		world.PendingSpawnAddrs = append([]string(nil), opts.SpawnRoster...)
		cli, derr := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if derr != nil {
			return fmt.Errorf("docker client: %w", derr)
		}
		spawner = docker.New(cli, docker.ContainerConfig{
			Image:       cfg.Fault.SpawnImage,
			Cmd:         cfg.Fault.SpawnCmd,
			NetworkName: cfg.Fault.SpawnNetwork,
		}, log)
	}

	deps := rankDeps{
		cfg:     cfg,
		pt:      pt,
		kernel:  opts.Kernel,
		backend: backend,
		plan:    plan,
		ctl:     ctl,
		spawner: spawner,
		log:     log,
		deadList: func() []int {
			return opts.DeadRanks
		},
	}
	if opts.MetricsAddr != "" {
		deps.metrics = metrics.New(rank)
		go func() {
			_ = deps.metrics.Serve(ctx, opts.MetricsAddr)
		}()
	}

	_, err = runOneRank(ctx, deps, world, rank)
	return err
}
