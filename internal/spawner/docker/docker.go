// Package docker implements repair.Spawner by launching replacement
// rank processes as Docker containers, for the fabric/grpc transport's
// --docker mode. Grounded on the teacher's pkg/injection/container
// (Manager wrapping Restart/Kill/Pause managers over one *client.Client,
// PauseManager's mutex-guarded tracking map for idempotent cleanup) and
// pkg/discovery/docker/client.go's client construction
// (client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())).
// Unlike the teacher's container package, which only restarts/kills/
// pauses containers that already exist, this package creates new ones:
// no teacher file does that, so ContainerConfig/Spawner's ContainerCreate
// call is written directly against the same docker/docker API the
// teacher already depends on.
package docker

import (
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/lapesd/faultsolve/pkg/logging"
)

// ContainerConfig describes the replacement-rank container image and
// how to tell each spawned instance which rank it is taking over.
type ContainerConfig struct {
	Image string
	// Cmd is the container entrypoint argv; any element that is exactly
	// "{{rank}}" is replaced with the spawned rank's ordinal (0-based, relative to
	// the set of replacements being spawned in this call) before the
	// container is created.
	Cmd []string
	// Env are extra environment variables set on every spawned
	// container, on top of RANK=<n> which Spawner always sets.
	Env []string
	// NetworkName attaches every spawned container to an existing
	// Docker network so it can dial the surviving ranks' gRPC fabric
	// endpoints.
	NetworkName string
}

// Spawner implements repair.Spawner against a Docker daemon.
type Spawner struct {
	Client *client.Client
	Config ContainerConfig
	Logger *logging.Logger

	mu       sync.Mutex
	launched []string // container IDs, for idempotent replay/cleanup
}

// New wraps an existing Docker API client. Use New(nil, cfg) only in
// tests against a fake; production callers build cli with
// client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation()).
func New(cli *client.Client, cfg ContainerConfig, log *logging.Logger) *Spawner {
	return &Spawner{Client: cli, Config: cfg, Logger: log}
}

// SpawnReplacements launches n replacement-rank containers, one per
// dead rank the repair protocol is replacing. It returns once each
// container's ContainerStart call has succeeded; it does not poll for
// the container's running state.
func (s *Spawner) SpawnReplacements(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < n; i++ {
		id, err := s.launchOne(ctx, i)
		if err != nil {
			return fmt.Errorf("spawn replacement %d/%d: %w", i+1, n, err)
		}
		s.launched = append(s.launched, id)
		if s.Logger != nil {
			s.Logger.Info("replacement rank container started", "container", id, "index", i)
		}
	}
	return nil
}

// buildCmd substitutes "{{rank}}" in template with index's decimal
// form, leaving every other argument untouched.
func buildCmd(template []string, index int) []string {
	cmd := make([]string, len(template))
	for i, a := range template {
		if a == "{{rank}}" {
			a = fmt.Sprintf("%d", index)
		}
		cmd[i] = a
	}
	return cmd
}

// buildEnv prepends RANK=<index> to extra, the additional environment
// variables every spawned container gets. Nothing in this module reads
// RANK; a spawned process takes its rank from its command-line flags.
func buildEnv(index int, extra []string) []string {
	return append([]string{fmt.Sprintf("RANK=%d", index)}, extra...)
}

func (s *Spawner) launchOne(ctx context.Context, index int) (string, error) {
	cmd := buildCmd(s.Config.Cmd, index)
	env := buildEnv(index, s.Config.Env)

	created, err := s.Client.ContainerCreate(ctx, &container.Config{
		Image: s.Config.Image,
		Cmd:   cmd,
		Env:   env,
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(s.Config.NetworkName),
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := s.Client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container %s: %w", created.ID, err)
	}

	return created.ID, nil
}

// Launched returns the container IDs started so far, for a caller that
// wants to tear them down after the run (or reconcile against an
// already-running set on a retried repair attempt, the idempotency
// concern spec §4.8's capped-retry loop raises for any real Spawner).
func (s *Spawner) Launched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.launched))
	copy(out, s.launched)
	return out
}

// Cleanup force-removes every container this Spawner has launched,
// mirroring container.Manager.Cleanup's emergency-teardown role.
func (s *Spawner) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, id := range s.launched {
		if err := s.Client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove container %s: %w", id, err)
		}
	}
	s.launched = nil
	return firstErr
}
