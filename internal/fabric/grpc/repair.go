package grpc

import (
	"fmt"

	"google.golang.org/grpc"

	faultsolvefabric "github.com/lapesd/faultsolve/internal/fabric"
	"github.com/lapesd/faultsolve/pkg/errs"
)

// rebind replaces this World's rank/size/roster in place, keeping the
// same listener/grpcServer/serverImpl alive so no in-flight message
// addressed to this process is lost across a transition. Cached
// connections are dropped; they get redialed lazily against whatever
// roster[r] now points at.
func (w *World) rebind(rank int, roster []string) *World {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rank = rank
	w.size = len(roster)
	w.roster = roster
	for r, c := range w.conns {
		_ = c.Close()
		delete(w.conns, r)
	}
	w.self.setSize(w.size)
	return w
}

// Shrink removes deadRanks and renumbers survivors 0..N-1 in their
// original relative order, as ULFM's MPI_Comm_shrink does. Every
// surviving process computes the new roster independently from the
// same deadRanks list, which every rank is handed by its caller (no
// collective agreement on it takes place); unlike fabric/local, there
// is no shared in-memory hub to mint a fresh world from, so each
// process just rebinds itself in place against the recomputed
// roster.
func (w *World) Shrink(deadRanks []int) (faultsolvefabric.World, error) {
	dead := make(map[int]bool, len(deadRanks))
	for _, r := range deadRanks {
		dead[r] = true
	}
	if dead[w.rank] {
		return nil, fmt.Errorf("%w: rank %d is among the dead ranks it is shrinking past", errs.ErrFatal, w.rank)
	}

	newRoster := make([]string, 0, len(w.roster))
	newRank := -1
	for r, addr := range w.roster {
		if dead[r] {
			continue
		}
		if r == w.rank {
			newRank = len(newRoster)
		}
		newRoster = append(newRoster, addr)
	}
	return w.rebind(newRank, newRoster), nil
}

// Spawn claims n already-launched replacement processes' addresses
// off PendingSpawnAddrs — set by the caller before Spawn runs
// (internal/cliapp fills it from --spawn-roster in --docker mode) — and returns a
// handle describing that group, for a subsequent Merge call. This
// backend has no dynamic service discovery: a caller that has not
// arranged for PendingSpawnAddrs to hold at least n addresses before
// calling Spawn gets an error instead of a blocked wait.
//
// The returned handle is a bookkeeping value only, not a live
// connection; the replacement processes themselves build their own
// World via JoinSpawned once they know their final rank and the
// combined roster.
func (w *World) Spawn(n int) (faultsolvefabric.World, error) {
	w.mu.Lock()
	if len(w.PendingSpawnAddrs) < n {
		avail := len(w.PendingSpawnAddrs)
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: only %d pending spawn address(es) available for %d requested", errs.ErrFatal, avail, n)
	}
	addrs := append([]string(nil), w.PendingSpawnAddrs[:n]...)
	w.PendingSpawnAddrs = w.PendingSpawnAddrs[n:]
	w.mu.Unlock()

	return &World{
		rank:   -1,
		size:   n,
		roster: addrs,
		conns:  make(map[int]*grpc.ClientConn),
	}, nil
}

// Merge combines this world with a spawned group (as returned by
// Spawn) into one world whose ranks are [0, Size()+spawned.Size()):
// survivors keep their current rank, spawned ranks are appended
// after in the order Spawn claimed them.
func (w *World) Merge(spawned faultsolvefabric.World) (faultsolvefabric.World, error) {
	sp, ok := spawned.(*World)
	if !ok {
		return nil, fmt.Errorf("%w: merge requires a grpc world", errs.ErrFatal)
	}
	combined := make([]string, 0, len(w.roster)+len(sp.roster))
	combined = append(combined, w.roster...)
	combined = append(combined, sp.roster...)
	return w.rebind(w.rank, combined), nil
}

// SplitByRank renumbers every rank to order[rank] for the world repair
// protocol's split-reordering phase. order maps old rank to new rank
// and must be complete over every rank currently in the roster.
func (w *World) SplitByRank(order map[int]int) (faultsolvefabric.World, error) {
	newRank, ok := order[w.rank]
	if !ok {
		return nil, fmt.Errorf("%w: rank %d missing from split order", errs.ErrFatal, w.rank)
	}
	newRoster := make([]string, len(w.roster))
	for oldRank, addr := range w.roster {
		nr, ok := order[oldRank]
		if !ok || nr < 0 || nr >= len(newRoster) {
			return nil, fmt.Errorf("%w: split order missing or out-of-range entry for rank %d", errs.ErrFatal, oldRank)
		}
		newRoster[nr] = addr
	}
	return w.rebind(newRank, newRoster), nil
}

// JoinSpawned is how a freshly launched replacement process builds
// its own World handle. A grpc replacement runs in its own OS
// process with no object reference to the survivors' World, so
// unlike fabric/local's SpawnGroup it cannot simply be handed a
// pointer into a shared hub: instead it listens on its own address
// and is told its already-agreed final rank and the full combined
// roster (survivors first, spawned group appended after, matching
// what the survivors' Merge call produces) out of band by whatever
// launched it.
func JoinSpawned(addr string, rank int, roster []string) (*World, error) {
	return Listen(addr, rank, roster)
}
