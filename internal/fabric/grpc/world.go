// Package grpc is the network fabric.World backend: each rank is its
// own OS process (or container) running a small gRPC service
// (service.go) that doubles as this rank's inbox; point-to-point
// traffic, Allreduce and Barrier are all plain unary RPCs rather than
// streams, since the solver's communication pattern is already
// request/response at the granularity of one halo round or one
// reduction (ground: the teacher has no peer-to-peer data plane of its
// own, so the RPC shape here is new, built directly against
// google.golang.org/grpc's public ServiceDesc/ClientConnInterface API
// with the hand-rolled JSON codec in codec.go standing in for protoc
// codegen).
package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	faultsolvefabric "github.com/lapesd/faultsolve/internal/fabric"
	"github.com/lapesd/faultsolve/pkg/errs"
)

// World is the gRPC fabric.World implementation. Rank 0 always acts as
// the Allreduce/Barrier coordinator; every rank's own serverImpl is
// also the inbox point-to-point Sends from any peer land in.
type World struct {
	rank, size int
	roster     []string // roster[r] is rank r's listen address

	self       *serverImpl
	grpcServer *grpc.Server
	listener   net.Listener

	mu    sync.Mutex
	conns map[int]*grpc.ClientConn // lazily dialed, by peer rank

	// PendingSpawnAddrs is consumed by Spawn: the addresses of
	// already-launched replacement processes, set by the caller before
	// Spawn is called (internal/cliapp fills it from --spawn-roster in
	// --docker mode). There is no dynamic service
	// discovery in this backend — see DESIGN.md's grpc section.
	PendingSpawnAddrs []string
}

// Listen starts rank's gRPC service on addr and returns a World wired
// to the given roster (roster[rank] must equal addr, or the address
// the listener actually bound to if addr ends in ":0").
func Listen(addr string, rank int, roster []string) (*World, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	size := len(roster)
	self := newServerImpl(rank, size)

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&serviceDesc, self)
	go grpcServer.Serve(lis)

	rosterCopy := make([]string, len(roster))
	copy(rosterCopy, roster)
	if rank < len(rosterCopy) {
		rosterCopy[rank] = lis.Addr().String()
	}

	return &World{
		rank:       rank,
		size:       size,
		roster:     rosterCopy,
		self:       self,
		grpcServer: grpcServer,
		listener:   lis,
		conns:      make(map[int]*grpc.ClientConn),
	}, nil
}

// Close stops the gRPC server and closes every outbound connection.
func (w *World) Close() error {
	w.grpcServer.GracefulStop()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.conns {
		_ = c.Close()
	}
	return nil
}

func (w *World) Rank() int { return w.rank }
func (w *World) Size() int { return w.size }

func (w *World) connTo(rank int) (*grpc.ClientConn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.conns[rank]; ok {
		return c, nil
	}
	if rank < 0 || rank >= len(w.roster) {
		return nil, fmt.Errorf("rank %d not in roster of size %d", rank, len(w.roster))
	}
	c, err := grpc.NewClient(w.roster[rank], grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial rank %d at %s: %w", rank, w.roster[rank], err)
	}
	w.conns[rank] = c
	return c, nil
}

type request struct {
	done chan error
}

func (r *request) Wait() error { return <-r.done }

func newDoneRequest(err error) *request {
	r := &request{done: make(chan error, 1)}
	r.done <- err
	return r
}

// ISend posts env to dest's inbox over a unary Send RPC, run in a
// goroutine so the call is non-blocking from the caller's perspective;
// Wait reports the RPC's outcome.
func (w *World) ISend(dest int, tag faultsolvefabric.Tag, buf []float64) (faultsolvefabric.Request, error) {
	if w.self.isRevoked() {
		return nil, errs.ErrRevoked
	}
	conn, err := w.connTo(dest)
	if err != nil {
		return newDoneRequest(fmt.Errorf("%w: %v", errs.ErrProcessFailed, err)), nil
	}

	payload := make([]float64, len(buf))
	copy(payload, buf)

	r := &request{done: make(chan error, 1)}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var ack Ack
		in := &Envelope{Src: w.rank, Dst: dest, Tag: int(tag), Payload: payload}
		err := conn.Invoke(ctx, methodSend, in, &ack, grpc.CallContentSubtype(codecName))
		if err != nil {
			r.done <- fmt.Errorf("%w: %v", errs.ErrProcessFailed, err)
			return
		}
		r.done <- nil
	}()
	return r, nil
}

// IRecv waits for src's next Send (tagged tag) to land in this rank's
// own inbox, filling buf in place.
func (w *World) IRecv(src int, tag faultsolvefabric.Tag, buf []float64) (faultsolvefabric.Request, error) {
	if w.self.isRevoked() {
		return nil, errs.ErrRevoked
	}
	mb := w.self.mailbox(src, int(tag))
	r := &request{done: make(chan error, 1)}
	go func() {
		select {
		case payload := <-mb:
			copy(buf, payload)
			r.done <- nil
		case <-w.self.done:
			r.done <- errs.ErrRevoked
		}
	}()
	return r, nil
}

func (w *World) WaitAll(reqs ...faultsolvefabric.Request) error {
	var first error
	for _, r := range reqs {
		if err := r.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Allreduce routes through rank 0: rank 0 joins the round directly,
// every other rank joins by calling SubmitAllreduce, which blocks
// server-side until all contributions have arrived and returns the
// sum to every caller in one round trip.
func (w *World) Allreduce(local float64) (float64, error) {
	if w.self.isRevoked() {
		return 0, errs.ErrRevoked
	}
	if w.rank == 0 {
		return w.self.joinAllreduce(w.rank, local)
	}
	conn, err := w.connTo(0)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrProcessFailed, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	var reply ValueMsg
	in := &ValueMsg{Rank: w.rank, Value: local}
	if err := conn.Invoke(ctx, methodSubmitAllreduce, in, &reply, grpc.CallContentSubtype(codecName)); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrProcessFailed, err)
	}
	return reply.Value, nil
}

// AllreduceMin routes through rank 0 exactly like Allreduce, combining
// contributions with min instead of sum.
func (w *World) AllreduceMin(local float64) (float64, error) {
	if w.self.isRevoked() {
		return 0, errs.ErrRevoked
	}
	if w.rank == 0 {
		return w.self.joinMinReduce(w.rank, local)
	}
	conn, err := w.connTo(0)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrProcessFailed, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	var reply ValueMsg
	in := &ValueMsg{Rank: w.rank, Value: local}
	if err := conn.Invoke(ctx, methodSubmitMinReduce, in, &reply, grpc.CallContentSubtype(codecName)); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrProcessFailed, err)
	}
	return reply.Value, nil
}

// Barrier routes through rank 0 exactly like Allreduce.
func (w *World) Barrier() error {
	if w.self.isRevoked() {
		return errs.ErrRevoked
	}
	if w.rank == 0 {
		return w.self.joinBarrier()
	}
	conn, err := w.connTo(0)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrProcessFailed, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	var reply Empty
	if err := conn.Invoke(ctx, methodArriveBarrier, &Empty{}, &reply, grpc.CallContentSubtype(codecName)); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrProcessFailed, err)
	}
	return nil
}

// Revoke marks this rank's own inbox unusable and best-effort notifies
// every peer, so their blocked operations against this world also
// unblock with ErrRevoked. Idempotent.
func (w *World) Revoke() error {
	w.self.revoke()
	for r := 0; r < w.size; r++ {
		if r == w.rank {
			continue
		}
		conn, err := w.connTo(r)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var reply Empty
		_ = conn.Invoke(ctx, methodNotifyRevoke, &Empty{}, &reply, grpc.CallContentSubtype(codecName))
		cancel()
	}
	return nil
}
