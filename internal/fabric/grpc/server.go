package grpc

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/lapesd/faultsolve/pkg/errs"
)

type mailKey struct {
	src int
	tag int
}

// reduceRound mirrors fabric/local's rendezvous struct: every rank's
// contribution accumulates here until size of them have arrived, at
// which point every blocked caller observes the same combined result
// (sum for Allreduce, min for AllreduceMin).
type reduceRound struct {
	values map[int]float64
	result float64
	done   chan struct{}
}

// serverImpl backs one rank's gRPC service: it is both the inbox for
// point-to-point Sends addressed to this rank and, when this rank is
// the coordinator (rank 0), the rendezvous point for Allreduce and
// Barrier.
type serverImpl struct {
	rank int
	size atomic.Int32

	mu        sync.Mutex
	mailboxes map[mailKey]chan []float64
	revoked   bool
	done      chan struct{}
	closeOnce sync.Once

	arMu    sync.Mutex
	arRound *reduceRound
	mrMu    sync.Mutex
	mrRound *reduceRound

	baMu         sync.Mutex
	barrierCount int
	barrierDone  chan struct{}
}

func newServerImpl(rank, size int) *serverImpl {
	s := &serverImpl{
		rank:      rank,
		mailboxes: make(map[mailKey]chan []float64),
		done:      make(chan struct{}),
	}
	s.size.Store(int32(size))
	return s
}

func (s *serverImpl) mailbox(src, tag int) chan []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mailKey{src, tag}
	ch, ok := s.mailboxes[key]
	if !ok {
		ch = make(chan []float64, 64)
		s.mailboxes[key] = ch
	}
	return ch
}

// setSize adjusts the rendezvous size a repair transition (shrink,
// merge, split) computes for this rank going forward. Callers must
// ensure no Allreduce/Barrier round from the prior generation is still
// in flight, which the driver's revoke-before-repair sequencing
// guarantees in practice.
func (s *serverImpl) setSize(n int) {
	s.size.Store(int32(n))
}

func (s *serverImpl) isRevoked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked
}

func (s *serverImpl) revoke() {
	s.mu.Lock()
	s.revoked = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// Send is the RPC handler invoked when a peer ISends to this rank: it
// deposits the payload in the (src,tag) mailbox IRecv reads from,
// blocking (respecting ctx and revocation) if that mailbox is full.
func (s *serverImpl) Send(ctx context.Context, env *Envelope) (*Ack, error) {
	if s.isRevoked() {
		return nil, errs.ErrRevoked
	}
	mb := s.mailbox(env.Src, env.Tag)
	select {
	case mb <- env.Payload:
		return &Ack{}, nil
	case <-s.done:
		return nil, errs.ErrRevoked
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *serverImpl) joinAllreduce(rank int, value float64) (float64, error) {
	return s.joinReduce(&s.arMu, &s.arRound, rank, value, func(vals map[int]float64) float64 {
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum
	})
}

func (s *serverImpl) joinMinReduce(rank int, value float64) (float64, error) {
	return s.joinReduce(&s.mrMu, &s.mrRound, rank, value, func(vals map[int]float64) float64 {
		min := math.Inf(1)
		for _, v := range vals {
			if v < min {
				min = v
			}
		}
		return min
	})
}

func (s *serverImpl) joinReduce(mu *sync.Mutex, slot **reduceRound, rank int, value float64, combine func(map[int]float64) float64) (float64, error) {
	mu.Lock()
	if *slot == nil {
		*slot = &reduceRound{values: make(map[int]float64), done: make(chan struct{})}
	}
	round := *slot
	round.values[rank] = value
	ready := len(round.values) == int(s.size.Load())
	if ready {
		round.result = combine(round.values)
		*slot = nil
		close(round.done)
	}
	mu.Unlock()

	select {
	case <-round.done:
		return round.result, nil
	case <-s.done:
		return 0, errs.ErrRevoked
	}
}

func (s *serverImpl) SubmitAllreduce(ctx context.Context, v *ValueMsg) (*ValueMsg, error) {
	if s.isRevoked() {
		return nil, errs.ErrRevoked
	}
	sum, err := s.joinAllreduce(v.Rank, v.Value)
	if err != nil {
		return nil, err
	}
	return &ValueMsg{Rank: v.Rank, Value: sum}, nil
}

func (s *serverImpl) SubmitMinReduce(ctx context.Context, v *ValueMsg) (*ValueMsg, error) {
	if s.isRevoked() {
		return nil, errs.ErrRevoked
	}
	min, err := s.joinMinReduce(v.Rank, v.Value)
	if err != nil {
		return nil, err
	}
	return &ValueMsg{Rank: v.Rank, Value: min}, nil
}

func (s *serverImpl) joinBarrier() error {
	s.baMu.Lock()
	if s.barrierDone == nil {
		s.barrierDone = make(chan struct{})
	}
	done := s.barrierDone
	s.barrierCount++
	ready := s.barrierCount == int(s.size.Load())
	if ready {
		s.barrierCount = 0
		s.barrierDone = nil
		close(done)
	}
	s.baMu.Unlock()

	select {
	case <-done:
		return nil
	case <-s.done:
		return errs.ErrRevoked
	}
}

func (s *serverImpl) ArriveBarrier(ctx context.Context, _ *Empty) (*Empty, error) {
	if s.isRevoked() {
		return nil, errs.ErrRevoked
	}
	if err := s.joinBarrier(); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *serverImpl) NotifyRevoke(ctx context.Context, _ *Empty) (*Empty, error) {
	s.revoke()
	return &Empty{}, nil
}
