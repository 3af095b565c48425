// Package buddy implements the in-memory circular-buddy checkpoint:
// every K iterations, rank r mirrors its full tile to (r+1) mod N and
// keeps the mirror it receives from (r-1+N) mod N. On restore, each
// rank recovers its tile from its ring successor, which is the one
// holding its most recent buddy copy.
package buddy

import (
	"fmt"
	"math"

	"github.com/lapesd/faultsolve/internal/fabric"
)

// Ring drives the buddy exchange over a fabric.World.
type Ring struct {
	World fabric.World

	// Mirror holds the most recent copy of our predecessor's tile,
	// received over the ring. Restore reads it back.
	Mirror []float64

	// mirroredIteration is the iteration at which Mirror was last
	// refreshed, for diagnostics.
	mirroredIteration int
}

func (r *Ring) predecessor() int {
	n := r.World.Size()
	return (r.World.Rank() - 1 + n) % n
}

func (r *Ring) successor() int {
	n := r.World.Size()
	return (r.World.Rank() + 1) % n
}

// Exchange mirrors tile to our successor and refreshes Mirror from
// our predecessor, at iteration. It posts the receive non-blocking
// and pairs it with a blocking send+wait, which is sufficient because
// every rank participates symmetrically every round (spec §4.6).
func (r *Ring) Exchange(iteration int, tile []float64) error {
	if r.Mirror == nil || len(r.Mirror) != len(tile) {
		r.Mirror = make([]float64, len(tile))
	}

	recvReq, err := r.World.IRecv(r.predecessor(), fabric.TagBuddyRing, r.Mirror)
	if err != nil {
		return fmt.Errorf("buddy recv post: %w", err)
	}

	sendReq, err := r.World.ISend(r.successor(), fabric.TagBuddyRing, tile)
	if err != nil {
		return fmt.Errorf("buddy send post: %w", err)
	}
	if err := r.World.WaitAll(sendReq); err != nil {
		return fmt.Errorf("buddy send wait: %w", err)
	}
	if err := r.World.WaitAll(recvReq); err != nil {
		return fmt.Errorf("buddy recv wait: %w", err)
	}

	r.mirroredIteration = iteration
	return nil
}

// lostSentinel marks a buddy payload as "no tile to hand back". A
// real zero-length send cannot cross the fixed-size channel the local
// and grpc backends both pre-size their receive buffers against, so
// the ring signals loss with content instead of length: a tile whose
// every value is NaN.
func lostSentinel(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func isLostSentinel(tile []float64) bool {
	for _, v := range tile {
		if !math.IsNaN(v) {
			return false
		}
	}
	return len(tile) > 0
}

// RestoreFromSuccessor asks our ring successor to hand back the copy
// of our own tile it has been holding. The successor sends Mirror (a
// copy of our tile) back over the ring; the "last dead" rank in a
// multi-failure scenario has no predecessor mirror of its own tile
// and sends the loss sentinel instead, signaling the caller should
// rewind to the last fully-synchronized checkpoint.
func (r *Ring) RestoreFromSuccessor(tileLen int) ([]float64, error) {
	out := make([]float64, tileLen)
	recvReq, err := r.World.IRecv(r.successor(), fabric.TagBuddyRing, out)
	if err != nil {
		return nil, fmt.Errorf("buddy restore recv post: %w", err)
	}

	payload := r.Mirror
	if len(payload) != tileLen {
		payload = lostSentinel(tileLen)
	}
	sendReq, err := r.World.ISend(r.predecessor(), fabric.TagBuddyRing, payload)
	if err != nil {
		return nil, fmt.Errorf("buddy restore send post: %w", err)
	}
	if err := r.World.WaitAll(sendReq); err != nil {
		return nil, fmt.Errorf("buddy restore send wait: %w", err)
	}
	if err := r.World.WaitAll(recvReq); err != nil {
		return nil, fmt.Errorf("buddy restore recv wait: %w", err)
	}

	if isLostSentinel(out) {
		return nil, nil
	}
	return out, nil
}
