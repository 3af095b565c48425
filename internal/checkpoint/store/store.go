// Package store implements the external checkpoint store's state
// machine: have_restart/start_restart/route_file/complete_restart for
// resuming a run, and need_checkpoint/start_output/route_file/
// complete_output for capturing one. A Backend does the actual
// durable I/O; fsbackend is the filesystem implementation grounded on
// the teacher's reporting.Storage.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lapesd/faultsolve/pkg/errs"
)

// Dataset identifies one durable checkpoint: one payload per rank,
// all written at the same iteration.
type Dataset struct {
	Iteration int
	Rank      int
}

// Backend is the durable storage a Store drives through its state
// machine. Route_file in the spec's vocabulary is folded into Read/
// Write: the backend decides where a dataset's bytes live.
type Backend interface {
	// Newest returns the most recent fully-committed dataset across
	// all ranks, or ok=false if none exists.
	Newest() (iteration int, ok bool, err error)

	// Read returns rank's payload for the dataset at iteration.
	Read(iteration, rank int) ([]byte, error)

	// Write durably persists rank's payload for iteration. The
	// backend must not advance Newest() for this iteration until
	// every rank's Write for it has returned success — route_file is
	// per-rank, but completion of the dataset is collective.
	Write(iteration, rank int, payload []byte) error

	// Commit marks iteration fully written and eligible to become the
	// new Newest(), once every rank of worldSize has written its file
	// for this iteration; prunes older datasets if the backend bounds
	// retention. Every rank calls Commit after its own Write, so the
	// backend — not the caller — decides whether the dataset is
	// actually complete.
	Commit(iteration, worldSize int) error

	// Invalidate discards a dataset that failed validation so a
	// subsequent Newest() call surfaces an older one.
	Invalidate(iteration int) error
}

// Store drives the have_restart/start_restart/... and
// need_checkpoint/start_output/... state machines against a Backend.
type Store struct {
	Backend Backend
	Rank    int
}

// Payload is the decoded form of a checkpoint file: tile doubles plus
// an optional ten-double debug trailer, with an explicit marker byte
// so a reader never has to infer the trailer's presence from file
// size (spec Open Question 9(i)).
type Payload struct {
	Tile       []float64
	HasDebug   bool
	DebugTimes [10]float64
}

// EncodePayload serializes p the way the wire format requires: raw
// tile doubles, one has-debug-trailer byte, then the ten debug
// doubles when that byte is nonzero.
func EncodePayload(p Payload) []byte {
	buf := new(bytes.Buffer)
	for _, v := range p.Tile {
		_ = binary.Write(buf, binary.LittleEndian, v)
	}
	if p.HasDebug {
		buf.WriteByte(1)
		for _, v := range p.DebugTimes {
			_ = binary.Write(buf, binary.LittleEndian, v)
		}
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodePayload parses a buffer written by EncodePayload. tileLen is
// the number of tile doubles the caller expects, known from the grid
// geometry.
func DecodePayload(data []byte, tileLen int) (Payload, error) {
	const f64 = 8
	want := tileLen*f64 + 1
	if len(data) < want {
		return Payload{}, fmt.Errorf("%w: payload too short: got %d bytes, want at least %d", errs.ErrRestoreInvalid, len(data), want)
	}

	p := Payload{Tile: make([]float64, tileLen)}
	r := bytes.NewReader(data)
	for i := range p.Tile {
		if err := binary.Read(r, binary.LittleEndian, &p.Tile[i]); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", errs.ErrRestoreInvalid, err)
		}
	}
	flag, err := r.ReadByte()
	if err != nil {
		return Payload{}, fmt.Errorf("%w: missing has-debug-trailer byte", errs.ErrRestoreInvalid)
	}
	p.HasDebug = flag != 0
	if p.HasDebug {
		for i := range p.DebugTimes {
			if err := binary.Read(r, binary.LittleEndian, &p.DebugTimes[i]); err != nil {
				return Payload{}, fmt.Errorf("%w: truncated debug trailer: %v", errs.ErrRestoreInvalid, err)
			}
		}
	}
	return p, nil
}

// HaveRestart reports whether a durable dataset exists to restart
// from.
func (s *Store) HaveRestart() (iteration int, ok bool, err error) {
	return s.Backend.Newest()
}

// StartRestart + RouteFile + CompleteRestart collapse into Restore:
// read this rank's payload for iteration and decode it. On decode
// failure Restore invalidates that dataset itself, so a later
// HaveRestart reports an older one; Restore does not retry.
func (s *Store) Restore(iteration, tileLen int) (Payload, error) {
	data, err := s.Backend.Read(iteration, s.Rank)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", errs.ErrRestoreInvalid, err)
	}
	p, err := DecodePayload(data, tileLen)
	if err != nil {
		_ = s.Backend.Invalidate(iteration)
		return Payload{}, err
	}
	return p, nil
}

// NeedCheckpoint applies the modulo-K heuristic and always suppresses
// the checkpoint at the last iteration before maxIter (spec §7's
// last-iteration-suppression rule). Delegating the decision to the
// backend instead is driver.StoreCheckpoint's UseStoreDecision, not
// this function.
func NeedCheckpoint(iteration, interval, maxIter int) bool {
	if iteration == maxIter-1 {
		return false
	}
	return interval > 0 && iteration%interval == 0
}

// Checkpoint runs Start_output/Route_file/Complete_output: writes this
// rank's payload, then calls Commit so the backend can check whether
// every one of worldSize ranks has now written for iteration. Every
// rank calls this redundantly; only the write that completes the set
// actually marks the dataset durable.
func (s *Store) Checkpoint(iteration, worldSize int, p Payload) error {
	if err := s.Backend.Write(iteration, s.Rank, EncodePayload(p)); err != nil {
		return fmt.Errorf("checkpoint write: %w", err)
	}
	if err := s.Backend.Commit(iteration, worldSize); err != nil {
		return fmt.Errorf("checkpoint commit: %w", err)
	}
	return nil
}
