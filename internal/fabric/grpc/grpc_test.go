package grpc

import (
	"sync"
	"testing"
	"time"

	"github.com/lapesd/faultsolve/internal/fabric"
	"github.com/lapesd/faultsolve/pkg/errs"
)

// newTestWorlds starts n real loopback gRPC servers and returns their
// World handles wired to each other's bound addresses.
func newTestWorlds(t *testing.T, n int) []*World {
	t.Helper()
	roster := make([]string, n)
	for r := range roster {
		roster[r] = "127.0.0.1:0"
	}
	worlds := make([]*World, n)
	for r := 0; r < n; r++ {
		w, err := Listen(roster[r], r, roster)
		if err != nil {
			t.Fatalf("listen rank %d: %v", r, err)
		}
		roster[r] = w.roster[r]
		worlds[r] = w
	}
	// every world needs the final roster, including ports bound after
	// this rank's own Listen call resolved its ":0" placeholder.
	for _, w := range worlds {
		w.roster = append([]string(nil), roster...)
	}
	t.Cleanup(func() {
		for _, w := range worlds {
			_ = w.Close()
		}
	})
	return worlds
}

func TestSendRecvRoundTrip(t *testing.T) {
	worlds := newTestWorlds(t, 2)
	sendBuf := []float64{1, 2, 3}
	recvBuf := make([]float64, 3)

	rreq, err := worlds[1].IRecv(0, fabric.TagHalo, recvBuf)
	if err != nil {
		t.Fatalf("IRecv: %v", err)
	}
	sreq, err := worlds[0].ISend(1, fabric.TagHalo, sendBuf)
	if err != nil {
		t.Fatalf("ISend: %v", err)
	}
	if err := worlds[0].WaitAll(sreq); err != nil {
		t.Fatalf("send wait: %v", err)
	}
	if err := worlds[1].WaitAll(rreq); err != nil {
		t.Fatalf("recv wait: %v", err)
	}
	for i, v := range recvBuf {
		if v != sendBuf[i] {
			t.Fatalf("recvBuf[%d] = %v, want %v", i, v, sendBuf[i])
		}
	}
}

func TestAllreduceSumsAllRanksThroughCoordinator(t *testing.T) {
	worlds := newTestWorlds(t, 4)
	var wg sync.WaitGroup
	results := make([]float64, 4)
	errsOut := make([]error, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			sum, err := worlds[r].Allreduce(float64(r + 1))
			results[r] = sum
			errsOut[r] = err
		}(r)
	}
	wg.Wait()
	for r := range results {
		if errsOut[r] != nil {
			t.Fatalf("rank %d allreduce: %v", r, errsOut[r])
		}
		if results[r] != 10 {
			t.Fatalf("rank %d got sum %v, want 10", r, results[r])
		}
	}
}

func TestAllreduceMinReturnsSmallestContributionThroughCoordinator(t *testing.T) {
	worlds := newTestWorlds(t, 4)
	contribs := []float64{20, 10, 30, 15}
	var wg sync.WaitGroup
	results := make([]float64, 4)
	errsOut := make([]error, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			min, err := worlds[r].AllreduceMin(contribs[r])
			results[r] = min
			errsOut[r] = err
		}(r)
	}
	wg.Wait()
	for r := range results {
		if errsOut[r] != nil {
			t.Fatalf("rank %d allreduce min: %v", r, errsOut[r])
		}
		if results[r] != 10 {
			t.Fatalf("rank %d got min %v, want 10", r, results[r])
		}
	}
}

func TestBarrierReleasesAllRanks(t *testing.T) {
	worlds := newTestWorlds(t, 3)
	var wg sync.WaitGroup
	done := make(chan int, 3)
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			if err := worlds[r].Barrier(); err != nil {
				t.Errorf("rank %d barrier: %v", r, err)
			}
			done <- r
		}(r)
	}
	wg.Wait()
	close(done)
	count := 0
	for range done {
		count++
	}
	if count != 3 {
		t.Fatalf("got %d barrier releases, want 3", count)
	}
}

func TestRevokeUnblocksPeersAcrossProcesses(t *testing.T) {
	worlds := newTestWorlds(t, 2)
	recvBuf := make([]float64, 1)
	rreq, err := worlds[1].IRecv(0, fabric.TagHalo, recvBuf)
	if err != nil {
		t.Fatalf("IRecv: %v", err)
	}

	if err := worlds[0].Revoke(); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- rreq.Wait() }()
	select {
	case err := <-waitErr:
		if err != errs.ErrRevoked {
			t.Fatalf("rank 1 recv after peer revoke: got %v, want %v", err, errs.ErrRevoked)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rank 1's pending recv never unblocked after peer revoke")
	}
}

func TestShrinkRenumbersSurvivorsAndRejectsDeadRank(t *testing.T) {
	worlds := newTestWorlds(t, 3)

	if _, err := worlds[1].Shrink([]int{1}); err == nil {
		t.Fatal("expected rank 1 shrinking past itself to fail")
	}

	shrunk0, err := worlds[0].Shrink([]int{1})
	if err != nil {
		t.Fatalf("rank 0 shrink: %v", err)
	}
	if shrunk0.Rank() != 0 {
		t.Fatalf("rank 0's new rank = %d, want 0", shrunk0.Rank())
	}
	shrunk2, err := worlds[2].Shrink([]int{1})
	if err != nil {
		t.Fatalf("rank 2 shrink: %v", err)
	}
	if shrunk2.Rank() != 1 {
		t.Fatalf("rank 2's new rank = %d, want 1", shrunk2.Rank())
	}
	if shrunk0.Size() != 2 || shrunk2.Size() != 2 {
		t.Fatalf("shrunk sizes = %d, %d, want 2, 2", shrunk0.Size(), shrunk2.Size())
	}
}

func TestSplitByRankReordersRoster(t *testing.T) {
	worlds := newTestWorlds(t, 3)
	order := map[int]int{0: 2, 1: 0, 2: 1}

	split0, err := worlds[0].SplitByRank(order)
	if err != nil {
		t.Fatalf("rank 0 split: %v", err)
	}
	if split0.Rank() != 2 {
		t.Fatalf("rank 0's new rank = %d, want 2", split0.Rank())
	}

	if _, err := worlds[1].SplitByRank(map[int]int{0: 0}); err == nil {
		t.Fatal("expected split missing rank 1 from order to fail")
	}
}
