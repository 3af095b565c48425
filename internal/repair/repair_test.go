package repair

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lapesd/faultsolve/internal/fabric"
	"github.com/lapesd/faultsolve/internal/fabric/local"
)

func TestAssignOriginalRanksSurvivorsKeepPositionSpawneesFillGaps(t *testing.T) {
	order := assignOriginalRanks(4, []int{1})
	// old ranks 0,2,3 survive, renumbered 0,1,2 in the shrunk world,
	// and the single spawnee becomes merged rank 3.
	want := map[int]int{0: 0, 1: 2, 2: 3, 3: 1}
	for k, v := range want {
		if order[k] != v {
			t.Fatalf("order[%d] = %d, want %d (full map %v)", k, order[k], v, order)
		}
	}
}

func TestRunRepairsAndAgreesAcrossSurvivors(t *testing.T) {
	worlds := local.New(4)
	deadRanks := []int{1}

	var wg sync.WaitGroup
	results := make([]Result, 4)
	errsOut := make([]error, 4)
	for r := 0; r < 4; r++ {
		if r == 1 {
			continue // dead rank does not participate
		}
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			res, err := Run(context.Background(), nil, worlds[r], deadRanks, 20, Config{MaxAttempts: 3, Backoff: time.Millisecond})
			results[r] = res
			errsOut[r] = err
		}(r)
	}

	wg.Wait()

	for r, err := range errsOut {
		if r == 1 {
			continue
		}
		if err != nil {
			t.Fatalf("rank %d repair failed: %v", r, err)
		}
	}

	for r, res := range results {
		if r == 1 {
			continue
		}
		if res.World == nil {
			t.Fatalf("rank %d got nil restored world", r)
		}
		if res.ResumeIter != 21 {
			t.Fatalf("rank %d resume iter = %d, want 21", r, res.ResumeIter)
		}
	}

	// Survivors 0, 2, 3 should land on ranks 0, 2, 3 respectively in
	// the restored world (original positions preserved).
	if results[0].World.Rank() != 0 {
		t.Fatalf("rank 0 restored rank = %d, want 0", results[0].World.Rank())
	}
	if results[2].World.Rank() != 2 {
		t.Fatalf("rank 2 restored rank = %d, want 2", results[2].World.Rank())
	}
	if results[3].World.Rank() != 3 {
		t.Fatalf("rank 3 restored rank = %d, want 3", results[3].World.Rank())
	}
	if results[0].World.Size() != 4 {
		t.Fatalf("restored world size = %d, want 4", results[0].World.Size())
	}
}

func TestRunAgreesOnMinimumCheckpointIterationAcrossSurvivors(t *testing.T) {
	worlds := local.New(4)
	deadRanks := []int{1}
	// Survivors have committed different numbers of checkpoints before
	// the fault; every one of them must resume at 1 + the minimum
	// (10), not 1 + their own local value.
	ckptIterations := map[int]int{0: 20, 2: 10, 3: 30}

	var wg sync.WaitGroup
	results := make([]Result, 4)
	errsOut := make([]error, 4)
	for r := 0; r < 4; r++ {
		if r == 1 {
			continue
		}
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			res, err := Run(context.Background(), nil, worlds[r], deadRanks, ckptIterations[r], Config{MaxAttempts: 3, Backoff: time.Millisecond})
			results[r] = res
			errsOut[r] = err
		}(r)
	}
	wg.Wait()

	for r, err := range errsOut {
		if r == 1 {
			continue
		}
		if err != nil {
			t.Fatalf("rank %d repair failed: %v", r, err)
		}
	}
	for r, res := range results {
		if r == 1 {
			continue
		}
		if res.ResumeIter != 11 {
			t.Fatalf("rank %d resume iter = %d, want 11 (1 + min(20,10,30))", r, res.ResumeIter)
		}
	}
}

func TestRunWithNoDeadRanksIsIdentityRepair(t *testing.T) {
	worlds := local.New(2)
	var wg sync.WaitGroup
	results := make([]Result, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			res, err := Run(context.Background(), nil, worlds[r], nil, 5, Config{MaxAttempts: 1})
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
			}
			results[r] = res
		}(r)
	}
	wg.Wait()
	for r, res := range results {
		if res.World.Rank() != r {
			t.Fatalf("rank %d restored rank = %d, want %d", r, res.World.Rank(), r)
		}
	}
}

func TestLocalSpawnerStartsGoroutinePerRank(t *testing.T) {
	worlds := local.New(1)
	spawned, err := worlds[0].Spawn(2)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	var mu sync.Mutex
	var seen []int
	spawner := &LocalSpawner{
		Spawned: spawned,
		Run: func(w fabric.World) {
			mu.Lock()
			seen = append(seen, w.Rank())
			mu.Unlock()
		},
	}
	if err := spawner.SpawnReplacements(context.Background(), 2); err != nil {
		t.Fatalf("SpawnReplacements: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 spawned goroutines to run, got %d", len(seen))
	}
}
