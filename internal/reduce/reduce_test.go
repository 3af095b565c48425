package reduce

import (
	"sync"
	"testing"

	"github.com/lapesd/faultsolve/internal/fabric/local"
)

func TestCheckStopsWhenGlobalNormBelowEpsilon(t *testing.T) {
	worlds := local.New(2)
	var wg sync.WaitGroup
	dones := make([]bool, 2)
	norms := make([]float64, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			red := &Reducer{World: worlds[r], Epsilon: 0.1}
			done, norm, err := red.Check(0.0001, 1, 100)
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
			}
			dones[r] = done
			norms[r] = norm
		}(r)
	}
	wg.Wait()
	for r := range dones {
		if !dones[r] {
			t.Fatalf("rank %d expected done=true, norm=%v", r, norms[r])
		}
	}
}

func TestCheckStopsAtMaxIterEvenIfNotConverged(t *testing.T) {
	worlds := local.New(2)
	var wg sync.WaitGroup
	dones := make([]bool, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			red := &Reducer{World: worlds[r], Epsilon: 0}
			done, _, err := red.Check(1000, 5, 5)
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
			}
			dones[r] = done
		}(r)
	}
	wg.Wait()
	for r := range dones {
		if !dones[r] {
			t.Fatalf("rank %d expected done=true at maxIter", r)
		}
	}
}

func TestCheckContinuesWhenAboveEpsilonAndBelowMaxIter(t *testing.T) {
	worlds := local.New(2)
	var wg sync.WaitGroup
	dones := make([]bool, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			red := &Reducer{World: worlds[r], Epsilon: 0.0001}
			done, _, err := red.Check(1.0, 1, 100)
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
			}
			dones[r] = done
		}(r)
	}
	wg.Wait()
	for r := range dones {
		if dones[r] {
			t.Fatalf("rank %d expected done=false", r)
		}
	}
}
