// Package reduce turns a per-rank local squared-diff into the global
// convergence decision, via a single fabric.World.Allreduce per
// iteration.
package reduce

import (
	"math"

	"github.com/lapesd/faultsolve/internal/fabric"
)

// Reducer tests convergence of the global L2 norm of the iterate
// change against epsilon, or stops at maxIter regardless.
type Reducer struct {
	World   fabric.World
	Epsilon float64
}

// Check sums localDiffSq across every rank and reports whether the
// solver should stop: either the global norm dropped below Epsilon,
// or iter has reached maxIter.
func (r *Reducer) Check(localDiffSq float64, iter, maxIter int) (done bool, globalNorm float64, err error) {
	sum, err := r.World.Allreduce(localDiffSq)
	if err != nil {
		return false, 0, err
	}
	globalNorm = math.Sqrt(sum)
	if globalNorm < r.Epsilon {
		return true, globalNorm, nil
	}
	if iter >= maxIter {
		return true, globalNorm, nil
	}
	return false, globalNorm, nil
}
