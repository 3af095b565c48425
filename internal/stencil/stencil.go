// Package stencil implements the two local update kernels the solver
// supports: an explicit five-point heat-equation step, and a forward
// asymmetric SOR (successive over-relaxation) sweep. Both operate on a
// padded tile (ghost border already filled by internal/halo) and
// return the local squared L2 difference between successive iterates,
// which internal/reduce sums across ranks to test for convergence.
package stencil

import "math"

// Field is a row-major padded tile: Rows x Cols interior cells plus a
// one-deep ghost border on every side, so index (r+1, c+1) is interior
// cell (r, c).
type Field struct {
	Data       []float64
	Rows, Cols int // interior dimensions
}

// NewField allocates a zeroed padded field for an interior of rows x cols.
func NewField(rows, cols int) *Field {
	return &Field{
		Data: make([]float64, (rows+2)*(cols+2)),
		Rows: rows, Cols: cols,
	}
}

func (f *Field) stride() int { return f.Cols + 2 }

// At returns interior cell (r, c), 0-indexed.
func (f *Field) At(r, c int) float64 { return f.Data[(r+1)*f.stride()+(c+1)] }

// Set writes interior cell (r, c).
func (f *Field) Set(r, c int, v float64) { f.Data[(r+1)*f.stride()+(c+1)] = v }

// atRaw/setRaw address the full padded buffer, ghost cells included;
// ghost row/col indices are -1 and Rows/Cols respectively.
func (f *Field) atRaw(r, c int) float64    { return f.Data[(r+1)*f.stride()+(c+1)] }
func (f *Field) setRaw(r, c int, v float64) { f.Data[(r+1)*f.stride()+(c+1)] = v }

// GhostNorth/GhostSouth/GhostEast/GhostWest fill one row or column of
// the ghost border from a received slice, and ExtractNorth etc. pack
// the boundary row/col about to be sent, matching the packing
// internal/halo expects regardless of stencil choice.
func (f *Field) SetGhostNorth(vals []float64) { f.setRow(-1, vals) }
func (f *Field) SetGhostSouth(vals []float64) { f.setRow(f.Rows, vals) }
func (f *Field) SetGhostWest(vals []float64)  { f.setCol(-1, vals) }
func (f *Field) SetGhostEast(vals []float64)  { f.setCol(f.Cols, vals) }

// GhostNorth/GhostSouth/GhostEast/GhostWest read back the ghost border
// most recently filled by SetGhost*, for diagnostics and tests.
func (f *Field) GhostNorth() []float64 { return f.row(-1) }
func (f *Field) GhostSouth() []float64 { return f.row(f.Rows) }
func (f *Field) GhostWest() []float64  { return f.col(-1) }
func (f *Field) GhostEast() []float64  { return f.col(f.Cols) }

func (f *Field) ExtractNorth() []float64 { return f.row(0) }
func (f *Field) ExtractSouth() []float64 { return f.row(f.Rows - 1) }
func (f *Field) ExtractWest() []float64  { return f.col(0) }
func (f *Field) ExtractEast() []float64  { return f.col(f.Cols - 1) }

func (f *Field) row(r int) []float64 {
	out := make([]float64, f.Cols)
	for c := 0; c < f.Cols; c++ {
		out[c] = f.atRaw(r, c)
	}
	return out
}

func (f *Field) col(c int) []float64 {
	out := make([]float64, f.Rows)
	for r := 0; r < f.Rows; r++ {
		out[r] = f.atRaw(r, c)
	}
	return out
}

func (f *Field) setRow(r int, vals []float64) {
	for c := 0; c < f.Cols && c < len(vals); c++ {
		f.setRaw(r, c, vals[c])
	}
}

func (f *Field) setCol(c int, vals []float64) {
	for r := 0; r < f.Rows && r < len(vals); r++ {
		f.setRaw(r, c, vals[r])
	}
}

// HeatParams carries the constants the explicit heat kernel needs.
type HeatParams struct {
	DeltaT    float64
	Diffusion float64
	HX, HY    float64
}

// StabilityLimit is the largest DeltaT the explicit scheme tolerates,
// ¼·min(hx,hy)²/k. HeatStep does not enforce it; callers should warn
// when the configured Δt exceeds it (spec §4.2 treats it as advisory).
func (p HeatParams) StabilityLimit() float64 {
	h := p.HX
	if p.HY < h {
		h = p.HY
	}
	return 0.25 * h * h / p.Diffusion
}

// HeatStep computes one explicit update of dst from src, assuming
// src's ghost border is already populated, and returns the squared
// L2 difference over the interior.
func HeatStep(dst, src *Field, p HeatParams) float64 {
	cx := p.Diffusion * p.DeltaT / (p.HX * p.HX)
	cy := p.Diffusion * p.DeltaT / (p.HY * p.HY)

	var sumSq float64
	for r := 0; r < src.Rows; r++ {
		for c := 0; c < src.Cols; c++ {
			center := src.atRaw(r, c)
			north := src.atRaw(r-1, c)
			south := src.atRaw(r+1, c)
			east := src.atRaw(r, c+1)
			west := src.atRaw(r, c-1)

			next := center +
				cx*(south-2*center+north) +
				cy*(east-2*center+west)

			dst.Set(r, c, next)
			d := next - center
			sumSq += d * d
		}
	}
	return sumSq
}

// SOROmega returns the over-relaxation factor recommended for an NBxNB
// grid, 2/(1+pi/NB), as in the classical Gauss-Seidel/SOR literature.
func SOROmega(nb int) float64 {
	if nb < 1 {
		nb = 1
	}
	return 2.0 / (1.0 + math.Pi/float64(nb))
}

// SORStep performs one in-place forward asymmetric Gauss-Seidel sweep
// with over-relaxation factor omega, updating f from its own
// ghost-filled border, and returns the squared L2 change.
func SORStep(f *Field, omega float64) float64 {
	var sumSq float64
	// Row-major forward sweep in place: the north and west neighbors
	// already hold this sweep's new values, the south and east
	// neighbors still hold the previous iterate's (asymmetric
	// Gauss-Seidel).
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			old := f.atRaw(r, c)
			north := f.atRaw(r-1, c)
			south := f.atRaw(r+1, c)
			east := f.atRaw(r, c+1)
			west := f.atRaw(r, c-1)

			gs := 0.25 * (north + south + east + west)
			next := old + omega*(gs-old)

			f.setRaw(r, c, next)
			d := next - old
			sumSq += d * d
		}
	}
	return sumSq
}
