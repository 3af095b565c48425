// Package grid maps the global NB×MB problem domain onto a P×Q process
// grid and describes each rank's local tile, including the ghost-cell
// border every stencil operation reads through.
package grid

import "fmt"

// Partitioner divides a global NB (rows) x MB (cols) domain across a
// P x Q process grid, row-major: rank = row*Q + col.
type Partitioner struct {
	P, Q   int
	NB, MB int
}

// NewPartitioner validates the grid against the global dimensions.
func NewPartitioner(p, q, nb, mb int) (*Partitioner, error) {
	if p < 1 || q < 1 {
		return nil, fmt.Errorf("grid: p and q must be >= 1, got %d,%d", p, q)
	}
	if nb < p || mb < q {
		return nil, fmt.Errorf("grid: domain %dx%d too small for grid %dx%d", nb, mb, p, q)
	}
	return &Partitioner{P: p, Q: q, NB: nb, MB: mb}, nil
}

// RankOf returns the rank owning process-grid coordinates (row, col).
func (pt *Partitioner) RankOf(row, col int) int { return row*pt.Q + col }

// CoordOf returns the process-grid coordinates of rank.
func (pt *Partitioner) CoordOf(rank int) (row, col int) {
	return rank / pt.Q, rank % pt.Q
}

// Tile describes one rank's local slice of the global domain, including
// one layer of ghost cells on every side it shares with a neighbor.
type Tile struct {
	Row, Col       int // process-grid coordinates
	GlobalRowStart int // first global row this tile owns (exclusive of ghost)
	GlobalColStart int
	Rows, Cols     int // interior size, ghost cells excluded

	North, South, East, West int // neighbor rank, or -1 at a domain edge
}

// TileFor computes the Tile owned by rank.
func (pt *Partitioner) TileFor(rank int) Tile {
	row, col := pt.CoordOf(rank)

	rows := pt.NB / pt.P
	rowRem := pt.NB % pt.P
	rowStart := row * rows
	if row < rowRem {
		rows++
		rowStart += row
	} else {
		rowStart += rowRem
	}

	cols := pt.MB / pt.Q
	colRem := pt.MB % pt.Q
	colStart := col * cols
	if col < colRem {
		cols++
		colStart += col
	} else {
		colStart += colRem
	}

	t := Tile{
		Row: row, Col: col,
		GlobalRowStart: rowStart, GlobalColStart: colStart,
		Rows: rows, Cols: cols,
		North: -1, South: -1, East: -1, West: -1,
	}
	if row > 0 {
		t.North = pt.RankOf(row-1, col)
	}
	if row < pt.P-1 {
		t.South = pt.RankOf(row+1, col)
	}
	if col > 0 {
		t.West = pt.RankOf(row, col-1)
	}
	if col < pt.Q-1 {
		t.East = pt.RankOf(row, col+1)
	}
	return t
}

// PaddedRows and PaddedCols return the tile's storage dimensions
// including the one-deep ghost border on every side.
func (t Tile) PaddedRows() int { return t.Rows + 2 }
func (t Tile) PaddedCols() int { return t.Cols + 2 }

// HasNorth, HasSouth, HasEast, HasWest report whether a ghost exchange
// is needed on that side.
func (t Tile) HasNorth() bool { return t.North >= 0 }
func (t Tile) HasSouth() bool { return t.South >= 0 }
func (t Tile) HasEast() bool  { return t.East >= 0 }
func (t Tile) HasWest() bool  { return t.West >= 0 }
