// Package halo exchanges ghost-cell borders between neighboring ranks
// over a fabric.World, independent of which stencil (heat or SOR) is
// consuming the result. Receives are posted before sends so a fast
// neighbor's send never blocks waiting for us to get around to
// receiving, and every round joins on a single WaitAll.
package halo

import (
	"github.com/lapesd/faultsolve/internal/fabric"
	"github.com/lapesd/faultsolve/internal/grid"
	"github.com/lapesd/faultsolve/internal/stencil"
)

// Exchange posts the four-directional ghost exchange for tile's field
// f over w, blocking until every post/recv pair this rank is party to
// completes. Returns errs.ErrProcessFailed/ErrRevoked if a peer is
// gone, or errs.ErrFatal for any other transport error.
func Exchange(w fabric.World, tile grid.Tile, f *stencil.Field) error {
	var reqs []fabric.Request

	northIn := make([]float64, tile.Cols)
	southIn := make([]float64, tile.Cols)
	eastIn := make([]float64, tile.Rows)
	westIn := make([]float64, tile.Rows)

	// Post receives first.
	if tile.HasNorth() {
		r, err := w.IRecv(tile.North, fabric.TagHalo, northIn)
		if err != nil {
			return err
		}
		reqs = append(reqs, r)
	}
	if tile.HasSouth() {
		r, err := w.IRecv(tile.South, fabric.TagHalo, southIn)
		if err != nil {
			return err
		}
		reqs = append(reqs, r)
	}
	if tile.HasEast() {
		r, err := w.IRecv(tile.East, fabric.TagHalo, eastIn)
		if err != nil {
			return err
		}
		reqs = append(reqs, r)
	}
	if tile.HasWest() {
		r, err := w.IRecv(tile.West, fabric.TagHalo, westIn)
		if err != nil {
			return err
		}
		reqs = append(reqs, r)
	}

	// Pack and post sends: our north row goes to our north neighbor's
	// south-facing receive, and so on.
	if tile.HasNorth() {
		r, err := w.ISend(tile.North, fabric.TagHalo, f.ExtractNorth())
		if err != nil {
			return err
		}
		reqs = append(reqs, r)
	}
	if tile.HasSouth() {
		r, err := w.ISend(tile.South, fabric.TagHalo, f.ExtractSouth())
		if err != nil {
			return err
		}
		reqs = append(reqs, r)
	}
	if tile.HasEast() {
		r, err := w.ISend(tile.East, fabric.TagHalo, f.ExtractEast())
		if err != nil {
			return err
		}
		reqs = append(reqs, r)
	}
	if tile.HasWest() {
		r, err := w.ISend(tile.West, fabric.TagHalo, f.ExtractWest())
		if err != nil {
			return err
		}
		reqs = append(reqs, r)
	}

	if err := w.WaitAll(reqs...); err != nil {
		return err
	}

	if tile.HasNorth() {
		f.SetGhostNorth(northIn)
	}
	if tile.HasSouth() {
		f.SetGhostSouth(southIn)
	}
	if tile.HasEast() {
		f.SetGhostEast(eastIn)
	}
	if tile.HasWest() {
		f.SetGhostWest(westIn)
	}
	return nil
}
