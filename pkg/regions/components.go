package regions

import (
	"github.com/pkg/errors"

	"ctlungseg/internal/models"
)

// Connectivity selects the neighbourhood used to join foreground voxels.
type Connectivity int

const (
	// Conn8 joins pixels sharing an edge or a corner within one slice.
	Conn8 Connectivity = 8

	// Conn26 joins voxels sharing a face, an edge or a corner across slices.
	Conn26 Connectivity = 26
)

// SizeTable maps a component label to its voxel count. Background is never
// present.
type SizeTable map[int32]int

// Components is a connected component map. Map holds 0 for background and
// 1..Count for foreground, numbered in order of first appearance in a raster
// scan.
type Components struct {
	Shape models.Shape
	Map   []int32
	Sizes SizeTable
	Count int
}

// offset is a relative (slice, row, col) neighbour position.
type offset struct{ ds, dr, dc int }

// Neighbours already visited by a raster scan.
var (
	causal8 = []offset{
		{0, 0, -1}, {0, -1, -1}, {0, -1, 0}, {0, -1, 1},
	}
	causal26 = func() []offset {
		out := make([]offset, 0, 13)
		for ds := -1; ds <= 0; ds++ {
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					if ds == 0 && (dr > 0 || (dr == 0 && dc >= 0)) {
						continue
					}
					out = append(out, offset{ds, dr, dc})
				}
			}
		}
		return out
	}()
)

// label runs the two-pass union-find labelling over a row-major volume.
func label(data []bool, shape models.Shape, neighbours []offset) Components {
	out := Components{
		Shape: shape,
		Map:   make([]int32, len(data)),
		Sizes: make(SizeTable),
	}
	ds := newDisjointSet(64)

	// First pass: provisional labels, joined with every labelled causal neighbour.
	for s := 0; s < shape.Slices; s++ {
		for r := 0; r < shape.Rows; r++ {
			for c := 0; c < shape.Cols; c++ {
				idx := shape.Index(s, r, c)
				if !data[idx] {
					continue
				}
				var current int32
				for _, n := range neighbours {
					ns, nr, nc := s+n.ds, r+n.dr, c+n.dc
					if ns < 0 || nr < 0 || nr >= shape.Rows || nc < 0 || nc >= shape.Cols {
						continue
					}
					nl := out.Map[shape.Index(ns, nr, nc)]
					if nl == 0 {
						continue
					}
					if current == 0 {
						current = nl
					} else {
						current = ds.union(current, nl)
					}
				}
				if current == 0 {
					current = ds.add()
				}
				out.Map[idx] = current
			}
		}
	}

	// Second pass: resolve roots and renumber consecutively in raster order.
	final := make(map[int32]int32)
	for idx, l := range out.Map {
		if l == 0 {
			continue
		}
		root := ds.find(l)
		f, ok := final[root]
		if !ok {
			out.Count++
			f = int32(out.Count)
			final[root] = f
		}
		out.Map[idx] = f
		out.Sizes[f]++
	}
	return out
}

// Label2D labels every slice independently at 8-connectivity.
func (a *Analyzer) Label2D(mask models.Mask) ([]Components, error) {
	if err := mask.Validate(); err != nil {
		return nil, err
	}
	plane := models.Shape{Slices: 1, Rows: mask.Shape.Rows, Cols: mask.Shape.Cols}
	out := make([]Components, mask.Shape.Slices)
	a.forEachSlice(mask.Shape.Slices, func(s int) {
		out[s] = label(mask.Slice(s), plane, causal8)
	})
	return out, nil
}

// Label3D labels the whole volume at 26-connectivity.
func (a *Analyzer) Label3D(mask models.Mask) (Components, error) {
	if err := mask.Validate(); err != nil {
		return Components{}, err
	}
	return label(mask.Data, mask.Shape, causal26), nil
}

// Label labels mask at the given connectivity. With Conn8 the per-slice
// labels are offset so that they stay unique across the volume.
func (a *Analyzer) Label(mask models.Mask, conn Connectivity) (Components, error) {
	switch conn {
	case Conn26:
		return a.Label3D(mask)
	case Conn8:
		perSlice, err := a.Label2D(mask)
		if err != nil {
			return Components{}, err
		}
		return flatten(mask.Shape, perSlice), nil
	default:
		return Components{}, errors.Wrapf(models.ErrConfiguration, "unsupported connectivity %d", conn)
	}
}

func flatten(shape models.Shape, perSlice []Components) Components {
	out := Components{
		Shape: shape,
		Map:   make([]int32, shape.Voxels()),
		Sizes: make(SizeTable),
	}
	size := shape.SliceSize()
	for s, comp := range perSlice {
		base := int32(out.Count)
		dst := out.Map[s*size : (s+1)*size]
		for i, l := range comp.Map {
			if l != 0 {
				dst[i] = base + l
			}
		}
		for l, n := range comp.Sizes {
			out.Sizes[base+l] = n
		}
		out.Count += comp.Count
	}
	return out
}

// Keep returns the mask of voxels whose label satisfies keep.
func (c Components) Keep(keep func(label int32) bool) models.Mask {
	m := models.NewMask(c.Shape)
	for i, l := range c.Map {
		if l != 0 && keep(l) {
			m.Data[i] = true
		}
	}
	return m
}
