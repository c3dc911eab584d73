package regions

import (
	"ctlungseg/internal/models"
)

// RegionStats describes one 2-D component.
type RegionStats struct {
	Label  int32
	Left   int
	Top    int
	Width  int
	Height int
	Area   int

	// Border is set when the component touches the edge of its slice.
	Border bool
}

// Rect is an axis-aligned pixel rectangle; Right and Bottom are exclusive.
type Rect struct {
	Left, Top, Right, Bottom int
}

// Area returns the number of pixels covered by the rectangle.
func (r Rect) Area() int {
	return (r.Right - r.Left) * (r.Bottom - r.Top)
}

// Stats2D returns, for every slice, the statistics of its 8-connected
// components in label order.
func (a *Analyzer) Stats2D(mask models.Mask) ([][]RegionStats, error) {
	perSlice, err := a.Label2D(mask)
	if err != nil {
		return nil, err
	}
	rows, cols := mask.Shape.Rows, mask.Shape.Cols

	out := make([][]RegionStats, len(perSlice))
	for s, comp := range perSlice {
		stats := make([]RegionStats, comp.Count)
		for i := range stats {
			stats[i] = RegionStats{Label: int32(i + 1), Left: cols, Top: rows}
		}
		right := make([]int, comp.Count)
		bottom := make([]int, comp.Count)

		for i, l := range comp.Map {
			if l == 0 {
				continue
			}
			r, c := i/cols, i%cols
			st := &stats[l-1]
			st.Area++
			if c < st.Left {
				st.Left = c
			}
			if r < st.Top {
				st.Top = r
			}
			if c+1 > right[l-1] {
				right[l-1] = c + 1
			}
			if r+1 > bottom[l-1] {
				bottom[l-1] = r + 1
			}
			if r == 0 || c == 0 || r == rows-1 || c == cols-1 {
				st.Border = true
			}
		}
		for i := range stats {
			stats[i].Width = right[i] - stats[i].Left
			stats[i].Height = bottom[i] - stats[i].Top
		}
		out[s] = stats
	}
	return out, nil
}

// ROI returns the bounding box of every candidate component of one slice.
// It reports false when no candidate exists.
func (a *Analyzer) ROI(stats []RegionStats) (Rect, bool) {
	var roi Rect
	found := false
	for _, st := range stats {
		if st.Area == 0 || (a.Background == BackgroundBorder && st.Border) {
			continue
		}
		r := Rect{Left: st.Left, Top: st.Top, Right: st.Left + st.Width, Bottom: st.Top + st.Height}
		if !found {
			roi, found = r, true
			continue
		}
		roi = roi.Union(r)
	}
	return roi, found
}

// Union returns the smallest rectangle covering r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Left:   min(r.Left, o.Left),
		Top:    min(r.Top, o.Top),
		Right:  max(r.Right, o.Right),
		Bottom: max(r.Bottom, o.Bottom),
	}
}

// SelectSlices returns the indices of the slices whose region of interest
// covers more than minArea pixels.
func (a *Analyzer) SelectSlices(mask models.Mask, minArea int) ([]int, error) {
	stats, err := a.Stats2D(mask)
	if err != nil {
		return nil, err
	}
	var selected []int
	for s, st := range stats {
		if roi, ok := a.ROI(st); ok && roi.Area() > minArea {
			selected = append(selected, s)
		}
	}
	return selected, nil
}
