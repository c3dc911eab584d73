// Package regions labels connected components of binary CT masks and filters
// them by size.
package regions

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"ctlungseg/internal/models"
)

// BackgroundRule decides which components never count as regions of interest.
type BackgroundRule int

const (
	// BackgroundIndexZero treats only label 0 as background; every foreground
	// component is a candidate.
	BackgroundIndexZero BackgroundRule = iota

	// BackgroundBorder also treats as background every component touching the
	// first or last row or column of any slice, such as the air around the body.
	BackgroundBorder
)

// TopNPolicy decides what SelectTopN does with slices holding fewer than n
// components.
type TopNPolicy int

const (
	// TopNRequireN clears such slices entirely.
	TopNRequireN TopNPolicy = iota

	// TopNRetainAvailable keeps every component of such slices.
	TopNRetainAvailable
)

// Analyzer holds the region filtering policy. The zero value uses index 0 as
// background, requires n components in SelectTopN and runs on one goroutine.
type Analyzer struct {
	Background BackgroundRule
	TopN       TopNPolicy

	// Strict makes SelectLargest fail with models.ErrDegenerateInput when there
	// is no candidate component instead of returning an empty mask.
	Strict bool

	// Workers bounds the slices processed concurrently (values < 1 mean 1)
	Workers int
}

// NewAnalyzer returns an analyzer with default policies.
func NewAnalyzer(workers int) *Analyzer {
	return &Analyzer{Workers: workers}
}

// forEachSlice calls fn for every slice index, spreading the slices over the
// configured workers.
func (a *Analyzer) forEachSlice(numSlices int, fn func(s int)) {
	workers := a.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > numSlices {
		workers = numSlices
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range jobs {
				fn(s)
			}
		}()
	}
	for s := 0; s < numSlices; s++ {
		jobs <- s
	}
	close(jobs)
	wg.Wait()
}

// RemoveSmall clears every component with fewer than minSize voxels. A
// component of exactly minSize voxels is kept.
func (a *Analyzer) RemoveSmall(mask models.Mask, minSize int, conn Connectivity) (models.Mask, error) {
	comp, err := a.Label(mask, conn)
	if err != nil {
		return models.Mask{}, err
	}
	return comp.Keep(func(l int32) bool { return comp.Sizes[l] >= minSize }), nil
}

// SelectLargest keeps only the largest candidate component of the volume at
// 26-connectivity. Ties go to the lowest label.
func (a *Analyzer) SelectLargest(mask models.Mask) (models.Mask, error) {
	comp, err := a.Label3D(mask)
	if err != nil {
		return models.Mask{}, err
	}
	excluded := a.backgroundLabels(comp)

	var best int32
	bestSize := 0
	for l := int32(1); l <= int32(comp.Count); l++ {
		if excluded[l] {
			continue
		}
		if size := comp.Sizes[l]; size > bestSize {
			best, bestSize = l, size
		}
	}
	if best == 0 {
		if a.Strict {
			return models.Mask{}, errors.Wrapf(models.ErrDegenerateInput,
				"no candidate component among %d foreground voxels", mask.Count())
		}
		return models.NewMask(mask.Shape), nil
	}
	return comp.Keep(func(l int32) bool { return l == best }), nil
}

// SelectTopN keeps, slice by slice at 8-connectivity, the n largest candidate
// components. Ties go to the lowest label. Slices with fewer than n candidates
// are handled according to the TopN policy.
func (a *Analyzer) SelectTopN(mask models.Mask, n int) (models.Mask, error) {
	if n < 0 {
		return models.Mask{}, errors.Wrapf(models.ErrConfiguration, "top-n count must not be negative, got %d", n)
	}
	perSlice, err := a.Label2D(mask)
	if err != nil {
		return models.Mask{}, err
	}

	out := models.NewMask(mask.Shape)
	a.forEachSlice(len(perSlice), func(s int) {
		comp := perSlice[s]
		excluded := a.backgroundLabels(comp)

		candidates := make([]int32, 0, comp.Count)
		for l := int32(1); l <= int32(comp.Count); l++ {
			if !excluded[l] {
				candidates = append(candidates, l)
			}
		}
		if len(candidates) < n && a.TopN == TopNRequireN {
			return
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return comp.Sizes[candidates[i]] > comp.Sizes[candidates[j]]
		})
		if len(candidates) > n {
			candidates = candidates[:n]
		}

		keep := make(map[int32]bool, len(candidates))
		for _, l := range candidates {
			keep[l] = true
		}
		dst := out.Slice(s)
		for i, l := range comp.Map {
			dst[i] = keep[l]
		}
	})
	return out, nil
}

// backgroundLabels returns the foreground labels the background rule excludes.
func (a *Analyzer) backgroundLabels(comp Components) map[int32]bool {
	excluded := make(map[int32]bool)
	if a.Background != BackgroundBorder {
		return excluded
	}
	sh := comp.Shape
	for s := 0; s < sh.Slices; s++ {
		for r := 0; r < sh.Rows; r++ {
			for c := 0; c < sh.Cols; c++ {
				if r != 0 && r != sh.Rows-1 && c != 0 && c != sh.Cols-1 {
					continue
				}
				if l := comp.Map[sh.Index(s, r, c)]; l != 0 {
					excluded[l] = true
				}
			}
		}
	}
	return excluded
}

// FillHoles sets, slice by slice, every background pixel that cannot be reached
// from the slice border through 4-connected background.
func (a *Analyzer) FillHoles(mask models.Mask) (models.Mask, error) {
	if err := mask.Validate(); err != nil {
		return models.Mask{}, err
	}
	rows, cols := mask.Shape.Rows, mask.Shape.Cols
	out := mask.Clone()

	a.forEachSlice(mask.Shape.Slices, func(s int) {
		src := mask.Slice(s)
		outside := make([]bool, len(src))
		var stack []int
		push := func(i int) {
			if !src[i] && !outside[i] {
				outside[i] = true
				stack = append(stack, i)
			}
		}
		for c := 0; c < cols; c++ {
			push(c)
			push((rows-1)*cols + c)
		}
		for r := 0; r < rows; r++ {
			push(r * cols)
			push(r*cols + cols - 1)
		}
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			r, c := i/cols, i%cols
			if r > 0 {
				push(i - cols)
			}
			if r < rows-1 {
				push(i + cols)
			}
			if c > 0 {
				push(i - 1)
			}
			if c < cols-1 {
				push(i + 1)
			}
		}

		dst := out.Slice(s)
		for i := range dst {
			dst[i] = !outside[i]
		}
	})
	return out, nil
}
