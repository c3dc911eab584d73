// Package reconstruction closes gaps along the slice axis of binary volumes.
//
// A structure detected in most slices but missed in a few interior ones is
// restored by marking every (row, col) position positive between the first and
// the last slice in which it is positive. The row and column extent of the
// mask never grows.
package reconstruction

import (
	"sync"

	"ctlungseg/internal/models"
)

// Reconstructor fills slice-axis gaps. The (row, col) plane is shared between
// Workers goroutines; values < 1 mean 1.
type Reconstructor struct {
	Workers int
}

// NewReconstructor returns a reconstructor using the given number of workers.
func NewReconstructor(workers int) *Reconstructor {
	return &Reconstructor{Workers: workers}
}

// FillGaps runs a single-worker Reconstructor.
func FillGaps(mask models.Mask) (models.Mask, error) {
	return (&Reconstructor{Workers: 1}).Fill(mask)
}

// Fill returns a new mask in which voxel (s, r, c) is positive when (r, c) is
// positive in some slice at or before s and in some slice at or after s.
// The input is not modified and the result is idempotent under Fill.
func (rc *Reconstructor) Fill(mask models.Mask) (models.Mask, error) {
	if err := mask.Validate(); err != nil {
		return models.Mask{}, err
	}

	forward := mask.Clone()
	backward := mask.Clone()
	out := models.NewMask(mask.Shape)

	numSlices := mask.Shape.Slices
	planeSize := mask.Shape.SliceSize()

	workers := rc.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > planeSize {
		workers = planeSize
	}
	pixelsPerWorker := (planeSize + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * pixelsPerWorker
		end := start + pixelsPerWorker
		if end > planeSize {
			end = planeSize
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(from, to int) {
			defer wg.Done()

			// Forward sweep: slice i+1 |= slice i
			for s := 0; s < numSlices-1; s++ {
				cur := forward.Data[s*planeSize : (s+1)*planeSize]
				next := forward.Data[(s+1)*planeSize : (s+2)*planeSize]
				for p := from; p < to; p++ {
					next[p] = next[p] || cur[p]
				}
			}

			// Backward sweep: slice i-1 |= slice i
			for s := numSlices - 1; s > 0; s-- {
				cur := backward.Data[s*planeSize : (s+1)*planeSize]
				prev := backward.Data[(s-1)*planeSize : s*planeSize]
				for p := from; p < to; p++ {
					prev[p] = prev[p] || cur[p]
				}
			}

			for s := 0; s < numSlices; s++ {
				base := s * planeSize
				for p := from; p < to; p++ {
					out.Data[base+p] = forward.Data[base+p] && backward.Data[base+p]
				}
			}
		}(start, end)
	}
	wg.Wait()

	return out, nil
}
