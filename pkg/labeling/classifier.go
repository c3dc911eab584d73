// Package labeling assigns every voxel of a feature tensor to its nearest
// centroid under Euclidean distance.
package labeling

import (
	"sync"

	"github.com/pkg/errors"

	"ctlungseg/internal/models"
	"ctlungseg/pkg/centroids"
)

// Classifier is a brute-force nearest-centroid labeler. Centroid tables are
// only read, so one table may back any number of concurrent calls.
type Classifier struct {
	// Workers is the number of goroutines sharing the slices of a volume
	// (values < 1 mean 1)
	Workers int
}

// NewClassifier returns a classifier using the given number of workers.
func NewClassifier(workers int) *Classifier {
	return &Classifier{Workers: workers}
}

// Classify labels every voxel of ft with the index of its nearest centroid.
// Ties go to the lowest index, so every value lies in [0, table.K-1].
func (c *Classifier) Classify(ft models.FeatureTensor, table centroids.Table) (models.LabelVolume, error) {
	if err := checkInputs(ft, table); err != nil {
		return models.LabelVolume{}, err
	}
	out := models.NewLabelVolume(ft.Shape, 0)
	c.run(ft, table, nil, out)
	return out, nil
}

// ClassifyMasked labels only the voxels included by mask. The mask is left
// untouched; excluded voxels hold models.Unassigned in the returned volume.
func (c *Classifier) ClassifyMasked(ft models.FeatureTensor, table centroids.Table, mask models.Mask) (models.LabelVolume, error) {
	if err := checkInputs(ft, table); err != nil {
		return models.LabelVolume{}, err
	}
	if mask.Shape != ft.Shape || len(mask.Data) != ft.Shape.Voxels() {
		return models.LabelVolume{}, errors.Wrapf(models.ErrShapeMismatch,
			"mask shape %+v does not match feature shape %+v", mask.Shape, ft.Shape)
	}
	out := models.NewLabelVolume(ft.Shape, models.Unassigned)
	c.run(ft, table, mask.Data, out)
	return out, nil
}

func checkInputs(ft models.FeatureTensor, table centroids.Table) error {
	if err := ft.Validate(); err != nil {
		return err
	}
	if err := table.Validate(); err != nil {
		return err
	}
	if ft.Channels != table.Channels {
		return errors.Wrapf(models.ErrShapeMismatch,
			"feature tensor has %d channels, centroids have %d", ft.Channels, table.Channels)
	}
	return nil
}

// run splits the slices evenly across workers.
func (c *Classifier) run(ft models.FeatureTensor, table centroids.Table, include []bool, out models.LabelVolume) {
	numSlices := ft.Shape.Slices
	workers := c.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > numSlices {
		workers = numSlices
	}
	slicesPerWorker := (numSlices + workers - 1) / workers
	sliceSize := ft.Shape.SliceSize()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * slicesPerWorker
		end := start + slicesPerWorker
		if end > numSlices {
			end = numSlices
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(from, to int) {
			defer wg.Done()
			for v := from; v < to; v++ {
				if include != nil && !include[v] {
					continue
				}
				out.Data[v] = int32(Nearest(ft.Vector(v), table))
			}
		}(start*sliceSize, end*sliceSize)
	}
	wg.Wait()
}

// Nearest returns the index of the centroid closest to v, lowest index on ties.
func Nearest(v []float64, table centroids.Table) int {
	best := 0
	bestDist := 0.0
	for k := 0; k < table.K; k++ {
		row := table.Data[k*table.Channels : (k+1)*table.Channels]
		var d float64
		for j, x := range v {
			diff := x - row[j]
			d += diff * diff
		}
		if k == 0 || d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

// Binarize returns the mask of voxels labelled target.
func Binarize(labels models.LabelVolume, target int32) models.Mask {
	m := models.NewMask(labels.Shape)
	for i, l := range labels.Data {
		m.Data[i] = l == target
	}
	return m
}

// Histogram counts the voxels assigned to each of k labels. Unassigned and
// out-of-range entries are not counted.
func Histogram(labels models.LabelVolume, k int) []int {
	counts := make([]int, k)
	for _, l := range labels.Data {
		if l >= 0 && int(l) < k {
			counts[l]++
		}
	}
	return counts
}
