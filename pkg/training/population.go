package training

import (
	"github.com/pkg/errors"

	"ctlungseg/internal/models"
)

// Population is an owned, read-only snapshot of the feature vectors a trainer
// draws its subsamples from. Building one copies the included vectors, so later
// changes to the source tensors cannot leak into a training run and two runs
// never share mutable state.
type Population struct {
	channels int
	data     []float64
}

// NewPopulation collects the vectors of every tensor, restricted to the voxels
// marked in the matching mask. masks may be nil, or hold nil entries for
// tensors that use every voxel.
func NewPopulation(tensors []models.FeatureTensor, masks []*models.Mask) (Population, error) {
	if masks != nil && len(masks) != len(tensors) {
		return Population{}, errors.Wrapf(models.ErrShapeMismatch, "%d masks for %d tensors", len(masks), len(tensors))
	}

	var p Population
	for i, t := range tensors {
		if err := t.Validate(); err != nil {
			return Population{}, errors.Wrapf(err, "tensor %d", i)
		}
		if p.channels == 0 {
			p.channels = t.Channels
		} else if t.Channels != p.channels {
			return Population{}, errors.Wrapf(models.ErrShapeMismatch, "tensor %d has %d channels, expected %d", i, t.Channels, p.channels)
		}

		var mask *models.Mask
		if masks != nil {
			mask = masks[i]
		}
		if mask == nil {
			p.data = append(p.data, t.Data...)
			continue
		}
		if mask.Shape != t.Shape || len(mask.Data) != t.Shape.Voxels() {
			return Population{}, errors.Wrapf(models.ErrShapeMismatch, "mask %d shape %+v does not match tensor shape %+v", i, mask.Shape, t.Shape)
		}
		for v, included := range mask.Data {
			if included {
				p.data = append(p.data, t.Vector(v)...)
			}
		}
	}
	return p, nil
}

// PopulationFromVectors copies a flat list of vectors into a Population.
func PopulationFromVectors(vectors [][]float64) (Population, error) {
	var p Population
	for i, v := range vectors {
		if i == 0 {
			p.channels = len(v)
		}
		if len(v) != p.channels || len(v) == 0 {
			return Population{}, errors.Wrapf(models.ErrShapeMismatch, "vector %d has %d channels, expected %d", i, len(v), p.channels)
		}
		p.data = append(p.data, v...)
	}
	return p, nil
}

// Len returns the number of vectors.
func (p Population) Len() int {
	if p.channels == 0 {
		return 0
	}
	return len(p.data) / p.channels
}

// Channels returns the vector dimensionality.
func (p Population) Channels() int {
	return p.channels
}

// vector returns vector i. The slice aliases the snapshot and must not be modified.
func (p Population) vector(i int) []float64 {
	return p.data[i*p.channels : (i+1)*p.channels]
}
