// Package centroids holds the centroid table learned by training and consumed
// by the voxel classifier. Row order defines the label integers 0..k-1.
package centroids

import (
	"sort"

	"github.com/pkg/errors"

	"ctlungseg/internal/models"
)

// GGOLabel is the ground-glass opacity row of the Default table.
const GGOLabel = 3

// Table is an ordered list of K centroid vectors of Channels values each,
// stored row-major. A Table is never modified after construction and may be
// shared across concurrent classifiers.
type Table struct {
	K        int
	Channels int
	Data     []float64
}

// New copies rows into a Table. Every row must have the same length.
func New(rows [][]float64) (Table, error) {
	if len(rows) == 0 {
		return Table{}, errors.Wrap(models.ErrConfiguration, "centroid table needs at least one row")
	}
	c := len(rows[0])
	if c == 0 {
		return Table{}, errors.Wrap(models.ErrConfiguration, "centroid rows must not be empty")
	}
	t := Table{K: len(rows), Channels: c, Data: make([]float64, 0, len(rows)*c)}
	for i, r := range rows {
		if len(r) != c {
			return Table{}, errors.Wrapf(models.ErrShapeMismatch, "centroid %d has %d channels, expected %d", i, len(r), c)
		}
		t.Data = append(t.Data, r...)
	}
	return t, nil
}

// Vector returns row i. The returned slice aliases the table and must not be modified.
func (t Table) Vector(i int) []float64 {
	return t.Data[i*t.Channels : (i+1)*t.Channels]
}

// Rows returns a deep copy of the table as a slice of vectors.
func (t Table) Rows() [][]float64 {
	out := make([][]float64, t.K)
	for i := range out {
		out[i] = append([]float64(nil), t.Vector(i)...)
	}
	return out
}

// Validate checks the table dimensions.
func (t Table) Validate() error {
	if t.K <= 0 || t.Channels <= 0 || len(t.Data) != t.K*t.Channels {
		return errors.Wrapf(models.ErrShapeMismatch, "centroid table %dx%d holds %d values", t.K, t.Channels, len(t.Data))
	}
	return nil
}

// SortByFirstChannel returns a copy ordered ascending on channel 0, ties
// broken by the following channels, so that tables trained on statistically
// similar data assign the same label indices.
func (t Table) SortByFirstChannel() Table {
	rows := t.Rows()
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		for c := range a {
			if a[c] != b[c] {
				return a[c] < b[c]
			}
		}
		return false
	})
	out, _ := New(rows)
	return out
}

// Names of the rows of the Default table.
var DefaultNames = []string{"healthy lung", "lung", "edges", "GGO", "noise"}

// Default returns the pre-trained table shipped with the labeling tool:
// five classes over four normalised channels (equalized intensity, median,
// gamma-corrected intensity, local standard deviation).
func Default() Table {
	t, _ := New([][]float64{
		{1.0291475, 1.7986686, 1.3147535, 1.6199226},
		{2.4449115, 2.8337748, 1.556249, 2.9394238},
		{3.4244044, 2.1809669, 4.172402, 3.652266},
		{5.1485806, 5.3843336, 2.7543516, 4.812335},
		{8.233303, 1.9194404, 6.503928, 6.670035},
	})
	return t
}
