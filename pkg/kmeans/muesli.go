package kmeans

import (
	"context"

	"github.com/muesli/clusters"
	mkmeans "github.com/muesli/kmeans"
	"github.com/pkg/errors"

	"ctlungseg/internal/models"
)

// defaultDelta is the muesli relative-change threshold used when Epsilon
// cannot be expressed as a fraction.
const defaultDelta = 0.01

// Muesli delegates to github.com/muesli/kmeans. The library seeds randomly and
// stops once fewer than Epsilon*len(vectors) points change cluster (Epsilon in
// (0, 1), otherwise 0.01); its iteration cap is internal, so MaxIterations is
// only validated.
type Muesli struct{}

type observation []float64

func (o observation) Coordinates() clusters.Coordinates {
	return clusters.Coordinates(o)
}

func (o observation) Distance(point clusters.Coordinates) float64 {
	return sqDist(o, point)
}

// Cluster implements Clusterer.
func (Muesli) Cluster(ctx context.Context, vectors [][]float64, k int, init Init, crit Criteria) (Result, error) {
	if _, err := validate(vectors, k, crit); err != nil {
		return Result{}, err
	}
	if init != InitRandom {
		return Result{}, errors.Wrapf(models.ErrConfiguration, "muesli backend only supports random initialization, got %s", init)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	delta := defaultDelta
	if crit.Epsilon > 0 && crit.Epsilon < 1 {
		delta = crit.Epsilon
	}
	km, err := mkmeans.NewWithOptions(delta, nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to configure muesli k-means")
	}

	dataset := make(clusters.Observations, len(vectors))
	for i, v := range vectors {
		dataset[i] = observation(v)
	}
	cc, err := km.Partition(dataset, k)
	if err != nil {
		return Result{}, errors.Wrap(err, "muesli k-means failed")
	}

	res := Result{Centroids: make([][]float64, len(cc)), Assignments: make([]int, len(vectors))}
	for i, c := range cc {
		res.Centroids[i] = append([]float64(nil), c.Center...)
	}
	for i, v := range vectors {
		var d float64
		res.Assignments[i], d = nearest(v, res.Centroids)
		res.Inertia += d
	}
	return res, nil
}
