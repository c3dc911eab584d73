// Package kmeans provides the single-pass k-means primitive used by centroid
// training. Every numeric backend satisfies the Clusterer interface, so the
// trainer never depends on a particular implementation.
package kmeans

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"ctlungseg/internal/models"
)

// Init selects how initial centroids are chosen.
type Init int

const (
	// InitRandom picks k distinct input vectors uniformly at random.
	InitRandom Init = iota
	// InitPlusPlus spreads the seeds with k-means++ distance weighting.
	InitPlusPlus
)

// ParseInit maps the configuration names "random" and "++" to an Init.
func ParseInit(s string) (Init, error) {
	switch s {
	case "random", "":
		return InitRandom, nil
	case "++", "plusplus":
		return InitPlusPlus, nil
	}
	return 0, errors.Wrapf(models.ErrConfiguration, "unknown centroid initialization %q", s)
}

func (i Init) String() string {
	if i == InitPlusPlus {
		return "++"
	}
	return "random"
}

// Criteria is the convergence policy of one k-means run.
type Criteria struct {
	// MaxIterations bounds the number of assignment/update rounds.
	MaxIterations int
	// Epsilon stops the run once no centroid moved further than this.
	Epsilon float64
}

// Result of one clustering run.
type Result struct {
	Centroids   [][]float64
	Assignments []int
	Iterations  int
	// Inertia is the sum of squared distances to the assigned centroids.
	Inertia float64
}

// Clusterer is a k-means backend.
type Clusterer interface {
	Cluster(ctx context.Context, vectors [][]float64, k int, init Init, crit Criteria) (Result, error)
}

// Seeder is implemented by backends whose random stream can be re-seeded.
// WithSeed returns an independent copy; the receiver is left unchanged.
type Seeder interface {
	WithSeed(seed uint64) Clusterer
}

// New returns the backend registered under name.
func New(name string, seed uint64, attempts int) (Clusterer, error) {
	switch name {
	case "lloyd", "":
		return &Lloyd{Seed: seed, Attempts: attempts}, nil
	case "muesli":
		return &Muesli{}, nil
	}
	return nil, errors.Wrapf(models.ErrConfiguration, "unknown k-means backend %q", name)
}

// validate checks the arguments shared by every backend.
func validate(vectors [][]float64, k int, crit Criteria) (int, error) {
	if k <= 0 {
		return 0, errors.Wrapf(models.ErrConfiguration, "k must be positive, got %d", k)
	}
	if len(vectors) == 0 {
		return 0, errors.Wrap(models.ErrConfiguration, "no vectors to cluster")
	}
	if k > len(vectors) {
		return 0, errors.Wrapf(models.ErrConfiguration, "k=%d exceeds the %d vectors to cluster", k, len(vectors))
	}
	if crit.MaxIterations <= 0 {
		return 0, errors.Wrapf(models.ErrConfiguration, "max iterations must be positive, got %d", crit.MaxIterations)
	}
	if crit.Epsilon < 0 {
		return 0, errors.Wrapf(models.ErrConfiguration, "epsilon must not be negative, got %g", crit.Epsilon)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, errors.Wrap(models.ErrConfiguration, "vectors have no channels")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, errors.Wrap(models.ErrConfiguration, fmt.Sprintf("vector %d has %d channels, expected %d", i, len(v), dim))
		}
	}
	return dim, nil
}

func sqDist(a, b []float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}

// nearest returns the index of the closest centroid, lowest index on ties.
func nearest(v []float64, centroids [][]float64) (int, float64) {
	best, bestDist := 0, sqDist(v, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := sqDist(v, centroids[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}
