package kmeans

import (
	"context"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Lloyd is the native batch k-means backend. It supports both seeding
// strategies and is deterministic for a fixed Seed.
type Lloyd struct {
	Seed uint64

	// Attempts restarts the run with fresh seeds and keeps the lowest inertia.
	// Values below 1 mean a single attempt.
	Attempts int
}

// WithSeed implements Seeder.
func (l *Lloyd) WithSeed(seed uint64) Clusterer {
	c := *l
	c.Seed = seed
	return &c
}

// Cluster implements Clusterer.
func (l *Lloyd) Cluster(ctx context.Context, vectors [][]float64, k int, init Init, crit Criteria) (Result, error) {
	dim, err := validate(vectors, k, crit)
	if err != nil {
		return Result{}, err
	}

	attempts := l.Attempts
	if attempts < 1 {
		attempts = 1
	}
	src := rand.NewSource(l.Seed)
	rng := rand.New(src)

	var best Result
	for a := 0; a < attempts; a++ {
		res, err := lloydRun(ctx, vectors, k, dim, init, crit, rng, src)
		if err != nil {
			return Result{}, err
		}
		if a == 0 || res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

func lloydRun(ctx context.Context, vectors [][]float64, k, dim int, init Init, crit Criteria, rng *rand.Rand, src rand.Source) (Result, error) {
	var centroids [][]float64
	if init == InitPlusPlus {
		centroids = seedPlusPlus(vectors, k, rng, src)
	} else {
		centroids = seedRandom(vectors, k, rng)
	}

	assign := make([]int, len(vectors))
	dists := make([]float64, len(vectors))
	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	counts := make([]int, k)

	iter := 0
	for iter < crit.MaxIterations {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		iter++

		for i, v := range vectors {
			assign[i], dists[i] = nearest(v, centroids)
		}

		for c := range sums {
			for j := range sums[c] {
				sums[c][j] = 0
			}
			counts[c] = 0
		}
		for i, v := range vectors {
			floats.Add(sums[assign[i]], v)
			counts[assign[i]]++
		}

		shift := 0.0
		for c := range centroids {
			if counts[c] == 0 {
				// Reseed an empty cluster with the worst-fitting vector.
				far := floats.MaxIdx(dists)
				copy(sums[c], vectors[far])
				counts[c] = 1
				dists[far] = 0
			} else {
				floats.Scale(1/float64(counts[c]), sums[c])
			}
			if d := floats.Distance(centroids[c], sums[c], 2); d > shift {
				shift = d
			}
			copy(centroids[c], sums[c])
		}

		if shift <= crit.Epsilon {
			break
		}
	}

	inertia := 0.0
	for i, v := range vectors {
		assign[i], dists[i] = nearest(v, centroids)
		inertia += dists[i]
	}

	return Result{
		Centroids:   centroids,
		Assignments: assign,
		Iterations:  iter,
		Inertia:     inertia,
	}, nil
}

func seedRandom(vectors [][]float64, k int, rng *rand.Rand) [][]float64 {
	perm := rng.Perm(len(vectors))
	centroids := make([][]float64, k)
	for c := range centroids {
		centroids[c] = append([]float64(nil), vectors[perm[c]]...)
	}
	return centroids
}

// seedPlusPlus draws each new seed with probability proportional to the
// squared distance to the closest seed chosen so far.
func seedPlusPlus(vectors [][]float64, k int, rng *rand.Rand, src rand.Source) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), vectors[rng.Intn(len(vectors))]...))

	weights := make([]float64, len(vectors))
	for i := range weights {
		weights[i] = math.Inf(1)
	}
	for len(centroids) < k {
		last := centroids[len(centroids)-1]
		for i, v := range vectors {
			if d := sqDist(v, last); d < weights[i] {
				weights[i] = d
			}
		}

		var next int
		if floats.Sum(weights) > 0 {
			next = int(distuv.NewCategorical(weights, src).Rand())
		} else {
			// Every vector coincides with a seed already.
			next = rng.Intn(len(vectors))
		}
		centroids = append(centroids, append([]float64(nil), vectors[next]...))
	}
	return centroids
}
