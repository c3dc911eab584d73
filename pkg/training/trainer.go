// Package training estimates centroid tables from voxel populations too large
// to cluster in a single k-means pass.
//
// The population is shuffled and split into n disjoint subsamples, each
// subsample is clustered independently, and the n*k local centroids are
// clustered once more into the consensus table. Peak memory stays bounded by
// one subsample while the second pass smooths the noisy local estimates.
package training

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"ctlungseg/internal/logger"
	"ctlungseg/internal/models"
	"ctlungseg/pkg/centroids"
	"ctlungseg/pkg/kmeans"
)

const component = "trainer"

// Params are the per-run training parameters.
type Params struct {
	// K is the number of centroids to learn
	K int

	// Subsamples is the number of disjoint partitions of the population
	Subsamples int

	Init     kmeans.Init
	Criteria kmeans.Criteria
}

// Trainer runs the two-stage centroid estimation.
type Trainer struct {
	// Clusterer is the k-means backend used by both stages
	Clusterer kmeans.Clusterer

	// Logger receives progress messages; nil disables logging
	Logger logger.Logger

	// Workers bounds the subsamples clustered concurrently (values < 1 mean 1)
	Workers int

	// Seed drives the population shuffle and the per-subsample backend seeds
	Seed uint64

	// OnSubsample, when set, receives every local centroid table in subsample
	// order once all of them are computed.
	OnSubsample func(index int, table centroids.Table) error
}

// NewTrainer returns a trainer over the given backend.
func NewTrainer(clusterer kmeans.Clusterer, log logger.Logger, workers int, seed uint64) *Trainer {
	return &Trainer{
		Clusterer: clusterer,
		Logger:    log,
		Workers:   workers,
		Seed:      seed,
	}
}

// Validate checks p against a population of the given size.
func (p Params) Validate(populationSize int) error {
	if p.K <= 0 {
		return errors.Wrapf(models.ErrConfiguration, "k must be positive, got %d", p.K)
	}
	if p.Subsamples <= 0 {
		return errors.Wrapf(models.ErrConfiguration, "subsample count must be positive, got %d", p.Subsamples)
	}
	if p.Criteria.MaxIterations <= 0 {
		return errors.Wrapf(models.ErrConfiguration, "max iterations must be positive, got %d", p.Criteria.MaxIterations)
	}
	if p.Criteria.Epsilon < 0 {
		return errors.Wrapf(models.ErrConfiguration, "epsilon must not be negative, got %g", p.Criteria.Epsilon)
	}
	if populationSize == 0 {
		return errors.Wrap(models.ErrConfiguration, "empty training population")
	}
	if smallest := populationSize / p.Subsamples; smallest < p.K {
		return errors.Wrapf(models.ErrConfiguration,
			"k=%d exceeds the smallest subsample (%d vectors split into %d subsamples of at least %d)",
			p.K, populationSize, p.Subsamples, smallest)
	}
	return nil
}

// Train returns exactly p.K centroids sorted ascending on channel 0.
func (t *Trainer) Train(ctx context.Context, pop Population, p Params) (centroids.Table, error) {
	if err := p.Validate(pop.Len()); err != nil {
		return centroids.Table{}, err
	}
	if t.Clusterer == nil {
		return centroids.Table{}, errors.Wrap(models.ErrConfiguration, "trainer has no k-means backend")
	}
	log := logger.OrNop(t.Logger)
	start := time.Now()

	log.Info(component, "starting clustering", map[string]interface{}{
		"k":          p.K,
		"subsamples": p.Subsamples,
		"vectors":    pop.Len(),
		"channels":   pop.Channels(),
		"init":       p.Init.String(),
	})

	// Step 1: shuffle and split
	samples := split(pop, p.Subsamples, t.Seed)

	// Step 2: cluster every subsample independently
	local := make([][][]float64, len(samples))
	workers := t.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sample := range samples {
		i, sample := i, sample
		g.Go(func() error {
			res, err := t.subsampleClusterer(i).Cluster(gctx, sample, p.K, p.Init, p.Criteria)
			if err != nil {
				return errors.Wrapf(err, "subsample %d", i)
			}
			local[i] = res.Centroids
			log.Debug(component, "subsample clustered", map[string]interface{}{
				"index":      i,
				"size":       len(sample),
				"iterations": res.Iterations,
				"inertia":    res.Inertia,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return centroids.Table{}, err
	}

	if t.OnSubsample != nil {
		for i, c := range local {
			tbl, err := centroids.New(c)
			if err != nil {
				return centroids.Table{}, err
			}
			if err := t.OnSubsample(i, tbl.SortByFirstChannel()); err != nil {
				return centroids.Table{}, errors.Wrapf(err, "intermediate centroids %d", i)
			}
		}
	}

	// Step 3: consensus clustering over the pooled local centroids
	pool := make([][]float64, 0, len(local)*p.K)
	for _, c := range local {
		pool = append(pool, c...)
	}
	log.Info(component, "starting second clustering", map[string]interface{}{"pooled": len(pool)})
	res, err := t.Clusterer.Cluster(ctx, pool, p.K, p.Init, p.Criteria)
	if err != nil {
		return centroids.Table{}, errors.Wrap(err, "consensus clustering")
	}

	// Step 4: stable label order
	tbl, err := centroids.New(res.Centroids)
	if err != nil {
		return centroids.Table{}, err
	}
	tbl = tbl.SortByFirstChannel()

	log.Info(component, "training complete", map[string]interface{}{
		"elapsed": time.Since(start).String(),
	})
	return tbl, nil
}

// subsampleClusterer returns the backend for subsample i. Seedable backends
// get a seed derived from the trainer seed so that no two runs share a
// random stream.
func (t *Trainer) subsampleClusterer(i int) kmeans.Clusterer {
	if s, ok := t.Clusterer.(kmeans.Seeder); ok {
		return s.WithSeed(t.Seed + uint64(i) + 1)
	}
	return t.Clusterer
}

// split shuffles a permutation of the population and cuts it into n parts whose
// sizes differ by at most one, the first len%n parts holding the extra vector.
// The returned vectors alias the population snapshot.
func split(pop Population, n int, seed uint64) [][][]float64 {
	total := pop.Len()
	perm := rand.New(rand.NewSource(seed)).Perm(total)

	base, extra := total/n, total%n
	out := make([][][]float64, n)
	pos := 0
	for i := range out {
		size := base
		if i < extra {
			size++
		}
		part := make([][]float64, size)
		for j := range part {
			part[j] = pop.vector(perm[pos+j])
		}
		out[i] = part
		pos += size
	}
	return out
}
