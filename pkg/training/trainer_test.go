package training

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/exp/rand"

	"ctlungseg/internal/models"
	"ctlungseg/pkg/centroids"
	"ctlungseg/pkg/kmeans"
)

// randomVectors returns n vectors of dim channels drawn around four levels.
func randomVectors(n, dim int, seed uint64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	levels := []float64{-3, 0, 2, 6}
	out := make([][]float64, n)
	for i := range out {
		level := levels[rng.Intn(len(levels))]
		v := make([]float64, dim)
		for j := range v {
			v[j] = level + rng.NormFloat64()*0.3
		}
		out[i] = v
	}
	return out
}

func defaultParams() Params {
	return Params{
		K:          4,
		Subsamples: 10,
		Init:       kmeans.InitPlusPlus,
		Criteria:   kmeans.Criteria{MaxIterations: 20, Epsilon: 1e-4},
	}
}

func TestTrainReturnsKSortedCentroids(t *testing.T) {
	pop, err := PopulationFromVectors(randomVectors(10000, 4, 11))
	if err != nil {
		t.Fatalf("PopulationFromVectors failed: %v", err)
	}

	for _, init := range []kmeans.Init{kmeans.InitRandom, kmeans.InitPlusPlus} {
		t.Run(init.String(), func(t *testing.T) {
			p := defaultParams()
			p.Init = init
			tr := NewTrainer(&kmeans.Lloyd{Seed: 5}, nil, 4, 99)

			tbl, err := tr.Train(context.Background(), pop, p)
			if err != nil {
				t.Fatalf("Train failed: %v", err)
			}
			if tbl.K != 4 || tbl.Channels != 4 {
				t.Fatalf("Expected a 4x4 table, got %dx%d", tbl.K, tbl.Channels)
			}
			first := make([]float64, tbl.K)
			for i := range first {
				first[i] = tbl.Vector(i)[0]
			}
			if !sort.Float64sAreSorted(first) {
				t.Errorf("Centroids not sorted on channel 0: %v", first)
			}
		})
	}
}

func TestTrainWithMuesliBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping muesli backend training in short mode")
	}
	pop, _ := PopulationFromVectors(randomVectors(2000, 4, 3))
	p := defaultParams()
	p.Init = kmeans.InitRandom
	p.Criteria.Epsilon = 0.01

	tbl, err := NewTrainer(kmeans.Muesli{}, nil, 2, 1).Train(context.Background(), pop, p)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if tbl.K != 4 {
		t.Errorf("Expected 4 centroids, got %d", tbl.K)
	}
}

func TestTrainConfigurationErrors(t *testing.T) {
	pop, _ := PopulationFromVectors(randomVectors(100, 2, 1))
	empty := Population{}

	cases := []struct {
		name   string
		pop    Population
		mutate func(*Params)
	}{
		{"k above subsample size", pop, func(p *Params) { p.K = 11 }},
		{"zero subsamples", pop, func(p *Params) { p.Subsamples = 0 }},
		{"negative subsamples", pop, func(p *Params) { p.Subsamples = -2 }},
		{"zero k", pop, func(p *Params) { p.K = 0 }},
		{"empty population", empty, func(p *Params) {}},
		{"no iterations", pop, func(p *Params) { p.Criteria.MaxIterations = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := defaultParams()
			tc.mutate(&p)
			_, err := NewTrainer(&kmeans.Lloyd{}, nil, 1, 1).Train(context.Background(), tc.pop, p)
			if !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}

	// 100 vectors in 10 subsamples of 10: k == 10 is still allowed.
	p := defaultParams()
	p.K = 10
	p.Criteria.MaxIterations = 2
	if err := p.Validate(pop.Len()); err != nil {
		t.Errorf("k equal to the subsample size should validate, got %v", err)
	}
}

func TestSplitIsDisjointAndBalanced(t *testing.T) {
	vectors := make([][]float64, 23)
	for i := range vectors {
		vectors[i] = []float64{float64(i)}
	}
	pop, _ := PopulationFromVectors(vectors)

	parts := split(pop, 5, 7)
	wantSizes := []int{5, 5, 5, 4, 4}
	seen := make(map[float64]bool)
	for i, part := range parts {
		if len(part) != wantSizes[i] {
			t.Errorf("Part %d: expected %d vectors, got %d", i, wantSizes[i], len(part))
		}
		for _, v := range part {
			if seen[v[0]] {
				t.Errorf("Vector %v drawn twice", v)
			}
			seen[v[0]] = true
		}
	}
	if len(seen) != 23 {
		t.Errorf("Expected every vector once, got %d", len(seen))
	}
}

func TestPopulationSnapshotAndMask(t *testing.T) {
	shape := models.Shape{Slices: 1, Rows: 2, Cols: 2}
	ft := models.NewFeatureTensor(shape, 2)
	for i := range ft.Data {
		ft.Data[i] = float64(i)
	}
	mask := models.NewMask(shape)
	mask.Data[1] = true
	mask.Data[3] = true

	pop, err := NewPopulation([]models.FeatureTensor{ft, ft}, []*models.Mask{&mask, nil})
	if err != nil {
		t.Fatalf("NewPopulation failed: %v", err)
	}
	if pop.Len() != 6 {
		t.Fatalf("Expected 2 masked + 4 unmasked vectors, got %d", pop.Len())
	}
	if v := pop.vector(0); v[0] != 2 || v[1] != 3 {
		t.Errorf("Expected the vector of voxel 1 first, got %v", v)
	}

	ft.Data[2] = -100
	if pop.vector(0)[0] != 2 {
		t.Errorf("Population must not alias the source tensor")
	}

	bad := models.NewMask(models.Shape{Slices: 1, Rows: 1, Cols: 4})
	if _, err := NewPopulation([]models.FeatureTensor{ft}, []*models.Mask{&bad}); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestOnSubsampleReceivesEveryTable(t *testing.T) {
	pop, _ := PopulationFromVectors(randomVectors(400, 3, 2))
	p := defaultParams()
	p.Subsamples = 4

	var got []int
	tr := NewTrainer(&kmeans.Lloyd{Seed: 1}, nil, 2, 1)
	tr.OnSubsample = func(i int, tbl centroids.Table) error {
		if tbl.K != p.K {
			t.Errorf("Intermediate table %d has %d rows", i, tbl.K)
		}
		got = append(got, i)
		return nil
	}
	if _, err := tr.Train(context.Background(), pop, p); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(got) != 4 || got[0] != 0 || got[3] != 3 {
		t.Errorf("Expected subsample callbacks 0..3 in order, got %v", got)
	}
}

// seedRecorder runs Lloyd and records the seed of every run.
type seedRecorder struct {
	mu    *sync.Mutex
	seeds *[]uint64
	seed  uint64
}

func (r seedRecorder) WithSeed(seed uint64) kmeans.Clusterer {
	r.seed = seed
	return r
}

func (r seedRecorder) Cluster(ctx context.Context, vectors [][]float64, k int, init kmeans.Init, crit kmeans.Criteria) (kmeans.Result, error) {
	r.mu.Lock()
	*r.seeds = append(*r.seeds, r.seed)
	r.mu.Unlock()
	return (&kmeans.Lloyd{Seed: r.seed}).Cluster(ctx, vectors, k, init, crit)
}

func TestSubsamplesUseIndependentSeeds(t *testing.T) {
	pop, _ := PopulationFromVectors(randomVectors(400, 3, 4))
	p := defaultParams()
	p.Subsamples = 4

	var seeds []uint64
	rec := seedRecorder{mu: &sync.Mutex{}, seeds: &seeds, seed: 99}
	if _, err := NewTrainer(rec, nil, 2, 7).Train(context.Background(), pop, p); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(seeds) != 5 {
		t.Fatalf("Expected 4 subsample runs and 1 consensus run, got %d", len(seeds))
	}
	if seeds[4] != 99 {
		t.Errorf("Expected the consensus run to keep the backend seed 99, got %d", seeds[4])
	}
	local := append([]uint64(nil), seeds[:4]...)
	sort.Slice(local, func(i, j int) bool { return local[i] < local[j] })
	if diff := cmp.Diff([]uint64{8, 9, 10, 11}, local); diff != "" {
		t.Errorf("Unexpected subsample seeds (-want +got):\n%s", diff)
	}
}

func TestLloydWithSeedCopies(t *testing.T) {
	base := &kmeans.Lloyd{Seed: 1, Attempts: 3}
	next, ok := kmeans.Clusterer(base).(kmeans.Seeder)
	if !ok {
		t.Fatal("Expected Lloyd to be re-seedable")
	}
	got := next.WithSeed(42).(*kmeans.Lloyd)
	if got.Seed != 42 || got.Attempts != 3 {
		t.Errorf("Expected seed 42 with 3 attempts, got %+v", got)
	}
	if base.Seed != 1 {
		t.Errorf("WithSeed must not modify the receiver, seed is %d", base.Seed)
	}
}
