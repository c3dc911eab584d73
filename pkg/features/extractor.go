// Package features turns a CT intensity volume into the four-channel feature
// tensor consumed by training and labeling.
//
// The channels are, in order: local histogram equalization, median, gamma
// correction and local standard deviation. Each channel is normalised to zero
// mean and unit variance over the whole stack.
package features

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctlungseg/internal/logger"
	"ctlungseg/internal/models"
)

// Channels is the number of channels produced by Extract.
const Channels = 4

// Channel indices of the extracted tensor.
const (
	ChannelEqualized = iota
	ChannelMedian
	ChannelGamma
	ChannelStd
)

// ChannelNames names the channels in tensor order.
var ChannelNames = []string{"equalized", "median", "gamma", "std"}

const component = "features"

// Extractor computes feature tensors from intensity volumes.
type Extractor struct {
	// Radius of the median and standard deviation neighbourhoods
	Radius int

	// EqualizationRadius of the local histogram neighbourhood
	EqualizationRadius int

	// Gamma of the gamma-corrected channel
	Gamma float64

	// Workers bounds the slices filtered concurrently (values < 1 mean 1)
	Workers int

	Logger logger.Logger
}

// NewExtractor returns an extractor with the default filter sizes.
func NewExtractor(workers int, log logger.Logger) *Extractor {
	return &Extractor{
		Radius:             3,
		EqualizationRadius: 5,
		Gamma:              1.5,
		Workers:            workers,
		Logger:             log,
	}
}

// Extract returns the normalised feature tensor of vol.
func (e *Extractor) Extract(ctx context.Context, vol models.Volume) (models.FeatureTensor, error) {
	if err := vol.Validate(); err != nil {
		return models.FeatureTensor{}, err
	}
	if e.Radius <= 0 || e.EqualizationRadius <= 0 {
		return models.FeatureTensor{}, errors.Wrapf(models.ErrConfiguration,
			"filter radii must be positive, got %d and %d", e.Radius, e.EqualizationRadius)
	}
	if e.Gamma <= 0 {
		return models.FeatureTensor{}, errors.Wrapf(models.ErrConfiguration, "gamma must be positive, got %g", e.Gamma)
	}
	log := logger.OrNop(e.Logger)
	start := time.Now()

	// One planar buffer per channel, filled slice by slice.
	channels := make([][]float64, Channels)
	for i := range channels {
		channels[i] = make([]float64, vol.Shape.Voxels())
	}
	offset := floats.Min(vol.Data)
	size := vol.Shape.SliceSize()

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for s := 0; s < vol.Shape.Slices; s++ {
		s := s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := plane[float64]{rows: vol.Shape.Rows, cols: vol.Shape.Cols, data: vol.Slice(s)}
			lo, hi := s*size, (s+1)*size
			equalize(p, e.EqualizationRadius, channels[ChannelEqualized][lo:hi])
			medianFilter(p, e.Radius, channels[ChannelMedian][lo:hi])
			gammaCorrect(p, e.Gamma, offset, channels[ChannelGamma][lo:hi])
			stdFilter(p, e.Radius, channels[ChannelStd][lo:hi])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.FeatureTensor{}, err
	}

	ft := models.NewFeatureTensor(vol.Shape, Channels)
	for ch, data := range channels {
		if err := Normalize(data); err != nil {
			return models.FeatureTensor{}, errors.Wrapf(err, "channel %s", ChannelNames[ch])
		}
		for v, x := range data {
			ft.Data[v*Channels+ch] = x
		}
	}

	log.Debug(component, "features extracted", map[string]interface{}{
		"slices":  vol.Shape.Slices,
		"elapsed": time.Since(start).String(),
	})
	return ft, nil
}

// Normalize rescales data in place to zero mean and unit population standard
// deviation. A constant input has no scale and yields models.ErrConfiguration.
func Normalize(data []float64) error {
	if len(data) == 0 {
		return errors.Wrap(models.ErrConfiguration, "cannot normalise an empty channel")
	}
	mean, std := stat.PopMeanStdDev(data, nil)
	if std == 0 {
		return errors.Wrapf(models.ErrConfiguration, "channel is constant (%g)", mean)
	}
	floats.AddConst(-mean, data)
	floats.Scale(1/std, data)
	return nil
}

// InclusionMask marks the voxels whose intensity lies in [lower, upper].
func InclusionMask(vol models.Volume, lower, upper float64) (models.Mask, error) {
	if err := vol.Validate(); err != nil {
		return models.Mask{}, err
	}
	if lower > upper {
		return models.Mask{}, errors.Wrapf(models.ErrConfiguration, "empty intensity interval [%g, %g]", lower, upper)
	}
	m := models.NewMask(vol.Shape)
	for i, v := range vol.Data {
		m.Data[i] = v >= lower && v <= upper
	}
	return m, nil
}

// MedianMask smooths mask slice by slice with a binary median filter of the
// given radius. The input is left untouched.
func MedianMask(ctx context.Context, mask models.Mask, radius, workers int) (models.Mask, error) {
	if err := mask.Validate(); err != nil {
		return models.Mask{}, err
	}
	if radius <= 0 {
		return models.Mask{}, errors.Wrapf(models.ErrConfiguration, "median radius must be positive, got %d", radius)
	}
	if workers < 1 {
		workers = 1
	}

	out := models.NewMask(mask.Shape)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for s := 0; s < mask.Shape.Slices; s++ {
		s := s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := plane[bool]{rows: mask.Shape.Rows, cols: mask.Shape.Cols, data: mask.Slice(s)}
			majorityFilter(p, radius, out.Slice(s))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Mask{}, err
	}
	return out, nil
}
