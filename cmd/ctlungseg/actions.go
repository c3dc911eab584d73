package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"ctlungseg/internal/logger"
	"ctlungseg/internal/models"
	"ctlungseg/pkg/centroids"
	"ctlungseg/pkg/config"
	"ctlungseg/pkg/features"
	"ctlungseg/pkg/metrics"
	"ctlungseg/pkg/pipeline"
	"ctlungseg/pkg/visualization"
	"ctlungseg/pkg/volumeio"
)

// setup loads the configuration, applies the global flags and builds the
// logger and pipeline.
func setup(c *cli.Context, adjust func(*config.Config)) (*config.Config, logger.Logger, *pipeline.Pipeline, error) {
	cfg, err := config.LoadConfig(c.String(flagConfig))
	if err != nil {
		return nil, nil, nil, err
	}
	if c.IsSet(flagWorkers) {
		cfg.Training.Workers = c.Int(flagWorkers)
		cfg.Labeling.Workers = c.Int(flagWorkers)
	}
	if c.Bool(flagVerbose) {
		cfg.Output.Verbose = true
	}
	if adjust != nil {
		adjust(cfg)
	}

	level := zerolog.InfoLevel
	if cfg.Output.Verbose {
		level = zerolog.DebugLevel
	}
	log := logger.NewConsoleLogger(level)

	p, err := pipeline.New(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, p, nil
}

// loadVolume reads a volume container, or every slice image of a directory.
func loadVolume(path string) (models.Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Volume{}, err
	}
	if info.IsDir() {
		return volumeio.NewSliceLoader().Load(path)
	}
	return volumeio.LoadVolume(path)
}

// TrainAction learns and saves a centroid table.
func TrainAction(c *cli.Context) error {
	cfg, log, p, err := setup(c, func(cfg *config.Config) {
		if c.IsSet(flagK) {
			cfg.Training.K = c.Int(flagK)
		}
		if c.IsSet(flagSubsamples) {
			cfg.Training.Subsamples = c.Int(flagSubsamples)
		}
		if c.IsSet(flagInit) {
			cfg.Training.Init = c.String(flagInit)
		}
		if c.IsSet(flagBackend) {
			cfg.Training.Backend = c.String(flagBackend)
		}
		if c.IsSet(flagSeed) {
			cfg.Training.Seed = c.Uint64(flagSeed)
		}
		if c.Bool(flagIntermediary) {
			cfg.Training.SaveIntermediate = true
		}
	})
	if err != nil {
		return err
	}

	var volumes []models.Volume
	for _, in := range c.StringSlice(flagInput) {
		vol, err := loadVolume(in)
		if err != nil {
			return errors.Wrapf(err, "failed to load %s", in)
		}
		log.Info("cli", "volume loaded", map[string]interface{}{"path": in, "slices": vol.Shape.Slices})
		volumes = append(volumes, vol)
	}

	tbl, err := p.Train(c.Context, volumes)
	if err != nil {
		return err
	}
	if err := centroids.SaveFile(c.String(flagOutput), tbl); err != nil {
		return err
	}
	log.Info("cli", "centroids saved", map[string]interface{}{
		"path":     c.String(flagOutput),
		"k":        tbl.K,
		"channels": tbl.Channels,
	})
	if cfg.Training.SaveIntermediate {
		log.Info("cli", "intermediate centroids saved", map[string]interface{}{
			"dir": filepath.Join(cfg.Output.IntermediaryDir, "centroids"),
		})
	}
	return nil
}

// LabelAction classifies a volume and writes the refined mask.
func LabelAction(c *cli.Context) error {
	_, log, p, err := setup(c, func(cfg *config.Config) {
		if c.Bool(flagIntermediary) {
			cfg.Output.SaveIntermediaryResults = true
		}
	})
	if err != nil {
		return err
	}

	table := centroids.Default()
	if path := c.String(flagCentroids); path != "" {
		if table, err = centroids.LoadFile(path); err != nil {
			return err
		}
	}
	if table.Channels != features.Channels {
		return errors.Wrapf(models.ErrShapeMismatch,
			"centroids have %d channels, the feature extractor produces %d", table.Channels, features.Channels)
	}

	vol, err := loadVolume(c.String(flagInput))
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", c.String(flagInput))
	}
	res, err := p.Label(c.Context, vol, table)
	if err != nil {
		return err
	}

	if err := volumeio.SaveMask(c.String(flagOutput), res.Mask); err != nil {
		return err
	}
	if path := c.String(flagLabels); path != "" {
		if err := volumeio.SaveLabels(path, res.Labels); err != nil {
			return err
		}
	}
	if dir := c.String(flagPreview); dir != "" {
		viewer, err := visualization.NewViewer(vol, visualization.DefaultWindowLow, visualization.DefaultWindowHigh)
		if err != nil {
			return err
		}
		n, err := viewer.SaveOverlaySequence(res.Mask, 0.5, dir)
		if err != nil {
			return err
		}
		log.Info("cli", "overlays saved", map[string]interface{}{"dir": dir, "slices": n})
	}
	return nil
}

// FeaturesAction writes the feature tensor of a volume.
func FeaturesAction(c *cli.Context) error {
	_, log, p, err := setup(c, nil)
	if err != nil {
		return err
	}
	vol, err := loadVolume(c.String(flagInput))
	if err != nil {
		return err
	}
	ft, include, err := p.Features(c.Context, vol)
	if err != nil {
		return err
	}
	if err := volumeio.SaveFeatures(c.String(flagOutput), ft); err != nil {
		return err
	}
	if path := c.String(flagMask); path != "" {
		if err := volumeio.SaveMask(path, include); err != nil {
			return err
		}
	}
	log.Info("cli", "features saved", map[string]interface{}{
		"path":     c.String(flagOutput),
		"channels": ft.Channels,
		"included": include.Count(),
	})
	return nil
}

// RefineAction filters an existing mask.
func RefineAction(c *cli.Context) error {
	_, log, p, err := setup(c, nil)
	if err != nil {
		return err
	}
	mask, err := volumeio.LoadMask(c.String(flagInput))
	if err != nil {
		return err
	}
	out, err := p.Refine(c.Context, mask)
	if err != nil {
		return err
	}
	log.Info("cli", "mask refined", map[string]interface{}{"before": mask.Count(), "after": out.Count()})
	return volumeio.SaveMask(c.String(flagOutput), out)
}

// ROIAction selects the slices and region of interest of a volume.
func ROIAction(c *cli.Context) error {
	cfg, log, p, err := setup(c, nil)
	if err != nil {
		return err
	}
	vol, err := loadVolume(c.String(flagInput))
	if err != nil {
		return err
	}

	var mask models.Mask
	if path := c.String(flagMask); path != "" {
		mask, err = volumeio.LoadMask(path)
	} else {
		mask, err = features.InclusionMask(vol, cfg.Labeling.MaskLower, cfg.Labeling.MaskUpper)
	}
	if err != nil {
		return err
	}

	out, selected, err := p.SelectROI(vol, mask)
	if err != nil {
		return err
	}
	log.Info("cli", "region of interest selected", map[string]interface{}{
		"first": selected[0],
		"last":  selected[len(selected)-1],
		"rows":  out.Shape.Rows,
		"cols":  out.Shape.Cols,
	})
	if err := volumeio.SaveVolume(c.String(flagOutput), out); err != nil {
		return err
	}
	if dir := c.String(flagPreview); dir != "" {
		viewer, err := visualization.NewViewer(out, visualization.DefaultWindowLow, visualization.DefaultWindowHigh)
		if err != nil {
			return err
		}
		return viewer.SaveSliceSequence("z", dir)
	}
	return nil
}

// EvaluateAction prints, and optionally saves, the segmentation scores.
func EvaluateAction(c *cli.Context) error {
	gtPath, predPath := c.String(flagGroundTruth), c.String(flagPrediction)
	gt, err := volumeio.LoadMask(gtPath)
	if err != nil {
		return err
	}
	pred, err := volumeio.LoadMask(predPath)
	if err != nil {
		return err
	}
	report, err := metrics.Evaluate(gtPath, predPath, gt, pred)
	if err != nil {
		return err
	}
	metrics.Render(c.App.Writer, report)

	out := c.String(flagOutput)
	if out == "" {
		return nil
	}
	if filepath.Ext(out) != ".csv" {
		return errors.Errorf("output file must be a .csv, received %s", out)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	return metrics.WriteCSV(f, report)
}

// ViewAction exports the planes of a volume along one axis.
func ViewAction(c *cli.Context) error {
	vol, err := loadVolume(c.String(flagInput))
	if err != nil {
		return err
	}
	viewer, err := visualization.NewViewer(vol, visualization.DefaultWindowLow, visualization.DefaultWindowHigh)
	if err != nil {
		return err
	}
	return viewer.SaveSliceSequence(c.String(flagAxis), c.String(flagOutput))
}

// ConfigAction writes the default configuration.
func ConfigAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = c.String(flagConfig)
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Default configuration written to %s\n", path)
	return nil
}
