// Package pipeline wires feature extraction, centroid training, voxel
// classification and mask refinement into the stages run by the command line.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"ctlungseg/internal/logger"
	"ctlungseg/internal/models"
	"ctlungseg/pkg/centroids"
	"ctlungseg/pkg/config"
	"ctlungseg/pkg/features"
	"ctlungseg/pkg/kmeans"
	"ctlungseg/pkg/labeling"
	"ctlungseg/pkg/reconstruction"
	"ctlungseg/pkg/regions"
	"ctlungseg/pkg/training"
	"ctlungseg/pkg/visualization"
	"ctlungseg/pkg/volumeio"
)

const component = "pipeline"

// Pipeline runs the segmentation stages with one configuration.
type Pipeline struct {
	cfg *config.Config
	log logger.Logger

	extractor     *features.Extractor
	classifier    *labeling.Classifier
	analyzer      *regions.Analyzer
	reconstructor *reconstruction.Reconstructor
}

// Result holds the outputs of Label.
type Result struct {
	// Labels is the classifier output; voxels outside the inclusion mask are
	// models.Unassigned
	Labels models.LabelVolume

	// Raw is the mask of voxels carrying the target label
	Raw models.Mask

	// Mask is Raw after refinement
	Mask models.Mask
}

// New validates cfg and builds the stage components.
func New(cfg *config.Config, log logger.Logger) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	analyzer := regions.NewAnalyzer(cfg.Labeling.Workers)
	if cfg.Refinement.Background == "border" {
		analyzer.Background = regions.BackgroundBorder
	}
	if cfg.Refinement.TopNPolicy == "retainAvailable" {
		analyzer.TopN = regions.TopNRetainAvailable
	}
	analyzer.Strict = cfg.Refinement.Strict

	extractor := features.NewExtractor(cfg.Labeling.Workers, log)
	extractor.Radius = cfg.Features.Radius
	extractor.EqualizationRadius = cfg.Features.EqualizationRadius
	extractor.Gamma = cfg.Features.Gamma

	return &Pipeline{
		cfg:           cfg,
		log:           logger.OrNop(log),
		extractor:     extractor,
		classifier:    labeling.NewClassifier(cfg.Labeling.Workers),
		analyzer:      analyzer,
		reconstructor: reconstruction.NewReconstructor(cfg.Labeling.Workers),
	}, nil
}

// Analyzer returns the region analyzer configured for this pipeline.
func (p *Pipeline) Analyzer() *regions.Analyzer {
	return p.analyzer
}

// Features extracts the feature tensor and the inclusion mask of vol.
func (p *Pipeline) Features(ctx context.Context, vol models.Volume) (models.FeatureTensor, models.Mask, error) {
	ft, err := p.extractor.Extract(ctx, vol)
	if err != nil {
		return models.FeatureTensor{}, models.Mask{}, errors.Wrap(err, "failed to extract features")
	}
	include, err := features.InclusionMask(vol, p.cfg.Labeling.MaskLower, p.cfg.Labeling.MaskUpper)
	if err != nil {
		return models.FeatureTensor{}, models.Mask{}, err
	}
	return ft, include, nil
}

// Train learns a centroid table from the included voxels of every volume.
func (p *Pipeline) Train(ctx context.Context, volumes []models.Volume) (centroids.Table, error) {
	if len(volumes) == 0 {
		return centroids.Table{}, errors.Wrap(models.ErrConfiguration, "no training volumes")
	}
	tc := p.cfg.Training

	tensors := make([]models.FeatureTensor, len(volumes))
	masks := make([]*models.Mask, len(volumes))
	for i, vol := range volumes {
		ft, include, err := p.Features(ctx, vol)
		if err != nil {
			return centroids.Table{}, errors.Wrapf(err, "volume %d", i)
		}
		tensors[i], masks[i] = ft, &include
	}
	pop, err := training.NewPopulation(tensors, masks)
	if err != nil {
		return centroids.Table{}, err
	}

	init, err := kmeans.ParseInit(tc.Init)
	if err != nil {
		return centroids.Table{}, err
	}
	clusterer, err := kmeans.New(tc.Backend, tc.Seed, tc.Attempts)
	if err != nil {
		return centroids.Table{}, err
	}
	if tc.Backend == "muesli" {
		p.log.Warning(component, "muesli backend caps iterations internally, maxIterations is not applied", map[string]interface{}{
			"maxIterations": tc.MaxIterations,
		})
	}

	trainer := training.NewTrainer(clusterer, p.log, tc.Workers, tc.Seed)
	if tc.SaveIntermediate {
		dir := filepath.Join(p.cfg.Output.IntermediaryDir, "centroids")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return centroids.Table{}, errors.Wrap(err, "failed to create intermediary directory")
		}
		trainer.OnSubsample = func(i int, tbl centroids.Table) error {
			return centroids.Save(filepath.Join(dir, fmt.Sprintf("subsample_%03d.ctrd", i)), tbl)
		}
	}

	return trainer.Train(ctx, pop, training.Params{
		K:          tc.K,
		Subsamples: tc.Subsamples,
		Init:       init,
		Criteria:   kmeans.Criteria{MaxIterations: tc.MaxIterations, Epsilon: tc.Epsilon},
	})
}

// Label classifies vol against table, extracts the target label and refines
// the resulting mask.
func (p *Pipeline) Label(ctx context.Context, vol models.Volume, table centroids.Table) (Result, error) {
	if err := table.Validate(); err != nil {
		return Result{}, err
	}
	target := p.cfg.Labeling.TargetLabel
	if target >= table.K {
		return Result{}, errors.Wrapf(models.ErrConfiguration, "target label %d outside a table of %d centroids", target, table.K)
	}
	start := time.Now()

	// Step 1: features and inclusion mask
	p.log.Info(component, "extracting features", map[string]interface{}{"shape": fmt.Sprintf("%+v", vol.Shape)})
	ft, include, err := p.Features(ctx, vol)
	if err != nil {
		return Result{}, err
	}
	p.saveIntermediaryResult("01_inclusion", include)

	// Step 2: nearest-centroid classification
	p.log.Info(component, "classifying voxels", map[string]interface{}{"k": table.K, "included": include.Count()})
	labels, err := p.classifier.ClassifyMasked(ft, table, include)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to classify voxels")
	}
	p.log.Debug(component, "label histogram", map[string]interface{}{
		"counts": labeling.Histogram(labels, table.K),
	})
	p.saveIntermediaryResult("02_labels", labels)

	raw := labeling.Binarize(labels, int32(target))
	p.saveIntermediaryResult("03_target", raw)

	// Step 3: refinement
	refined, err := p.Refine(ctx, raw)
	if err != nil {
		return Result{}, err
	}
	p.saveIntermediaryResult("04_refined", refined)

	p.log.Info(component, "labeling complete", map[string]interface{}{
		"voxels":  refined.Count(),
		"elapsed": time.Since(start).String(),
	})
	return Result{Labels: labels, Raw: raw, Mask: refined}, nil
}

// Refine applies the configured region filters to mask, in order: median
// smoothing, small component removal, per-slice top-N, largest 3-D component, hole filling,
// gap filling.
func (p *Pipeline) Refine(ctx context.Context, mask models.Mask) (models.Mask, error) {
	rc := p.cfg.Refinement
	out := mask
	var err error

	if rc.Smooth {
		if out, err = features.MedianMask(ctx, out, rc.SmoothRadius, p.cfg.Labeling.Workers); err != nil {
			return models.Mask{}, errors.Wrap(err, "failed to smooth mask")
		}
		p.log.Debug(component, "mask smoothed", map[string]interface{}{"voxels": out.Count()})
	}
	if rc.MinArea > 0 {
		if out, err = p.analyzer.RemoveSmall(out, rc.MinArea, regions.Conn8); err != nil {
			return models.Mask{}, errors.Wrap(err, "failed to remove small regions")
		}
		p.log.Debug(component, "small regions removed", map[string]interface{}{"voxels": out.Count()})
	}
	if err := ctx.Err(); err != nil {
		return models.Mask{}, err
	}
	if rc.TopN > 0 {
		if out, err = p.analyzer.SelectTopN(out, rc.TopN); err != nil {
			return models.Mask{}, errors.Wrap(err, "failed to select top regions")
		}
	}
	if rc.SelectLargest {
		if out, err = p.analyzer.SelectLargest(out); err != nil {
			return models.Mask{}, errors.Wrap(err, "failed to select the largest region")
		}
	}
	if err := ctx.Err(); err != nil {
		return models.Mask{}, err
	}
	if rc.FillHoles {
		if out, err = p.analyzer.FillHoles(out); err != nil {
			return models.Mask{}, errors.Wrap(err, "failed to fill holes")
		}
	}
	if rc.FillGaps {
		if out, err = p.reconstructor.Fill(out); err != nil {
			return models.Mask{}, errors.Wrap(err, "failed to fill slice gaps")
		}
	}
	if out.Count() == 0 && mask.Count() > 0 {
		p.log.Warning(component, "refinement removed every voxel", map[string]interface{}{"input": mask.Count()})
	}
	return out, nil
}

// SelectROI keeps the slices whose region of interest in mask exceeds the
// configured area and crops them to the union of those regions.
func (p *Pipeline) SelectROI(vol models.Volume, mask models.Mask) (models.Volume, []int, error) {
	if vol.Shape != mask.Shape {
		return models.Volume{}, nil, errors.Wrapf(models.ErrShapeMismatch, "volume %+v and mask %+v", vol.Shape, mask.Shape)
	}
	stats, err := p.analyzer.Stats2D(mask)
	if err != nil {
		return models.Volume{}, nil, err
	}

	var selected []int
	var union regions.Rect
	for s, st := range stats {
		roi, ok := p.analyzer.ROI(st)
		if !ok || roi.Area() <= p.cfg.Selection.MinArea {
			continue
		}
		if len(selected) == 0 {
			union = roi
		} else {
			union = union.Union(roi)
		}
		selected = append(selected, s)
	}
	if len(selected) == 0 {
		return models.Volume{}, nil, errors.Wrapf(models.ErrDegenerateInput,
			"no slice has a region of interest above %d pixels", p.cfg.Selection.MinArea)
	}

	out := models.NewVolume(models.Shape{
		Slices: len(selected),
		Rows:   union.Bottom - union.Top,
		Cols:   union.Right - union.Left,
	})
	for i, s := range selected {
		sub, err := visualization.CropVolume(vol, union, s, s+1)
		if err != nil {
			return models.Volume{}, nil, err
		}
		copy(out.Slice(i), sub.Data)
	}
	p.log.Info(component, "slices selected", map[string]interface{}{
		"selected": len(selected),
		"total":    vol.Shape.Slices,
	})
	return out, selected, nil
}

// saveIntermediaryResult writes one PNG per slice of a stage. Failures are
// logged and never abort the run.
func (p *Pipeline) saveIntermediaryResult(stage string, data interface{}) {
	if !p.cfg.Output.SaveIntermediaryResults {
		return
	}
	stageDir := filepath.Join(p.cfg.Output.IntermediaryDir, stage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		p.log.Error(component, errors.Wrap(err, "failed to create intermediary directory"), nil)
		return
	}

	switch v := data.(type) {
	case models.Mask:
		for s := 0; s < v.Shape.Slices; s++ {
			img, err := visualization.RenderMask(v, s)
			if err == nil {
				err = visualization.SaveSlice(img, filepath.Join(stageDir, fmt.Sprintf("%03d.png", s)))
			}
			if err != nil {
				p.log.Warning(component, "failed to save intermediary slice", map[string]interface{}{
					"stage": stage, "slice": s, "error": err.Error(),
				})
			}
		}
		if err := volumeio.SaveMask(filepath.Join(stageDir, "mask.ctv.gz"), v); err != nil {
			p.log.Error(component, err, map[string]interface{}{"stage": stage})
		}
	case models.LabelVolume:
		for s := 0; s < v.Shape.Slices; s++ {
			img, err := visualization.RenderLabels(v, s)
			if err == nil {
				err = visualization.SaveSlice(img, filepath.Join(stageDir, fmt.Sprintf("%03d.png", s)))
			}
			if err != nil {
				p.log.Warning(component, "failed to save intermediary slice", map[string]interface{}{
					"stage": stage, "slice": s, "error": err.Error(),
				})
			}
		}
		if err := volumeio.SaveLabels(filepath.Join(stageDir, "labels.ctv.gz"), v); err != nil {
			p.log.Error(component, err, map[string]interface{}{"stage": stage})
		}
	}
}
