// Command ctlungseg segments ground-glass opacities in lung CT volumes by
// nearest-centroid voxel labeling followed by region refinement.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig       = "config"
	flagVerbose      = "verbose"
	flagWorkers      = "workers"
	flagInput        = "input"
	flagOutput       = "output"
	flagCentroids    = "centroids"
	flagLabels       = "labels"
	flagMask         = "mask"
	flagPreview      = "preview"
	flagIntermediary = "save-intermediary"
	flagK            = "k"
	flagSubsamples   = "subsamples"
	flagInit         = "init"
	flagBackend      = "backend"
	flagSeed         = "seed"
	flagGroundTruth  = "gt"
	flagPrediction   = "pred"
	flagAxis         = "axis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ctlungseg: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ctlungseg",
		Usage: "label lung CT volumes and extract ground-glass opacity masks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagConfig,
				Value: "ctlungseg.yaml",
				Usage: "YAML configuration file (defaults apply when missing)",
			},
			&cli.BoolFlag{
				Name:  flagVerbose,
				Usage: "enable debug logging",
			},
			&cli.IntFlag{
				Name:  flagWorkers,
				Value: runtime.NumCPU(),
				Usage: "number of worker goroutines",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "train",
				Usage: "learn a centroid table from one or more volumes",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: flagInput, Required: true, Usage: "volume container or slice directory (repeatable)"},
					&cli.StringFlag{Name: flagOutput, Required: true, Usage: "centroid file (.yaml for a readable table)"},
					&cli.IntFlag{Name: flagK, Usage: "number of centroids"},
					&cli.IntFlag{Name: flagSubsamples, Usage: "number of subsamples"},
					&cli.StringFlag{Name: flagInit, Usage: "centroid seeding: random or ++"},
					&cli.StringFlag{Name: flagBackend, Usage: "k-means backend: lloyd or muesli"},
					&cli.Uint64Flag{Name: flagSeed, Usage: "random seed"},
					&cli.BoolFlag{Name: flagIntermediary, Usage: "save every per-subsample centroid table"},
				},
				Action: TrainAction,
			},
			{
				Name:  "label",
				Usage: "classify a volume and write the refined target mask",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagInput, Required: true, Usage: "volume container or slice directory"},
					&cli.StringFlag{Name: flagOutput, Required: true, Usage: "output mask container"},
					&cli.StringFlag{Name: flagCentroids, Usage: "centroid file (built-in table when empty)"},
					&cli.StringFlag{Name: flagLabels, Usage: "also write the full label volume here"},
					&cli.StringFlag{Name: flagPreview, Usage: "directory for PNG overlays of the mask"},
					&cli.BoolFlag{Name: flagIntermediary, Usage: "save PNG slices of every stage"},
				},
				Action: LabelAction,
			},
			{
				Name:  "features",
				Usage: "compute the normalized feature channels of a volume",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagInput, Required: true, Usage: "volume container or slice directory"},
					&cli.StringFlag{Name: flagOutput, Required: true, Usage: "output feature container"},
					&cli.StringFlag{Name: flagMask, Usage: "also write the intensity inclusion mask here"},
				},
				Action: FeaturesAction,
			},
			{
				Name:  "refine",
				Usage: "apply the configured region filters to a mask",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagInput, Required: true, Usage: "input mask container"},
					&cli.StringFlag{Name: flagOutput, Required: true, Usage: "output mask container"},
				},
				Action: RefineAction,
			},
			{
				Name:  "roi",
				Usage: "keep the slices holding a large enough region and crop them to it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagInput, Required: true, Usage: "volume container or slice directory"},
					&cli.StringFlag{Name: flagMask, Usage: "region mask container (intensity interval when empty)"},
					&cli.StringFlag{Name: flagOutput, Required: true, Usage: "output volume container"},
					&cli.StringFlag{Name: flagPreview, Usage: "directory for PNG images of the selected slices"},
				},
				Action: ROIAction,
			},
			{
				Name:  "evaluate",
				Usage: "score a predicted mask against ground truth",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagGroundTruth, Required: true, Usage: "ground truth mask container"},
					&cli.StringFlag{Name: flagPrediction, Required: true, Usage: "predicted mask container"},
					&cli.StringFlag{Name: flagOutput, Usage: "CSV file for the scores"},
				},
				Action: EvaluateAction,
			},
			{
				Name:  "view",
				Usage: "export the planes of a volume as PNG images",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagInput, Required: true, Usage: "volume container or slice directory"},
					&cli.StringFlag{Name: flagAxis, Value: "z", Usage: "x, y or z"},
					&cli.StringFlag{Name: flagOutput, Required: true, Usage: "output directory"},
				},
				Action: ViewAction,
			},
			{
				Name:      "config",
				Usage:     "write the default configuration",
				ArgsUsage: "[path]",
				Action:    ConfigAction,
			},
		},
	}
}
